package main

import (
	"fmt"
	"os"

	"github.com/solo-io/kubedebug/pkg/kubedebug"
	"github.com/solo-io/kubedebug/pkg/version"
)

func main() {
	app := kubedebug.App(version.Version)
	if err := app.Execute(); err != nil {
		fmt.Println(kubedebug.ExitMessage(err))
		os.Exit(1)
	}
}
