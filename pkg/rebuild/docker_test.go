package rebuild_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/solo-io/kubedebug/pkg/rebuild"
)

var _ = Describe("Docker", func() {
	var (
		dir    string
		docker *rebuild.Docker
		ref    rebuild.ImageRef
	)

	// fakeDocker installs a docker stand-in that records its arguments and
	// exits with code.
	fakeDocker := func(code string) {
		script := "#!/bin/sh\necho \"$@\" >> " + filepath.Join(dir, "args") + "\necho step 1/2\necho failed to solve >&2\nexit " + code + "\n"
		p := filepath.Join(dir, "docker")
		Expect(ioutil.WriteFile(p, []byte(script), 0755)).To(Succeed())
		docker.Binary = p
	}

	args := func() string {
		b, err := ioutil.ReadFile(filepath.Join(dir, "args"))
		Expect(err).NotTo(HaveOccurred())
		return string(b)
	}

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "docker")
		Expect(err).NotTo(HaveOccurred())
		docker = rebuild.NewDocker()
		ref = rebuild.ImageRef{Repository: "registry.local/app", Tag: "kubedebug-0123abcd"}
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("should build with the given dockerfile and context", func() {
		fakeDocker("0")
		Expect(docker.Build(context.Background(), "build/Dockerfile", ".", ref)).To(Succeed())
		Expect(args()).To(Equal("build -f build/Dockerfile -t registry.local/app:kubedebug-0123abcd .\n"))
	})

	It("should push the tag", func() {
		fakeDocker("0")
		Expect(docker.Push(context.Background(), ref)).To(Succeed())
		Expect(args()).To(Equal("push registry.local/app:kubedebug-0123abcd\n"))
	})

	It("should report the tail of the output on failure", func() {
		fakeDocker("1")
		err := docker.Build(context.Background(), "Dockerfile", ".", ref)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("failed to solve"))
	})
})
