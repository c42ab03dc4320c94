// Command calc is a small HTTP service used as a debug target: deploy it,
// run kubedebug against it, edit a handler and watch the pod get replaced.
package main

import (
	"fmt"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
)

type Calculator struct {
	Op1, Op2 int
	IsAdd    bool
}

func (c Calculator) Result() int {
	if c.IsAdd {
		return c.Op1 + c.Op2
	}
	return c.Op1 - c.Op2
}

func main() {
	http.HandleFunc("/calc", handler)
	log.Fatal(http.ListenAndServe(":8080", nil))
}

func handler(w http.ResponseWriter, r *http.Request) {
	op1, err := strconv.Atoi(r.FormValue("op1"))
	if err != nil {
		http.Error(w, "op1: "+err.Error(), http.StatusBadRequest)
		return
	}
	op2, err := strconv.Atoi(r.FormValue("op2"))
	if err != nil {
		http.Error(w, "op2: "+err.Error(), http.StatusBadRequest)
		return
	}
	calc := Calculator{Op1: op1, Op2: op2, IsAdd: r.FormValue("optype") != "subtract"}
	log.WithField("calc", calc).Info("calculating")
	fmt.Fprintln(w, calc.Result())
}
