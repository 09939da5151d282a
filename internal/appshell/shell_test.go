package appshell_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/andrebq/peerbus/internal/appshell"
	"github.com/d5/tengo/v2"
)

func TestSimple(t *testing.T) {

	shell := appshell.New(false)
	logMod := appshell.NewModule("log")
	var msg string
	logMod.AddFuncRaw("info", appshell.DynFuncNR0(func(args ...any) error {
		msg = fmt.Sprint(args...)
		return nil
	}))
	appMod := appshell.NewModule("salute")
	appMod.AddValue("name", "alice")
	appMod.AddFuncRaw("salute", func(args ...tengo.Object) (tengo.Object, error) {
		return tengo.FromInterface(fmt.Sprintf("Hello: %v", tengo.ToInterface(args[0])))
	})
	shell.AddModules(logMod, appMod)
	output, err := shell.Eval(context.Background(), `
		log := import("log")
		salute := import("salute")
		log.info(salute.salute(salute.name))

		return salute.salute("bob")
	`)
	if err != nil {
		t.Fatal(err)
	} else if output, ok := output.(string); !ok {
		t.Fatalf("output should be a string but got: %#v", output)
	} else if output != "Hello: bob" {
		t.Fatal("Output does not match expected outcome", output)
	}

	if msg != "Hello: alice" {
		t.Fatal("msg does not match expected outcome")
	}
}

func TestServe(t *testing.T) {
	shell := appshell.New(false)
	mod := appshell.NewModule("calc")
	mod.AddFuncRaw("sum", appshell.FuncNR1(func(args ...int64) (int64, error) {
		var total int64
		for _, v := range args {
			total += v
		}
		return total, nil
	}))
	shell.AddModules(mod)

	input := strings.NewReader(`calc := import("calc"); return calc.sum(1, 2, 3)

if true {
	return "multi"
}
calc := import("calc"); return calc.sum("x")
`)
	var out bytes.Buffer
	if err := shell.Serve(context.Background(), input, &out, ""); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expecting three outputs got %q", out.String())
	}
	if lines[0] != "6" || lines[1] != `"multi"` || !strings.HasPrefix(lines[2], "error:") {
		t.Fatalf("Unexpected output %q", lines)
	}
}
