package appshell

import (
	"encoding/json"
	"fmt"
	"io"
)

// EchoModule writes its arguments to w, one JSON document per call.
func EchoModule(w io.Writer, alias string) *Module {
	if alias == "" {
		alias = "echo"
	}
	echoMod := NewModule(alias)
	echoMod.AddFuncRaw("print", DynFuncNR0(func(args ...any) error {
		strs := make([]string, len(args))
		for i, v := range args {
			strs[i] = fmt.Sprintf("%v", v)
		}
		return json.NewEncoder(w).Encode(strs)
	}))
	echoMod.AddFuncRaw("printJSON", DynFuncNR0(func(args ...any) error {
		switch len(args) {
		case 0:
			return nil
		case 1:
			return json.NewEncoder(w).Encode(args[0])
		default:
			return json.NewEncoder(w).Encode(args)
		}
	}))

	return echoMod
}
