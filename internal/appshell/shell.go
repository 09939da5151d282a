package appshell

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/parser"
	"github.com/d5/tengo/v2/stdlib"
)

type (
	Shell struct {
		modules *tengo.ModuleMap
	}
)

func New(withStdlib bool) *Shell {
	s := &Shell{
		modules: tengo.NewModuleMap(),
	}
	if withStdlib {
		s.modules.AddMap(stdlib.GetModuleMap(stdlib.AllModuleNames()...))
	}
	return s
}

func (s *Shell) AddModules(m ...*Module) {
	for _, v := range m {
		s.modules.Add(v.name, v.tengoModule)
	}
}

// Eval runs code as the body of a function, the value it returns is the
// output.
func (s *Shell) Eval(ctx context.Context, code string) (any, error) {
	sc := tengo.NewScript([]byte(wrap(code)))
	sc.EnableFileImport(false)
	sc.SetImports(s.modules)
	result, err := sc.RunContext(ctx)
	if err != nil {
		return nil, err
	}
	output := result.Get("output")
	if output.IsUndefined() {
		return nil, nil
	}
	return tengo.ToInterface(output.Object()), nil
}

func (s *Shell) ValidScript(input string) bool {
	fileSet := parser.NewFileSet()
	srcFile := fileSet.AddFile("(main)", -1, len(input))
	p := parser.NewParser(srcFile, []byte(input), nil)
	_, err := p.ParseFile()
	return err == nil
}

// Serve reads scripts from r until it is exhausted or ctx is done. Lines are
// accumulated until they parse, then evaluated; outputs are written to w as
// JSON and errors as "error: ..." lines.
func (s *Shell) Serve(ctx context.Context, r io.Reader, w io.Writer, prompt string) error {
	scanner := bufio.NewScanner(r)
	var pending strings.Builder
	fmt.Fprint(w, prompt)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pending.WriteString(scanner.Text())
		pending.WriteString("\n")
		code := pending.String()
		if strings.TrimSpace(code) == "" {
			pending.Reset()
			fmt.Fprint(w, prompt)
			continue
		}
		if !s.ValidScript(wrap(code)) {
			continue
		}
		pending.Reset()
		if err := s.Print(ctx, w, code); err != nil {
			return err
		}
		fmt.Fprint(w, prompt)
	}
	return scanner.Err()
}

// Print evaluates code and writes its outcome to w. Only write failures are
// returned.
func (s *Shell) Print(ctx context.Context, w io.Writer, code string) error {
	out, err := s.Eval(ctx, code)
	if err != nil {
		_, err = fmt.Fprintf(w, "error: %v\n", err)
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(out)
}

func wrap(code string) string {
	return fmt.Sprintf("output := (func() {\n%v\n})()", code)
}
