package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andrebq/peerbus/bus/ids"
	"github.com/andrebq/peerbus/internal/appshell"
	"github.com/andrebq/peerbus/peer"
)

const pingTimeout = 5 * time.Second

// Shell returns a tengo shell with the bus and echo modules. Output of echo
// goes to w.
func (s *Server) Shell(ctx context.Context, w io.Writer) *appshell.Shell {
	sh := appshell.New(true)
	sh.AddModules(appshell.EchoModule(w, ""), BusModule(ctx, s.node))
	return sh
}

// BusModule exposes node to scripts as the "bus" module.
func BusModule(ctx context.Context, node *peer.Node) *appshell.Module {
	mod := appshell.NewModule("bus")
	mod.AddFuncRaw("status", appshell.DynFuncR1(func(args ...any) (any, error) {
		return statusMap(node.Status()), nil
	}))
	mod.AddFuncRaw("peers", appshell.DynFuncR1(func(args ...any) (any, error) {
		return peerList(node.Status()), nil
	}))
	mod.AddFuncRaw("listen", appshell.FuncNR1(func(args ...int64) (string, error) {
		if len(args) != 1 {
			return "", errors.New("listen: expecting a port")
		}
		addr, err := node.Listen("", int(args[0]))
		if err != nil {
			return "", err
		}
		return addr.String(), nil
	}))
	mod.AddFuncRaw("connect", appshell.FuncNR1(func(args ...string) (string, error) {
		if len(args) == 0 {
			return "", errors.New("connect: expecting at least one candidate")
		}
		remote, err := node.Connect(ctx, args...)
		if err != nil {
			return "", err
		}
		return remote.String(), nil
	}))
	mod.AddFuncRaw("say", appshell.FuncNR0(func(args ...string) error {
		if len(args) != 1 {
			return errors.New("say: expecting one text")
		}
		return node.Say(args[0])
	}))
	mod.AddFuncRaw("ping", appshell.DynFuncR1(func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, errors.New("ping: expecting an address")
		}
		to, ok := args[0].(int64)
		if !ok || to < 0 || to > int64(^uint32(0)) {
			return nil, fmt.Errorf("ping: invalid address %v", args[0])
		}
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		rtt, from, err := node.Ping.Probe(pctx, ids.RoutingAddress(to))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"from": int64(from),
			"rtt":  rtt.String(),
			"ms":   float64(rtt) / float64(time.Millisecond),
		}, nil
	}))
	mod.AddFuncRaw("newid", appshell.DynFuncR1(func(args ...any) (any, error) {
		return int64(node.NewID()), nil
	}))
	return mod
}

func statusMap(st peer.Status) map[string]any {
	return map[string]any{
		"address":     int64(st.Address),
		"authority":   int64(st.Authority),
		"isAuthority": st.IsAuthority,
		"leased":      int64(st.Leased),
		"fallbacks":   int64(st.Fallbacks),
		"peers":       int64(len(st.Peers)),
	}
}

func peerList(st peer.Status) []any {
	out := make([]any, 0, len(st.Peers))
	for _, p := range st.Peers {
		out = append(out, map[string]any{
			"handle":   int64(p.Handle),
			"address":  int64(p.Address),
			"state":    p.State.String(),
			"remote":   p.Remote,
			"outbound": p.Outbound,
		})
	}
	return out
}
