package rendezvous

import (
	"github.com/andrebq/peerbus/internal/config"
	"github.com/andrebq/peerbus/internal/flagutil"
	"github.com/andrebq/peerbus/internal/store"
	"github.com/andrebq/peerbus/rendezvous"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "rendezvous",
		Usage: "Commands of the rendezvous service",
		Subcommands: []*cli.Command{
			serveCmd(),
		},
	}
}

func serveCmd() *cli.Command {
	envPrefix := flagutil.Prefix("rendezvous")
	cfg := config.DefaultRendezvous()
	var hosts cli.StringSlice
	return &cli.Command{
		Name:  "serve",
		Usage: "Starts the rendezvous HTTP service",
		Flags: []cli.Flag{
			flagutil.String(&cfg.Addr, "bind-addr", []string{"b"}, envPrefix, "Address to listen for incoming requests", false),
			flagutil.StringSlice(&hosts, "host", nil, envPrefix, "Hosts to open discovery listeners on, defaults to the first IPv4 and IPv6 address", false),
			flagutil.String(&cfg.DataDir, "data-dir", nil, envPrefix, "Directory of the registry database, kept in memory when empty", false),
		},
		Action: func(ctx *cli.Context) error {
			final := config.DefaultRendezvous()
			if err := config.LoadRendezvous(ctx.String("config"), &final); err != nil {
				return err
			}
			if ctx.IsSet("bind-addr") {
				final.Addr = cfg.Addr
			}
			if ctx.IsSet("host") {
				final.Hosts = hosts.Value()
			}
			if ctx.IsSet("data-dir") {
				final.DataDir = cfg.DataDir
			}
			if err := final.Validate(); err != nil {
				return err
			}

			var st *store.Store
			var err error
			if final.DataDir == "" {
				st, err = store.OpenMemory()
			} else {
				st, err = store.Open(final.DataDir)
			}
			if err != nil {
				return err
			}
			defer st.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			srv := rendezvous.NewServer(st, rendezvous.Config{
				Hosts:    final.Hosts,
				Registry: reg,
			})
			return srv.ListenAndServe(ctx.Context, final.Addr)
		},
	}
}
