package peer

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/andrebq/peerbus/console"
	"github.com/andrebq/peerbus/internal/config"
	"github.com/andrebq/peerbus/internal/flagutil"
	"github.com/andrebq/peerbus/peer"
	"github.com/andrebq/peerbus/rendezvous"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "peer",
		Usage: "Commands to run a bus peer",
		Subcommands: []*cli.Command{
			runCmd(),
		},
	}
}

func runCmd() *cli.Command {
	envPrefix := flagutil.Prefix("peer")
	cfg := config.DefaultPeer()
	var connect cli.StringSlice
	return &cli.Command{
		Name:  "run",
		Usage: "Starts a peer, optionally as the id authority, and connects it to the others",
		Flags: []cli.Flag{
			flagutil.Bool(&cfg.Authority, "authority", []string{"a"}, envPrefix, "Act as the id authority, exactly one peer per bus should", false),
			flagutil.String(&cfg.Listen, "listen", []string{"l"}, envPrefix, "host:port to accept peers on", false),
			flagutil.StringSlice(&connect, "connect", nil, envPrefix, "Candidate endpoints of an existing peer, tried in order", false),
			flagutil.Duration(&cfg.Tick, "tick", nil, envPrefix, "Interval between bus drains", false),
			flagutil.Duration(&cfg.HandshakeTimeout, "handshake-timeout", nil, envPrefix, "How long a connection may wait for the welcome", false),
			flagutil.Duration(&cfg.DialTimeout, "dial-timeout", nil, envPrefix, "Timeout of each connection attempt", false),
			flagutil.String(&cfg.MetricsAddr, "metrics-addr", nil, envPrefix, "Address to serve /metrics on, disabled when empty", false),
			flagutil.String(&cfg.Rendezvous.URL, "rendezvous", []string{"r"}, envPrefix, "Base URL of a rendezvous service used to find peers", false),
			flagutil.String(&cfg.Rendezvous.Session, "session", nil, envPrefix, "Rendezvous session to join, a new one is created when empty", false),
			flagutil.String(&cfg.Console.Addr, "console-addr", nil, envPrefix, "Address of the SSH console, disabled when empty", false),
			flagutil.String(&cfg.Console.HostKey, "console-host-key", nil, envPrefix, "Host key of the SSH console, generated when missing", false),
			flagutil.String(&cfg.Console.AuthorizedKeys, "console-authorized-keys", nil, envPrefix, "Keys allowed to open the console", false),
			flagutil.Bool(&cfg.Console.AllowAnyKey, "console-allow-any-key", nil, envPrefix, "Accept every key on the console", false),
		},
		Action: func(ctx *cli.Context) error {
			final, err := resolve(ctx, cfg, connect.Value())
			if err != nil {
				return err
			}
			return run(ctx.Context, final)
		},
	}
}

// resolve applies the config file over the defaults and then every flag the
// user set explicitly.
func resolve(ctx *cli.Context, flags config.Peer, connect []string) (config.Peer, error) {
	cfg := config.DefaultPeer()
	if err := config.LoadPeer(ctx.String("config"), &cfg); err != nil {
		return cfg, err
	}
	set := func(name string, apply func()) {
		if ctx.IsSet(name) {
			apply()
		}
	}
	set("authority", func() { cfg.Authority = flags.Authority })
	set("listen", func() { cfg.Listen = flags.Listen })
	set("connect", func() { cfg.Connect = connect })
	set("tick", func() { cfg.Tick = flags.Tick })
	set("handshake-timeout", func() { cfg.HandshakeTimeout = flags.HandshakeTimeout })
	set("dial-timeout", func() { cfg.DialTimeout = flags.DialTimeout })
	set("metrics-addr", func() { cfg.MetricsAddr = flags.MetricsAddr })
	set("rendezvous", func() { cfg.Rendezvous.URL = flags.Rendezvous.URL })
	set("session", func() { cfg.Rendezvous.Session = flags.Rendezvous.Session })
	set("console-addr", func() { cfg.Console.Addr = flags.Console.Addr })
	set("console-host-key", func() { cfg.Console.HostKey = flags.Console.HostKey })
	set("console-authorized-keys", func() { cfg.Console.AuthorizedKeys = flags.Console.AuthorizedKeys })
	set("console-allow-any-key", func() { cfg.Console.AllowAnyKey = flags.Console.AllowAnyKey })
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Peer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	node, err := peer.New(peer.Config{
		Authority:        cfg.Authority,
		Tick:             cfg.Tick,
		HandshakeTimeout: cfg.HandshakeTimeout,
		DialTimeout:      cfg.DialTimeout,
		Registerer:       reg,
	})
	if err != nil {
		return err
	}

	host, portStr, _ := net.SplitHostPort(cfg.Listen)
	port, _ := strconv.Atoi(portStr)
	bound, err := node.Listen(host, port)
	if err != nil {
		return err
	}
	slog.Info("Peer listening", "addr", bound.String(), "authority", cfg.Authority)

	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, reg)
	}
	if cfg.Console.Addr != "" {
		srv, err := console.New(node, console.Config{
			Addr:           cfg.Console.Addr,
			HostKey:        cfg.Console.HostKey,
			AuthorizedKeys: cfg.Console.AuthorizedKeys,
			AllowAnyKey:    cfg.Console.AllowAnyKey,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				slog.Error("Console stopped", "err", err)
			}
		}()
	}

	candidates := cfg.Connect
	if cfg.Rendezvous.URL != "" {
		session := uuid.Nil
		if cfg.Rendezvous.Session != "" {
			session = uuid.MustParse(cfg.Rendezvous.Session)
		}
		joined, err := rendezvous.Bootstrap(ctx, rendezvous.NewClient(cfg.Rendezvous.URL, nil), bound.(*net.TCPAddr).Port, session, slog.Default())
		if err != nil {
			slog.Error("Rendezvous failed", "url", cfg.Rendezvous.URL, "err", err)
		} else {
			defer joined.Close()
			candidates = append(candidates, joined.Candidates...)
		}
	}
	if len(candidates) > 0 {
		remote, err := node.Connect(ctx, candidates...)
		if err != nil {
			slog.Error("Unable to reach any candidate", "candidates", candidates, "err", err)
		} else {
			slog.Info("Connected", "remote", remote.String())
		}
	}

	return <-done
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := http.Server{
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		ReadHeaderTimeout: time.Second * 10,
		MaxHeaderBytes:    1_000_000,
		Addr:              addr,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		timeout, cancel := context.WithTimeout(context.Background(), time.Second*10)
		srv.Shutdown(timeout)
		cancel()
	}()
	slog.Info("Starting metrics server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", "addr", addr, "err", err)
	}
}
