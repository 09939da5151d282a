package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/andrebq/peerbus/cmd/peerbus/peer"
	"github.com/andrebq/peerbus/cmd/peerbus/rendezvous"
	"github.com/andrebq/peerbus/internal/commonpaths"
	"github.com/andrebq/peerbus/internal/flagutil"
	"github.com/urfave/cli/v2"
)

func Instance() *cli.App {
	loglevel := "info"
	configFile := commonpaths.DefaultPeerConfig()
	return &cli.App{
		Name:  "peerbus",
		Usage: "Peer to peer message bus",
		Commands: []*cli.Command{
			peer.Cmd(),
			rendezvous.Cmd(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     []string{"PEERBUS_LOG_LEVEL"},
				Hidden:      false,
				Destination: &loglevel,
				Value:       loglevel,
			},
			flagutil.String(&configFile, "config", []string{"c"}, flagutil.Prefix(), "TOML file with peer and rendezvous settings", false),
		},
		Before: func(ctx *cli.Context) error {
			level := slog.LevelInfo
			switch strings.ToLower(loglevel) {
			case "debug":
				level = slog.LevelDebug
			case "warn":
				level = slog.LevelWarn
			case "error":
				level = slog.LevelError
			}
			logger := slog.New(slog.NewTextHandler(ctx.App.ErrWriter, &slog.HandlerOptions{
				Level: level,
			}))
			slog.SetDefault(logger)
			return nil
		},
	}
}

func Run(ctx context.Context, args []string) error {
	app := Instance()
	return app.RunContext(ctx, args)
}
