// Package peer assembles the bus components into a running node.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/andrebq/peerbus/bus/dispatch"
	"github.com/andrebq/peerbus/bus/ids"
	"github.com/andrebq/peerbus/bus/ping"
	"github.com/andrebq/peerbus/bus/registry"
	"github.com/andrebq/peerbus/bus/transport"
	"github.com/andrebq/peerbus/bus/wire"
	"github.com/andrebq/peerbus/internal/metrics"
	"github.com/andrebq/peerbus/internal/versionhash"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	Config struct {
		Authority bool
		// Version defaults to the hash of the running executable.
		Version          versionhash.Hash
		Tick             time.Duration
		HandshakeTimeout time.Duration
		DialTimeout      time.Duration

		Logger     *slog.Logger
		Registerer prometheus.Registerer
	}

	Node struct {
		log *slog.Logger
		cfg Config

		Registry  *registry.Registry
		Bus       *dispatch.Bus
		Allocator *ids.Allocator
		Owners    *ids.Owners
		Transport *transport.Transport
		Ping      *ping.Service
	}

	Status struct {
		Address     ids.RoutingAddress
		Authority   ids.RoutingAddress
		IsAuthority bool
		Leased      int
		Fallbacks   uint64
		Peers       []transport.PeerInfo
	}
)

func New(cfg Config) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = dispatch.DefaultTick
	}
	if cfg.Version == (versionhash.Hash{}) {
		v, err := versionhash.Executable()
		if err != nil {
			return nil, fmt.Errorf("peer: unable to compute version: %w", err)
		}
		cfg.Version = v
	}

	n := &Node{log: cfg.Logger, cfg: cfg}
	n.Registry = registry.New()
	RegisterMessages(n.Registry)
	n.Bus = dispatch.New(cfg.Logger, metrics.NewBus(cfg.Registerer))
	n.Allocator = ids.NewAllocator(cfg.Logger)
	n.Owners = ids.NewOwners()
	if cfg.Registerer != nil {
		metrics.RegisterAllocator(cfg.Registerer, n.Allocator)
	}
	n.Transport = transport.New(transport.Config{
		Version:          cfg.Version,
		Authority:        cfg.Authority,
		HandshakeTimeout: cfg.HandshakeTimeout,
		DialTimeout:      cfg.DialTimeout,
		Logger:           cfg.Logger,
		Metrics:          metrics.NewTransport(cfg.Registerer),
	}, n.Registry, n.Bus, n.Allocator, n.Owners)
	n.Ping = ping.New(cfg.Logger, n.Bus, n.Transport)

	dispatch.Subscribe(n.Bus, dispatch.ReceiverFunc[*BroadcastText](func(m *BroadcastText, from ids.RoutingAddress) (bool, error) {
		n.log.Info("Broadcast", "from", from, "text", m.Text)
		return true, nil
	}))
	n.Bus.OnUnhandled(func(msg wire.Message, from ids.RoutingAddress) {
		n.log.Debug("Unhandled message", "type", fmt.Sprintf("%T", msg), "from", from)
	})
	return n, nil
}

// Listen accepts peers on host:port.
func (n *Node) Listen(host string, port int) (net.Addr, error) {
	return n.Transport.Listen(host, port)
}

// Connect dials the first reachable candidate.
func (n *Node) Connect(ctx context.Context, candidates ...string) (net.Addr, error) {
	return n.Transport.Connect(ctx, candidates...)
}

// Say broadcasts text to every peer.
func (n *Node) Say(text string) error {
	return n.Transport.Send(&BroadcastText{Text: text}, ids.Broadcast)
}

func (n *Node) NewID() ids.ObjectIdentity { return n.Allocator.NewID() }

func (n *Node) Status() Status {
	return Status{
		Address:     n.Transport.OwnAddress(),
		Authority:   n.Transport.AuthorityAddress(),
		IsAuthority: n.Transport.IsAuthority(),
		Leased:      n.Allocator.Leased(),
		Fallbacks:   n.Allocator.Fallbacks(),
		Peers:       n.Transport.Peers(),
	}
}

// Run drives the transport loop and the bus tick until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		errs[0] = n.Transport.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		errs[1] = n.Bus.Run(ctx, n.cfg.Tick)
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}
