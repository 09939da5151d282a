// Package transport moves framed messages between peers over TCP.
//
// A single loop goroutine owns the connection table and decodes inbound
// frames, every connection has its own reader and writer goroutines. Decoded
// messages are posted to a dispatch.Bus, the handshake and identity block
// handlers run as ordinary bus subscribers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrebq/peerbus/bus/dispatch"
	"github.com/andrebq/peerbus/bus/ids"
	"github.com/andrebq/peerbus/bus/registry"
	"github.com/andrebq/peerbus/bus/wire"
	"github.com/andrebq/peerbus/internal/metrics"
	"github.com/andrebq/peerbus/internal/versionhash"
)

type (
	Config struct {
		Version   versionhash.Hash
		Authority bool
		// HandshakeTimeout closes connections that did not complete the
		// handshake in time, zero waits forever.
		HandshakeTimeout time.Duration
		DialTimeout      time.Duration

		Logger  *slog.Logger
		Metrics *metrics.Transport
	}

	Transport struct {
		cfg     Config
		log     *slog.Logger
		metrics *metrics.Transport

		reg    *registry.Registry
		bus    *dispatch.Bus
		alloc  *ids.Allocator
		owners *ids.Owners

		self      atomic.Uint32
		authority atomic.Uint32

		listening  atomic.Bool
		connecting atomic.Bool
		running    atomic.Bool

		mu       sync.RWMutex
		listener net.Listener
		conns    []*conn
		free     []int
		byAddr   map[ids.RoutingAddress]*conn

		sockets  chan socket
		events   chan event
		done     chan struct{}
		doneOnce sync.Once
	}

	socket struct {
		nc       net.Conn
		outbound bool
	}
)

var (
	ErrAlreadyListening  = errors.New("transport: already listening")
	ErrAlreadyConnecting = errors.New("transport: already connected to a remote peer")
	ErrAlreadyRunning    = errors.New("transport: loop already running")
	ErrNoCandidate       = errors.New("transport: no candidate accepted the connection")
	ErrNoAuthority       = errors.New("transport: authority address is unknown")
	ErrClosed            = errors.New("transport: closed")
)

// New wires a transport to the registry, bus and allocator. The transport
// messages are registered and their handlers subscribed to the bus.
func New(cfg Config, reg *registry.Registry, bus *dispatch.Bus, alloc *ids.Allocator, owners *ids.Owners) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewTransport(nil)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	t := &Transport{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		reg:     reg,
		bus:     bus,
		alloc:   alloc,
		owners:  owners,
		byAddr:  make(map[ids.RoutingAddress]*conn),
		sockets: make(chan socket, 16),
		events:  make(chan event, 64),
		done:    make(chan struct{}),
	}
	RegisterMessages(reg)
	t.subscribe()
	alloc.SetRequester(ids.RequesterFunc(t.requestBlock))
	if cfg.Authority {
		alloc.SetAuthority(true)
		blk := alloc.Mint()
		if blk == 0 {
			// a fresh allocator always has block 1 available
			panic("transport: authority allocator is exhausted")
		}
		addr := ids.BlockAddress(blk)
		t.self.Store(uint32(addr))
		t.authority.Store(uint32(addr))
		owners.Record(blk, addr)
		alloc.OnMint(t.ownBlock)
		alloc.Adopt(blk)
	}
	return t
}

// ownBlock records and announces a block the authority keeps for itself.
func (t *Transport) ownBlock(blk uint32) {
	self := t.OwnAddress()
	t.owners.Record(blk, self)
	if err := t.Send(&AllocateIDBlock{Block: blk, Client: self}, ids.Broadcast); err != nil {
		t.log.Error("Unable to announce own block", "block", blk, "err", err)
	}
}

// OwnAddress is the portable address of this peer, zero until a handshake
// with the authority completes.
func (t *Transport) OwnAddress() ids.RoutingAddress {
	return ids.RoutingAddress(t.self.Load())
}

// Address implements dispatch.Origin for loop back messages.
func (t *Transport) Address() ids.RoutingAddress { return t.OwnAddress() }

func (t *Transport) AuthorityAddress() ids.RoutingAddress {
	return ids.RoutingAddress(t.authority.Load())
}

func (t *Transport) IsAuthority() bool { return t.alloc.Authority() }

// Listen binds host:port and accepts peers in the background. Port 0 picks a
// free port, the bound address is returned.
func (t *Transport) Listen(host string, port int) (net.Addr, error) {
	if !t.listening.CompareAndSwap(false, true) {
		return nil, ErrAlreadyListening
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		t.listening.Store(false)
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()
	t.log.Info("Accepting peers", "addr", ln.Addr())
	go t.acceptLoop(ln)
	return ln.Addr(), nil
}

// Connect dials candidates in order and keeps the first that answers. Only one
// outbound connection is allowed at a time, a failed attempt or a dropped
// connection may be retried.
func (t *Transport) Connect(ctx context.Context, candidates ...string) (net.Addr, error) {
	if !t.connecting.CompareAndSwap(false, true) {
		return nil, ErrAlreadyConnecting
	}
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	var errs []error
	for _, candidate := range candidates {
		nc, err := d.DialContext(ctx, "tcp", candidate)
		if err != nil {
			t.log.Debug("Candidate refused", "candidate", candidate, "err", err)
			errs = append(errs, err)
			continue
		}
		if err := t.handoff(ctx, socket{nc: nc, outbound: true}); err != nil {
			nc.Close()
			t.connecting.Store(false)
			return nil, err
		}
		t.log.Info("Connected to peer", "remote", nc.RemoteAddr())
		return nc.RemoteAddr(), nil
	}
	t.connecting.Store(false)
	return nil, fmt.Errorf("%w: %w", ErrNoCandidate, errors.Join(errs...))
}

// Run drives the connection table until ctx is done, then closes every
// socket.
func (t *Transport) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer t.shutdown()

	var expire <-chan time.Time
	if t.cfg.HandshakeTimeout > 0 {
		every := t.cfg.HandshakeTimeout / 2
		if every < 10*time.Millisecond {
			every = 10 * time.Millisecond
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		expire = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-t.sockets:
			t.attach(s)
		case ev := <-t.events:
			if ev.err != nil {
				t.drop(ev.c, ev.err)
				continue
			}
			t.receive(ev.c, ev.data)
		case now := <-expire:
			t.expire(now)
		}
	}
}

// Peers lists the live connection slots.
func (t *Transport) Peers() []PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []PeerInfo
	for _, c := range t.conns {
		if c != nil {
			out = append(out, c.info())
		}
	}
	return out
}

// State returns the state of the connection reachable at addr.
func (t *Transport) State(addr ids.RoutingAddress) (State, bool) {
	c := t.lookup(addr)
	if c == nil {
		return Disconnected, false
	}
	return c.State(), true
}

func (t *Transport) handoff(ctx context.Context, s socket) error {
	select {
	case t.sockets <- s:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) acceptLoop(ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Warn("Accept failed", "err", err)
			select {
			case <-time.After(50 * time.Millisecond):
				continue
			case <-t.done:
				return
			}
		}
		t.log.Debug("Accepted peer", "remote", nc.RemoteAddr())
		if err := t.handoff(context.Background(), socket{nc: nc}); err != nil {
			nc.Close()
			return
		}
	}
}

// attach places a new socket in a free slot and greets the peer.
func (t *Transport) attach(s socket) {
	t.mu.Lock()
	slot := -1
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
	} else if len(t.conns) < ids.BlockSize-1 {
		slot = len(t.conns)
		t.conns = append(t.conns, nil)
	}
	if slot < 0 {
		t.mu.Unlock()
		t.log.Warn("Connection table is full", "remote", s.nc.RemoteAddr())
		s.nc.Close()
		return
	}
	c := newConn(s.nc, slot, s.outbound)
	t.conns[slot] = c
	t.mu.Unlock()

	t.metrics.Connections.WithLabelValues(InitialConnection.String()).Inc()
	go c.readLoop(t.events, t.done)
	go c.writeLoop(t.events, t.done, func(n int) {
		t.metrics.Frames.WithLabelValues("out").Inc()
		t.metrics.Bytes.WithLabelValues("out").Add(float64(n))
	})
	t.greet(c)
}

// receive appends data to the slot buffer and posts every complete frame.
func (t *Transport) receive(c *conn, data []byte) {
	if c.State() == Disconnected {
		return
	}
	t.metrics.Bytes.WithLabelValues("in").Add(float64(len(data)))
	c.inbound = append(c.inbound, data...)
	for {
		f, rest, ok := wire.NextFrame(c.inbound)
		if !ok {
			break
		}
		msg, err := t.reg.Decode(f)
		if err != nil {
			t.metrics.ParseErrors.Inc()
			t.log.Error("Unable to parse frame, dropping buffered data", "peer", c.Address(), "tag", f.Tag, "buffered", len(c.inbound), "err", err)
			c.inbound = nil
			return
		}
		t.metrics.Frames.WithLabelValues("in").Inc()
		t.bus.Post(dispatch.Envelope{Msg: msg, Origin: c})
		c.inbound = rest
	}
	if len(c.inbound) == 0 {
		c.inbound = nil
	}
}

// drop marks c disconnected and tells the bus. The slot is released once the
// notification was dispatched.
func (t *Transport) drop(c *conn, err error) {
	var prev State
	for {
		prev = c.State()
		if prev == Disconnected {
			return
		}
		if c.state.CompareAndSwap(int32(prev), int32(Disconnected)) {
			break
		}
	}
	t.metrics.Connections.WithLabelValues(prev.String()).Dec()
	c.shutdown()
	addr := c.Address()
	t.mu.Lock()
	if t.byAddr[addr] == c {
		delete(t.byAddr, addr)
	}
	t.mu.Unlock()
	if c.outbound {
		t.connecting.Store(false)
	}
	t.log.Info("Peer disconnected", "peer", addr, "state", prev, "err", err)
	t.bus.PostUpdate(dispatch.Update{
		Origin: c,
		Done:   func() { t.release(c) },
	})
}

func (t *Transport) release(c *conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c.slot < len(t.conns) && t.conns[c.slot] == c {
		t.conns[c.slot] = nil
		t.free = append(t.free, c.slot)
	}
}

func (t *Transport) expire(now time.Time) {
	t.mu.RLock()
	conns := append([]*conn(nil), t.conns...)
	t.mu.RUnlock()
	for _, c := range conns {
		if c == nil || c.State() != WaitingForWelcome {
			continue
		}
		if now.Sub(c.since) > t.cfg.HandshakeTimeout {
			t.reject(c, "timeout")
		}
	}
}

func (t *Transport) shutdown() {
	t.doneOnce.Do(func() { close(t.done) })
	t.mu.Lock()
	if t.listener != nil {
		t.listener.Close()
	}
	conns := append([]*conn(nil), t.conns...)
	t.mu.Unlock()
	for _, c := range conns {
		if c != nil {
			c.shutdown()
		}
	}
}

// transition moves c from one state to another and keeps the gauges in sync.
func (t *Transport) transition(c *conn, from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	t.metrics.Connections.WithLabelValues(from.String()).Dec()
	t.metrics.Connections.WithLabelValues(to.String()).Inc()
	return true
}
