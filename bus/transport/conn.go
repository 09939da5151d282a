package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrebq/peerbus/bus/ids"
	"github.com/andrebq/peerbus/internal/queue"
)

const readSize = 4096

type (
	State int32

	conn struct {
		nc       net.Conn
		slot     int
		outbound bool

		state   atomic.Int32
		address atomic.Uint32
		offered atomic.Uint32

		// owned by the loop
		inbound []byte
		since   time.Time

		out    queue.Q[[]byte]
		wake   chan struct{}
		quit   chan struct{}
		closed sync.Once
	}

	event struct {
		c    *conn
		data []byte
		err  error
	}

	// PeerInfo describes one live connection slot.
	PeerInfo struct {
		Handle   int
		Address  ids.RoutingAddress
		State    State
		Remote   string
		Outbound bool
	}
)

const (
	InitialConnection State = iota
	WaitingForWelcome
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case InitialConnection:
		return "initial"
	case WaitingForWelcome:
		return "waiting-for-welcome"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "invalid"
}

func newConn(nc net.Conn, slot int, outbound bool) *conn {
	return &conn{
		nc:       nc,
		slot:     slot,
		outbound: outbound,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
}

func (c *conn) State() State { return State(c.state.Load()) }

// Address is the portable address learned during the handshake, or the local
// address of the slot until then.
func (c *conn) Address() ids.RoutingAddress {
	if a := ids.RoutingAddress(c.address.Load()); a != 0 {
		return a
	}
	a, _ := ids.LocalAddress(c.slot)
	return a
}

func (c *conn) info() PeerInfo {
	return PeerInfo{
		Handle:   c.slot,
		Address:  c.Address(),
		State:    c.State(),
		Remote:   c.nc.RemoteAddr().String(),
		Outbound: c.outbound,
	}
}

func (c *conn) enqueue(buf []byte) {
	if c.State() == Disconnected {
		return
	}
	c.out.Push(buf)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// shutdown closes the socket once, the reader and writer notice and exit.
func (c *conn) shutdown() {
	c.closed.Do(func() {
		close(c.quit)
		c.nc.Close()
	})
}

func (c *conn) readLoop(events chan<- event, done <-chan struct{}) {
	for {
		buf := make([]byte, readSize)
		n, err := c.nc.Read(buf)
		if n > 0 {
			select {
			case events <- event{c: c, data: buf[:n]}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case events <- event{c: c, err: err}:
			case <-done:
			}
			return
		}
	}
}

func (c *conn) writeLoop(events chan<- event, done <-chan struct{}, written func(n int)) {
	for {
		select {
		case <-c.wake:
		case <-c.quit:
			return
		case <-done:
			return
		}
		for {
			buf, ok := c.out.Pop()
			if !ok {
				break
			}
			if _, err := c.nc.Write(buf); err != nil {
				select {
				case events <- event{c: c, err: err}:
				case <-done:
				}
				return
			}
			written(len(buf))
		}
	}
}
