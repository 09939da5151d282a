// Package ping measures round trips over the bus.
package ping

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/andrebq/peerbus/bus/dispatch"
	"github.com/andrebq/peerbus/bus/ids"
	"github.com/andrebq/peerbus/bus/registry"
	"github.com/andrebq/peerbus/bus/wire"
	"github.com/google/uuid"
)

// Unknown is reported as the round trip of a pong nobody asked for.
const Unknown time.Duration = -1

// pending pings older than this are forgotten
const keep = time.Minute

type (
	Ping struct{ ID uuid.UUID }
	Pong struct{ ID uuid.UUID }

	Sender interface {
		Send(msg wire.Message, to ids.RoutingAddress) error
	}

	// ResponseFunc receives every pong, rtt is Unknown for ids this process
	// did not send.
	ResponseFunc func(id uuid.UUID, from ids.RoutingAddress, rtt time.Duration)

	Service struct {
		log    *slog.Logger
		sender Sender

		mu        sync.Mutex
		sent      map[uuid.UUID]time.Time
		callbacks map[int]ResponseFunc
		nextCB    int
	}
)

func RegisterMessages(reg *registry.Registry) {
	registry.Register(reg, func() *Ping { return &Ping{} })
	registry.Register(reg, func() *Pong { return &Pong{} })
}

func (p *Ping) MaxSize() int                   { return len(p.ID) }
func (p *Ping) Serialize(w *wire.Writer) error { return w.UUID(p.ID) }
func (p *Ping) Parse(r *wire.Reader) (err error) {
	p.ID, err = r.UUID()
	return
}

func (p *Pong) MaxSize() int                   { return len(p.ID) }
func (p *Pong) Serialize(w *wire.Writer) error { return w.UUID(p.ID) }
func (p *Pong) Parse(r *wire.Reader) (err error) {
	p.ID, err = r.UUID()
	return
}

// New subscribes the service to ping and pong messages on bus.
func New(log *slog.Logger, bus *dispatch.Bus, sender Sender) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:       log,
		sender:    sender,
		sent:      make(map[uuid.UUID]time.Time),
		callbacks: make(map[int]ResponseFunc),
	}
	dispatch.Subscribe(bus, dispatch.ReceiverFunc[*Ping](s.onPing))
	dispatch.Subscribe(bus, dispatch.ReceiverFunc[*Pong](s.onPong))
	return s
}

// OnResponse registers fn for every pong.
func (s *Service) OnResponse(fn ResponseFunc) (cancel func()) {
	s.mu.Lock()
	id := s.nextCB
	s.nextCB++
	s.callbacks[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.callbacks, id)
		s.mu.Unlock()
	}
}

// Send pings the peer at to and returns the id carried by the ping.
func (s *Service) Send(to ids.RoutingAddress) (uuid.UUID, error) {
	id := uuid.New()
	return id, s.send(id, to)
}

// Probe pings to and waits for the first answer.
func (s *Service) Probe(ctx context.Context, to ids.RoutingAddress) (time.Duration, ids.RoutingAddress, error) {
	type answer struct {
		from ids.RoutingAddress
		rtt  time.Duration
	}
	id := uuid.New()
	got := make(chan answer, 1)
	cancel := s.OnResponse(func(pong uuid.UUID, from ids.RoutingAddress, rtt time.Duration) {
		if pong != id {
			return
		}
		select {
		case got <- answer{from: from, rtt: rtt}:
		default:
		}
	})
	defer cancel()
	if err := s.send(id, to); err != nil {
		return 0, 0, err
	}
	select {
	case a := <-got:
		return a.rtt, a.from, nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

func (s *Service) send(id uuid.UUID, to ids.RoutingAddress) error {
	now := time.Now()
	s.mu.Lock()
	for k, at := range s.sent {
		if now.Sub(at) > keep {
			delete(s.sent, k)
		}
	}
	s.sent[id] = now
	s.mu.Unlock()
	return s.sender.Send(&Ping{ID: id}, to)
}

func (s *Service) onPing(p *Ping, from ids.RoutingAddress) (bool, error) {
	return true, s.sender.Send(&Pong{ID: p.ID}, from)
}

func (s *Service) onPong(p *Pong, from ids.RoutingAddress) (bool, error) {
	rtt := Unknown
	s.mu.Lock()
	if at, ok := s.sent[p.ID]; ok {
		rtt = time.Since(at)
	}
	callbacks := make([]ResponseFunc, 0, len(s.callbacks))
	for _, fn := range s.callbacks {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()
	s.log.Debug("Pong", "id", p.ID, "from", from, "rtt", rtt)
	for _, fn := range callbacks {
		fn(p.ID, from, rtt)
	}
	return true, nil
}
