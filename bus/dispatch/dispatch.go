// Package dispatch delivers decoded messages to typed subscribers.
//
// Producers post from any goroutine, a single consumer drains the queues on a
// fixed tick so subscribers never run concurrently with each other.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/andrebq/peerbus/bus/ids"
	"github.com/andrebq/peerbus/bus/wire"
	"github.com/andrebq/peerbus/internal/metrics"
	"github.com/andrebq/peerbus/internal/queue"
	"github.com/andrebq/peerbus/internal/set"
)

const DefaultTick = 20 * time.Millisecond

type (
	// Receiver handles one message type. handled reports whether the message
	// was consumed, err is logged and does not stop other receivers.
	Receiver[T wire.Message] interface {
		Receive(msg T, from ids.RoutingAddress) (handled bool, err error)
	}

	ReceiverFunc[T wire.Message] func(msg T, from ids.RoutingAddress) (bool, error)

	// Origin resolves to the sender address when the message is dispatched,
	// connections learn their portable address after their first messages
	// are queued.
	Origin interface {
		Address() ids.RoutingAddress
	}

	// Fixed is an Origin with a known address.
	Fixed ids.RoutingAddress

	Envelope struct {
		Msg    wire.Message
		Origin Origin
	}

	// Update is a connect or disconnect notification. Done, if set, runs once
	// every watcher has seen the update.
	Update struct {
		Origin    Origin
		Connected bool
		Done      func()
	}

	ConnectionWatcher interface {
		Connected(addr ids.RoutingAddress)
		Disconnected(addr ids.RoutingAddress)
	}

	// UnhandledFunc is called for messages no subscriber handled.
	UnhandledFunc func(msg wire.Message, from ids.RoutingAddress)

	subscription struct {
		name    string
		deliver func(wire.Message, ids.RoutingAddress) (bool, error)
	}

	watcher struct {
		w ConnectionWatcher
	}

	unhandled struct {
		fn UnhandledFunc
	}

	Bus struct {
		log     *slog.Logger
		metrics *metrics.Bus

		mu        sync.RWMutex
		byType    map[reflect.Type]*set.Ordered[*subscription]
		any       set.Ordered[*subscription]
		watchers  set.Ordered[*watcher]
		unhandled set.Ordered[*unhandled]

		updates  queue.Q[Update]
		messages queue.Q[Envelope]
	}
)

func (fn ReceiverFunc[T]) Receive(msg T, from ids.RoutingAddress) (bool, error) {
	return fn(msg, from)
}

func (f Fixed) Address() ids.RoutingAddress { return ids.RoutingAddress(f) }

// New returns an empty bus. m may be nil.
func New(log *slog.Logger, m *metrics.Bus) *Bus {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.NewBus(nil)
	}
	return &Bus{
		log:     log,
		metrics: m,
		byType:  make(map[reflect.Type]*set.Ordered[*subscription]),
	}
}

// Subscribe registers r for messages whose concrete type is exactly T.
func Subscribe[T wire.Message](b *Bus, r Receiver[T]) (cancel func()) {
	rt := reflect.TypeFor[T]()
	sub := &subscription{
		name: fmt.Sprintf("%T", r),
		deliver: func(msg wire.Message, from ids.RoutingAddress) (bool, error) {
			return r.Receive(msg.(T), from)
		},
	}
	b.mu.Lock()
	subs, ok := b.byType[rt]
	if !ok {
		subs = &set.Ordered[*subscription]{}
		b.byType[rt] = subs
	}
	subs.Add(sub)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		subs.Remove(sub)
		b.mu.Unlock()
	}
}

// SubscribeAll registers r for every message.
func SubscribeAll(b *Bus, r Receiver[wire.Message]) (cancel func()) {
	sub := &subscription{name: fmt.Sprintf("%T", r), deliver: r.Receive}
	b.mu.Lock()
	b.any.Add(sub)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.any.Remove(sub)
		b.mu.Unlock()
	}
}

func (b *Bus) Watch(w ConnectionWatcher) (cancel func()) {
	entry := &watcher{w: w}
	b.mu.Lock()
	b.watchers.Add(entry)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.watchers.Remove(entry)
		b.mu.Unlock()
	}
}

func (b *Bus) OnUnhandled(fn UnhandledFunc) (cancel func()) {
	entry := &unhandled{fn: fn}
	b.mu.Lock()
	b.unhandled.Add(entry)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.unhandled.Remove(entry)
		b.mu.Unlock()
	}
}

func (b *Bus) Post(e Envelope) {
	b.messages.Push(e)
}

func (b *Bus) PostUpdate(u Update) {
	b.updates.Push(u)
}

// Pending returns the number of queued updates and messages.
func (b *Bus) Pending() (updates, messages int) {
	return b.updates.Len(), b.messages.Len()
}

// Drain delivers everything queued so far, updates first. Items posted while
// draining wait for the next call.
func (b *Bus) Drain() int {
	updates := b.updates.Take()
	messages := b.messages.Take()
	for _, u := range updates {
		b.deliverUpdate(u)
	}
	for _, e := range messages {
		b.deliver(e)
	}
	upd, msg := b.Pending()
	b.metrics.Pending.WithLabelValues("updates").Set(float64(upd))
	b.metrics.Pending.WithLabelValues("messages").Set(float64(msg))
	return len(updates) + len(messages)
}

// Run drains the bus every tick until ctx is done.
func (b *Bus) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Drain()
		}
	}
}

func (b *Bus) deliverUpdate(u Update) {
	addr := resolve(u.Origin)
	b.mu.RLock()
	watchers := b.watchers.Snapshot(nil)
	b.mu.RUnlock()
	for _, w := range watchers {
		b.isolate("watcher", fmt.Sprintf("%T", w.w), func() error {
			if u.Connected {
				w.w.Connected(addr)
			} else {
				w.w.Disconnected(addr)
			}
			return nil
		})
	}
	if u.Done != nil {
		u.Done()
	}
}

func (b *Bus) deliver(e Envelope) {
	from := resolve(e.Origin)
	b.mu.RLock()
	var specific []*subscription
	if subs, ok := b.byType[reflect.TypeOf(e.Msg)]; ok {
		specific = subs.Snapshot(nil)
	}
	generic := b.any.Snapshot(nil)
	b.mu.RUnlock()

	handled := false
	// subscribers to every message run before the typed ones
	for _, subs := range [][]*subscription{generic, specific} {
		for _, s := range subs {
			b.isolate("subscriber", s.name, func() error {
				h, err := s.deliver(e.Msg, from)
				handled = handled || h
				return err
			})
		}
	}
	b.metrics.Dispatched.Inc()
	if handled {
		return
	}
	b.metrics.Unhandled.Inc()
	b.mu.RLock()
	callbacks := b.unhandled.Snapshot(nil)
	b.mu.RUnlock()
	for _, c := range callbacks {
		b.isolate("unhandled callback", fmt.Sprintf("%T", e.Msg), func() error {
			c.fn(e.Msg, from)
			return nil
		})
	}
}

// isolate runs fn and logs its error or panic.
func (b *Bus) isolate(kind, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.Failures.Inc()
			b.log.Error("Recovered from panic", "kind", kind, "name", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		b.metrics.Failures.Inc()
		b.log.Error("Handler failed", "kind", kind, "name", name, "err", err)
	}
}

func resolve(o Origin) ids.RoutingAddress {
	if o == nil {
		return ids.Broadcast
	}
	return o.Address()
}
