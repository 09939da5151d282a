// Package registry assigns wire tags to message types.
//
// Tags are handed out in registration order starting at 1, so two processes
// agree on tags only when they register the same types in the same order.
package registry

import (
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/andrebq/peerbus/bus/wire"
)

type (
	entry struct {
		tag     wire.Tag
		name    string
		factory func() wire.Message
	}

	// Registry maps message types to tags and back.
	Registry struct {
		mu     sync.RWMutex
		next   wire.Tag
		byType map[reflect.Type]*entry
		byTag  map[wire.Tag]*entry
	}
)

func New() *Registry {
	return &Registry{
		next:   1,
		byType: make(map[reflect.Type]*entry),
		byTag:  make(map[wire.Tag]*entry),
	}
}

// Register assigns the next free tag to T and returns it. Registering the
// same type again returns the tag it already has.
//
// T is usually a pointer type, the factory must return a fresh value on each
// call.
func Register[T wire.Message](r *Registry, factory func() T) wire.Tag {
	if factory == nil {
		panic("registry: nil factory")
	}
	rt := reflect.TypeFor[T]()
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byType[rt]; ok {
		return e.tag
	}
	if r.next == 0 || uint32(len(r.byTag)) >= math.MaxUint16 {
		panic("registry: tag space exhausted")
	}
	e := &entry{
		tag:     r.next,
		name:    rt.String(),
		factory: func() wire.Message { return factory() },
	}
	r.next++
	r.byType[rt] = e
	r.byTag[e.tag] = e
	return e.tag
}

// TagOf returns the tag of msg's concrete type.
func (r *Registry) TagOf(msg wire.Message) (wire.Tag, error) {
	if u, ok := msg.(*wire.Unknown); ok {
		return u.Tag, nil
	}
	r.mu.RLock()
	e, ok := r.byType[reflect.TypeOf(msg)]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("registry: type %T is not registered", msg)
	}
	return e.tag, nil
}

// New returns an empty instance for tag, or a *wire.Unknown carrying the tag
// when nothing was registered under it.
func (r *Registry) New(tag wire.Tag) wire.Message {
	r.mu.RLock()
	e, ok := r.byTag[tag]
	r.mu.RUnlock()
	if !ok {
		return &wire.Unknown{Tag: tag}
	}
	return e.factory()
}

func (r *Registry) Name(tag wire.Tag) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byTag[tag]; ok {
		return e.name
	}
	return "unknown:" + tag.String()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTag)
}

// Encode frames msg with its registered tag.
func (r *Registry) Encode(msg wire.Message) ([]byte, error) {
	tag, err := r.TagOf(msg)
	if err != nil {
		return nil, err
	}
	return wire.Encode(tag, msg)
}

// Decode builds and parses the message carried by f.
func (r *Registry) Decode(f wire.Frame) (wire.Message, error) {
	msg := r.New(f.Tag)
	if err := wire.Decode(f.Payload, msg); err != nil {
		return nil, fmt.Errorf("registry: decode %v: %w", r.Name(f.Tag), err)
	}
	return msg, nil
}
