package registry_test

import (
	"testing"

	"github.com/andrebq/peerbus/bus/registry"
	"github.com/andrebq/peerbus/bus/wire"
)

type (
	alpha struct{ V uint32 }
	beta  struct{}
	gamma struct{}
)

func (a *alpha) MaxSize() int                   { return 4 }
func (a *alpha) Serialize(w *wire.Writer) error { return w.U32(a.V) }
func (a *alpha) Parse(r *wire.Reader) (err error) {
	a.V, err = r.U32()
	return
}

func (*beta) MaxSize() int                 { return 0 }
func (*beta) Serialize(*wire.Writer) error { return nil }
func (*beta) Parse(*wire.Reader) error     { return nil }

func (*gamma) MaxSize() int                 { return 0 }
func (*gamma) Serialize(*wire.Writer) error { return nil }
func (*gamma) Parse(*wire.Reader) error     { return nil }

func TestTagsAreMonotonicAndIdempotent(t *testing.T) {
	reg := registry.New()
	a := registry.Register(reg, func() *alpha { return &alpha{} })
	b := registry.Register(reg, func() *beta { return &beta{} })
	again := registry.Register(reg, func() *alpha { return &alpha{} })
	c := registry.Register(reg, func() *gamma { return &gamma{} })

	if a != 1 || b != 2 || c != 3 {
		t.Fatalf("tags should follow registration order: %v %v %v", a, b, c)
	}
	if again != a {
		t.Fatalf("second registration should reuse %v got %v", a, again)
	}
	if reg.Len() != 3 {
		t.Fatalf("expected 3 types got %v", reg.Len())
	}
	seen := map[wire.Tag]bool{}
	for _, m := range []wire.Message{&alpha{}, &beta{}, &gamma{}} {
		tag, err := reg.TagOf(m)
		if err != nil {
			t.Fatal(err)
		}
		if seen[tag] {
			t.Fatalf("tag %v assigned twice", tag)
		}
		seen[tag] = true
	}
}

func TestUnknownFallback(t *testing.T) {
	reg := registry.New()
	registry.Register(reg, func() *alpha { return &alpha{} })

	buf, err := wire.Encode(42, &alpha{V: 7})
	if err != nil {
		t.Fatal(err)
	}
	f, _, _ := wire.NextFrame(buf)
	msg, err := reg.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	u, ok := msg.(*wire.Unknown)
	if !ok {
		t.Fatalf("expected unknown message got %T", msg)
	}
	if u.Tag != 42 || len(u.Data) != 4 {
		t.Fatalf("unexpected unknown: %v", u)
	}
	tag, err := reg.TagOf(u)
	if err != nil || tag != 42 {
		t.Fatalf("unknown should keep its tag: %v %v", tag, err)
	}
}

func TestEncodeDecode(t *testing.T) {
	reg := registry.New()
	registry.Register(reg, func() *alpha { return &alpha{} })
	buf, err := reg.Encode(&alpha{V: 99})
	if err != nil {
		t.Fatal(err)
	}
	f, _, _ := wire.NextFrame(buf)
	msg, err := reg.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if a, ok := msg.(*alpha); !ok || a.V != 99 {
		t.Fatalf("unexpected message %#v", msg)
	}
	if _, err := reg.Encode(&beta{}); err == nil {
		t.Fatal("unregistered type should fail")
	}
}
