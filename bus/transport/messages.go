package transport

import (
	"errors"

	"github.com/andrebq/peerbus/bus/ids"
	"github.com/andrebq/peerbus/bus/registry"
	"github.com/andrebq/peerbus/bus/wire"
	"github.com/andrebq/peerbus/internal/versionhash"
)

// InitialBlockFlag marks an AllocateIDBlock that announces the block handed
// out during a handshake, or replays an older owner to a new peer. The
// receiver records the owner but does not lease it.
const InitialBlockFlag = 0x80000000

type (
	// Welcome is the first message sent on every connection.
	Welcome struct {
		Version      versionhash.Hash
		Address      ids.RoutingAddress
		InitialBlock uint32
	}

	// RequestIDBlock asks the authority for a block, the requester is the
	// sender.
	RequestIDBlock struct{}

	// AllocateIDBlock announces that Block belongs to Client.
	AllocateIDBlock struct {
		Block  uint32
		Client ids.RoutingAddress
	}
)

// RegisterMessages registers the transport messages, it must run before any
// other registration so every build agrees on their tags.
func RegisterMessages(reg *registry.Registry) {
	registry.Register(reg, func() *Welcome { return &Welcome{} })
	registry.Register(reg, func() *RequestIDBlock { return &RequestIDBlock{} })
	registry.Register(reg, func() *AllocateIDBlock { return &AllocateIDBlock{} })
}

// wireAddress never lets a local address leave the process.
func wireAddress(a ids.RoutingAddress) uint32 {
	if !a.Portable() {
		return 0
	}
	return uint32(a)
}

func (w *Welcome) MaxSize() int { return len(w.Version) + 4 + 4 }

func (w *Welcome) Serialize(wr *wire.Writer) error {
	return errors.Join(
		wr.UUID(w.Version),
		wr.U32(wireAddress(w.Address)),
		wr.U32(w.InitialBlock))
}

func (w *Welcome) Parse(r *wire.Reader) error {
	v, err := r.UUID()
	if err != nil {
		return err
	}
	addr, err := r.U32()
	if err != nil {
		return err
	}
	blk, err := r.U32()
	if err != nil {
		return err
	}
	w.Version, w.Address, w.InitialBlock = v, ids.RoutingAddress(addr), blk
	return nil
}

func (*RequestIDBlock) MaxSize() int                 { return 0 }
func (*RequestIDBlock) Serialize(*wire.Writer) error { return nil }
func (*RequestIDBlock) Parse(*wire.Reader) error     { return nil }

func (a *AllocateIDBlock) MaxSize() int { return 8 }

func (a *AllocateIDBlock) Serialize(w *wire.Writer) error {
	return errors.Join(w.U32(a.Block), w.U32(wireAddress(a.Client)))
}

func (a *AllocateIDBlock) Parse(r *wire.Reader) error {
	blk, err := r.U32()
	if err != nil {
		return err
	}
	client, err := r.U32()
	if err != nil {
		return err
	}
	a.Block, a.Client = blk, ids.RoutingAddress(client)
	return nil
}

// Initial reports whether the block was announced by a handshake.
func (a *AllocateIDBlock) Initial() bool { return a.Block&InitialBlockFlag != 0 }

func (a *AllocateIDBlock) BlockNumber() uint32 { return a.Block &^ InitialBlockFlag }
