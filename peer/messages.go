package peer

import (
	"github.com/andrebq/peerbus/bus/ping"
	"github.com/andrebq/peerbus/bus/registry"
	"github.com/andrebq/peerbus/bus/transport"
	"github.com/andrebq/peerbus/bus/wire"
)

// BroadcastText is a chat line sent to every peer.
type BroadcastText struct {
	Text string
}

// RegisterMessages registers every message a node understands. The order is
// part of the wire format.
func RegisterMessages(reg *registry.Registry) {
	transport.RegisterMessages(reg)
	ping.RegisterMessages(reg)
	registry.Register(reg, func() *BroadcastText { return &BroadcastText{} })
}

func (b *BroadcastText) MaxSize() int                   { return wire.SizeStringW(b.Text) }
func (b *BroadcastText) Serialize(w *wire.Writer) error { return w.StringW(b.Text) }
func (b *BroadcastText) Parse(r *wire.Reader) (err error) {
	b.Text, err = r.StringW()
	return
}
