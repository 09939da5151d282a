package transport

import (
	"fmt"

	"github.com/andrebq/peerbus/bus/dispatch"
	"github.com/andrebq/peerbus/bus/ids"
	"github.com/andrebq/peerbus/bus/wire"
)

// Send delivers msg to the peer at addr.
//
// Broadcast reaches every live connection, a local address reaches its slot,
// a portable address is looked up in the table filled by the handshake and
// the own address loops back into the bus. Unknown targets get a broadcast.
func (t *Transport) Send(msg wire.Message, to ids.RoutingAddress) error {
	if to.Portable() && to == t.OwnAddress() {
		t.SendSelf(msg)
		return nil
	}
	buf, err := t.reg.Encode(msg)
	if err != nil {
		return err
	}
	if to.IsBroadcast() {
		t.broadcast(buf)
		return nil
	}
	c := t.lookup(to)
	if c == nil || c.State() == Disconnected {
		t.log.Warn("Unknown destination, broadcasting instead", "to", to, "type", fmt.Sprintf("%T", msg))
		t.broadcast(buf)
		return nil
	}
	c.enqueue(buf)
	return nil
}

// SendSelf posts msg to the local bus without touching the network.
func (t *Transport) SendSelf(msg wire.Message) {
	t.bus.Post(dispatch.Envelope{Msg: msg, Origin: t})
}

// SendToOwner routes msg to the peer that owns the block id was drawn from.
func (t *Transport) SendToOwner(msg wire.Message, id ids.ObjectIdentity) error {
	owner, ok := t.owners.Of(id)
	if !ok {
		t.log.Warn("Unknown owner, broadcasting instead", "identity", id)
		return t.Send(msg, ids.Broadcast)
	}
	return t.Send(msg, owner)
}

func (t *Transport) OwnerOf(id ids.ObjectIdentity) (ids.RoutingAddress, bool) {
	return t.owners.Of(id)
}

func (t *Transport) sendTo(c *conn, msg wire.Message) error {
	buf, err := t.reg.Encode(msg)
	if err != nil {
		return err
	}
	c.enqueue(buf)
	return nil
}

func (t *Transport) broadcast(buf []byte) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.conns {
		if c != nil && c.State() != Disconnected {
			c.enqueue(buf)
		}
	}
}

// lookup resolves a local or portable address to its connection.
func (t *Transport) lookup(addr ids.RoutingAddress) *conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if slot, ok := addr.Slot(); ok {
		if slot < len(t.conns) {
			return t.conns[slot]
		}
		return nil
	}
	return t.byAddr[addr]
}
