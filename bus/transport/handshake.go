package transport

import (
	"fmt"
	"time"

	"github.com/andrebq/peerbus/bus/dispatch"
	"github.com/andrebq/peerbus/bus/ids"
)

func (t *Transport) subscribe() {
	dispatch.Subscribe(t.bus, dispatch.ReceiverFunc[*Welcome](t.onWelcome))
	dispatch.Subscribe(t.bus, dispatch.ReceiverFunc[*RequestIDBlock](t.onRequestBlock))
	dispatch.Subscribe(t.bus, dispatch.ReceiverFunc[*AllocateIDBlock](t.onAllocateBlock))
}

// greet sends the Welcome on a new connection. The authority hands the peer
// its first block and address here.
func (t *Transport) greet(c *conn) {
	w := &Welcome{Version: t.cfg.Version, Address: t.OwnAddress()}
	var peer ids.RoutingAddress
	if t.alloc.Authority() {
		if blk := t.alloc.Mint(); blk != 0 {
			peer = ids.BlockAddress(blk)
			w.InitialBlock = blk
			c.offered.Store(blk)
			c.address.Store(uint32(peer))
			t.owners.Record(blk, peer)
			t.mu.Lock()
			t.byAddr[peer] = c
			t.mu.Unlock()
		} else {
			t.log.Warn("Block space exhausted, peer gets no initial block", "remote", c.nc.RemoteAddr())
		}
	}
	if err := t.sendTo(c, w); err != nil {
		t.log.Error("Unable to send welcome", "remote", c.nc.RemoteAddr(), "err", err)
		c.shutdown()
		return
	}
	c.since = time.Now()
	t.transition(c, InitialConnection, WaitingForWelcome)
	if w.InitialBlock != 0 {
		announce := &AllocateIDBlock{Block: w.InitialBlock | InitialBlockFlag, Client: peer}
		if err := t.Send(announce, ids.Broadcast); err != nil {
			t.log.Error("Unable to announce initial block", "block", w.InitialBlock, "err", err)
		}
		t.replayOwners(c, w.InitialBlock)
	}
}

// replayOwners tells a new peer about every block minted before it joined.
// The initial flag keeps the peer from acquiring any of them.
func (t *Transport) replayOwners(c *conn, skip uint32) {
	for _, o := range t.owners.Snapshot() {
		if o.Block == skip {
			continue
		}
		if err := t.sendTo(c, &AllocateIDBlock{Block: o.Block | InitialBlockFlag, Client: o.Owner}); err != nil {
			t.log.Error("Unable to replay block owner", "block", o.Block, "err", err)
			return
		}
	}
}

func (t *Transport) onWelcome(w *Welcome, from ids.RoutingAddress) (bool, error) {
	c := t.lookup(from)
	if c == nil {
		return true, fmt.Errorf("transport: welcome from unknown peer %v", from)
	}
	if c.State() != WaitingForWelcome {
		t.log.Debug("Ignoring welcome", "peer", from, "state", c.State())
		return true, nil
	}
	offered := c.offered.Load()
	switch {
	case w.Version != t.cfg.Version:
		t.reject(c, "version")
		return true, nil
	case w.InitialBlock != 0 && offered != 0:
		t.reject(c, "authority-conflict")
		return true, nil
	case w.InitialBlock == 0 && offered == 0:
		t.reject(c, "no-authority")
		return true, nil
	}

	if w.Address.Portable() {
		c.address.Store(uint32(w.Address))
		t.mu.Lock()
		t.byAddr[w.Address] = c
		t.mu.Unlock()
	}
	if w.InitialBlock != 0 {
		// the remote peer is the authority, its address must be routable
		// before the allocator asks it for more blocks
		t.authority.Store(uint32(w.Address))
		first := t.alloc.Adopt(w.InitialBlock)
		if self, err := ids.AddressOf(first); err == nil {
			t.self.Store(uint32(self))
			t.owners.Record(w.InitialBlock, self)
		}
	}
	if t.transition(c, WaitingForWelcome, Connected) {
		t.log.Info("Peer connected", "peer", c.Address(), "self", t.OwnAddress(), "authority", t.AuthorityAddress())
		t.bus.PostUpdate(dispatch.Update{Origin: c, Connected: true})
	}
	return true, nil
}

func (t *Transport) onRequestBlock(_ *RequestIDBlock, from ids.RoutingAddress) (bool, error) {
	if !t.alloc.Authority() {
		return false, nil
	}
	if !from.Portable() {
		return true, fmt.Errorf("transport: block request from peer without address %v", from)
	}
	blk := t.alloc.Mint()
	if blk == 0 {
		return true, fmt.Errorf("transport: block space exhausted, request from %v", from)
	}
	t.owners.Record(blk, from)
	return true, t.Send(&AllocateIDBlock{Block: blk, Client: from}, ids.Broadcast)
}

func (t *Transport) onAllocateBlock(a *AllocateIDBlock, from ids.RoutingAddress) (bool, error) {
	auth := t.AuthorityAddress()
	if auth == 0 || from != auth {
		t.log.Debug("Ignoring block allocation from non authority", "from", from, "authority", auth)
		return false, nil
	}
	blk := a.BlockNumber()
	if !a.Initial() && a.Client == t.OwnAddress() {
		t.alloc.Acquire(blk)
	}
	t.owners.Record(blk, a.Client)
	return true, nil
}

// reject closes c during the handshake, the reader reports the closure and
// the loop finishes the disconnect.
func (t *Transport) reject(c *conn, reason string) {
	t.metrics.Rejections.WithLabelValues(reason).Inc()
	t.log.Warn("Rejecting peer", "peer", c.Address(), "remote", c.nc.RemoteAddr(), "reason", reason)
	c.shutdown()
}

func (t *Transport) requestBlock() error {
	auth := t.AuthorityAddress()
	if auth == 0 {
		return ErrNoAuthority
	}
	return t.Send(&RequestIDBlock{}, auth)
}
