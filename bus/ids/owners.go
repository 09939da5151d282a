package ids

import (
	"cmp"
	"slices"
	"sync"
)

type (
	// Owners maps blocks to the address of the peer that owns them.
	// Ownership is one entry of the owner table.
	Ownership struct {
		Block uint32
		Owner RoutingAddress
	}

	Owners struct {
		mu     sync.RWMutex
		blocks map[uint32]RoutingAddress
	}
)

func NewOwners() *Owners {
	return &Owners{blocks: make(map[uint32]RoutingAddress)}
}

// Record stores the owner of blk. The first owner recorded wins.
func (o *Owners) Record(blk uint32, owner RoutingAddress) bool {
	if blk == 0 {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.blocks[blk]; ok {
		return false
	}
	o.blocks[blk] = owner
	return true
}

func (o *Owners) OfBlock(blk uint32) (RoutingAddress, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	addr, ok := o.blocks[blk]
	return addr, ok
}

// Of returns the owner of the block id was drawn from.
func (o *Owners) Of(id ObjectIdentity) (RoutingAddress, bool) {
	return o.OfBlock(id.Block())
}

func (o *Owners) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.blocks)
}

// Snapshot lists every recorded block in ascending order.
func (o *Owners) Snapshot() []Ownership {
	o.mu.RLock()
	out := make([]Ownership, 0, len(o.blocks))
	for blk, owner := range o.blocks {
		out = append(out, Ownership{Block: blk, Owner: owner})
	}
	o.mu.RUnlock()
	slices.SortFunc(out, func(a, b Ownership) int { return cmp.Compare(a.Block, b.Block) })
	return out
}
