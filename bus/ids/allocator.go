package ids

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/andrebq/peerbus/internal/queue"
)

// RefillTarget is how many leased blocks a peer tries to keep queued.
const RefillTarget = 10

type (
	// Requester asks the authority for one more block. It must not block, the
	// answer arrives later through Acquire.
	Requester interface {
		RequestBlock() error
	}

	RequesterFunc func() error

	// MintHook is told about every block the authority mints for itself.
	MintHook func(blk uint32)

	block struct {
		offset uint32
		fill   atomic.Uint32
	}

	// Allocator draws unique identities from leased blocks.
	//
	// NewID is safe for concurrent use.
	Allocator struct {
		log *slog.Logger

		authority atomic.Bool
		minted    atomic.Uint32
		current   atomic.Pointer[block]
		inflight  atomic.Int32
		fallbacks atomic.Uint64

		// rotation guards picking the next current block
		rotation  sync.Mutex
		leased    queue.Q[uint32]
		requester Requester
		onMint    MintHook
	}
)

func (fn RequesterFunc) RequestBlock() error { return fn() }

func NewAllocator(log *slog.Logger) *Allocator {
	if log == nil {
		log = slog.Default()
	}
	return &Allocator{log: log}
}

// SetRequester configures how a non authority peer asks for blocks.
func (a *Allocator) SetRequester(r Requester) {
	a.rotation.Lock()
	a.requester = r
	a.rotation.Unlock()
}

// OnMint registers fn to run for every block the authority keeps for itself,
// before any identity is drawn from it.
func (a *Allocator) OnMint(fn MintHook) {
	a.rotation.Lock()
	a.onMint = fn
	a.rotation.Unlock()
}

func (a *Allocator) SetAuthority(v bool) { a.authority.Store(v) }
func (a *Allocator) Authority() bool     { return a.authority.Load() }

// Mint returns the next unused block number, or 0 once the counter would
// enter the fallback range.
func (a *Allocator) Mint() uint32 {
	for {
		cur := a.minted.Load()
		next := cur + 1
		if next >= FallbackFirstBlock {
			a.minted.Store(FallbackFirstBlock)
			return 0
		}
		if a.minted.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Acquire adds a leased block to the queue. Block 0 is ignored.
func (a *Allocator) Acquire(blk uint32) {
	if blk == 0 {
		return
	}
	a.leased.Push(blk)
	for {
		n := a.inflight.Load()
		if n <= 0 || a.inflight.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Adopt makes blk the current block right away and returns its first
// identity. Peers use it for the block offered during the handshake so their
// address matches the one the authority recorded.
func (a *Allocator) Adopt(blk uint32) ObjectIdentity {
	b := &block{offset: blk * BlockSize}
	b.fill.Store(1)
	a.rotation.Lock()
	a.current.Store(b)
	a.rotation.Unlock()
	a.refill()
	return ObjectIdentity(b.offset)
}

// NewID returns an identity that no other call (here or on another peer
// sharing the same authority) returns.
func (a *Allocator) NewID() ObjectIdentity {
	for {
		if b := a.current.Load(); b != nil {
			n := b.fill.Add(1)
			if n <= BlockSize {
				return ObjectIdentity(b.offset + n - 1)
			}
			// only one caller retires a given block
			a.current.CompareAndSwap(b, nil)
		}
		a.rotate()
	}
}

// Leased is the number of queued blocks.
func (a *Allocator) Leased() int { return a.leased.Len() }

// Fallbacks counts blocks picked from the random range.
func (a *Allocator) Fallbacks() uint64 { return a.fallbacks.Load() }

func (a *Allocator) rotate() {
	a.rotation.Lock()
	if a.current.Load() != nil {
		a.rotation.Unlock()
		return
	}
	blk, ok := a.leased.Pop()
	if !ok && a.authority.Load() {
		blk = a.mintOwn(a.onMint)
		ok = blk != 0
	}
	if !ok {
		blk = FallbackFirstBlock + rand.Uint32N(FallbackLastBlock-FallbackFirstBlock+1)
		a.fallbacks.Add(1)
		a.log.Warn("No block available, using a random fallback block", "block", blk)
	}
	a.current.Store(&block{offset: blk * BlockSize})
	a.rotation.Unlock()
	a.refill()
}

func (a *Allocator) refill() {
	a.rotation.Lock()
	req, hook := a.requester, a.onMint
	a.rotation.Unlock()
	want := RefillTarget - a.leased.Len() - int(a.inflight.Load())
	for ; want > 0; want-- {
		if a.authority.Load() {
			blk := a.mintOwn(hook)
			if blk == 0 {
				return
			}
			a.leased.Push(blk)
			continue
		}
		if req == nil {
			return
		}
		a.inflight.Add(1)
		if err := req.RequestBlock(); err != nil {
			a.inflight.Add(-1)
			a.log.Warn("Unable to request identity block", "err", err)
			return
		}
	}
}

func (a *Allocator) mintOwn(hook MintHook) uint32 {
	blk := a.Mint()
	if blk != 0 && hook != nil {
		hook(blk)
	}
	return blk
}
