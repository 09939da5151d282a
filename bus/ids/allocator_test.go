package ids_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/andrebq/peerbus/bus/ids"
)

func drawConcurrently(a *ids.Allocator, n int) []ids.ObjectIdentity {
	out := make([]ids.ObjectIdentity, n)
	var wg sync.WaitGroup
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = a.NewID()
		}(i)
	}
	wg.Wait()
	return out
}

func TestDrawsCoverBlockExactly(t *testing.T) {
	a := ids.NewAllocator(nil)
	a.Acquire(5)
	drawn := drawConcurrently(a, ids.BlockSize)
	seen := make(map[ids.ObjectIdentity]bool, len(drawn))
	for _, id := range drawn {
		if id.Block() != 5 {
			t.Fatalf("identity %v outside block 5", id)
		}
		if seen[id] {
			t.Fatalf("identity %v drawn twice", id)
		}
		seen[id] = true
	}
	if len(seen) != ids.BlockSize {
		t.Fatalf("expected %v identities got %v", ids.BlockSize, len(seen))
	}
	if a.Fallbacks() != 0 {
		t.Fatal("no fallback expected")
	}
}

func TestRetirementHappensOnce(t *testing.T) {
	a := ids.NewAllocator(nil)
	a.Acquire(5)
	a.Acquire(6)
	a.Acquire(7)
	for i := 0; i < ids.BlockSize; i++ {
		a.NewID()
	}
	drawn := drawConcurrently(a, 64)
	seen := map[ids.ObjectIdentity]bool{}
	for _, id := range drawn {
		if id.Block() != 6 {
			t.Fatalf("all racers should draw from block 6, got %v", id)
		}
		if seen[id] {
			t.Fatalf("identity %v drawn twice", id)
		}
		seen[id] = true
	}
	if a.Leased() != 1 {
		t.Fatalf("only block 6 should have been taken from the queue, left %v", a.Leased())
	}
}

func TestAuthorityMintsAndRefills(t *testing.T) {
	a := ids.NewAllocator(nil)
	a.SetAuthority(true)
	first := a.NewID()
	if first.Block() != 1 || uint32(first) != ids.BlockSize {
		t.Fatalf("authority should start at block 1, got %v", first)
	}
	if a.Leased() != ids.RefillTarget {
		t.Fatalf("expected %v leased blocks got %v", ids.RefillTarget, a.Leased())
	}
	if next := a.Mint(); next != ids.RefillTarget+2 {
		t.Fatalf("unexpected next mint %v", next)
	}
}

func TestMintStopsAtFallbackRange(t *testing.T) {
	a := ids.NewAllocator(nil)
	a.SetMinted(ids.FallbackFirstBlock - 2)
	if b := a.Mint(); b != ids.FallbackFirstBlock-1 {
		t.Fatalf("expected last normal block got %v", b)
	}
	if b := a.Mint(); b != 0 {
		t.Fatalf("mint should be exhausted, got %v", b)
	}
	if b := a.Mint(); b != 0 {
		t.Fatalf("mint should stay exhausted, got %v", b)
	}
	a.SetAuthority(true)
	id := a.NewID()
	if blk := id.Block(); blk < ids.FallbackFirstBlock || blk > ids.FallbackLastBlock {
		t.Fatalf("expected a fallback block got %v", blk)
	}
	if a.Fallbacks() != 1 {
		t.Fatalf("expected one fallback got %v", a.Fallbacks())
	}
}

func TestFallbackWithoutAuthority(t *testing.T) {
	a := ids.NewAllocator(nil)
	a.SetRequester(ids.RequesterFunc(func() error { return errors.New("offline") }))
	id := a.NewID()
	if id.Block() < ids.FallbackFirstBlock {
		t.Fatalf("expected fallback identity got %v", id)
	}
}

func TestRequestsAreNotDuplicated(t *testing.T) {
	var requests atomic.Int32
	a := ids.NewAllocator(nil)
	a.SetRequester(ids.RequesterFunc(func() error {
		requests.Add(1)
		return nil
	}))
	a.Acquire(3)
	a.NewID()
	a.NewID()
	if n := requests.Load(); n != ids.RefillTarget {
		t.Fatalf("expected %v requests got %v", ids.RefillTarget, n)
	}
	a.Acquire(4)
	for i := 0; i < ids.BlockSize; i++ {
		a.NewID()
	}
	// block 4 was pulled from the queue, nine answers are still pending
	if n := requests.Load(); n != ids.RefillTarget+1 {
		t.Fatalf("expected %v requests got %v", ids.RefillTarget+1, n)
	}
}

func TestAdoptStartsBlock(t *testing.T) {
	a := ids.NewAllocator(nil)
	a.NewID()
	first := a.Adopt(9)
	if uint32(first) != 9*ids.BlockSize {
		t.Fatalf("adopted block should yield its offset, got %v", first)
	}
	if next := a.NewID(); uint32(next) != 9*ids.BlockSize+1 {
		t.Fatalf("expected second identity of block 9, got %v", next)
	}
}

func TestMintHookSeesOwnBlocks(t *testing.T) {
	a := ids.NewAllocator(nil)
	a.SetAuthority(true)
	var seen []uint32
	a.OnMint(func(blk uint32) { seen = append(seen, blk) })

	first := a.NewID()
	if len(seen) != ids.RefillTarget+1 || seen[0] != first.Block() {
		t.Fatalf("hook should see the current block and every refill, got %v", seen)
	}
	for i, blk := range seen {
		if blk != uint32(i+1) {
			t.Fatalf("unexpected block order %v", seen)
		}
	}

	// blocks minted for other peers are not reported
	other := a.Mint()
	for i := 1; i < ids.BlockSize; i++ {
		a.NewID()
	}
	if len(seen) != ids.RefillTarget+1 {
		t.Fatalf("hook should not fire while the current block lasts, got %v", seen)
	}
	a.NewID()
	if len(seen) != ids.RefillTarget+2 || seen[len(seen)-1] != other+1 {
		t.Fatalf("rotation should refill one block past %v, got %v", other, seen)
	}
}
