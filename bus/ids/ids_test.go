package ids_test

import (
	"errors"
	"testing"

	"github.com/andrebq/peerbus/bus/ids"
)

func TestAddressKinds(t *testing.T) {
	if !ids.Broadcast.IsBroadcast() || ids.Broadcast.Portable() {
		t.Fatal("zero must be broadcast and not portable")
	}
	local, err := ids.LocalAddress(4)
	if err != nil {
		t.Fatal(err)
	}
	if slot, ok := local.Slot(); !ok || slot != 4 {
		t.Fatalf("expected slot 4 got %v %v", slot, ok)
	}
	if _, err := ids.LocalAddress(ids.BlockSize); !errors.Is(err, ids.ErrSlotRange) {
		t.Fatalf("expected range error got %v", err)
	}
	portable := ids.BlockAddress(3)
	if !portable.Portable() || portable != 3*ids.BlockSize {
		t.Fatalf("unexpected block address %v", portable)
	}
	if _, ok := portable.Slot(); ok {
		t.Fatal("portable address has no slot")
	}
}

func TestCheckedConversions(t *testing.T) {
	if _, err := ids.AddressOf(ids.ObjectIdentity(10)); !errors.Is(err, ids.ErrNotPortable) {
		t.Fatalf("local identity should not convert: %v", err)
	}
	if _, err := ids.IdentityOf(ids.RoutingAddress(1)); !errors.Is(err, ids.ErrNotPortable) {
		t.Fatalf("local address should not convert: %v", err)
	}
	addr, err := ids.AddressOf(ids.ObjectIdentity(5 * ids.BlockSize))
	if err != nil || addr != ids.BlockAddress(5) {
		t.Fatalf("unexpected conversion %v %v", addr, err)
	}
	if id := ids.ObjectIdentity(5*ids.BlockSize + 17); id.Block() != 5 {
		t.Fatalf("block of %v should be 5", id)
	}
}

func TestOwnersFirstWriterWins(t *testing.T) {
	o := ids.NewOwners()
	if !o.Record(7, ids.BlockAddress(2)) {
		t.Fatal("first record should win")
	}
	if o.Record(7, ids.BlockAddress(3)) {
		t.Fatal("second record should be ignored")
	}
	if o.Record(0, ids.BlockAddress(3)) {
		t.Fatal("block zero is never owned")
	}
	owner, ok := o.Of(ids.ObjectIdentity(7*ids.BlockSize + 1000))
	if !ok || owner != ids.BlockAddress(2) {
		t.Fatalf("unexpected owner %v %v", owner, ok)
	}
	if _, ok := o.Of(ids.ObjectIdentity(8 * ids.BlockSize)); ok {
		t.Fatal("block 8 has no owner")
	}
}

func TestOwnersSnapshotIsSorted(t *testing.T) {
	o := ids.NewOwners()
	o.Record(9, ids.BlockAddress(1))
	o.Record(2, ids.BlockAddress(2))
	o.Record(5, ids.BlockAddress(1))
	snap := o.Snapshot()
	want := []ids.Ownership{
		{Block: 2, Owner: ids.BlockAddress(2)},
		{Block: 5, Owner: ids.BlockAddress(1)},
		{Block: 9, Owner: ids.BlockAddress(1)},
	}
	if len(snap) != len(want) {
		t.Fatalf("expected %v got %v", want, snap)
	}
	for i := range want {
		if snap[i] != want[i] {
			t.Fatalf("expected %v got %v", want, snap)
		}
	}
}
