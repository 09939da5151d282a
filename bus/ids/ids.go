// Package ids holds the two 32 bit identifier namespaces used by the bus and
// the block based allocator that hands out object identities.
package ids

import (
	"errors"
	"fmt"
	"math"
)

type (
	// RoutingAddress names a peer. Zero is broadcast, values below BlockSize
	// are local connection slots and never leave the process.
	RoutingAddress uint32

	// ObjectIdentity names a long lived object. Its block (id / BlockSize)
	// tells which peer minted it.
	ObjectIdentity uint32
)

const (
	BlockSize = 1024

	Broadcast RoutingAddress = 0

	FallbackOffset     = 0xff000000
	FallbackFirstBlock = FallbackOffset / BlockSize
	FallbackLastBlock  = math.MaxUint32 / BlockSize
)

var (
	ErrNotPortable = errors.New("ids: value is local only")
	ErrSlotRange   = errors.New("ids: slot out of range")
)

func (a RoutingAddress) IsBroadcast() bool { return a == Broadcast }
func (a RoutingAddress) Portable() bool    { return a >= BlockSize }

// Slot returns the connection slot of a local address.
func (a RoutingAddress) Slot() (int, bool) {
	if a == Broadcast || a.Portable() {
		return 0, false
	}
	return int(a) - 1, true
}

func (a RoutingAddress) String() string {
	switch {
	case a == Broadcast:
		return "broadcast"
	case !a.Portable():
		return fmt.Sprintf("local:%d", int(a)-1)
	}
	return fmt.Sprintf("%08x", uint32(a))
}

// LocalAddress is the process local address of a connection slot.
func LocalAddress(slot int) (RoutingAddress, error) {
	if slot < 0 || slot >= BlockSize-1 {
		return 0, fmt.Errorf("%w: %d", ErrSlotRange, slot)
	}
	return RoutingAddress(slot + 1), nil
}

// BlockAddress is the portable address given to the peer that owns block.
func BlockAddress(block uint32) RoutingAddress {
	return RoutingAddress(block * BlockSize)
}

func (id ObjectIdentity) Block() uint32  { return uint32(id) / BlockSize }
func (id ObjectIdentity) Portable() bool { return id >= BlockSize }

func (id ObjectIdentity) String() string { return fmt.Sprintf("%08x", uint32(id)) }

// AddressOf reinterprets an identity as a routing address. Only portable
// values cross namespaces.
func AddressOf(id ObjectIdentity) (RoutingAddress, error) {
	if !id.Portable() {
		return 0, fmt.Errorf("%w: identity %v", ErrNotPortable, id)
	}
	return RoutingAddress(id), nil
}

func IdentityOf(a RoutingAddress) (ObjectIdentity, error) {
	if !a.Portable() {
		return 0, fmt.Errorf("%w: address %v", ErrNotPortable, a)
	}
	return ObjectIdentity(a), nil
}
