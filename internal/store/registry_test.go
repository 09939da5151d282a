package store_test

import (
	"context"
	"testing"

	"github.com/andrebq/peerbus/internal/store"
	"github.com/google/uuid"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	u1, u2, s := uuid.New(), uuid.New(), uuid.New()
	err = st.InTx(ctx, func(o store.Ops) error {
		reg := o.Registry()
		if err := reg.CreateUser(ctx, u1, []string{"10.0.0.1:5000", "10.0.0.1:5000", "[::1]:5000"}); err != nil {
			return err
		}
		if err := reg.CreateUser(ctx, u2, nil); err != nil {
			return err
		}
		return reg.CreateSession(ctx, s, u1)
	})
	if err != nil {
		t.Fatal(err)
	}

	ops := st.Ops(ctx, true)
	defer ops.Close()
	reg := ops.Registry()

	addrs, err := reg.Addresses(ctx, u1)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 || addrs[0] != "10.0.0.1:5000" || addrs[1] != "[::1]:5000" {
		t.Fatalf("addresses should keep order without duplicates: %v", addrs)
	}
	if added, err := reg.AddMember(ctx, s, u2); err != nil || !added {
		t.Fatalf("u2 should join: %v %v", added, err)
	}
	if added, err := reg.AddMember(ctx, s, u1); err != nil || added {
		t.Fatalf("u1 is already a member: %v %v", added, err)
	}
	members, err := reg.Members(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0] != u1 || members[1] != u2 {
		t.Fatalf("unexpected members %v", members)
	}
	sessions, err := reg.Sessions(ctx)
	if err != nil || len(sessions) != 1 || sessions[0] != s {
		t.Fatalf("unexpected sessions %v %v", sessions, err)
	}
}

func TestRegistryNotFound(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ops := st.Ops(ctx, false)
	defer ops.Close()
	reg := ops.Registry()
	if _, err := reg.Addresses(ctx, uuid.New()); !store.IsNotFound(err) {
		t.Fatalf("expected not found got %v", err)
	}
	if _, err := reg.Members(ctx, uuid.New()); !store.IsNotFound(err) {
		t.Fatalf("expected not found got %v", err)
	}
	if _, err := reg.AddMember(ctx, uuid.New(), uuid.New()); !store.IsNotFound(err) {
		t.Fatalf("expected not found got %v", err)
	}
}
