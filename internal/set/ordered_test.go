package set_test

import (
	"testing"

	"github.com/andrebq/peerbus/internal/set"
)

func TestOrdered(t *testing.T) {
	var s set.Ordered[string]
	if !s.Add("a") || !s.Add("b") || !s.Add("c") {
		t.Fatal("fresh items should be added")
	}
	if s.Add("b") {
		t.Fatal("duplicate should be ignored")
	}
	if !s.Remove("b") {
		t.Fatal("missing item from set")
	}
	if s.Remove("b") {
		t.Fatal("item removed twice")
	}
	got := s.Snapshot(nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("order not preserved: %v", got)
	}
	got[0] = "z"
	if !s.Has("a") {
		t.Fatal("snapshot should not alias the set")
	}
}
