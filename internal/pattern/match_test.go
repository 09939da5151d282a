package pattern_test

import (
	"testing"

	"github.com/andrebq/peerbus/internal/pattern"
)

func TestPattern(t *testing.T) {
	input := []string{"abc", "123", "456"}
	if !pattern.Match(input, pattern.Prefix([]string{"abc", "123"}, pattern.Equal("456"))) {
		t.Fatal("Match failed but should pass")
	}
	if pattern.Match(input, pattern.Prefix([]string{"abc"}, nil)) {
		t.Fatal("Trailing items should not match")
	}
	if pattern.Match([]string{"abc"}, pattern.Prefix([]string{"abc", "123"}, nil)) {
		t.Fatal("Short input should not match")
	}
}

func TestRest(t *testing.T) {
	connect := pattern.Prefix([]string{"connect"}, pattern.Rest[string](1))
	for _, tc := range []struct {
		input []string
		match bool
	}{
		{[]string{"connect", "10.0.0.1:4000"}, true},
		{[]string{"connect", "a", "b", "c"}, true},
		{[]string{"connect"}, false},
		{[]string{"status", "a"}, false},
		{nil, false},
	} {
		if got := pattern.Match(tc.input, connect); got != tc.match {
			t.Errorf("%v: expecting %v got %v", tc.input, tc.match, got)
		}
	}
}
