package rendezvous_test

import (
	"testing"

	"github.com/andrebq/peerbus/rendezvous"
)

func TestParseEndpoint(t *testing.T) {
	for _, tc := range []struct {
		in, out string
		port    uint16
	}{
		{"10.0.0.1:5000", "10.0.0.1:5000", 5000},
		{"10.0.0.1", "10.0.0.1:0", 0},
		{"[fd00::1]:5000", "[fd00::1]:5000", 5000},
		{"fd00::1", "[fd00::1]:0", 0},
		{"[::ffff:10.0.0.1]:80", "10.0.0.1:80", 80},
		{" 127.0.0.1:1 ", "127.0.0.1:1", 1},
	} {
		ep, err := rendezvous.ParseEndpoint(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if ep.String() != tc.out || ep.Port() != tc.port {
			t.Errorf("%q: expecting %v got %v", tc.in, tc.out, ep)
		}
	}
	for _, bad := range []string{"", "localhost:80", "10.0.0.1:99999", "nope"} {
		if _, err := rendezvous.ParseEndpoint(bad); err == nil {
			t.Errorf("%q should not parse", bad)
		}
	}
}

func TestWrapHosts(t *testing.T) {
	hosts := []string{"[::1]:80", "10.0.0.1:80", "example.com:80", "::1"}
	rendezvous.WrapHosts(hosts)
	expected := []string{"[::1]:80", "10.0.0.1:80", "example.com:80", "::1"}
	for i := range hosts {
		if hosts[i] != expected[i] {
			t.Errorf("%v: expecting %v got %v", i, expected[i], hosts[i])
		}
	}
}
