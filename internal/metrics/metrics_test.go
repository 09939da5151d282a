package metrics_test

import (
	"testing"

	"github.com/andrebq/peerbus/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeAllocator struct{}

func (fakeAllocator) Fallbacks() uint64 { return 2 }
func (fakeAllocator) Leased() int       { return 10 }

func TestRegisterAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := metrics.NewTransport(reg)
	metrics.NewBus(reg)
	metrics.RegisterAllocator(reg, fakeAllocator{})
	metrics.NewRendezvous(reg)

	tr.Frames.WithLabelValues("in").Inc()
	tr.Connections.WithLabelValues("connected").Set(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, n := range []string{"peerbus_transport_frames_total", "peerbus_transport_connections", "peerbus_ids_leased_blocks"} {
		if !names[n] {
			t.Fatalf("metric %v not gathered, got %v", n, names)
		}
	}
}

func TestUnregistered(t *testing.T) {
	// two sets with the same names must not collide when no registry is used
	a := metrics.NewTransport(nil)
	b := metrics.NewTransport(nil)
	a.ParseErrors.Inc()
	b.ParseErrors.Inc()
}
