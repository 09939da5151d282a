// Package metrics holds the prometheus collectors used by peerbus.
//
// Constructors register on the given Registerer, a nil Registerer keeps the
// collectors unregistered which is what tests want.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "peerbus"

type (
	Transport struct {
		Frames      *prometheus.CounterVec
		Bytes       *prometheus.CounterVec
		ParseErrors prometheus.Counter
		Rejections  *prometheus.CounterVec
		Connections *prometheus.GaugeVec
	}

	Bus struct {
		Dispatched prometheus.Counter
		Unhandled  prometheus.Counter
		Failures   prometheus.Counter
		Pending    *prometheus.GaugeVec
	}

	// AllocatorSource is read on every scrape.
	AllocatorSource interface {
		Fallbacks() uint64
		Leased() int
	}

	Rendezvous struct {
		Users     prometheus.Counter
		Sessions  prometheus.Counter
		Joins     *prometheus.CounterVec
		Knocks    prometheus.Counter
		Listeners prometheus.Gauge
	}
)

func NewTransport(reg prometheus.Registerer) *Transport {
	f := promauto.With(reg)
	return &Transport{
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames moved by the transport.",
		}, []string{"direction"}),
		Bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Bytes moved by the transport.",
		}, []string{"direction"}),
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "parse_errors_total",
			Help:      "Frames that could not be decoded.",
		}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "handshake_rejections_total",
			Help:      "Connections closed during the handshake.",
		}, []string{"reason"}),
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Connections by state.",
		}, []string{"state"}),
	}
}

func NewBus(reg prometheus.Registerer) *Bus {
	f := promauto.With(reg)
	return &Bus{
		Dispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dispatched_total",
			Help:      "Messages delivered to subscribers.",
		}),
		Unhandled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "unhandled_total",
			Help:      "Messages no subscriber handled.",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "subscriber_failures_total",
			Help:      "Subscriber calls that returned an error or panicked.",
		}),
		Pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "pending",
			Help:      "Items waiting for the next tick.",
		}, []string{"queue"}),
	}
}

// RegisterAllocator exposes the allocator counters as scrape time functions.
func RegisterAllocator(reg prometheus.Registerer, src AllocatorSource) {
	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ids",
		Name:      "fallback_blocks_total",
		Help:      "Blocks picked from the random fallback range.",
	}, func() float64 { return float64(src.Fallbacks()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ids",
		Name:      "leased_blocks",
		Help:      "Blocks queued for future draws.",
	}, func() float64 { return float64(src.Leased()) })
}

func NewRendezvous(reg prometheus.Registerer) *Rendezvous {
	f := promauto.With(reg)
	return &Rendezvous{
		Users: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "users_total",
			Help:      "Users registered.",
		}),
		Sessions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "sessions_total",
			Help:      "Sessions created.",
		}),
		Joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "joins_total",
			Help:      "Session join attempts by outcome.",
		}, []string{"outcome"}),
		Knocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "knocks_total",
			Help:      "Connections accepted on user discovery listeners.",
		}),
		Listeners: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "listeners",
			Help:      "Open user discovery listeners.",
		}),
	}
}
