package peer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/andrebq/peerbus/bus/dispatch"
	"github.com/andrebq/peerbus/bus/ids"
	"github.com/andrebq/peerbus/bus/transport"
	"github.com/andrebq/peerbus/internal/versionhash"
	"github.com/andrebq/peerbus/peer"
	"github.com/prometheus/client_golang/prometheus"
)

type inbox struct {
	mu    sync.Mutex
	texts []string
	from  []ids.RoutingAddress
}

func (i *inbox) Receive(m *peer.BroadcastText, from ids.RoutingAddress) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.texts = append(i.texts, m.Text)
	i.from = append(i.from, from)
	return true, nil
}

func (i *inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.texts)
}

func start(ctx context.Context, t *testing.T, authority bool) (*peer.Node, *inbox) {
	t.Helper()
	n, err := peer.New(peer.Config{
		Authority:  authority,
		Version:    versionhash.Hash{0xca, 0xfe},
		Tick:       time.Millisecond,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatal(err)
	}
	box := &inbox{}
	dispatch.Subscribe[*peer.BroadcastText](n.Bus, box)
	go n.Run(ctx)
	return n, box
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %v", what)
}

func connected(n *peer.Node, count int) bool {
	peers := n.Status().Peers
	if len(peers) != count {
		return false
	}
	for _, p := range peers {
		if p.State != transport.Connected {
			return false
		}
	}
	return true
}

func TestTwoPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, _ := start(ctx, t, true)
	b, _ := start(ctx, t, false)
	addr, err := a.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Connect(ctx, addr.String()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "handshake", func() bool { return connected(a, 1) && connected(b, 1) })

	rtt, from, err := a.Ping.Probe(ctx, b.Status().Address)
	if err != nil {
		t.Fatal(err)
	}
	if rtt < 0 || from != b.Status().Address {
		t.Fatalf("unexpected probe %v from %v", rtt, from)
	}

	id := b.NewID()
	owner, ok := a.Transport.OwnerOf(id)
	if !ok || owner != b.Status().Address {
		t.Fatalf("a should resolve %v to b, got %v %v", id, owner, ok)
	}
}

func TestSayReachesEveryOtherPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, boxA := start(ctx, t, true)
	b, boxB := start(ctx, t, false)
	c, boxC := start(ctx, t, false)
	addr, err := a.Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []*peer.Node{b, c} {
		if _, err := n.Connect(ctx, addr.String()); err != nil {
			t.Fatal(err)
		}
	}
	eventually(t, "star", func() bool { return connected(a, 2) && connected(b, 1) && connected(c, 1) })

	if err := a.Say("olá 👋"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "broadcast", func() bool { return boxB.Len() == 1 && boxC.Len() == 1 })
	time.Sleep(50 * time.Millisecond)
	if boxB.Len() != 1 || boxC.Len() != 1 || boxA.Len() != 0 {
		t.Fatalf("unexpected deliveries a=%v b=%v c=%v", boxA.Len(), boxB.Len(), boxC.Len())
	}
	if boxB.texts[0] != "olá 👋" || boxB.from[0] != a.Status().Address {
		t.Fatalf("unexpected text %q from %v", boxB.texts[0], boxB.from[0])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n, err := peer.New(peer.Config{Version: versionhash.Hash{1}})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancel is a clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
