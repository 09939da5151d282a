package rendezvous_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/andrebq/peerbus/internal/store"
	"github.com/andrebq/peerbus/rendezvous"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func newService(t *testing.T) (*rendezvous.Server, *rendezvous.Client) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	srv := rendezvous.NewServer(st, rendezvous.Config{
		Hosts:    []string{"127.0.0.1"},
		Registry: prometheus.NewRegistry(),
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		srv.Close()
		st.Close()
	})
	return srv, rendezvous.NewClient(hs.URL, hs.Client())
}

func TestJoinReturnsOtherMembers(t *testing.T) {
	ctx := context.Background()
	_, c := newService(t)

	u1, err := c.CreateUser(ctx, []string{"10.0.0.1:5000"})
	if err != nil {
		t.Fatal(err)
	}
	if len(u1.ConnectToIPs) != 1 {
		t.Fatalf("Expecting one discovery listener got %v", u1.ConnectToIPs)
	}
	sess, err := c.CreateSession(ctx, u1.UserID)
	if err != nil {
		t.Fatal(err)
	}
	u2, err := c.CreateUser(ctx, []string{"10.0.0.2:5000", "fd00::2"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.JoinSession(ctx, sess.SessionID, u2.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if expected := [][]string{{"10.0.0.1:5000"}}; !reflect.DeepEqual(res.RemoteHosts, expected) {
		t.Fatalf("Expecting %v got %v", expected, res.RemoteHosts)
	}

	u3, err := c.CreateUser(ctx, []string{"[fd00::3]:7000"})
	if err != nil {
		t.Fatal(err)
	}
	res, err = c.JoinSession(ctx, sess.SessionID, u3.UserID)
	if err != nil {
		t.Fatal(err)
	}
	expected := [][]string{{"10.0.0.1:5000"}, {"10.0.0.2:5000", "fd00::2"}}
	if !reflect.DeepEqual(res.RemoteHosts, expected) {
		t.Fatalf("Expecting %v got %v", expected, res.RemoteHosts)
	}

	// joining again does not list the joiner nor duplicate it
	res, err = c.JoinSession(ctx, sess.SessionID, u2.UserID)
	if err != nil {
		t.Fatal(err)
	}
	expected = [][]string{{"10.0.0.1:5000"}, {"[fd00::3]:7000"}}
	if !reflect.DeepEqual(res.RemoteHosts, expected) {
		t.Fatalf("Expecting %v got %v", expected, res.RemoteHosts)
	}
	info, err := c.Session(ctx, sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if expected := []uuid.UUID{u1.UserID, u2.UserID, u3.UserID}; !reflect.DeepEqual(info.Members, expected) {
		t.Fatalf("Expecting members %v got %v", expected, info.Members)
	}
}

func TestNewSessionHasOnlyCreator(t *testing.T) {
	ctx := context.Background()
	_, c := newService(t)
	u, err := c.CreateUser(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := c.CreateSession(ctx, u.UserID)
	if err != nil {
		t.Fatal(err)
	}
	info, err := c.Session(ctx, sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Members) != 1 || info.Members[0] != u.UserID {
		t.Fatalf("Expecting only the creator got %v", info.Members)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	_, c := newService(t)
	u, err := c.CreateUser(ctx, []string{"10.0.0.1:5000"})
	if err != nil {
		t.Fatal(err)
	}
	sess, err := c.CreateSession(ctx, u.UserID)
	if err != nil {
		t.Fatal(err)
	}

	expect404 := func(name string, err error) {
		t.Helper()
		var se *rendezvous.StatusError
		if !errors.As(err, &se) || se.Code != http.StatusNotFound {
			t.Fatalf("%v: expecting 404 got %v", name, err)
		}
	}
	_, err = c.JoinSession(ctx, uuid.New(), u.UserID)
	expect404("unknown session", err)
	_, err = c.JoinSession(ctx, sess.SessionID, uuid.New())
	expect404("unknown user", err)
	_, err = c.CreateSession(ctx, uuid.New())
	expect404("unknown creator", err)
	_, err = c.User(ctx, uuid.New())
	expect404("unknown user info", err)

	info, err := c.Session(ctx, sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Members) != 1 {
		t.Fatalf("Failed joins should not change the session, got %v", info.Members)
	}
}

func TestBadRequests(t *testing.T) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	srv := rendezvous.NewServer(st, rendezvous.Config{Hosts: []string{"127.0.0.1"}})
	defer srv.Close()
	h := srv.Handler()

	for _, tc := range []struct {
		method, path, body string
		status             int
	}{
		{"POST", "/user", "{", http.StatusBadRequest},
		{"POST", "/session/not-a-uuid", `{"user":"` + uuid.NewString() + `"}`, http.StatusBadRequest},
		{"GET", "/user/not-a-uuid", "", http.StatusBadRequest},
		{"GET", "/health/liveness", "", http.StatusOK},
		{"GET", "/nowhere", "", http.StatusNotFound},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		if rec.Code != tc.status {
			t.Errorf("%v %v: expecting %v got %v", tc.method, tc.path, tc.status, rec.Code)
		}
	}
}

func TestKnockAddsAddress(t *testing.T) {
	ctx := context.Background()
	_, c := newService(t)
	u, err := c.CreateUser(ctx, []string{"10.0.0.1:5000"})
	if err != nil {
		t.Fatal(err)
	}
	conns := rendezvous.Knock(ctx, u.ConnectToIPs, nil)
	if len(conns) != 1 {
		t.Fatalf("Expecting one knock got %v", len(conns))
	}
	defer conns[0].Close()
	local := rendezvous.WrapHost(conns[0].LocalAddr().String())

	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := c.User(ctx, u.UserID)
		if err != nil {
			t.Fatal(err)
		}
		if len(info.Addresses) == 2 {
			if info.Addresses[0] != "10.0.0.1:5000" || info.Addresses[1] != local {
				t.Fatalf("Unexpected addresses %v", info.Addresses)
			}
			if len(info.Listeners) != 1 {
				t.Fatalf("Expecting one listener got %v", info.Listeners)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Knock never recorded, addresses %v", info.Addresses)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	_, c := newService(t)
	first, err := rendezvous.Bootstrap(ctx, c, 5000, uuid.Nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	if first.Session == uuid.Nil || len(first.Candidates) != 0 {
		t.Fatalf("Creator should start alone: %+v", first)
	}
	second, err := rendezvous.Bootstrap(ctx, c, 5001, first.Session, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if second.Session != first.Session {
		t.Fatalf("Expecting session %v got %v", first.Session, second.Session)
	}
	found := false
	for _, cand := range second.Candidates {
		ep, err := rendezvous.ParseEndpoint(cand)
		if err != nil {
			t.Fatal(err)
		}
		if ep.Port() == 5000 {
			found = true
		}
	}
	if !found {
		t.Fatalf("Expecting a candidate on port 5000 got %v", second.Candidates)
	}
}

func TestNoListenersGivesEmptyList(t *testing.T) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	// documentation range, never a local address
	srv := rendezvous.NewServer(st, rendezvous.Config{Hosts: []string{"192.0.2.1"}})
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/user", strings.NewReader(`{"localIps":["10.0.0.1:5000"]}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expecting 200 got %v: %v", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"connectToIps":[]`) {
		t.Fatalf("expecting an empty list, got %v", rec.Body.String())
	}
}
