package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/andrebq/peerbus/internal/metrics"
	"github.com/andrebq/peerbus/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type (
	Config struct {
		// Hosts where discovery listeners are opened for each new user,
		// DefaultHosts when empty.
		Hosts []string

		Logger   *slog.Logger
		Registry *prometheus.Registry
	}

	Server struct {
		cfg     Config
		log     *slog.Logger
		store   *store.Store
		metrics *metrics.Rendezvous

		mu        sync.Mutex
		closed    bool
		listeners map[uuid.UUID][]net.Listener
		knocks    map[uuid.UUID][]net.Conn
		wg        sync.WaitGroup
	}
)

func NewServer(st *store.Store, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = DefaultHosts()
	}
	var reg prometheus.Registerer
	if cfg.Registry != nil {
		reg = cfg.Registry
	}
	return &Server{
		cfg:       cfg,
		log:       cfg.Logger,
		store:     st,
		metrics:   metrics.NewRendezvous(reg),
		listeners: make(map[uuid.UUID][]net.Listener),
		knocks:    make(map[uuid.UUID][]net.Conn),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Get("/health/liveness", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Now time.Time `json:"now"`
		}{Now: time.Now()})
	})
	if s.cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}))
	}
	r.Post("/user", s.createUser)
	r.Get("/user/{id}", s.getUser)
	r.Post("/session", s.createSession)
	r.Get("/session", s.listSessions)
	r.Post("/session/{id}", s.joinSession)
	r.Get("/session/{id}", s.getSession)
	return r
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := http.Server{
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		ReadHeaderTimeout: time.Second * 10,
		MaxHeaderBytes:    1_000_000,
		Addr:              addr,
		Handler:           s.Handler(),
	}
	go func() {
		<-ctx.Done()
		timeout, cancel := context.WithTimeout(context.Background(), time.Minute)
		srv.Shutdown(timeout)
		cancel()
	}()
	s.log.Info("Starting rendezvous server", "addr", srv.Addr, "hosts", s.cfg.Hosts)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return errors.Join(err, s.Close())
}

// Close stops every discovery listener and drops the accepted sockets.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for id, lns := range s.listeners {
		for _, ln := range lns {
			ln.Close()
		}
		delete(s.listeners, id)
	}
	for id, conns := range s.knocks {
		for _, c := range conns {
			c.Close()
		}
		delete(s.knocks, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !readJSON(w, r, &req) {
		return
	}
	WrapHosts(req.LocalIPs)
	id := uuid.New()
	err := s.store.InTx(r.Context(), func(o store.Ops) error {
		return o.Registry().CreateUser(r.Context(), id, req.LocalIPs)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.metrics.Users.Inc()
	connectTo := s.openListeners(id)
	writeJSON(w, http.StatusOK, CreateUserResponse{UserID: id, ConnectToIPs: connectTo})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var info UserInfo
	err := s.store.InTx(r.Context(), func(o store.Ops) error {
		addrs, err := o.Registry().Addresses(r.Context(), id)
		info = UserInfo{ID: id, Addresses: addrs}
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.mu.Lock()
	for _, ln := range s.listeners[id] {
		info.Listeners = append(info.Listeners, ln.Addr().String())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !readJSON(w, r, &req) {
		return
	}
	id := uuid.New()
	err := s.store.InTx(r.Context(), func(o store.Ops) error {
		return o.Registry().CreateSession(r.Context(), id, req.User)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.metrics.Sessions.Inc()
	writeJSON(w, http.StatusOK, CreateSessionResponse{SessionID: id})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var out []SessionInfo
	err := s.store.InTx(r.Context(), func(o store.Ops) error {
		reg := o.Registry()
		ids, err := reg.Sessions(r.Context())
		if err != nil {
			return err
		}
		out = make([]SessionInfo, 0, len(ids))
		for _, id := range ids {
			members, err := reg.Members(r.Context(), id)
			if err != nil {
				return err
			}
			out = append(out, SessionInfo{ID: id, Members: members})
		}
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var info SessionInfo
	err := s.store.InTx(r.Context(), func(o store.Ops) error {
		members, err := o.Registry().Members(r.Context(), id)
		info = SessionInfo{ID: id, Members: members}
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// joinSession returns the candidates of every other member, in membership
// order, and then adds the joiner.
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req JoinSessionRequest
	if !readJSON(w, r, &req) {
		return
	}
	var res JoinSessionResponse
	err := s.store.InTx(r.Context(), func(o store.Ops) error {
		reg := o.Registry()
		if _, err := reg.Addresses(r.Context(), req.User); err != nil {
			return err
		}
		members, err := reg.Members(r.Context(), id)
		if err != nil {
			return err
		}
		res.RemoteHosts = make([][]string, 0, len(members))
		for _, m := range members {
			if m == req.User {
				continue
			}
			addrs, err := reg.Addresses(r.Context(), m)
			if err != nil {
				return err
			}
			res.RemoteHosts = append(res.RemoteHosts, addrs)
		}
		_, err = reg.AddMember(r.Context(), id, req.User)
		return err
	})
	if err != nil {
		s.metrics.Joins.WithLabelValues("failed").Inc()
		s.fail(w, err)
		return
	}
	s.metrics.Joins.WithLabelValues("joined").Inc()
	writeJSON(w, http.StatusOK, res)
}

// openListeners opens one ephemeral listener per configured host. Every
// connection they accept adds its remote endpoint to the user candidates.
func (s *Server) openListeners(user uuid.UUID) []string {
	out := []string{}
	for _, host := range s.cfg.Hosts {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			s.log.Warn("Unable to open discovery listener", "host", host, "user", user, "err", err)
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			ln.Close()
			break
		}
		s.listeners[user] = append(s.listeners[user], ln)
		s.wg.Add(1)
		s.mu.Unlock()
		s.metrics.Listeners.Inc()
		out = append(out, ln.Addr().String())
		go s.acceptKnocks(user, ln)
	}
	return out
}

func (s *Server) acceptKnocks(user uuid.UUID, ln net.Listener) {
	defer s.wg.Done()
	defer s.metrics.Listeners.Dec()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("Discovery listener failed", "user", user, "err", err)
			}
			return
		}
		remote := WrapHost(conn.RemoteAddr().String())
		err = s.store.InTx(context.Background(), func(o store.Ops) error {
			return o.Registry().AddAddress(context.Background(), user, remote)
		})
		if err != nil {
			s.log.Error("Unable to record discovered address", "user", user, "remote", remote, "err", err)
			conn.Close()
			continue
		}
		s.metrics.Knocks.Inc()
		s.log.Debug("Discovered address", "user", user, "remote", remote)
		s.mu.Lock()
		if s.closed {
			conn.Close()
		} else {
			s.knocks[user] = append(s.knocks[user], conn)
		}
		s.mu.Unlock()
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	s.log.Error("Request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func readJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
