// Package console serves an SSH shell to inspect and drive a running peer.
//
// A command passed on the ssh command line is evaluated once. Without one the
// session reads tengo scripts line by line. The bus module exposes the node:
//
//	bus := import("bus")
//	bus.connect("10.0.0.1:4000")
//	return bus.status()
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/andrebq/peerbus/internal/pattern"
	"github.com/andrebq/peerbus/peer"
	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
)

const DefaultAddr = "127.0.0.1:2000"

type (
	Config struct {
		Addr string
		// HostKey is generated on first use when the file is missing.
		HostKey        string
		AuthorizedKeys string
		AllowAnyKey    bool
		Logger         *slog.Logger
	}

	Server struct {
		node *peer.Node
		cfg  Config
		log  *slog.Logger
		keys []ssh.PublicKey
		srv  *ssh.Server
	}
)

var (
	whoamiCmd  = pattern.Prefix([]string{"whoami"}, nil)
	statusCmd  = pattern.Prefix([]string{"status"}, nil)
	connectCmd = pattern.Prefix([]string{"connect"}, pattern.Rest[string](1))
)

func New(node *peer.Node, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{node: node, cfg: cfg, log: cfg.Logger}
	if !cfg.AllowAnyKey {
		keys, err := ParseAuthorizedKeys(cfg.AuthorizedKeys)
		if err != nil {
			return nil, err
		}
		s.keys = keys
	}
	s.srv = &ssh.Server{
		Addr:             cfg.Addr,
		Handler:          s.sessionHandler,
		PublicKeyHandler: s.authorize,
	}
	if cfg.HostKey != "" {
		signer, err := LoadHostKey(cfg.HostKey)
		if err != nil {
			return nil, err
		}
		s.srv.AddHostKey(signer)
	}
	return s, nil
}

// ListenAndServe accepts sessions on the configured address until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("console: unable to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		s.srv.Close()
	}()
	s.log.Info("Starting console", "addr", ln.Addr().String(), "allowAnyKey", s.cfg.AllowAnyKey)
	err := s.srv.Serve(ln)
	if errors.Is(err, ssh.ErrServerClosed) {
		err = nil
	}
	return err
}

func (s *Server) authorize(ctx ssh.Context, key ssh.PublicKey) bool {
	if s.cfg.AllowAnyKey {
		return true
	}
	for _, k := range s.keys {
		if ssh.KeysEqual(k, key) {
			return true
		}
	}
	s.log.Warn("Console key rejected", "user", ctx.User(), "addr", ctx.RemoteAddr(), "fingerprint", gossh.FingerprintSHA256(key))
	return false
}

func (s *Server) sessionHandler(sess ssh.Session) {
	cmd := sess.Command()
	s.log.Info("Console session", "user", sess.User(), "addr", sess.RemoteAddr(), "command", cmd)
	exitCode := 0
	defer func() {
		sess.Exit(exitCode)
	}()

	switch {
	case pattern.Match(cmd, whoamiCmd):
		exitCode = s.whoami(sess)
	case pattern.Match(cmd, statusCmd):
		exitCode = report(sess, json.NewEncoder(sess).Encode(statusMap(s.node.Status())))
	case pattern.Match(cmd, connectCmd):
		ctx, cancel := context.WithTimeout(sess.Context(), time.Minute)
		remote, err := s.node.Connect(ctx, cmd[1:]...)
		cancel()
		if err == nil {
			fmt.Fprintln(sess, remote.String())
		}
		exitCode = report(sess, err)
	case len(cmd) > 0:
		sh := s.Shell(sess.Context(), sess)
		var out bytes.Buffer
		if err := sh.Print(sess.Context(), &out, sess.RawCommand()); err != nil {
			exitCode = 1
			break
		}
		if strings.HasPrefix(out.String(), "error: ") {
			exitCode = 1
			io.Copy(sess.Stderr(), &out)
		} else {
			io.Copy(sess, &out)
		}
	default:
		fmt.Fprintf(sess, "peerbus console %v\n", s.node.Status().Address)
		sh := s.Shell(sess.Context(), sess)
		if err := sh.Serve(sess.Context(), sess, sess, "peerbus> "); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Console session failed", "err", err)
			exitCode = 1
		}
	}
}

func (s *Server) whoami(sess ssh.Session) int {
	var key, fingerprint string
	if pk := sess.PublicKey(); pk != nil {
		key = string(bytes.TrimSpace(gossh.MarshalAuthorizedKey(pk)))
		fingerprint = gossh.FingerprintSHA256(pk)
	}
	return report(sess, json.NewEncoder(sess).Encode(struct {
		User        string    `json:"user"`
		Key         string    `json:"key"`
		Fingerprint string    `json:"fingerprint"`
		Peer        string    `json:"peer"`
		Now         time.Time `json:"now"`
	}{
		User:        sess.User(),
		Key:         key,
		Fingerprint: fingerprint,
		Peer:        s.node.Status().Address.String(),
		Now:         time.Now(),
	}))
}

func report(sess ssh.Session, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(sess.Stderr(), "error: %v\n", err)
	return 1
}
