// Package config loads the optional TOML file behind the peerbus commands.
// Values are applied in order: defaults, file, flags set on the command line.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/andrebq/peerbus/internal/commonpaths"
	"github.com/google/uuid"
)

type (
	Peer struct {
		Authority        bool
		Listen           string
		Connect          []string
		Tick             time.Duration
		HandshakeTimeout time.Duration
		DialTimeout      time.Duration
		MetricsAddr      string

		Rendezvous RendezvousClient
		Console    Console
	}

	RendezvousClient struct {
		URL string
		// Session to join, a new one is created when empty.
		Session string
	}

	Console struct {
		Addr           string
		HostKey        string
		AuthorizedKeys string
		AllowAnyKey    bool
	}

	Rendezvous struct {
		Addr    string
		Hosts   []string
		DataDir string
	}

	fileConfig struct {
		Authority        bool     `toml:"authority"`
		Listen           string   `toml:"listen"`
		Connect          []string `toml:"connect"`
		Tick             string   `toml:"tick"`
		HandshakeTimeout string   `toml:"handshake_timeout"`
		DialTimeout      string   `toml:"dial_timeout"`
		MetricsAddr      string   `toml:"metrics_addr"`

		Rendezvous struct {
			URL     string   `toml:"url"`
			Session string   `toml:"session"`
			Addr    string   `toml:"addr"`
			Hosts   []string `toml:"hosts"`
			DataDir string   `toml:"data_dir"`
		} `toml:"rendezvous"`

		Console struct {
			Addr           string `toml:"addr"`
			HostKey        string `toml:"host_key"`
			AuthorizedKeys string `toml:"authorized_keys"`
			AllowAnyKey    bool   `toml:"allow_any_key"`
		} `toml:"console"`
	}
)

func DefaultPeer() Peer {
	return Peer{
		Listen:           "0.0.0.0:0",
		Tick:             20 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
		DialTimeout:      5 * time.Second,
		Console: Console{
			AuthorizedKeys: filepath.Join(commonpaths.DefaultSSHDir(), "authorized_keys"),
		},
	}
}

func DefaultRendezvous() Rendezvous {
	return Rendezvous{
		Addr: "127.0.0.1:8080",
	}
}

// LoadPeer applies the file at path over cfg. A missing file at the default
// path is not an error.
func LoadPeer(path string, cfg *Peer) error {
	raw, meta, err := decode(path)
	if err != nil || meta == nil {
		return err
	}
	if meta.IsDefined("authority") {
		cfg.Authority = raw.Authority
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("connect") {
		cfg.Connect = normalize(raw.Connect)
	}
	for _, d := range []struct {
		key  string
		raw  string
		dest *time.Duration
	}{
		{"tick", raw.Tick, &cfg.Tick},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"dial_timeout", raw.DialTimeout, &cfg.DialTimeout},
	} {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("config: parse %v: %w", d.key, err)
		}
		*d.dest = v
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("rendezvous", "url") {
		cfg.Rendezvous.URL = strings.TrimSpace(raw.Rendezvous.URL)
	}
	if meta.IsDefined("rendezvous", "session") {
		cfg.Rendezvous.Session = strings.TrimSpace(raw.Rendezvous.Session)
	}
	if meta.IsDefined("console", "addr") {
		cfg.Console.Addr = strings.TrimSpace(raw.Console.Addr)
	}
	if meta.IsDefined("console", "host_key") {
		cfg.Console.HostKey = commonpaths.Expand(raw.Console.HostKey)
	}
	if meta.IsDefined("console", "authorized_keys") {
		cfg.Console.AuthorizedKeys = commonpaths.Expand(raw.Console.AuthorizedKeys)
	}
	if meta.IsDefined("console", "allow_any_key") {
		cfg.Console.AllowAnyKey = raw.Console.AllowAnyKey
	}
	return nil
}

// LoadRendezvous reads the [rendezvous] table of the file at path.
func LoadRendezvous(path string, cfg *Rendezvous) error {
	raw, meta, err := decode(path)
	if err != nil || meta == nil {
		return err
	}
	if meta.IsDefined("rendezvous", "addr") {
		cfg.Addr = strings.TrimSpace(raw.Rendezvous.Addr)
	}
	if meta.IsDefined("rendezvous", "hosts") {
		cfg.Hosts = normalize(raw.Rendezvous.Hosts)
	}
	if meta.IsDefined("rendezvous", "data_dir") {
		cfg.DataDir = commonpaths.Expand(raw.Rendezvous.DataDir)
	}
	return nil
}

func decode(path string) (*fileConfig, *toml.MetaData, error) {
	if path == "" {
		return nil, nil, nil
	}
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if errors.Is(err, os.ErrNotExist) && path == commonpaths.DefaultPeerConfig() {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("config: load %v: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, nil, fmt.Errorf("config: unknown keys in %v: %v", path, undecoded)
	}
	return &raw, &meta, nil
}

func (p Peer) Validate() error {
	var errs []error
	if _, err := Port(p.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}
	if p.Tick <= 0 {
		errs = append(errs, errors.New("tick must be positive"))
	}
	if p.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("handshake_timeout must be positive"))
	}
	if p.DialTimeout <= 0 {
		errs = append(errs, errors.New("dial_timeout must be positive"))
	}
	if p.Rendezvous.Session != "" {
		if _, err := uuid.Parse(p.Rendezvous.Session); err != nil {
			errs = append(errs, fmt.Errorf("rendezvous session: %w", err))
		}
		if p.Rendezvous.URL == "" {
			errs = append(errs, errors.New("rendezvous session requires a rendezvous url"))
		}
	}
	if p.Console.Addr != "" && !p.Console.AllowAnyKey && p.Console.AuthorizedKeys == "" {
		errs = append(errs, errors.New("console requires authorized_keys or allow_any_key"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (r Rendezvous) Validate() error {
	if _, _, err := net.SplitHostPort(r.Addr); err != nil {
		return fmt.Errorf("config: rendezvous addr: %w", err)
	}
	return nil
}

// Port returns the port of a host:port listen address.
func Port(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", port)
	}
	return int(n), nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
