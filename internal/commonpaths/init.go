package commonpaths

import (
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

var (
	home string
)

func init() {
	var err error
	home, err = homedir.Dir()
	if err != nil {
		panic(err)
	}
}

// DefaultDir is where peerbus keeps its files, ~/.peerbus.
func DefaultDir() string {
	return filepath.Join(home, ".peerbus")
}

func DefaultPeerConfig() string {
	return filepath.Join(DefaultDir(), "peer.toml")
}

// DefaultHostKey is the console host key, generated on first use.
func DefaultHostKey() string {
	return filepath.Join(DefaultDir(), "console_ed25519")
}

func DefaultSSHDir() string {
	return filepath.Join(home, ".ssh")
}

// Expand resolves a leading ~ to the user home. Other paths are returned as
// they are.
func Expand(p string) string {
	out, err := homedir.Expand(p)
	if err != nil {
		return p
	}
	return out
}
