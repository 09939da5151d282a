// Package versionhash computes the build fingerprint peers compare during the
// handshake.
package versionhash

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/blake2b"
)

type Hash [16]byte

var (
	once sync.Once
	self Hash
	err  error
)

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Of returns the 128 bit BLAKE2b digest of everything read from r.
func Of(r io.Reader) (Hash, error) {
	var h Hash
	d, err := blake2b.New(len(h), nil)
	if err != nil {
		return h, err
	}
	if _, err := io.Copy(d, r); err != nil {
		return h, err
	}
	copy(h[:], d.Sum(nil))
	return h, nil
}

// Executable hashes the running binary, the result is computed once.
func Executable() (Hash, error) {
	once.Do(func() {
		var path string
		path, err = os.Executable()
		if err != nil {
			return
		}
		var fd *os.File
		fd, err = os.Open(path)
		if err != nil {
			return
		}
		defer fd.Close()
		self, err = Of(fd)
	})
	return self, err
}
