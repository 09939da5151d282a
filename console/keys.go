package console

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// ParseAuthorizedKeys reads every key in an authorized_keys file.
func ParseAuthorizedKeys(file string) ([]ssh.PublicKey, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("console: unable to read file at %v: %w", file, err)
	}
	var keys []ssh.PublicKey
	for len(buf) > 0 {
		pubkey, _, _, rest, err := ssh.ParseAuthorizedKey(buf)
		if err != nil {
			if len(keys) > 0 && len(rest) == 0 {
				// trailing comments or blank lines
				break
			}
			return nil, fmt.Errorf("console: invalid key in %v: %w", file, err)
		}
		keys = append(keys, pubkey)
		buf = rest
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("console: no keys in %v", file)
	}
	return keys, nil
}

// LoadHostKey reads an OpenSSH private key from file. When the file does not
// exist a new ed25519 key is generated and saved there.
func LoadHostKey(file string) (gossh.Signer, error) {
	buf, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return generateHostKey(file)
	}
	if err != nil {
		return nil, fmt.Errorf("console: unable to read host key: %w", err)
	}
	return gossh.ParsePrivateKey(buf)
}

func generateHostKey(file string) (gossh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	block, err := gossh.MarshalPrivateKey(priv, "peerbus console")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return nil, fmt.Errorf("console: unable to create host key directory: %w", err)
	}
	if err := os.WriteFile(file, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("console: unable to save host key: %w", err)
	}
	return gossh.NewSignerFromKey(priv)
}
