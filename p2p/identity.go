package p2p

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
)

const keyFilename = "p2p.key"

// EnsureIdentity loads the node's ed25519 identity from dataDir, generating
// and persisting a fresh one on first start. An empty dataDir yields an
// ephemeral identity.
func EnsureIdentity(dataDir string) (crypto.PrivKey, error) {
	if dataDir == "" {
		key, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral identity: %w", err)
		}
		return key, nil
	}
	path := filepath.Join(dataDir, keyFilename)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		key, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		raw, err := crypto.MarshalPrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("marshal identity: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("ensure data dir %s: %w", dataDir, err)
		}
		if err := os.WriteFile(path, raw, 0o600); err != nil {
			return nil, fmt.Errorf("write identity file %s: %w", path, err)
		}
		return key, nil
	case err != nil:
		return nil, fmt.Errorf("read identity file %s: %w", path, err)
	}
	key, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal identity file %s: %w", path, err)
	}
	return key, nil
}
