package p2p

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureIdentity(t *testing.T) {
	t.Run("PersistsAcrossRestarts", func(t *testing.T) {
		dir := t.TempDir()
		key, err := EnsureIdentity(dir)
		require.NoError(t, err)
		require.FileExists(t, filepath.Join(dir, keyFilename))

		reloaded, err := EnsureIdentity(dir)
		require.NoError(t, err)
		require.True(t, key.Equals(reloaded))
	})
	t.Run("Ephemeral", func(t *testing.T) {
		key1, err := EnsureIdentity("")
		require.NoError(t, err)
		key2, err := EnsureIdentity("")
		require.NoError(t, err)
		require.False(t, key1.Equals(key2))
	})
	t.Run("CorruptKeyFile", func(t *testing.T) {
		dir := t.TempDir()
		_, err := EnsureIdentity(dir)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, keyFilename), []byte("not a key"), 0o600))
		_, err = EnsureIdentity(dir)
		require.Error(t, err)
	})
}
