package privval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilePVGenerateLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priv_key.json")

	pv, err := GenerateFilePV(path, SchemeMLDSA44)
	require.NoError(t, err)
	require.Equal(t, SchemeMLDSA44, pv.SchemeName())

	loaded, err := LoadFilePV(path)
	require.NoError(t, err)
	require.Equal(t, pv.PublicKey(), loaded.PublicKey())

	msg := []byte("signed after reload")
	sig, err := loaded.Sign(msg)
	require.NoError(t, err)
	require.True(t, Verify(SchemeMLDSA44, pv.PublicKey(), msg, sig))
}

func TestFilePVRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priv_key.json")
	_, err := GenerateFilePV(path, SchemeEd25519)
	require.NoError(t, err)

	_, err = GenerateFilePV(path, SchemeEd25519)
	require.ErrorIs(t, err, ErrKeyFileExists)
}

func TestFilePVLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFilePV(filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, ErrKeyFileNotFound)

	garbled := filepath.Join(dir, "garbled.json")
	require.NoError(t, os.WriteFile(garbled, []byte("not json"), 0600))
	_, err = LoadFilePV(garbled)
	require.Error(t, err)
}

func TestFilePVKeyFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priv_key.json")
	_, err := GenerateFilePV(path, SchemeEd25519)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
