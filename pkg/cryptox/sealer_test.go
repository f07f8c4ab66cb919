package cryptox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealRoundTrip(t *testing.T) {
	t.Parallel()

	sealer, err := NewSealer([]byte("development-master-key"))
	require.NoError(t, err)

	plain := []byte(`{"token":"hvs.example","expires_at":"2025-01-01T00:00:00Z"}`)

	sealed, err := sealer.Seal(plain)
	require.NoError(t, err)
	require.NotEqual(t, plain, sealed)

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, plain, opened)
}

func TestSealNonDeterministic(t *testing.T) {
	t.Parallel()

	sealer, err := NewSealer([]byte("key"))
	require.NoError(t, err)

	a, err := sealer.Seal([]byte("same input"))
	require.NoError(t, err)
	b, err := sealer.Seal([]byte("same input"))
	require.NoError(t, err)

	// Random nonce per call.
	require.NotEqual(t, a, b)
}

func TestOpenRejectsTamper(t *testing.T) {
	t.Parallel()

	sealer, err := NewSealer([]byte("key"))
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = sealer.Open(sealed)
	require.Error(t, err)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	t.Parallel()

	a, err := NewSealer([]byte("key-a"))
	require.NoError(t, err)
	b, err := NewSealer([]byte("key-b"))
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = b.Open(sealed)
	require.Error(t, err)
}

func TestOpenRejectsShortInput(t *testing.T) {
	t.Parallel()

	sealer, err := NewSealer([]byte("key"))
	require.NoError(t, err)

	_, err = sealer.Open([]byte("short"))
	require.Error(t, err)
}

func TestNewSealerRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	_, err := NewSealer(nil)
	require.Error(t, err)
}

func TestNewSealerFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte("file key material"), 0o600))

	fromFile, err := NewSealerFromFile(path)
	require.NoError(t, err)

	direct, err := NewSealer([]byte("file key material"))
	require.NoError(t, err)

	// Same material, interchangeable sealers.
	sealed, err := fromFile.Seal([]byte("cross check"))
	require.NoError(t, err)
	opened, err := direct.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("cross check"), opened)

	_, err = NewSealerFromFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
