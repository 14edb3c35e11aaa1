package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

func writeKey(t *testing.T, block *pem.Block) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "private.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestLoadPrivateKeyPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := writeKey(t, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	loaded, err := LoadPrivateKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestLoadPrivateKeyPKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	path := writeKey(t, &pem.Block{Type: "PRIVATE KEY", Bytes: der})

	loaded, err := LoadPrivateKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestLoadPrivateKeyFailures(t *testing.T) {
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	cases := map[string]string{
		"empty path":   "",
		"missing file": filepath.Join(t.TempDir(), "absent.pem"),
		"not pem":      garbage,
		"empty file":   empty,
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPrivateKey(path)
			require.Error(t, err)

			var keyErr *types.KeyMaterialError
			assert.True(t, errors.As(err, &keyErr))
			assert.Equal(t, types.KindKeyMaterial, types.ErrorKind(err))
		})
	}
}
