package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenSecret(t *testing.T) {
	blob, err := SealSecret("s3cr3t-api", "pw")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "s3cr3t-api")

	got, err := OpenSecret(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-api", got)

	_, err = OpenSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: "raw", EncryptedPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	blob, err := SealSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}

func TestHMACHeadersVerify(t *testing.T) {
	h := &HMACAuth{Key: "key-1", Secret: "secret"}
	hdr := h.HeadersAt("POST", "/execute", []byte(`{"a":1}`), 1700000000)

	assert.Equal(t, "key-1", hdr.Get(HeaderKey))
	assert.Equal(t, "1700000000", hdr.Get(HeaderTimestamp))
	assert.True(t, h.Verify("POST", "/execute", []byte(`{"a":1}`), "1700000000", hdr.Get(HeaderSignature)))
	assert.False(t, h.Verify("POST", "/execute", []byte(`{"a":2}`), "1700000000", hdr.Get(HeaderSignature)))
	assert.Equal(t, "HMACAuth{key=key-****, secret=secr****}", h.String())
}
