package checksum

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_KnownVector(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	assert.Equal(t, want, Digest([]byte("abc")))
}

func TestDigest_MatchesDigestReader(t *testing.T) {
	data := []byte("ledger archive bytes")
	fromReader, err := DigestReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Digest(data), fromReader)
}

func TestVerify(t *testing.T) {
	data := []byte("payload")
	sum := Digest(data)

	assert.True(t, Verify(data, sum))
	assert.False(t, Verify([]byte("tampered"), sum))
}

func TestVerify_SingleFlippedByte(t *testing.T) {
	data := []byte("an archive that will be corrupted")
	sum := Digest(data)

	corrupted := append([]byte(nil), data...)
	corrupted[5] ^= 0x01
	assert.False(t, Verify(corrupted, sum))
}

func TestDigestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	data := []byte("file contents")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	sum, err := DigestFile(path)
	require.NoError(t, err)
	assert.Equal(t, Digest(data), sum)

	ok, err := VerifyFile(path, sum)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDigestFile_Missing(t *testing.T) {
	_, err := DigestFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
