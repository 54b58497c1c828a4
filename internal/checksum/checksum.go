// Package checksum computes and validates content digests for backup
// archives. SHA-256 is used so that both corruption and tampering are
// detectable; a CRC would only catch the former.
//
// All functions are pure and safe for concurrent use.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest returns the hex-encoded SHA-256 digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestReader streams r through SHA-256 and returns the hex-encoded digest.
func DigestReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestFile returns the hex-encoded SHA-256 digest of the file at path.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return DigestReader(f)
}

// Verify reports whether data hashes to expected.
func Verify(data []byte, expected string) bool {
	return Digest(data) == expected
}

// VerifyFile reports whether the file at path hashes to expected.
func VerifyFile(path string, expected string) (bool, error) {
	actual, err := DigestFile(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}
