package common

import "crypto/rand"

// GenerateRandByteArray returns a slice of size cryptographically random
// bytes. It panics if the system entropy source fails, which is not a
// recoverable condition for key or nonce generation.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
