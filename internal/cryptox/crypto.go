// Package cryptox implements the at-rest encryption of backup archives.
//
// Archives are sealed with AES-256-GCM, so a tampered blob fails to decrypt
// instead of silently producing garbage. The key is derived from an operator
// passphrase with Argon2id; a fresh random salt and nonce are generated per
// archive and carried in the blob itself:
//
//	blob = salt(16) || nonce(12) || ciphertext
//
// Key material is supplied by the caller per invocation and is never
// persisted or logged by this package.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/dmitrijs2005/ledgervault/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
)

// DeriveKey derives a 32-byte AES key from a passphrase and salt using
// Argon2id. Identical inputs always produce the identical key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keySize)
}

// Seal encrypts plaintext under a key derived from passphrase and returns
// the self-describing blob (salt || nonce || ciphertext).
func Seal(plaintext, passphrase []byte) ([]byte, error) {
	salt := common.GenerateRandByteArray(saltSize)
	nonce := common.GenerateRandByteArray(nonceSize)

	key := DeriveKey(passphrase, salt)
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+aesgcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aesgcm.Seal(out, nonce, plaintext, nil)

	return out, nil
}

// Open decrypts a blob produced by Seal. It fails with an error wrapping
// common.ErrChecksumMismatch if the blob was tampered with or the
// passphrase is wrong; the two cases are indistinguishable by design of
// authenticated encryption.
func Open(blob, passphrase []byte) ([]byte, error) {
	if len(blob) < saltSize+nonceSize {
		return nil, fmt.Errorf("%w: encrypted archive too short", common.ErrChecksumMismatch)
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	key := DeriveKey(passphrase, salt)
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authenticated decryption failed", common.ErrChecksumMismatch)
	}

	return plaintext, nil
}

// wipe overwrites key material with zeros once it is no longer needed.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
