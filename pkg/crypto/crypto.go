// Package crypto provides the cryptographic primitives used by weblist.
//
// It implements AES-256-GCM authenticated encryption, PBKDF2-HMAC-SHA512
// passphrase key derivation and HKDF-SHA256 subkey derivation.
//
// # Security Features
//
//   - AES-256-GCM authenticated encryption
//   - PBKDF2-HMAC-SHA512 key derivation (100,000 iterations minimum)
//   - HKDF-SHA256 for purpose-bound subkeys of a master key
//   - Cryptographically secure random nonce generation
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	salt, _ := crypto.RandomBytes(crypto.SaltLength)
//	key, _ := crypto.DeriveKey([]byte("passphrase"), salt, crypto.PBKDF2Iterations)
//
//	blob, err := crypto.Seal(key, plaintext)
//	plaintext, err := crypto.Open(key, blob)
//
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Key derivation and cipher parameters.
const (
	// PBKDF2Iterations is the default iteration count for passphrase derivation.
	PBKDF2Iterations = 100_000

	// MinPBKDF2Iterations is the lowest iteration count DeriveKey accepts.
	MinPBKDF2Iterations = 100_000

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// SaltLength is the length of passphrase salts in bytes (128 bits).
	SaltLength = 16

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// TagLength is the length of the GCM authentication tag in bytes.
	TagLength = 16
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrWeakIterations indicates a PBKDF2 iteration count below MinPBKDF2Iterations.
	ErrWeakIterations = errors.New("crypto: pbkdf2 iteration count too low")

	// ErrInvalidSalt indicates an empty or short salt.
	ErrInvalidSalt = errors.New("crypto: salt must be at least 16 bytes")
)

// DeriveKey derives a 256-bit key from a passphrase using PBKDF2-HMAC-SHA512.
//
// The salt should be SaltLength bytes of cryptographically secure random
// data, generated fresh for every value that is encrypted.
func DeriveKey(passphrase, salt []byte, iterations int) ([]byte, error) {
	if iterations < MinPBKDF2Iterations {
		return nil, fmt.Errorf("%w: %d < %d", ErrWeakIterations, iterations, MinPBKDF2Iterations)
	}
	if len(salt) < SaltLength {
		return nil, ErrInvalidSalt
	}
	return pbkdf2.Key(passphrase, salt, iterations, KeyLength, sha512.New), nil
}

// DeriveSubkey derives a purpose-bound 256-bit key from a master key
// using HKDF-SHA256. Distinct info strings yield independent keys.
func DeriveSubkey(master []byte, info string) ([]byte, error) {
	if len(master) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	reader := hkdf.New(sha256.New, master, nil, []byte(info))
	subkey := make([]byte, KeyLength)
	if _, err := io.ReadFull(reader, subkey); err != nil {
		return nil, fmt.Errorf("crypto: failed to derive subkey: %w", err)
	}
	return subkey, nil
}

// RandomBytes returns n bytes read from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: failed to read random bytes: %w", err)
	}
	return b, nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// A fresh 12-byte nonce is generated with crypto/rand for every call.
// The authentication tag is appended to the ciphertext.
//
// Returns ErrInvalidKeyLength if key is not 32 bytes.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce, err = RandomBytes(NonceLength)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM authenticated encryption.
//
// The authentication tag is verified before any plaintext is returned.
// Returns ErrInvalidKeyLength, ErrInvalidNonceLength, ErrCiphertextTooShort
// or ErrDecryptionFailed.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag as one blob.
func Seal(key, plaintext []byte) ([]byte, error) {
	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// Open reverses Seal.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceLength+TagLength {
		return nil, ErrCiphertextTooShort
	}
	return Decrypt(key, blob[NonceLength:], blob[:NonceLength])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// b is still "in use" after the loop, so the stores stay.
	runtime.KeepAlive(b)
}
