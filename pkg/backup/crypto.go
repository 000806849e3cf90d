package backup

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/forest6511/weblist/pkg/crypto"
)

const (
	// SaltLength is the length of the backup salt in bytes.
	SaltLength = 32

	// HMACLength is the length of the HMAC-SHA256 in bytes.
	HMACLength = 32

	kdfAlgorithm = "pbkdf2-sha512"
)

// HKDF info strings for key derivation.
const (
	hkdfInfoEncryption = "weblist-backup-encryption"
	hkdfInfoMAC        = "weblist-backup-mac"
)

// deriveKeys derives independent encryption and MAC keys from a
// passphrase and salt.
func deriveKeys(passphrase, salt []byte, iterations int) (encKey, macKey []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, ErrEmptyPassphrase
	}

	master, err := crypto.DeriveKey(passphrase, salt, iterations)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(master)

	encKey, err = crypto.DeriveSubkey(master, hkdfInfoEncryption)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	macKey, err = crypto.DeriveSubkey(master, hkdfInfoMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("failed to derive MAC key: %w", err)
	}
	return encKey, macKey, nil
}

// computeHMAC authenticates the header and ciphertext together.
func computeHMAC(key []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
