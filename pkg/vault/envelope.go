package vault

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/forest6511/weblist/pkg/crypto"
)

// Envelope framing.
//
//	master-key mode:  base64url(nonce || ciphertext || tag)
//	passphrase mode:  iterations "$" base64url(salt) ":" base64url(nonce || ciphertext || tag)
//
// Unpadded base64url never produces either separator, so the presence of a
// single ':' identifies passphrase mode. The decimal PBKDF2 iteration count
// must be canonical; passphrase envelopes without it are derived with the
// vault's configured count. Strict decoding rejects non-canonical
// encodings, so every character of an envelope is significant to
// authentication.
const (
	envelopeSeparator   = ":"
	iterationsSeparator = "$"
)

// MaxKDFIterations bounds the iteration count read from an envelope.
const MaxKDFIterations = 10_000_000

var envelopeEncoding = base64.RawURLEncoding.Strict()

// EnvelopeMode reports how an envelope was produced.
type EnvelopeMode int

const (
	ModeInvalid EnvelopeMode = iota
	ModeMasterKey
	ModePassphrase
)

// String returns a human-readable representation of the mode
func (m EnvelopeMode) String() string {
	switch m {
	case ModeMasterKey:
		return "master-key"
	case ModePassphrase:
		return "passphrase"
	default:
		return "invalid"
	}
}

// ModeOf inspects the framing of an envelope without decrypting it.
func ModeOf(envelope string) EnvelopeMode {
	switch strings.Count(envelope, envelopeSeparator) {
	case 0:
		if _, err := parseKeyEnvelope(envelope); err == nil {
			return ModeMasterKey
		}
	case 1:
		if _, _, _, err := parsePassphraseEnvelope(envelope); err == nil {
			return ModePassphrase
		}
	}
	return ModeInvalid
}

func formatKeyEnvelope(blob []byte) string {
	return envelopeEncoding.EncodeToString(blob)
}

func formatPassphraseEnvelope(iterations int, salt, blob []byte) string {
	return strconv.Itoa(iterations) + iterationsSeparator +
		envelopeEncoding.EncodeToString(salt) + envelopeSeparator + envelopeEncoding.EncodeToString(blob)
}

func parseKeyEnvelope(envelope string) ([]byte, error) {
	if strings.Contains(envelope, envelopeSeparator) {
		return nil, ErrDecryptionFailed
	}
	blob, err := envelopeEncoding.DecodeString(envelope)
	if err != nil || len(blob) < crypto.NonceLength+crypto.TagLength {
		return nil, ErrDecryptionFailed
	}
	return blob, nil
}

// parsePassphraseEnvelope returns 0 iterations for envelopes that carry
// no count.
func parsePassphraseEnvelope(envelope string) (iterations int, salt, blob []byte, err error) {
	if head, rest, ok := strings.Cut(envelope, iterationsSeparator); ok {
		n, err := strconv.Atoi(head)
		if err != nil || n < crypto.MinPBKDF2Iterations || n > MaxKDFIterations || strconv.Itoa(n) != head {
			return 0, nil, nil, ErrDecryptionFailed
		}
		iterations, envelope = n, rest
	}
	saltPart, blobPart, ok := strings.Cut(envelope, envelopeSeparator)
	if !ok || strings.Contains(blobPart, envelopeSeparator) {
		return 0, nil, nil, ErrDecryptionFailed
	}
	salt, err = envelopeEncoding.DecodeString(saltPart)
	if err != nil || len(salt) != crypto.SaltLength {
		return 0, nil, nil, ErrDecryptionFailed
	}
	blob, err = envelopeEncoding.DecodeString(blobPart)
	if err != nil || len(blob) < crypto.NonceLength+crypto.TagLength {
		return 0, nil, nil, ErrDecryptionFailed
	}
	return iterations, salt, blob, nil
}
