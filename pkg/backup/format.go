package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MagicNumber opens every backup file: "WLST_BKP".
var MagicNumber = [8]byte{'W', 'L', 'S', 'T', '_', 'B', 'K', 'P'}

// Current backup format version.
const FormatVersion = 1

// KDFParams records how the backup keys were derived from the passphrase.
type KDFParams struct {
	Algorithm  string `json:"algorithm"`
	Salt       []byte `json:"salt"` // base64 in JSON
	Iterations int    `json:"iterations"`
}

// Header contains backup file metadata. It is authenticated but not
// encrypted.
type Header struct {
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	KDF             KDFParams `json:"kdf"`
	CredentialCount int       `json:"credential_count"`
	ChecksumAlgo    string    `json:"checksum_algorithm"`
	// Compression of the payload before encryption; empty means none.
	Compression string `json:"compression,omitempty"`
}

// Credential is one exported name/value pair.
type Credential struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// payload is the plaintext inside the encrypted section.
type payload struct {
	Credentials []Credential `json:"credentials"`
}

// maxHeaderLen bounds the header read from untrusted input.
const maxHeaderLen = 1024 * 1024

// writeHeader writes the magic number and the length-prefixed header and
// returns the header JSON for authentication.
func writeHeader(w io.Writer, header *Header) ([]byte, error) {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return nil, fmt.Errorf("failed to write magic number: %w", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	// 4 bytes, big-endian
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return nil, fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return headerJSON, nil
}

// readHeader parses the magic number and header from the start of data
// and returns the header, its raw JSON and the remaining bytes.
func readHeader(data []byte) (*Header, []byte, []byte, error) {
	if len(data) < len(MagicNumber)+4 {
		return nil, nil, nil, ErrTruncated
	}
	if [8]byte(data[:8]) != MagicNumber {
		return nil, nil, nil, ErrInvalidMagic
	}
	data = data[8:]

	headerLen := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if headerLen > maxHeaderLen {
		return nil, nil, nil, fmt.Errorf("header too large: %d bytes", headerLen)
	}
	if uint32(len(data)) < headerLen {
		return nil, nil, nil, ErrTruncated
	}
	headerJSON, rest := data[:headerLen], data[headerLen:]

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}
	if header.Version > FormatVersion || header.Version < 1 {
		return nil, nil, nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, headerJSON, rest, nil
}
