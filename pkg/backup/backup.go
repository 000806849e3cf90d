// Package backup exports and restores stored credentials as a single
// passphrase-encrypted file.
//
// File layout:
//
//	magic "WLST_BKP" | uint32 header length | header JSON | nonce || ciphertext || tag | HMAC-SHA256
//
// The payload is zstd-compressed before encryption. The encryption and MAC keys are derived from the passphrase with
// PBKDF2-HMAC-SHA512 and a fresh salt, then split with HKDF. The trailing
// HMAC covers the header and the ciphertext.
package backup

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/weblist/pkg/crypto"
	"github.com/forest6511/weblist/pkg/vault"
)

// ConflictMode specifies how to handle existing names during restore.
type ConflictMode int

const (
	// ConflictError fails before writing anything if a name exists.
	ConflictError ConflictMode = iota
	// ConflictSkip keeps existing credentials and adds new ones.
	ConflictSkip
	// ConflictOverwrite replaces existing credentials.
	ConflictOverwrite
)

// ParseConflictMode accepts "error", "skip" or "overwrite".
func ParseConflictMode(s string) (ConflictMode, error) {
	switch s {
	case "error", "":
		return ConflictError, nil
	case "skip":
		return ConflictSkip, nil
	case "overwrite":
		return ConflictOverwrite, nil
	}
	return 0, fmt.Errorf("unknown conflict mode %q (want error, skip or overwrite)", s)
}

// Store is the credential store being backed up or restored to.
// *vault.Store satisfies it.
type Store interface {
	List(ctx context.Context) ([]vault.CredentialInfo, error)
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name, value string) error
}

// Options configures a backup.
type Options struct {
	Passphrase []byte
	// Iterations defaults to crypto.PBKDF2Iterations.
	Iterations int
	// Now defaults to time.Now.
	Now func() time.Time
}

// RestoreResult contains the result of a restore operation.
type RestoreResult struct {
	Restored int  `json:"restored"`
	Skipped  int  `json:"skipped"`
	DryRun   bool `json:"dry_run"`
}

// Backup writes every credential in s to w.
func Backup(ctx context.Context, s Store, w io.Writer, opts Options) (*Header, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	creds := make([]Credential, 0, len(infos))
	for _, info := range infos {
		v, err := s.Get(ctx, info.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", info.Name, err)
		}
		creds = append(creds, Credential{Name: info.Name, Value: v, CreatedAt: info.CreatedAt, UpdatedAt: info.UpdatedAt})
	}
	return Write(w, creds, opts)
}

// Write encrypts creds to w.
func Write(w io.Writer, creds []Credential, opts Options) (*Header, error) {
	if opts.Iterations == 0 {
		opts.Iterations = crypto.PBKDF2Iterations
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	salt, err := crypto.RandomBytes(SaltLength)
	if err != nil {
		return nil, err
	}
	encKey, macKey, err := deriveKeys(opts.Passphrase, salt, opts.Iterations)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	plaintext, err := json.Marshal(payload{Credentials: creds})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	defer crypto.SecureWipe(plaintext)
	compressed := compress(plaintext)
	defer crypto.SecureWipe(compressed)
	sealed, err := crypto.Seal(encKey, compressed)
	if err != nil {
		return nil, err
	}

	header := &Header{
		Version:         FormatVersion,
		CreatedAt:       opts.Now().UTC(),
		KDF:             KDFParams{Algorithm: kdfAlgorithm, Salt: salt, Iterations: opts.Iterations},
		CredentialCount: len(creds),
		ChecksumAlgo:    "hmac-sha256",
		Compression:     compressionZstd,
	}

	var buf bytes.Buffer
	headerJSON, err := writeHeader(&buf, header)
	if err != nil {
		return nil, err
	}
	buf.Write(sealed)
	buf.Write(computeHMAC(macKey, headerJSON, sealed))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	return header, nil
}

// Read authenticates and decrypts a backup.
func Read(r io.Reader, passphrase []byte) (*Header, []Credential, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read backup: %w", err)
	}
	header, headerJSON, rest, err := readHeader(data)
	if err != nil {
		return nil, nil, err
	}
	if header.KDF.Algorithm != kdfAlgorithm {
		return nil, nil, fmt.Errorf("%w: kdf %q", ErrUnsupportedVersion, header.KDF.Algorithm)
	}
	if header.Compression != "" && header.Compression != compressionZstd {
		return nil, nil, fmt.Errorf("%w: compression %q", ErrUnsupportedVersion, header.Compression)
	}
	if len(rest) < crypto.NonceLength+crypto.TagLength+HMACLength {
		return nil, nil, ErrTruncated
	}
	sealed, mac := rest[:len(rest)-HMACLength], rest[len(rest)-HMACLength:]

	encKey, macKey, err := deriveKeys(passphrase, header.KDF.Salt, header.KDF.Iterations)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	// A wrong passphrase and a tampered file both fail here.
	if !hmac.Equal(computeHMAC(macKey, headerJSON, sealed), mac) {
		return nil, nil, ErrIntegrityFailed
	}
	plaintext, err := crypto.Open(encKey, sealed)
	if err != nil {
		return nil, nil, ErrDecryptionFailed
	}
	defer crypto.SecureWipe(plaintext)
	if header.Compression == compressionZstd {
		if plaintext, err = decompress(plaintext); err != nil {
			return nil, nil, err
		}
		defer crypto.SecureWipe(plaintext)
	}

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return header, p.Credentials, nil
}

// Restore writes creds into s. With ConflictError nothing is written
// when any name already exists.
func Restore(ctx context.Context, s Store, creds []Credential, mode ConflictMode, dryRun bool) (*RestoreResult, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(infos))
	for _, info := range infos {
		existing[info.Name] = true
	}

	if mode == ConflictError {
		var conflicts []error
		for _, c := range creds {
			if existing[c.Name] {
				conflicts = append(conflicts, fmt.Errorf("%w: %s", ErrConflict, c.Name))
			}
		}
		if len(conflicts) > 0 {
			return nil, errors.Join(conflicts...)
		}
	}

	res := &RestoreResult{DryRun: dryRun}
	for _, c := range creds {
		if existing[c.Name] && mode == ConflictSkip {
			res.Skipped++
			continue
		}
		if !dryRun {
			if err := s.Put(ctx, c.Name, c.Value); err != nil {
				return res, fmt.Errorf("failed to restore %s: %w", c.Name, err)
			}
		}
		res.Restored++
	}
	return res, nil
}
