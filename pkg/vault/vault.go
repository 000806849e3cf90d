// Package vault guards the master key that protects stored credentials.
//
// The vault owns a single 32-byte master key file. Values are encrypted
// either directly with that key, or with a single-use key derived from a
// caller-supplied passphrase and a fresh salt. The two modes produce
// distinguishable envelopes (see envelope.go), and the master-key mode
// reuses one key for every value until the key is rotated.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/weblist/pkg/crypto"
)

// Constants
const (
	KeyFileName = "vault.key"
	FileMode    = 0600 // Owner read/write only
	DirMode     = 0700 // Owner read/write/execute only

	// Disk capacity thresholds
	MinDiskSpaceBytes  = 1024 * 1024 // 1 MB minimum free space
	DiskWarningPercent = 90          // Warn when disk is 90% full

	// HKDF info strings for keys derived from the master key
	signingKeyInfo = "token-signing-v1"
	auditKeyInfo   = "audit-log-v1"
)

// Errors
var (
	ErrKeyFileUnavailable = errors.New("vault: master key file unavailable")
	ErrKeyFileCorrupted   = errors.New("vault: master key file is corrupted")
	ErrDecryptionFailed   = errors.New("vault: decryption failed")
	ErrInsufficientDisk   = errors.New("vault: insufficient disk space")
)

// Vault encrypts and decrypts opaque strings.
type Vault struct {
	keyPath    string
	iterations int
	logger     zerolog.Logger

	// mu serializes key creation and rotation within this process.
	// Other processes are handled by the exclusive link in writeKeyFile.
	mu sync.Mutex
}

// Option configures a Vault.
type Option func(*Vault)

// WithIterations overrides the PBKDF2 iteration count used for
// passphrase-mode envelopes. Values below crypto.MinPBKDF2Iterations are
// rejected at encryption time.
func WithIterations(n int) Option {
	return func(v *Vault) { v.iterations = n }
}

// WithLogger attaches a logger for key lifecycle notices. Secret
// material is never logged.
func WithLogger(l zerolog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// New returns a Vault for the key file at keyPath without touching disk.
func New(keyPath string, opts ...Option) *Vault {
	v := &Vault{
		keyPath:    keyPath,
		iterations: crypto.PBKDF2Iterations,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open returns a Vault whose master key is guaranteed to exist.
func Open(keyPath string, opts ...Option) (*Vault, error) {
	v := New(keyPath, opts...)
	if err := v.EnsureKey(); err != nil {
		return nil, err
	}
	return v, nil
}

// KeyPath returns the master key file path.
func (v *Vault) KeyPath() string {
	return v.keyPath
}

// EnsureKey guarantees that a valid master key file exists, generating
// one if it is absent. It is safe to call concurrently and from several
// processes: exactly one key wins and every caller ends up using it.
func (v *Vault) EnsureKey() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ensureKeyLocked()
}

func (v *Vault) ensureKeyLocked() error {
	key, err := v.loadKey()
	if err == nil {
		crypto.SecureWipe(key)
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(v.keyPath), DirMode); err != nil {
		return fmt.Errorf("%w: failed to create key directory: %v", ErrKeyFileUnavailable, err)
	}
	if err := v.checkDiskSpaceForWrite(crypto.KeyLength); err != nil {
		return err
	}

	key, err = crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return fmt.Errorf("vault: failed to generate master key: %w", err)
	}
	defer crypto.SecureWipe(key)

	created, err := writeKeyFile(v.keyPath, key)
	if err != nil {
		return err
	}
	if !created {
		// Another initializer won; make sure its key is usable.
		winner, err := v.loadKey()
		if err != nil {
			return err
		}
		crypto.SecureWipe(winner)
		return nil
	}

	v.logger.Info().Str("path", v.keyPath).Msg("generated new master key")
	return nil
}

// writeKeyFile writes key to a temporary file next to path and links it
// into place. The link fails if path already exists, so a complete key
// file appears atomically and an existing one is never overwritten.
// created is false when another writer got there first.
func writeKeyFile(path string, key []byte) (created bool, err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeyFileUnavailable, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return false, fmt.Errorf("%w: failed to set key file permissions: %v", ErrKeyFileUnavailable, err)
	}
	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		return false, fmt.Errorf("%w: failed to write key file: %v", ErrKeyFileUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("%w: failed to sync key file: %v", ErrKeyFileUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeyFileUnavailable, err)
	}

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to install key file: %v", ErrKeyFileUnavailable, err)
	}
	return true, nil
}

// loadKey reads the master key. A missing file is reported with an error
// matching both fs.ErrNotExist and ErrKeyFileUnavailable.
func (v *Vault) loadKey() ([]byte, error) {
	key, err := os.ReadFile(v.keyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrKeyFileUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyFileUnavailable, err)
	}
	if len(key) != crypto.KeyLength {
		crypto.SecureWipe(key)
		return nil, fmt.Errorf("%w: expected %d bytes", ErrKeyFileCorrupted, crypto.KeyLength)
	}
	return key, nil
}

// Encrypt returns an envelope for plaintext. With a non-empty passphrase
// the value is sealed with a key derived from the passphrase and a fresh
// salt; otherwise the master key is used. Empty plaintext yields "".
func (v *Vault) Encrypt(plaintext, passphrase string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if passphrase != "" {
		return v.encryptWithPassphrase([]byte(plaintext), passphrase)
	}

	key, err := v.loadKey()
	if err != nil {
		return "", err
	}
	defer crypto.SecureWipe(key)
	return encryptWithKey(key, []byte(plaintext))
}

// Decrypt reverses Encrypt. Any failure to authenticate the envelope,
// including the wrong mode, key or passphrase, returns ErrDecryptionFailed.
// An empty envelope yields "".
func (v *Vault) Decrypt(envelope, passphrase string) (string, error) {
	if envelope == "" {
		return "", nil
	}
	if passphrase != "" {
		return v.decryptWithPassphrase(envelope, passphrase)
	}

	key, err := v.loadKey()
	if err != nil {
		return "", err
	}
	defer crypto.SecureWipe(key)
	return decryptWithKey(key, envelope)
}

func (v *Vault) encryptWithPassphrase(plaintext []byte, passphrase string) (string, error) {
	if v.iterations > MaxKDFIterations {
		return "", fmt.Errorf("vault: iteration count %d exceeds %d", v.iterations, MaxKDFIterations)
	}
	salt, err := crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		return "", fmt.Errorf("vault: failed to generate salt: %w", err)
	}
	key, err := crypto.DeriveKey(normalizePassphrase(passphrase), salt, v.iterations)
	if err != nil {
		return "", fmt.Errorf("vault: failed to derive key: %w", err)
	}
	defer crypto.SecureWipe(key)

	blob, err := crypto.Seal(key, plaintext)
	if err != nil {
		return "", fmt.Errorf("vault: failed to encrypt: %w", err)
	}
	return formatPassphraseEnvelope(v.iterations, salt, blob), nil
}

func (v *Vault) decryptWithPassphrase(envelope, passphrase string) (string, error) {
	iterations, salt, blob, err := parsePassphraseEnvelope(envelope)
	if err != nil {
		return "", err
	}
	if iterations == 0 {
		iterations = v.iterations
	}
	key, err := crypto.DeriveKey(normalizePassphrase(passphrase), salt, iterations)
	if err != nil {
		return "", fmt.Errorf("vault: failed to derive key: %w", err)
	}
	defer crypto.SecureWipe(key)

	plaintext, err := crypto.Open(key, blob)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func encryptWithKey(key, plaintext []byte) (string, error) {
	blob, err := crypto.Seal(key, plaintext)
	if err != nil {
		return "", fmt.Errorf("vault: failed to encrypt: %w", err)
	}
	return formatKeyEnvelope(blob), nil
}

func decryptWithKey(key []byte, envelope string) (string, error) {
	blob, err := parseKeyEnvelope(envelope)
	if err != nil {
		return "", err
	}
	plaintext, err := crypto.Open(key, blob)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// normalizePassphrase maps canonically equivalent Unicode input to the
// same bytes so that a passphrase typed on another system still derives
// the same key.
func normalizePassphrase(passphrase string) []byte {
	return []byte(norm.NFC.String(passphrase))
}

// SigningKey returns the token signing secret derived from the master key.
func (v *Vault) SigningKey() ([]byte, error) {
	return v.deriveSubkey(signingKeyInfo)
}

// AuditKey returns the audit log HMAC key derived from the master key.
func (v *Vault) AuditKey() ([]byte, error) {
	return v.deriveSubkey(auditKeyInfo)
}

func (v *Vault) deriveSubkey(info string) ([]byte, error) {
	key, err := v.loadKey()
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)

	subkey, err := crypto.DeriveSubkey(key, info)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return subkey, nil
}

// CheckPermissions returns advisory warnings for a key file or key
// directory readable by group or others. It never fails an operation.
func (v *Vault) CheckPermissions() []string {
	var warnings []string

	dir := filepath.Dir(v.keyPath)
	if info, err := os.Stat(dir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			warnings = append(warnings, fmt.Sprintf("key directory has insecure permissions %04o (expected 0700)", perm))
		}
	}
	if info, err := os.Stat(v.keyPath); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			warnings = append(warnings, fmt.Sprintf("%s has insecure permissions %04o (expected 0600)", filepath.Base(v.keyPath), perm))
		}
	}
	return warnings
}

// DiskSpaceInfo describes the volume holding the key file.
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"` // to non-root users
	UsedPct   int    `json:"used_pct"`
}

func newDiskSpaceInfo(total, free, avail uint64) DiskSpaceInfo {
	info := DiskSpaceInfo{Total: total, Free: free, Available: avail}
	if total > 0 {
		info.UsedPct = int(100 * (total - free) / total)
	}
	return info
}

// CheckDiskSpace reports the volume of the key directory, or of its
// parent while the directory does not exist yet.
func (v *Vault) CheckDiskSpace() (*DiskSpaceInfo, error) {
	dir := filepath.Dir(v.keyPath)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		dir = filepath.Dir(dir)
	}
	info, err := diskSpace(dir)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// checkDiskSpaceForWrite verifies sufficient disk space before key writes
func (v *Vault) checkDiskSpaceForWrite(dataSize int) error {
	info, err := v.CheckDiskSpace()
	if err != nil {
		v.logger.Warn().Err(err).Msg("failed to check disk space")
		return nil
	}

	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}
	if info.Available < required {
		return fmt.Errorf("%w: only %d bytes available, need at least %d",
			ErrInsufficientDisk, info.Available, required)
	}
	if info.UsedPct >= DiskWarningPercent {
		v.logger.Warn().Int("used_pct", info.UsedPct).Msg("disk almost full")
	}
	return nil
}
