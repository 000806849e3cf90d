package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/forest6511/weblist/pkg/crypto"
)

// Reencrypter holds master-key envelopes that must follow a key rotation.
// Store and audit.Logger implement it.
type Reencrypter interface {
	Reencrypt(ctx context.Context, fn func(envelope string) (string, error)) (int, error)
}

// RotationResult summarizes a completed rotation.
type RotationResult struct {
	// BackupPath is where the previous key was kept during rotation.
	// Empty when no key existed before.
	BackupPath string `json:"backup_path,omitempty"`
	// BackupKept reports whether the previous key file was left on disk.
	BackupKept bool `json:"backup_kept"`
	// Reencrypted counts envelopes rewritten under the new key.
	Reencrypted int `json:"reencrypted"`
}

// Rotate replaces the master key and re-encrypts every master-key
// envelope held by targets. The previous key is moved aside to a
// timestamped backup while targets are rewritten; on any failure,
// targets already rewritten are reverted and the previous key is
// restored. On success the backup is wiped unless keepBackup is set.
//
// Passphrase-mode envelopes do not depend on the master key and are
// left untouched.
func (v *Vault) Rotate(ctx context.Context, keepBackup bool, targets ...Reencrypter) (*RotationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	oldKey, err := v.loadKey()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		v.logger.Warn().Str("path", v.keyPath).Msg("no existing master key, creating a new one")
		if err := v.ensureKeyLocked(); err != nil {
			return nil, err
		}
		return &RotationResult{}, nil
	}
	defer crypto.SecureWipe(oldKey)

	backupPath := fmt.Sprintf("%s.backup_%s", v.keyPath, time.Now().Format("20060102_150405.000000"))
	if err := os.Rename(v.keyPath, backupPath); err != nil {
		return nil, fmt.Errorf("%w: failed to back up key: %v", ErrKeyFileUnavailable, err)
	}

	restore := func(cause error) error {
		if err := os.Remove(v.keyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w (restore failed, previous key kept at %s: %v)", cause, backupPath, err)
		}
		if err := os.Rename(backupPath, v.keyPath); err != nil {
			return fmt.Errorf("%w (restore failed, previous key kept at %s: %v)", cause, backupPath, err)
		}
		v.logger.Error().Err(cause).Msg("key rotation failed, previous key restored")
		return cause
	}

	if err := v.ensureKeyLocked(); err != nil {
		return nil, restore(err)
	}
	newKey, err := v.loadKey()
	if err != nil {
		return nil, restore(err)
	}
	defer crypto.SecureWipe(newKey)

	forward := rewrap(oldKey, newKey)
	result := &RotationResult{BackupPath: backupPath}
	for i, target := range targets {
		n, err := target.Reencrypt(ctx, forward)
		if err != nil {
			// The previous key goes back first so that targets reading
			// derived keys during the revert see the original one.
			err = restore(err)
			backward := rewrap(newKey, oldKey)
			for _, done := range targets[:i] {
				if _, rbErr := done.Reencrypt(ctx, backward); rbErr != nil {
					err = fmt.Errorf("%w (revert failed: %v)", err, rbErr)
				}
			}
			return nil, err
		}
		result.Reencrypted += n
	}

	if keepBackup {
		result.BackupKept = true
	} else if err := wipeFile(backupPath); err != nil {
		v.logger.Warn().Err(err).Str("path", backupPath).Msg("failed to remove key backup")
		result.BackupKept = true
	}

	v.logger.Info().Int("reencrypted", result.Reencrypted).Bool("backup_kept", result.BackupKept).Msg("master key rotated")
	return result, nil
}

// rewrap returns a function that moves a master-key envelope from one
// key to another.
func rewrap(from, to []byte) func(string) (string, error) {
	return func(envelope string) (string, error) {
		if envelope == "" || ModeOf(envelope) == ModePassphrase {
			return envelope, nil
		}
		plaintext, err := decryptWithKey(from, envelope)
		if err != nil {
			return "", err
		}
		return encryptWithKey(to, []byte(plaintext))
	}
}

// wipeFile overwrites a small file with zeros before removing it.
func wipeFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, make([]byte, info.Size()), FileMode); err != nil {
		return err
	}
	return os.Remove(path)
}
