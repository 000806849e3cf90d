package backup

import "errors"

// Backup/Restore errors
var (
	// ErrInvalidMagic indicates the file is not a weblist backup.
	ErrInvalidMagic = errors.New("invalid backup file: magic number mismatch")

	// ErrUnsupportedVersion indicates the backup format version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported backup format version")

	// ErrIntegrityFailed indicates the HMAC verification failed.
	ErrIntegrityFailed = errors.New("backup integrity check failed: HMAC mismatch")

	// ErrDecryptionFailed indicates an invalid passphrase or corruption.
	ErrDecryptionFailed = errors.New("backup decryption failed: invalid passphrase or corrupted data")

	// ErrConflict indicates a credential already exists during restore.
	ErrConflict = errors.New("restore conflict: credential already exists")

	// ErrEmptyPassphrase indicates an empty passphrase was provided.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

	// ErrTruncated indicates the file ends before the trailing HMAC.
	ErrTruncated = errors.New("invalid backup file: truncated")
)
