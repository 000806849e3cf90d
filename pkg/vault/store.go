package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Credential name limits
const (
	MaxCredentialNameLength = 256
	MaxCredentialValueSize  = 64 * 1024
)

// Errors
var (
	ErrCredentialNotFound = errors.New("vault: credential not found")
	ErrNameInvalid        = errors.New("vault: credential name is invalid")
	ErrValueTooLarge      = errors.New("vault: credential value too large")
	ErrStoreClosed        = errors.New("vault: credential store is closed")
)

// CredentialInfo describes a stored credential without its value.
type CredentialInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists master-key envelopes of named credentials, such as the
// storage account password and auth token, in SQLite.
type Store struct {
	vault *Vault
	db    *sql.DB
}

// OpenStore opens (creating if needed) the credential database at path.
func OpenStore(path string, v *Vault) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, fmt.Errorf("vault: failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open database: %w", err)
	}
	// Single connection avoids "database is locked" under concurrent writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: failed to create tables: %w", err)
	}
	if err := os.Chmod(path, FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: failed to set database permissions: %w", err)
	}
	return &Store{vault: v, db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			name TEXT PRIMARY KEY,
			envelope TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Put encrypts value with the master key and stores it under name,
// replacing any previous value.
func (s *Store) Put(ctx context.Context, name, value string) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	if err := validateCredentialName(name); err != nil {
		return err
	}
	if len(value) > MaxCredentialValueSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum of %d bytes",
			ErrValueTooLarge, len(value), MaxCredentialValueSize)
	}

	envelope, err := s.vault.Encrypt(value, "")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials(name, envelope, created_at, updated_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET envelope = excluded.envelope, updated_at = excluded.updated_at
	`, name, envelope, now, now)
	if err != nil {
		return fmt.Errorf("vault: failed to save credential: %w", err)
	}
	return nil
}

// Get returns the decrypted value stored under name.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	if s.db == nil {
		return "", ErrStoreClosed
	}
	var envelope string
	err := s.db.QueryRowContext(ctx, "SELECT envelope FROM credentials WHERE name = ?", name).Scan(&envelope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCredentialNotFound
		}
		return "", fmt.Errorf("vault: failed to read credential: %w", err)
	}
	return s.vault.Decrypt(envelope, "")
}

// Delete removes name and reports whether it existed.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if s.db == nil {
		return false, ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("vault: failed to delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("vault: failed to delete credential: %w", err)
	}
	return n > 0, nil
}

// List returns all credential names in lexical order.
func (s *Store) List(ctx context.Context) ([]CredentialInfo, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, "SELECT name, created_at, updated_at FROM credentials ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("vault: failed to list credentials: %w", err)
	}
	defer rows.Close()

	var infos []CredentialInfo
	for rows.Next() {
		var info CredentialInfo
		if err := rows.Scan(&info.Name, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("vault: failed to scan credential: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Reencrypt rewrites every stored envelope with fn inside one
// transaction. If fn fails for any row nothing is changed.
func (s *Store) Reencrypt(ctx context.Context, fn func(envelope string) (string, error)) (int, error) {
	if s.db == nil {
		return 0, ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("vault: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT name, envelope FROM credentials")
	if err != nil {
		return 0, fmt.Errorf("vault: failed to read credentials: %w", err)
	}
	type record struct{ name, envelope string }
	var records []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.name, &r.envelope); err != nil {
			rows.Close()
			return 0, fmt.Errorf("vault: failed to scan credential: %w", err)
		}
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("vault: failed to read credentials: %w", err)
	}

	now := time.Now().UTC()
	for _, r := range records {
		updated, err := fn(r.envelope)
		if err != nil {
			return 0, fmt.Errorf("vault: failed to re-encrypt %q: %w", r.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE credentials SET envelope = ?, updated_at = ? WHERE name = ?",
			updated, now, r.name); err != nil {
			return 0, fmt.Errorf("vault: failed to update %q: %w", r.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("vault: failed to commit transaction: %w", err)
	}
	return len(records), nil
}

// validateCredentialName allows alphanumerics, dash, underscore, dot and
// slash, and rejects path-like tricks.
func validateCredentialName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrNameInvalid)
	}
	if len(name) > MaxCredentialNameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrNameInvalid, MaxCredentialNameLength)
	}
	for _, r := range name {
		if !isValidNameChar(r) {
			return fmt.Errorf("%w: '%c' is not allowed", ErrNameInvalid, r)
		}
	}
	if name[0] == '.' || name[0] == '-' {
		return fmt.Errorf("%w: cannot start with '.' or '-'", ErrNameInvalid)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrNameInvalid)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: cannot start or end with '/'", ErrNameInvalid)
	}
	return nil
}

func isValidNameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-' || r == '_' || r == '.' || r == '/'
}
