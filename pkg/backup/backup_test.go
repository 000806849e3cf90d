package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/forest6511/weblist/pkg/vault"
)

func newStore(t *testing.T) *vault.Store {
	t.Helper()
	dir := t.TempDir()
	v := vault.New(filepath.Join(dir, vault.KeyFileName))
	if err := v.EnsureKey(); err != nil {
		t.Fatalf("EnsureKey() error = %v", err)
	}
	s, err := vault.OpenStore(filepath.Join(dir, "credentials.db"), v)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *vault.Store, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		if err := s.Put(context.Background(), k, v); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newStore(t)
	seed(t, src, map[string]string{"storage/token": "abc", "mail/password": "hunter2"})

	var buf bytes.Buffer
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	header, err := Backup(ctx, src, &buf, Options{Passphrase: []byte("backup pass"), Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if header.CredentialCount != 2 || !header.CreatedAt.Equal(now) || header.Compression != "zstd" {
		t.Errorf("header = %+v", header)
	}
	if bytes.Contains(buf.Bytes(), []byte("hunter2")) {
		t.Fatal("backup contains plaintext")
	}

	_, creds, err := Read(bytes.NewReader(buf.Bytes()), []byte("backup pass"))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	dst := newStore(t)
	res, err := Restore(ctx, dst, creds, ConflictError, false)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if res.Restored != 2 {
		t.Errorf("Restored = %d, want 2", res.Restored)
	}
	if got, _ := dst.Get(ctx, "mail/password"); got != "hunter2" {
		t.Errorf("restored value = %q", got)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte(`{"name":"storage/token","value":"abc"}`), 100)
	c := compress(data)
	if len(c) >= len(data) {
		t.Errorf("compressed %d bytes to %d", len(data), len(c))
	}
	got, err := decompress(c)
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("decompress() = %d bytes, %v", len(got), err)
	}
	if _, err := decompress([]byte("not zstd")); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("decompress(garbage) error = %v", err)
	}
}

func TestReadRejects(t *testing.T) {
	var buf bytes.Buffer
	creds := []Credential{{Name: "a", Value: "1"}}
	if _, err := Write(&buf, creds, Options{Passphrase: []byte("pass")}); err != nil {
		t.Fatal(err)
	}
	good := buf.Bytes()

	headerEnd := 12 + int(binary.BigEndian.Uint32(good[8:12]))

	flip := func(i int) []byte {
		b := bytes.Clone(good)
		b[i] ^= 0x01
		return b
	}

	tests := []struct {
		name    string
		data    []byte
		pass    string
		wantErr error
	}{
		{"wrong passphrase", good, "other", ErrIntegrityFailed},
		{"empty passphrase", good, "", ErrEmptyPassphrase},
		{"bad magic", flip(0), "pass", ErrInvalidMagic},
		{"tampered ciphertext", flip(len(good) - HMACLength - 5), "pass", ErrIntegrityFailed},
		{"tampered mac", flip(len(good) - 1), "pass", ErrIntegrityFailed},
		{"truncated", good[:headerEnd+10], "pass", ErrTruncated},
		{"too short", good[:6], "pass", ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Read(bytes.NewReader(tt.data), []byte(tt.pass)); !errors.Is(err, tt.wantErr) {
				t.Errorf("Read() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRestoreConflicts(t *testing.T) {
	ctx := context.Background()
	creds := []Credential{{Name: "a", Value: "new-a"}, {Name: "b", Value: "new-b"}}

	tests := []struct {
		name         string
		mode         ConflictMode
		dryRun       bool
		wantErr      error
		wantRestored int
		wantSkipped  int
		wantA        string
		wantB        string
	}{
		{"error mode writes nothing", ConflictError, false, ErrConflict, 0, 0, "old-a", ""},
		{"skip keeps existing", ConflictSkip, false, nil, 1, 1, "old-a", "new-b"},
		{"overwrite replaces", ConflictOverwrite, false, nil, 2, 0, "new-a", "new-b"},
		{"dry run changes nothing", ConflictOverwrite, true, nil, 2, 0, "old-a", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			seed(t, s, map[string]string{"a": "old-a"})

			res, err := Restore(ctx, s, creds, tt.mode, tt.dryRun)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Restore() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && (res.Restored != tt.wantRestored || res.Skipped != tt.wantSkipped) {
				t.Errorf("Restore() = %+v", res)
			}
			if got, _ := s.Get(ctx, "a"); got != tt.wantA {
				t.Errorf("a = %q, want %q", got, tt.wantA)
			}
			if got, _ := s.Get(ctx, "b"); got != tt.wantB {
				t.Errorf("b = %q, want %q", got, tt.wantB)
			}
		})
	}
}

func TestParseConflictMode(t *testing.T) {
	for in, want := range map[string]ConflictMode{"": ConflictError, "error": ConflictError, "skip": ConflictSkip, "overwrite": ConflictOverwrite} {
		if got, err := ParseConflictMode(in); err != nil || got != want {
			t.Errorf("ParseConflictMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseConflictMode("merge"); err == nil {
		t.Error("ParseConflictMode(merge) succeeded")
	}
}
