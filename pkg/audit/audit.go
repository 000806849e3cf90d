// Package audit records file and credential operations in an append-only
// JSONL log protected by an HMAC chain.
//
// Each record carries the HMAC of its predecessor, so deleting, reordering
// or editing a record breaks verification. The acting user and the client
// address are stored as master-key envelopes and are only readable through
// the vault that wrote them.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/weblist/internal/clock"
)

// Disk space constants
const (
	MinAuditDiskSpace = 1024 * 1024 // 1 MB minimum for audit logs
)

const (
	schemaVersion = 1
	genesisHash   = "genesis"
	metaFileName  = "audit.meta"
)

// Operation types
const (
	OpTokenIssue    = "token.issue"
	OpTokenRejected = "token.rejected"

	OpList         = "file.list"
	OpUpload       = "file.upload"
	OpDownload     = "file.download"
	OpDelete       = "file.delete"
	OpCreateFolder = "file.create_folder"
	OpShare        = "file.share"

	OpCredentialSet    = "credential.set"
	OpCredentialGet    = "credential.get"
	OpCredentialDelete = "credential.delete"

	OpVaultInit    = "vault.init"
	OpKeyRotate    = "vault.rotate"
	OpVaultBackup  = "vault.backup"
	OpVaultRestore = "vault.restore"
)

// Source identifies where the operation originated
const (
	SourceCLI = "cli"
	SourceWeb = "web"
	SourceAPI = "api"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultDenied   = "denied"
	ResultNotFound = "not_found"
)

// Errors
var (
	ErrNoKey              = errors.New("audit: HMAC key not available")
	ErrInsufficientDisk   = errors.New("audit: insufficient disk space")
	ErrOperationRequired  = errors.New("audit: operation is required")
	ErrCorruptRecord      = errors.New("audit: corrupt record")
	ErrActorUndecryptable = errors.New("audit: actor fields cannot be decrypted")
	ErrChainBroken        = errors.New("audit: chain verification failed")
)

// Event is a single audit log record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"` // UUIDv7, time-ordered
	Timestamp string `json:"ts"` // RFC 3339, nanosecond precision

	Operation string `json:"op"`
	Path      string `json:"path,omitempty"` // file path or credential name

	Actor Actor `json:"actor"`

	Result string     `json:"result"`
	Error  *ErrorInfo `json:"error,omitempty"`

	Context map[string]string `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// Actor identifies who performed an operation. User and IP hold
// master-key envelopes, never plaintext.
type Actor struct {
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
	User      string `json:"user,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Entry describes an operation to record. User and IP are given in
// plaintext and encrypted before they reach disk.
type Entry struct {
	Operation string
	Source    string
	Result    string
	Path      string
	User      string
	IP        string
	Error     *ErrorInfo
	Context   map[string]string
}

// FieldCipher encrypts actor fields. *vault.Vault satisfies it; an
// empty passphrase selects the master key.
type FieldCipher interface {
	Encrypt(plaintext, passphrase string) (string, error)
	Decrypt(envelope, passphrase string) (string, error)
}

// KeySource supplies the chain HMAC key. *vault.Vault satisfies it.
type KeySource interface {
	AuditKey() ([]byte, error)
}

// Config configures a Logger.
type Config struct {
	Dir    string
	Keys   KeySource
	Cipher FieldCipher
	Clock  clock.Clock
}

// Logger appends events to monthly files under a directory.
type Logger struct {
	dir       string
	keys      KeySource
	cipher    FieldCipher
	clock     clock.Clock
	sessionID string

	mu       sync.Mutex // protects everything below and file writes
	hmacKey  []byte
	sequence int64
	prevHash string
}

// Open returns a Logger for cfg.Dir, resuming the chain recorded in the
// directory's metadata file.
func Open(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("audit: directory is required")
	}
	if cfg.Keys == nil {
		return nil, ErrNoKey
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	key, err := cfg.Keys.AuditKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoKey, err)
	}

	l := &Logger{
		dir:       cfg.Dir,
		keys:      cfg.Keys,
		cipher:    cfg.Cipher,
		clock:     cfg.Clock,
		sessionID: uuid.NewString(),
		hmacKey:   key,
		prevHash:  genesisHash,
	}
	if err := l.loadChainState(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return l, nil
}

// Dir returns the audit log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// SessionID identifies this Logger instance in every record it writes.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Log appends an event for e and returns it.
func (l *Logger) Log(e Entry) (*Event, error) {
	if e.Operation == "" {
		return nil, ErrOperationRequired
	}
	if e.Result == "" {
		e.Result = ResultSuccess
	}
	if e.Source == "" {
		e.Source = SourceCLI
	}

	user, err := l.sealField(e.User)
	if err != nil {
		return nil, err
	}
	ip, err := l.sealField(e.IP)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return nil, err
	}

	now := l.clock.Now().UTC()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("audit: failed to generate event ID: %w", err)
	}

	event := &Event{
		Version:   schemaVersion,
		ID:        id.String(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: e.Operation,
		Path:      e.Path,
		Actor: Actor{
			Source:    e.Source,
			SessionID: l.sessionID,
			User:      user,
			IP:        ip,
		},
		Result:  e.Result,
		Error:   e.Error,
		Context: e.Context,
	}
	event.Chain.Sequence = l.sequence + 1
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = sign(l.hmacKey, event)

	if err := l.appendEvent(now, event); err != nil {
		return nil, err
	}
	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC

	if err := l.saveChainState(); err != nil {
		return nil, err
	}
	return event, nil
}

func (l *Logger) sealField(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if l.cipher == nil {
		return "", errors.New("audit: actor fields given but no cipher configured")
	}
	env, err := l.cipher.Encrypt(v, "")
	if err != nil {
		return "", fmt.Errorf("audit: failed to encrypt actor field: %w", err)
	}
	return env, nil
}

// DecryptActor returns the plaintext user and client address of e.
func (l *Logger) DecryptActor(e *Event) (user, ip string, err error) {
	if l.cipher == nil {
		return "", "", ErrActorUndecryptable
	}
	if user, err = l.cipher.Decrypt(e.Actor.User, ""); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrActorUndecryptable, err)
	}
	if ip, err = l.cipher.Decrypt(e.Actor.IP, ""); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrActorUndecryptable, err)
	}
	return user, ip, nil
}

// recordData is the byte string covered by a record's HMAC. Every field
// except the HMAC itself is included; context keys are sorted.
func recordData(e *Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|", e.Version, e.ID, e.Timestamp, e.Operation, e.Path)
	fmt.Fprintf(&b, "%s|%s|%s|%s|", e.Actor.Source, e.Actor.SessionID, e.Actor.User, e.Actor.IP)
	b.WriteString(e.Result)
	b.WriteByte('|')
	if e.Error != nil {
		fmt.Fprintf(&b, "%s|%s", e.Error.Code, e.Error.Message)
	}
	b.WriteByte('|')
	for _, k := range slices.Sorted(maps.Keys(e.Context)) {
		fmt.Fprintf(&b, "%q=%q|", k, e.Context[k])
	}
	fmt.Fprintf(&b, "|%d|%s", e.Chain.Sequence, e.Chain.PrevHash)
	return []byte(b.String())
}

func sign(key []byte, e *Event) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(recordData(e))
	return hex.EncodeToString(mac.Sum(nil))
}

func fileNameFor(t time.Time) string {
	return t.UTC().Format("2006-01") + ".jsonl"
}

func (l *Logger) appendEvent(now time.Time, e *Event) error {
	f, err := os.OpenFile(filepath.Join(l.dir, fileNameFor(now)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, metaFileName))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("audit: failed to parse chain state: %w", err)
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, metaFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// logFiles returns the monthly files in chronological order.
func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	slices.Sort(files)
	return files, nil
}

func readLogFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorruptRecord, filepath.Base(path), line, err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (l *Logger) readAll() ([][]Event, []string, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, nil, err
	}
	all := make([][]Event, 0, len(files))
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events)
	}
	return all, files, nil
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify walks every record and checks sequence numbers, predecessor
// links and HMACs. The tail is also checked against the metadata file
// so that truncating the newest records is detected.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, _, err := l.readAll()
	if err != nil {
		return nil, err
	}
	return l.checkChain(all), nil
}

// checkChain verifies all under the logger's current HMAC key.
func (l *Logger) checkChain(all [][]Event) *VerifyResult {
	result := &VerifyResult{Valid: true}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	expectedPrev := genesisHash
	var expectedSeq int64 = 1
	for _, events := range all {
		for i := range events {
			e := &events[i]
			result.RecordsTotal++

			ok := true
			if e.Chain.Sequence != expectedSeq {
				fail("sequence gap at record %s: expected %d, got %d", e.ID, expectedSeq, e.Chain.Sequence)
				ok = false
			}
			if e.Chain.PrevHash != expectedPrev {
				fail("chain broken at record %s: expected prev %s, got %s", e.ID, expectedPrev, e.Chain.PrevHash)
				ok = false
			}
			if !hmac.Equal([]byte(e.Chain.HMAC), []byte(sign(l.hmacKey, e))) {
				fail("HMAC mismatch at record %s: possible tampering", e.ID)
				ok = false
			}
			if ok {
				result.RecordsVerified++
			}

			expectedPrev = e.Chain.HMAC
			expectedSeq = e.Chain.Sequence + 1
		}
	}

	state := chainState{PrevHash: genesisHash}
	if data, err := os.ReadFile(filepath.Join(l.dir, metaFileName)); err == nil {
		if err := json.Unmarshal(data, &state); err != nil {
			fail("chain state unreadable: %v", err)
		}
	}
	if expectedSeq-1 != state.Sequence || expectedPrev != state.PrevHash {
		fail("log ends at sequence %d but chain state records %d: records missing", expectedSeq-1, state.Sequence)
	}
	return result
}

// Filter selects events in ListEvents. Zero values disable a criterion.
type Filter struct {
	Since     time.Time
	Until     time.Time
	Operation string // exact match, or a prefix ending in "." such as "file."
	Result    string
	Limit     int // most recent N after the other criteria
}

func (f Filter) match(e *Event) bool {
	if f.Operation != "" {
		if strings.HasSuffix(f.Operation, ".") {
			if !strings.HasPrefix(e.Operation, f.Operation) {
				return false
			}
		} else if e.Operation != f.Operation {
			return false
		}
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if f.Since.IsZero() && f.Until.IsZero() {
		return true
	}
	ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.Since.IsZero() && ts.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ts.After(f.Until) {
		return false
	}
	return true
}

// ListEvents returns matching events, oldest first.
func (l *Logger) ListEvents(f Filter) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, _, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, events := range all {
		for i := range events {
			if f.match(&events[i]) {
				out = append(out, events[i])
			}
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Reencrypt moves every actor envelope to a new master key and re-signs
// the chain with the audit key the KeySource returns now. The existing
// chain must verify under the previous key first; otherwise nothing is
// rewritten and ErrChainBroken is returned. It is called
// by vault.Rotate after the new key is in place (and again, with the
// inverse function, if the rotation is rolled back).
func (l *Logger) Reencrypt(ctx context.Context, fn func(envelope string) (string, error)) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, err := l.keys.AuditKey()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoKey, err)
	}

	all, files, err := l.readAll()
	if err != nil {
		return 0, err
	}
	if res := l.checkChain(all); !res.Valid {
		return 0, fmt.Errorf("%w: %s", ErrChainBroken, strings.Join(res.Errors, "; "))
	}

	count := 0
	prev := genesisHash
	var seq int64
	for _, events := range all {
		for i := range events {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			e := &events[i]
			for _, field := range []*string{&e.Actor.User, &e.Actor.IP} {
				if *field == "" {
					continue
				}
				rewrapped, err := fn(*field)
				if err != nil {
					return 0, fmt.Errorf("audit: failed to re-encrypt record %s: %w", e.ID, err)
				}
				*field = rewrapped
				count++
			}
			seq++
			e.Chain.Sequence = seq
			e.Chain.PrevHash = prev
			e.Chain.HMAC = sign(key, e)
			prev = e.Chain.HMAC
		}
	}

	// Stage every file before replacing any of them.
	staged := make([]string, 0, len(files))
	defer func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}()
	for i, file := range files {
		tmp, err := writeStaged(file, all[i])
		if err != nil {
			return 0, fmt.Errorf("audit: failed to rewrite %s: %w", file, err)
		}
		staged = append(staged, tmp)
	}
	for i, tmp := range staged {
		if err := os.Rename(tmp, files[i]); err != nil {
			return 0, fmt.Errorf("audit: failed to replace %s: %w", files[i], err)
		}
	}
	staged = nil

	l.hmacKey = key
	l.sequence = seq
	l.prevHash = prev
	if err := l.saveChainState(); err != nil {
		return 0, err
	}
	return count, nil
}

func writeStaged(path string, events []Event) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	w := bufio.NewWriter(f)
	for i := range events {
		data, err := json.Marshal(&events[i])
		if err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
