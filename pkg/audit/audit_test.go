package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/weblist/internal/clock"
	"github.com/forest6511/weblist/pkg/vault"
)

type testEnv struct {
	dir   string
	vault *vault.Vault
	clock *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	v, err := vault.Open(filepath.Join(root, "keys", vault.KeyFileName))
	if err != nil {
		t.Fatalf("vault.Open() error = %v", err)
	}
	return &testEnv{
		dir:   filepath.Join(root, "audit"),
		vault: v,
		clock: clock.Fake(time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC)),
	}
}

func (e *testEnv) open(t *testing.T) *Logger {
	t.Helper()
	l, err := Open(Config{Dir: e.dir, Keys: e.vault, Cipher: e.vault, Clock: e.clock})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return l
}

func mustLog(t *testing.T, l *Logger, e Entry) *Event {
	t.Helper()
	ev, err := l.Log(e)
	if err != nil {
		t.Fatalf("Log(%s) error = %v", e.Operation, err)
	}
	return ev
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() without directory should fail")
	}
	if _, err := Open(Config{Dir: t.TempDir()}); !errors.Is(err, ErrNoKey) {
		t.Errorf("Open() without keys error = %v, want ErrNoKey", err)
	}

	missing := vault.New(filepath.Join(t.TempDir(), "absent.key"))
	if _, err := Open(Config{Dir: t.TempDir(), Keys: missing}); !errors.Is(err, ErrNoKey) {
		t.Errorf("Open() with missing key error = %v, want ErrNoKey", err)
	}
}

func TestLogRecord(t *testing.T) {
	env := newTestEnv(t)
	l := env.open(t)

	ev := mustLog(t, l, Entry{
		Operation: OpUpload,
		Source:    SourceWeb,
		Path:      "/photos/a.jpg",
		User:      "alice",
		IP:        "203.0.113.7",
		Context:   map[string]string{"size": "1024"},
	})

	if ev.Version != 1 || ev.Chain.Sequence != 1 || ev.Chain.PrevHash != "genesis" || ev.Chain.HMAC == "" {
		t.Errorf("unexpected chain fields: %+v", ev.Chain)
	}
	if ev.Result != ResultSuccess {
		t.Errorf("Result = %q, want default %q", ev.Result, ResultSuccess)
	}
	if ev.Actor.SessionID != l.SessionID() {
		t.Errorf("SessionID = %q, want %q", ev.Actor.SessionID, l.SessionID())
	}

	files, _ := filepath.Glob(filepath.Join(env.dir, "*.jsonl"))
	if len(files) != 1 || filepath.Base(files[0]) != "2026-03.jsonl" {
		t.Fatalf("log files = %v", files)
	}
	raw, _ := os.ReadFile(files[0])
	for _, secret := range []string{"alice", "203.0.113.7"} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("log file contains plaintext %q", secret)
		}
	}

	var stored Event
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	user, ip, err := l.DecryptActor(&stored)
	if err != nil {
		t.Fatalf("DecryptActor() error = %v", err)
	}
	if user != "alice" || ip != "203.0.113.7" {
		t.Errorf("DecryptActor() = %q, %q", user, ip)
	}

	if info, err := os.Stat(files[0]); err == nil && info.Mode().Perm() != 0600 {
		t.Errorf("log file mode = %04o, want 0600", info.Mode().Perm())
	}
}

func TestLogRequiresOperation(t *testing.T) {
	l := newTestEnv(t).open(t)
	if _, err := l.Log(Entry{}); !errors.Is(err, ErrOperationRequired) {
		t.Errorf("Log() error = %v, want ErrOperationRequired", err)
	}
}

func TestActorFieldsNeedCipher(t *testing.T) {
	env := newTestEnv(t)
	l, err := Open(Config{Dir: env.dir, Keys: env.vault})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Log(Entry{Operation: OpTokenIssue, User: "bob"}); err == nil {
		t.Error("Log() with user but no cipher should fail")
	}
	if _, err := l.Log(Entry{Operation: OpList, Path: "/"}); err != nil {
		t.Errorf("Log() without actor fields error = %v", err)
	}
}

func TestChainPersistence(t *testing.T) {
	env := newTestEnv(t)

	first := mustLog(t, env.open(t), Entry{Operation: OpTokenIssue, User: "alice"})
	second := mustLog(t, env.open(t), Entry{Operation: OpTokenRejected, User: "alice"})

	if second.Chain.Sequence != 2 || second.Chain.PrevHash != first.Chain.HMAC {
		t.Errorf("second record chain = %+v, want seq 2 after %s", second.Chain, first.Chain.HMAC)
	}

	res, err := env.open(t).Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.RecordsTotal != 2 || res.RecordsVerified != 2 {
		t.Errorf("Verify() = %+v", res)
	}
}

func TestVerifyEmptyLog(t *testing.T) {
	res, err := newTestEnv(t).open(t).Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.RecordsTotal != 0 {
		t.Errorf("Verify() = %+v", res)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(t *testing.T, lines []string) []string
	}{
		{
			name: "edited path",
			tamper: func(t *testing.T, lines []string) []string {
				var e Event
				if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
					t.Fatal(err)
				}
				e.Path = "/innocent.txt"
				b, _ := json.Marshal(&e)
				lines[1] = string(b)
				return lines
			},
		},
		{
			name: "edited result",
			tamper: func(t *testing.T, lines []string) []string {
				lines[0] = strings.Replace(lines[0], `"result":"denied"`, `"result":"success"`, 1)
				return lines
			},
		},
		{
			name: "deleted record",
			tamper: func(t *testing.T, lines []string) []string {
				return append(lines[:1:1], lines[2:]...)
			},
		},
		{
			name: "reordered records",
			tamper: func(t *testing.T, lines []string) []string {
				lines[1], lines[2] = lines[2], lines[1]
				return lines
			},
		},
		{
			name: "truncated tail",
			tamper: func(t *testing.T, lines []string) []string {
				return lines[:2]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			l := env.open(t)
			mustLog(t, l, Entry{Operation: OpDelete, Path: "/a", Result: ResultDenied, User: "eve"})
			mustLog(t, l, Entry{Operation: OpDelete, Path: "/secret.txt", User: "eve"})
			mustLog(t, l, Entry{Operation: OpShare, Path: "/b", User: "eve"})

			path := filepath.Join(env.dir, "2026-03.jsonl")
			writeLines(t, path, tt.tamper(t, readLines(t, path)))

			res, err := l.Verify()
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if res.Valid {
				t.Error("Verify() did not detect tampering")
			}
			if len(res.Errors) == 0 {
				t.Error("Verify() reported no errors")
			}
		})
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	env := newTestEnv(t)
	mustLog(t, env.open(t), Entry{Operation: OpTokenIssue})

	other := newTestEnv(t)
	l, err := Open(Config{Dir: env.dir, Keys: other.vault, Cipher: other.vault, Clock: env.clock})
	if err != nil {
		t.Fatal(err)
	}
	res, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Error("log verified under a different audit key")
	}
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t)
	l := env.open(t)

	mustLog(t, l, Entry{Operation: OpTokenIssue, User: "alice"})
	mustLog(t, l, Entry{Operation: OpUpload, Path: "/a"})
	env.clock.Advance(2 * time.Minute) // crosses into April
	mustLog(t, l, Entry{Operation: OpDelete, Path: "/a", Result: ResultNotFound})
	mustLog(t, l, Entry{Operation: OpCredentialSet, Path: "storage.password"})

	files, _ := filepath.Glob(filepath.Join(env.dir, "*.jsonl"))
	if len(files) != 2 {
		t.Fatalf("expected two monthly files, got %v", files)
	}

	april := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{OpTokenIssue, OpUpload, OpDelete, OpCredentialSet}},
		{"operation prefix", Filter{Operation: "file."}, []string{OpUpload, OpDelete}},
		{"exact operation", Filter{Operation: OpTokenIssue}, []string{OpTokenIssue}},
		{"result", Filter{Result: ResultNotFound}, []string{OpDelete}},
		{"since", Filter{Since: april}, []string{OpDelete, OpCredentialSet}},
		{"until", Filter{Until: april}, []string{OpTokenIssue, OpUpload}},
		{"limit keeps newest", Filter{Limit: 1}, []string{OpCredentialSet}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := l.ListEvents(tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, e := range events {
				got = append(got, e.Operation)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ListEvents() = %v, want %v", got, tt.want)
			}
		})
	}

	res, err := l.Verify()
	if err != nil || !res.Valid || res.RecordsTotal != 4 {
		t.Errorf("Verify() across files = %+v, %v", res, err)
	}
}

func TestRotationReencryptsLog(t *testing.T) {
	env := newTestEnv(t)
	l := env.open(t)
	mustLog(t, l, Entry{Operation: OpTokenIssue, User: "alice", IP: "198.51.100.1"})
	mustLog(t, l, Entry{Operation: OpUpload, Path: "/x", User: "alice"})

	before, _ := l.ListEvents(Filter{})

	res, err := env.vault.Rotate(context.Background(), false, l)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if res.Reencrypted != 3 {
		t.Errorf("Reencrypted = %d, want 3", res.Reencrypted)
	}

	after, _ := l.ListEvents(Filter{})
	if after[0].Actor.User == before[0].Actor.User {
		t.Error("actor envelope unchanged after rotation")
	}
	user, ip, err := l.DecryptActor(&after[0])
	if err != nil || user != "alice" || ip != "198.51.100.1" {
		t.Errorf("DecryptActor() = %q, %q, %v", user, ip, err)
	}

	vr, err := l.Verify()
	if err != nil || !vr.Valid {
		t.Fatalf("Verify() after rotation = %+v, %v", vr, err)
	}

	// New records continue the re-signed chain, also from a fresh Logger.
	mustLog(t, env.open(t), Entry{Operation: OpKeyRotate})
	if vr, _ := env.open(t).Verify(); !vr.Valid || vr.RecordsTotal != 3 {
		t.Errorf("Verify() after append = %+v", vr)
	}
}

func TestRotationRefusesTamperedLog(t *testing.T) {
	env := newTestEnv(t)
	l := env.open(t)
	mustLog(t, l, Entry{Operation: OpDelete, Path: "/secret.txt", User: "eve"})
	mustLog(t, l, Entry{Operation: OpShare, Path: "/b", User: "eve"})

	path := filepath.Join(env.dir, "2026-03.jsonl")
	lines := readLines(t, path)
	lines[0] = strings.Replace(lines[0], `"/secret.txt"`, `"/innocent.txt"`, 1)
	writeLines(t, path, lines)

	if _, err := env.vault.Rotate(context.Background(), false, l); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("Rotate() error = %v, want ErrChainBroken", err)
	}
	if got := readLines(t, path); got[0] != lines[0] || got[1] != lines[1] {
		t.Error("log rewritten by failed rotation")
	}
	vr, err := env.open(t).Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if vr.Valid {
		t.Error("tampering no longer detected after failed rotation")
	}
}

type failingTarget struct{}

func (failingTarget) Reencrypt(context.Context, func(string) (string, error)) (int, error) {
	return 0, errors.New("boom")
}

func TestRotationRollbackRestoresLog(t *testing.T) {
	env := newTestEnv(t)
	l := env.open(t)
	mustLog(t, l, Entry{Operation: OpTokenIssue, User: "alice"})

	if _, err := env.vault.Rotate(context.Background(), false, l, failingTarget{}); err == nil {
		t.Fatal("Rotate() with failing target should fail")
	}

	events, _ := l.ListEvents(Filter{})
	if user, _, err := l.DecryptActor(&events[0]); err != nil || user != "alice" {
		t.Errorf("DecryptActor() after rollback = %q, %v", user, err)
	}
	if vr, err := env.open(t).Verify(); err != nil || !vr.Valid {
		t.Errorf("Verify() after rollback = %+v, %v", vr, err)
	}
}
