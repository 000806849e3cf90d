package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/weblist/internal/clock"
	"github.com/forest6511/weblist/internal/listing"
	"github.com/forest6511/weblist/pkg/cache"
	"github.com/forest6511/weblist/pkg/vault"
)

type memStore map[string]string

func (m memStore) List(context.Context) ([]vault.CredentialInfo, error) {
	var out []vault.CredentialInfo
	for k := range m {
		out = append(out, vault.CredentialInfo{Name: k})
	}
	return out, nil
}

func (m memStore) Get(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", vault.ErrCredentialNotFound
	}
	return v, nil
}

func newTestServer(t *testing.T, policy *Policy) *Server {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"docs", "docs/private", "admin"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "report.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	backend, err := listing.NewLocalBackend(root)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewServer(Options{
		Files:       listing.NewService(backend),
		Credentials: memStore{"storage/token": "tok-1234567890"},
		Policy:      policy,
		User:        "agent",
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(Options{}); err == nil {
		t.Error("NewServer() without listing service succeeded")
	}
	backend, _ := listing.NewLocalBackend(t.TempDir())
	_, err := NewServer(Options{
		Files:  listing.NewService(backend),
		Policy: &Policy{Version: 1, Role: "user", DefaultAction: ActionAllow, AllowCredentials: true},
	})
	if err == nil {
		t.Error("NewServer() allowed credentials without a store")
	}
}

func TestHandleFilesList(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, &Policy{
		Version:       1,
		Role:          "user",
		DefaultAction: ActionAllow,
		DeniedPaths:   []string{"/docs/private"},
	})

	_, out, err := s.handleFilesList(ctx, nil, PathInput{Path: "/docs"})
	if err != nil {
		t.Fatalf("files_list error = %v", err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Name != "report.txt" || out.Entries[0].Size != 5 {
		t.Errorf("entries = %+v, want only report.txt", out.Entries)
	}

	for _, p := range []string{"/docs/private", "/admin", "/../etc"} {
		if _, _, err := s.handleFilesList(ctx, nil, PathInput{Path: p}); err == nil {
			t.Errorf("files_list(%s) succeeded", p)
		}
	}

	_, root, err := s.handleFilesList(ctx, nil, PathInput{})
	if err != nil || root.Path != "/" {
		t.Errorf("files_list(empty) = %+v, %v", root, err)
	}
}

func TestHandleFilesSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, &Policy{
		Version:       1,
		Role:          "user",
		DefaultAction: ActionAllow,
		DeniedPaths:   []string{"/docs/private"},
	})

	_, out, err := s.handleFilesSearch(ctx, nil, FilesSearchInput{Path: "/docs", Keyword: "REP"})
	if err != nil || out.Count != 1 || out.Entries[0].Path != "/docs/report.txt" {
		t.Errorf("files_search = %+v, %v", out, err)
	}
	_, folders, err := s.handleFilesSearch(ctx, nil, FilesSearchInput{Path: "/docs", Type: "folder"})
	if err != nil || folders.Count != 0 {
		t.Errorf("files_search(folder) = %+v, %v, want denied folder hidden", folders, err)
	}
	if _, _, err := s.handleFilesSearch(ctx, nil, FilesSearchInput{Path: "/docs", Type: "link"}); err == nil {
		t.Error("files_search accepted an unknown type")
	}
}

func TestHandleFilesLinkAndShare(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, &Policy{Version: 1, Role: "user", DefaultAction: ActionAllow, AllowShare: true})

	_, link, err := s.handleFilesLink(ctx, nil, PathInput{Path: "/docs/report.txt"})
	if err != nil || !strings.HasPrefix(link.URL, "file://") {
		t.Errorf("files_link = %+v, %v", link, err)
	}
	if _, _, err := s.handleFilesLink(ctx, nil, PathInput{Path: "/docs/missing.txt"}); err == nil || !strings.Contains(err.Error(), "not_found") {
		t.Errorf("files_link(missing) error = %v", err)
	}

	_, share, err := s.handleFilesShare(ctx, nil, PathInput{Path: "/docs"})
	if err != nil || !strings.HasPrefix(share.URL, "weblist://share/") {
		t.Errorf("files_share = %+v, %v", share, err)
	}
}

func TestHandleCredentials(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, &Policy{Version: 1, Role: "user", DefaultAction: ActionAllow, AllowCredentials: true})

	_, list, err := s.handleCredentialList(ctx, nil, CredentialListInput{})
	if err != nil || len(list.Credentials) != 1 || list.Credentials[0].Name != "storage/token" {
		t.Errorf("credential_list = %+v, %v", list, err)
	}

	_, masked, err := s.handleCredentialGetMasked(ctx, nil, CredentialGetMaskedInput{Name: "storage/token"})
	if err != nil {
		t.Fatal(err)
	}
	if masked.MaskedValue != "**********7890" || masked.ValueLength != 14 {
		t.Errorf("credential_get_masked = %+v", masked)
	}
	if _, _, err := s.handleCredentialGetMasked(ctx, nil, CredentialGetMaskedInput{Name: "nope"}); err == nil {
		t.Error("credential_get_masked(nope) succeeded")
	}
}

type countingStore struct {
	memStore
	lists int
}

func (c *countingStore) List(ctx context.Context) ([]vault.CredentialInfo, error) {
	c.lists++
	return c.memStore.List(ctx)
}

func TestCredentialListCache(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, &Policy{Version: 1, Role: "user", DefaultAction: ActionAllow, AllowCredentials: true})
	store := &countingStore{memStore: memStore{"storage/token": "tok-1234567890"}}
	fc := clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	c, err := cache.New[[]vault.CredentialInfo](10, time.Minute, cache.WithClock(fc))
	if err != nil {
		t.Fatal(err)
	}
	s.creds, s.credCache = store, c

	for range 3 {
		if _, out, err := s.handleCredentialList(ctx, nil, CredentialListInput{}); err != nil || len(out.Credentials) != 1 {
			t.Fatalf("credential_list = %+v, %v", out, err)
		}
	}
	if store.lists != 1 {
		t.Errorf("store listed %d times within TTL, want 1", store.lists)
	}

	fc.Advance(time.Minute + time.Second)
	if _, _, err := s.handleCredentialList(ctx, nil, CredentialListInput{}); err != nil {
		t.Fatal(err)
	}
	if store.lists != 2 {
		t.Errorf("store listed %d times after TTL, want 2", store.lists)
	}
}

func TestMaskValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"12345678", "****5678"},
	}
	for _, tt := range tests {
		if got := maskValue(tt.in); got != tt.want {
			t.Errorf("maskValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRateLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, &Policy{Version: 1, Role: "user", DefaultAction: ActionAllow, RateLimit: 0.001, Burst: 2})
	h := limited(s, "files_list", s.handleFilesList)

	for i := range 2 {
		if _, _, err := h(ctx, nil, PathInput{Path: "/docs"}); err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
	}
	if _, _, err := h(ctx, nil, PathInput{Path: "/docs"}); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third call error = %v, want %v", err, ErrRateLimited)
	}

	unlimited := newTestServer(t, &Policy{Version: 1, Role: "user", DefaultAction: ActionAllow})
	for range 50 {
		if err := unlimited.allow("files_list"); err != nil {
			t.Fatalf("allow() without limit error = %v", err)
		}
	}
}
