package mcp

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, p *Policy)
	}{
		{
			name:    "defaults",
			content: "version: 1\n",
			check: func(t *testing.T, p *Policy) {
				if p.DefaultAction != ActionDeny || p.Role != "user" {
					t.Errorf("defaults = %+v", p)
				}
			},
		},
		{
			name:    "full",
			content: "version: 1\nrole: admin\ndefault_action: allow\ndenied_paths: [/private]\nallow_share: true\n",
			check: func(t *testing.T, p *Policy) {
				if p.Role != "admin" || !p.AllowShare || len(p.DeniedPaths) != 1 {
					t.Errorf("policy = %+v", p)
				}
			},
		},
		{
			name:    "rate limit default burst",
			content: "version: 1\nrate_limit: 5\n",
			check: func(t *testing.T, p *Policy) {
				if p.RateLimit != 5 || p.Burst != 5 {
					t.Errorf("rate_limit = %v burst = %d", p.RateLimit, p.Burst)
				}
			},
		},
		{name: "negative rate limit", content: "version: 1\nrate_limit: -1\n", wantErr: true},
		{name: "bad version", content: "version: 2\n", wantErr: true},
		{name: "bad action", content: "version: 1\ndefault_action: maybe\n", wantErr: true},
		{name: "bad role", content: "version: 1\nrole: root\n", wantErr: true},
		{name: "bad yaml", content: "version: [\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy([]byte(tt.content))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, p)
			}
		})
	}
}

func TestIsPathAllowed(t *testing.T) {
	p := &Policy{
		Version:       1,
		DefaultAction: ActionDeny,
		AllowedPaths:  []string{"/docs", "photos/"},
		DeniedPaths:   []string{"/docs/private"},
	}
	tests := []struct {
		path string
		want bool
	}{
		{"/docs", true},
		{"/docs/report.pdf", true},
		{"/docs/private", false},
		{"/docs/private/x", false},
		{"/docsx", false},
		{"/photos/2025", true},
		{"/", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got, reason := p.IsPathAllowed(tt.path); got != tt.want {
				t.Errorf("IsPathAllowed(%q) = %v (%s), want %v", tt.path, got, reason, tt.want)
			}
		})
	}

	if ok, _ := DefaultPolicy().IsPathAllowed("/anything"); !ok {
		t.Error("default policy should allow unlisted paths")
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadPolicy(dir); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("LoadPolicy() on empty dir error = %v", err)
	}

	path := filepath.Join(dir, PolicyFileName)
	if err := os.WriteFile(path, []byte("version: 1\nallowed_paths: [/docs]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPolicy(dir)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if len(p.AllowedPaths) != 1 {
		t.Errorf("policy = %+v", p)
	}

	if runtime.GOOS == "windows" {
		t.Skip("permission and symlink checks are unix-only")
	}
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(dir); !errors.Is(err, ErrPolicyInsecure) {
		t.Errorf("LoadPolicy() with 0644 error = %v, want %v", err, ErrPolicyInsecure)
	}

	linkDir := t.TempDir()
	os.Chmod(path, 0600)
	if err := os.Symlink(path, filepath.Join(linkDir, PolicyFileName)); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(linkDir); !errors.Is(err, ErrPolicySymlink) {
		t.Errorf("LoadPolicy() via symlink error = %v, want %v", err, ErrPolicySymlink)
	}
}
