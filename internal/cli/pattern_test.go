package cli

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var names = []string{
	"storage/password",
	"storage/token",
	"storage/backup/password",
	"smtp.password",
	"api-key",
}

func TestMatchNames(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    []string
		wantErr error
	}{
		{"exact", "api-key", []string{"api-key"}, nil},
		{"exact missing", "nope", nil, ErrNoMatch},
		{"star within segment", "storage/*", []string{"storage/password", "storage/token"}, nil},
		{"star does not cross slash", "*password", []string{"smtp.password"}, nil},
		{"nested", "storage/*/password", []string{"storage/backup/password"}, nil},
		{"question mark", "api-ke?", []string{"api-key"}, nil},
		{"class", "storage/[pt]*", []string{"storage/password", "storage/token"}, nil},
		{"no match", "x*", nil, ErrNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchNames(tt.pattern, names)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("MatchNames(%q) error = %v, want %v", tt.pattern, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("MatchNames(%q) error = %v", tt.pattern, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MatchNames(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestMatchNamesInvalidPattern(t *testing.T) {
	if _, err := MatchNames("[", names); err == nil || errors.Is(err, ErrNoMatch) {
		t.Errorf("MatchNames([) error = %v, want syntax error", err)
	}
}

func TestMatchAllDeduplicates(t *testing.T) {
	got, err := MatchAll([]string{"storage/*", "storage/token", "api-key"}, names)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"storage/password", "storage/token", "api-key"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MatchAll() = %v, want %v", got, want)
	}

	if _, err := MatchAll([]string{"api-key", "missing"}, names); !errors.Is(err, ErrNoMatch) {
		t.Errorf("MatchAll() with a missing name error = %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"24h", 24 * time.Hour, false},
		{"3m", 90 * 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"1h30s", time.Hour + 30*time.Second, false},
		{"d", 0, true},
		{"xd", 0, true},
		{"-1d", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
