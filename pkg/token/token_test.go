package token

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/forest6511/weblist/internal/clock"
)

var (
	testSecret = bytes.Repeat([]byte{0x42}, 32)
	epoch      = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

func newTestIssuer(t *testing.T, ttl time.Duration) (*Issuer, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(epoch)
	iss, err := New(Config{Secret: testSecret, TTL: ttl, Clock: fc})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return iss, fc
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"short secret", Config{Secret: []byte("short")}},
		{"ttl too short", Config{Secret: testSecret, TTL: time.Second}},
		{"ttl too long", Config{Secret: testSecret, TTL: 48 * time.Hour}},
		{"negative ttl", Config{Secret: testSecret, TTL: -time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	iss, err := New(Config{Secret: testSecret})
	if err != nil {
		t.Fatal(err)
	}
	if iss.TTL() != DefaultTTL {
		t.Errorf("default TTL = %v, want %v", iss.TTL(), DefaultTTL)
	}
}

func TestIssueVerify(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)

	tok, claims, err := iss.IssueWithClaims("admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if claims.ID == "" || claims.Issuer != DefaultIssuer {
		t.Errorf("claims = %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(epoch.Add(time.Hour)) || !claims.IssuedAt.Time.Equal(epoch) {
		t.Errorf("iat/exp = %v/%v", claims.IssuedAt, claims.ExpiresAt)
	}

	sub, err := iss.Verify(tok)
	if err != nil || sub != "admin" {
		t.Errorf("Verify() = %q, %v; want admin, nil", sub, err)
	}
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)
	if _, err := iss.Issue("  "); err == nil {
		t.Error("Issue() with blank subject should fail")
	}
}

func TestUniqueTokenIDs(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)
	a, _ := iss.Issue("u")
	b, _ := iss.Issue("u")
	if a == b {
		t.Error("two tokens issued at the same instant are identical")
	}
}

func TestExpiryBoundary(t *testing.T) {
	const horizon = 2 * time.Hour
	iss, fc := newTestIssuer(t, horizon)
	tok, err := iss.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	fc.Set(epoch.Add(horizon - time.Second))
	if _, err := iss.Verify(tok); err != nil {
		t.Errorf("Verify() just before expiry error = %v", err)
	}

	fc.Set(epoch.Add(horizon))
	if _, err := iss.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() at expiry error = %v, want ErrTokenExpired", err)
	}

	fc.Set(epoch.Add(horizon + time.Second))
	if _, err := iss.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() after expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestExpiryFractionalIssueTime(t *testing.T) {
	const horizon = time.Hour
	iss, fc := newTestIssuer(t, horizon)
	issued := epoch.Add(700 * time.Millisecond)
	fc.Set(issued)
	tok, claims, err := iss.IssueWithClaims("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if want := epoch.Add(horizon + time.Second); !claims.ExpiresAt.Time.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, want)
	}

	fc.Set(issued.Add(horizon - 100*time.Millisecond))
	if _, err := iss.Verify(tok); err != nil {
		t.Errorf("Verify() 100ms before horizon error = %v", err)
	}

	fc.Set(epoch.Add(horizon + time.Second))
	if _, err := iss.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() at rounded expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestWrongSecret(t *testing.T) {
	iss, fc := newTestIssuer(t, time.Hour)
	other, err := New(Config{Secret: bytes.Repeat([]byte{0x43}, 32), Clock: fc})
	if err != nil {
		t.Fatal(err)
	}
	tok, _ := other.Issue("mallory")
	if _, err := iss.Verify(tok); !errors.Is(err, ErrTokenInvalidSignature) {
		t.Errorf("Verify() error = %v, want ErrTokenInvalidSignature", err)
	}
}

func TestWrongIssuerIsRejected(t *testing.T) {
	fc := clock.Fake(epoch)
	a, _ := New(Config{Secret: testSecret, Issuer: "a", Clock: fc})
	b, _ := New(Config{Secret: testSecret, Issuer: "b", Clock: fc})
	tok, _ := a.Issue("u")
	if _, err := b.Verify(tok); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("Verify() error = %v, want ErrTokenMalformed", err)
	}
}

func TestAlgorithmConfusion(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)

	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		Issuer:    DefaultIssuer,
		IssuedAt:  jwt.NewNumericDate(epoch),
		ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Hour)),
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Verify(none); !errors.Is(err, ErrTokenInvalidSignature) {
		t.Errorf("alg=none Verify() error = %v, want ErrTokenInvalidSignature", err)
	}

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	if _, err := iss.Verify(hs512); !errors.Is(err, ErrTokenInvalidSignature) {
		t.Errorf("alg=HS512 Verify() error = %v, want ErrTokenInvalidSignature", err)
	}
}

func TestMalformed(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)
	for _, in := range []string{"", "abc", "a.b", "a.b.c", "....", "eyJhbGciOiJIUzI1NiJ9.e30"} {
		if _, err := iss.Verify(in); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("Verify(%q) error = %v, want ErrTokenMalformed", in, err)
		}
	}
}

// TestTamperEveryCharacter alters each character of a valid token.
func TestTamperEveryCharacter(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)
	tok, err := iss.Issue("admin")
	if err != nil {
		t.Fatal(err)
	}

	for i := range tok {
		b := []byte(tok)
		switch b[i] {
		case 'A':
			b[i] = 'B'
		default:
			b[i] = 'A'
		}
		_, err := iss.Verify(string(b))
		if err == nil {
			t.Fatalf("tampered token (pos %d) verified", i)
		}
		if !errors.Is(err, ErrTokenInvalidSignature) && !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("tampered token (pos %d) error = %v", i, err)
		}
	}
}

func TestErrorKindsAreDistinct(t *testing.T) {
	kinds := []error{ErrTokenExpired, ErrTokenInvalidSignature, ErrTokenMalformed}
	for i, a := range kinds {
		for j, b := range kinds {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v matches %v", a, b)
			}
		}
		if !strings.HasPrefix(a.Error(), "token: ") {
			t.Errorf("error %q lacks package prefix", a)
		}
	}
}
