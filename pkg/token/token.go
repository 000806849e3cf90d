// Package token issues and verifies stateless signed session tokens.
//
// Tokens are HS256 JWTs carrying subject, issued-at, expiry, issuer and a
// unique ID. Validity depends only on the signature and the expiry; no
// server-side store is consulted.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/forest6511/weblist/internal/clock"
)

// TTL limits
const (
	DefaultTTL   = time.Hour
	MinTTL       = time.Minute
	MaxTTL       = 24 * time.Hour
	MinSecretLen = 32

	DefaultIssuer = "weblist"
)

// Errors
var (
	ErrTokenExpired          = errors.New("token: expired")
	ErrTokenInvalidSignature = errors.New("token: invalid signature")
	ErrTokenMalformed        = errors.New("token: malformed")

	ErrInvalidConfig = errors.New("token: invalid configuration")
)

// Config configures an Issuer.
type Config struct {
	// Secret is the HMAC key, typically vault.SigningKey().
	Secret []byte
	// TTL is the validity horizon of issued tokens. Zero means DefaultTTL.
	TTL time.Duration
	// Issuer is written to and required in the iss claim.
	Issuer string
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Claims are the claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer mints and verifies tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	clock  clock.Clock
	parser *jwt.Parser
}

// New validates cfg and returns an Issuer.
func New(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidConfig, MinSecretLen)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < MinTTL || cfg.TTL > MaxTTL {
		return nil, fmt.Errorf("%w: ttl %v outside [%v, %v]", ErrInvalidConfig, cfg.TTL, MinTTL, MaxTTL)
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Issuer{
		secret: secret,
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		clock:  cfg.Clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithStrictDecoding(),
			jwt.WithTimeFunc(cfg.Clock.Now),
		),
	}, nil
}

// TTL returns the validity horizon of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue returns a signed token for subject.
func (i *Issuer) Issue(subject string) (string, error) {
	signed, _, err := i.IssueWithClaims(subject)
	return signed, err
}

// IssueWithClaims returns a signed token for subject along with its claims.
func (i *Issuer) IssueWithClaims(subject string) (string, *Claims, error) {
	if strings.TrimSpace(subject) == "" {
		return "", nil, fmt.Errorf("%w: empty subject", ErrInvalidConfig)
	}
	now := i.clock.Now()
	// NumericDate keeps whole seconds; round exp up to the next one.
	exp := now.Add(i.ttl)
	if t := exp.Truncate(time.Second); !t.Equal(exp) {
		exp = t.Add(time.Second)
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("token: failed to sign: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature and expiry of tokenStr and returns its subject.
func (i *Issuer) Verify(tokenStr string) (string, error) {
	claims, err := i.Parse(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Parse verifies tokenStr and returns its claims. Errors match exactly
// one of ErrTokenExpired, ErrTokenInvalidSignature or ErrTokenMalformed.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	tok, err := i.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !tok.Valid || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
