package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
	charsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// Generated value length limits.
const (
	MinGenerateLength     = 8
	MaxGenerateLength     = 256
	DefaultGenerateLength = 24
)

// ErrEmptyCharset is returned when the options exclude every character.
var ErrEmptyCharset = errors.New("security: character set is empty")

// GenerateOptions selects the characters of a generated value. The zero
// value draws from all four classes.
type GenerateOptions struct {
	Length      int
	NoLowercase bool
	NoUppercase bool
	NoDigits    bool
	NoSymbols   bool
	// Exclude removes individual characters, e.g. "0O1lI".
	Exclude string
}

// Charset returns the characters Generate draws from.
func (o GenerateOptions) Charset() string {
	var b strings.Builder
	if !o.NoLowercase {
		b.WriteString(charsetLowercase)
	}
	if !o.NoUppercase {
		b.WriteString(charsetUppercase)
	}
	if !o.NoDigits {
		b.WriteString(charsetDigits)
	}
	if !o.NoSymbols {
		b.WriteString(charsetSymbols)
	}
	if o.Exclude == "" {
		return b.String()
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(o.Exclude, r) {
			return -1
		}
		return r
	}, b.String())
}

// Generate returns a uniformly random value from crypto/rand. A zero
// Length means DefaultGenerateLength.
func Generate(o GenerateOptions) (string, error) {
	if o.Length == 0 {
		o.Length = DefaultGenerateLength
	}
	if o.Length < MinGenerateLength || o.Length > MaxGenerateLength {
		return "", fmt.Errorf("security: length must be between %d and %d", MinGenerateLength, MaxGenerateLength)
	}
	charset := o.Charset()
	if charset == "" {
		return "", ErrEmptyCharset
	}

	n := big.NewInt(int64(len(charset)))
	out := make([]byte, o.Length)
	for i := range out {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("security: failed to read random source: %w", err)
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}
