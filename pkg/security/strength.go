// Package security analyzes the strength and reuse of stored credentials
// and passphrases.
package security

import (
	"strings"
	"unicode/utf8"
)

// Strength is the strength level of a passphrase or credential value.
type Strength int

const (
	// Weak values are under 8 characters for passphrases, 16 for tokens.
	Weak Strength = iota
	Fair
	Good
	Strong
)

// String returns a human-readable representation of the strength.
func (s Strength) String() string {
	switch s {
	case Weak:
		return "Weak"
	case Fair:
		return "Fair"
	case Good:
		return "Good"
	case Strong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// Kind selects the rules a value is judged by.
type Kind int

const (
	// KindPassword is a human-chosen secret, judged by length alone.
	KindPassword Kind = iota
	// KindToken is a machine-generated key, where length tracks entropy.
	KindToken
)

var tokenNames = []string{"token", "api-key", "api_key", "apikey", "access-key", "access_key", "client-secret", "client_secret"}

// KindOf guesses the kind of a credential from the last element of its
// name, e.g. "storage/api-key" is a token.
func KindOf(name string) Kind {
	base := strings.ToLower(name[strings.LastIndex(name, "/")+1:])
	for _, n := range tokenNames {
		if strings.Contains(base, n) {
			return KindToken
		}
	}
	return KindPassword
}

// Evaluate rates value under the rules for kind.
func Evaluate(value string, kind Kind) Strength {
	if kind == KindToken {
		return tokenStrength(value)
	}
	return passwordStrength(value)
}

// Passphrase rates an encryption passphrase.
func Passphrase(value string) Strength {
	return passwordStrength(value)
}

// passwordStrength follows NIST SP 800-63B: length first, no
// composition rules.
func passwordStrength(value string) Strength {
	switch n := utf8.RuneCountInString(value); {
	case n >= 20:
		return Strong
	case n >= 14:
		return Good
	case n >= 8:
		return Fair
	default:
		return Weak
	}
}

// tokenStrength rates machine-generated values:
//   - 32+ chars (~128 bits for alphanumeric): Strong
//   - 20+ chars (~80 bits): Good
//   - 16+ chars (~64 bits): Fair
func tokenStrength(value string) Strength {
	switch n := len(value); {
	case n >= 32:
		return Strong
	case n >= 20:
		return Good
	case n >= 16:
		return Fair
	default:
		return Weak
	}
}
