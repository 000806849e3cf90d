// Package importer parses credential exports from other tools into
// name/value pairs for the credential store.
//
// Supported formats are dotenv files, two-column CSV and Bitwarden JSON
// exports.
package importer

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/weblist/pkg/vault"
)

// Format is an import source format.
type Format string

const (
	FormatEnv       Format = "env"
	FormatCSV       Format = "csv"
	FormatBitwarden Format = "bitwarden"
)

// MaxNameLength matches the credential store limit.
const MaxNameLength = vault.MaxCredentialNameLength

// Credential is one parsed name/value pair.
type Credential struct {
	Name         string
	OriginalName string
	Value        string
}

// Result contains the results of a parse.
type Result struct {
	Credentials []Credential
	Warnings    []string
	Skipped     []SkippedItem
}

// SkippedItem is an entry that produced no credential.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

// Parser converts an export into credentials.
type Parser interface {
	Parse(data []byte) (*Result, error)
	Format() Format
}

// invalidNameChars matches characters the credential store rejects.
var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_./-]`)

// SanitizeName makes name acceptable to the credential store:
// NFC-normalized, spaces become underscores, other invalid characters
// are dropped, "..", leading '.', '-' and '/' and trailing '/' are
// removed, and the result is lower-cased and truncated.
func SanitizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = invalidNameChars.ReplaceAllString(name, "")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.TrimLeft(name, ".-/")
	name = strings.TrimRight(name, "/")
	if len(name) > MaxNameLength {
		name = strings.TrimRight(name[:MaxNameLength], "/")
	}
	return strings.ToLower(name)
}

// DeduplicateNames makes every name unique by appending _1, _2, ...
func DeduplicateNames(creds []Credential) {
	seen := make(map[string]bool, len(creds))
	for i := range creds {
		base := creds[i].Name
		name := base
		for n := 1; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[name] = true
		creds[i].Name = name
	}
}

// finish sanitizes and deduplicates names, skipping entries whose name
// or value is empty.
func finish(r *Result, raw []Credential) *Result {
	for _, c := range raw {
		switch {
		case strings.TrimSpace(c.Value) == "":
			r.Skipped = append(r.Skipped, SkippedItem{OriginalName: c.OriginalName, Reason: "empty value"})
			continue
		case c.Name == "":
			r.Skipped = append(r.Skipped, SkippedItem{OriginalName: c.OriginalName, Reason: "no usable name"})
			continue
		}
		if c.Name != strings.ToLower(c.OriginalName) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%q imported as %q", c.OriginalName, c.Name))
		}
		r.Credentials = append(r.Credentials, c)
	}
	DeduplicateNames(r.Credentials)
	return r
}

// GetParser returns the parser for format.
func GetParser(format Format) (Parser, error) {
	switch format {
	case FormatEnv:
		return EnvParser{}, nil
	case FormatCSV:
		return CSVParser{}, nil
	case FormatBitwarden:
		return BitwardenParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported import format: %s", format)
	}
}

// ValidFormats lists the accepted format names.
func ValidFormats() []string {
	return []string{string(FormatEnv), string(FormatCSV), string(FormatBitwarden)}
}
