package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/weblist/pkg/crypto"
)

// DuplicateGroup is a set of credentials sharing one value.
type DuplicateGroup struct {
	Names []string `json:"names"`
	Count int      `json:"count"`
}

// WeakCredential is a credential rated Weak.
type WeakCredential struct {
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	Strength Strength `json:"strength"`
}

// Report summarizes a credential check.
type Report struct {
	Total      int              `json:"total"`
	Weak       []WeakCredential `json:"weak,omitempty"`
	Duplicates []DuplicateGroup `json:"duplicates,omitempty"`
}

// Check rates every credential and groups reused values. Values are
// compared through HMAC-SHA256 under a key that lives only for this call.
func Check(credentials map[string]string) (*Report, error) {
	key, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)

	r := &Report{Total: len(credentials)}
	groups := make(map[string][]string)
	for name, value := range credentials {
		kind := KindOf(name)
		if s := Evaluate(value, kind); s == Weak {
			r.Weak = append(r.Weak, WeakCredential{Name: name, Kind: kind, Strength: s})
		}

		v := normalizeValue(value)
		if v == "" {
			continue
		}
		h := valueHash(key, v)
		groups[h] = append(groups[h], name)
	}

	for _, names := range groups {
		if len(names) < 2 {
			continue
		}
		sort.Strings(names)
		r.Duplicates = append(r.Duplicates, DuplicateGroup{Names: names, Count: len(names)})
	}
	sort.Slice(r.Weak, func(i, j int) bool { return r.Weak[i].Name < r.Weak[j].Name })
	sort.Slice(r.Duplicates, func(i, j int) bool {
		if r.Duplicates[i].Count != r.Duplicates[j].Count {
			return r.Duplicates[i].Count > r.Duplicates[j].Count
		}
		return r.Duplicates[i].Names[0] < r.Duplicates[j].Names[0]
	})
	return r, nil
}

func normalizeValue(v string) string {
	return norm.NFC.String(strings.TrimSpace(v))
}

func valueHash(key []byte, v string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(v))
	return hex.EncodeToString(mac.Sum(nil))
}
