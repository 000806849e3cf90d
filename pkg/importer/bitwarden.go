package importer

import (
	"encoding/json"
	"fmt"
)

// BitwardenParser reads Bitwarden unencrypted JSON exports. Each login
// item yields <name>/username and <name>/password, and each hidden
// custom field yields <name>/<field>.
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
)

// Bitwarden custom field types.
const (
	bitwardenFieldText   = 0
	bitwardenFieldHidden = 1
)

type bitwardenExport struct {
	Encrypted bool            `json:"encrypted"`
	Items     []bitwardenItem `json:"items"`
}

type bitwardenItem struct {
	Type   int                    `json:"type"`
	Name   string                 `json:"name"`
	Notes  string                 `json:"notes"`
	Login  *bitwardenLogin        `json:"login"`
	Fields []bitwardenCustomField `json:"fields"`
}

type bitwardenLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  int    `json:"type"`
}

func (BitwardenParser) Format() Format { return FormatBitwarden }

func (BitwardenParser) Parse(data []byte) (*Result, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("invalid Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("encrypted Bitwarden exports are not supported, export as unencrypted JSON")
	}

	r := &Result{}
	var raw []Credential
	add := func(item, field, value string) {
		orig := item + "/" + field
		base := SanitizeName(item)
		name := ""
		if base != "" {
			name = base + "/" + SanitizeName(field)
		}
		raw = append(raw, Credential{Name: name, OriginalName: orig, Value: value})
	}

	for _, item := range export.Items {
		switch item.Type {
		case bitwardenTypeLogin:
			if item.Login != nil {
				add(item.Name, "username", item.Login.Username)
				add(item.Name, "password", item.Login.Password)
			}
		case bitwardenTypeSecureNote:
			add(item.Name, "notes", item.Notes)
		default:
			r.Skipped = append(r.Skipped, SkippedItem{OriginalName: item.Name, Reason: fmt.Sprintf("item type %d not supported", item.Type)})
			continue
		}
		for _, f := range item.Fields {
			if f.Type == bitwardenFieldHidden || f.Type == bitwardenFieldText {
				add(item.Name, f.Name, f.Value)
			}
		}
	}
	return finish(r, raw), nil
}
