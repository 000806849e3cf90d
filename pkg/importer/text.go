package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EnvParser reads KEY=VALUE lines. Blank lines, '#' comments and an
// "export " prefix are accepted; values may be single- or double-quoted.
type EnvParser struct{}

func (EnvParser) Format() Format { return FormatEnv }

func (EnvParser) Parse(data []byte) (*Result, error) {
	r := &Result{}
	var raw []Credential
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			r.Warnings = append(r.Warnings, fmt.Sprintf("line %d: missing '='", n))
			continue
		}
		key = strings.TrimSpace(key)
		value, err := unquote(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		raw = append(raw, Credential{Name: SanitizeName(key), OriginalName: key, Value: value})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return finish(r, raw), nil
}

func unquote(v string) (string, error) {
	if len(v) < 2 {
		return v, nil
	}
	switch {
	case v[0] == '"' && v[len(v)-1] == '"':
		return strconv.Unquote(v)
	case v[0] == '\'' && v[len(v)-1] == '\'':
		return v[1 : len(v)-1], nil
	}
	return v, nil
}

// CSVParser reads name,value rows. A first row of exactly "name,value"
// is treated as a header.
type CSVParser struct{}

func (CSVParser) Format() Format { return FormatCSV }

func (CSVParser) Parse(data []byte) (*Result, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	r := &Result{}
	var raw []Credential
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid CSV: %w", err)
		}
		if row == 1 && len(rec) == 2 && strings.EqualFold(rec[0], "name") && strings.EqualFold(rec[1], "value") {
			continue
		}
		if len(rec) < 2 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("row %d: expected name,value", row))
			continue
		}
		raw = append(raw, Credential{Name: SanitizeName(rec[0]), OriginalName: rec[0], Value: rec[1]})
	}
	return finish(r, raw), nil
}
