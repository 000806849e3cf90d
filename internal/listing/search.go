package listing

import (
	"context"
	"strings"
	"time"
)

// Filter selects entries of a folder. Zero fields match everything.
type Filter struct {
	// Keyword matches names case-insensitively as a substring.
	Keyword string
	// Kind is KindFile, KindFolder or empty.
	Kind          string
	MinSize       int64
	MaxSize       int64
	ModifiedAfter time.Time
}

// Match reports whether e passes every set condition.
func (f Filter) Match(e Entry) bool {
	if f.Keyword != "" && !strings.Contains(strings.ToLower(e.Name), strings.ToLower(f.Keyword)) {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.MinSize > 0 && e.Size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && e.Size > f.MaxSize {
		return false
	}
	if !f.ModifiedAfter.IsZero() && !e.Modified.After(f.ModifiedAfter) {
		return false
	}
	return true
}

// Search lists the folder at p and returns the entries matching f,
// folders first. It reads through the listing cache.
func (s *Service) Search(ctx context.Context, a Actor, p string, f Filter) ([]Entry, Result) {
	l, res := s.List(ctx, a, p)
	if !res.Ok() {
		return nil, res
	}
	var out []Entry
	for _, group := range [][]Entry{l.Folders, l.Files} {
		for _, e := range group {
			if f.Match(e) {
				out = append(out, e)
			}
		}
	}
	return out, Success
}
