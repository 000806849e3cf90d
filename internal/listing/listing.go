// Package listing serves directory listings and file operations of a
// storage account, caching listings and auditing every mutation.
package listing

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/forest6511/weblist/pkg/audit"
)

// Entry kinds
const (
	KindFile   = "file"
	KindFolder = "folder"
)

// Entry is one file or folder.
type Entry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"type"`
	Path      string    `json:"path"`
	Size      int64     `json:"size,omitempty"`
	Extension string    `json:"extension,omitempty"`
	Modified  time.Time `json:"modified,omitzero"`
}

// Listing is the content of one folder.
type Listing struct {
	Path       string  `json:"path"`
	Folders    []Entry `json:"folders"`
	Files      []Entry `json:"files"`
	TotalCount int     `json:"total_count"`
	TotalSize  int64   `json:"total_size"`
}

// ShareLink is a public link to a file or folder.
type ShareLink struct {
	Path string `json:"path"`
	URL  string `json:"url"`
	Code string `json:"code,omitempty"`
}

// Backend is a storage account. Paths are clean and absolute.
type Backend interface {
	List(ctx context.Context, path string) (Listing, Result)
	Upload(ctx context.Context, dir, name string, r io.Reader) (Entry, Result)
	DownloadLink(ctx context.Context, path string) (string, Result)
	Delete(ctx context.Context, path string) Result
	CreateFolder(ctx context.Context, parent, name string) (Entry, Result)
	Share(ctx context.Context, path string) (ShareLink, Result)
}

// Cache stores listings by key.
type Cache interface {
	GetOrSet(ctx context.Context, key string, factory func(context.Context) (Listing, error)) (Listing, error)
	InvalidatePattern(ctx context.Context, substr string) (int, error)
}

// Auditor records operations. *audit.Logger satisfies it.
type Auditor interface {
	Log(e audit.Entry) (*audit.Event, error)
}

// Actor is the caller of a Service operation.
type Actor struct {
	User   string
	Role   Role
	IP     string
	Source string
}

// Service applies access rules, caching and auditing around a Backend.
type Service struct {
	backend Backend
	cache   Cache
	auditor Auditor
	policy  UploadPolicy
	logger  zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache caches List results.
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

// WithAuditor records mutations and denials.
func WithAuditor(a Auditor) Option { return func(s *Service) { s.auditor = a } }

// WithUploadPolicy limits uploads.
func WithUploadPolicy(p UploadPolicy) Option { return func(s *Service) { s.policy = p } }

// WithLogger sets the logger for backend failures.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService returns a Service over backend.
func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{backend: backend, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func listKey(p string) string { return "list:" + p }

// List returns the folder at p, from cache when fresh.
func (s *Service) List(ctx context.Context, a Actor, p string) (Listing, Result) {
	p, r := s.authorize(a, p, PermRead)
	if !r.Ok() {
		return Listing{}, r
	}
	if s.cache == nil {
		return s.backend.List(ctx, p)
	}

	l, err := s.cache.GetOrSet(ctx, listKey(p), func(ctx context.Context) (Listing, error) {
		l, r := s.backend.List(ctx, p)
		if !r.Ok() {
			return Listing{}, &resultError{r}
		}
		return l, nil
	})
	if err != nil {
		var re *resultError
		if errors.As(err, &re) {
			s.logFailure(audit.OpList, p, re.r)
			return Listing{}, re.r
		}
		s.logger.Warn().Err(err).Str("path", p).Msg("listing cache unavailable, reading backend")
		return s.backend.List(ctx, p)
	}
	return l, Success
}

// Upload stores r as name inside dir.
func (s *Service) Upload(ctx context.Context, a Actor, dir, name string, size int64, r io.Reader) (Entry, Result) {
	dir, res := s.authorize(a, dir, PermWrite)
	if !res.Ok() {
		s.record(a, audit.OpUpload, dir, res, nil)
		return Entry{}, res
	}
	if !validName(name) {
		res = invalid("invalid file name %q", name)
	} else if problems := s.policy.Check(name, size); len(problems) > 0 {
		res = invalid("%s", strings.Join(problems, "; "))
	}
	if !res.Ok() {
		s.record(a, audit.OpUpload, joinPath(dir, name), res, nil)
		return Entry{}, res
	}

	e, res := s.backend.Upload(ctx, dir, name, r)
	s.record(a, audit.OpUpload, joinPath(dir, name), res, map[string]string{"size": strconv.FormatInt(size, 10)})
	if res.Ok() {
		s.invalidate(ctx, dir)
	}
	return e, res
}

// DownloadLink returns a direct link to the file at p.
func (s *Service) DownloadLink(ctx context.Context, a Actor, p string) (string, Result) {
	p, res := s.authorize(a, p, PermRead)
	if !res.Ok() {
		s.record(a, audit.OpDownload, p, res, nil)
		return "", res
	}
	link, res := s.backend.DownloadLink(ctx, p)
	s.record(a, audit.OpDownload, p, res, nil)
	return link, res
}

// Delete removes the file or folder at p.
func (s *Service) Delete(ctx context.Context, a Actor, p string) Result {
	p, res := s.authorize(a, p, PermDelete)
	if res.Ok() && p == "/" {
		res = denied("the root folder cannot be deleted")
	}
	if !res.Ok() {
		s.record(a, audit.OpDelete, p, res, nil)
		return res
	}
	res = s.backend.Delete(ctx, p)
	s.record(a, audit.OpDelete, p, res, nil)
	if res.Ok() {
		// Substring match on the parent also drops every listing below p.
		s.invalidate(ctx, parentOf(p))
	}
	return res
}

// CreateFolder makes folder name inside parent.
func (s *Service) CreateFolder(ctx context.Context, a Actor, parent, name string) (Entry, Result) {
	parent, res := s.authorize(a, parent, PermWrite)
	if res.Ok() && !validName(name) {
		res = invalid("invalid folder name %q", name)
	}
	if !res.Ok() {
		s.record(a, audit.OpCreateFolder, parent, res, nil)
		return Entry{}, res
	}
	e, res := s.backend.CreateFolder(ctx, parent, name)
	s.record(a, audit.OpCreateFolder, joinPath(parent, name), res, nil)
	if res.Ok() {
		s.invalidate(ctx, parent)
	}
	return e, res
}

// Share creates a public link to p.
func (s *Service) Share(ctx context.Context, a Actor, p string) (ShareLink, Result) {
	p, res := s.authorize(a, p, PermShare)
	if !res.Ok() {
		s.record(a, audit.OpShare, p, res, nil)
		return ShareLink{}, res
	}
	link, res := s.backend.Share(ctx, p)
	s.record(a, audit.OpShare, p, res, nil)
	return link, res
}

func (s *Service) authorize(a Actor, p string, perm Permission) (string, Result) {
	clean, ok := CleanPath(p)
	if !ok {
		return p, invalid("invalid path %q", p)
	}
	if !Allowed(a.Role, perm) {
		return clean, denied("role %q lacks %s permission", a.Role, perm)
	}
	if !PathAllowed(a.Role, clean) {
		return clean, denied("access to %s is restricted", clean)
	}
	return clean, Success
}

func (s *Service) invalidate(ctx context.Context, dir string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.InvalidatePattern(ctx, listKey(dir)); err != nil {
		s.logger.Warn().Err(err).Str("path", dir).Msg("failed to invalidate listing cache")
	}
}

func (s *Service) record(a Actor, op, p string, res Result, extra map[string]string) {
	if !res.Ok() {
		s.logFailure(op, p, res)
	}
	if s.auditor == nil {
		return
	}
	e := audit.Entry{
		Operation: op,
		Source:    a.Source,
		Path:      p,
		User:      a.User,
		IP:        a.IP,
		Result:    auditResult(res.Outcome),
		Context:   extra,
	}
	if !res.Ok() {
		e.Error = &audit.ErrorInfo{Code: res.Outcome.String(), Message: res.Message}
	}
	if _, err := s.auditor.Log(e); err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("failed to write audit record")
	}
}

func (s *Service) logFailure(op, p string, res Result) {
	if res.Outcome == Failed {
		s.logger.Error().Str("op", op).Str("path", p).Str("reason", res.Message).Msg("backend operation failed")
		return
	}
	s.logger.Debug().Str("op", op).Str("path", p).Stringer("outcome", res.Outcome).Msg("operation refused")
}

func auditResult(o Outcome) string {
	switch o {
	case OK:
		return audit.ResultSuccess
	case NotFound:
		return audit.ResultNotFound
	case Denied:
		return audit.ResultDenied
	default:
		return audit.ResultError
	}
}
