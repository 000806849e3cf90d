package listing

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// LocalBackend serves a directory tree on the local filesystem. It
// stands in for a remote storage account in the CLI and in tests.
type LocalBackend struct {
	root    string
	baseURL string
	signer  func(path string) (string, error)
}

// LocalOption configures a LocalBackend.
type LocalOption func(*LocalBackend)

// WithShareBaseURL sets the prefix of share links.
func WithShareBaseURL(u string) LocalOption {
	return func(b *LocalBackend) { b.baseURL = u }
}

// WithShareSigner makes share codes signed tokens for the shared path
// instead of random identifiers.
func WithShareSigner(sign func(path string) (string, error)) LocalOption {
	return func(b *LocalBackend) { b.signer = sign }
}

// NewLocalBackend serves root, which must be an existing directory.
func NewLocalBackend(root string, opts ...LocalOption) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: abs, Err: errors.New("not a directory")}
	}
	b := &LocalBackend{root: abs, baseURL: "weblist://share"}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *LocalBackend) osPath(p string) string {
	return filepath.Join(b.root, filepath.FromSlash(p))
}

func fsResult(err error, p string) Result {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return notFound("%s does not exist", p)
	case errors.Is(err, fs.ErrPermission):
		return denied("%s is not accessible", p)
	case errors.Is(err, fs.ErrExist):
		return invalid("%s already exists", p)
	default:
		return failed("%v", err)
	}
}

func (b *LocalBackend) List(ctx context.Context, p string) (Listing, Result) {
	if err := ctx.Err(); err != nil {
		return Listing{}, failed("%v", err)
	}
	dirents, err := os.ReadDir(b.osPath(p))
	if err != nil {
		return Listing{}, fsResult(err, p)
	}

	l := Listing{Path: p, Folders: []Entry{}, Files: []Entry{}}
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			continue
		}
		e := Entry{
			ID:       path.Join(p, d.Name()),
			Name:     d.Name(),
			Path:     path.Join(p, d.Name()),
			Modified: info.ModTime().UTC(),
		}
		if d.IsDir() {
			e.Kind = KindFolder
			l.Folders = append(l.Folders, e)
			continue
		}
		e.Kind = KindFile
		e.Size = info.Size()
		e.Extension = extension(d.Name())
		l.Files = append(l.Files, e)
		l.TotalSize += e.Size
	}
	sort.Slice(l.Folders, func(i, j int) bool { return l.Folders[i].Name < l.Folders[j].Name })
	sort.Slice(l.Files, func(i, j int) bool { return l.Files[i].Name < l.Files[j].Name })
	l.TotalCount = len(l.Folders) + len(l.Files)
	return l, Success
}

func (b *LocalBackend) Upload(ctx context.Context, dir, name string, r io.Reader) (Entry, Result) {
	if err := ctx.Err(); err != nil {
		return Entry{}, failed("%v", err)
	}
	if info, err := os.Stat(b.osPath(dir)); err != nil {
		return Entry{}, fsResult(err, dir)
	} else if !info.IsDir() {
		return Entry{}, invalid("%s is not a folder", dir)
	}

	target := b.osPath(path.Join(dir, name))
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return Entry{}, fsResult(err, dir)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Entry{}, failed("upload interrupted: %v", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return Entry{}, fsResult(err, path.Join(dir, name))
	}

	p := path.Join(dir, name)
	return Entry{ID: p, Name: name, Kind: KindFile, Path: p, Size: n, Extension: extension(name)}, Success
}

func (b *LocalBackend) DownloadLink(_ context.Context, p string) (string, Result) {
	full := b.osPath(p)
	info, err := os.Stat(full)
	if err != nil {
		return "", fsResult(err, p)
	}
	if info.IsDir() {
		return "", invalid("%s is a folder", p)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(full)}).String(), Success
}

func (b *LocalBackend) Delete(_ context.Context, p string) Result {
	full := b.osPath(p)
	if _, err := os.Lstat(full); err != nil {
		return fsResult(err, p)
	}
	if err := os.RemoveAll(full); err != nil {
		return fsResult(err, p)
	}
	return Success
}

func (b *LocalBackend) CreateFolder(_ context.Context, parent, name string) (Entry, Result) {
	p := path.Join(parent, name)
	if err := os.Mkdir(b.osPath(p), 0755); err != nil {
		return Entry{}, fsResult(err, p)
	}
	return Entry{ID: p, Name: name, Kind: KindFolder, Path: p}, Success
}

func (b *LocalBackend) Share(_ context.Context, p string) (ShareLink, Result) {
	if _, err := os.Stat(b.osPath(p)); err != nil {
		return ShareLink{}, fsResult(err, p)
	}
	code := uuid.NewString()
	if b.signer != nil {
		signed, err := b.signer(p)
		if err != nil {
			return ShareLink{}, failed("failed to sign share link: %v", err)
		}
		code = signed
	}
	return ShareLink{Path: p, URL: b.baseURL + "/" + url.PathEscape(code), Code: code}, Success
}
