package listing

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newLocal(t *testing.T, opts ...LocalOption) (*LocalBackend, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "docs", "old"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "a.pdf"), []byte("pdf-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	b, err := NewLocalBackend(root, opts...)
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}
	return b, root
}

func TestNewLocalBackendRequiresDirectory(t *testing.T) {
	if _, err := NewLocalBackend(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("NewLocalBackend() on missing dir should fail")
	}
	f := filepath.Join(t.TempDir(), "file")
	os.WriteFile(f, nil, 0644)
	if _, err := NewLocalBackend(f); err == nil {
		t.Error("NewLocalBackend() on a file should fail")
	}
}

func TestLocalList(t *testing.T) {
	b, _ := newLocal(t)
	ctx := context.Background()

	l, r := b.List(ctx, "/docs")
	if !r.Ok() {
		t.Fatalf("List() = %v", r)
	}
	if len(l.Folders) != 1 || l.Folders[0].Name != "old" || l.Folders[0].Kind != KindFolder {
		t.Errorf("Folders = %+v", l.Folders)
	}
	if len(l.Files) != 1 || l.Files[0].Path != "/docs/a.pdf" || l.Files[0].Extension != "pdf" {
		t.Errorf("Files = %+v", l.Files)
	}
	if l.TotalCount != 2 || l.TotalSize != int64(len("pdf-bytes")) {
		t.Errorf("totals = %d, %d", l.TotalCount, l.TotalSize)
	}

	if _, r := b.List(ctx, "/nope"); r.Outcome != NotFound {
		t.Errorf("List(/nope) = %v, want NotFound", r)
	}
}

func TestLocalUploadAndDelete(t *testing.T) {
	b, root := newLocal(t)
	ctx := context.Background()

	e, r := b.Upload(ctx, "/docs", "notes.txt", strings.NewReader("hello"))
	if !r.Ok() || e.Size != 5 {
		t.Fatalf("Upload() = %+v, %v", e, r)
	}
	data, err := os.ReadFile(filepath.Join(root, "docs", "notes.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("uploaded content = %q, %v", data, err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(root, "docs", ".upload-*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}

	if _, r := b.Upload(ctx, "/missing", "x", strings.NewReader("")); r.Outcome != NotFound {
		t.Errorf("Upload() into missing folder = %v", r)
	}
	if _, r := b.Upload(ctx, "/docs/a.pdf", "x", strings.NewReader("")); r.Outcome != Invalid {
		t.Errorf("Upload() into a file = %v", r)
	}

	if r := b.Delete(ctx, "/docs/old"); !r.Ok() {
		t.Errorf("Delete() folder = %v", r)
	}
	if r := b.Delete(ctx, "/docs/old"); r.Outcome != NotFound {
		t.Errorf("second Delete() = %v, want NotFound", r)
	}
}

func TestLocalCreateFolder(t *testing.T) {
	b, root := newLocal(t)
	ctx := context.Background()

	if _, r := b.CreateFolder(ctx, "/docs", "2026"); !r.Ok() {
		t.Fatalf("CreateFolder() = %v", r)
	}
	if info, err := os.Stat(filepath.Join(root, "docs", "2026")); err != nil || !info.IsDir() {
		t.Errorf("folder not created: %v", err)
	}
	if _, r := b.CreateFolder(ctx, "/docs", "2026"); r.Outcome != Invalid {
		t.Errorf("duplicate CreateFolder() = %v, want Invalid", r)
	}
}

func TestLocalDownloadLink(t *testing.T) {
	b, root := newLocal(t)
	ctx := context.Background()

	link, r := b.DownloadLink(ctx, "/docs/a.pdf")
	if !r.Ok() {
		t.Fatalf("DownloadLink() = %v", r)
	}
	u, err := url.Parse(link)
	if err != nil || u.Scheme != "file" || filepath.FromSlash(u.Path) != filepath.Join(root, "docs", "a.pdf") {
		t.Errorf("DownloadLink() = %q", link)
	}
	if _, r := b.DownloadLink(ctx, "/docs"); r.Outcome != Invalid {
		t.Errorf("DownloadLink(folder) = %v, want Invalid", r)
	}
}

func TestLocalShare(t *testing.T) {
	ctx := context.Background()

	b, _ := newLocal(t)
	link, r := b.Share(ctx, "/docs/a.pdf")
	if !r.Ok() || link.Code == "" || !strings.HasPrefix(link.URL, "weblist://share/") {
		t.Errorf("Share() = %+v, %v", link, r)
	}

	signed, _ := newLocal(t,
		WithShareBaseURL("https://files.example/s"),
		WithShareSigner(func(p string) (string, error) { return "signed" + strings.ReplaceAll(p, "/", "_"), nil }),
	)
	link, r = signed.Share(ctx, "/docs/a.pdf")
	if !r.Ok() || link.URL != "https://files.example/s/signed_docs_a.pdf" {
		t.Errorf("signed Share() = %+v, %v", link, r)
	}

	if _, r := b.Share(ctx, "/ghost"); r.Outcome != NotFound {
		t.Errorf("Share(/ghost) = %v, want NotFound", r)
	}
}
