package listing

import (
	"context"
	"strings"
	"testing"
	"time"
)

// flakyBackend fails the first n List calls.
type flakyBackend struct {
	*fakeBackend
	n int
}

func (f *flakyBackend) List(ctx context.Context, p string) (Listing, Result) {
	if f.n > 0 {
		f.n--
		f.fakeBackend.lists[p]++
		return Listing{}, failed("transient")
	}
	return f.fakeBackend.List(ctx, p)
}

func TestRetryBackend(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		failures  int
		retries   int
		path      string
		want      Outcome
		wantCalls int
	}{
		{"no failures", 0, 3, "/docs", OK, 1},
		{"recovers", 2, 3, "/docs", OK, 3},
		{"gives up", 5, 2, "/docs", Failed, 3},
		{"not found is final", 0, 3, "/nope", NotFound, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &flakyBackend{fakeBackend: newFakeBackend(), n: tt.failures}
			b := NewRetryBackend(fb, RetryConfig{MaxRetries: tt.retries, Delay: time.Millisecond})
			_, res := b.List(ctx, tt.path)
			if res.Outcome != tt.want {
				t.Errorf("List() = %v, want %v", res, tt.want)
			}
			if got := fb.listCalls(tt.path); got != tt.wantCalls {
				t.Errorf("backend calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRetryBackendStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fb := &flakyBackend{fakeBackend: newFakeBackend(), n: 10}
	b := NewRetryBackend(fb, RetryConfig{MaxRetries: 5, Delay: time.Hour})
	_, res := b.List(ctx, "/docs")
	if res.Outcome != Failed || !strings.Contains(res.Message, "canceled") {
		t.Errorf("List() = %v, want canceled failure", res)
	}
	if got := fb.listCalls("/docs"); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestRetryBackendDoesNotRetryMutations(t *testing.T) {
	fb := newFakeBackend()
	b := NewRetryBackend(fb, RetryConfig{MaxRetries: 3, Delay: time.Millisecond})
	if res := b.Delete(context.Background(), "/docs/missing"); res.Outcome != NotFound {
		t.Errorf("Delete() = %v", res)
	}
	if _, res := b.CreateFolder(context.Background(), "/", "new"); !res.Ok() {
		t.Errorf("CreateFolder() = %v", res)
	}
}
