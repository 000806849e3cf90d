package listing

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig controls RetryBackend. Delay doubles after every attempt.
type RetryConfig struct {
	MaxRetries int
	Delay      time.Duration
	Logger     zerolog.Logger
}

// RetryBackend retries reads that end in Failed. NotFound, Denied and
// Invalid are final. Mutations are passed through once, since a
// failed upload or delete may have been applied.
type RetryBackend struct {
	next Backend
	cfg  RetryConfig
}

// NewRetryBackend wraps next.
func NewRetryBackend(next Backend, cfg RetryConfig) *RetryBackend {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &RetryBackend{next: next, cfg: cfg}
}

// retry runs op until it returns a non-Failed result, the retries are
// used up or ctx is done.
func retry[T any](ctx context.Context, b *RetryBackend, name, p string, op func() (T, Result)) (T, Result) {
	delay := b.cfg.Delay
	v, res := op()
	for attempt := 1; attempt <= b.cfg.MaxRetries && res.Outcome == Failed; attempt++ {
		b.cfg.Logger.Debug().Str("op", name).Str("path", p).Int("attempt", attempt).
			Str("result", res.String()).Msg("retrying backend call")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return v, failed("%s %s: %v", name, p, ctx.Err())
		case <-t.C:
		}
		delay *= 2
		v, res = op()
	}
	return v, res
}

func (b *RetryBackend) List(ctx context.Context, p string) (Listing, Result) {
	return retry(ctx, b, "list", p, func() (Listing, Result) { return b.next.List(ctx, p) })
}

func (b *RetryBackend) DownloadLink(ctx context.Context, p string) (string, Result) {
	return retry(ctx, b, "download_link", p, func() (string, Result) { return b.next.DownloadLink(ctx, p) })
}

func (b *RetryBackend) Upload(ctx context.Context, dir, name string, r io.Reader) (Entry, Result) {
	return b.next.Upload(ctx, dir, name, r)
}

func (b *RetryBackend) Delete(ctx context.Context, p string) Result {
	return b.next.Delete(ctx, p)
}

func (b *RetryBackend) CreateFolder(ctx context.Context, parent, name string) (Entry, Result) {
	return b.next.CreateFolder(ctx, parent, name)
}

func (b *RetryBackend) Share(ctx context.Context, p string) (ShareLink, Result) {
	return b.next.Share(ctx, p)
}
