// Package engine pushes image variants to their presigned write endpoints
// concurrently, with bounded retries and byte-level progress tracking.
package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mediaforge/uploadkit/pkg/broker"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/transform"
)

// Retry defaults: 3 attempts with 1s, 2s, 4s between them.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
)

// Result is the durable reference handed back on success. Key and the
// captured metadata come from the large variant, the canonical rendition.
type Result struct {
	CorrelationID string
	Key           string
	URL           string
	Width         int
	Height        int
	Bytes         int64
	MimeType      string
}

// Engine uploads all variants of one session in parallel.
type Engine struct {
	hc             *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	cdnBaseURL     string
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient overrides the HTTP client used for object writes.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Engine) { e.hc = hc }
}

// WithMaxAttempts sets the per-variant attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithInitialBackoff sets the delay before the first retry; subsequent
// delays double.
func WithInitialBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.initialBackoff = d
		}
	}
}

// New creates an upload engine. cdnBaseURL is the public read address
// substituted into returned references; the storage backend itself is never
// handed to callers.
func New(cdnBaseURL string, opts ...Option) *Engine {
	e := &Engine{
		hc:             &http.Client{Timeout: 2 * time.Minute},
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		cdnBaseURL:     strings.TrimRight(cdnBaseURL, "/"),
	}
	for _, opt := range opts {
		opt(e)
	}

	slog.Info("upload_engine_init",
		"max_attempts", e.maxAttempts,
		"initial_backoff", e.initialBackoff,
		"cdn_base_url", e.cdnBaseURL)
	return e
}

// UploadAll writes every variant to its credential target concurrently and
// waits for all of them. Any variant failing terminally fails the whole
// call; there is no partial success. onUploaded, if set, is invoked once
// per fully uploaded variant (possibly from different goroutines) and is
// the hook the resumable bookkeeping observes.
func (e *Engine) UploadAll(
	ctx context.Context,
	variants transform.Variants,
	session *broker.Session,
	onProgress ProgressFunc,
	onUploaded func(name string),
) (*Result, error) {
	names := make([]string, 0, len(variants))
	for name := range variants {
		if _, ok := session.Credentials[name]; !ok {
			return nil, errors.Newf(errors.KindSession,
				"session %s has no credential for variant %q", session.CorrelationID, name)
		}
		names = append(names, name)
	}
	tracker := NewTracker(names, onProgress)

	slog.Info("upload_all_started",
		"correlation_id", session.CorrelationID,
		"variant_count", len(variants))

	var g errgroup.Group
	for name, variant := range variants {
		cred := session.Credentials[name]
		g.Go(func() error {
			return e.uploadVariant(ctx, variant, cred, tracker, onUploaded)
		})
	}

	err := g.Wait()
	if err != nil {
		// A cancellation verdict beats whatever a sibling variant failed with.
		if ctx.Err() != nil && !errors.IsKind(err, errors.KindCancelled) {
			err = errors.E(errors.KindCancelled, "upload cancelled", ctx.Err())
		}
		slog.Error("upload_all_failed",
			"correlation_id", session.CorrelationID,
			"kind", errors.KindOf(err).String(),
			"error", err)
		return nil, err
	}

	key := session.Credentials[transform.VariantLarge].Key
	result := &Result{
		CorrelationID: session.CorrelationID,
		Key:           key,
		URL:           e.ResolveURL(key),
	}
	// The large rendition may be absent on a resumed upload that already
	// landed it; the caller then fills the captured metadata itself.
	if large := variants[transform.VariantLarge]; large != nil {
		result.Width = large.Width
		result.Height = large.Height
		result.Bytes = int64(len(large.Data))
		result.MimeType = large.MimeType
	}

	slog.Info("upload_all_complete",
		"correlation_id", session.CorrelationID,
		"canonical_key", key)
	return result, nil
}

// ResolveURL forms the CDN-resolvable address for a storage key.
func (e *Engine) ResolveURL(key string) string {
	return e.cdnBaseURL + "/" + strings.TrimLeft(key, "/")
}

func (e *Engine) uploadVariant(
	ctx context.Context,
	variant *transform.Variant,
	cred broker.Credential,
	tracker *Tracker,
	onUploaded func(name string),
) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = e.initialBackoff << 4
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.maxAttempts-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++

		// A fired cancellation signal abandons the variant immediately.
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(errors.E(errors.KindCancelled, "upload cancelled", err))
		}

		// An expired credential cannot be retried; the whole session must
		// be regenerated by a fresh broker call.
		if cred.Expired(time.Now()) {
			return backoff.Permanent(errors.Newf(errors.KindSession,
				"write credential for %q expired before attempt %d", variant.Name, attempt))
		}

		err := e.put(ctx, variant, cred, tracker)
		if err == nil {
			tracker.Set(variant.Name, 100)
			slog.Info("variant_upload_complete",
				"variant", variant.Name,
				"key", cred.Key,
				"attempts", attempt,
				"size_kb", len(variant.Data)/1024)
			if onUploaded != nil {
				onUploaded(variant.Name)
			}
			return nil
		}

		if !errors.KindOf(err).Retryable() {
			return backoff.Permanent(err)
		}

		slog.Warn("variant_upload_retry",
			"variant", variant.Name,
			"attempt", attempt,
			"max_attempts", e.maxAttempts,
			"error", err)
		return err
	}

	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil && !errors.IsKind(err, errors.KindCancelled) {
			err = errors.E(errors.KindCancelled, "upload cancelled", ctx.Err())
		}
		slog.Error("variant_upload_failed",
			"variant", variant.Name,
			"attempts", attempt,
			"error", err)
		return errors.Wrap(err, variant.Name)
	}
	return nil
}

// put performs a single PUT of the variant bytes against its presigned URL.
// The request body is built raw so the URL is hit exactly as issued.
func (e *Engine) put(ctx context.Context, variant *transform.Variant, cred broker.Credential, tracker *Tracker) error {
	total := int64(len(variant.Data))
	body := &countingReader{
		r: bytes.NewReader(variant.Data),
		onRead: func(read int64) {
			// In-flight bytes stay below 100: a failed attempt may have its
			// body fully drained by the server, and a variant's slice must
			// not complete until a 2xx confirms the write.
			tracker.Set(variant.Name, float64(read)/float64(total)*99)
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, cred.URL, body)
	if err != nil {
		return errors.E(errors.KindTransient, "failed to build object write request", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", variant.MimeType)

	resp, err := e.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.E(errors.KindCancelled, "object write cancelled", ctx.Err())
		}
		return errors.E(errors.KindTransient, "object write failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf(errors.KindTransient,
			"object write for %q returned status %d", variant.Name, resp.StatusCode)
	}
	return nil
}

// countingReader reports cumulative bytes read to its callback.
type countingReader struct {
	r      io.Reader
	read   int64
	onRead func(read int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		c.onRead(c.read)
	}
	return n, err
}
