// Package pipeline routes upload requests to either the legacy single-variant
// path or the new multi-variant path. Both paths expose one contract, so
// callers never learn which implementation executed.
package pipeline

import (
	"context"

	"github.com/mediaforge/uploadkit/pkg/broker"
	"github.com/mediaforge/uploadkit/pkg/engine"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/transform"
)

// Target collections form a small closed set.
const (
	CollectionPhoto     = "photo"
	CollectionPostCover = "post-cover"
)

// ValidCollection reports whether c is a recognized target collection.
func ValidCollection(c string) bool {
	return c == CollectionPhoto || c == CollectionPostCover
}

// Request is the immutable upload input, consumed once. Cancellation rides
// on the context passed to Upload.
type Request struct {
	Data       []byte
	FileName   string
	MimeType   string
	Collection string
}

// ProgressFunc receives combined pipeline percentages in [0,100]:
// transformation maps to 0-30, upload to 30-100.
type ProgressFunc func(percent float64)

// Uploader is the strategy contract both paths implement.
type Uploader interface {
	Upload(ctx context.Context, req Request, onProgress ProgressFunc) (*engine.Result, error)
}

// Transformer produces the variant set on a background worker.
type Transformer interface {
	Transform(ctx context.Context, src []byte, onProgress transform.ProgressFunc) (transform.Variants, error)
}

// SessionBroker issues upload sessions and deletes stored keys.
type SessionBroker interface {
	RequestSession(ctx context.Context, collection string) (*broker.Session, error)
	Delete(ctx context.Context, key string) error
}

// VariantUploader pushes all variants of one session concurrently.
type VariantUploader interface {
	UploadAll(ctx context.Context, variants transform.Variants, session *broker.Session,
		onProgress engine.ProgressFunc, onUploaded func(name string)) (*engine.Result, error)
}

// Selector picks a path per call from the flag injected at construction.
// The flag is explicit configuration, never read from ambient state, so the
// routing decision is deterministic and testable.
type Selector struct {
	legacy       Uploader
	multi        Uploader
	multiEnabled bool
}

// NewSelector creates a selector over the two concrete paths.
func NewSelector(multiEnabled bool, legacy, multi Uploader) *Selector {
	return &Selector{legacy: legacy, multi: multi, multiEnabled: multiEnabled}
}

// Upload routes to the configured path.
func (s *Selector) Upload(ctx context.Context, req Request, onProgress ProgressFunc) (*engine.Result, error) {
	if s.multiEnabled {
		return s.multi.Upload(ctx, req, onProgress)
	}
	return s.legacy.Upload(ctx, req, onProgress)
}

// Share of the combined progress scale owned by transformation.
const transformShare = 30

// scaled maps a component's 0-100 progress into [lo,hi] of the combined
// scale.
func scaled(onProgress ProgressFunc, lo, hi float64) func(float64) {
	if onProgress == nil {
		return func(float64) {}
	}
	return func(p float64) {
		onProgress(lo + p*(hi-lo)/100)
	}
}

func (r Request) validate() error {
	if !ValidCollection(r.Collection) {
		return errors.Newf(errors.KindValidation, "unknown collection %q", r.Collection)
	}
	return nil
}
