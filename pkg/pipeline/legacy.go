package pipeline

import (
	"context"
	"log/slog"
	"path"

	"github.com/google/uuid"

	"github.com/mediaforge/uploadkit/pkg/engine"
	"github.com/mediaforge/uploadkit/pkg/transform"
	"github.com/mediaforge/uploadkit/pkg/validate"
)

// LegacyBackend is the historical storage target for the single-variant
// path.
type LegacyBackend interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	PublicURL(key string) string
}

// LegacyUploader is the pre-migration path: compress once, upload once
// straight to the historical bucket. References it produced keep resolving
// through the legacy backend after the flag flips, so this path stays
// intact until every caller has migrated.
type LegacyUploader struct {
	validator *validate.Validator
	backend   LegacyBackend
	keyPrefix string
	compress  func(ctx context.Context, src []byte) (*transform.Variant, error)
}

// NewLegacyUploader creates the legacy path writer.
func NewLegacyUploader(validator *validate.Validator, backend LegacyBackend, keyPrefix string) *LegacyUploader {
	return &LegacyUploader{
		validator: validator,
		backend:   backend,
		keyPrefix: keyPrefix,
		compress:  transform.Compress,
	}
}

// Upload implements the Uploader contract with the same result shape as the
// multi path.
func (u *LegacyUploader) Upload(ctx context.Context, req Request, onProgress ProgressFunc) (*engine.Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := u.validator.Validate(req.FileName, req.MimeType, int64(len(req.Data))); err != nil {
		return nil, err
	}

	slog.Info("upload_started",
		"path", "legacy",
		"name", req.FileName,
		"collection", req.Collection,
		"size_kb", len(req.Data)/1024)

	report := scaled(onProgress, 0, 100)
	report(5)

	rendition, err := u.compress(ctx, req.Data)
	if err != nil {
		return nil, err
	}
	report(transformShare)

	correlationID := uuid.NewString()
	key := path.Join(u.keyPrefix, req.Collection, correlationID+"."+transform.NormalizedExt)

	if err := u.backend.Upload(ctx, key, rendition.Data, rendition.MimeType); err != nil {
		return nil, err
	}
	report(100)

	result := &engine.Result{
		CorrelationID: correlationID,
		Key:           key,
		URL:           u.backend.PublicURL(key),
		Width:         rendition.Width,
		Height:        rendition.Height,
		Bytes:         int64(len(rendition.Data)),
		MimeType:      rendition.MimeType,
	}

	slog.Info("upload_complete", "path", "legacy", "key", key)
	return result, nil
}
