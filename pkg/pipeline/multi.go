package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/mediaforge/uploadkit/pkg/engine"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/store"
	"github.com/mediaforge/uploadkit/pkg/transform"
	"github.com/mediaforge/uploadkit/pkg/validate"
)

// RecordStore is the resumable bookkeeping the multi path maintains.
type RecordStore interface {
	Save(rec *store.Record) error
	MarkUploaded(sessionID, variant string) error
	SetStatus(sessionID, status, errorMessage string) error
	Clear(sessionID string) error
}

// MultiUploader is the new path: validate, derive all variants, obtain a
// session from the broker and push every variant concurrently.
type MultiUploader struct {
	validator *validate.Validator
	worker    Transformer
	broker    SessionBroker
	engine    VariantUploader
	records   RecordStore // optional
}

// NewMultiUploader wires the full pipeline. records may be nil when the
// caller keeps no resumable state.
func NewMultiUploader(
	validator *validate.Validator,
	worker Transformer,
	sessionBroker SessionBroker,
	uploadEngine VariantUploader,
	records RecordStore,
) *MultiUploader {
	return &MultiUploader{
		validator: validator,
		worker:    worker,
		broker:    sessionBroker,
		engine:    uploadEngine,
		records:   records,
	}
}

// Upload runs the full pipeline. It returns either a complete result or a
// single classified error; there is no partial success.
func (u *MultiUploader) Upload(ctx context.Context, req Request, onProgress ProgressFunc) (*engine.Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	// Policy check runs before any decode or network work.
	if err := u.validator.Validate(req.FileName, req.MimeType, int64(len(req.Data))); err != nil {
		return nil, err
	}

	slog.Info("upload_started",
		"path", "multi",
		"name", req.FileName,
		"collection", req.Collection,
		"size_kb", len(req.Data)/1024)

	variants, err := u.worker.Transform(ctx, req.Data, scaled(onProgress, 0, transformShare))
	if err != nil {
		return nil, errors.Wrap(err, "transform failed")
	}

	session, err := u.broker.RequestSession(ctx, req.Collection)
	if err != nil {
		return nil, errors.Wrap(err, "session request failed")
	}

	if u.records != nil {
		rec := &store.Record{
			SessionID:     session.CorrelationID,
			SourcePath:    req.FileName,
			Collection:    req.Collection,
			Status:        store.StatusUploading,
			TotalVariants: len(variants),
		}
		if err := u.records.Save(rec); err != nil {
			// Bookkeeping failure does not block the upload itself.
			slog.Warn("record_save_failed", "session_id", session.CorrelationID, "error", err)
		}
	}

	// The engine reports completed variants from its upload goroutines.
	var uploaded atomic.Int64
	onUploaded := func(name string) {
		uploaded.Add(1)
		if u.records != nil {
			if err := u.records.MarkUploaded(session.CorrelationID, name); err != nil {
				slog.Warn("record_mark_failed", "session_id", session.CorrelationID, "variant", name, "error", err)
			}
		}
	}

	result, err := u.engine.UploadAll(ctx, variants, session, scaled(onProgress, transformShare, 100), onUploaded)
	if err != nil {
		if u.records != nil {
			u.records.SetStatus(session.CorrelationID, store.StatusFailed, err.Error())
		}
		u.cleanup(ctx, session.CorrelationID, session.Credentials[transform.VariantLarge].Key, int(uploaded.Load()))
		return nil, err
	}

	if u.records != nil {
		if err := u.records.Clear(session.CorrelationID); err != nil {
			slog.Warn("record_clear_failed", "session_id", session.CorrelationID, "error", err)
		}
	}

	slog.Info("upload_complete",
		"path", "multi",
		"correlation_id", result.CorrelationID,
		"key", result.Key)
	return result, nil
}

// cleanup makes a best-effort delete of already-uploaded variants after a
// terminal failure so no orphaned objects are left behind. The delete broker
// fans out to sibling variants from the canonical key. Errors are logged and
// dropped; they must never mask the primary failure.
func (u *MultiUploader) cleanup(ctx context.Context, sessionID, canonicalKey string, uploadedCount int) {
	if uploadedCount == 0 || canonicalKey == "" {
		return
	}

	// The request context may already be cancelled; cleanup still runs.
	cleanupCtx := context.WithoutCancel(ctx)
	if err := u.broker.Delete(cleanupCtx, canonicalKey); err != nil {
		slog.Warn("partial_upload_cleanup_failed",
			"session_id", sessionID,
			"canonical_key", canonicalKey,
			"uploaded_count", uploadedCount,
			"error", err)
		return
	}

	slog.Info("partial_upload_cleaned",
		"session_id", sessionID,
		"canonical_key", canonicalKey,
		"uploaded_count", uploadedCount)
}
