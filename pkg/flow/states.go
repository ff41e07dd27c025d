package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/superfly/fsm"

	"github.com/mediaforge/uploadkit/pkg/broker"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/pipeline"
	"github.com/mediaforge/uploadkit/pkg/store"
	"github.com/mediaforge/uploadkit/pkg/transform"
	"github.com/mediaforge/uploadkit/pkg/validate"
)

// stagedVariant is one entry of the staging manifest. The encoded payload
// lives next to the manifest as a file, so the persisted FSM response stays
// small and a restarted process can reload it.
type stagedVariant struct {
	Name     string `json:"name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MimeType string `json:"mimeType"`
	File     string `json:"file"`
}

const manifestName = "manifest.json"

// discardStaged removes the staged variant files of a run that will never
// reach the complete state. Best-effort: a leftover dir is only wasted disk.
func discardStaged(resp *UploadResponse) {
	if resp == nil || resp.StagedDir == "" {
		return
	}
	if err := os.RemoveAll(resp.StagedDir); err != nil {
		slog.Warn("staged_cleanup_failed", "staged_dir", resp.StagedDir, "error", err)
		return
	}
	resp.StagedDir = ""
}

// handleValidate checks the source file against the upload policy
func (m *Machine) handleValidate(ctx context.Context, req *fsm.Request[UploadRequest, UploadResponse]) (*fsm.Response[UploadResponse], error) {
	slog.Info("fsm_state_validate", "source", req.Msg.SourcePath, "collection", req.Msg.Collection)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "source", req.Msg.SourcePath, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &UploadResponse{}
	}

	if !pipeline.ValidCollection(req.Msg.Collection) {
		return nil, fsm.Abort(errors.Newf(errors.KindValidation,
			"unknown collection %q", req.Msg.Collection))
	}

	data, err := os.ReadFile(req.Msg.SourcePath)
	if err != nil {
		slog.Error("source_read_failed", "source", req.Msg.SourcePath, "error", err)
		return nil, fsm.Abort(errors.Wrap(err, "failed to read source file"))
	}

	mimeType := validate.SniffType(data)
	if err := m.validator.Validate(req.Msg.SourcePath, mimeType, int64(len(data))); err != nil {
		return nil, fsm.Abort(err)
	}

	resp.MimeType = mimeType
	resp.Size = int64(len(data))

	return fsm.NewResponse(resp), nil
}

// handleTransform derives the variants and stages them under the work dir
func (m *Machine) handleTransform(ctx context.Context, req *fsm.Request[UploadRequest, UploadResponse]) (*fsm.Response[UploadResponse], error) {
	slog.Info("fsm_state_transform", "source", req.Msg.SourcePath)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "source", req.Msg.SourcePath, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	// A resumed run may still hold a staged set from before the restart.
	if resp.StagedDir != "" {
		if _, err := os.Stat(filepath.Join(resp.StagedDir, manifestName)); err == nil {
			slog.Info("transform_skipped_staged", "staged_dir", resp.StagedDir)
			return fsm.NewResponse(resp), nil
		}
	}

	data, err := os.ReadFile(req.Msg.SourcePath)
	if err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "failed to read source file"))
	}

	variants, err := m.worker.Transform(ctx, data, func(p float64) {
		slog.Info("transform_progress", "source", req.Msg.SourcePath, "percent", int(p))
	})
	if err != nil {
		if !errors.KindOf(err).Retryable() {
			return nil, fsm.Abort(err)
		}
		return nil, err
	}

	stagedDir := filepath.Join(m.workDir, "staging", uuid.NewString())
	if err := stageVariants(stagedDir, variants); err != nil {
		return nil, err
	}
	resp.StagedDir = stagedDir

	slog.Info("transform_staged", "staged_dir", stagedDir, "variant_count", len(variants))
	return fsm.NewResponse(resp), nil
}

// handleRequestSession obtains write credentials and opens the resumable
// bookkeeping record
func (m *Machine) handleRequestSession(ctx context.Context, req *fsm.Request[UploadRequest, UploadResponse]) (*fsm.Response[UploadResponse], error) {
	slog.Info("fsm_state_request_session", "collection", req.Msg.Collection)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "collection", req.Msg.Collection, "max_retries", m.maxRetries)
		discardStaged(req.W.Msg)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	resumeID := req.Msg.SessionID
	if resp.SessionID != "" {
		resumeID = resp.SessionID
	}

	var (
		session *broker.Session
		err     error
	)
	if resumeID != "" {
		session, err = m.broker.ResumeSession(ctx, req.Msg.Collection, resumeID)
	} else {
		session, err = m.broker.RequestSession(ctx, req.Msg.Collection)
	}
	if err != nil {
		if errors.KindOf(err).Retryable() {
			return nil, err
		}
		discardStaged(resp)
		return nil, fsm.Abort(err)
	}
	resp.Session = session
	resp.SessionID = session.CorrelationID

	// Open the bookkeeping record unless a resumed run already has one.
	rec, err := m.records.Load(resp.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load record")
	}
	if rec == nil {
		rec = &store.Record{
			SessionID:     resp.SessionID,
			SourcePath:    req.Msg.SourcePath,
			StagedDir:     resp.StagedDir,
			Collection:    req.Msg.Collection,
			Status:        store.StatusUploading,
			TotalVariants: len(transform.VariantNames),
		}
		if err := m.records.Save(rec); err != nil {
			return nil, errors.Wrap(err, "failed to save record")
		}
	}

	slog.Info("session_ready", "session_id", resp.SessionID, "credential_count", len(resp.Session.Credentials))
	return fsm.NewResponse(resp), nil
}

// handleUpload pushes the remaining variants in parallel
func (m *Machine) handleUpload(ctx context.Context, req *fsm.Request[UploadRequest, UploadResponse]) (*fsm.Response[UploadResponse], error) {
	slog.Info("fsm_state_upload", "session_id", req.W.Msg.SessionID)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "session_id", req.W.Msg.SessionID, "max_retries", m.maxRetries)
		discardStaged(req.W.Msg)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil || resp.Session == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	manifest, err := loadManifest(resp.StagedDir)
	if err != nil {
		discardStaged(resp)
		return nil, fsm.Abort(err)
	}

	// Skip variants a previous attempt already landed.
	remaining := transform.VariantNames
	rec, err := m.records.Load(resp.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load record")
	}
	if rec != nil {
		remaining = rec.Remaining(transform.VariantNames)
	}

	if len(remaining) > 0 {
		variants, err := loadStaged(resp.StagedDir, manifest, remaining)
		if err != nil {
			discardStaged(resp)
			return nil, fsm.Abort(err)
		}

		onUploaded := func(name string) {
			if err := m.records.MarkUploaded(resp.SessionID, name); err != nil {
				slog.Warn("record_mark_failed", "session_id", resp.SessionID, "variant", name, "error", err)
			}
		}
		onProgress := func(p float64) {
			slog.Info("upload_progress", "session_id", resp.SessionID, "percent", int(p))
		}

		if _, err := m.engine.UploadAll(ctx, variants, resp.Session, onProgress, onUploaded); err != nil {
			if errors.KindOf(err).Retryable() {
				// The FSM re-enters this state; bookkeeping preserves
				// whatever landed.
				return nil, err
			}
			m.records.SetStatus(resp.SessionID, store.StatusFailed, err.Error())
			discardStaged(resp)
			return nil, fsm.Abort(err)
		}
	} else {
		slog.Info("upload_skipped_all_landed", "session_id", resp.SessionID)
	}

	key := resp.Session.Credentials[transform.VariantLarge].Key
	resp.Key = key
	resp.URL = m.engine.ResolveURL(key)
	for _, sv := range manifest {
		if sv.Name == transform.VariantLarge {
			resp.Width = sv.Width
			resp.Height = sv.Height
			if fi, err := os.Stat(filepath.Join(resp.StagedDir, sv.File)); err == nil {
				resp.Bytes = fi.Size()
			}
		}
	}

	return fsm.NewResponse(resp), nil
}

// handleComplete finalizes bookkeeping and releases staged artifacts
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[UploadRequest, UploadResponse]) (*fsm.Response[UploadResponse], error) {
	slog.Info("fsm_state_complete", "session_id", req.W.Msg.SessionID)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if err := m.records.Clear(resp.SessionID); err != nil {
		slog.Warn("record_clear_failed", "session_id", resp.SessionID, "error", err)
	}

	if resp.StagedDir != "" {
		if err := os.RemoveAll(resp.StagedDir); err != nil {
			slog.Warn("staged_cleanup_failed", "staged_dir", resp.StagedDir, "error", err)
		}
	}

	resp.Status = store.StatusComplete
	slog.Info("fsm_complete", "session_id", resp.SessionID, "key", resp.Key)

	return fsm.NewResponse(resp), nil
}

func stageVariants(dir string, variants transform.Variants) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create staging dir")
	}

	manifest := make([]stagedVariant, 0, len(variants))
	for _, v := range variants {
		file := v.Name + "." + transform.NormalizedExt
		if err := os.WriteFile(filepath.Join(dir, file), v.Data, 0644); err != nil {
			return errors.Wrap(err, "failed to stage variant "+v.Name)
		}
		manifest = append(manifest, stagedVariant{
			Name:     v.Name,
			Width:    v.Width,
			Height:   v.Height,
			MimeType: v.MimeType,
			File:     file,
		})
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return errors.Wrap(err, "failed to encode manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0644); err != nil {
		return errors.Wrap(err, "failed to write manifest")
	}
	return nil
}

func loadManifest(dir string) ([]stagedVariant, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read staging manifest")
	}

	var manifest []stagedVariant
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Wrap(err, "failed to decode staging manifest")
	}
	return manifest, nil
}

func loadStaged(dir string, manifest []stagedVariant, names []string) (transform.Variants, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	variants := make(transform.Variants, len(names))
	for _, sv := range manifest {
		if !wanted[sv.Name] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, sv.File))
		if err != nil {
			return nil, errors.Wrap(err, "failed to read staged variant "+sv.Name)
		}
		variants[sv.Name] = &transform.Variant{
			Name:     sv.Name,
			Width:    sv.Width,
			Height:   sv.Height,
			Data:     data,
			MimeType: sv.MimeType,
		}
	}
	return variants, nil
}
