package store

// Schema defines the SQLite schema for resumable upload records. One row per
// upload session, keyed by the broker's correlation identifier.
const Schema = `
CREATE TABLE IF NOT EXISTS upload_sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL UNIQUE,
    source_path TEXT NOT NULL,
    staged_dir TEXT NOT NULL DEFAULT '',
    collection TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'uploading', 'complete', 'failed')),
    uploaded_variants TEXT NOT NULL DEFAULT '',
    total_variants INTEGER NOT NULL,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_session_id ON upload_sessions(session_id);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_status ON upload_sessions(status);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_created_at ON upload_sessions(created_at);
`

// Status constants
const (
	StatusPending   = "pending"
	StatusUploading = "uploading"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
)

// Record is the persisted snapshot of one in-flight upload. The source file
// handle itself is not persistable; its path and the completed-variant
// bookkeeping are enough for a resumption pass to pick up where it left off.
type Record struct {
	ID               int64
	SessionID        string
	SourcePath       string
	StagedDir        string
	Collection       string
	Status           string
	UploadedVariants []string
	TotalVariants    int
	ErrorMessage     string
	CreatedAt        string
	UpdatedAt        string
}

// Remaining returns the expected variant names not yet fully uploaded.
func (r *Record) Remaining(expected []string) []string {
	done := make(map[string]bool, len(r.UploadedVariants))
	for _, name := range r.UploadedVariants {
		done[name] = true
	}

	var remaining []string
	for _, name := range expected {
		if !done[name] {
			remaining = append(remaining, name)
		}
	}
	return remaining
}
