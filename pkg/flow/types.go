package flow

import "github.com/mediaforge/uploadkit/pkg/broker"

// UploadRequest is the FSM input. It carries only serializable references;
// the source bytes are re-read from disk inside the states so a persisted
// run can restart after a process exit.
type UploadRequest struct {
	SourcePath string
	Collection string

	// SessionID resumes a previous upload: the broker re-issues
	// credentials for the same correlation id and already-uploaded
	// variants are skipped.
	SessionID string
}

// UploadResponse is the FSM output, accumulated across transitions.
type UploadResponse struct {
	// From Validate
	MimeType string
	Size     int64

	// From Transform
	StagedDir string

	// From RequestSession
	SessionID string
	Session   *broker.Session

	// From Upload
	Key    string
	URL    string
	Width  int
	Height int
	Bytes  int64

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateValidate       = "validate"
	StateTransform      = "transform"
	StateRequestSession = "request_session"
	StateUpload         = "upload"
	StateComplete       = "complete"
	StateFailed         = "failed"
)
