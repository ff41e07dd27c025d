// Package store is the resumable-state store: a keyed persistence facade
// over SQLite. It owns upload-session records exclusively and carries no
// retry or resumption logic itself.
package store

import (
	"database/sql"
	"log/slog"
	"strings"

	"github.com/mediaforge/uploadkit/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store provides keyed persistence for upload records.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the store at dbPath.
func Open(dbPath string) (*Store, error) {
	slog.Info("store_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("store_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open store")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("store_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("store_ready", "db_path", dbPath)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts a new record for a session. Sessions are unique; saving the
// same session twice is an error.
func (s *Store) Save(rec *Record) error {
	slog.Info("store_save", "session_id", rec.SessionID, "collection", rec.Collection)

	if rec.Status == "" {
		rec.Status = StatusPending
	}

	query := `
		INSERT INTO upload_sessions (session_id, source_path, staged_dir, collection, status, uploaded_variants, total_variants, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query,
		rec.SessionID, rec.SourcePath, rec.StagedDir, rec.Collection, rec.Status,
		strings.Join(rec.UploadedVariants, ","), rec.TotalVariants, rec.ErrorMessage)
	if err != nil {
		slog.Error("store_save_failed", "session_id", rec.SessionID, "error", err)
		return errors.Wrap(err, "failed to insert record")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	rec.ID = id

	slog.Info("store_saved", "session_id", rec.SessionID, "record_id", rec.ID)
	return nil
}

// Load retrieves the record for a session id, or nil when absent.
func (s *Store) Load(sessionID string) (*Record, error) {
	query := `
		SELECT id, session_id, source_path, staged_dir, collection, status,
		       uploaded_variants, total_variants, error_message, created_at, updated_at
		FROM upload_sessions WHERE session_id = ?
	`
	rec, err := scanRecord(s.db.QueryRow(query, sessionID))
	if err == sql.ErrNoRows {
		slog.Info("store_record_not_found", "session_id", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("store_load_failed", "session_id", sessionID, "error", err)
		return nil, errors.Wrap(err, "failed to load record")
	}

	return rec, nil
}

// MarkUploaded appends a completed variant to the session's bookkeeping.
// Marking the same variant twice is a no-op.
func (s *Store) MarkUploaded(sessionID, variant string) error {
	rec, err := s.Load(sessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.Newf(errors.KindUnknown, "no record for session %s", sessionID)
	}

	for _, name := range rec.UploadedVariants {
		if name == variant {
			return nil
		}
	}
	uploaded := append(rec.UploadedVariants, variant)

	query := `UPDATE upload_sessions SET uploaded_variants = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`
	if _, err := s.db.Exec(query, strings.Join(uploaded, ","), sessionID); err != nil {
		slog.Error("store_mark_uploaded_failed", "session_id", sessionID, "variant", variant, "error", err)
		return errors.Wrap(err, "failed to mark variant uploaded")
	}

	slog.Info("store_variant_marked",
		"session_id", sessionID,
		"variant", variant,
		"uploaded_count", len(uploaded),
		"total_variants", rec.TotalVariants)
	return nil
}

// SetStatus updates the session's status and error message.
func (s *Store) SetStatus(sessionID, status, errorMessage string) error {
	slog.Info("store_set_status", "session_id", sessionID, "status", status)

	query := `UPDATE upload_sessions SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`
	if _, err := s.db.Exec(query, status, errorMessage, sessionID); err != nil {
		slog.Error("store_set_status_failed", "session_id", sessionID, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return nil
}

// Clear deletes the record for a finished or abandoned session.
func (s *Store) Clear(sessionID string) error {
	slog.Info("store_clear", "session_id", sessionID)

	if _, err := s.db.Exec(`DELETE FROM upload_sessions WHERE session_id = ?`, sessionID); err != nil {
		slog.Error("store_clear_failed", "session_id", sessionID, "error", err)
		return errors.Wrap(err, "failed to clear record")
	}
	return nil
}

// List retrieves all records, newest first.
func (s *Store) List() ([]*Record, error) {
	query := `
		SELECT id, session_id, source_path, staged_dir, collection, status,
		       uploaded_variants, total_variants, error_message, created_at, updated_at
		FROM upload_sessions ORDER BY created_at DESC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("store_list_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list records")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("store_list_complete", "record_count", len(records))
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var uploaded string
	var errorMessage sql.NullString

	err := row.Scan(
		&rec.ID, &rec.SessionID, &rec.SourcePath, &rec.StagedDir, &rec.Collection, &rec.Status,
		&uploaded, &rec.TotalVariants, &errorMessage,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if uploaded != "" {
		rec.UploadedVariants = strings.Split(uploaded, ",")
	}
	rec.ErrorMessage = errorMessage.String
	return &rec, nil
}
