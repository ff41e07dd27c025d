// Package validate enforces the upload acceptance policy. It runs before any
// decode or network work so oversized or mistyped files fail fast.
package validate

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mediaforge/uploadkit/pkg/errors"
)

// DefaultMaxFileSize is the upload size ceiling.
const DefaultMaxFileSize = 2 * 1024 * 1024

// DefaultAllowedTypes is the raster image allow-list.
var DefaultAllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
}

// Validator checks files against the size and type policy.
type Validator struct {
	maxFileSize  int64
	allowedTypes map[string]bool
}

// NewValidator creates a validator. Zero maxFileSize and an empty allow-list
// fall back to the defaults.
func NewValidator(maxFileSize int64, allowedTypes []string) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedTypes
	}

	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[normalizeMime(t)] = true
	}

	slog.Info("validator_init",
		"max_file_size_kb", maxFileSize/1024,
		"allowed_types", allowedTypes)

	return &Validator{
		maxFileSize:  maxFileSize,
		allowedTypes: allowed,
	}
}

// ValidateSize checks the declared byte length against the ceiling.
func (v *Validator) ValidateSize(size int64) error {
	if size <= 0 {
		slog.Error("validation_size_failed", "size", size, "reason", "empty_file")
		return errors.New(errors.KindValidation, "file is empty")
	}
	if size > v.maxFileSize {
		slog.Error("validation_size_failed",
			"size_kb", size/1024,
			"max_size_kb", v.maxFileSize/1024)
		return errors.Newf(errors.KindValidation,
			"file size %d exceeds max %d", size, v.maxFileSize)
	}
	return nil
}

// ValidateType checks the declared MIME type against the allow-list.
func (v *Validator) ValidateType(mimeType string) error {
	if !v.allowedTypes[normalizeMime(mimeType)] {
		slog.Error("validation_type_failed", "mime_type", mimeType)
		return errors.Newf(errors.KindValidation,
			"mime type %q is not an allowed image type", mimeType)
	}
	return nil
}

// Validate checks a file's declared size and MIME type. It performs no I/O
// and has no side effects.
func (v *Validator) Validate(name, mimeType string, size int64) error {
	if err := v.ValidateSize(size); err != nil {
		return errors.Wrap(err, name)
	}
	if err := v.ValidateType(mimeType); err != nil {
		return errors.Wrap(err, name)
	}

	slog.Info("validation_passed", "name", name, "mime_type", mimeType, "size_kb", size/1024)
	return nil
}

// SniffType reads the leading bytes of data and detects its content type.
// The result is used instead of the declared type when they disagree, so a
// renamed executable cannot pass as an image.
func SniffType(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	return normalizeMime(http.DetectContentType(data))
}

// ValidatePayload validates against the sniffed content type and actual
// length rather than caller-declared values.
func (v *Validator) ValidatePayload(name string, data []byte) error {
	return v.Validate(name, SniffType(data), int64(len(data)))
}

func normalizeMime(mimeType string) string {
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}
