package commands

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mediaforge/uploadkit/internal/config"
	"github.com/mediaforge/uploadkit/pkg/engine"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/validate"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create FSM database directory (only needed for durable commands)
	if fsmDBPath != "" {
		if err := os.MkdirAll(filepath.Dir(fsmDBPath), 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	// Create work directory (only needed for durable commands)
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

// newValidator builds the upload policy validator from configuration.
func newValidator(cfg *config.Config) *validate.Validator {
	return validate.NewValidator(cfg.MaxFileSize, validate.DefaultAllowedTypes)
}

// newEngine builds the upload engine from configuration.
func newEngine(cfg *config.Config) *engine.Engine {
	return engine.New(cfg.CDNBaseURL,
		engine.WithMaxAttempts(cfg.MaxAttempts),
		engine.WithInitialBackoff(time.Duration(cfg.InitialBackoffMS)*time.Millisecond))
}
