package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediaforge/uploadkit/internal/config"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/flow"
	"github.com/mediaforge/uploadkit/pkg/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume an interrupted upload session",
	Long: `Looks up the bookkeeping record for the session, asks the broker to
re-issue credentials for the same correlation id and uploads only the
variants that have not landed yet.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	records, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "store init failed")
	}

	rec, err := records.Load(sessionID)
	records.Close()
	if err != nil {
		return errors.Wrap(err, "record load failed")
	}
	if rec == nil {
		return fmt.Errorf("no record for session %s", sessionID)
	}
	if rec.Status == store.StatusComplete {
		fmt.Printf("Session %s already complete\n", sessionID)
		return nil
	}

	return runFlow(&flow.UploadRequest{
		SourcePath: rec.SourcePath,
		Collection: rec.Collection,
		SessionID:  sessionID,
	})
}
