package commands

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/mediaforge/uploadkit/internal/config"
	"github.com/mediaforge/uploadkit/pkg/broker"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/store"
	"github.com/mediaforge/uploadkit/pkg/transform"
)

var abandonCmd = &cobra.Command{
	Use:   "abandon <session-id>",
	Short: "Abandon an interrupted upload and delete its partial variants",
	RunE:  runAbandon,
}

func init() {
	rootCmd.AddCommand(abandonCmd)
}

func runAbandon(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
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
	defer records.Close()

	rec, err := records.Load(sessionID)
	if err != nil {
		return errors.Wrap(err, "record load failed")
	}
	if rec == nil {
		return fmt.Errorf("no record for session %s", sessionID)
	}

	// Drop staged variant files left behind by the interrupted run.
	if rec.StagedDir != "" {
		if err := os.RemoveAll(rec.StagedDir); err != nil {
			fmt.Printf("Warning: staged cleanup failed: %v\n", err)
		}
	}

	// Delete whatever landed; the delete broker fans out from the
	// canonical key to the sibling variants.
	if len(rec.UploadedVariants) > 0 {
		brokerClient := broker.NewClient(cfg.BrokerURL, cfg.BrokerToken)
		canonicalKey := path.Join(rec.Collection, rec.SessionID, transform.VariantLarge+"."+transform.NormalizedExt)
		if err := brokerClient.Delete(ctx, canonicalKey); err != nil {
			fmt.Printf("Warning: delete of partial variants failed: %v\n", err)
		}
	}

	if err := records.SetStatus(sessionID, store.StatusFailed, "abandoned"); err != nil {
		return errors.Wrap(err, "status update failed")
	}

	fmt.Printf("Abandoned session %s\n", sessionID)
	return nil
}
