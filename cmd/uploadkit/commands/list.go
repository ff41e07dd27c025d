package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mediaforge/uploadkit/internal/config"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List upload sessions and their status",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	records, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "store init failed")
	}
	defer records.Close()

	sessions, err := records.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(sessions) == 0 {
		fmt.Println("No upload sessions found")
		return nil
	}

	fmt.Printf("%-38s %-12s %-12s %-10s %s\n", "SESSION", "COLLECTION", "STATUS", "UPLOADED", "SOURCE")
	fmt.Println(strings.Repeat("-", 100))

	for _, rec := range sessions {
		uploaded := fmt.Sprintf("%d/%d", len(rec.UploadedVariants), rec.TotalVariants)
		fmt.Printf("%-38s %-12s %-12s %-10s %s\n",
			rec.SessionID, rec.Collection, rec.Status, uploaded, rec.SourcePath)
	}

	return nil
}
