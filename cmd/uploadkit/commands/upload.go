package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mediaforge/uploadkit/internal/config"
	"github.com/mediaforge/uploadkit/pkg/broker"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/pipeline"
	"github.com/mediaforge/uploadkit/pkg/storage"
	"github.com/mediaforge/uploadkit/pkg/store"
	"github.com/mediaforge/uploadkit/pkg/transform"
	"github.com/mediaforge/uploadkit/pkg/validate"
)

var uploadCollection string

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an image through the configured pipeline path",
	Long: `Uploads an image in-process. Routing depends on legacy-enabled:
the legacy path compresses once and writes straight to the historical
bucket; the multi path derives all variants and uploads them in parallel
against broker-issued credentials.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&uploadCollection, "collection", pipeline.CollectionPhoto, "Target collection (photo or post-cover)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sourcePath := args[0]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return errors.Wrap(err, "failed to read source file")
	}

	records, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "store init failed")
	}
	defer records.Close()

	validator := newValidator(cfg)

	worker := transform.NewWorker(cfg.TransformWorkers)
	defer worker.Close()

	brokerClient := broker.NewClient(cfg.BrokerURL, cfg.BrokerToken)
	multi := pipeline.NewMultiUploader(validator, worker, brokerClient, newEngine(cfg), records)

	legacyBackend, err := storage.NewClient(ctx, cfg.LegacyBucket, cfg.LegacyRegion, cfg.LegacyBaseURL)
	if err != nil {
		return errors.Wrap(err, "legacy backend failed")
	}
	legacy := pipeline.NewLegacyUploader(validator, legacyBackend, cfg.LegacyKeyPrefix)

	selector := pipeline.NewSelector(!cfg.LegacyEnabled, legacy, multi)

	req := pipeline.Request{
		Data:       data,
		FileName:   filepath.Base(sourcePath),
		MimeType:   validate.SniffType(data),
		Collection: uploadCollection,
	}

	result, err := selector.Upload(ctx, req, func(p float64) {
		slog.Info("pipeline_progress", "percent", int(p))
	})
	if err != nil {
		return errors.Wrap(err, "upload failed")
	}

	fmt.Printf("Uploaded %s\n", sourcePath)
	fmt.Printf("  key: %s\n", result.Key)
	fmt.Printf("  url: %s\n", result.URL)
	fmt.Printf("  dimensions: %dx%d\n", result.Width, result.Height)

	return nil
}
