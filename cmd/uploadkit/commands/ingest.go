package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/mediaforge/uploadkit/internal/config"
	"github.com/mediaforge/uploadkit/pkg/broker"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/flow"
	"github.com/mediaforge/uploadkit/pkg/store"
	"github.com/mediaforge/uploadkit/pkg/transform"
)

var ingestCollection string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Upload an image as a durable FSM workflow",
	Long: `Runs the multi-variant upload as a persisted state machine. If the
process dies mid-upload the session can be picked up again with resume.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestCollection, "collection", "photo", "Target collection (photo or post-cover)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	return runFlow(&flow.UploadRequest{
		SourcePath: args[0],
		Collection: ingestCollection,
	})
}

// runFlow drives one upload request through the persisted state machine and
// waits for it to finish.
func runFlow(req *flow.UploadRequest) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	records, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "store init failed")
	}
	defer records.Close()

	worker := transform.NewWorker(cfg.TransformWorkers)
	defer worker.Close()

	brokerClient := broker.NewClient(cfg.BrokerURL, cfg.BrokerToken)

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := flow.NewMachine(newValidator(cfg), worker, brokerClient, newEngine(cfg), records, cfg.WorkDir, cfg.FSMMaxRetries)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	resp := &flow.UploadResponse{}

	version, err := start(ctx, req.SourcePath, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm started", "version", version)

	if err := manager.Wait(ctx, version); err != nil {
		return errors.Wrap(err, "FSM execution failed")
	}

	slog.Info("ingest completed",
		"status", resp.Status,
		"session_id", resp.SessionID,
		"key", resp.Key,
		"url", resp.URL)

	return nil
}
