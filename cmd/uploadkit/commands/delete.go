package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediaforge/uploadkit/internal/config"
	"github.com/mediaforge/uploadkit/pkg/broker"
	"github.com/mediaforge/uploadkit/pkg/errors"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a stored image and its sibling variants",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	key := args[0]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	brokerClient := broker.NewClient(cfg.BrokerURL, cfg.BrokerToken)
	if err := brokerClient.Delete(ctx, key); err != nil {
		return errors.Wrap(err, "delete failed")
	}

	fmt.Printf("Deleted %s\n", key)
	return nil
}
