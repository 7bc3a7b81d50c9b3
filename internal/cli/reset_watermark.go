package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var resetWatermarkCmd = &cobra.Command{
	Use:   "reset-watermark [chain_id] [block_height]",
	Short: "Reset the persisted watermark of a chain to a given block height",
	Args:  cobra.ExactArgs(2),
	Run:   runResetWatermark,
}

func init() {
	rootCmd.AddCommand(resetWatermarkCmd)
}

func runResetWatermark(cmd *cobra.Command, args []string) {
	chainID := args[0]
	height, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block height: %v\n", err)
		os.Exit(1)
	}

	cfg := setup()
	ctx := context.Background()
	svc := openService(ctx, cfg, "")
	defer svc.Close()

	if _, err := svc.Chain(chainID); err != nil {
		slog.Error("Unknown chain", "error", err)
		os.Exit(1)
	}
	if err := svc.Watermarks().Reset(ctx, chainID, height); err != nil {
		slog.Error("Failed to reset watermark", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset watermark for %s to block %d\n", chainID, height)
}
