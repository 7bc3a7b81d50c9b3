package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay [chain_id] [from_block] [to_block]",
	Short: "Push a block range through the handler chain without moving the watermark",
	Args:  cobra.ExactArgs(3),
	Run:   runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	from, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid from block: %v\n", err)
		os.Exit(1)
	}
	to, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		fmt.Printf("Invalid to block: %v\n", err)
		os.Exit(1)
	}

	cfg := setup()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := openService(ctx, cfg, "")
	defer svc.Close()
	if c, err := svc.Chain(args[0]); err == nil {
		svc.RegisterBalanceProvider(ctx, c)
	}
	l := openListener(ctx, svc, args[0])
	defer l.Close()

	stats, err := l.Replay(ctx, from, to)
	if err != nil {
		slog.Error("Replay failed", "chain", args[0], "windows", stats.Windows, "events", stats.Events, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Replayed %s [%d,%d]: %d windows, %d events\n", args[0], from, to, stats.Windows, stats.Events)
}
