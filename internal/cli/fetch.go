package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainevents/internal/control"
	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/listener"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [chain_id] [entity_id]",
	Short: "Read governance state from chain storage and print it as JSON",
	Long: `Without an entity id, fetch synthesises events for every proposal the chain still
tracks. With one, it prints the single entity (proposal or referendum index).`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runFetch,
}

var fetchTimeout time.Duration

func init() {
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 2*time.Minute, "overall timeout")
	rootCmd.AddCommand(fetchCmd)
}

// openListener builds and initializes the listener of one configured chain.
func openListener(ctx context.Context, svc *control.Service, chainID string) *listener.Listener {
	c, err := svc.Chain(chainID)
	if err != nil {
		slog.Error("Unknown chain", "error", err)
		os.Exit(1)
	}
	l, err := svc.NewListener(c)
	if err != nil {
		slog.Error("Failed to create listener", "chain", chainID, "error", err)
		os.Exit(1)
	}
	if err := l.Init(ctx); err != nil {
		slog.Error("Failed to connect", "chain", chainID, "error", err)
		os.Exit(1)
	}
	return l
}

func runFetch(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	svc := openService(ctx, cfg, "")
	defer svc.Close()
	l := openListener(ctx, svc, args[0])
	defer l.Close()

	fetcher, err := l.Fetcher()
	if err != nil {
		slog.Error("Storage fetch unavailable", "chain", args[0], "error", err)
		os.Exit(1)
	}

	var out any
	if len(args) == 2 {
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			slog.Error("Invalid entity id", "id", args[1], "error", err)
			os.Exit(1)
		}
		events, err := fetcher.FetchOne(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			slog.Error("Entity not found", "chain", args[0], "id", id)
			os.Exit(1)
		}
		if err != nil {
			slog.Error("Failed to fetch entity", "chain", args[0], "id", args[1], "error", err)
			os.Exit(1)
		}
		out = events
	} else {
		events, err := fetcher.Fetch(ctx, nil)
		if err != nil {
			slog.Error("Failed to fetch", "chain", args[0], "error", err)
			os.Exit(1)
		}
		if events == nil {
			events = []*domain.ChainEvent{}
		}
		out = events
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("Failed to encode result", "error", err)
		os.Exit(1)
	}
}
