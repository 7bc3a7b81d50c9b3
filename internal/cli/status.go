package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainevents/internal/core/cursor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watermark and last stored block of every configured chain",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()
	svc := openService(ctx, cfg, "")
	defer svc.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHAIN\tNETWORK\tWATERMARK\tLAST STORED")

	for _, c := range cfg.Chains {
		watermark := "-"
		wm, err := svc.Watermarks().Load(ctx, c.ID)
		switch {
		case err == nil:
			watermark = fmt.Sprint(wm)
		case !errors.Is(err, cursor.ErrCursorNotFound):
			slog.Warn("Failed to load watermark", "chain", c.ID, "error", err)
		}

		stored := "-"
		if events := svc.Events(); events != nil {
			last, ok, err := events.LastBlock(ctx, c.ID)
			if err != nil {
				slog.Warn("Failed to read last stored block", "chain", c.ID, "error", err)
			} else if ok {
				stored = fmt.Sprint(last)
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Network, watermark, stored)
	}
	_ = w.Flush()
}
