package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainevents/internal/balance"
	"github.com/vietddude/chainevents/internal/control"
)

var balanceCmd = &cobra.Command{
	Use:   "balance [chain_id] [address]",
	Short: "Look up a balance through the balance cache",
	Args:  cobra.ExactArgs(2),
	Run:   runBalance,
}

var balanceToken string

func init() {
	balanceCmd.Flags().StringVar(&balanceToken, "token", "", "token contract or denom (default: native asset)")
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := openService(ctx, cfg, "")
	defer svc.Close()

	c, err := svc.Chain(args[0])
	if err != nil {
		slog.Error("Unknown chain", "error", err)
		os.Exit(1)
	}
	svc.RegisterBalanceProvider(ctx, c)

	v, err := svc.Balances().GetBalance(ctx, c.ID, args[1], control.BalanceProvider, balance.Options{Token: balanceToken})
	if err != nil {
		slog.Error("Balance lookup failed", "chain", c.ID, "address", args[1], "error", err)
		os.Exit(1)
	}
	fmt.Println(v.String())
}
