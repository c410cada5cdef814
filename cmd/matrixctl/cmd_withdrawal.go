package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"matrix-comp/internal/app"
	"matrix-comp/internal/domain"
)

var (
	previewInvestment string
	previewType       string
	previewAmount     string
	previewAsOf       string
)

var withdrawalCmd = &cobra.Command{
	Use:   "withdrawal",
	Short: "Withdrawal operations",
}

var withdrawalPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Evaluate a withdrawal without recording it",
	Example: `  matrixctl withdrawal preview --investment inv-1 --type emergency --amount 500
  matrixctl withdrawal preview --investment inv-1 --type full --amount 1000 --as-of 2027-01-10`,
	RunE: runWithdrawalPreview,
}

func init() {
	rootCmd.AddCommand(withdrawalCmd)
	withdrawalCmd.AddCommand(withdrawalPreviewCmd)

	withdrawalPreviewCmd.Flags().StringVar(&previewInvestment, "investment", "", "Investment id")
	withdrawalPreviewCmd.Flags().StringVar(&previewType, "type", "", "full, partial, emergency or profits_only")
	withdrawalPreviewCmd.Flags().StringVar(&previewAmount, "amount", "", "Requested amount")
	withdrawalPreviewCmd.Flags().StringVar(&previewAsOf, "as-of", "", "Evaluation date (YYYY-MM-DD or RFC3339), default now")
	_ = withdrawalPreviewCmd.MarkFlagRequired("investment")
	_ = withdrawalPreviewCmd.MarkFlagRequired("type")
	_ = withdrawalPreviewCmd.MarkFlagRequired("amount")
}

func runWithdrawalPreview(cmd *cobra.Command, _ []string) error {
	amount, err := decimal.NewFromString(previewAmount)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	asOf, err := parseTime(previewAsOf, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("parse as-of: %w", err)
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	orch, err := rt.Build(cfg, &logger)
	if err != nil {
		return err
	}

	dec, err := orch.Withdrawals().Preview(ctx, previewInvestment, domain.WithdrawalType(previewType), amount, asOf)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "eligible:          %t\n", dec.Eligible)
	fmt.Fprintf(out, "type:              %s\n", dec.Type)
	fmt.Fprintf(out, "requested:         %s\n", dec.RequestedAmount.StringFixed(2))
	fmt.Fprintf(out, "penalty rate:      %s%%\n", dec.PenaltyRate.String())
	fmt.Fprintf(out, "penalty:           %s\n", dec.PenaltyAmount.StringFixed(2))
	fmt.Fprintf(out, "net:               %s\n", dec.NetAmount.StringFixed(2))
	fmt.Fprintf(out, "remaining lock-in: %s\n", dec.RemainingLockIn.Round(time.Hour))
	if len(dec.Reasons) > 0 {
		fmt.Fprintf(out, "reasons:           %s\n", strings.Join(dec.Reasons, "; "))
	}
	return nil
}

// parseTime accepts a date or an RFC3339 timestamp. Empty returns def.
func parseTime(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
