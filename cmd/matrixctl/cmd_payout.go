package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"matrix-comp/internal/app"
	"matrix-comp/internal/domain"
)

var (
	payoutRunID string
	payoutStart string
	payoutEnd   string
)

var payoutCmd = &cobra.Command{
	Use:   "payout",
	Short: "Profit payout operations",
}

var payoutRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Credit monthly profit to every active investment",
	Long: `Credit one profit payout to every active investment dated before the
period end. Re-running the same run id credits nothing twice.`,
	Example: `  matrixctl payout run --run-id 2026-01 --start 2026-01-01 --end 2026-02-01`,
	RunE:    runPayout,
}

func init() {
	rootCmd.AddCommand(payoutCmd)
	payoutCmd.AddCommand(payoutRunCmd)

	payoutRunCmd.Flags().StringVar(&payoutRunID, "run-id", "", "Run id, e.g. 2026-01")
	payoutRunCmd.Flags().StringVar(&payoutStart, "start", "", "Period start (inclusive)")
	payoutRunCmd.Flags().StringVar(&payoutEnd, "end", "", "Period end (exclusive)")
	_ = payoutRunCmd.MarkFlagRequired("run-id")
	_ = payoutRunCmd.MarkFlagRequired("start")
	_ = payoutRunCmd.MarkFlagRequired("end")
}

func runPayout(cmd *cobra.Command, _ []string) error {
	start, err := parseTime(payoutStart, time.Time{})
	if err != nil {
		return fmt.Errorf("parse start: %w", err)
	}
	end, err := parseTime(payoutEnd, time.Time{})
	if err != nil {
		return fmt.Errorf("parse end: %w", err)
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

	res, err := orch.RunPayouts(ctx, domain.PayoutRun{RunID: payoutRunID, PeriodStart: start, PeriodEnd: end}, time.Now().UTC())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INVESTMENT\tTIER\tPRINCIPAL\tRATE %\tAMOUNT")
	for _, p := range res.Created {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.InvestmentID, p.TierID, p.Principal.StringFixed(2), p.Rate.String(), p.Amount.StringFixed(2))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d credited, %d skipped\n", res.RunID, len(res.Created), res.Skipped)
	return nil
}
