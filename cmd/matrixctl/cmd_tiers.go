package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/config"
)

var tiersFile string

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Inspect the tier catalog",
}

var tiersValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a tier catalog and print it",
	Example: `  # Validate the catalog the service would load
  matrixctl tiers validate --config config.yaml

  # Validate a standalone catalog file
  matrixctl tiers validate --file tiers.yaml`,
	RunE: runTiersValidate,
}

func init() {
	rootCmd.AddCommand(tiersCmd)
	tiersCmd.AddCommand(tiersValidateCmd)
	tiersValidateCmd.Flags().StringVar(&tiersFile, "file", "", "Tier catalog YAML file (overrides config)")
}

func runTiersValidate(cmd *cobra.Command, _ []string) error {
	var (
		cat *catalog.Catalog
		err error
	)
	if tiersFile != "" {
		cat, err = config.LoadCatalog(tiersFile)
	} else {
		var cfg *config.Config
		if cfg, _, err = loadConfig(); err == nil {
			cat, err = cfg.Catalog()
		}
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tID\tNAME\tMINIMUM\tPROFIT %\tLEVEL RATES %")
	for _, t := range cat.Tiers() {
		rates := make([]string, 0, len(t.LevelRates))
		for _, r := range t.LevelRates {
			rates = append(rates, r.String())
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.Ordering, t.ID, t.Name, t.MinimumContribution.StringFixed(2), t.ProfitRate.String(), strings.Join(rates, "/"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "catalog valid: %d tiers\n", len(cat.Tiers()))
	return nil
}
