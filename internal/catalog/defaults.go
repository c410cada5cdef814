package catalog

// DefaultSpecs is the catalog used when no tiers are configured.
// Every tier pays the canonical 15/10/8/6/4/3/2 schedule.
func DefaultSpecs() []TierSpec {
	canonical := []string{"15", "10", "8", "6", "4", "3", "2"}

	return []TierSpec{
		{ID: "starter", Name: "Starter", Ordering: 1, MinimumContribution: "100", ProfitRate: "1.5", LevelRates: canonical},
		{ID: "silver", Name: "Silver", Ordering: 2, MinimumContribution: "1000", ProfitRate: "2", LevelRates: canonical},
		{ID: "gold", Name: "Gold", Ordering: 3, MinimumContribution: "5000", ProfitRate: "2.5", LevelRates: canonical},
		{ID: "platinum", Name: "Platinum", Ordering: 4, MinimumContribution: "25000", ProfitRate: "3", LevelRates: canonical},
	}
}

// Default builds the default catalog.
func Default() *Catalog {
	c, err := FromSpecs(DefaultSpecs())
	if err != nil {
		panic("default tier catalog invalid: " + err.Error())
	}
	return c
}
