// Package catalog holds the administered table of capital tiers.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
)

// Catalog errors
var (
	ErrEmptyCatalog          = errors.New("tier catalog is empty")
	ErrUnknownTier           = errors.New("unknown tier")
	ErrDuplicateTier         = errors.New("duplicate tier id")
	ErrOrderingNotIncreasing = errors.New("tier ordering must be strictly increasing")
	ErrMinimumNotIncreasing  = errors.New("tier minimum contribution must be strictly increasing with ordering")
	ErrRatesNotDecreasing    = errors.New("level rates must be strictly decreasing")
	ErrNegativeRate          = errors.New("rates must not be negative")
)

// TierSpec is the serialized form of a tier, as found in YAML config.
type TierSpec struct {
	ID                  string   `yaml:"id" validate:"required"`
	Name                string   `yaml:"name" validate:"required"`
	Ordering            int      `yaml:"ordering" validate:"gte=1"`
	MinimumContribution string   `yaml:"minimum_contribution" validate:"required,numeric"`
	ProfitRate          string   `yaml:"profit_rate" validate:"required,numeric"`
	LevelRates          []string `yaml:"level_rates" validate:"len=7,dive,required,numeric"`
}

// Catalog is an immutable, validated tier table ordered by Ordering ASC.
type Catalog struct {
	tiers []domain.Tier
	byID  map[string]int
}

var validate = validator.New()

// FromSpecs parses and validates tier specs.
func FromSpecs(specs []TierSpec) (*Catalog, error) {
	tiers := make([]domain.Tier, 0, len(specs))
	for i := range specs {
		s := specs[i]
		if err := validate.Struct(s); err != nil {
			return nil, fmt.Errorf("tier %q: %w", s.ID, err)
		}

		t, err := s.toTier()
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", s.ID, err)
		}
		tiers = append(tiers, t)
	}
	return New(tiers)
}

func (s TierSpec) toTier() (domain.Tier, error) {
	minimum, err := decimal.NewFromString(s.MinimumContribution)
	if err != nil {
		return domain.Tier{}, fmt.Errorf("parse minimum_contribution: %w", err)
	}
	profit, err := decimal.NewFromString(s.ProfitRate)
	if err != nil {
		return domain.Tier{}, fmt.Errorf("parse profit_rate: %w", err)
	}

	var rates domain.LevelRateTable
	for i, raw := range s.LevelRates {
		r, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Tier{}, fmt.Errorf("parse level %d rate: %w", i+1, err)
		}
		rates[i] = r
	}

	return domain.Tier{
		ID:                  s.ID,
		Name:                s.Name,
		Ordering:            s.Ordering,
		MinimumContribution: minimum,
		ProfitRate:          profit,
		LevelRates:          rates,
	}, nil
}

// New validates tiers and builds a catalog.
func New(tiers []domain.Tier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, ErrEmptyCatalog
	}

	sorted := make([]domain.Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Ordering < sorted[j].Ordering
	})

	byID := make(map[string]int, len(sorted))
	for i, t := range sorted {
		if _, exists := byID[t.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTier, t.ID)
		}
		byID[t.ID] = i

		if err := validateTier(t); err != nil {
			return nil, fmt.Errorf("tier %q: %w", t.ID, err)
		}

		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if t.Ordering <= prev.Ordering {
			return nil, fmt.Errorf("%w: %s after %s", ErrOrderingNotIncreasing, t.ID, prev.ID)
		}
		if !t.MinimumContribution.GreaterThan(prev.MinimumContribution) {
			return nil, fmt.Errorf("%w: %s after %s", ErrMinimumNotIncreasing, t.ID, prev.ID)
		}
	}

	return &Catalog{tiers: sorted, byID: byID}, nil
}

func validateTier(t domain.Tier) error {
	if t.MinimumContribution.IsNegative() || t.ProfitRate.IsNegative() {
		return ErrNegativeRate
	}
	for _, r := range t.LevelRates {
		if r.IsNegative() {
			return ErrNegativeRate
		}
	}
	if !t.LevelRates.StrictlyDecreasing() {
		return ErrRatesNotDecreasing
	}
	return nil
}

// Tiers returns a copy of all tiers ordered by Ordering ASC.
func (c *Catalog) Tiers() []domain.Tier {
	out := make([]domain.Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// ByID returns a tier by id.
func (c *Catalog) ByID(id string) (domain.Tier, error) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Tier{}, fmt.Errorf("%w: %s", ErrUnknownTier, id)
	}
	return c.tiers[i], nil
}

// Ordering returns the ordering of a tier id, 0 for the empty id (no tier yet).
func (c *Catalog) Ordering(id string) (int, error) {
	if id == "" {
		return 0, nil
	}
	t, err := c.ByID(id)
	if err != nil {
		return 0, err
	}
	return t.Ordering, nil
}

// EligibleFor returns the tier with the highest minimum contribution <= capital.
// ok is false when capital is below every minimum.
func (c *Catalog) EligibleFor(capital decimal.Decimal) (tier domain.Tier, ok bool) {
	for i := len(c.tiers) - 1; i >= 0; i-- {
		if c.tiers[i].MinimumContribution.LessThanOrEqual(capital) {
			return c.tiers[i], true
		}
	}
	return domain.Tier{}, false
}

// Lowest returns the entry tier.
func (c *Catalog) Lowest() domain.Tier {
	return c.tiers[0]
}
