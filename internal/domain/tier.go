package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CommissionLevels is the depth of the referral chain that earns commission.
const CommissionLevels = 7

// Tier is an administered capital band.
type Tier struct {
	ID                  string
	Name                string
	Ordering            int             // strictly increasing with MinimumContribution
	MinimumContribution decimal.Decimal // inclusive lower bound of cumulative capital
	ProfitRate          decimal.Decimal // monthly profit, percent
	LevelRates          LevelRateTable
}

// LevelRateTable holds commission percentages for referral levels 1..7.
// Index 0 is level 1.
type LevelRateTable [CommissionLevels]decimal.Decimal

// Rate returns the percentage for a 1-based level.
func (t LevelRateTable) Rate(level int) (decimal.Decimal, error) {
	if level < 1 || level > CommissionLevels {
		return decimal.Zero, fmt.Errorf("level %d out of range 1..%d", level, CommissionLevels)
	}
	return t[level-1], nil
}

// StrictlyDecreasing reports whether every level pays less than the one before it.
func (t LevelRateTable) StrictlyDecreasing() bool {
	for i := 1; i < len(t); i++ {
		if !t[i].LessThan(t[i-1]) {
			return false
		}
	}
	return true
}

// CanonicalLevelRates is the default 7-level schedule.
func CanonicalLevelRates() LevelRateTable {
	return LevelRateTable{
		decimal.NewFromInt(15),
		decimal.NewFromInt(10),
		decimal.NewFromInt(8),
		decimal.NewFromInt(6),
		decimal.NewFromInt(4),
		decimal.NewFromInt(3),
		decimal.NewFromInt(2),
	}
}
