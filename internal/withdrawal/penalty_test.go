package withdrawal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrix-comp/internal/domain"
)

func frac(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLinearPenalty_Rate(t *testing.T) {
	p := DefaultPenalty()
	require.NoError(t, p.Validate())

	tests := []struct {
		name      string
		typ       domain.WithdrawalType
		remaining string
		want      string
	}{
		{"full vested", domain.WithdrawalFull, "0", "0"},
		{"full half remaining", domain.WithdrawalFull, "0.5", "7.5"},
		{"partial fully locked", domain.WithdrawalPartial, "1", "15"},
		{"clamped above one", domain.WithdrawalPartial, "1.7", "15"},
		{"emergency locked", domain.WithdrawalEmergency, "0.01", "20"},
		{"emergency vested", domain.WithdrawalEmergency, "0", "0"},
		{"profits only", domain.WithdrawalProfitsOnly, "1", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Rate(tt.typ, frac(tt.remaining))
			assert.True(t, got.Equal(frac(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestLinearPenalty_Validate(t *testing.T) {
	assert.ErrorIs(t, LinearPenalty{MaxEarlyRate: frac("20"), EmergencyRate: frac("10")}.Validate(), ErrEmergencyBelowEarly)
	assert.ErrorIs(t, LinearPenalty{MaxEarlyRate: frac("-1"), EmergencyRate: frac("10")}.Validate(), ErrNegativePenaltyRate)
	assert.ErrorIs(t, LinearPenalty{MaxEarlyRate: frac("1"), EmergencyRate: frac("101")}.Validate(), ErrNegativePenaltyRate)
}

func TestSteppedPenalty(t *testing.T) {
	p := SteppedPenalty{
		Steps: []PenaltyStep{
			{UpTo: frac("0.25"), Rate: frac("2")},
			{UpTo: frac("0.5"), Rate: frac("5")},
			{UpTo: frac("1"), Rate: frac("10")},
		},
		EmergencyRate: frac("25"),
	}
	require.NoError(t, p.Validate())

	assert.True(t, p.Rate(domain.WithdrawalFull, frac("0")).IsZero())
	assert.True(t, p.Rate(domain.WithdrawalFull, frac("0.1")).Equal(frac("2")))
	assert.True(t, p.Rate(domain.WithdrawalFull, frac("0.25")).Equal(frac("2")))
	assert.True(t, p.Rate(domain.WithdrawalFull, frac("0.26")).Equal(frac("5")))
	assert.True(t, p.Rate(domain.WithdrawalPartial, frac("0.9")).Equal(frac("10")))
	assert.True(t, p.Rate(domain.WithdrawalEmergency, frac("0.9")).Equal(frac("25")))
	assert.True(t, p.Rate(domain.WithdrawalProfitsOnly, frac("0.9")).IsZero())
}

func TestSteppedPenalty_ValidateRejectsNonMonotonic(t *testing.T) {
	p := SteppedPenalty{
		Steps: []PenaltyStep{
			{UpTo: frac("0.5"), Rate: frac("8")},
			{UpTo: frac("1"), Rate: frac("4")},
		},
		EmergencyRate: frac("20"),
	}
	assert.ErrorIs(t, p.Validate(), ErrStepsNotMonotonic)

	p.Steps = []PenaltyStep{{UpTo: frac("1.5"), Rate: frac("4")}}
	assert.ErrorIs(t, p.Validate(), ErrStepThresholdOutRange)

	p.Steps = []PenaltyStep{{UpTo: frac("1"), Rate: frac("30")}}
	assert.ErrorIs(t, p.Validate(), ErrEmergencyBelowEarly)
}

func TestPenaltyPolicies_MonotonicInRemainingFraction(t *testing.T) {
	policies := map[string]PenaltyPolicy{
		"linear": DefaultPenalty(),
		"stepped": SteppedPenalty{
			Steps:         []PenaltyStep{{UpTo: frac("0.3"), Rate: frac("3")}, {UpTo: frac("1"), Rate: frac("9")}},
			EmergencyRate: frac("20"),
		},
	}
	types := []domain.WithdrawalType{domain.WithdrawalFull, domain.WithdrawalPartial, domain.WithdrawalEmergency, domain.WithdrawalProfitsOnly}

	for name, p := range policies {
		for _, typ := range types {
			prev := decimal.Zero
			for i := 0; i <= 20; i++ {
				f := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(20))
				got := p.Rate(typ, f)
				assert.False(t, got.LessThan(prev), "%s %s at %s", name, typ, f)
				prev = got
			}
		}
	}
}
