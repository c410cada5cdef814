package api

import (
	"time"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
)

type participantView struct {
	ID                string          `json:"id"`
	ReferrerID        string          `json:"referrer_id,omitempty"`
	ReferralCode      string          `json:"referral_code"`
	CurrentTierID     string          `json:"current_tier_id,omitempty"`
	CumulativeCapital decimal.Decimal `json:"cumulative_capital"`
	JoinedAt          time.Time       `json:"joined_at"`
}

func newParticipantView(p *domain.Participant) participantView {
	return participantView{
		ID:                p.ID,
		ReferrerID:        p.ReferrerID,
		ReferralCode:      p.ReferralCode,
		CurrentTierID:     p.CurrentTierID,
		CumulativeCapital: p.CumulativeCapital,
		JoinedAt:          p.JoinedAt,
	}
}

type nodeView struct {
	ParticipantID string    `json:"participant_id"`
	ParentID      string    `json:"parent_id,omitempty"`
	SlotIndex     int       `json:"slot_index"`
	Depth         int       `json:"depth"`
	AnchorID      string    `json:"anchor_id,omitempty"`
	Spillover     bool      `json:"spillover"`
	PlacedAt      time.Time `json:"placed_at"`
}

func newNodeView(n *domain.MatrixNode) *nodeView {
	if n == nil {
		return nil
	}
	return &nodeView{
		ParticipantID: n.ParticipantID,
		ParentID:      n.ParentID,
		SlotIndex:     n.SlotIndex,
		Depth:         n.Depth,
		AnchorID:      n.AnchorID,
		Spillover:     n.Spillover(),
		PlacedAt:      n.PlacedAt,
	}
}

type tierView struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Ordering            int               `json:"ordering"`
	MinimumContribution decimal.Decimal   `json:"minimum_contribution"`
	ProfitRate          decimal.Decimal   `json:"profit_rate"`
	LevelRates          []decimal.Decimal `json:"level_rates"`
}

func newTierView(t domain.Tier) tierView {
	return tierView{
		ID:                  t.ID,
		Name:                t.Name,
		Ordering:            t.Ordering,
		MinimumContribution: t.MinimumContribution,
		ProfitRate:          t.ProfitRate,
		LevelRates:          t.LevelRates[:],
	}
}

type tierHistoryView struct {
	FromTierID       string          `json:"from_tier_id,omitempty"`
	TierID           string          `json:"tier_id"`
	UpgradedAt       time.Time       `json:"upgraded_at"`
	CapitalAtUpgrade decimal.Decimal `json:"capital_at_upgrade"`
}

func newTierHistoryView(e *domain.TierHistoryEntry) *tierHistoryView {
	if e == nil {
		return nil
	}
	return &tierHistoryView{
		FromTierID:       e.FromTierID,
		TierID:           e.TierID,
		UpgradedAt:       e.UpgradedAt,
		CapitalAtUpgrade: e.CapitalAtUpgrade,
	}
}

type investmentView struct {
	ID                 string          `json:"id"`
	ParticipantID      string          `json:"participant_id"`
	TierIDAtTime       string          `json:"tier_id_at_time"`
	Amount             decimal.Decimal `json:"amount"`
	Status             string          `json:"status"`
	InvestmentDate     time.Time       `json:"investment_date"`
	LockInEndDate      time.Time       `json:"lock_in_end_date"`
	IsTierUpgrade      bool            `json:"is_tier_upgrade"`
	AccruedProfit      decimal.Decimal `json:"accrued_profit"`
	WithdrawnPrincipal decimal.Decimal `json:"withdrawn_principal"`
	WithdrawnProfit    decimal.Decimal `json:"withdrawn_profit"`
}

func newInvestmentView(inv *domain.Investment) investmentView {
	return investmentView{
		ID:                 inv.ID,
		ParticipantID:      inv.ParticipantID,
		TierIDAtTime:       inv.TierIDAtTime,
		Amount:             inv.Amount,
		Status:             string(inv.Status),
		InvestmentDate:     inv.InvestmentDate,
		LockInEndDate:      inv.LockInEndDate,
		IsTierUpgrade:      inv.IsTierUpgrade,
		AccruedProfit:      inv.AccruedProfit,
		WithdrawnPrincipal: inv.WithdrawnPrincipal,
		WithdrawnProfit:    inv.WithdrawnProfit,
	}
}

type commissionView struct {
	ID                  string          `json:"id"`
	RecipientID         string          `json:"recipient_id"`
	SourceInvestmentID  string          `json:"source_investment_id"`
	SourceParticipantID string          `json:"source_participant_id"`
	Level               int             `json:"level"`
	RateApplied         decimal.Decimal `json:"rate_applied"`
	GrossAmount         decimal.Decimal `json:"gross_amount"`
	CappedAmount        decimal.Decimal `json:"capped_amount"`
	Status              string          `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
}

func newCommissionViews(rows []*domain.Commission) []commissionView {
	out := make([]commissionView, 0, len(rows))
	for _, c := range rows {
		out = append(out, commissionView{
			ID:                  c.ID,
			RecipientID:         c.RecipientID,
			SourceInvestmentID:  c.SourceInvestmentID,
			SourceParticipantID: c.SourceParticipantID,
			Level:               c.Level,
			RateApplied:         c.RateApplied,
			GrossAmount:         c.GrossAmount,
			CappedAmount:        c.CappedAmount,
			Status:              string(c.Status),
			CreatedAt:           c.CreatedAt,
		})
	}
	return out
}

type withdrawalView struct {
	ID              string          `json:"id"`
	InvestmentID    string          `json:"investment_id"`
	ParticipantID   string          `json:"participant_id"`
	Type            string          `json:"type"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	PenaltyAmount   decimal.Decimal `json:"penalty_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	Status          string          `json:"status"`
	RequestedAt     time.Time       `json:"requested_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Reason          string          `json:"reason,omitempty"`
}

func newWithdrawalView(w *domain.WithdrawalRequest) *withdrawalView {
	if w == nil {
		return nil
	}
	return &withdrawalView{
		ID:              w.ID,
		InvestmentID:    w.InvestmentID,
		ParticipantID:   w.ParticipantID,
		Type:            string(w.Type),
		RequestedAmount: w.RequestedAmount,
		PenaltyAmount:   w.PenaltyAmount,
		NetAmount:       w.NetAmount,
		Status:          string(w.Status),
		RequestedAt:     w.RequestedAt,
		UpdatedAt:       w.UpdatedAt,
		Reason:          w.Reason,
	}
}

type decisionView struct {
	Eligible               bool            `json:"eligible"`
	Type                   string          `json:"type"`
	RequestedAmount        decimal.Decimal `json:"requested_amount"`
	PenaltyRate            decimal.Decimal `json:"penalty_rate"`
	PenaltyAmount          decimal.Decimal `json:"penalty_amount"`
	NetAmount              decimal.Decimal `json:"net_amount"`
	RemainingLockInSeconds int64           `json:"remaining_lock_in_seconds"`
	Reasons                []string        `json:"reasons,omitempty"`
}

func newDecisionView(d *domain.WithdrawalDecision) *decisionView {
	if d == nil {
		return nil
	}
	return &decisionView{
		Eligible:               d.Eligible,
		Type:                   string(d.Type),
		RequestedAmount:        d.RequestedAmount,
		PenaltyRate:            d.PenaltyRate,
		PenaltyAmount:          d.PenaltyAmount,
		NetAmount:              d.NetAmount,
		RemainingLockInSeconds: int64(d.RemainingLockIn / time.Second),
		Reasons:                d.Reasons,
	}
}

type payoutView struct {
	ID           string          `json:"id"`
	InvestmentID string          `json:"investment_id"`
	TierID       string          `json:"tier_id"`
	Principal    decimal.Decimal `json:"principal"`
	Rate         decimal.Decimal `json:"rate"`
	Amount       decimal.Decimal `json:"amount"`
}
