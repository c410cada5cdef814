// Package ledger turns core records into audit events and hands them to
// the configured sinks (event stores, live feed).
package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/idhash"
)

func newEvent(t domain.LedgerEventType, ref, status string) *domain.LedgerEvent {
	return &domain.LedgerEvent{
		EventID:     idhash.ComputeEventID(string(t), ref, status),
		Type:        t,
		ReferenceID: ref,
		Status:      status,
		Amount:      decimal.Zero,
	}
}

// PlacementEvent records a matrix placement.
func PlacementEvent(n *domain.MatrixNode) *domain.LedgerEvent {
	e := newEvent(domain.EventPlacement, n.ParticipantID, "placed")
	e.ParticipantID = n.ParticipantID
	e.Detail = fmt.Sprintf("parent=%s slot=%d depth=%d anchor=%s", n.ParentID, n.SlotIndex, n.Depth, n.AnchorID)
	e.OccurredAt = n.PlacedAt
	return e
}

// TierUpgradeEvent records a tier upgrade.
func TierUpgradeEvent(h *domain.TierHistoryEntry) *domain.LedgerEvent {
	e := newEvent(domain.EventTierUpgrade, h.ParticipantID+"|"+h.TierID, h.TierID)
	e.ParticipantID = h.ParticipantID
	e.Amount = h.CapitalAtUpgrade
	e.Detail = "from=" + h.FromTierID
	e.OccurredAt = h.UpgradedAt
	return e
}

// ActivationEvent records an investment activation.
func ActivationEvent(inv *domain.Investment, at time.Time) *domain.LedgerEvent {
	e := newEvent(domain.EventInvestmentActivate, inv.ID, string(inv.Status))
	e.ParticipantID = inv.ParticipantID
	e.InvestmentID = inv.ID
	e.Amount = inv.Amount
	e.Detail = "tier=" + inv.TierIDAtTime + " upgrade=" + strconv.FormatBool(inv.IsTierUpgrade)
	e.OccurredAt = at
	return e
}

// CommissionEvents records one event per commission row. Amount is the
// authorized amount.
func CommissionEvents(rows []*domain.Commission) []*domain.LedgerEvent {
	out := make([]*domain.LedgerEvent, 0, len(rows))
	for _, c := range rows {
		e := newEvent(domain.EventCommission, c.ID, string(c.Status))
		e.ParticipantID = c.RecipientID
		e.InvestmentID = c.SourceInvestmentID
		e.Amount = c.CappedAmount
		e.Detail = fmt.Sprintf("level=%d rate=%s gross=%s", c.Level, c.RateApplied.String(), c.GrossAmount.StringFixed(2))
		e.OccurredAt = c.CreatedAt
		out = append(out, e)
	}
	return out
}

// WithdrawalEvent records a withdrawal request in its current status.
func WithdrawalEvent(w *domain.WithdrawalRequest) *domain.LedgerEvent {
	e := newEvent(domain.EventWithdrawal, w.ID, string(w.Status))
	e.ParticipantID = w.ParticipantID
	e.InvestmentID = w.InvestmentID
	e.Amount = w.NetAmount
	e.Detail = fmt.Sprintf("type=%s requested=%s penalty=%s", w.Type, w.RequestedAmount.StringFixed(2), w.PenaltyAmount.StringFixed(2))
	if w.Reason != "" {
		e.Detail += " reason=" + w.Reason
	}
	e.OccurredAt = w.UpdatedAt
	return e
}

// PayoutEvents records profit payouts. participantOf resolves the owner of
// each investment.
func PayoutEvents(payouts []*domain.ProfitPayout, participantOf func(investmentID string) string) []*domain.LedgerEvent {
	out := make([]*domain.LedgerEvent, 0, len(payouts))
	for _, p := range payouts {
		e := newEvent(domain.EventProfitPayout, p.ID, "credited")
		e.ParticipantID = participantOf(p.InvestmentID)
		e.InvestmentID = p.InvestmentID
		e.Amount = p.Amount
		e.Detail = fmt.Sprintf("run=%s tier=%s rate=%s", p.RunID, p.TierID, p.Rate.String())
		e.OccurredAt = p.CreatedAt
		out = append(out, e)
	}
	return out
}
