package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participant is a member of the referral network.
// Referral ancestry (ReferrerID) is independent of matrix placement.
type Participant struct {
	ID                string
	ReferrerID        string // direct referrer, empty for network roots
	ReferralCode      string // deterministic base58 code, unique
	CurrentTierID     string // empty until the first tier is reached
	CumulativeCapital decimal.Decimal
	JoinedAt          time.Time
}

// HasReferrer reports whether the participant was referred by someone.
func (p *Participant) HasReferrer() bool {
	return p.ReferrerID != ""
}

// TierHistoryEntry is an immutable record of a tier upgrade.
type TierHistoryEntry struct {
	ParticipantID    string
	FromTierID       string // empty for the first tier reached
	TierID           string
	UpgradedAt       time.Time
	CapitalAtUpgrade decimal.Decimal
}
