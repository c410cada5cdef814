package idhash

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// referralCodeBytes is the number of hash bytes encoded into a code.
// Eight bytes give 11 base58 characters at most.
const referralCodeBytes = 8

// ReferralCode derives a short, deterministic, human-shareable code for a participant.
// Formula: base58(SHA256("referral|" + participant_id)[:8])
func ReferralCode(participantID string) string {
	hash := sha256.Sum256([]byte("referral|" + participantID))
	return base58.Encode(hash[:referralCodeBytes])
}

// ValidReferralCode reports whether code decodes as a base58 referral code.
func ValidReferralCode(code string) bool {
	if code == "" {
		return false
	}
	raw, err := base58.Decode(code)
	if err != nil {
		return false
	}
	return len(raw) == referralCodeBytes
}
