// Package idhash derives deterministic identifiers so that retried or
// replayed operations produce the same keys and collide on insert.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// digest returns the hex SHA-256 of parts joined with "|".
func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ComputeCommissionID identifies the commission a source investment pays at
// one level: SHA256(source_investment_id|level).
func ComputeCommissionID(sourceInvestmentID string, level int) string {
	return digest(sourceInvestmentID, strconv.Itoa(level))
}

// ComputePayoutID identifies one investment's payout in a run: SHA256(run_id|investment_id).
func ComputePayoutID(runID, investmentID string) string {
	return digest(runID, investmentID)
}

// ComputeEventID: SHA256(event_type|reference_id|status).
func ComputeEventID(eventType, referenceID, status string) string {
	return digest(eventType, referenceID, status)
}
