package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/commission"
	"matrix-comp/internal/matrix"
	"matrix-comp/internal/orchestrator"
	"matrix-comp/internal/payout"
	"matrix-comp/internal/storage"
	"matrix-comp/internal/tier"
	"matrix-comp/internal/withdrawal"
)

var errInvalidPayload = errors.New("invalid payload")

var (
	notFoundErrors = []error{
		orchestrator.ErrParticipantNotFound,
		orchestrator.ErrInvestmentNotFound,
		tier.ErrParticipantNotFound,
		commission.ErrInvestmentNotFound,
		withdrawal.ErrInvestmentNotFound,
		withdrawal.ErrRequestNotFound,
		matrix.ErrNotPlaced,
		catalog.ErrUnknownTier,
		storage.ErrNotFound,
	}
	conflictErrors = []error{
		orchestrator.ErrAlreadyEnrolled,
		orchestrator.ErrInvestmentNotPending,
		matrix.ErrAlreadyPlaced,
		commission.ErrDuplicateDistribution,
		withdrawal.ErrConflictingRequest,
		withdrawal.ErrInvalidTransition,
		storage.ErrDuplicateKey,
		storage.ErrConflict,
	}
	unprocessableErrors = []error{
		errInvalidPayload,
		orchestrator.ErrUnknownReferralCode,
		orchestrator.ErrBelowMinimum,
		matrix.ErrReferrerNotFound,
		matrix.ErrSelfReferral,
		matrix.ErrInvalidDepth,
		commission.ErrInvestmentNotActive,
		withdrawal.ErrInvestmentNotActive,
		withdrawal.ErrLockInNotElapsed,
		withdrawal.ErrInvalidWithdrawalType,
		withdrawal.ErrAmountExceedsAvailable,
		withdrawal.ErrInvalidAmount,
		withdrawal.ErrNotEligible,
		withdrawal.ErrNotOwner,
		payout.ErrInvalidRun,
		storage.ErrInvalidInput,
	}
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound
	case matchesAny(err, conflictErrors):
		return http.StatusConflict
	case matchesAny(err, unprocessableErrors):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type errorBody struct {
	Error    string        `json:"error"`
	Decision *decisionView `json:"decision,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorBody(w, r, err, errorBody{Error: err.Error()})
}

func (s *Server) writeErrorBody(w http.ResponseWriter, r *http.Request, err error, body errorBody) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
