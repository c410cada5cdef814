package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/orchestrator"
	"matrix-comp/internal/withdrawal"
)

const defaultQueryDepth = 3

// decode reads a JSON body into dst and validates its struct tags.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}

func depthParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("depth")
	if raw == "" {
		return defaultQueryDepth, nil
	}
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: depth must be an integer", errInvalidPayload)
	}
	return depth, nil
}

// ListTiers returns the tier catalog ordered by minimum contribution.
func (s *Server) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers := s.orch.Catalog().Tiers()
	out := make([]tierView, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, newTierView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type enrollRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	ReferrerID    string `json:"referrer_id" validate:"excluded_with=ReferralCode"`
	ReferralCode  string `json:"referral_code"`
}

type enrollResponse struct {
	Participant participantView `json:"participant"`
	Node        *nodeView       `json:"node"`
}

// Enroll creates a participant and places it in the matrix.
func (s *Server) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.orch.Enroll(r.Context(), orchestrator.EnrollRequest{
		ParticipantID: req.ParticipantID,
		ReferrerID:    req.ReferrerID,
		ReferralCode:  req.ReferralCode,
		At:            s.clock.Now(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollResponse{
		Participant: newParticipantView(res.Participant),
		Node:        newNodeView(res.Node),
	})
}

// GetParticipant returns one participant.
func (s *Server) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := s.orch.Participant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newParticipantView(p))
}

// GetDownline returns node counts per level below the participant.
func (s *Server) GetDownline(w http.ResponseWriter, r *http.Request) {
	depth, err := depthParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	counts, err := s.orch.Matrix().DownlineCounts(r.Context(), chi.URLParam(r, "id"), depth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": counts, "total": total})
}

// GetMatrix returns the placement subtree rooted at the participant.
func (s *Server) GetMatrix(w http.ResponseWriter, r *http.Request) {
	depth, err := depthParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tree, err := s.orch.Matrix().SnapshotSubtree(r.Context(), chi.URLParam(r, "id"), depth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// GetPath returns the matrix ancestry from the participant up to its root.
func (s *Server) GetPath(w http.ResponseWriter, r *http.Request) {
	path, err := s.orch.Matrix().Path(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]*nodeView, 0, len(path))
	for _, n := range path {
		out = append(out, newNodeView(n))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListInvestments returns the participant's investments.
func (s *Server) ListInvestments(w http.ResponseWriter, r *http.Request) {
	invs, err := s.orch.Investments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]investmentView, 0, len(invs))
	for _, inv := range invs {
		out = append(out, newInvestmentView(inv))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListCommissions returns commissions earned by the participant.
func (s *Server) ListCommissions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.orch.Commissions().ListByRecipient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCommissionViews(rows))
}

// GetHeadroom returns the commission amount the participant can still receive.
func (s *Server) GetHeadroom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.orch.Participant(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	headroom, unlimited, err := s.orch.Guard().Headroom(r.Context(), id, s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{"unlimited": unlimited}
	if !unlimited {
		resp["headroom"] = headroom
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTierHistory returns the participant's upgrade history.
func (s *Server) GetTierHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.orch.Tiers().History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]*tierHistoryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newTierHistoryView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// EvaluateTier re-evaluates the participant's tier.
func (s *Server) EvaluateTier(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.EvaluateTier(r.Context(), chi.URLParam(r, "id"), s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upgraded":     res.Upgraded,
		"from_tier_id": res.FromTierID,
		"tier_id":      res.TierID,
		"entry":        newTierHistoryView(res.Entry),
	})
}

// GetUpgradeGap returns the capital still needed to reach a tier.
func (s *Server) GetUpgradeGap(w http.ResponseWriter, r *http.Request) {
	tierID := chi.URLParam(r, "tierID")
	gap, err := s.orch.Tiers().UpgradeGap(r.Context(), chi.URLParam(r, "id"), tierID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier_id": tierID, "gap": gap})
}

type registerInvestmentRequest struct {
	InvestmentID  string          `json:"investment_id"`
	ParticipantID string          `json:"participant_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
}

// RegisterInvestment records a pending investment.
func (s *Server) RegisterInvestment(w http.ResponseWriter, r *http.Request) {
	var req registerInvestmentRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	inv, err := s.orch.RegisterInvestment(r.Context(), orchestrator.RegisterRequest{
		InvestmentID:  req.InvestmentID,
		ParticipantID: req.ParticipantID,
		Amount:        req.Amount,
		At:            s.clock.Now(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newInvestmentView(inv))
}

// GetInvestment returns one investment.
func (s *Server) GetInvestment(w http.ResponseWriter, r *http.Request) {
	inv, err := s.orch.Investment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newInvestmentView(inv))
}

type activationResponse struct {
	Investment  investmentView   `json:"investment"`
	TierID      string           `json:"tier_id"`
	Upgraded    bool             `json:"tier_upgraded"`
	Node        *nodeView        `json:"node"`
	Commissions []commissionView `json:"commissions"`
	Replayed    bool             `json:"replayed"`
}

// ActivateInvestment runs the activation flow. Replays return 200 with the
// rows recorded by the first delivery.
func (s *Server) ActivateInvestment(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.ActivateInvestment(r.Context(), chi.URLParam(r, "id"), s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := activationResponse{
		Investment:  newInvestmentView(res.Investment),
		Node:        newNodeView(res.Node),
		Commissions: newCommissionViews(res.Commissions),
		Replayed:    res.Replayed,
	}
	if res.Tier != nil {
		resp.TierID = res.Tier.TierID
		resp.Upgraded = res.Tier.Upgraded
	}
	writeJSON(w, http.StatusOK, resp)
}

// RejectInvestment rejects a pending investment.
func (s *Server) RejectInvestment(w http.ResponseWriter, r *http.Request) {
	inv, err := s.orch.RejectInvestment(r.Context(), chi.URLParam(r, "id"), s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newInvestmentView(inv))
}

// GetInvestmentCommissions returns the rows distributed for an investment.
func (s *Server) GetInvestmentCommissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.orch.Investment(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.orch.Commissions().Existing(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCommissionViews(rows))
}

type withdrawalRequest struct {
	ParticipantID string          `json:"participant_id"`
	Type          string          `json:"type" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
}

// PreviewWithdrawal evaluates a withdrawal without recording it.
func (s *Server) PreviewWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	dec, err := s.orch.Withdrawals().Preview(r.Context(), chi.URLParam(r, "id"), domain.WithdrawalType(req.Type), req.Amount, s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDecisionView(dec))
}

type submitResponse struct {
	Withdrawal *withdrawalView `json:"withdrawal"`
	Decision   *decisionView   `json:"decision"`
}

// SubmitWithdrawal records a withdrawal request. An ineligible request is
// answered with the error and the decision that explains it.
func (s *Server) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	wr, dec, err := s.orch.SubmitWithdrawal(r.Context(), withdrawal.SubmitRequest{
		InvestmentID:  chi.URLParam(r, "id"),
		ParticipantID: req.ParticipantID,
		Type:          domain.WithdrawalType(req.Type),
		Amount:        req.Amount,
		At:            s.clock.Now(),
	})
	if err != nil {
		s.writeErrorBody(w, r, err, errorBody{Error: err.Error(), Decision: newDecisionView(dec)})
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{Withdrawal: newWithdrawalView(wr), Decision: newDecisionView(dec)})
}

// ListWithdrawals returns the requests recorded against an investment.
func (s *Server) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.orch.Investment(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.orch.Withdrawals().ListByInvestment(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]*withdrawalView, 0, len(list))
	for _, wr := range list {
		out = append(out, newWithdrawalView(wr))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetWithdrawal returns one request.
func (s *Server) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	wr, err := s.orch.Withdrawals().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWithdrawalView(wr))
}

// ApproveWithdrawal approves a pending request.
func (s *Server) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.respondWithdrawal(w, r)(s.orch.ApproveWithdrawal(r.Context(), chi.URLParam(r, "id"), s.clock.Now()))
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RejectWithdrawal rejects a pending request with a reason.
func (s *Server) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondWithdrawal(w, r)(s.orch.RejectWithdrawal(r.Context(), chi.URLParam(r, "id"), req.Reason, s.clock.Now()))
}

// PayWithdrawal settles an approved request.
func (s *Server) PayWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.respondWithdrawal(w, r)(s.orch.PayWithdrawal(r.Context(), chi.URLParam(r, "id"), s.clock.Now()))
}

func (s *Server) respondWithdrawal(w http.ResponseWriter, r *http.Request) func(*domain.WithdrawalRequest, error) {
	return func(wr *domain.WithdrawalRequest, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newWithdrawalView(wr))
	}
}

type payoutRunRequest struct {
	RunID       string    `json:"run_id" validate:"required"`
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required,gtfield=PeriodStart"`
}

type payoutRunResponse struct {
	RunID   string       `json:"run_id"`
	Created []payoutView `json:"created"`
	Skipped int          `json:"skipped"`
}

// RunPayouts executes one profit payout run.
func (s *Server) RunPayouts(w http.ResponseWriter, r *http.Request) {
	var req payoutRunRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.orch.RunPayouts(r.Context(), domain.PayoutRun{
		RunID:       req.RunID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
	}, s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := payoutRunResponse{RunID: res.RunID, Created: make([]payoutView, 0, len(res.Created)), Skipped: res.Skipped}
	for _, p := range res.Created {
		resp.Created = append(resp.Created, payoutView{
			ID:           p.ID,
			InvestmentID: p.InvestmentID,
			TierID:       p.TierID,
			Principal:    p.Principal,
			Rate:         p.Rate,
			Amount:       p.Amount,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
