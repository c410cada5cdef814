package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

func TestWithdrawalStore_UpdateStatus(t *testing.T) {
	store := NewWithdrawalStore()
	ctx := context.Background()

	req := &domain.WithdrawalRequest{
		ID:           "w1",
		InvestmentID: "inv1",
		Type:         domain.WithdrawalFull,
		Status:       domain.WithdrawalPending,
		RequestedAt:  time.Unix(100, 0),
	}
	if err := store.Insert(ctx, req); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := store.UpdateStatus(ctx, "w1", domain.WithdrawalPending, domain.WithdrawalRejected, time.Unix(200, 0), "docs missing")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "w1")
	if got.Status != domain.WithdrawalRejected || got.Reason != "docs missing" {
		t.Errorf("Unexpected request: %+v", got)
	}
	if !got.UpdatedAt.Equal(time.Unix(200, 0)) {
		t.Errorf("UpdatedAt mismatch: %v", got.UpdatedAt)
	}

	err = store.UpdateStatus(ctx, "w1", domain.WithdrawalPending, domain.WithdrawalApproved, time.Unix(300, 0), "")
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestWithdrawalStore_OneOpenRequestPerInvestment(t *testing.T) {
	store := NewWithdrawalStore()
	ctx := context.Background()

	first := &domain.WithdrawalRequest{ID: "w1", InvestmentID: "inv1", Status: domain.WithdrawalPending}
	second := &domain.WithdrawalRequest{ID: "w2", InvestmentID: "inv1", Status: domain.WithdrawalRequested}

	if err := store.Insert(ctx, first); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, second); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := store.UpdateStatus(ctx, "w1", domain.WithdrawalPending, domain.WithdrawalPaid, time.Unix(300, 0), ""); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := store.Insert(ctx, second); err != nil {
		t.Errorf("closed request should free the investment, got %v", err)
	}
}
