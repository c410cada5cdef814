package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

func TestInvestmentStore_StatusCAS(t *testing.T) {
	store := NewInvestmentStore()
	ctx := context.Background()

	inv := &domain.Investment{
		ID:            "inv1",
		ParticipantID: "p1",
		Amount:        decimal.NewFromInt(1000),
		Status:        domain.InvestmentPending,
	}
	if err := store.Insert(ctx, inv); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := store.UpdateStatus(ctx, "inv1", domain.InvestmentPending, domain.InvestmentActive); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	err := store.UpdateStatus(ctx, "inv1", domain.InvestmentPending, domain.InvestmentActive)
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestInvestmentStore_RecordWithdrawalMovesToWithdrawn(t *testing.T) {
	store := NewInvestmentStore()
	ctx := context.Background()

	_ = store.Insert(ctx, &domain.Investment{
		ID:            "inv1",
		ParticipantID: "p1",
		Amount:        decimal.NewFromInt(1000),
		Status:        domain.InvestmentActive,
	})

	inv, err := store.RecordWithdrawal(ctx, "inv1", "w1", decimal.NewFromInt(400), decimal.Zero)
	if err != nil {
		t.Fatalf("RecordWithdrawal failed: %v", err)
	}
	if inv.Status != domain.InvestmentActive {
		t.Errorf("Expected active after partial, got %s", inv.Status)
	}

	inv, _ = store.RecordWithdrawal(ctx, "inv1", "w2", decimal.NewFromInt(600), decimal.Zero)
	if inv.Status != domain.InvestmentWithdrawn {
		t.Errorf("Expected withdrawn, got %s", inv.Status)
	}

	_, err = store.RecordWithdrawal(ctx, "inv1", "w3", decimal.NewFromInt(1), decimal.Zero)
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict on withdrawn investment, got %v", err)
	}
}

func TestInvestmentStore_RecordWithdrawalOncePerRequest(t *testing.T) {
	store := NewInvestmentStore()
	ctx := context.Background()

	_ = store.Insert(ctx, &domain.Investment{
		ID:            "inv1",
		ParticipantID: "p1",
		Amount:        decimal.NewFromInt(1000),
		Status:        domain.InvestmentActive,
	})

	for i := 0; i < 2; i++ {
		inv, err := store.RecordWithdrawal(ctx, "inv1", "w1", decimal.NewFromInt(400), decimal.Zero)
		if err != nil {
			t.Fatalf("RecordWithdrawal attempt %d failed: %v", i, err)
		}
		if !inv.WithdrawnPrincipal.Equal(decimal.NewFromInt(400)) {
			t.Errorf("Attempt %d: withdrawn principal %s, want 400", i, inv.WithdrawnPrincipal)
		}
	}

	// A settled full withdrawal replays cleanly even though the investment is withdrawn now.
	_, _ = store.RecordWithdrawal(ctx, "inv1", "w2", decimal.NewFromInt(600), decimal.Zero)
	inv, err := store.RecordWithdrawal(ctx, "inv1", "w2", decimal.NewFromInt(600), decimal.Zero)
	if err != nil {
		t.Fatalf("Replay of settled request failed: %v", err)
	}
	if inv.Status != domain.InvestmentWithdrawn || !inv.WithdrawnPrincipal.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Replay changed balances: %+v", inv)
	}
}

func TestInvestmentStore_AddAccruedProfitOncePerPayout(t *testing.T) {
	store := NewInvestmentStore()
	ctx := context.Background()

	_ = store.Insert(ctx, &domain.Investment{ID: "inv1", ParticipantID: "p1", Amount: decimal.NewFromInt(1000), Status: domain.InvestmentActive})

	applied, err := store.AddAccruedProfit(ctx, "inv1", "pay1", decimal.NewFromInt(20))
	if err != nil || !applied {
		t.Fatalf("First accrual: applied=%v err=%v", applied, err)
	}
	applied, err = store.AddAccruedProfit(ctx, "inv1", "pay1", decimal.NewFromInt(20))
	if err != nil || applied {
		t.Errorf("Repeated accrual: applied=%v err=%v", applied, err)
	}
	if _, err := store.AddAccruedProfit(ctx, "missing", "pay2", decimal.NewFromInt(1)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	inv, _ := store.GetByID(ctx, "inv1")
	if !inv.AccruedProfit.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Accrued profit %s, want 20", inv.AccruedProfit)
	}
}

func TestInvestmentStore_GetActiveBefore(t *testing.T) {
	store := NewInvestmentStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = store.Insert(ctx, &domain.Investment{ID: "a", ParticipantID: "p", Status: domain.InvestmentActive, InvestmentDate: base})
	_ = store.Insert(ctx, &domain.Investment{ID: "b", ParticipantID: "p", Status: domain.InvestmentPending, InvestmentDate: base})
	_ = store.Insert(ctx, &domain.Investment{ID: "c", ParticipantID: "p", Status: domain.InvestmentActive, InvestmentDate: base.AddDate(0, 2, 0)})

	got, err := store.GetActiveBefore(ctx, base.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("GetActiveBefore failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("Unexpected result: %+v", got)
	}
}
