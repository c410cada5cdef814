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

func TestLedgerEventStore_InsertBulkDuplicate(t *testing.T) {
	store := NewLedgerEventStore()
	ctx := context.Background()

	events := []*domain.LedgerEvent{
		{EventID: "e1", Type: domain.EventPlacement, ParticipantID: "p1", OccurredAt: time.Unix(10, 0)},
		{EventID: "e1", Type: domain.EventPlacement, ParticipantID: "p1", OccurredAt: time.Unix(10, 0)},
	}
	if err := store.InsertBulk(ctx, events); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByParticipant(ctx, "p1")
	if len(got) != 0 {
		t.Errorf("Expected empty store after failed batch, got %d", len(got))
	}
}

func TestLedgerEventStore_CommissionTotal(t *testing.T) {
	store := NewLedgerEventStore()
	ctx := context.Background()
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	events := []*domain.LedgerEvent{
		{EventID: "e1", Type: domain.EventCommission, ParticipantID: "p1", Amount: decimal.NewFromInt(150), OccurredAt: start},
		{EventID: "e2", Type: domain.EventCommission, ParticipantID: "p1", Amount: decimal.NewFromInt(50), OccurredAt: start.AddDate(0, 0, 5)},
		{EventID: "e3", Type: domain.EventCommission, ParticipantID: "p1", Amount: decimal.NewFromInt(99), OccurredAt: end},
		{EventID: "e4", Type: domain.EventWithdrawal, ParticipantID: "p1", Amount: decimal.NewFromInt(500), OccurredAt: start},
	}
	if err := store.InsertBulk(ctx, events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	total, err := store.CommissionTotal(ctx, "p1", start, end)
	if err != nil {
		t.Fatalf("CommissionTotal failed: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Total mismatch: got %s, want 200", total)
	}
}
