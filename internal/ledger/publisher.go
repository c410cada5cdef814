package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/observability"
	"matrix-comp/internal/storage"
)

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, events []*domain.LedgerEvent) error
}

// StoreSink writes events to a LedgerEventStore. Re-published events are
// ignored, so event delivery is idempotent.
type StoreSink struct {
	Store   storage.LedgerEventStore
	Backend string // metrics label, e.g. "postgres" or "clickhouse"
}

// Publish implements Sink.
func (s StoreSink) Publish(ctx context.Context, events []*domain.LedgerEvent) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery(s.backend(), "insert_ledger_events", time.Since(start).Seconds(), err)
	}()

	err = s.Store.InsertBulk(ctx, events)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Insert one by one so fresh events in a partly seen batch still land.
		for _, e := range events {
			if err := s.Store.InsertBulk(ctx, []*domain.LedgerEvent{e}); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
				return err
			}
		}
		return nil
	}
	return err
}

func (s StoreSink) backend() string {
	if s.Backend == "" {
		return "memory"
	}
	return s.Backend
}

// Publisher fans events out to every sink. The first sink is the system of
// record: its failure fails Publish. Later sinks are best effort.
type Publisher struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewPublisher creates a publisher. With no sinks Publish is a no-op.
func NewPublisher(logger *zerolog.Logger, sinks ...Sink) *Publisher {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Publisher{sinks: sinks, logger: l.With().Str("component", "ledger").Logger()}
}

// Publish implements Sink.
func (p *Publisher) Publish(ctx context.Context, events []*domain.LedgerEvent) error {
	if p == nil || len(events) == 0 {
		return nil
	}
	for i, s := range p.sinks {
		if err := s.Publish(ctx, events); err != nil {
			if i == 0 {
				return fmt.Errorf("publish ledger events: %w", err)
			}
			p.logger.Warn().Err(err).Int("sink", i).Int("events", len(events)).Msg("secondary sink failed")
		}
	}
	return nil
}
