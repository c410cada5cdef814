package postgres

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"matrix-comp/internal/domain"
)

// One container serves the whole package; tables are truncated per test.
var shared struct {
	once      sync.Once
	pool      *Pool
	err       error
	terminate func()
}

func TestMain(m *testing.M) {
	flag.Parse()
	code := m.Run()
	if shared.terminate != nil {
		shared.terminate()
	}
	os.Exit(code)
}

// setupTestDB returns a pool on the shared container with every table empty.
// The returned cleanup is a no-op kept for call-site symmetry.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	shared.once.Do(startPostgres)
	require.NoError(t, shared.err, "postgres test container")

	truncateAll(t, shared.pool)
	return shared.pool, func() {}
}

func startPostgres() {
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("matrix"),
		postgres.WithUsername("matrix"),
		postgres.WithPassword("matrix"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		shared.err = err
		return
	}
	shared.terminate = func() { _ = container.Terminate(ctx) }

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		shared.err = err
		return
	}
	if shared.pool, shared.err = NewPool(ctx, dsn); shared.err != nil {
		return
	}
	shared.err = applySchema(ctx, shared.pool)
}

// applySchema executes the migration files from disk; the migrations
// package imports this one, so it cannot be used here.
func applySchema(ctx context.Context, pool *Pool) error {
	files, err := filepath.Glob(filepath.Join("..", "migrations", "postgres", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		sql, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return err
		}
	}
	return nil
}

func truncateAll(t *testing.T, pool *Pool) {
	t.Helper()
	ctx := context.Background()

	var tables []string
	rows, err := pool.Query(ctx, `SELECT quote_ident(tablename) FROM pg_tables WHERE schemaname = 'public'`)
	require.NoError(t, err)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	rows.Close()
	require.NoError(t, rows.Err())

	if len(tables) == 0 {
		return
	}
	_, err = pool.Exec(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" RESTART IDENTITY CASCADE")
	require.NoError(t, err)
}

var testTime = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seedParticipant inserts a participant with a unique referral code.
func seedParticipant(t *testing.T, store *ParticipantStore, id, referrerID string) *domain.Participant {
	t.Helper()
	p := &domain.Participant{
		ID:                id,
		ReferrerID:        referrerID,
		ReferralCode:      "code-" + id,
		CumulativeCapital: decimal.Zero,
		JoinedAt:          testTime,
	}
	require.NoError(t, store.Insert(context.Background(), p))
	return p
}

// seedInvestment inserts an investment for participantID.
func seedInvestment(t *testing.T, store *InvestmentStore, id, participantID, amount string, status domain.InvestmentStatus) *domain.Investment {
	t.Helper()
	inv := &domain.Investment{
		ID:             id,
		ParticipantID:  participantID,
		TierIDAtTime:   "silver",
		Amount:         dec(amount),
		Status:         status,
		InvestmentDate: testTime,
		LockInEndDate:  testTime.AddDate(0, 12, 0),
	}
	require.NoError(t, store.Insert(context.Background(), inv))
	return inv
}
