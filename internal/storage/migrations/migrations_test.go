package migrations

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	stmts, err := splitStatements(`
-- header
CREATE TABLE a (x String);

-- second
CREATE TABLE b (y String DEFAULT 'it''s');
`)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CREATE TABLE a (x String)",
		"CREATE TABLE b (y String DEFAULT 'it''s')",
	}, stmts)
}

func TestSplitStatements_RejectsSemicolonInString(t *testing.T) {
	_, err := splitStatements(`INSERT INTO a VALUES ('x;y');`)
	assert.ErrorIs(t, err, errSemicolonInString)
}

func TestEmbeddedFiles(t *testing.T) {
	pg, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Equal(t, "001_participants.sql", pg[0])

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	for _, f := range ch {
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+f)
		require.NoError(t, err)
		_, err = splitStatements(string(data))
		assert.NoError(t, err, f)
	}
}

func TestRunClickhouseMigrations_RequiresDatabase(t *testing.T) {
	_, err := RunClickhouseMigrations(context.Background(), "clickhouse://localhost:9000")
	assert.ErrorIs(t, err, errMissingDatabase)
}
