package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, 1, migrations[0].version)
	assert.Equal(t, "initial_schema", migrations[0].name)
	assert.Contains(t, migrations[0].script, "CREATE TABLE")

	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].version, migrations[i-1].version,
			"migrations must be ordered by version")
	}
}

func TestSQLStatementsSplitsAndStripsComments(t *testing.T) {
	script := `-- runs table
CREATE TABLE runs (id TEXT PRIMARY KEY);

-- a standalone comment block
-- spanning two lines

CREATE INDEX idx_runs ON runs(id);
`
	stmts := sqlStatements(script)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE INDEX"))
	for _, s := range stmts {
		assert.NotContains(t, s, "--", "comments must not survive splitting")
	}
}
