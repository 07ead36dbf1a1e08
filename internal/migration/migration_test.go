package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/stocktake/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestApplyAutoMigratesOtherDialects(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, Apply(conn, "sqlite"))

	for _, table := range []string{"count_sessions", "count_rolls", "ocr_rerun_jobs", "inventory_ledger_transactions", "session_reconciliations", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}
