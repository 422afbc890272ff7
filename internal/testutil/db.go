// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/db"
)

var seq atomic.Int64

// SQLite returns an isolated in-memory sqlite database that is closed when
// the test ends.
func SQLite(t testing.TB) *bun.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=on", name, seq.Add(1))
	bdb, err := db.NewBunSQLiteClient(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bdb.Close() })
	return bdb
}

// CreateTables creates a table for every model.
func CreateTables(t testing.TB, bdb *bun.DB, models ...any) {
	t.Helper()
	ctx := context.Background()
	for _, m := range models {
		_, err := bdb.NewCreateTable().Model(m).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}
}
