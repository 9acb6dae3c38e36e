package database

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) DB {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	db, err := Open(context.Background(), ConnectionConfig{Driver: "sqlite"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(context.Background(), "CREATE TABLE item (id TEXT PRIMARY KEY)")
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, db DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.GetContext(context.Background(), &n, "SELECT COUNT(*) FROM item"))
	return n
}

func TestFlavorForDriver(t *testing.T) {
	assert.Equal(t, sqlbuilder.PostgreSQL, FlavorForDriver("postgres"))
	assert.Equal(t, sqlbuilder.MySQL, FlavorForDriver("mysql"))
	assert.Equal(t, sqlbuilder.SQLite, FlavorForDriver("sqlite"))
}

func TestGetTx_CommitAndRollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	ctxTx, tx, err := db.GetTx(ctx, nil)
	require.NoError(t, err)
	_, err = db.Executor(ctxTx).ExecContext(ctxTx, "INSERT INTO item (id) VALUES ('a')")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctxTx))
	assert.False(t, tx.IsOpen())
	assert.Equal(t, 0, countItems(t, db))

	ctxTx, tx, err = db.GetTx(ctx, nil)
	require.NoError(t, err)
	_, err = db.Executor(ctxTx).ExecContext(ctxTx, "INSERT INTO item (id) VALUES ('b')")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctxTx))
	require.NoError(t, tx.Rollback(ctxTx))
	assert.Equal(t, 1, countItems(t, db))
}

func TestGetTx_JoinedTransactionDefersToOwner(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	ctxTx, outer, err := db.GetTx(ctx, nil)
	require.NoError(t, err)

	joinedCtx, inner, err := db.GetTx(ctxTx, nil)
	require.NoError(t, err)
	_, err = db.Executor(joinedCtx).ExecContext(joinedCtx, "INSERT INTO item (id) VALUES ('c')")
	require.NoError(t, err)

	require.NoError(t, inner.Commit(joinedCtx))
	assert.True(t, outer.IsOpen(), "joined commit must not close the owner's transaction")

	require.NoError(t, outer.Rollback(ctxTx))
	assert.False(t, inner.IsOpen())
	assert.Equal(t, 0, countItems(t, db))
}

func TestRowsPerStatement(t *testing.T) {
	assert.Equal(t, 500, RowsPerStatement(sqlbuilder.PostgreSQL, 4, 500))
	assert.Equal(t, 32766/3, RowsPerStatement(sqlbuilder.SQLite, 3, 100000))
	assert.Equal(t, 1, RowsPerStatement(sqlbuilder.SQLite, 50000, 10))
}

func TestJSON_ScanValue(t *testing.T) {
	in := NewJSON(map[string]int64{"gene": 3})
	v, err := in.Value()
	require.NoError(t, err)

	var out JSON[map[string]int64]
	require.NoError(t, out.Scan(v))
	assert.Equal(t, int64(3), out.Data["gene"])

	require.NoError(t, out.Scan([]byte(`{"x":1}`)))
	assert.Equal(t, int64(1), out.Data["x"])

	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out.Data)
}
