package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/trading-simulator/internal/db/conf"
)

func newTestPostgres(t *testing.T) *Default {
	t.Helper()
	c, cleanup := conf.NewTestConfig(t)
	t.Cleanup(cleanup)
	p, err := New(*c)
	require.NoError(t, err)
	return p
}

func TestPostgresStorage(t *testing.T) {
	runStorageSuite(t, newTestPostgres(t))
}

func TestNewRequiresDB(t *testing.T) {
	_, err := New(conf.Config{})
	assert.Error(t, err)
}

func TestPostgresSaveLedgerJoinsContextTransaction(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	tx, err := p.GetDB().BeginTx(ctx, nil)
	require.NoError(t, err)
	txCtx := WithTransaction(ctx, tx)
	assert.Same(t, tx, GetTransaction(txCtx))

	_, err = p.SaveLedger(txCtx, "trd_tx", 0, []byte(`{"cash":1}`))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = p.LoadLedger(ctx, "trd_tx")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetTransactionWithoutTx(t *testing.T) {
	assert.Nil(t, GetTransaction(context.Background()))
	var tx *sql.Tx
	assert.Nil(t, GetTransaction(WithTransaction(context.Background(), tx)))
}
