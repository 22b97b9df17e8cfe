package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/desengine/internal/resilience"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db, retryConfig: resilience.DefaultRetryConfig(), circuit: resilience.New(resilience.DefaultConfig())}, mock
}

func TestSaveReplicationBatchInsertsRow(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectExec("INSERT INTO replication_batches").WillReturnResult(sqlmock.NewResult(1, 1))

	batch, err := store.SaveReplicationBatch(context.Background(), ReplicationBatch{
		ModelName: "mm1",
		N:         30,
		BaseSeed:  1,
		RunLength: 10000,
		Warmup:    1000,
		Outputs:   map[string]interface{}{"wait": 4.0},
	})
	require.NoError(t, err)
	require.NotEmpty(t, batch.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReplicationBatchScansRow(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "model_name", "n", "base_seed", "run_length", "warmup", "outputs", "created_at"}).
		AddRow("batch-1", "mm1", 30, int64(1), 10000.0, 1000.0, []byte(`{"wait":4.0}`), now)
	mock.ExpectQuery("SELECT id, model_name").WillReturnRows(rows)

	batch, err := store.GetReplicationBatch(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, "mm1", batch.ModelName)
	require.Equal(t, 30, batch.N)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListReplicationBatchesReturnsMultipleRows(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "model_name", "n", "base_seed", "run_length", "warmup", "outputs", "created_at"}).
		AddRow("b1", "mm1", 30, int64(1), 10000.0, 1000.0, []byte(`{}`), now).
		AddRow("b2", "mm1", 30, int64(2), 10000.0, 1000.0, []byte(`{}`), now)
	mock.ExpectQuery("SELECT id, model_name").WillReturnRows(rows)

	batches, err := store.ListReplicationBatches(context.Background(), "mm1", 10)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
