// Package postgres persists replication batch summaries so a host
// process can look up past runs without re-simulating them. Grounded
// on the corpus's database/sql + lib/pq connection pattern and
// Store-wrapping-*sql.DB shape; the lib/pq driver is registered for
// its side effect, exactly as the corpus's platform database package
// does.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/R3E-Network/desengine/internal/resilience"
)

// Store persists and retrieves replication batch summaries.
type Store struct {
	db           *sql.DB
	retryConfig  resilience.RetryConfig
	circuit      *resilience.CircuitBreaker
}

// Open establishes a PostgreSQL connection using dsn and verifies
// connectivity with a ping. The returned Store must be closed by the
// caller via Close.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{
		db:          db,
		retryConfig: resilience.DefaultRetryConfig(),
		circuit:     resilience.New(resilience.DefaultConfig()),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplicationBatch is one persisted replication batch record.
type ReplicationBatch struct {
	ID          string
	ModelName   string
	N           int
	BaseSeed    int64
	RunLength   float64
	Warmup      float64
	Outputs     map[string]interface{} // metric name -> summary, stored as JSONB
	CreatedAt   time.Time
}

// SaveReplicationBatch inserts a completed batch's summary, wrapped in
// the shared retry policy and circuit breaker. It is the only call
// wrapped this way; the Redis cache calls are not.
func (s *Store) SaveReplicationBatch(ctx context.Context, batch ReplicationBatch) (ReplicationBatch, error) {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	batch.CreatedAt = time.Now().UTC()

	outputsJSON, err := json.Marshal(batch.Outputs)
	if err != nil {
		return ReplicationBatch{}, fmt.Errorf("postgres: marshal outputs: %w", err)
	}

	err = s.circuit.Execute(ctx, func() error {
		return resilience.Retry(ctx, s.retryConfig, func() error {
			_, execErr := s.db.ExecContext(ctx, `
				INSERT INTO replication_batches
					(id, model_name, n, base_seed, run_length, warmup, outputs, created_at)
				VALUES
					($1, $2, $3, $4, $5, $6, $7, $8)
			`, batch.ID, batch.ModelName, batch.N, batch.BaseSeed, batch.RunLength, batch.Warmup, outputsJSON, batch.CreatedAt)
			return execErr
		})
	})
	if err != nil {
		return ReplicationBatch{}, err
	}
	return batch, nil
}

// GetReplicationBatch loads one batch by id.
func (s *Store) GetReplicationBatch(ctx context.Context, id string) (ReplicationBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, model_name, n, base_seed, run_length, warmup, outputs, created_at
		FROM replication_batches
		WHERE id = $1
	`, id)
	return scanBatch(row)
}

// ListReplicationBatches returns the most recent batches for a model,
// newest first.
func (s *Store) ListReplicationBatches(ctx context.Context, modelName string, limit int) ([]ReplicationBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_name, n, base_seed, run_length, warmup, outputs, created_at
		FROM replication_batches
		WHERE model_name = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, modelName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []ReplicationBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(scanner rowScanner) (ReplicationBatch, error) {
	var (
		batch       ReplicationBatch
		outputsRaw  []byte
	)
	if err := scanner.Scan(&batch.ID, &batch.ModelName, &batch.N, &batch.BaseSeed, &batch.RunLength, &batch.Warmup, &outputsRaw, &batch.CreatedAt); err != nil {
		return ReplicationBatch{}, err
	}
	if len(outputsRaw) > 0 {
		if err := json.Unmarshal(outputsRaw, &batch.Outputs); err != nil {
			return ReplicationBatch{}, err
		}
	}
	return batch, nil
}
