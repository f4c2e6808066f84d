package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/tollgate/gateway/internal/metrics"
)

// DefaultQueryTimeout bounds individual ledger queries.
const DefaultQueryTimeout = 5 * time.Second

// Store is the durable ledger: an append-only request log plus the
// used-proof set that provides replay protection.
type Store struct {
	db      *sql.DB
	metrics *metrics.Metrics // optional
}

// SetMetrics attaches a metrics collector for query timing.
func (s *Store) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// NewStore creates the ledger over a shared connection pool and ensures
// the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

// createTables creates the ledger tables if they don't exist. Amounts are
// NUMERIC(38,0): 18-decimal base units overflow int64.
func (s *Store) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			service TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			payer TEXT NOT NULL DEFAULT '',
			network TEXT NOT NULL DEFAULT '',
			amount NUMERIC(38,0) NOT NULL DEFAULT 0,
			scheme TEXT NOT NULL DEFAULT '',
			upstream_status INT NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS used_tx_hashes (
			tx_hash TEXT PRIMARY KEY,
			payer TEXT NOT NULL DEFAULT '',
			amount NUMERIC(38,0) NOT NULL DEFAULT 0,
			network TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_requests_service ON requests(service);
		CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
		CREATE INDEX IF NOT EXISTS idx_requests_payer ON requests(payer);
		CREATE INDEX IF NOT EXISTS idx_used_tx_hashes_created ON used_tx_hashes(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// withQueryTimeout applies the default query deadline unless the caller
// already set one.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

// RecordProof atomically claims a payment proof. Returns true iff this
// call inserted the row; false means the proof was already used and the
// caller must reject the payment as replayed. Two concurrent verifiers of
// the same proof are serialized by the primary key, so exactly one wins.
func (s *Store) RecordProof(ctx context.Context, proofKey, payer string, amount *big.Int, network string) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "record_proof")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	amountStr := "0"
	if amount != nil {
		amountStr = amount.String()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO used_tx_hashes (tx_hash, payer, amount, network, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tx_hash) DO NOTHING
	`, proofKey, payer, amountStr, network, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record proof: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows == 1, nil
}

// IsProofUsed is a non-locking existence probe. It is a cheap fast path
// only; admission authority is RecordProof.
func (s *Store) IsProofUsed(ctx context.Context, proofKey string) (bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM used_tx_hashes WHERE tx_hash = $1)`, proofKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check proof used: %w", err)
	}
	return exists, nil
}

// Stats summarizes ledger volume.
type Stats struct {
	TotalRequests  int64 `json:"totalRequests"`
	TotalProofs    int64 `json:"totalProofs"`
	RequestsLast24 int64 `json:"requestsLast24h"`
}

// Stats returns approximate totals from the planner catalog (reltuples
// avoids sequential scans on large tables) plus an exact bounded count
// for the last 24 hours.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT GREATEST(reltuples::BIGINT, 0) FROM pg_class WHERE relname = 'requests'
	`).Scan(&stats.TotalRequests)
	if err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("requests estimate: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT GREATEST(reltuples::BIGINT, 0) FROM pg_class WHERE relname = 'used_tx_hashes'
	`).Scan(&stats.TotalProofs)
	if err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("proofs estimate: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requests WHERE created_at > NOW() - INTERVAL '1 day'
	`).Scan(&stats.RequestsLast24)
	if err != nil {
		return stats, fmt.Errorf("recent count: %w", err)
	}

	return stats, nil
}

// CleanupOldRequests deletes request log rows older than the retention
// window. Proofs are never pruned; the anti-replay set must survive.
func (s *Store) CleanupOldRequests(ctx context.Context, days int) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	deadline := time.Now().UTC().AddDate(0, 0, -days)
	result, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE created_at < $1`, deadline)
	if err != nil {
		return 0, fmt.Errorf("cleanup old requests: %w", err)
	}
	return result.RowsAffected()
}

// insertRequests writes a batch of request log entries in one multi-row
// INSERT. Conflicting IDs are ignored; the log is observability, not
// accounting.
func (s *Store) insertRequests(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	defer metrics.MeasureDBQuery(s.metrics, "insert_requests")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query, args := buildRequestInsert(entries)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// buildRequestInsert renders the multi-row statement for a batch.
func buildRequestInsert(entries []Entry) (string, []interface{}) {
	const cols = 10

	var sb strings.Builder
	sb.WriteString(`INSERT INTO requests (id, service, endpoint, payer, network, amount, scheme, upstream_status, latency_ms, created_at) VALUES `)

	args := make([]interface{}, 0, len(entries)*cols)
	placeholders := make([]string, 0, len(entries))

	for i, e := range entries {
		offset := i * cols
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			offset+1, offset+2, offset+3, offset+4, offset+5, offset+6, offset+7, offset+8, offset+9, offset+10))

		amount := "0"
		if e.Amount != "" {
			amount = e.Amount
		}
		args = append(args,
			e.ID, e.Service, e.Endpoint, e.Payer, e.Network,
			amount, e.Scheme, e.UpstreamStatus, e.LatencyMS, e.CreatedAt.UTC(),
		)
	}

	sb.WriteString(strings.Join(placeholders, ", "))
	sb.WriteString(` ON CONFLICT (id) DO NOTHING`)
	return sb.String(), args
}
