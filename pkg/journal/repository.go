package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "journal:repository"

// Repository provides access to the call journal.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AppendCall inserts rec and fills in its ID.
func (r *Repository) AppendCall(ctx context.Context, rec *CallRecord) error {
	var params interface{}
	if len(rec.Params) > 0 {
		params = string(rec.Params)
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO call_journal
		   (worker_id, request_id, method, params, ok, error_code, error_message, duration_us, created)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)
		 RETURNING id`,
		rec.WorkerID, rec.RequestID, rec.Method, params, rec.OK,
		rec.ErrorCode, rec.ErrorMessage, rec.DurationUS, rec.Created,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("%s - append call [id:%d] failed: %w", repoLogPrefix, rec.RequestID, err)
	}
	return nil
}

// RecentCalls returns up to limit records for workerID, newest first.
func (r *Repository) RecentCalls(ctx context.Context, workerID string, limit int) ([]CallRecord, error) {
	slog.Debug(fmt.Sprintf("%s - RecentCalls worker=%s limit=%d", repoLogPrefix, workerID, limit))
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, worker_id, request_id, method, params, ok, error_code, error_message, duration_us, created
		 FROM call_journal
		 WHERE worker_id = $1
		 ORDER BY created DESC, id DESC
		 LIMIT $2`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - recent calls query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCallRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - recent calls rows failed: %w", repoLogPrefix, err)
	}
	return out, nil
}

// CountByMethod returns how many calls of each method workerID has journaled.
func (r *Repository) CountByMethod(ctx context.Context, workerID string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT method, COUNT(*) FROM call_journal WHERE worker_id = $1 GROUP BY method`, workerID)
	if err != nil {
		return nil, fmt.Errorf("%s - count by method failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var method string
		var n int64
		if err := rows.Scan(&method, &n); err != nil {
			return nil, fmt.Errorf("%s - scan count failed: %w", repoLogPrefix, err)
		}
		counts[method] = n
	}
	return counts, rows.Err()
}

// Prune deletes journal rows created before cutoff and returns how many were
// removed. An empty workerID prunes every worker.
func (r *Repository) Prune(ctx context.Context, workerID string, cutoff time.Time) (int64, error) {
	slog.Info(fmt.Sprintf("%s - Pruning calls before %s worker=%q", repoLogPrefix, cutoff.Format(time.RFC3339), workerID))

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM call_journal WHERE created < $1 AND ($2 = '' OR worker_id = $2)`,
		cutoff, workerID)
	if err != nil {
		return 0, fmt.Errorf("%s - prune failed: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected(), nil
}

func scanCallRecord(row pgx.Row) (*CallRecord, error) {
	var rec CallRecord
	var params []byte
	err := row.Scan(
		&rec.ID, &rec.WorkerID, &rec.RequestID, &rec.Method, &params, &rec.OK,
		&rec.ErrorCode, &rec.ErrorMessage, &rec.DurationUS, &rec.Created,
	)
	if err != nil {
		return nil, fmt.Errorf("%s - scan call record failed: %w", repoLogPrefix, err)
	}
	rec.Params = params
	return &rec, nil
}
