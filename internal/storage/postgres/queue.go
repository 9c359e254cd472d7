package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"itinerary_pipeline/internal/domain"
)

type QueueStore struct {
	db *sqlx.DB
}

func NewQueueStore(db *sqlx.DB) *QueueStore {
	return &QueueStore{db: db}
}

// Enqueue inserts a URL for its source. A URL already queued for the
// same source is left untouched and reported as id 0.
func (s *QueueStore) Enqueue(ctx context.Context, item *domain.ScrapeQueueItem) (int64, error) {
	query := `
		INSERT INTO scrape_queue (source_id, url, status, priority, max_retries)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id, url) DO NOTHING
		RETURNING id`

	status := item.Status
	if status == "" {
		status = domain.QueuePending
	}
	maxRetries := item.MaxRetries
	if maxRetries == 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		item.SourceID, item.URL, status, item.Priority, maxRetries,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *QueueStore) ListPending(ctx context.Context, limit int) ([]domain.ScrapeQueueItem, error) {
	var items []domain.ScrapeQueueItem
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &items,
		`SELECT * FROM scrape_queue
		 WHERE status = 'pending'
		 ORDER BY priority DESC, created_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Claim flips a pending item to in_progress. The status predicate makes
// the claim atomic: of any number of concurrent workers exactly one sees
// a row updated.
func (s *QueueStore) Claim(ctx context.Context, id int64) (bool, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE scrape_queue SET status = 'in_progress'
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *QueueStore) Update(ctx context.Context, item *domain.ScrapeQueueItem) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE scrape_queue
		 SET status = $2, retry_count = $3, error_message = $4, processed_at = $5
		 WHERE id = $1`,
		item.ID, item.Status, item.RetryCount, item.ErrorMessage, item.ProcessedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Reset returns an item to the pending pool with a clean retry budget.
func (s *QueueStore) Reset(ctx context.Context, id int64) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE scrape_queue
		 SET status = 'pending', retry_count = 0, error_message = '', processed_at = NULL
		 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
