package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"itinerary_pipeline/internal/domain"
)

type SourceStore struct {
	db *sqlx.DB
}

func NewSourceStore(db *sqlx.DB) *SourceStore {
	return &SourceStore{db: db}
}

func (s *SourceStore) Create(ctx context.Context, source *domain.ScrapingSource) (int64, error) {
	query := `
		INSERT INTO scraping_sources (
			name, base_url, requires_javascript, rate_limit_seconds, is_active
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		source.Name,
		source.BaseURL,
		source.RequiresJavascript,
		source.RateLimitSeconds,
		source.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *SourceStore) Get(ctx context.Context, id int64) (*domain.ScrapingSource, error) {
	var source domain.ScrapingSource
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &source,
		`SELECT * FROM scraping_sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

// RecordScrape bumps the source's scrape counter and stamps the time of
// the last successful fetch. The increment happens in SQL so concurrent
// workers never lose updates.
func (s *SourceStore) RecordScrape(ctx context.Context, id int64) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE scraping_sources
		 SET total_scraped = total_scraped + 1, last_scraped_at = NOW()
		 WHERE id = $1`, id)
	return err
}
