package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"itinerary_pipeline/internal/domain"
)

type RawItineraryStore struct {
	db *sqlx.DB
}

func NewRawItineraryStore(db *sqlx.DB) *RawItineraryStore {
	return &RawItineraryStore{db: db}
}

func (s *RawItineraryStore) Create(ctx context.Context, raw *domain.RawItinerary) (int64, error) {
	query := `
		INSERT INTO raw_itineraries (
			source_type, source_id, upload_ref, source_url, raw_html, raw_text,
			page_title, meta_description, meta_keywords
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		raw.SourceType,
		raw.SourceID,
		raw.UploadRef,
		raw.SourceURL,
		raw.RawHTML,
		raw.RawText,
		raw.PageTitle,
		raw.MetaDescription,
		raw.MetaKeywords,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *RawItineraryStore) Get(ctx context.Context, id int64) (*domain.RawItinerary, error) {
	var raw domain.RawItinerary
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &raw,
		`SELECT * FROM raw_itineraries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &raw, nil
}

// ListUnprocessed returns captures that have neither been extracted nor
// failed extraction, oldest first. Records carrying a processing error
// stay out of the batch until an operator clears them.
func (s *RawItineraryStore) ListUnprocessed(ctx context.Context, limit int) ([]domain.RawItinerary, error) {
	var raws []domain.RawItinerary
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &raws,
		`SELECT * FROM raw_itineraries
		 WHERE is_processed = FALSE AND processing_error = ''
		 ORDER BY created_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return raws, nil
}

func (s *RawItineraryStore) MarkProcessed(ctx context.Context, id int64) error {
	return s.exec(ctx,
		`UPDATE raw_itineraries SET is_processed = TRUE, processing_error = '' WHERE id = $1`, id)
}

func (s *RawItineraryStore) SetError(ctx context.Context, id int64, message string) error {
	return s.exec(ctx,
		`UPDATE raw_itineraries SET processing_error = $2 WHERE id = $1`, id, message)
}

// SetUnprocessed returns a capture to the extraction pool, used when its
// processed counterpart is deleted during review.
func (s *RawItineraryStore) SetUnprocessed(ctx context.Context, id int64) error {
	return s.exec(ctx,
		`UPDATE raw_itineraries SET is_processed = FALSE, processing_error = '' WHERE id = $1`, id)
}

func (s *RawItineraryStore) Delete(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM raw_itineraries WHERE id = $1`, id)
}

func (s *RawItineraryStore) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...)
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
