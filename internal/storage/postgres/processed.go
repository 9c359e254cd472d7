package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"itinerary_pipeline/internal/domain"
)

type ProcessedStore struct {
	db *sqlx.DB
}

func NewProcessedStore(db *sqlx.DB) *ProcessedStore {
	return &ProcessedStore{db: db}
}

// selectWithSource joins the owning raw capture so callers get the
// original page URL alongside the processed record.
const selectWithSource = `
	SELECT p.*, COALESCE(r.source_url, '') AS source_url
	FROM processed_itineraries p
	LEFT JOIN raw_itineraries r ON r.id = p.raw_itinerary_id`

// UpsertForRaw writes the extraction output for a raw capture. A repeat
// extraction replaces the previous output and drops the record back to
// pending_review; reviewer fields survive so the audit trail stays
// intact. Reports whether a new row was created.
func (s *ProcessedStore) UpsertForRaw(ctx context.Context, p *domain.ProcessedItinerary) (int64, bool, error) {
	ex := GetExecutor(ctx, s.db)

	var existingID int64
	err := ex.QueryRowxContext(ctx,
		`SELECT id FROM processed_itineraries WHERE raw_itinerary_id = $1`,
		p.RawItineraryID,
	).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}
	created := errors.Is(err, sql.ErrNoRows)

	query := `
		INSERT INTO processed_itineraries (
			raw_itinerary_id, generated_instruction, title, destination_country,
			destinations, duration_days, budget_level, estimated_price_usd,
			trip_type, group_type, itinerary_json, inclusions, exclusions,
			accommodations, activities, training_json, status, model_used,
			processing_seconds, tokens_used
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		ON CONFLICT (raw_itinerary_id) DO UPDATE SET
			generated_instruction = EXCLUDED.generated_instruction,
			title = EXCLUDED.title,
			destination_country = EXCLUDED.destination_country,
			destinations = EXCLUDED.destinations,
			duration_days = EXCLUDED.duration_days,
			budget_level = EXCLUDED.budget_level,
			estimated_price_usd = EXCLUDED.estimated_price_usd,
			trip_type = EXCLUDED.trip_type,
			group_type = EXCLUDED.group_type,
			itinerary_json = EXCLUDED.itinerary_json,
			inclusions = EXCLUDED.inclusions,
			exclusions = EXCLUDED.exclusions,
			accommodations = EXCLUDED.accommodations,
			activities = EXCLUDED.activities,
			training_json = EXCLUDED.training_json,
			status = EXCLUDED.status,
			model_used = EXCLUDED.model_used,
			processing_seconds = EXCLUDED.processing_seconds,
			tokens_used = EXCLUDED.tokens_used,
			updated_at = NOW()
		RETURNING id`

	var id int64
	err = ex.QueryRowxContext(ctx, query,
		p.RawItineraryID,
		p.GeneratedInstruction,
		p.Title,
		p.DestinationCountry,
		p.Destinations,
		p.DurationDays,
		p.BudgetLevel,
		p.EstimatedPriceUSD,
		p.TripType,
		p.GroupType,
		jsonArg(p.ItineraryJSON),
		p.Inclusions,
		p.Exclusions,
		p.Accommodations,
		p.Activities,
		jsonArg(p.TrainingJSON),
		domain.StatusPendingReview,
		p.ModelUsed,
		p.ProcessingSeconds,
		p.TokensUsed,
	).Scan(&id)
	if err != nil {
		return 0, false, err
	}

	return id, created, nil
}

func (s *ProcessedStore) Get(ctx context.Context, id int64) (*domain.ProcessedItinerary, error) {
	var p domain.ProcessedItinerary
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &p,
		selectWithSource+` WHERE p.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProcessedStore) ListByStatus(ctx context.Context, status domain.ReviewStatus) ([]domain.ProcessedItinerary, error) {
	var items []domain.ProcessedItinerary
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &items,
		selectWithSource+` WHERE p.status = $1 ORDER BY p.created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *ProcessedStore) UpdateReview(ctx context.Context, id int64, status domain.ReviewStatus, reviewer, notes string, reviewedAt *time.Time) error {
	return s.exec(ctx,
		`UPDATE processed_itineraries
		 SET status = $2, reviewer = $3, reviewer_notes = $4, reviewed_at = $5, updated_at = NOW()
		 WHERE id = $1`,
		id, status, reviewer, notes, reviewedAt)
}

// UpdateEdits persists the reviewer-editable fields of a record.
func (s *ProcessedStore) UpdateEdits(ctx context.Context, p *domain.ProcessedItinerary) error {
	return s.exec(ctx,
		`UPDATE processed_itineraries
		 SET generated_instruction = $2, title = $3, destination_country = $4,
		     duration_days = $5, budget_level = $6, trip_type = $7,
		     training_json = $8, updated_at = NOW()
		 WHERE id = $1`,
		p.ID,
		p.GeneratedInstruction,
		p.Title,
		p.DestinationCountry,
		p.DurationDays,
		p.BudgetLevel,
		p.TripType,
		jsonArg(p.TrainingJSON))
}

func (s *ProcessedStore) Delete(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM processed_itineraries WHERE id = $1`, id)
}

func (s *ProcessedStore) CountByStatus(ctx context.Context) (map[domain.ReviewStatus]int, error) {
	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM processed_itineraries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.ReviewStatus]int)
	for rows.Next() {
		var status domain.ReviewStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

func (s *ProcessedStore) exec(ctx context.Context, query string, args ...interface{}) error {
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

// jsonArg passes raw JSON as text so the server casts it to jsonb; a nil
// or empty message becomes SQL NULL.
func jsonArg(j json.RawMessage) interface{} {
	if len(j) == 0 {
		return nil
	}
	return string(j)
}
