package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"itinerary_pipeline/internal/domain"
)

// ReviewService drives the human review state machine over processed
// itineraries.
type ReviewService struct {
	processed ProcessedStore
	raws      RawItineraryStore
	txManager TransactionManager
	logger    *slog.Logger

	now func() time.Time
}

func NewReviewService(
	processed ProcessedStore,
	raws RawItineraryStore,
	txManager TransactionManager,
	logger *slog.Logger,
) *ReviewService {
	return &ReviewService{
		processed: processed,
		raws:      raws,
		txManager: txManager,
		logger:    logger.With("service", "review"),
		now:       time.Now,
	}
}

// ReviewEdits carries the reviewer-editable fields. Empty strings and
// nil values leave the stored field untouched.
type ReviewEdits struct {
	Title                string
	DestinationCountry   string
	DurationDays         *int
	BudgetLevel          string
	TripType             string
	DerivedUserQuestions []string
}

// Approve marks a record ready for export and stamps the reviewer and
// review time.
func (s *ReviewService) Approve(ctx context.Context, id int64, reviewer, notes string) error {
	return s.review(ctx, id, domain.StatusApproved, reviewer, notes)
}

// Reject takes a record out of the export pool permanently.
func (s *ReviewService) Reject(ctx context.Context, id int64, reviewer, notes string) error {
	return s.review(ctx, id, domain.StatusRejected, reviewer, notes)
}

// RequestRevision flags a record for rework. The reviewer is stamped but
// the review time stays empty until a terminal decision.
func (s *ReviewService) RequestRevision(ctx context.Context, id int64, reviewer, notes string) error {
	if err := s.processed.UpdateReview(ctx, id, domain.StatusNeedsRevision, reviewer, notes, nil); err != nil {
		return fmt.Errorf("request revision for %d: %w", id, err)
	}
	s.logger.Info("revision requested", "processed_id", id, "reviewer", reviewer)
	return nil
}

func (s *ReviewService) review(ctx context.Context, id int64, status domain.ReviewStatus, reviewer, notes string) error {
	now := s.now()
	if err := s.processed.UpdateReview(ctx, id, status, reviewer, notes, &now); err != nil {
		return fmt.Errorf("update review for %d: %w", id, err)
	}
	s.logger.Info("review recorded", "processed_id", id, "status", status, "reviewer", reviewer)
	return nil
}

// SaveEdits applies reviewer corrections. Edited questions also replace
// derived_user_questions inside the stored training payload, so export
// sees the corrected version.
func (s *ReviewService) SaveEdits(ctx context.Context, id int64, edits ReviewEdits) (*domain.ProcessedItinerary, error) {
	p, err := s.processed.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get processed itinerary %d: %w", id, err)
	}

	if edits.Title != "" {
		p.Title = edits.Title
	}
	if edits.DestinationCountry != "" {
		p.DestinationCountry = edits.DestinationCountry
	}
	if edits.DurationDays != nil {
		p.DurationDays = edits.DurationDays
	}
	if edits.BudgetLevel != "" {
		p.BudgetLevel = edits.BudgetLevel
	}
	if edits.TripType != "" {
		p.TripType = edits.TripType
	}

	if len(edits.DerivedUserQuestions) > 0 {
		p.GeneratedInstruction = edits.DerivedUserQuestions[0]

		if len(p.TrainingJSON) > 0 {
			var payload map[string]any
			if err := json.Unmarshal(p.TrainingJSON, &payload); err != nil {
				return nil, fmt.Errorf("decode training payload for %d: %w", id, err)
			}
			payload["derived_user_questions"] = edits.DerivedUserQuestions
			updated, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode training payload for %d: %w", id, err)
			}
			p.TrainingJSON = updated
		}
	}

	if err := s.processed.UpdateEdits(ctx, p); err != nil {
		return nil, fmt.Errorf("save edits for %d: %w", id, err)
	}

	s.logger.Info("edits saved", "processed_id", id)
	return p, nil
}

// DeleteProcessed removes a processed record and returns its raw capture
// to the extraction pool so it can be re-extracted.
func (s *ReviewService) DeleteProcessed(ctx context.Context, id int64) error {
	p, err := s.processed.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get processed itinerary %d: %w", id, err)
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.raws.SetUnprocessed(txCtx, p.RawItineraryID); err != nil {
			return fmt.Errorf("reset raw itinerary: %w", err)
		}
		if err := s.processed.Delete(txCtx, id); err != nil {
			return fmt.Errorf("delete processed itinerary: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("processed itinerary deleted", "processed_id", id, "raw_id", p.RawItineraryID)
	return nil
}

// DeleteRaw removes a capture entirely; the database cascades to any
// processed record.
func (s *ReviewService) DeleteRaw(ctx context.Context, id int64) error {
	if err := s.raws.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete raw itinerary %d: %w", id, err)
	}
	s.logger.Info("raw itinerary deleted", "raw_id", id)
	return nil
}

func (s *ReviewService) Get(ctx context.Context, id int64) (*domain.ProcessedItinerary, error) {
	return s.processed.Get(ctx, id)
}

func (s *ReviewService) ListByStatus(ctx context.Context, status domain.ReviewStatus) ([]domain.ProcessedItinerary, error) {
	return s.processed.ListByStatus(ctx, status)
}

// Stats snapshots the review pipeline by status.
func (s *ReviewService) Stats(ctx context.Context) (*domain.PipelineStats, error) {
	counts, err := s.processed.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	stats := &domain.PipelineStats{ByStatus: counts}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}
