package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode"

	"itinerary_pipeline/internal/config"
	"itinerary_pipeline/internal/domain"
)

// ExtractionService turns raw captures into structured candidate
// training records and parks them for human review.
type ExtractionService struct {
	raws      RawItineraryStore
	processed ProcessedStore
	sources   SourceStore
	extractor Extractor
	txManager TransactionManager
	notifier  Notifier
	logger    *slog.Logger
	config    config.ExtractorConfig
}

func NewExtractionService(
	raws RawItineraryStore,
	processed ProcessedStore,
	sources SourceStore,
	extractor Extractor,
	txManager TransactionManager,
	notifier Notifier,
	logger *slog.Logger,
	cfg config.ExtractorConfig,
) *ExtractionService {
	return &ExtractionService{
		raws:      raws,
		processed: processed,
		sources:   sources,
		extractor: extractor,
		txManager: txManager,
		notifier:  notifier,
		logger:    logger.With("service", "extraction"),
		config:    cfg,
	}
}

func (s *ExtractionService) Name() string { return "extraction" }

// Run drains one bounded batch of unprocessed captures. Implements the
// scheduler's Runner.
func (s *ExtractionService) Run(ctx context.Context) (domain.BatchStats, error) {
	return s.ProcessPendingRawItineraries(ctx)
}

func (s *ExtractionService) ProcessPendingRawItineraries(ctx context.Context) (domain.BatchStats, error) {
	var stats domain.BatchStats

	pending, err := s.raws.ListUnprocessed(ctx, s.config.MaxRawItems)
	if err != nil {
		return stats, fmt.Errorf("list unprocessed: %w", err)
	}

	for i := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		stats.Processed++
		if _, err := s.ProcessRawItinerary(ctx, &pending[i], false); err != nil {
			stats.Failed++
			s.logger.Error("extraction failed", "raw_id", pending[i].ID, "error", err)
		} else {
			stats.Succeeded++
		}
	}

	s.logger.Info("extraction pass completed",
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)

	return stats, nil
}

// ProcessRawItinerary extracts one capture and upserts its processed
// record, resetting it to pending_review. Already-processed captures are
// skipped unless force is set. Extraction errors are persisted on the
// raw record so the capture leaves the pending pool.
func (s *ExtractionService) ProcessRawItinerary(ctx context.Context, raw *domain.RawItinerary, force bool) (*domain.ProcessedItinerary, error) {
	if raw.IsProcessed && !force {
		s.logger.Warn("raw itinerary already processed, skipping", "raw_id", raw.ID)
		return nil, nil
	}

	operatorName := s.operatorName(ctx, raw)

	result, err := s.extractor.Extract(ctx, raw.RawText, raw.SourceURL, operatorName)
	if err != nil {
		if setErr := s.raws.SetError(ctx, raw.ID, err.Error()); setErr != nil {
			s.logger.Error("failed to persist processing error", "raw_id", raw.ID, "error", setErr)
		}
		return nil, err
	}

	p := buildProcessed(raw, result)

	var created bool
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		id, wasCreated, err := s.processed.UpsertForRaw(txCtx, p)
		if err != nil {
			return fmt.Errorf("upsert processed itinerary: %w", err)
		}
		p.ID = id
		created = wasCreated

		if err := s.raws.MarkProcessed(txCtx, raw.ID); err != nil {
			return fmt.Errorf("mark raw processed: %w", err)
		}
		return nil
	})
	if err != nil {
		if setErr := s.raws.SetError(ctx, raw.ID, err.Error()); setErr != nil {
			s.logger.Error("failed to persist processing error", "raw_id", raw.ID, "error", setErr)
		}
		return nil, err
	}

	s.logger.Info("raw itinerary processed",
		"raw_id", raw.ID,
		"processed_id", p.ID,
		"created", created,
		"title", p.Title,
	)

	if s.notifier != nil {
		if err := s.notifier.PendingReview(ctx, p, created); err != nil {
			s.logger.Error("pending review notification failed", "processed_id", p.ID, "error", err)
		}
	}

	return p, nil
}

// IngestUploadedText lands operator-supplied text as a raw capture. The
// next extraction pass picks it up like any scraped page.
func (s *ExtractionService) IngestUploadedText(ctx context.Context, uploadRef, title, text string) (int64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("uploaded text is empty")
	}

	raw := &domain.RawItinerary{
		SourceType: domain.SourceUploaded,
		UploadRef:  &uploadRef,
		RawText:    text,
		PageTitle:  title,
	}

	id, err := s.raws.Create(ctx, raw)
	if err != nil {
		return 0, fmt.Errorf("create raw itinerary: %w", err)
	}

	s.logger.Info("uploaded text ingested", "raw_id", id, "upload_ref", uploadRef)
	return id, nil
}

// operatorName resolves who operates the tour: the registered source
// name when the capture has one, otherwise a cleaned-up URL host.
func (s *ExtractionService) operatorName(ctx context.Context, raw *domain.RawItinerary) string {
	if raw.SourceID != nil {
		source, err := s.sources.Get(ctx, *raw.SourceID)
		if err == nil && source.Name != "" {
			return source.Name
		}
	}
	if raw.SourceURL != "" {
		if name := operatorFromHost(raw.SourceURL); name != "" {
			return name
		}
	}
	return "Unknown Operator"
}

func operatorFromHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Host, "www.")
	host = strings.TrimSuffix(host, ".co.tz")
	host = strings.TrimSuffix(host, ".com")

	var b strings.Builder
	upperNext := true
	for _, r := range host {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upperNext = true
			b.WriteRune(r)
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// buildProcessed flattens the extraction payload into review columns.
// TrainingJSON keeps the model's verbatim output; the flattened fields
// exist for the review surface and legacy export.
func buildProcessed(raw *domain.RawItinerary, result *domain.ExtractionResult) *domain.ProcessedItinerary {
	data := result.Data

	var accommodations domain.AccommodationList
	var activities domain.StringList
	seen := make(map[string]struct{})
	for _, day := range data.ItineraryStructure.Days {
		if day.AccommodationName != "" {
			accommodations = append(accommodations, domain.Accommodation{
				Name:     day.AccommodationName,
				Type:     day.AccommodationType,
				Location: day.Location,
			})
		}
		for _, a := range day.Activities {
			if a == "" {
				continue
			}
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			activities = append(activities, a)
		}
	}

	var firstQuestion string
	if len(data.DerivedUserQuestions) > 0 {
		firstQuestion = data.DerivedUserQuestions[0]
	}

	var durationDays *int
	if days := data.Duration.ActivityDays; days > 0 {
		durationDays = &days
	} else if days := data.Duration.TotalProgramDays; days > 0 {
		durationDays = &days
	}

	title := data.TourIdentity.TourTitle
	if title == "" {
		title = raw.PageTitle
	}
	if title == "" {
		title = "Untitled"
	}

	var destinations domain.StringList
	if data.Destination != "" {
		destinations = domain.StringList{data.Destination}
	}

	groupType := "Private"
	if avail, ok := data.UserFlexibility["group_tour_available"].(bool); ok && avail {
		groupType = "Group"
	}

	var price *domain.Decimal
	if data.Pricing.PricePerPersonUSD != nil {
		d := domain.DecimalFromFloat(*data.Pricing.PricePerPersonUSD)
		price = &d
	}

	itineraryJSON, _ := json.Marshal(data.ItineraryStructure)

	return &domain.ProcessedItinerary{
		RawItineraryID:       raw.ID,
		GeneratedInstruction: firstQuestion,
		Title:                title,
		DestinationCountry:   data.Country,
		Destinations:         destinations,
		DurationDays:         durationDays,
		BudgetLevel:          "mid_range",
		EstimatedPriceUSD:    price,
		TripType:             data.TourIdentity.TourCategory,
		GroupType:            groupType,
		ItineraryJSON:        itineraryJSON,
		Inclusions:           domain.StringList(data.Inclusions),
		Exclusions:           domain.StringList(data.Exclusions),
		Accommodations:       accommodations,
		Activities:           activities,
		TrainingJSON:         result.RawJSON,
		Status:               domain.StatusPendingReview,
		ModelUsed:            result.Model,
		ProcessingSeconds:    result.Latency.Seconds(),
		TokensUsed:           result.TokensUsed,
	}
}
