package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"itinerary_pipeline/internal/domain"
	"itinerary_pipeline/internal/sterilize"
)

// ExportService assembles approved itineraries into downloadable
// training files and records an immutable manifest per export.
type ExportService struct {
	processed ProcessedStore
	exports   ExportStore
	notifier  Notifier
	logger    *slog.Logger

	now func() time.Time
}

func NewExportService(
	processed ProcessedStore,
	exports ExportStore,
	notifier Notifier,
	logger *slog.Logger,
) *ExportService {
	return &ExportService{
		processed: processed,
		exports:   exports,
		notifier:  notifier,
		logger:    logger.With("service", "export"),
		now:       time.Now,
	}
}

// legacyRecord reconstructs the training schema from flattened review
// columns for records extracted before the structured payload existed.
type legacyRecord struct {
	SourceType                string            `json:"source_type"`
	OperatorName              string            `json:"operator_name"`
	Country                   string            `json:"country"`
	Destination               string            `json:"destination"`
	URL                       string            `json:"url"`
	ContentType               string            `json:"content_type"`
	TourIdentity              legacyIdentity    `json:"tour_identity"`
	ItineraryStructure        json.RawMessage   `json:"itinerary_structure"`
	Inclusions                domain.StringList `json:"inclusions"`
	Exclusions                domain.StringList `json:"exclusions"`
	Pricing                   legacyPricing     `json:"pricing"`
	AssumptionsAndFlexibility legacyFlexibility `json:"assumptions_and_flexibility"`
	RealisticCustomerQuestion string            `json:"realistic_customer_question"`
	DataQualityTags           legacyQuality     `json:"data_quality_tags"`
}

type legacyIdentity struct {
	TourTitle      string `json:"tour_title"`
	TourCategory   string `json:"tour_category"`
	DurationDays   *int   `json:"duration_days"`
	DurationNights *int   `json:"duration_nights"`
	LocationFocus  string `json:"location_focus"`
}

type legacyPricing struct {
	PriceDisplayed    bool            `json:"price_displayed"`
	PricePerPersonUSD *domain.Decimal `json:"price_per_person_usd"`
	Currency          *string         `json:"currency"`
	PriceNotes        string          `json:"price_notes"`
}

type legacyFlexibility struct {
	DatesFlexible           bool `json:"dates_flexible"`
	AccommodationChangeable bool `json:"accommodation_changeable"`
	ActivitiesChangeable    bool `json:"activities_changeable"`
	PrivateTour             bool `json:"private_tour"`
}

type legacyQuality struct {
	Structured             bool   `json:"structured"`
	MarketingLanguage      string `json:"marketing_language"`
	OperationalDetailLevel string `json:"operational_detail_level"`
	SourceReliability      string `json:"source_reliability"`
}

// ExportStructured writes every approved record's structured payload in
// the requested format (jsonl or json). Records without the structured
// payload are reconstructed from their review columns.
func (s *ExportService) ExportStructured(ctx context.Context, exportedBy, format string) (*domain.TrainingExport, error) {
	if format != "jsonl" && format != "json" {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}

	approved, err := s.processed.ListByStatus(ctx, domain.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("list approved: %w", err)
	}

	var records []json.RawMessage
	for i := range approved {
		record, err := s.structuredRecord(&approved[i])
		if err != nil {
			s.logger.Warn("skipping unexportable record", "processed_id", approved[i].ID, "error", err)
			continue
		}
		records = append(records, record)
	}

	var content []byte
	if format == "jsonl" {
		content = joinLines(records)
	} else {
		content, err = json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		if records == nil {
			content = []byte("[]")
		}
	}

	fileName := fmt.Sprintf("training_data_%s.%s", s.now().Format("20060102_150405"), format)

	return s.finish(ctx, &domain.TrainingExport{
		ExportedBy:  exportedBy,
		FileName:    fileName,
		RecordCount: len(records),
		Format:      format,
		Content:     content,
	})
}

// ExportSterilized writes approved records as sterilized
// instruction/response pairs, one JSON object per line. Records without
// a structured payload cannot be sterilized and are skipped.
func (s *ExportService) ExportSterilized(ctx context.Context, exportedBy string) (*domain.TrainingExport, error) {
	approved, err := s.processed.ListByStatus(ctx, domain.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("list approved: %w", err)
	}

	var records []json.RawMessage
	for i := range approved {
		p := &approved[i]
		if len(p.TrainingJSON) == 0 {
			s.logger.Warn("skipping record without structured payload", "processed_id", p.ID)
			continue
		}

		var data domain.TrainingData
		if err := json.Unmarshal(p.TrainingJSON, &data); err != nil {
			s.logger.Warn("skipping record with malformed payload", "processed_id", p.ID, "error", err)
			continue
		}

		record, err := json.Marshal(sterilize.ForTraining(data))
		if err != nil {
			s.logger.Warn("skipping unencodable record", "processed_id", p.ID, "error", err)
			continue
		}
		records = append(records, record)
	}

	fileName := fmt.Sprintf("sterilized_training_data_%s.jsonl", s.now().Format("20060102_150405"))

	return s.finish(ctx, &domain.TrainingExport{
		ExportedBy:  exportedBy,
		FileName:    fileName,
		RecordCount: len(records),
		Format:      "sterilized_jsonl",
		Content:     joinLines(records),
	})
}

func (s *ExportService) finish(ctx context.Context, export *domain.TrainingExport) (*domain.TrainingExport, error) {
	id, err := s.exports.Create(ctx, export)
	if err != nil {
		return nil, fmt.Errorf("create export record: %w", err)
	}
	export.ID = id

	s.logger.Info("export completed",
		"export_id", id,
		"file_name", export.FileName,
		"record_count", export.RecordCount,
		"format", export.Format,
	)

	if s.notifier != nil {
		if err := s.notifier.ExportCompleted(ctx, export); err != nil {
			s.logger.Error("export notification failed", "export_id", id, "error", err)
		}
	}

	return export, nil
}

// structuredRecord returns the record's verbatim structured payload when
// it carries one, and the legacy reconstruction otherwise.
func (s *ExportService) structuredRecord(p *domain.ProcessedItinerary) (json.RawMessage, error) {
	if len(p.TrainingJSON) > 0 {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(p.TrainingJSON, &keys); err != nil {
			return nil, fmt.Errorf("malformed training payload: %w", err)
		}
		if _, ok := keys["tour_identity"]; ok {
			var buf bytes.Buffer
			if err := json.Compact(&buf, p.TrainingJSON); err != nil {
				return nil, fmt.Errorf("compact training payload: %w", err)
			}
			return buf.Bytes(), nil
		}
	}
	return json.Marshal(s.legacyRecord(p))
}

func (s *ExportService) legacyRecord(p *domain.ProcessedItinerary) legacyRecord {
	operatorName := "Unknown"
	if len(p.TrainingJSON) > 0 {
		var payload struct {
			OperatorName string `json:"operator_name"`
		}
		if err := json.Unmarshal(p.TrainingJSON, &payload); err == nil && payload.OperatorName != "" {
			operatorName = payload.OperatorName
		}
	}

	destination := p.DestinationCountry
	locationFocus := ""
	if len(p.Destinations) > 0 {
		destination = p.Destinations[0]
		locationFocus = p.Destinations[0]
	}

	var durationNights *int
	if p.DurationDays != nil {
		nights := *p.DurationDays - 1
		durationNights = &nights
	}

	var currency *string
	if p.EstimatedPriceUSD != nil {
		usd := "USD"
		currency = &usd
	}

	itinerary := p.ItineraryJSON
	if len(itinerary) == 0 {
		itinerary = json.RawMessage(`{"overview":"","days":[]}`)
	}

	inclusions := p.Inclusions
	if inclusions == nil {
		inclusions = domain.StringList{}
	}
	exclusions := p.Exclusions
	if exclusions == nil {
		exclusions = domain.StringList{}
	}

	return legacyRecord{
		SourceType:   "operator_website",
		OperatorName: operatorName,
		Country:      p.DestinationCountry,
		Destination:  destination,
		URL:          p.SourceURL,
		ContentType:  "published_itinerary",
		TourIdentity: legacyIdentity{
			TourTitle:      p.Title,
			TourCategory:   p.TripType,
			DurationDays:   p.DurationDays,
			DurationNights: durationNights,
			LocationFocus:  locationFocus,
		},
		ItineraryStructure: itinerary,
		Inclusions:         inclusions,
		Exclusions:         exclusions,
		Pricing: legacyPricing{
			PriceDisplayed:    p.EstimatedPriceUSD != nil,
			PricePerPersonUSD: p.EstimatedPriceUSD,
			Currency:          currency,
			PriceNotes:        "",
		},
		AssumptionsAndFlexibility: legacyFlexibility{
			DatesFlexible:           true,
			AccommodationChangeable: true,
			ActivitiesChangeable:    true,
			PrivateTour:             p.GroupType == "Private",
		},
		RealisticCustomerQuestion: p.GeneratedInstruction,
		DataQualityTags: legacyQuality{
			Structured:             true,
			MarketingLanguage:      "medium",
			OperationalDetailLevel: "medium",
			SourceReliability:      "high",
		},
	}
}

func joinLines(records []json.RawMessage) []byte {
	var buf bytes.Buffer
	for i, r := range records {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(r)
	}
	return buf.Bytes()
}
