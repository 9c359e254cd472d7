package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned when a record addressed by a review or export
// action does not exist.
var ErrNotFound = errors.New("record not found")

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueInProgress QueueStatus = "in_progress"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

type ReviewStatus string

const (
	StatusPendingReview ReviewStatus = "pending_review"
	StatusApproved      ReviewStatus = "approved"
	StatusRejected      ReviewStatus = "rejected"
	StatusNeedsRevision ReviewStatus = "needs_revision"
)

type SourceType string

const (
	SourceScraped  SourceType = "scraped"
	SourceUploaded SourceType = "uploaded"
	SourceManual   SourceType = "manual"
)

const DefaultMaxRetries = 3

// ScrapingSource is a crawl target registered by an operator.
type ScrapingSource struct {
	ID                 int64      `db:"id"`
	Name               string     `db:"name"`
	BaseURL            string     `db:"base_url"`
	RequiresJavascript bool       `db:"requires_javascript"`
	RateLimitSeconds   int        `db:"rate_limit_seconds"`
	IsActive           bool       `db:"is_active"`
	TotalScraped       int64      `db:"total_scraped"`
	LastScrapedAt      *time.Time `db:"last_scraped_at"`
	CreatedAt          time.Time  `db:"created_at"`
}

// ScrapeQueueItem is one URL waiting to be fetched. Once RetryCount
// reaches MaxRetries the item is terminally failed.
type ScrapeQueueItem struct {
	ID           int64       `db:"id"`
	SourceID     *int64      `db:"source_id"`
	URL          string      `db:"url"`
	Status       QueueStatus `db:"status"`
	Priority     int         `db:"priority"`
	RetryCount   int         `db:"retry_count"`
	MaxRetries   int         `db:"max_retries"`
	ErrorMessage string      `db:"error_message"`
	CreatedAt    time.Time   `db:"created_at"`
	ProcessedAt  *time.Time  `db:"processed_at"`
}

// RawItinerary is an unprocessed capture from the scraper or the upload
// collaborator. It is only ever mutated to flip is_processed or to store
// a processing error.
type RawItinerary struct {
	ID              int64      `db:"id"`
	SourceType      SourceType `db:"source_type"`
	SourceID        *int64     `db:"source_id"`
	UploadRef       *string    `db:"upload_ref"`
	SourceURL       string     `db:"source_url"`
	RawHTML         string     `db:"raw_html"`
	RawText         string     `db:"raw_text"`
	PageTitle       string     `db:"page_title"`
	MetaDescription string     `db:"meta_description"`
	MetaKeywords    string     `db:"meta_keywords"`
	IsProcessed     bool       `db:"is_processed"`
	ProcessingError string     `db:"processing_error"`
	CreatedAt       time.Time  `db:"created_at"`
}

// ProcessedItinerary is the structured candidate training record, owned
// one-to-one by its RawItinerary. TrainingJSON is the source of truth for
// export; the flattened fields exist for review and legacy export.
type ProcessedItinerary struct {
	ID                   int64             `db:"id"`
	RawItineraryID       int64             `db:"raw_itinerary_id"`
	GeneratedInstruction string            `db:"generated_instruction"`
	Title                string            `db:"title"`
	DestinationCountry   string            `db:"destination_country"`
	Destinations         StringList        `db:"destinations"`
	DurationDays         *int              `db:"duration_days"`
	BudgetLevel          string            `db:"budget_level"`
	EstimatedPriceUSD    *Decimal          `db:"estimated_price_usd"`
	TripType             string            `db:"trip_type"`
	GroupType            string            `db:"group_type"`
	ItineraryJSON        json.RawMessage   `db:"itinerary_json"`
	Inclusions           StringList        `db:"inclusions"`
	Exclusions           StringList        `db:"exclusions"`
	Accommodations       AccommodationList `db:"accommodations"`
	Activities           StringList        `db:"activities"`
	TrainingJSON         json.RawMessage   `db:"training_json"`
	Status               ReviewStatus      `db:"status"`
	Reviewer             string            `db:"reviewer"`
	ReviewerNotes        string            `db:"reviewer_notes"`
	ReviewedAt           *time.Time        `db:"reviewed_at"`
	ModelUsed            string            `db:"model_used"`
	ProcessingSeconds    float64           `db:"processing_seconds"`
	TokensUsed           *int              `db:"tokens_used"`
	CreatedAt            time.Time         `db:"created_at"`
	UpdatedAt            time.Time         `db:"updated_at"`

	// SourceURL is joined in from the owning raw itinerary for export.
	SourceURL string `db:"source_url"`
}

// Accommodation is one lodging reference derived from the day structure.
type Accommodation struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
}

// TrainingExport is the immutable manifest of one completed export.
type TrainingExport struct {
	ID          int64     `db:"id"`
	ExportedBy  string    `db:"exported_by"`
	FileName    string    `db:"file_name"`
	RecordCount int       `db:"record_count"`
	Format      string    `db:"export_format"`
	Content     []byte    `db:"content"`
	CreatedAt   time.Time `db:"created_at"`
}

// StringList stores a JSON array of strings in a jsonb column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	// text, not bytea, so the server coerces it to jsonb
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// AccommodationList stores a JSON array of accommodations in a jsonb column.
type AccommodationList []Accommodation

func (l AccommodationList) Value() (driver.Value, error) {
	if l == nil {
		l = AccommodationList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *AccommodationList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

func scanJSON(src, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into JSON value", src)
	}
}

// Decimal is a fixed-point numeric kept as its exact textual
// representation. It marshals as a plain JSON number, which encoding/json
// does not offer for arbitrary-precision values out of the box.
type Decimal string

func DecimalFromFloat(f float64) Decimal {
	return Decimal(strconv.FormatFloat(f, 'f', -1, 64))
}

func (d Decimal) Float64() (float64, error) {
	return strconv.ParseFloat(string(d), 64)
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(d), 64); err != nil {
		return nil, fmt.Errorf("invalid decimal %q", string(d))
	}
	return []byte(d), nil
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) > 1 && s[0] == '"' {
		var unquoted string
		if err := json.Unmarshal(data, &unquoted); err != nil {
			return err
		}
		s = unquoted
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("invalid decimal %q", s)
	}
	*d = Decimal(s)
	return nil
}

func (d Decimal) Value() (driver.Value, error) {
	return string(d), nil
}

func (d *Decimal) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		*d = Decimal(v)
	case string:
		*d = Decimal(v)
	case float64:
		*d = DecimalFromFloat(v)
	case int64:
		*d = Decimal(strconv.FormatInt(v, 10))
	default:
		return fmt.Errorf("cannot scan %T into Decimal", src)
	}
	return nil
}
