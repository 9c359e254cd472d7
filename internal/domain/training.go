package domain

import (
	"encoding/json"
	"time"
)

// TrainingData is the structured-extraction schema contract. The model
// must return exactly this shape; fields without a validate tag degrade
// to zero values when absent.
type TrainingData struct {
	SourceType           string             `json:"source_type"`
	OperatorName         string             `json:"operator_name"`
	Country              string             `json:"country"`
	Destination          string             `json:"destination"`
	URL                  string             `json:"url"`
	ContentType          string             `json:"content_type"`
	TourIdentity         TourIdentity       `json:"tour_identity"`
	Duration             TourDuration       `json:"duration"`
	ItineraryStructure   ItineraryStructure `json:"itinerary_structure"`
	Inclusions           []string           `json:"inclusions"`
	Exclusions           []string           `json:"exclusions"`
	Pricing              Pricing            `json:"pricing"`
	UserFlexibility      map[string]any     `json:"user_flexibility,omitempty"`
	OperatorConstraints  map[string]any     `json:"operator_constraints,omitempty"`
	OperatorReasoning    OperatorReasoning  `json:"operator_reasoning"`
	DerivedUserQuestions []string           `json:"derived_user_questions" validate:"min=1"`
	UserIntent           map[string]any     `json:"user_intent,omitempty"`
	DataQualityTags      map[string]any     `json:"data_quality_tags,omitempty"`

	// GeneratedInstruction is the legacy single-question field kept for
	// records extracted before derived_user_questions existed.
	GeneratedInstruction string `json:"generated_instruction,omitempty"`
}

type TourIdentity struct {
	TourTitle     string `json:"tour_title" validate:"required"`
	TourCategory  string `json:"tour_category"`
	LocationFocus string `json:"location_focus"`
}

type TourDuration struct {
	TotalProgramDays int    `json:"total_program_days"`
	ActivityDays     int    `json:"activity_days"`
	ActivityNights   int    `json:"activity_nights"`
	LogisticsDays    int    `json:"logistics_days"`
	DurationNotes    string `json:"duration_notes"`
}

type ItineraryStructure struct {
	Overview  string         `json:"overview"`
	RouteName string         `json:"route_name"`
	Days      []ItineraryDay `json:"days" validate:"min=1"`
}

type ItineraryDay struct {
	Day               int      `json:"day"`
	DayType           string   `json:"day_type"`
	Title             string   `json:"title"`
	Location          string   `json:"location"`
	AltitudeMeters    *float64 `json:"altitude_meters"`
	DistanceKm        *float64 `json:"distance_km"`
	HikingHours       *float64 `json:"hiking_hours"`
	Activities        []string `json:"activities"`
	Transport         string   `json:"transport,omitempty"`
	AccommodationName string   `json:"accommodation_name"`
	AccommodationType string   `json:"accommodation_type"`
	Meals             []string `json:"meals"`
	Cost              *float64 `json:"cost,omitempty"`
}

type Pricing struct {
	PriceDisplayed        bool     `json:"price_displayed"`
	PricePerPersonUSD     *float64 `json:"price_per_person_usd"`
	Currency              string   `json:"currency"`
	PriceIncludesFlights  *bool    `json:"price_includes_flights,omitempty"`
	GroupSizeAffectsPrice *bool    `json:"group_size_affects_price,omitempty"`
	SeasonAffectsPrice    *bool    `json:"season_affects_price,omitempty"`
	PriceNotes            string   `json:"price_notes"`
}

// OperatorReasoning has a fixed field order so sterilized output is
// reproducible bit-for-bit.
type OperatorReasoning struct {
	RouteSelection       string `json:"route_selection"`
	DurationReasoning    string `json:"duration_reasoning"`
	DifficultyAssessment string `json:"difficulty_assessment"`
	ValueProposition     string `json:"value_proposition"`
}

// ExtractionResult is what the extraction client hands back on success.
type ExtractionResult struct {
	Data       TrainingData
	RawJSON    json.RawMessage
	Model      string
	Latency    time.Duration
	TokensUsed *int
}

// FetchResult is the scraper's successful capture of one URL.
type FetchResult struct {
	RawHTML         string
	RawText         string
	PageTitle       string
	MetaDescription string
	MetaKeywords    string
}

// TrainingRecord is one sterilized instruction/response training pair.
type TrainingRecord struct {
	Instruction string           `json:"instruction"`
	Response    string           `json:"response"`
	Metadata    TrainingMetadata `json:"metadata"`
}

type TrainingMetadata struct {
	SourceType   string         `json:"source_type"`
	OperatorName string         `json:"operator_name"`
	Country      string         `json:"country"`
	Destination  string         `json:"destination"`
	TourCategory string         `json:"tour_category"`
	DurationDays int            `json:"duration_days"`
	DataQuality  map[string]any `json:"data_quality"`
}
