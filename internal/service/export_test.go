package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"itinerary_pipeline/internal/domain"
	"itinerary_pipeline/internal/service/mocks"
)

type ExportServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	processed *mocks.MockProcessedStore
	exports   *mocks.MockExportStore
	notifier  *mocks.MockNotifier

	service *ExportService
	logger  *slog.Logger
}

func (s *ExportServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.processed = mocks.NewMockProcessedStore(s.ctrl)
	s.exports = mocks.NewMockExportStore(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewExportService(s.processed, s.exports, s.notifier, s.logger)
	s.service.now = func() time.Time {
		return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	}
}

func (s *ExportServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestExportServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ExportServiceTestSuite))
}

func (s *ExportServiceTestSuite) TestExportStructured_VerbatimPayload() {
	ctx := context.Background()

	approved := []domain.ProcessedItinerary{
		{
			ID: 5,
			TrainingJSON: json.RawMessage(`{
				"tour_identity": {"tour_title": "7 Day Lemosho Route"},
				"derived_user_questions": ["q1"]
			}`),
		},
	}

	s.processed.EXPECT().ListByStatus(ctx, domain.StatusApproved).Return(approved, nil)

	s.exports.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, export *domain.TrainingExport) (int64, error) {
			s.Equal("training_data_20240315_120000.jsonl", export.FileName)
			s.Equal(1, export.RecordCount)
			s.Equal("jsonl", export.Format)
			// payload is exported verbatim, compacted to one line
			s.Equal(`{"tour_identity":{"tour_title":"7 Day Lemosho Route"},"derived_user_questions":["q1"]}`, string(export.Content))
			return 11, nil
		},
	)

	s.notifier.EXPECT().ExportCompleted(ctx, gomock.Any()).Return(nil)

	export, err := s.service.ExportStructured(ctx, "alice", "jsonl")

	s.NoError(err)
	s.Equal(int64(11), export.ID)
}

func (s *ExportServiceTestSuite) TestExportStructured_LegacyReconstruction() {
	ctx := context.Background()

	days := 7
	price := domain.DecimalFromFloat(2500)
	approved := []domain.ProcessedItinerary{
		{
			ID:                   5,
			Title:                "Serengeti Safari",
			DestinationCountry:   "Tanzania",
			Destinations:         domain.StringList{"Serengeti"},
			DurationDays:         &days,
			TripType:             "safari",
			GroupType:            "Private",
			EstimatedPriceUSD:    &price,
			GeneratedInstruction: "I want a week-long private safari in Tanzania.",
			SourceURL:            "https://example.com/serengeti",
		},
	}

	s.processed.EXPECT().ListByStatus(ctx, domain.StatusApproved).Return(approved, nil)

	s.exports.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, export *domain.TrainingExport) (int64, error) {
			var record map[string]any
			s.NoError(json.Unmarshal(export.Content, &record))

			s.Equal("operator_website", record["source_type"])
			s.Equal("Unknown", record["operator_name"])
			s.Equal("Serengeti", record["destination"])
			s.Equal("https://example.com/serengeti", record["url"])
			s.Equal("I want a week-long private safari in Tanzania.", record["realistic_customer_question"])

			identity := record["tour_identity"].(map[string]any)
			s.Equal("Serengeti Safari", identity["tour_title"])
			s.Equal(float64(7), identity["duration_days"])
			s.Equal(float64(6), identity["duration_nights"])

			pricing := record["pricing"].(map[string]any)
			s.Equal(true, pricing["price_displayed"])
			s.Equal(float64(2500), pricing["price_per_person_usd"])

			flexibility := record["assumptions_and_flexibility"].(map[string]any)
			s.Equal(true, flexibility["private_tour"])
			return 11, nil
		},
	)

	s.notifier.EXPECT().ExportCompleted(ctx, gomock.Any()).Return(nil)

	_, err := s.service.ExportStructured(ctx, "alice", "jsonl")

	s.NoError(err)
}

func (s *ExportServiceTestSuite) TestExportStructured_ZeroRecords() {
	ctx := context.Background()

	s.processed.EXPECT().ListByStatus(ctx, domain.StatusApproved).Return(nil, nil)

	s.exports.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, export *domain.TrainingExport) (int64, error) {
			s.Equal(0, export.RecordCount)
			s.Empty(export.Content)
			return 11, nil
		},
	)

	s.notifier.EXPECT().ExportCompleted(ctx, gomock.Any()).Return(nil)

	export, err := s.service.ExportStructured(ctx, "alice", "jsonl")

	s.NoError(err)
	s.Equal(0, export.RecordCount)
}

func (s *ExportServiceTestSuite) TestExportStructured_RejectsUnknownFormat() {
	_, err := s.service.ExportStructured(context.Background(), "alice", "csv")
	s.Error(err)
}

func (s *ExportServiceTestSuite) TestExportSterilized_NoExactPrices() {
	ctx := context.Background()

	data := domain.TrainingData{
		SourceType:   "operator_website",
		OperatorName: "Example Tours",
		Country:      "Tanzania",
		Destination:  "Kilimanjaro",
		TourIdentity: domain.TourIdentity{
			TourTitle:    "7 Day Lemosho Route",
			TourCategory: "trekking",
		},
		Duration: domain.TourDuration{TotalProgramDays: 9, ActivityDays: 7},
		ItineraryStructure: domain.ItineraryStructure{
			Days: []domain.ItineraryDay{
				{Day: 1, DayType: "arrival", Title: "Arrival in Arusha", Location: "Arusha"},
			},
		},
		Pricing: domain.Pricing{
			PriceDisplayed:    true,
			PricePerPersonUSD: ptr(3600.0),
			Currency:          "USD",
		},
		DerivedUserQuestions: []string{"Which scenic Kilimanjaro route fits a week?"},
	}
	payload, err := json.Marshal(data)
	s.Require().NoError(err)

	approved := []domain.ProcessedItinerary{
		{ID: 5, TrainingJSON: payload},
		{ID: 6}, // no structured payload, must be skipped
	}

	s.processed.EXPECT().ListByStatus(ctx, domain.StatusApproved).Return(approved, nil)

	s.exports.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, export *domain.TrainingExport) (int64, error) {
			s.Equal("sterilized_training_data_20240315_120000.jsonl", export.FileName)
			s.Equal("sterilized_jsonl", export.Format)
			s.Equal(1, export.RecordCount)

			lines := strings.Split(string(export.Content), "\n")
			s.Len(lines, 1)

			var record domain.TrainingRecord
			s.NoError(json.Unmarshal([]byte(lines[0]), &record))
			s.Equal("Which scenic Kilimanjaro route fits a week?", record.Instruction)
			s.Contains(record.Response, "**Price Range:** Premium")
			s.NotContains(record.Response, "3600")
			s.Equal("Example Tours", record.Metadata.OperatorName)
			s.Equal(7, record.Metadata.DurationDays)
			return 12, nil
		},
	)

	s.notifier.EXPECT().ExportCompleted(ctx, gomock.Any()).Return(nil)

	export, err := s.service.ExportSterilized(ctx, "alice")

	s.NoError(err)
	s.Equal(1, export.RecordCount)
}
