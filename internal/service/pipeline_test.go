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

	"itinerary_pipeline/internal/config"
	"itinerary_pipeline/internal/domain"
	"itinerary_pipeline/internal/service/mocks"
)

// PipelineFlowTestSuite chains one URL through every stage: scrape,
// extraction, approval and sterilized export. Stores and clients are
// mocked; the sterilizer runs for real, so the final export line proves
// the displayed price degrades to a tier end to end.
type PipelineFlowTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	queue     *mocks.MockQueueStore
	sources   *mocks.MockSourceStore
	raws      *mocks.MockRawItineraryStore
	processed *mocks.MockProcessedStore
	exports   *mocks.MockExportStore
	fetcher   *mocks.MockFetcher
	extractor *mocks.MockExtractor
	txManager *mocks.MockTransactionManager
	notifier  *mocks.MockNotifier

	queueService      *QueueService
	extractionService *ExtractionService
	reviewService     *ReviewService
	exportService     *ExportService

	nowTime time.Time
}

func (s *PipelineFlowTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.queue = mocks.NewMockQueueStore(s.ctrl)
	s.sources = mocks.NewMockSourceStore(s.ctrl)
	s.raws = mocks.NewMockRawItineraryStore(s.ctrl)
	s.processed = mocks.NewMockProcessedStore(s.ctrl)
	s.exports = mocks.NewMockExportStore(s.ctrl)
	s.fetcher = mocks.NewMockFetcher(s.ctrl)
	s.extractor = mocks.NewMockExtractor(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.queueService = NewQueueService(s.queue, s.sources, s.raws, s.fetcher, s.txManager, logger, config.ScraperConfig{
		DefaultRateLimit: 5 * time.Second,
		MaxQueueItems:    10,
	})
	s.extractionService = NewExtractionService(s.raws, s.processed, s.sources, s.extractor, s.txManager, s.notifier, logger, config.ExtractorConfig{
		MaxRawItems: 5,
	})
	s.reviewService = NewReviewService(s.processed, s.raws, s.txManager, logger)
	s.exportService = NewExportService(s.processed, s.exports, s.notifier, logger)

	s.nowTime = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	s.reviewService.now = func() time.Time { return s.nowTime }
	s.exportService.now = func() time.Time { return s.nowTime }
}

func (s *PipelineFlowTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestPipelineFlowTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineFlowTestSuite))
}

func (s *PipelineFlowTestSuite) passthroughTx() {
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
}

func (s *PipelineFlowTestSuite) TestScrapeExtractApproveExport() {
	ctx := context.Background()
	const pageURL = "https://www.exampletours.com/kilimanjaro/7-day-machame"

	// --- scrape: queue item becomes a raw capture

	s.queue.EXPECT().Claim(ctx, int64(1)).Return(true, nil)
	s.fetcher.EXPECT().Fetch(ctx, pageURL, 5*time.Second).Return(&domain.FetchResult{
		RawText:   "PRICING INFORMATION: From $3,500 per person\n\nDay 1: Arrival in Moshi.",
		PageTitle: "7 Day Machame Route",
	}, nil)

	var rawRecord *domain.RawItinerary
	s.passthroughTx()
	s.raws.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, raw *domain.RawItinerary) (int64, error) {
			rawRecord = raw
			return 3, nil
		},
	)
	s.queue.EXPECT().Update(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, item *domain.ScrapeQueueItem) error {
			s.Equal(domain.QueueCompleted, item.Status)
			return nil
		},
	)

	err := s.queueService.ProcessQueueItem(ctx, domain.ScrapeQueueItem{ID: 1, URL: pageURL})
	s.Require().NoError(err)
	s.Require().NotNil(rawRecord)
	rawRecord.ID = 3

	// --- extract: mocked model returns a Premium-priced itinerary

	data := domain.TrainingData{
		SourceType:   "operator_website",
		OperatorName: "Exampletours",
		Country:      "Tanzania",
		Destination:  "Kilimanjaro",
		TourIdentity: domain.TourIdentity{
			TourTitle:    "7 Day Machame Route",
			TourCategory: "trekking",
		},
		Duration: domain.TourDuration{TotalProgramDays: 5, ActivityDays: 3},
		ItineraryStructure: domain.ItineraryStructure{
			Overview: "Our signature climb, from $3,500 per person.",
			Days: []domain.ItineraryDay{
				{Day: 1, DayType: "arrival", Title: "Arrival in Moshi"},
				{Day: 2, DayType: "activity", Title: "Machame Gate to Machame Camp"},
				{Day: 3, DayType: "activity", Title: "Machame Camp to Shira Camp"},
				{Day: 4, DayType: "summit", Title: "Summit Night"},
				{Day: 5, DayType: "departure", Title: "Descent and Departure"},
			},
		},
		Pricing: domain.Pricing{
			PriceDisplayed:    true,
			PricePerPersonUSD: ptr(3500.0),
			Currency:          "USD",
		},
		DerivedUserQuestions: []string{"Which Kilimanjaro route fits a long weekend of hiking?"},
	}
	payload, err := json.Marshal(data)
	s.Require().NoError(err)

	s.extractor.EXPECT().
		Extract(ctx, rawRecord.RawText, pageURL, "Exampletours").
		Return(&domain.ExtractionResult{
			Data:    data,
			RawJSON: payload,
			Model:   "gpt-4o",
			Latency: 2 * time.Second,
		}, nil)

	var record *domain.ProcessedItinerary
	s.passthroughTx()
	s.processed.EXPECT().UpsertForRaw(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, p *domain.ProcessedItinerary) (int64, bool, error) {
			s.Equal(domain.StatusPendingReview, p.Status)
			record = p
			return 7, true, nil
		},
	)
	s.raws.EXPECT().MarkProcessed(ctx, int64(3)).Return(nil)
	s.notifier.EXPECT().PendingReview(ctx, gomock.Any(), true).Return(nil)

	p, err := s.extractionService.ProcessRawItinerary(ctx, rawRecord, false)
	s.Require().NoError(err)
	s.Equal(int64(7), p.ID)

	// --- approve: reviewer and review time are stamped

	s.processed.EXPECT().
		UpdateReview(ctx, int64(7), domain.StatusApproved, "alice", "solid itinerary", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, status domain.ReviewStatus, reviewer, notes string, reviewedAt *time.Time) error {
			record.Status = status
			record.Reviewer = reviewer
			record.ReviewerNotes = notes
			record.ReviewedAt = reviewedAt
			return nil
		})

	s.Require().NoError(s.reviewService.Approve(ctx, 7, "alice", "solid itinerary"))
	s.Equal("alice", record.Reviewer)
	s.Require().NotNil(record.ReviewedAt)
	s.Equal(s.nowTime, *record.ReviewedAt)

	// --- export: the sterilized line carries the tier, never the price

	s.processed.EXPECT().ListByStatus(ctx, domain.StatusApproved).Return(
		[]domain.ProcessedItinerary{*record}, nil)

	s.exports.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, export *domain.TrainingExport) (int64, error) {
			s.Equal("sterilized_training_data_20240315_120000.jsonl", export.FileName)
			s.Equal(1, export.RecordCount)

			lines := strings.Split(string(export.Content), "\n")
			s.Require().Len(lines, 1)

			var trained domain.TrainingRecord
			s.Require().NoError(json.Unmarshal([]byte(lines[0]), &trained))
			s.Equal("Which Kilimanjaro route fits a long weekend of hiking?", trained.Instruction)
			s.Contains(trained.Response, "**Price Range:** Premium")
			s.Contains(trained.Response, "**Duration:** 3 days of activities in a 5-day program")
			s.NotContains(trained.Response, "3500")
			s.NotContains(trained.Response, "3,500")
			return 11, nil
		},
	)
	s.notifier.EXPECT().ExportCompleted(ctx, gomock.Any()).Return(nil)

	export, err := s.exportService.ExportSterilized(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(int64(11), export.ID)
	s.Equal(1, export.RecordCount)
}
