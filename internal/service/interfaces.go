package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"itinerary_pipeline/internal/domain"
)

type SourceStore interface {
	Create(ctx context.Context, source *domain.ScrapingSource) (int64, error)
	Get(ctx context.Context, id int64) (*domain.ScrapingSource, error)
	RecordScrape(ctx context.Context, id int64) error
}

type QueueStore interface {
	Enqueue(ctx context.Context, item *domain.ScrapeQueueItem) (int64, error)
	ListPending(ctx context.Context, limit int) ([]domain.ScrapeQueueItem, error)
	Claim(ctx context.Context, id int64) (bool, error)
	Update(ctx context.Context, item *domain.ScrapeQueueItem) error
	Reset(ctx context.Context, id int64) error
}

type RawItineraryStore interface {
	Create(ctx context.Context, raw *domain.RawItinerary) (int64, error)
	Get(ctx context.Context, id int64) (*domain.RawItinerary, error)
	ListUnprocessed(ctx context.Context, limit int) ([]domain.RawItinerary, error)
	MarkProcessed(ctx context.Context, id int64) error
	SetError(ctx context.Context, id int64, message string) error
	SetUnprocessed(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

type ProcessedStore interface {
	UpsertForRaw(ctx context.Context, p *domain.ProcessedItinerary) (int64, bool, error)
	Get(ctx context.Context, id int64) (*domain.ProcessedItinerary, error)
	ListByStatus(ctx context.Context, status domain.ReviewStatus) ([]domain.ProcessedItinerary, error)
	UpdateReview(ctx context.Context, id int64, status domain.ReviewStatus, reviewer, notes string, reviewedAt *time.Time) error
	UpdateEdits(ctx context.Context, p *domain.ProcessedItinerary) error
	Delete(ctx context.Context, id int64) error
	CountByStatus(ctx context.Context) (map[domain.ReviewStatus]int, error)
}

type ExportStore interface {
	Create(ctx context.Context, export *domain.TrainingExport) (int64, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string, minInterval time.Duration) (*domain.FetchResult, error)
}

type Extractor interface {
	Extract(ctx context.Context, rawText, sourceURL, operatorName string) (*domain.ExtractionResult, error)
	ModelName() string
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Notifier interface {
	PendingReview(ctx context.Context, itinerary *domain.ProcessedItinerary, created bool) error
	ExportCompleted(ctx context.Context, export *domain.TrainingExport) error
	Close() error
}
