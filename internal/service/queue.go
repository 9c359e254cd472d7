package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"itinerary_pipeline/internal/config"
	"itinerary_pipeline/internal/domain"
)

// errNotClaimed marks a pending item another worker claimed between our
// listing and our claim. The item is skipped, not failed.
var errNotClaimed = errors.New("queue item already claimed")

// QueueService drains the scrape queue: it claims pending URLs, fetches
// them through the rate-limited scraper and lands raw captures.
type QueueService struct {
	queue     QueueStore
	sources   SourceStore
	raws      RawItineraryStore
	fetcher   Fetcher
	txManager TransactionManager
	logger    *slog.Logger
	config    config.ScraperConfig
}

func NewQueueService(
	queue QueueStore,
	sources SourceStore,
	raws RawItineraryStore,
	fetcher Fetcher,
	txManager TransactionManager,
	logger *slog.Logger,
	cfg config.ScraperConfig,
) *QueueService {
	return &QueueService{
		queue:     queue,
		sources:   sources,
		raws:      raws,
		fetcher:   fetcher,
		txManager: txManager,
		logger:    logger.With("service", "queue"),
		config:    cfg,
	}
}

func (s *QueueService) Name() string { return "scrape_queue" }

// AddSource registers a crawl target. A zero rate limit falls back to
// the configured default.
func (s *QueueService) AddSource(ctx context.Context, source *domain.ScrapingSource) (int64, error) {
	if source.RateLimitSeconds <= 0 {
		source.RateLimitSeconds = int(s.config.DefaultRateLimit.Seconds())
	}
	source.IsActive = true

	id, err := s.sources.Create(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("create source: %w", err)
	}

	s.logger.Info("source registered", "source_id", id, "name", source.Name)
	return id, nil
}

// EnqueueURLs queues URLs for a source and reports how many were newly
// queued. URLs already in the queue for that source are skipped.
func (s *QueueService) EnqueueURLs(ctx context.Context, sourceID *int64, urls []string, priority int) (int, error) {
	queued := 0
	for _, u := range urls {
		id, err := s.queue.Enqueue(ctx, &domain.ScrapeQueueItem{
			SourceID: sourceID,
			URL:      u,
			Priority: priority,
		})
		if err != nil {
			return queued, fmt.Errorf("enqueue %s: %w", u, err)
		}
		if id != 0 {
			queued++
		}
	}

	s.logger.Info("urls enqueued", "requested", len(urls), "queued", queued)
	return queued, nil
}

// Rescrape returns a queue item to the pending pool with a fresh retry
// budget so the next pass picks it up again.
func (s *QueueService) Rescrape(ctx context.Context, itemID int64) error {
	if err := s.queue.Reset(ctx, itemID); err != nil {
		return fmt.Errorf("reset queue item %d: %w", itemID, err)
	}
	s.logger.Info("queue item reset for rescrape", "item_id", itemID)
	return nil
}

// Run drains one bounded batch of pending items. Implements the
// scheduler's Runner.
func (s *QueueService) Run(ctx context.Context) (domain.BatchStats, error) {
	return s.ProcessPendingQueue(ctx)
}

func (s *QueueService) ProcessPendingQueue(ctx context.Context) (domain.BatchStats, error) {
	var stats domain.BatchStats

	items, err := s.queue.ListPending(ctx, s.config.MaxQueueItems)
	if err != nil {
		return stats, fmt.Errorf("list pending queue: %w", err)
	}

	for i := range items {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		err := s.ProcessQueueItem(ctx, items[i])
		if errors.Is(err, errNotClaimed) {
			continue
		}

		stats.Processed++
		if err != nil {
			stats.Failed++
			s.logger.Error("queue item failed", "item_id", items[i].ID, "url", items[i].URL, "error", err)
		} else {
			stats.Succeeded++
		}
	}

	s.logger.Info("queue pass completed",
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)

	return stats, nil
}

// ProcessQueueItem claims and fetches one queue item. On success the raw
// capture, the item completion and the source counter land in a single
// transaction; on failure the retry budget is spent before the item goes
// terminally failed.
func (s *QueueService) ProcessQueueItem(ctx context.Context, item domain.ScrapeQueueItem) error {
	claimed, err := s.queue.Claim(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("claim queue item: %w", err)
	}
	if !claimed {
		return errNotClaimed
	}

	minInterval := s.config.DefaultRateLimit
	if item.SourceID != nil {
		source, err := s.sources.Get(ctx, *item.SourceID)
		if err != nil {
			s.logger.Warn("source lookup failed, using default rate limit", "source_id", *item.SourceID, "error", err)
		} else if source.RateLimitSeconds > 0 {
			minInterval = time.Duration(source.RateLimitSeconds) * time.Second
		}
	}

	result, err := s.fetcher.Fetch(ctx, item.URL, minInterval)
	if err != nil {
		return s.recordFailure(ctx, &item, err)
	}

	raw := &domain.RawItinerary{
		SourceType:      domain.SourceScraped,
		SourceID:        item.SourceID,
		SourceURL:       item.URL,
		RawHTML:         result.RawHTML,
		RawText:         result.RawText,
		PageTitle:       result.PageTitle,
		MetaDescription: result.MetaDescription,
		MetaKeywords:    result.MetaKeywords,
	}

	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		rawID, err := s.raws.Create(txCtx, raw)
		if err != nil {
			return fmt.Errorf("create raw itinerary: %w", err)
		}

		now := time.Now()
		item.Status = domain.QueueCompleted
		item.ErrorMessage = ""
		item.ProcessedAt = &now
		if err := s.queue.Update(txCtx, &item); err != nil {
			return fmt.Errorf("complete queue item: %w", err)
		}

		if item.SourceID != nil {
			if err := s.sources.RecordScrape(txCtx, *item.SourceID); err != nil {
				return fmt.Errorf("record scrape: %w", err)
			}
		}

		s.logger.Info("scrape landed", "item_id", item.ID, "raw_id", rawID, "url", item.URL)
		return nil
	})
}

func (s *QueueService) recordFailure(ctx context.Context, item *domain.ScrapeQueueItem, cause error) error {
	maxRetries := item.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	item.RetryCount++
	item.ErrorMessage = cause.Error()
	if item.RetryCount >= maxRetries {
		item.Status = domain.QueueFailed
		now := time.Now()
		item.ProcessedAt = &now
	} else {
		item.Status = domain.QueuePending
	}

	if err := s.queue.Update(ctx, item); err != nil {
		return fmt.Errorf("record failure for item %d: %w (original: %v)", item.ID, err, cause)
	}

	s.logger.Warn("scrape attempt failed",
		"item_id", item.ID,
		"url", item.URL,
		"retry_count", item.RetryCount,
		"status", item.Status,
		"error", cause,
	)

	return fmt.Errorf("scrape %s: %w", item.URL, cause)
}
