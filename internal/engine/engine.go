// Package engine drives content review items through their lifecycle: the
// submission pass that hands queued artifacts to the provider, the report
// pass that detects finished originality reports, and the accessor and
// administrative operations the surrounding tool calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"content-review-queue/internal/artifact"
	"content-review-queue/internal/models"
	"content-review-queue/internal/provider"
	"content-review-queue/internal/store"
	"content-review-queue/internal/telemetry"
)

// ItemStore is the persistence surface the engine needs. *store.Store
// implements it; tests use an in-memory fake.
type ItemStore interface {
	CreateItem(ctx context.Context, p store.CreateItemParams) (models.ContentReviewItem, error)
	ClaimNextSubmittable(ctx context.Context, providerID, workerID string, leaseTTL time.Duration) (models.ContentReviewItem, bool, error)
	Update(ctx context.Context, item models.ContentReviewItem) error
	Release(ctx context.Context, id string) error
	UpdateExternalID(ctx context.Context, providerID, contentID, externalID string) (bool, error)
	FindByContentID(ctx context.Context, providerID, contentID string) (models.ContentReviewItem, error)
	FindByExternalID(ctx context.Context, providerID, externalID string) (models.ContentReviewItem, error)
	FindAwaitingReport(ctx context.Context, providerID string, limit int) ([]models.ContentReviewItem, error)
	FindOnDueDate(ctx context.Context, providerID string, limit int) ([]models.ContentReviewItem, error)
	FindAllForActivity(ctx context.Context, providerID, siteID, taskID string) ([]models.ContentReviewItem, error)
	Delete(ctx context.Context, id string) error
	ResetUserDetailsErrors(ctx context.Context, providerID, userID string) (int64, error)
	UpdatePendingStatusForActivity(ctx context.Context, providerID, taskID string, timing models.ReportTiming) (int64, error)
	CountSubmittable(ctx context.Context, providerID string) (int64, error)
}

// UserDirectory resolves the identity attributes the provider requires.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (models.UserInfo, error)
}

// ActivitySource reads per-activity review configuration. The engine
// re-reads it every pass and never caches across passes.
type ActivitySource interface {
	Config(ctx context.Context, siteID, taskID string) (models.ActivityConfig, error)
}

// RateLimiter gates provider submission calls. *ratelimit.TokenBucket
// implements it.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// AttentionPusher records terminal failures for operator inspection.
// *queue.AttentionRegistry implements it.
type AttentionPusher interface {
	Push(ctx context.Context, providerID string, item models.ContentReviewItem) error
}

// Options wires an Engine. Store, Adapter, Artifacts, Users, and Activities
// are required; Limiter and Attention are optional.
type Options struct {
	ProviderID    string
	WorkerID      string
	Store         ItemStore
	Adapter       provider.Adapter
	Artifacts     artifact.Source
	Users         UserDirectory
	Activities    ActivitySource
	Classifier    *provider.Classifier
	Limiter       RateLimiter
	Attention     AttentionPusher
	Logger        *slog.Logger
	MaxRetries    int
	ClaimTTL      time.Duration
	FilenameLimit int
	BatchLimit    int
}

// Engine is safe for concurrent use; all state lives in the store.
type Engine struct {
	providerID    string
	workerID      string
	store         ItemStore
	adapter       provider.Adapter
	artifacts     artifact.Source
	users         UserDirectory
	activities    ActivitySource
	classifier    *provider.Classifier
	limiter       RateLimiter
	attention     AttentionPusher
	log           *slog.Logger
	maxRetries    int
	claimTTL      time.Duration
	filenameLimit int
	batchLimit    int
	now           func() time.Time
}

func New(opts Options) *Engine {
	if opts.Classifier == nil {
		opts.Classifier = provider.NewClassifier(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 60
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 10 * time.Minute
	}
	if opts.FilenameLimit <= 0 {
		opts.FilenameLimit = 200
	}
	return &Engine{
		providerID:    opts.ProviderID,
		workerID:      opts.WorkerID,
		store:         opts.Store,
		adapter:       opts.Adapter,
		artifacts:     opts.Artifacts,
		users:         opts.Users,
		activities:    opts.Activities,
		classifier:    opts.Classifier,
		limiter:       opts.Limiter,
		attention:     opts.Attention,
		log:           opts.Logger.With("provider", opts.ProviderID),
		maxRetries:    opts.MaxRetries,
		claimTTL:      opts.ClaimTTL,
		filenameLimit: opts.FilenameLimit,
		batchLimit:    opts.BatchLimit,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue queues one or more artifacts for review. Content already queued
// for this provider is rejected, never duplicated.
func (e *Engine) Enqueue(ctx context.Context, userID, siteID, taskID string, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return fmt.Errorf("%w: no artifacts given", ErrQueue)
	}
	// Validate the whole batch before the first insert so a rejected batch
	// queues nothing; the caller never has to untangle a partial one.
	for _, contentID := range contentIDs {
		if contentID == "" {
			return fmt.Errorf("%w: empty content id", ErrQueue)
		}
		_, err := e.store.FindByContentID(ctx, e.providerID, contentID)
		if err == nil {
			return fmt.Errorf("%w: content %s already queued", ErrQueue, contentID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("enqueue %s: %w", contentID, err)
		}
	}
	for _, contentID := range contentIDs {
		_, err := e.store.CreateItem(ctx, store.CreateItemParams{
			ProviderID: e.providerID,
			ContentID:  contentID,
			UserID:     userID,
			SiteID:     siteID,
			TaskID:     taskID,
		})
		if errors.Is(err, store.ErrDuplicateItem) {
			return fmt.Errorf("%w: %v", ErrQueue, err)
		}
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", contentID, err)
		}
		telemetry.EnqueueCounter.Inc()
		e.log.Info("queued content for review", "content_id", contentID, "user_id", userID, "task_id", taskID)
	}
	return nil
}

// Status returns the lifecycle state for a content id.
func (e *Engine) Status(ctx context.Context, contentID string) (models.ReviewStatus, error) {
	item, err := e.store.FindByContentID(ctx, e.providerID, contentID)
	if err != nil {
		return models.StatusUnknown, err
	}
	return item.Status, nil
}

// Score returns the originality score. It fails with ErrReportNotAvailable
// for every status except report-available.
func (e *Engine) Score(ctx context.Context, contentID string) (int, error) {
	item, err := e.store.FindByContentID(ctx, e.providerID, contentID)
	if err != nil {
		return 0, err
	}
	if item.Status != models.StatusReportAvailable {
		return 0, fmt.Errorf("%w: status is %s", ErrReportNotAvailable, item.Status)
	}
	if item.ReviewScore == nil {
		return 0, fmt.Errorf("%w: no score recorded", ErrReportNotAvailable)
	}
	return *item.ReviewScore, nil
}

// Report returns the opaque provider report reference, gated like Score.
func (e *Engine) Report(ctx context.Context, contentID string) (string, error) {
	item, err := e.store.FindByContentID(ctx, e.providerID, contentID)
	if err != nil {
		return "", err
	}
	if item.Status != models.StatusReportAvailable {
		return "", fmt.Errorf("%w: status is %s", ErrReportNotAvailable, item.Status)
	}
	if item.ReportRef != nil && *item.ReportRef != "" {
		return *item.ReportRef, nil
	}
	if item.ExternalID != nil {
		return *item.ExternalID, nil
	}
	return "", fmt.Errorf("%w: no report reference recorded", ErrReportNotAvailable)
}

// Dequeue removes an item from the queue regardless of state.
func (e *Engine) Dequeue(ctx context.Context, contentID string) error {
	item, err := e.store.FindByContentID(ctx, e.providerID, contentID)
	if err != nil {
		return err
	}
	if err := e.store.Delete(ctx, item.ID); err != nil {
		return err
	}
	e.log.Info("dequeued content", "content_id", contentID, "status", item.Status.String())
	return nil
}

// ResetUserDetailsErrors re-arms a user's user-details failures once their
// profile has been corrected out of band.
func (e *Engine) ResetUserDetailsErrors(ctx context.Context, userID string) (int64, error) {
	n, err := e.store.ResetUserDetailsErrors(ctx, e.providerID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("reset user details errors", "user_id", userID, "items", n)
	}
	return n, nil
}

// UpdatePendingStatusForActivity bulk-migrates an activity's pending items
// when its report-timing setting changes.
func (e *Engine) UpdatePendingStatusForActivity(ctx context.Context, taskID string, timing models.ReportTiming) (int64, error) {
	n, err := e.store.UpdatePendingStatusForActivity(ctx, e.providerID, taskID, timing)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("migrated pending items for activity", "task_id", taskID, "timing", string(timing), "items", n)
	}
	return n, nil
}

// ItemsForActivity lists the queue state for an activity, for the owning
// tool's instructor views.
func (e *Engine) ItemsForActivity(ctx context.Context, siteID, taskID string) ([]models.ContentReviewItem, error) {
	items, err := e.store.FindAllForActivity(ctx, e.providerID, siteID, taskID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].StatusName = items[i].Status.String()
	}
	return items, nil
}
