package engine

import (
	"context"
	"errors"
	"fmt"

	"content-review-queue/internal/models"
	"content-review-queue/internal/provider"
	"content-review-queue/internal/store"
	"content-review-queue/internal/telemetry"
)

const reportBatchSize = 500

// CheckReports runs one report pass: due-date-parked items whose due date
// has passed are promoted into the poll set, then every awaiting-report
// item is polled. Item failures never abort the pass.
func (e *Engine) CheckReports(ctx context.Context) error {
	if err := e.promoteDueItems(ctx); err != nil {
		return err
	}

	items, err := e.store.FindAwaitingReport(ctx, e.providerID, reportBatchSize)
	if err != nil {
		return fmt.Errorf("find awaiting report: %w", err)
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.pollItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// promoteDueItems moves report-on-due-date items into awaiting-report once
// their activity's due date passes. The activity config is re-read each
// pass; stale settings are never trusted.
func (e *Engine) promoteDueItems(ctx context.Context) error {
	items, err := e.store.FindOnDueDate(ctx, e.providerID, reportBatchSize)
	if err != nil {
		return fmt.Errorf("find on due date: %w", err)
	}
	for _, item := range items {
		cfg, err := e.activities.Config(ctx, item.SiteID, item.TaskID)
		if errors.Is(err, ErrActivityGone) {
			telemetry.ItemsDropped.Inc()
			if err := e.store.Delete(ctx, item.ID); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			e.log.Warn("activity lookup failed during report pass", "task_id", item.TaskID, "err", err)
			continue
		}
		if cfg.DueDate == nil || e.now().Before(*cfg.DueDate) {
			continue
		}
		item.Status = models.StatusAwaitingReport
		if err := e.store.Update(ctx, item); err != nil {
			return err
		}
		e.log.Info("due date passed, item now polls for report", "content_id", item.ContentID)
	}
	return nil
}

// pollItem asks the provider whether one item's report is ready.
func (e *Engine) pollItem(ctx context.Context, item models.ContentReviewItem) error {
	log := e.log.With("content_id", item.ContentID, "item_id", item.ID)

	if item.ExternalID == nil || *item.ExternalID == "" {
		// Cannot happen through the submission path; a row like this is
		// unrecoverable without resubmission.
		item.Status = models.StatusReportErrorNoRetry
		setError(&item, 0, "item has no provider-assigned external id")
		if err := e.store.Update(ctx, item); err != nil {
			return err
		}
		e.pushAttention(ctx, item)
		return nil
	}

	outcome, err := e.adapter.PollReport(ctx, item)
	if err != nil {
		item.Status = models.StatusReportErrorRetry
		setError(&item, 0, fmt.Sprintf("poll report: %v", err))
		log.Info("report poll failed, will retry", "err", err)
		return e.store.Update(ctx, item)
	}

	switch outcome.State {
	case provider.ReportAvailable:
		now := e.now()
		score := outcome.Score
		item.Status = models.StatusReportAvailable
		item.ReviewScore = &score
		item.DateReportReceived = &now
		item.ErrorCode = nil
		item.LastError = nil
		if outcome.ReportRef != "" {
			ref := outcome.ReportRef
			item.ReportRef = &ref
		}
		telemetry.ReportsReceived.Inc()
		log.Info("report available", "score", score)
		return e.store.Update(ctx, item)

	case provider.ReportNotYet:
		// Provider is still working; leave the item where it is.
		return nil

	default: // ReportFailed
		if outcome.Terminal {
			item.Status = models.StatusReportErrorNoRetry
			setError(&item, 0, outcome.Message)
			log.Info("report failed permanently", "err", outcome.Message)
			if err := e.store.Update(ctx, item); err != nil {
				return err
			}
			e.pushAttention(ctx, item)
			return nil
		}
		item.Status = models.StatusReportErrorRetry
		setError(&item, 0, outcome.Message)
		log.Info("report failed, will retry", "err", outcome.Message)
		return e.store.Update(ctx, item)
	}
}

// OnReportReady handles an inbound provider callback keyed by the
// provider's external id. Authentication and transport happen upstream;
// the engine only matches the id and records the result. An unmatched
// callback is logged and dropped, never turned into a new item.
func (e *Engine) OnReportReady(ctx context.Context, externalID string, score int, reportRef string) error {
	item, err := e.store.FindByExternalID(ctx, e.providerID, externalID)
	if errors.Is(err, store.ErrNotFound) {
		telemetry.CallbacksDropped.Inc()
		e.log.Warn("callback for unknown external id dropped", "external_id", externalID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup callback item: %w", err)
	}
	return e.recordReport(ctx, item, score, reportRef)
}

// OnReportReadyForContent handles the callback variant keyed by the content
// id we submitted, used by providers that echo the caller's id instead of
// their own. An external id carried by the callback is recorded through
// UpdateExternalID, the one path allowed to overwrite a stored value.
func (e *Engine) OnReportReadyForContent(ctx context.Context, contentID, externalID string, score int, reportRef string) error {
	item, err := e.store.FindByContentID(ctx, e.providerID, contentID)
	if errors.Is(err, store.ErrNotFound) {
		telemetry.CallbacksDropped.Inc()
		e.log.Warn("callback for unknown content id dropped", "content_id", contentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup callback item: %w", err)
	}
	if externalID != "" {
		if _, err := e.store.UpdateExternalID(ctx, e.providerID, contentID, externalID); err != nil {
			return fmt.Errorf("record external id: %w", err)
		}
		item.ExternalID = &externalID
	}
	return e.recordReport(ctx, item, score, reportRef)
}

func (e *Engine) recordReport(ctx context.Context, item models.ContentReviewItem, score int, reportRef string) error {
	if item.Status == models.StatusReportAvailable {
		// Duplicate delivery; first result wins.
		return nil
	}

	now := e.now()
	item.Status = models.StatusReportAvailable
	item.ReviewScore = &score
	item.DateReportReceived = &now
	item.ErrorCode = nil
	item.LastError = nil
	if reportRef != "" {
		item.ReportRef = &reportRef
	}
	telemetry.ReportsReceived.Inc()
	e.log.Info("report received via callback", "content_id", item.ContentID, "score", score)
	return e.store.Update(ctx, item)
}
