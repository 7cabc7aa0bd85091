package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"content-review-queue/internal/artifact"
	"content-review-queue/internal/models"
	"content-review-queue/internal/provider"
	"content-review-queue/internal/ratelimit"
	"content-review-queue/internal/retry"
	"content-review-queue/internal/telemetry"
)

// errPassDeferred stops a pass without recording any item-level failure,
// used when the provider rate limit is exhausted or the limiter is
// unreachable.
var errPassDeferred = errors.New("pass deferred")

// ProcessQueue runs one submission pass: it repeatedly claims the oldest
// eligible item and drives it through validation and submission until no
// eligible item remains. A single item's failure never aborts the pass;
// only store-level failures do, because nothing can be durably recorded
// without the store.
func (e *Engine) ProcessQueue(ctx context.Context) error {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.batchLimit > 0 && processed >= e.batchLimit {
			break
		}

		item, ok, err := e.store.ClaimNextSubmittable(ctx, e.providerID, e.workerID, e.claimTTL)
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		if !ok {
			break
		}
		processed++

		telemetry.InFlightGauge.Inc()
		err = e.processItem(ctx, item)
		telemetry.InFlightGauge.Dec()
		if errors.Is(err, errPassDeferred) {
			break
		}
		if err != nil {
			return err
		}
	}

	if depth, err := e.store.CountSubmittable(ctx, e.providerID); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
	return nil
}

// processItem advances one claimed item. Store failures propagate; every
// other failure is absorbed into item state.
func (e *Engine) processItem(ctx context.Context, item models.ContentReviewItem) error {
	log := e.log.With("content_id", item.ContentID, "item_id", item.ID)

	// The owning activity is re-read on every pass; its settings may have
	// changed since the item was queued.
	cfg, err := e.activities.Config(ctx, item.SiteID, item.TaskID)
	if errors.Is(err, ErrActivityGone) {
		log.Info("activity gone, dropping item")
		telemetry.ItemsDropped.Inc()
		return e.store.Delete(ctx, item.ID)
	}
	if err != nil {
		// Transient collaborator failure: schedule a retry instead of
		// releasing the claim, which would re-claim the same item on the
		// next iteration and spin the pass against a down service.
		item.RetryCount++
		item.NextRetryTime = retry.NextRetryTime(e.now(), item.RetryCount)
		return e.markRetry(ctx, &item, 0, fmt.Sprintf("activity lookup: %v", err), log)
	}
	if !cfg.ReviewEnabled {
		log.Info("review disabled for activity, dropping item")
		telemetry.ItemsDropped.Inc()
		return e.store.Delete(ctx, item.ID)
	}

	// Retry bookkeeping happens before the provider call so the ceiling is
	// enforced regardless of what the provider would have answered.
	if item.RetryCount > e.maxRetries {
		return e.markExceeded(ctx, &item, log)
	}
	item.RetryCount++
	item.NextRetryTime = retry.NextRetryTime(e.now(), item.RetryCount)

	user, err := e.users.Lookup(ctx, item.UserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return e.markRetry(ctx, &item, 0, fmt.Sprintf("user lookup: %v", err), log)
	}
	if errors.Is(err, ErrUserNotFound) || !user.Complete() {
		// Needs human correction, not time; recovered via
		// ResetUserDetailsErrors once the profile is fixed.
		item.Status = models.StatusSubmissionErrorUserDetails
		setError(&item, 0, "user is missing required identity fields (email, given name, family name)")
		telemetry.UserDetailErrors.Inc()
		log.Info("missing user details, submission deferred", "user_id", item.UserID)
		return e.store.Update(ctx, item)
	}

	art, err := e.artifacts.Fetch(ctx, item.ContentID)
	if errors.Is(err, artifact.ErrArtifactGone) {
		log.Info("artifact gone, dropping item")
		telemetry.ItemsDropped.Inc()
		return e.store.Delete(ctx, item.ID)
	}
	if err != nil {
		return e.markRetry(ctx, &item, 0, fmt.Sprintf("fetch artifact: %v", err), log)
	}
	art.Name = artifact.TruncateName(art.Name, e.filenameLimit)

	if e.limiter != nil {
		allowed, _, err := e.limiter.Allow(ctx, ratelimit.ProviderKey(e.providerID))
		if err != nil {
			// Limiter down means nothing can be paced this pass; end it
			// with the item unclaimed rather than burning its retry budget.
			log.Warn("rate limiter unavailable, deferring pass", "err", err)
			if err := e.store.Release(ctx, item.ID); err != nil {
				return err
			}
			return errPassDeferred
		}
		if !allowed {
			telemetry.RateLimitDeferred.Inc()
			log.Info("provider rate limit reached, deferring pass")
			if err := e.store.Release(ctx, item.ID); err != nil {
				return err
			}
			return errPassDeferred
		}
	}

	outcome, err := e.adapter.Submit(ctx, item, cfg, user, art)
	if err != nil {
		// Transport failure or timeout: never success, always retryable.
		return e.markRetry(ctx, &item, 0, fmt.Sprintf("submit: %v", err), log)
	}

	switch outcome.Disposition {
	case provider.Accepted:
		externalID := outcome.ExternalID
		item.ExternalID = &externalID
		item.Status = models.StatusAwaitingReport
		if cfg.ReportTiming == models.ReportOnDueDate {
			item.Status = models.StatusReportOnDueDate
		}
		now := e.now()
		item.DateSubmitted = &now
		item.RetryCount = 0
		item.NextRetryTime = now
		item.ErrorCode = nil
		item.LastError = nil
		if outcome.ReportRef != "" {
			ref := outcome.ReportRef
			item.ReportRef = &ref
		}
		telemetry.SubmitAccepted.Inc()
		log.Info("submission accepted", "external_id", externalID, "status", item.Status.String())
		return e.store.Update(ctx, item)

	case provider.RejectedTerminal:
		return e.markTerminal(ctx, &item, outcome.ErrorCode, outcome.Message, log)

	default: // RejectedRetryable
		if e.classifier.Terminal(outcome.Message) {
			// Known-permanent message; retrying would loop forever.
			return e.markTerminal(ctx, &item, outcome.ErrorCode, outcome.Message, log)
		}
		return e.markRetry(ctx, &item, outcome.ErrorCode, outcome.Message, log)
	}
}

func (e *Engine) markRetry(ctx context.Context, item *models.ContentReviewItem, code int, message string, log *slog.Logger) error {
	if item.RetryCount > e.maxRetries {
		return e.markExceeded(ctx, item, log)
	}
	item.Status = models.StatusSubmissionErrorRetry
	setError(item, code, message)
	telemetry.SubmitRetried.Inc()
	log.Info("submission failed, will retry", "retry_count", item.RetryCount, "next_retry", item.NextRetryTime, "err", message)
	return e.store.Update(ctx, *item)
}

func (e *Engine) markTerminal(ctx context.Context, item *models.ContentReviewItem, code int, message string, log *slog.Logger) error {
	item.Status = models.StatusSubmissionErrorNoRetry
	setError(item, code, message)
	telemetry.SubmitTerminal.Inc()
	log.Info("submission rejected permanently", "err", message)
	if err := e.store.Update(ctx, *item); err != nil {
		return err
	}
	e.pushAttention(ctx, *item)
	return nil
}

func (e *Engine) markExceeded(ctx context.Context, item *models.ContentReviewItem, log *slog.Logger) error {
	item.Status = models.StatusSubmissionErrorRetryExceeded
	setError(item, 0, fmt.Sprintf("retry ceiling of %d exceeded; manual resubmission required", e.maxRetries))
	telemetry.SubmitTerminal.Inc()
	log.Info("retry ceiling exceeded", "retry_count", item.RetryCount)
	if err := e.store.Update(ctx, *item); err != nil {
		return err
	}
	e.pushAttention(ctx, *item)
	return nil
}

func (e *Engine) pushAttention(ctx context.Context, item models.ContentReviewItem) {
	if e.attention == nil {
		return
	}
	if err := e.attention.Push(ctx, e.providerID, item); err != nil {
		e.log.Warn("failed to record attention entry", "content_id", item.ContentID, "err", err)
	}
}

func setError(item *models.ContentReviewItem, code int, message string) {
	item.LastError = &message
	if code != 0 {
		item.ErrorCode = &code
	}
}
