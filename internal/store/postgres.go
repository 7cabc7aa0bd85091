// Package store persists content review items in Postgres. It is the only
// durable state the queue engine owns.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-review-queue/internal/models"
)

// ErrNotFound is returned when no item matches a lookup.
var ErrNotFound = errors.New("review item not found")

// ErrDuplicateItem is returned when an insert collides with a live item for
// the same (provider_id, content_id) pair.
var ErrDuplicateItem = errors.New("review item already queued for this content")

const itemColumns = `id, provider_id, content_id, user_id, site_id, task_id, external_id,
	status, error_code, last_error, retry_count, review_score, report_ref,
	date_queued, date_submitted, date_report_received, next_retry_time,
	claimed_by, claim_expires_at, updated_at`

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateItemParams collects inputs required to insert a new item.
type CreateItemParams struct {
	ProviderID string
	ContentID  string
	UserID     string
	SiteID     string
	TaskID     string
}

// CreateItem inserts a fresh item in not_submitted state, immediately
// eligible for submission. A live duplicate for the same provider and
// content yields ErrDuplicateItem.
func (s *Store) CreateItem(ctx context.Context, p CreateItemParams) (models.ContentReviewItem, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO review_items (id, provider_id, content_id, user_id, site_id, task_id,
			status, retry_count, date_queued, next_retry_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8, $8)
	`, id, p.ProviderID, p.ContentID, p.UserID, p.SiteID, p.TaskID, int(models.StatusNotSubmitted), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ContentReviewItem{}, fmt.Errorf("%w: provider=%s content=%s", ErrDuplicateItem, p.ProviderID, p.ContentID)
		}
		return models.ContentReviewItem{}, fmt.Errorf("insert review item: %w", err)
	}

	return models.ContentReviewItem{
		ID:            id,
		ProviderID:    p.ProviderID,
		ContentID:     p.ContentID,
		UserID:        p.UserID,
		SiteID:        p.SiteID,
		TaskID:        p.TaskID,
		Status:        models.StatusNotSubmitted,
		DateQueued:    now,
		NextRetryTime: now,
		UpdatedAt:     now,
	}, nil
}

// ClaimNextSubmittable atomically claims the oldest eligible item for the
// provider. Eligible means a submittable status, next_retry_time in the
// past, and no unexpired claim. The conditional UPDATE over a SKIP LOCKED
// subselect guarantees at most one worker holds an item; an expired lease
// makes a crashed worker's claim reclaimable without a reaper.
func (s *Store) ClaimNextSubmittable(ctx context.Context, providerID, workerID string, leaseTTL time.Duration) (models.ContentReviewItem, bool, error) {
	statuses := make([]int32, 0, 3)
	for _, st := range models.SubmittableStatuses() {
		statuses = append(statuses, int32(st))
	}
	expires := time.Now().UTC().Add(leaseTTL)

	row := s.pool.QueryRow(ctx, `
		UPDATE review_items
		SET claimed_by = $2, claim_expires_at = $3, updated_at = NOW()
		WHERE id = (
			SELECT id FROM review_items
			WHERE provider_id = $1
			  AND status = ANY($4)
			  AND next_retry_time <= NOW()
			  AND (claim_expires_at IS NULL OR claim_expires_at <= NOW())
			ORDER BY date_queued
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemColumns,
		providerID, workerID, expires, statuses)

	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContentReviewItem{}, false, nil
	}
	if err != nil {
		return models.ContentReviewItem{}, false, fmt.Errorf("claim next submittable: %w", err)
	}
	return item, true, nil
}

// Update persists the outcome of a pipeline pass and releases the claim.
// external_id keeps insert-once semantics: a full save can set it when empty
// but never clear or replace a value another path already wrote. Score,
// report reference, and report timestamp are likewise write-only-forward so
// a submission-path save cannot erase what a callback recorded first.
func (s *Store) Update(ctx context.Context, item models.ContentReviewItem) error {
	externalID := ""
	if item.ExternalID != nil {
		externalID = *item.ExternalID
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_items
		SET status = $2,
		    error_code = $3,
		    last_error = $4,
		    retry_count = $5,
		    review_score = COALESCE($6, review_score),
		    report_ref = COALESCE($7, report_ref),
		    external_id = COALESCE(external_id, NULLIF($8, '')),
		    date_submitted = COALESCE($9, date_submitted),
		    date_report_received = COALESCE($10, date_report_received),
		    next_retry_time = $11,
		    claimed_by = NULL,
		    claim_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, item.ID, int(item.Status), item.ErrorCode, item.LastError, item.RetryCount,
		item.ReviewScore, item.ReportRef, externalID,
		item.DateSubmitted, item.DateReportReceived, item.NextRetryTime)
	if err != nil {
		return fmt.Errorf("update review item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Release clears a claim without changing item state, making the item
// visible to the next pass.
func (s *Store) Release(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE review_items
		SET claimed_by = NULL, claim_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// UpdateExternalID is the only sanctioned way to change an external id after
// creation. Returns false when no item matches the content id.
func (s *Store) UpdateExternalID(ctx context.Context, providerID, contentID, externalID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_items
		SET external_id = $3, updated_at = NOW()
		WHERE provider_id = $1 AND content_id = $2
	`, providerID, contentID, externalID)
	if err != nil {
		return false, fmt.Errorf("update external id: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindByContentID fetches the live item for a content id.
func (s *Store) FindByContentID(ctx context.Context, providerID, contentID string) (models.ContentReviewItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM review_items
		WHERE provider_id = $1 AND content_id = $2
	`, providerID, contentID)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContentReviewItem{}, ErrNotFound
	}
	if err != nil {
		return models.ContentReviewItem{}, fmt.Errorf("find by content id: %w", err)
	}
	return item, nil
}

// FindByExternalID fetches the item the provider assigned this id to.
func (s *Store) FindByExternalID(ctx context.Context, providerID, externalID string) (models.ContentReviewItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM review_items
		WHERE provider_id = $1 AND external_id = $2
	`, providerID, externalID)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContentReviewItem{}, ErrNotFound
	}
	if err != nil {
		return models.ContentReviewItem{}, fmt.Errorf("find by external id: %w", err)
	}
	return item, nil
}

// FindAwaitingReport lists items the report pass should poll.
func (s *Store) FindAwaitingReport(ctx context.Context, providerID string, limit int) ([]models.ContentReviewItem, error) {
	return s.findByStatuses(ctx, providerID, []models.ReviewStatus{models.StatusAwaitingReport, models.StatusReportErrorRetry}, limit)
}

// FindOnDueDate lists items parked until their activity's due date passes.
func (s *Store) FindOnDueDate(ctx context.Context, providerID string, limit int) ([]models.ContentReviewItem, error) {
	return s.findByStatuses(ctx, providerID, []models.ReviewStatus{models.StatusReportOnDueDate}, limit)
}

func (s *Store) findByStatuses(ctx context.Context, providerID string, statuses []models.ReviewStatus, limit int) ([]models.ContentReviewItem, error) {
	codes := make([]int32, 0, len(statuses))
	for _, st := range statuses {
		codes = append(codes, int32(st))
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM review_items
		WHERE provider_id = $1 AND status = ANY($2)
		ORDER BY date_queued
		LIMIT $3
	`, providerID, codes, limit)
	if err != nil {
		return nil, fmt.Errorf("find by statuses: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// FindAllForActivity lists items for an activity, optionally narrowed to a
// site.
func (s *Store) FindAllForActivity(ctx context.Context, providerID, siteID, taskID string) ([]models.ContentReviewItem, error) {
	var rows pgx.Rows
	var err error
	if siteID == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+itemColumns+` FROM review_items
			WHERE provider_id = $1 AND task_id = $2
			ORDER BY date_queued
		`, providerID, taskID)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+itemColumns+` FROM review_items
			WHERE provider_id = $1 AND task_id = $2 AND site_id = $3
			ORDER BY date_queued
		`, providerID, taskID, siteID)
	}
	if err != nil {
		return nil, fmt.Errorf("find for activity: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// Delete removes an item. Used when the owning activity no longer wants
// review or the artifact is gone.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM review_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review item: %w", err)
	}
	return nil
}

// ResetUserDetailsErrors bulk-transitions a user's user-details errors back
// to retryable once their profile has been corrected. Items become
// immediately eligible.
func (s *Store) ResetUserDetailsErrors(ctx context.Context, providerID, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_items
		SET status = $3, next_retry_time = NOW(), updated_at = NOW()
		WHERE provider_id = $1 AND user_id = $2 AND status = $4
	`, providerID, userID, int(models.StatusSubmissionErrorRetry), int(models.StatusSubmissionErrorUserDetails))
	if err != nil {
		return 0, fmt.Errorf("reset user details errors: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdatePendingStatusForActivity bulk-migrates an activity's pending items
// between awaiting-report and report-on-due-date when the report timing
// setting is toggled.
func (s *Store) UpdatePendingStatusForActivity(ctx context.Context, providerID, taskID string, timing models.ReportTiming) (int64, error) {
	from, to := int(models.StatusReportOnDueDate), int(models.StatusAwaitingReport)
	if timing == models.ReportOnDueDate {
		from, to = int(models.StatusAwaitingReport), int(models.StatusReportOnDueDate)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_items
		SET status = $4, updated_at = NOW()
		WHERE provider_id = $1 AND task_id = $2 AND status = $3
	`, providerID, taskID, from, to)
	if err != nil {
		return 0, fmt.Errorf("update pending status for activity: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountSubmittable returns how many items are currently eligible for the
// submission pass, for queue-depth metrics.
func (s *Store) CountSubmittable(ctx context.Context, providerID string) (int64, error) {
	statuses := make([]int32, 0, 3)
	for _, st := range models.SubmittableStatuses() {
		statuses = append(statuses, int32(st))
	}
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM review_items
		WHERE provider_id = $1 AND status = ANY($2) AND next_retry_time <= NOW()
	`, providerID, statuses).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count submittable: %w", err)
	}
	return n, nil
}

func collectItems(rows pgx.Rows) ([]models.ContentReviewItem, error) {
	var items []models.ContentReviewItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review items: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (models.ContentReviewItem, error) {
	var item models.ContentReviewItem
	var status int
	var externalID, lastError, reportRef, claimedBy pgtype.Text
	var errorCode, reviewScore pgtype.Int4
	var dateSubmitted, dateReportReceived, claimExpires pgtype.Timestamptz

	err := row.Scan(&item.ID, &item.ProviderID, &item.ContentID, &item.UserID,
		&item.SiteID, &item.TaskID, &externalID, &status, &errorCode, &lastError,
		&item.RetryCount, &reviewScore, &reportRef, &item.DateQueued,
		&dateSubmitted, &dateReportReceived, &item.NextRetryTime,
		&claimedBy, &claimExpires, &item.UpdatedAt)
	if err != nil {
		return models.ContentReviewItem{}, err
	}

	item.Status = models.StatusFromCode(status)
	item.ExternalID = textPtr(externalID)
	item.LastError = textPtr(lastError)
	item.ReportRef = textPtr(reportRef)
	item.ClaimedBy = textPtr(claimedBy)
	item.ErrorCode = intPtr(errorCode)
	item.ReviewScore = intPtr(reviewScore)
	item.DateSubmitted = timePtr(dateSubmitted)
	item.DateReportReceived = timePtr(dateReportReceived)
	item.ClaimExpiresAt = timePtr(claimExpires)
	return item, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func intPtr(i pgtype.Int4) *int {
	if i.Valid {
		v := int(i.Int32)
		return &v
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
