package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"content-review-queue/internal/artifact"
	"content-review-queue/internal/models"
	"content-review-queue/internal/provider"
	"content-review-queue/internal/store"
)

// memStore is an in-memory ItemStore with the same claim and
// insert-once-external-id semantics as the Postgres store.
type memStore struct {
	mu     sync.Mutex
	nextID int
	items  map[string]*models.ContentReviewItem
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]*models.ContentReviewItem)}
}

func (m *memStore) CreateItem(_ context.Context, p store.CreateItemParams) (models.ContentReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ProviderID == p.ProviderID && it.ContentID == p.ContentID {
			return models.ContentReviewItem{}, store.ErrDuplicateItem
		}
	}
	m.nextID++
	now := time.Now().UTC()
	item := &models.ContentReviewItem{
		ID:            itemID(m.nextID),
		ProviderID:    p.ProviderID,
		ContentID:     p.ContentID,
		UserID:        p.UserID,
		SiteID:        p.SiteID,
		TaskID:        p.TaskID,
		Status:        models.StatusNotSubmitted,
		DateQueued:    now,
		NextRetryTime: now,
		UpdatedAt:     now,
	}
	m.items[item.ID] = item
	return *item, nil
}

func itemID(n int) string {
	return "item-" + string(rune('0'+n/10)) + string(rune('0'+n%10))
}

func (m *memStore) ClaimNextSubmittable(_ context.Context, providerID, workerID string, leaseTTL time.Duration) (models.ContentReviewItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()

	var candidates []*models.ContentReviewItem
	for _, it := range m.items {
		if it.ProviderID != providerID || !submittable(it.Status) {
			continue
		}
		if it.NextRetryTime.After(now) {
			continue
		}
		if it.ClaimExpiresAt != nil && it.ClaimExpiresAt.After(now) {
			continue
		}
		candidates = append(candidates, it)
	}
	if len(candidates) == 0 {
		return models.ContentReviewItem{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DateQueued.Before(candidates[j].DateQueued)
	})
	it := candidates[0]
	expires := now.Add(leaseTTL)
	it.ClaimedBy = &workerID
	it.ClaimExpiresAt = &expires
	return *it, true, nil
}

func submittable(s models.ReviewStatus) bool {
	for _, st := range models.SubmittableStatuses() {
		if s == st {
			return true
		}
	}
	return false
}

func (m *memStore) Update(_ context.Context, item models.ContentReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Status = item.Status
	cur.ErrorCode = item.ErrorCode
	cur.LastError = item.LastError
	cur.RetryCount = item.RetryCount
	cur.NextRetryTime = item.NextRetryTime
	if item.ReviewScore != nil {
		cur.ReviewScore = item.ReviewScore
	}
	if item.ReportRef != nil {
		cur.ReportRef = item.ReportRef
	}
	if cur.ExternalID == nil && item.ExternalID != nil && *item.ExternalID != "" {
		cur.ExternalID = item.ExternalID
	}
	if item.DateSubmitted != nil {
		cur.DateSubmitted = item.DateSubmitted
	}
	if item.DateReportReceived != nil {
		cur.DateReportReceived = item.DateReportReceived
	}
	cur.ClaimedBy = nil
	cur.ClaimExpiresAt = nil
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[id]; ok {
		it.ClaimedBy = nil
		it.ClaimExpiresAt = nil
	}
	return nil
}

func (m *memStore) UpdateExternalID(_ context.Context, providerID, contentID, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ProviderID == providerID && it.ContentID == contentID {
			it.ExternalID = &externalID
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FindByContentID(_ context.Context, providerID, contentID string) (models.ContentReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ProviderID == providerID && it.ContentID == contentID {
			return *it, nil
		}
	}
	return models.ContentReviewItem{}, store.ErrNotFound
}

func (m *memStore) FindByExternalID(_ context.Context, providerID, externalID string) (models.ContentReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ProviderID == providerID && it.ExternalID != nil && *it.ExternalID == externalID {
			return *it, nil
		}
	}
	return models.ContentReviewItem{}, store.ErrNotFound
}

func (m *memStore) FindAwaitingReport(_ context.Context, providerID string, limit int) ([]models.ContentReviewItem, error) {
	return m.findByStatuses(providerID, models.StatusAwaitingReport, models.StatusReportErrorRetry), nil
}

func (m *memStore) FindOnDueDate(_ context.Context, providerID string, limit int) ([]models.ContentReviewItem, error) {
	return m.findByStatuses(providerID, models.StatusReportOnDueDate), nil
}

func (m *memStore) findByStatuses(providerID string, statuses ...models.ReviewStatus) []models.ContentReviewItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ContentReviewItem
	for _, it := range m.items {
		if it.ProviderID != providerID {
			continue
		}
		for _, st := range statuses {
			if it.Status == st {
				out = append(out, *it)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateQueued.Before(out[j].DateQueued) })
	return out
}

func (m *memStore) FindAllForActivity(_ context.Context, providerID, siteID, taskID string) ([]models.ContentReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ContentReviewItem
	for _, it := range m.items {
		if it.ProviderID != providerID || it.TaskID != taskID {
			continue
		}
		if siteID != "" && it.SiteID != siteID {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateQueued.Before(out[j].DateQueued) })
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memStore) ResetUserDetailsErrors(_ context.Context, providerID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, it := range m.items {
		if it.ProviderID == providerID && it.UserID == userID && it.Status == models.StatusSubmissionErrorUserDetails {
			it.Status = models.StatusSubmissionErrorRetry
			it.NextRetryTime = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpdatePendingStatusForActivity(_ context.Context, providerID, taskID string, timing models.ReportTiming) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, to := models.StatusReportOnDueDate, models.StatusAwaitingReport
	if timing == models.ReportOnDueDate {
		from, to = models.StatusAwaitingReport, models.StatusReportOnDueDate
	}
	var n int64
	for _, it := range m.items {
		if it.ProviderID == providerID && it.TaskID == taskID && it.Status == from {
			it.Status = to
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountSubmittable(_ context.Context, providerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var n int64
	for _, it := range m.items {
		if it.ProviderID == providerID && submittable(it.Status) && !it.NextRetryTime.After(now) {
			n++
		}
	}
	return n, nil
}

// get returns a snapshot of an item by content id, for assertions.
func (m *memStore) get(contentID string) (models.ContentReviewItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ContentID == contentID {
			return *it, true
		}
	}
	return models.ContentReviewItem{}, false
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// fakeAdapter scripts provider behavior per content id.
type fakeAdapter struct {
	mu          sync.Mutex
	providerID  string
	submissions map[string]provider.SubmissionOutcome
	submitErr   map[string]error
	reports     map[string]provider.ReportOutcome
	pollErr     map[string]error
	submitCalls []string
	pollCalls   []string
	sentNames   []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		providerID:  "turnitin",
		submissions: make(map[string]provider.SubmissionOutcome),
		submitErr:   make(map[string]error),
		reports:     make(map[string]provider.ReportOutcome),
		pollErr:     make(map[string]error),
	}
}

func (f *fakeAdapter) ProviderID() string { return f.providerID }

func (f *fakeAdapter) Submit(_ context.Context, item models.ContentReviewItem, _ models.ActivityConfig, _ models.UserInfo, art models.Artifact) (provider.SubmissionOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls = append(f.submitCalls, item.ContentID)
	f.sentNames = append(f.sentNames, art.Name)
	if err, ok := f.submitErr[item.ContentID]; ok {
		return provider.SubmissionOutcome{}, err
	}
	return f.submissions[item.ContentID], nil
}

func (f *fakeAdapter) PollReport(_ context.Context, item models.ContentReviewItem) (provider.ReportOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls = append(f.pollCalls, item.ContentID)
	if err, ok := f.pollErr[item.ContentID]; ok {
		return provider.ReportOutcome{}, err
	}
	return f.reports[item.ContentID], nil
}

func (f *fakeAdapter) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitCalls)
}

// fakeUsers resolves identities from a map; absent ids are ErrUserNotFound.
// A non-nil lookupErr simulates the directory being down.
type fakeUsers struct {
	users     map[string]models.UserInfo
	lookupErr error
}

func (f *fakeUsers) Lookup(_ context.Context, userID string) (models.UserInfo, error) {
	if f.lookupErr != nil {
		return models.UserInfo{}, f.lookupErr
	}
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return models.UserInfo{}, ErrUserNotFound
}

// fakeActivities serves activity configs from a map; absent tasks are gone.
// A non-nil lookupErr simulates the config service being down; calls counts
// every lookup.
type fakeActivities struct {
	mu        sync.Mutex
	configs   map[string]models.ActivityConfig
	lookupErr error
	calls     int
}

func (f *fakeActivities) Config(_ context.Context, _, taskID string) (models.ActivityConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.lookupErr != nil {
		return models.ActivityConfig{}, f.lookupErr
	}
	if cfg, ok := f.configs[taskID]; ok {
		return cfg, nil
	}
	return models.ActivityConfig{}, ErrActivityGone
}

func (f *fakeActivities) set(taskID string, cfg models.ActivityConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[taskID] = cfg
}

// fakeArtifacts serves artifacts from a map; absent ids are gone.
type fakeArtifacts struct {
	artifacts map[string]models.Artifact
}

func (f *fakeArtifacts) Fetch(_ context.Context, contentID string) (models.Artifact, error) {
	if a, ok := f.artifacts[contentID]; ok {
		return a, nil
	}
	return models.Artifact{}, artifact.ErrArtifactGone
}

// fakeLimiter allows a fixed number of calls; a non-nil err simulates the
// limiter backend being unreachable.
type fakeLimiter struct {
	mu        sync.Mutex
	remaining int
	err       error
}

func (f *fakeLimiter) Allow(_ context.Context, _ string) (bool, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, 0, f.err
	}
	if f.remaining <= 0 {
		return false, 0, nil
	}
	f.remaining--
	return true, float64(f.remaining), nil
}

// fakeAttention records pushes.
type fakeAttention struct {
	mu      sync.Mutex
	entries []models.ContentReviewItem
}

func (f *fakeAttention) Push(_ context.Context, _ string, item models.ContentReviewItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, item)
	return nil
}

func (f *fakeAttention) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
