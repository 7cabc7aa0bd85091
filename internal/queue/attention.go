// Package queue keeps the Redis-backed attention registry: a per-provider
// list of items that crossed into terminal failure and now need a human.
// The Postgres store remains the source of truth; this list exists so
// operators can see recent failures without scanning the table.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"content-review-queue/internal/models"
)

const maxEntries = 1000

// AttentionEntry is one terminal failure recorded for operators.
type AttentionEntry struct {
	ContentID string    `json:"content_id"`
	UserID    string    `json:"user_id"`
	TaskID    string    `json:"task_id"`
	Status    int       `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	At        time.Time `json:"at"`
}

// AttentionRegistry appends and reads terminal-failure entries in Redis.
type AttentionRegistry struct {
	client *redis.Client
}

func NewAttentionRegistry(client *redis.Client) *AttentionRegistry {
	return &AttentionRegistry{client: client}
}

func attentionKey(providerID string) string {
	return fmt.Sprintf("review:attention:%s", providerID)
}

// Push records a terminally failed item, trimming the list so it cannot grow
// without bound.
func (r *AttentionRegistry) Push(ctx context.Context, providerID string, item models.ContentReviewItem) error {
	entry := AttentionEntry{
		ContentID: item.ContentID,
		UserID:    item.UserID,
		TaskID:    item.TaskID,
		Status:    int(item.Status),
		At:        time.Now().UTC(),
	}
	if item.LastError != nil {
		entry.LastError = *item.LastError
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal attention entry: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, attentionKey(providerID), raw)
	pipe.LTrim(ctx, attentionKey(providerID), 0, maxEntries-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Peek reads the most recent entries without removing them.
func (r *AttentionRegistry) Peek(ctx context.Context, providerID string, count int64) ([]AttentionEntry, error) {
	if count <= 0 {
		count = 100
	}
	raws, err := r.client.LRange(ctx, attentionKey(providerID), 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read attention list: %w", err)
	}
	entries := make([]AttentionEntry, 0, len(raws))
	for _, raw := range raws {
		var e AttentionEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Remove drops all entries for a content id, for when an operator resolves
// or resubmits an item.
func (r *AttentionRegistry) Remove(ctx context.Context, providerID, contentID string) error {
	raws, err := r.client.LRange(ctx, attentionKey(providerID), 0, maxEntries-1).Result()
	if err != nil {
		return fmt.Errorf("read attention list: %w", err)
	}
	for _, raw := range raws {
		var e AttentionEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if e.ContentID == contentID {
			if err := r.client.LRem(ctx, attentionKey(providerID), 0, raw).Err(); err != nil {
				return fmt.Errorf("remove attention entry: %w", err)
			}
		}
	}
	return nil
}
