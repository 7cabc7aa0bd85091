// Package directory holds the HTTP clients for the two collaborators the
// engine consults every pass: the user directory and the activity
// configuration service. Both live in the owning tool, not in this service.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"content-review-queue/internal/engine"
	"content-review-queue/internal/models"
)

// UserClient resolves user identity attributes over HTTP. It satisfies
// engine.UserDirectory.
type UserClient struct {
	baseURL string
	client  *http.Client
}

var _ engine.UserDirectory = (*UserClient)(nil)

func NewUserClient(baseURL string, timeout time.Duration) *UserClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UserClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Lookup fetches a user's identity fields. A 404 maps to ErrUserNotFound;
// the caller decides whether that is terminal or needs human correction.
func (c *UserClient) Lookup(ctx context.Context, userID string) (models.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+userID, nil)
	if err != nil {
		return models.UserInfo{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return models.UserInfo{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.UserInfo{}, engine.ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return models.UserInfo{}, fmt.Errorf("lookup user %s: unexpected status %d", userID, resp.StatusCode)
	}

	var user models.UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return models.UserInfo{}, fmt.Errorf("decode user %s: %w", userID, err)
	}
	if user.UserID == "" {
		user.UserID = userID
	}
	return user, nil
}

// ActivityClient reads per-activity review settings over HTTP. It satisfies
// engine.ActivitySource.
type ActivityClient struct {
	baseURL string
	client  *http.Client
}

var _ engine.ActivitySource = (*ActivityClient)(nil)

func NewActivityClient(baseURL string, timeout time.Duration) *ActivityClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ActivityClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Config fetches an activity's current review settings. A 404 or 410 means
// the activity no longer exists and maps to ErrActivityGone.
func (c *ActivityClient) Config(ctx context.Context, siteID, taskID string) (models.ActivityConfig, error) {
	url := fmt.Sprintf("%s/sites/%s/tasks/%s", c.baseURL, siteID, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.ActivityConfig{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return models.ActivityConfig{}, fmt.Errorf("lookup activity %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return models.ActivityConfig{}, engine.ErrActivityGone
	}
	if resp.StatusCode != http.StatusOK {
		return models.ActivityConfig{}, fmt.Errorf("lookup activity %s: unexpected status %d", taskID, resp.StatusCode)
	}

	var cfg models.ActivityConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return models.ActivityConfig{}, fmt.Errorf("decode activity %s: %w", taskID, err)
	}
	if cfg.TaskID == "" {
		cfg.TaskID = taskID
	}
	return cfg, nil
}
