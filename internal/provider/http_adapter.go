package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"content-review-queue/internal/models"
)

// HTTPConfig configures the HTTP adapter. Mode selects between the
// provider's legacy form API and its LTI-style JSON API; the branch stays
// inside this adapter so the engine never sees it.
type HTTPConfig struct {
	ProviderID string
	BaseURL    string
	Mode       string // "legacy" or "lti"
	APIKey     string
	Timeout    time.Duration
}

// HTTPAdapter talks to a provider over HTTP. It satisfies Adapter.
type HTTPAdapter struct {
	cfg    HTTPConfig
	client *http.Client
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter builds an adapter with a bounded client timeout. A call
// that outlives the timeout surfaces as a transport error, which the engine
// treats as retryable, never as success.
func NewHTTPAdapter(cfg HTTPConfig) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = "legacy"
	}
	return &HTTPAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) ProviderID() string {
	return a.cfg.ProviderID
}

// submitResponse is the provider's answer to a submission in either mode.
type submitResponse struct {
	Status     string `json:"status"` // "accepted" or "rejected"
	ExternalID string `json:"external_id"`
	ReportRef  string `json:"report_url"`
	ErrorCode  int    `json:"error_code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

// Submit uploads the artifact and interprets the provider's answer.
func (a *HTTPAdapter) Submit(ctx context.Context, item models.ContentReviewItem, cfg models.ActivityConfig, user models.UserInfo, artifact models.Artifact) (SubmissionOutcome, error) {
	var req *http.Request
	var err error
	if a.cfg.Mode == "lti" {
		req, err = a.buildLTIRequest(ctx, item, cfg, user, artifact)
	} else {
		req, err = a.buildLegacyRequest(ctx, item, cfg, user, artifact)
	}
	if err != nil {
		return SubmissionOutcome{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return SubmissionOutcome{}, fmt.Errorf("submit to provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return SubmissionOutcome{}, fmt.Errorf("provider unavailable: status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		return SubmissionOutcome{}, fmt.Errorf("decode provider response: %w", err)
	}

	if sr.Status == "accepted" {
		if sr.ExternalID == "" {
			return SubmissionOutcome{}, fmt.Errorf("provider accepted without external id")
		}
		return SubmissionOutcome{
			Disposition: Accepted,
			ExternalID:  sr.ExternalID,
			ReportRef:   sr.ReportRef,
		}, nil
	}

	disposition := RejectedTerminal
	if sr.Retryable {
		disposition = RejectedRetryable
	}
	return SubmissionOutcome{
		Disposition: disposition,
		ErrorCode:   sr.ErrorCode,
		Message:     sr.Message,
	}, nil
}

// buildLegacyRequest uses the provider's original multipart form upload.
func (a *HTTPAdapter) buildLegacyRequest(ctx context.Context, item models.ContentReviewItem, cfg models.ActivityConfig, user models.UserInfo, artifact models.Artifact) (*http.Request, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	fields := map[string]string{
		"content_id":   item.ContentID,
		"assignment":   item.TaskID,
		"site":         item.SiteID,
		"email":        user.Email,
		"first_name":   user.GivenName,
		"last_name":    user.FamilyName,
		"repository":   cfg.Repository,
		"exclude_bib":  boolField(cfg.ExcludeBibliographic),
		"exclude_quot": boolField(cfg.ExcludeQuoted),
		"exclude_self": boolField(cfg.ExcludeSelfPlagiarism),
	}
	if cfg.SmallMatchThreshold > 0 {
		fields["small_match_type"] = string(cfg.SmallMatchType)
		fields["small_match_threshold"] = fmt.Sprintf("%d", cfg.SmallMatchThreshold)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", k, err)
		}
	}

	part, err := w.CreateFormFile("submission", artifact.Name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(artifact.Data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/api/submissions", body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

// ltiSubmission is the JSON body for LTI-mode submissions; file content is
// base64-encoded by encoding/json's []byte handling.
type ltiSubmission struct {
	ContentID   string            `json:"content_id"`
	Resource    string            `json:"resource_link_id"`
	Context     string            `json:"context_id"`
	User        models.UserInfo   `json:"user"`
	FileName    string            `json:"file_name"`
	ContentType string            `json:"content_type"`
	Data        []byte            `json:"data"`
	Settings    map[string]string `json:"settings,omitempty"`
}

func (a *HTTPAdapter) buildLTIRequest(ctx context.Context, item models.ContentReviewItem, cfg models.ActivityConfig, user models.UserInfo, artifact models.Artifact) (*http.Request, error) {
	payload := ltiSubmission{
		ContentID:   item.ContentID,
		Resource:    item.TaskID,
		Context:     item.SiteID,
		User:        user,
		FileName:    artifact.Name,
		ContentType: artifact.ContentType,
		Data:        artifact.Data,
		Settings: map[string]string{
			"exclude_bibliographic":   boolField(cfg.ExcludeBibliographic),
			"exclude_quoted":          boolField(cfg.ExcludeQuoted),
			"exclude_self_plagiarism": boolField(cfg.ExcludeSelfPlagiarism),
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal lti submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/lti/submissions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// reportResponse is the provider's answer to a report poll.
type reportResponse struct {
	State     string `json:"state"` // "available", "pending", "failed"
	Score     int    `json:"score"`
	ReportRef string `json:"report_url"`
	Terminal  bool   `json:"terminal"`
	Message   string `json:"message"`
}

// PollReport checks whether the originality report for a previously accepted
// submission is ready.
func (a *HTTPAdapter) PollReport(ctx context.Context, item models.ContentReviewItem) (ReportOutcome, error) {
	if item.ExternalID == nil || *item.ExternalID == "" {
		return ReportOutcome{}, fmt.Errorf("item %s has no external id", item.ContentID)
	}
	url := fmt.Sprintf("%s/api/reports/%s", a.cfg.BaseURL, *item.ExternalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ReportOutcome{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return ReportOutcome{}, fmt.Errorf("poll provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return ReportOutcome{}, fmt.Errorf("provider unavailable: status %d", resp.StatusCode)
	}

	var rr reportResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rr); err != nil {
		return ReportOutcome{}, fmt.Errorf("decode report response: %w", err)
	}

	switch rr.State {
	case "available":
		return ReportOutcome{State: ReportAvailable, Score: rr.Score, ReportRef: rr.ReportRef}, nil
	case "pending":
		return ReportOutcome{State: ReportNotYet}, nil
	default:
		return ReportOutcome{State: ReportFailed, Terminal: rr.Terminal, Message: rr.Message}, nil
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
