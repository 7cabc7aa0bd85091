package models

import (
	"time"
)

// ContentReviewItem represents one queued unit of review work persisted in
// Postgres. Items are partitioned per provider; a (provider_id, content_id)
// pair is unique across live items.
type ContentReviewItem struct {
	ID                 string       `json:"id"`
	ProviderID         string       `json:"provider_id"`
	ContentID          string       `json:"content_id"`
	UserID             string       `json:"user_id"`
	SiteID             string       `json:"site_id"`
	TaskID             string       `json:"task_id"`
	ExternalID         *string      `json:"external_id,omitempty"`
	Status             ReviewStatus `json:"status"`
	StatusName         string       `json:"status_name,omitempty"`
	ErrorCode          *int         `json:"error_code,omitempty"`
	LastError          *string      `json:"last_error,omitempty"`
	RetryCount         int          `json:"retry_count"`
	ReviewScore        *int         `json:"review_score,omitempty"`
	ReportRef          *string      `json:"report_ref,omitempty"`
	DateQueued         time.Time    `json:"date_queued"`
	DateSubmitted      *time.Time   `json:"date_submitted,omitempty"`
	DateReportReceived *time.Time   `json:"date_report_received,omitempty"`
	NextRetryTime      time.Time    `json:"next_retry_time"`
	ClaimedBy          *string      `json:"claimed_by,omitempty"`
	ClaimExpiresAt     *time.Time   `json:"claim_expires_at,omitempty"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// ReportTiming controls when the provider generates originality reports for
// an activity's submissions.
type ReportTiming string

const (
	ReportImmediately ReportTiming = "immediately"
	ReportOnDueDate   ReportTiming = "due_date"
)

// SmallMatchType qualifies the small-match exclusion threshold.
type SmallMatchType string

const (
	SmallMatchWords      SmallMatchType = "words"
	SmallMatchPercentage SmallMatchType = "percentage"
)

// ActivityConfig is the per-activity review configuration owned by the
// surrounding tool. The engine reads it before every submission and never
// mutates it.
type ActivityConfig struct {
	TaskID                string         `json:"task_id"`
	SiteID                string         `json:"site_id"`
	ReviewEnabled         bool           `json:"review_enabled"`
	AllowAnyFileType      bool           `json:"allow_any_file_type"`
	ReportTiming          ReportTiming   `json:"report_timing"`
	DueDate               *time.Time     `json:"due_date,omitempty"`
	ExcludeBibliographic  bool           `json:"exclude_bibliographic"`
	ExcludeQuoted         bool           `json:"exclude_quoted"`
	ExcludeSelfPlagiarism bool           `json:"exclude_self_plagiarism"`
	SmallMatchType        SmallMatchType `json:"small_match_type,omitempty"`
	SmallMatchThreshold   int            `json:"small_match_threshold,omitempty"`
	Repository            string         `json:"repository,omitempty"`
}

// UserInfo carries the identity attributes the provider requires on every
// submission.
type UserInfo struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// Complete reports whether every provider-required field is present.
func (u UserInfo) Complete() bool {
	return u.Email != "" && u.GivenName != "" && u.FamilyName != ""
}

// Artifact is the resolved content of a review item: the stored file bytes
// plus the display name the provider shows to instructors.
type Artifact struct {
	ContentID   string
	Name        string
	ContentType string
	Data        []byte
}
