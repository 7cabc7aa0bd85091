// Package provider defines the boundary to the external originality-checking
// service. The engine only ever sees submission and report outcomes; the wire
// format lives entirely inside an Adapter implementation.
package provider

import (
	"context"
	"strings"

	"content-review-queue/internal/models"
)

// Disposition classifies how the provider answered a submission.
type Disposition int

const (
	// Accepted means the provider took the content and assigned it an
	// external id.
	Accepted Disposition = iota
	// RejectedRetryable means the submission failed for a reason that time
	// may fix (rate limit, provider outage, transient validation).
	RejectedRetryable
	// RejectedTerminal means the provider will never accept this content as
	// submitted (bad format, no extractable text).
	RejectedTerminal
)

// SubmissionOutcome is the interpreted result of one submission attempt.
type SubmissionOutcome struct {
	Disposition Disposition
	ExternalID  string
	ReportRef   string
	ErrorCode   int
	Message     string
}

// ReportState classifies a report poll.
type ReportState int

const (
	// ReportAvailable means the originality report is ready.
	ReportAvailable ReportState = iota
	// ReportNotYet means the provider is still generating the report.
	ReportNotYet
	// ReportFailed means the poll failed; Terminal distinguishes permanent
	// failures from ones worth retrying.
	ReportFailed
)

// ReportOutcome is the interpreted result of one report poll.
type ReportOutcome struct {
	State     ReportState
	Score     int
	ReportRef string
	Terminal  bool
	Message   string
}

// Adapter is implemented once per provider backend. Transport-level failures
// (timeouts, connection errors) are returned as errors and treated as
// retryable by the engine; everything the provider actually said comes back
// as an outcome.
type Adapter interface {
	ProviderID() string
	Submit(ctx context.Context, item models.ContentReviewItem, cfg models.ActivityConfig, user models.UserInfo, artifact models.Artifact) (SubmissionOutcome, error)
	PollReport(ctx context.Context, item models.ContentReviewItem) (ReportOutcome, error)
}

// Classifier decides whether a provider error message is known to be
// permanent regardless of the error code it arrived with. The set is
// injectable so per-deployment provider quirks do not require a rebuild.
type Classifier struct {
	terminal []string
}

// DefaultTerminalMessages are provider responses that never succeed on
// retry no matter how often the item is resubmitted.
var DefaultTerminalMessages = []string{
	"your submission does not contain valid text",
	"your submission must contain at least 20 words",
	"you must upload a supported file type",
	"the uploaded file is too large",
	"this paper has already been submitted",
}

// NewClassifier builds a classifier over the given messages, falling back to
// the shipped defaults when none are configured.
func NewClassifier(messages []string) *Classifier {
	if len(messages) == 0 {
		messages = DefaultTerminalMessages
	}
	normalized := make([]string, 0, len(messages))
	for _, m := range messages {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			normalized = append(normalized, m)
		}
	}
	return &Classifier{terminal: normalized}
}

// Terminal reports whether the message matches a known-permanent provider
// error. Matching is case-insensitive substring containment: providers
// decorate these messages with ids and punctuation.
func (c *Classifier) Terminal(message string) bool {
	msg := strings.ToLower(message)
	for _, t := range c.terminal {
		if strings.Contains(msg, t) {
			return true
		}
	}
	return false
}
