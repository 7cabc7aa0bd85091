package models

// ReviewStatus is a lifecycle state persisted with every review item. The
// numeric codes are stable: they are stored in Postgres and exposed over the
// API, so they must never be renumbered.
type ReviewStatus int

const (
	StatusUnknown ReviewStatus = iota
	StatusNotSubmitted
	StatusAwaitingReport
	StatusReportAvailable
	StatusReportOnDueDate
	StatusSubmissionErrorRetry
	StatusSubmissionErrorNoRetry
	StatusSubmissionErrorUserDetails
	StatusSubmissionErrorRetryExceeded
	StatusReportErrorRetry
	StatusReportErrorNoRetry
)

var statusNames = map[ReviewStatus]string{
	StatusUnknown:                      "unknown",
	StatusNotSubmitted:                 "not_submitted",
	StatusAwaitingReport:               "submitted_awaiting_report",
	StatusReportAvailable:              "submitted_report_available",
	StatusReportOnDueDate:              "submitted_report_on_due_date",
	StatusSubmissionErrorRetry:         "submission_error_retry",
	StatusSubmissionErrorNoRetry:       "submission_error_no_retry",
	StatusSubmissionErrorUserDetails:   "submission_error_user_details",
	StatusSubmissionErrorRetryExceeded: "submission_error_retry_exceeded",
	StatusReportErrorRetry:             "report_error_retry",
	StatusReportErrorNoRetry:           "report_error_no_retry",
}

func (s ReviewStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// StatusFromCode maps a stored code back to a status. Unmapped codes come
// back as StatusUnknown, which is never written deliberately.
func StatusFromCode(code int) ReviewStatus {
	s := ReviewStatus(code)
	if _, ok := statusNames[s]; !ok || s == StatusUnknown {
		return StatusUnknown
	}
	return s
}

// Pending reports whether the item is waiting on the provider or the clock
// rather than on the submission pipeline.
func (s ReviewStatus) Pending() bool {
	switch s {
	case StatusNotSubmitted, StatusAwaitingReport, StatusReportOnDueDate:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition can occur.
func (s ReviewStatus) Terminal() bool {
	switch s {
	case StatusReportAvailable, StatusSubmissionErrorNoRetry,
		StatusSubmissionErrorRetryExceeded, StatusReportErrorNoRetry:
		return true
	}
	return false
}

// RetryEligible reports whether the submission pipeline may claim the item
// again. User-details errors are included: they recover once the profile is
// fixed, and retrying is how the fix is picked up.
func (s ReviewStatus) RetryEligible() bool {
	switch s {
	case StatusSubmissionErrorRetry, StatusSubmissionErrorUserDetails, StatusReportErrorRetry:
		return true
	}
	return false
}

// IsError reports whether the status records a failure of either pipeline.
func (s ReviewStatus) IsError() bool {
	switch s {
	case StatusSubmissionErrorRetry, StatusSubmissionErrorNoRetry,
		StatusSubmissionErrorUserDetails, StatusSubmissionErrorRetryExceeded,
		StatusReportErrorRetry, StatusReportErrorNoRetry:
		return true
	}
	return false
}

// SubmittableStatuses are the states claimNextSubmittable selects from.
func SubmittableStatuses() []ReviewStatus {
	return []ReviewStatus{StatusNotSubmitted, StatusSubmissionErrorRetry, StatusSubmissionErrorUserDetails}
}
