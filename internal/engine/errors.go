package engine

import "errors"

// ErrQueue is returned by Enqueue when content cannot be queued: no
// artifacts were given, or one is already queued for this provider.
var ErrQueue = errors.New("cannot queue content for review")

// ErrReportNotAvailable gates the score and report accessors: callers must
// be able to distinguish "not ready" from "ready with score 0".
var ErrReportNotAvailable = errors.New("originality report not available")

// ErrActivityGone is returned by an ActivitySource when the owning activity
// no longer exists. The pipeline treats it as a cleanup signal.
var ErrActivityGone = errors.New("owning activity no longer exists")

// ErrUserNotFound is returned by a UserDirectory when the submitting user
// cannot be resolved at all.
var ErrUserNotFound = errors.New("user not found")
