// Package retry holds the backoff schedule for failed submissions.
package retry

import "time"

// Tiered delays keyed by how many attempts have already failed. The schedule
// is deliberately a step function rather than exponential: the provider is
// slow on a human timescale and tens of attempts are normal before anyone
// intervenes.
var tiers = []struct {
	upTo  int
	delay time.Duration
}{
	{9, 5 * time.Minute},
	{19, 10 * time.Minute},
	{29, 20 * time.Minute},
	{39, 40 * time.Minute},
	{49, 80 * time.Minute},
	{59, 160 * time.Minute},
}

const maxDelay = 220 * time.Minute

// Delay returns how long after a failure at the given retry count the item
// becomes eligible again.
func Delay(retryCount int) time.Duration {
	for _, t := range tiers {
		if retryCount <= t.upTo {
			return t.delay
		}
	}
	return maxDelay
}

// NextRetryTime computes the next eligibility instant for an item that just
// failed its retryCount-th attempt.
func NextRetryTime(now time.Time, retryCount int) time.Time {
	return now.Add(Delay(retryCount))
}
