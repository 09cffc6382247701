package delivery

import "time"

// DefaultRetrySchedule is the backoff between consecutive attempts against
// one endpoint. Attempts beyond the schedule length reuse the last delay.
var DefaultRetrySchedule = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	5 * time.Minute,
	1 * time.Hour,
}

// DefaultMaxRetries bounds attempts per delivery when the endpoint does not
// carry its own limit.
const DefaultMaxRetries = 3

// NextRetryDelay returns the backoff after attemptCount attempts have been
// made (attemptCount is 1-indexed: after attempt 1, schedule[0] applies).
func NextRetryDelay(attemptCount int, schedule []time.Duration) time.Duration {
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
