package process

import (
	"regexp"
	"time"
)

// FailureClass buckets a worker failure so the scheduler can decide
// whether to retry, back off, or give up loudly.
type FailureClass string

const (
	FailureTransient      FailureClass = "transient"
	FailureQuotaExhausted FailureClass = "quota_exhausted"
	FailureAuthFailure    FailureClass = "auth_failure"
	FailureNotFound       FailureClass = "not_found"
	FailureTimeout        FailureClass = "timeout"
	FailureUnknown        FailureClass = "unknown"
)

var (
	quotaPattern = regexp.MustCompile(`(?i)rate.?limit|quota|too many requests|429`)
	authPattern  = regexp.MustCompile(`(?i)unauthorized|forbidden|invalid api key|401|403`)
	notFound     = regexp.MustCompile(`(?i)model not found|no such model|404`)
)

// classifyFailure inspects a worker's exit state and captured stderr tail
// to bucket the failure, the way the teacher's worker error classifier
// separates "try again soon" from "stop scheduling this agent".
func classifyFailure(timedOut bool, stderrTail string) FailureClass {
	switch {
	case timedOut:
		return FailureTimeout
	case quotaPattern.MatchString(stderrTail):
		return FailureQuotaExhausted
	case authPattern.MatchString(stderrTail):
		return FailureAuthFailure
	case notFound.MatchString(stderrTail):
		return FailureNotFound
	case stderrTail == "":
		return FailureUnknown
	default:
		return FailureTransient
	}
}

// IsTerminal reports whether class represents a failure retrying will not
// fix — bad credentials or a model that does not exist — so the scheduler
// force-acks the failed messages at once rather than retrying them.
func (c FailureClass) IsTerminal() bool {
	return c == FailureAuthFailure || c == FailureNotFound
}

const (
	failureBackoffBase = 2 * time.Second
	failureBackoffMax  = 2 * time.Minute
)

// BackoffFor returns the delay before the next retry after consecutive
// failures, doubling from failureBackoffBase up to failureBackoffMax. The
// scheduler schedules an extra wake this long after a non-terminal
// failure; a poll tick or wake that arrives sooner still retries at once.
func BackoffFor(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	d := failureBackoffBase
	for i := 1; i < consecutiveFailures; i++ {
		d *= 2
		if d >= failureBackoffMax {
			return failureBackoffMax
		}
	}
	return d
}
