package verifier

import (
	"net/http"
	"regexp"

	"github.com/undercity-dev/undercity/internal/models"
)

// transientNetworkPattern matches the transient network error codes named
// in spec.md §4.7: ECONNREFUSED|ETIMEDOUT|ENOTFOUND|ECONNRESET|EPIPE|EHOSTUNREACH.
var transientNetworkPattern = regexp.MustCompile(`ECONNREFUSED|ETIMEDOUT|ENOTFOUND|ECONNRESET|EPIPE|EHOSTUNREACH`)

// IsRetryableOutput reports whether command output names a transient
// network condition, independent of any HTTP status code.
func IsRetryableOutput(output string) bool {
	return transientNetworkPattern.MatchString(output)
}

// IsRetryableStatus reports whether an HTTP status code is retry-eligible:
// 429 or any 5xx.
func IsRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// Retryable combines IsRetryableOutput and IsRetryableStatus into the
// single signal callers need to decide whether a failed verification
// step should be retried with backoff rather than surfaced as feedback.
func Retryable(output string, statusCode int) bool {
	return IsRetryableOutput(output) || IsRetryableStatus(statusCode)
}

// ClassifyCommand maps a failing command's declared kind onto the fixed
// taxonomy of spec.md §7, collapsing anything outside
// typecheck/test/lint/build to the catch-all "unknown" category (named
// "other" in spec.md §4.7's verifier-local phrasing of the same taxonomy).
func ClassifyCommand(kind models.ErrorCategory) models.ErrorCategory {
	switch kind {
	case models.ErrTypecheck, models.ErrTest, models.ErrLint, models.ErrBuild:
		return kind
	default:
		return models.ErrUnknown
	}
}
