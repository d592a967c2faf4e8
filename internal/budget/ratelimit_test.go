package budget

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimitFromOutput_UnixTimestamp(t *testing.T) {
	future := time.Now().Add(2 * time.Hour).Unix()
	output := "Error: usage limit reached|" + timeString(future)
	info := ParseRateLimitFromOutput(output)
	require.NotNil(t, info)
	assert.Equal(t, "cli_stdout", info.Source)
	assert.InDelta(t, 2*time.Hour.Seconds(), info.WaitSeconds, 5)
}

func TestParseRateLimitFromOutput_RetrySeconds(t *testing.T) {
	info := ParseRateLimitFromOutput("rate limit hit, retry after 30 seconds")
	require.NotNil(t, info)
	assert.Equal(t, int64(30), info.WaitSeconds)
	assert.Equal(t, LimitTypeSession, info.LimitType)
}

func TestParseRateLimitFromOutput_NoSignal(t *testing.T) {
	assert.Nil(t, ParseRateLimitFromOutput("all tests passed"))
}

func TestParseRateLimitFromOutput_JSONBody(t *testing.T) {
	info := ParseRateLimitFromOutput(`{"error": "429 rate_limit_exceeded", "retry_after": 45}`)
	require.NotNil(t, info)
	assert.Equal(t, int64(45), info.WaitSeconds)
}

func TestParseRateLimitFromHeaders_RetryAfterSeconds(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "60")
	info := ParseRateLimitFromHeaders(http.StatusTooManyRequests, h)
	require.NotNil(t, info)
	assert.Equal(t, "http_header", info.Source)
	assert.Equal(t, int64(60), info.WaitSeconds)
}

func TestParseRateLimitFromHeaders_NonRateLimitStatus(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "60")
	assert.Nil(t, ParseRateLimitFromHeaders(http.StatusOK, h))
}

func TestParseRateLimitFromHeaders_XRateLimitReset(t *testing.T) {
	future := time.Now().Add(10 * time.Minute).Unix()
	h := http.Header{}
	h.Set("X-RateLimit-Reset", timeString(future))
	info := ParseRateLimitFromHeaders(http.StatusTooManyRequests, h)
	require.NotNil(t, info)
	assert.InDelta(t, 10*time.Minute.Seconds(), info.WaitSeconds, 5)
}

func TestRateLimitInfo_IsExpired(t *testing.T) {
	past := &RateLimitInfo{ResetAt: time.Now().Add(-time.Minute)}
	assert.True(t, past.IsExpired())

	future := &RateLimitInfo{ResetAt: time.Now().Add(time.Minute)}
	assert.False(t, future.IsExpired())

	assert.True(t, (&RateLimitInfo{}).IsExpired())
}

func timeString(unix int64) string {
	return strconv.FormatInt(unix, 10)
}
