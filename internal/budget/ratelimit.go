// Package budget tracks model token usage against rolling rate limits and
// exposes a guard that pauses task dispatch before a limit is hit.
package budget

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LimitType distinguishes the 5-hour session window from the 7-day
// weekly window.
type LimitType string

const (
	LimitTypeSession LimitType = "session"
	LimitTypeWeekly  LimitType = "weekly"
	LimitTypeUnknown LimitType = "unknown"
)

// RateLimitInfo is the parsed detail of one observed rate-limit signal,
// regardless of whether it came from CLI stdout, an HTTP response, or a
// JSON body.
type RateLimitInfo struct {
	DetectedAt  time.Time
	ResetAt     time.Time
	WaitSeconds int64
	LimitType   LimitType
	RawMessage  string
	Source      string // cli_stdout | http_header | json_body
}

// TimeUntilReset returns the duration remaining until the limit resets.
func (r *RateLimitInfo) TimeUntilReset() time.Duration {
	if r.ResetAt.IsZero() {
		return 0
	}
	return time.Until(r.ResetAt)
}

// IsExpired reports whether the reset time has already passed.
func (r *RateLimitInfo) IsExpired() bool {
	if r.ResetAt.IsZero() {
		return true
	}
	return time.Now().After(r.ResetAt)
}

var (
	unixTimestampPattern = regexp.MustCompile(`usage limit reached\|(\d+)`)
	humanTimePattern     = regexp.MustCompile(`limit will reset at (\d+)(am|pm)\s*\(([^)]+)\)`)
	resetsTimePattern    = regexp.MustCompile(`resets\s+(\d+)(am|pm)\s*\(([^)]+)\)`)
	retrySecondsPattern  = regexp.MustCompile(`retry (?:in|after)\s+(\d+)\s*(?:seconds?|s)`)
	rateLimitIndicator   = regexp.MustCompile(`(?i)(out of.*usage|rate.?limit|usage.?limit|429|too.?many.?requests|quota exceeded)`)
)

// is429Error reports whether an HTTP status code is a rate-limit response.
func is429Error(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests
}

// ParseRateLimitFromOutput parses a rate-limit signal out of CLI
// stdout/stderr text.
func ParseRateLimitFromOutput(output string) *RateLimitInfo {
	if output == "" || !rateLimitIndicator.MatchString(output) {
		return nil
	}

	info := &RateLimitInfo{
		DetectedAt: time.Now(),
		RawMessage: output,
		Source:     "cli_stdout",
		LimitType:  LimitTypeUnknown,
	}

	if matches := unixTimestampPattern.FindStringSubmatch(output); len(matches) > 1 {
		if ts, err := strconv.ParseInt(matches[1], 10, 64); err == nil {
			info.ResetAt = time.Unix(ts, 0)
			info.WaitSeconds = info.ResetAt.Unix() - time.Now().Unix()
			info.LimitType = inferLimitType(info.WaitSeconds)
			return info
		}
	}

	for _, pattern := range []*regexp.Regexp{humanTimePattern, resetsTimePattern} {
		if matches := pattern.FindStringSubmatch(output); len(matches) > 3 {
			info.ResetAt = resetFromClockTime(matches[1], matches[2], matches[3])
			info.WaitSeconds = int64(time.Until(info.ResetAt).Seconds())
			info.LimitType = inferLimitType(info.WaitSeconds)
			return info
		}
	}

	if matches := retrySecondsPattern.FindStringSubmatch(output); len(matches) > 1 {
		if seconds, err := strconv.ParseInt(matches[1], 10, 64); err == nil {
			info.WaitSeconds = seconds
			info.ResetAt = time.Now().Add(time.Duration(seconds) * time.Second)
			info.LimitType = inferLimitType(seconds)
			return info
		}
	}

	if jsonInfo := tryParseJSON(output); jsonInfo != nil {
		jsonInfo.DetectedAt = info.DetectedAt
		jsonInfo.RawMessage = info.RawMessage
		return jsonInfo
	}

	info.ResetAt = InferResetTime()
	info.WaitSeconds = int64(time.Until(info.ResetAt).Seconds())
	info.LimitType = LimitTypeSession
	return info
}

func resetFromClockTime(hourStr, meridiem, tzName string) time.Time {
	hour, _ := strconv.Atoi(hourStr)
	if meridiem == "pm" && hour != 12 {
		hour += 12
	} else if meridiem == "am" && hour == 12 {
		hour = 0
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc = time.UTC
	}

	now := time.Now().In(loc)
	resetAt := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if resetAt.Before(now) {
		resetAt = resetAt.Add(24 * time.Hour)
	}
	return resetAt
}

// InferResetTime estimates the next 5-hour window boundary when no
// explicit reset time is available, flooring to the nearest 5-hour mark.
func InferResetTime() time.Time {
	now := time.Now()
	flooredNow := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())

	currentWindow := (flooredNow.Hour() / 5) * 5
	nextWindow := currentWindow + 5
	if nextWindow >= 24 {
		nextWindow = 0
		flooredNow = flooredNow.Add(24 * time.Hour)
	}
	return time.Date(flooredNow.Year(), flooredNow.Month(), flooredNow.Day(), nextWindow, 0, 0, 0, flooredNow.Location())
}

func inferLimitType(waitSeconds int64) LimitType {
	const sixHours = 6 * 60 * 60
	if waitSeconds <= 0 {
		return LimitTypeUnknown
	}
	if waitSeconds > sixHours {
		return LimitTypeWeekly
	}
	return LimitTypeSession
}

func tryParseJSON(data string) *RateLimitInfo {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(data), &obj); err == nil {
		if info := extractFromJSONObject(obj); info != nil {
			return info
		}
	}

	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			if info := extractFromJSONObject(obj); info != nil {
				info.Source = "json_body"
				return info
			}
		}
	}
	return nil
}

func extractFromJSONObject(obj map[string]interface{}) *RateLimitInfo {
	errorField, hasError := obj["error"]
	retryAfter, hasRetryAfter := obj["retry_after"]

	isRateLimit := false
	if hasError {
		if errStr, ok := errorField.(string); ok {
			lower := strings.ToLower(errStr)
			isRateLimit = strings.Contains(errStr, "429") ||
				strings.Contains(lower, "rate_limit") ||
				strings.Contains(lower, "rate limit")
		}
	}
	if !isRateLimit {
		return nil
	}

	info := &RateLimitInfo{DetectedAt: time.Now(), Source: "json_body", LimitType: LimitTypeUnknown}

	if hasRetryAfter {
		switch v := retryAfter.(type) {
		case float64:
			info.WaitSeconds = int64(v)
		case int64:
			info.WaitSeconds = v
		case int:
			info.WaitSeconds = int64(v)
		case string:
			if seconds, err := strconv.ParseInt(v, 10, 64); err == nil {
				info.WaitSeconds = seconds
			}
		}
		if info.WaitSeconds > 0 {
			info.ResetAt = time.Now().Add(time.Duration(info.WaitSeconds) * time.Second)
			info.LimitType = inferLimitType(info.WaitSeconds)
			return info
		}
	}

	info.ResetAt = InferResetTime()
	info.WaitSeconds = int64(time.Until(info.ResetAt).Seconds())
	info.LimitType = LimitTypeSession
	return info
}

// ParseRateLimitFromHeaders extracts rate-limit info from HTTP response
// headers, the signal the teacher's CLI-stdout parser never sees because
// it never talks to the API directly.
func ParseRateLimitFromHeaders(statusCode int, header http.Header) *RateLimitInfo {
	if !is429Error(statusCode) {
		return nil
	}

	info := &RateLimitInfo{DetectedAt: time.Now(), Source: "http_header", LimitType: LimitTypeUnknown}

	if ra := header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.ParseInt(ra, 10, 64); err == nil {
			info.WaitSeconds = seconds
			info.ResetAt = time.Now().Add(time.Duration(seconds) * time.Second)
			info.LimitType = inferLimitType(seconds)
			return info
		}
		if resetAt, err := http.ParseTime(ra); err == nil {
			info.ResetAt = resetAt
			info.WaitSeconds = int64(time.Until(resetAt).Seconds())
			info.LimitType = inferLimitType(info.WaitSeconds)
			return info
		}
	}

	if reset := header.Get("X-RateLimit-Reset"); reset != "" {
		if ts, err := strconv.ParseInt(reset, 10, 64); err == nil {
			info.ResetAt = time.Unix(ts, 0)
			info.WaitSeconds = info.ResetAt.Unix() - time.Now().Unix()
			info.LimitType = inferLimitType(info.WaitSeconds)
			return info
		}
	}

	info.ResetAt = InferResetTime()
	info.WaitSeconds = int64(time.Until(info.ResetAt).Seconds())
	info.LimitType = LimitTypeSession
	return info
}
