package cloudcode

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
)

// ResetUnknown means no reset time could be extracted from a 429 response;
// callers substitute the default cooldown.
const ResetUnknown int64 = -1

var (
	retryDelayTextRegex = regexp.MustCompile(`(?i)retryDelay[:\s"]+(\d+(?:\.\d+)?)(ms|s)`)
	tryAgainRegex       = regexp.MustCompile(`(?i)try again in (\d+(?:\.\d+)?)\s*(?:seconds|second|secs|sec|s)\b`)
	retryAfterTextRegex = regexp.MustCompile(`(?i)retry (?:after )?(\d+)\s*(?:seconds|second|sec|s)\b`)
	durationRegex       = regexp.MustCompile(`(?i)\b(?:(\d+)h)?(?:(\d+)m)?(\d+(?:\.\d+)?)s\b`)
)

// ParseResetTime extracts a reset delay in milliseconds from a 429 response's
// headers and body. Returns ResetUnknown when nothing usable is found.
//
// Recognized, in order: Retry-After (seconds or HTTP-date),
// x-ratelimit-reset / x-ratelimit-reset-after, structured retryInfo payloads
// (retryDelay), and free-text "try again in N seconds" phrasings.
func ParseResetTime(headers http.Header, errorText string) int64 {
	if ms := parseResetHeaders(headers); ms >= 0 {
		return ms
	}
	if errorText != "" {
		if ms := parseResetBody(errorText); ms >= 0 {
			return ms
		}
	}
	return ResetUnknown
}

func parseResetHeaders(headers http.Header) int64 {
	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
			return int64(seconds) * 1000
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			if ms := time.Until(t).Milliseconds(); ms > 0 {
				return ms
			}
		}
	}

	// Unix timestamp in seconds
	if reset := headers.Get("x-ratelimit-reset"); reset != "" {
		if ts, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if ms := ts*1000 - time.Now().UnixMilli(); ms > 0 {
				return ms
			}
		}
	}

	// Seconds until reset
	if resetAfter := headers.Get("x-ratelimit-reset-after"); resetAfter != "" {
		if seconds, err := strconv.Atoi(resetAfter); err == nil && seconds > 0 {
			return int64(seconds) * 1000
		}
	}

	return ResetUnknown
}

// parseResetBody extracts a reset delay from a 429 body. Structured Google
// error payloads carry retryInfo.retryDelay as a duration string ("1.5s");
// free-text bodies get the regex treatment.
func parseResetBody(body string) int64 {
	if gjson.Valid(body) {
		// google.rpc.RetryInfo detail attached to the error
		var delayMs = ResetUnknown
		gjson.Get(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
			if !strings.Contains(detail.Get("\\@type").String(), "RetryInfo") {
				return true
			}
			if ms := parseDurationString(detail.Get("retryDelay").String()); ms >= 0 {
				delayMs = ms
				return false
			}
			return true
		})
		if delayMs >= 0 {
			utils.Debug("[RateLimitParser] retryDelay from payload: %dms", delayMs)
			return delayMs
		}

		for _, path := range []string{"error.retryInfo.retryDelay", "retryInfo.retryDelay"} {
			if delay := gjson.Get(body, path); delay.Exists() {
				if ms := parseDurationString(delay.String()); ms >= 0 {
					utils.Debug("[RateLimitParser] retryDelay from payload: %dms", ms)
					return ms
				}
			}
		}

		if msg := gjson.Get(body, "error.message"); msg.Exists() {
			if ms := parseResetText(msg.String()); ms >= 0 {
				return ms
			}
		}
	}

	return parseResetText(body)
}

func parseResetText(msg string) int64 {
	if match := retryDelayTextRegex.FindStringSubmatch(msg); match != nil {
		value, _ := strconv.ParseFloat(match[1], 64)
		if strings.EqualFold(match[2], "s") {
			return int64(value * 1000)
		}
		return int64(value)
	}

	if match := tryAgainRegex.FindStringSubmatch(msg); match != nil {
		value, _ := strconv.ParseFloat(match[1], 64)
		return int64(value * 1000)
	}

	if match := retryAfterTextRegex.FindStringSubmatch(msg); match != nil {
		seconds, _ := strconv.ParseInt(match[1], 10, 64)
		return seconds * 1000
	}

	if match := durationRegex.FindStringSubmatch(msg); match != nil {
		hours, _ := strconv.Atoi(match[1])
		minutes, _ := strconv.Atoi(match[2])
		seconds, _ := strconv.ParseFloat(match[3], 64)
		ms := int64(hours)*3600_000 + int64(minutes)*60_000 + int64(seconds*1000)
		if ms > 0 {
			return ms
		}
	}

	return ResetUnknown
}

// parseDurationString parses Google duration strings like "754.431528ms",
// "1.5s" or "1h2m3s".
func parseDurationString(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return ResetUnknown
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d.Milliseconds()
	}
	// Bare numbers are seconds
	if v, err := strconv.ParseFloat(s, 64); err == nil && v >= 0 {
		return int64(v * 1000)
	}
	return ResetUnknown
}
