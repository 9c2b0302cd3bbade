package cloudcode

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseResetTimeRetryAfterSeconds(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")

	assert.Equal(t, int64(30_000), ParseResetTime(headers, ""))
}

func TestParseResetTimeRetryAfterHTTPDate(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", time.Now().Add(45*time.Second).UTC().Format(http.TimeFormat))

	ms := ParseResetTime(headers, "")
	assert.Greater(t, ms, int64(40_000))
	assert.LessOrEqual(t, ms, int64(45_000))
}

func TestParseResetTimeRateLimitResetHeader(t *testing.T) {
	headers := http.Header{}
	headers.Set("x-ratelimit-reset-after", "12")

	assert.Equal(t, int64(12_000), ParseResetTime(headers, ""))
}

func TestParseResetTimeRetryInfoPayload(t *testing.T) {
	body := `{
		"error": {
			"code": 429,
			"message": "Resource has been exhausted",
			"details": [
				{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "3.5s"}
			]
		}
	}`

	assert.Equal(t, int64(3500), ParseResetTime(http.Header{}, body))
}

func TestParseResetTimeRetryInfoMilliseconds(t *testing.T) {
	body := `{"error": {"retryInfo": {"retryDelay": "754.431528ms"}}}`

	assert.Equal(t, int64(754), ParseResetTime(http.Header{}, body))
}

func TestParseResetTimeFreeText(t *testing.T) {
	assert.Equal(t, int64(60_000), ParseResetTime(http.Header{}, "Rate limited, please try again in 60 seconds"))
	assert.Equal(t, int64(5_000), ParseResetTime(http.Header{}, "retry after 5 seconds"))
}

func TestParseResetTimeDurationText(t *testing.T) {
	assert.Equal(t, int64(3_723_000), ParseResetTime(http.Header{}, "quota resets in 1h2m3s"))
	assert.Equal(t, int64(45_000), ParseResetTime(http.Header{}, "wait 45s before retrying"))
}

func TestParseResetTimeUnknown(t *testing.T) {
	assert.Equal(t, ResetUnknown, ParseResetTime(http.Header{}, ""))
	assert.Equal(t, ResetUnknown, ParseResetTime(http.Header{}, "too many requests"))
	assert.Equal(t, ResetUnknown, ParseResetTime(http.Header{}, `{"error":{"message":"slow down"}}`))
}

func TestHeadersTakePrecedenceOverBody(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "10")
	body := `{"error": {"retryInfo": {"retryDelay": "99s"}}}`

	assert.Equal(t, int64(10_000), ParseResetTime(headers, body))
}
