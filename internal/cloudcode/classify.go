package cloudcode

import (
	"strings"
)

// IsPermanentAuthFailure detects credentials that cannot recover without
// operator re-authentication.
func IsPermanentAuthFailure(errorText string) bool {
	lower := strings.ToLower(errorText)
	return containsAny(lower,
		"invalid_grant",
		"token revoked",
		"token has been expired or revoked",
		"token_revoked",
		"invalid_client",
		"credentials are invalid")
}

// IsModelCapacityExhausted detects 429s caused by server-side model overload
// rather than per-user quota.
func IsModelCapacityExhausted(errorText string) bool {
	lower := strings.ToLower(errorText)
	return containsAny(lower,
		"model_capacity_exhausted",
		"capacity_exhausted",
		"model is currently overloaded",
		"service temporarily unavailable")
}

func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
