package account

import (
	"errors"
	"strings"
)

// ErrNotInitialized is returned when the manager is used before Initialize
var ErrNotInitialized = errors.New("account manager not initialized")

// NoAccountsError signals that selection found nothing to dispatch on
type NoAccountsError struct {
	Message        string
	AllRateLimited bool
}

// Error implements the error interface
func (e *NoAccountsError) Error() string {
	return e.Message
}

// NewNoAccountsError creates a NoAccountsError
func NewNoAccountsError(message string, allRateLimited bool) *NoAccountsError {
	return &NoAccountsError{Message: message, AllRateLimited: allRateLimited}
}

// isCredentialError reports whether a token error means the stored
// credentials are permanently bad (as opposed to a transient refresh failure).
func isCredentialError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "token has been expired or revoked") ||
		strings.Contains(msg, "token refresh failed")
}
