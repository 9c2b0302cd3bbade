// Package config provides configuration constants and runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Version information
const Version = "1.0.0"

// Cloud Code API endpoints (in fallback order)
const (
	AntigravityEndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	AntigravityEndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// AntigravityEndpointFallbacks is the endpoint fallback order (daily → prod).
// Every dispatch walks this list in order.
var AntigravityEndpointFallbacks = []string{
	AntigravityEndpointDaily,
	AntigravityEndpointProd,
}

// DefaultProjectID is used when no project can be discovered for an account
const DefaultProjectID = "rising-fact-p41fc"

// Rate limit and retry constants
const (
	MaxRetries              = 3
	MaxEmptyResponseRetries = 3
	MaxWaitBeforeErrorMs    = 120_000
	DefaultCooldownMs       = 10_000
	RateLimitDedupWindowMs  = 2_000
	MaxConsecutiveFailures  = 3
	ExtendedCooldownMs      = 300_000
	CapacityRetryDelayMs    = 2_000
	MaxCapacityRetries      = 3

	// DedupSweepIntervalMs is how often the background sweeper prunes
	// stale dedup entries; entries older than DedupEntryTTLMs are dropped.
	DedupSweepIntervalMs = 60_000
	DedupEntryTTLMs      = 60_000

	// ServerErrorRetryDelayMs is the pause before rotating endpoints on a 5xx
	ServerErrorRetryDelayMs = 1_000

	// RateLimitWaitBufferMs is added on top of a reported reset time before
	// re-probing, to absorb clock skew between us and the upstream.
	RateLimitWaitBufferMs = 500
)

// EmptyResponseBackoffMs are the waits between empty-response stream retries
var EmptyResponseBackoffMs = []int64{500, 1000, 2000}

// Timing constants
const (
	// TokenRefreshIntervalMs is the access-token cache TTL (5 minutes)
	TokenRefreshIntervalMs = 5 * 60 * 1000
	// RequestBodyLimit is the max inbound request body size (50MB)
	RequestBodyLimit int64 = 50 * 1024 * 1024
	// DefaultPort is the default server port
	DefaultPort = 8080
	// MaxAccounts caps the number of configured accounts
	MaxAccounts = 10
	// QuotaRefreshIntervalMin is how often account quota snapshots are refreshed
	QuotaRefreshIntervalMin = 5
)

// Account selection strategies
var SelectionStrategies = []string{"sticky", "round-robin", "hybrid"}

// DefaultSelectionStrategy is used when none is configured
const DefaultSelectionStrategy = "hybrid"

// ModelFallbackMap maps a primary model to a lower-tier substitute used when
// the primary cannot be served and fallback is enabled.
var ModelFallbackMap = map[string]string{
	"gemini-3-pro-high":          "claude-opus-4-6-thinking",
	"gemini-3-pro-low":           "claude-sonnet-4-5",
	"gemini-3-flash":             "claude-sonnet-4-5-thinking",
	"claude-opus-4-6-thinking":   "gemini-3-pro-high",
	"claude-sonnet-4-5-thinking": "gemini-3-flash",
	"claude-sonnet-4-5":          "gemini-3-flash",
}

// GetFallbackModel returns the fallback model for the given model
func GetFallbackModel(modelName string) (string, bool) {
	fallback, ok := ModelFallbackMap[modelName]
	return fallback, ok
}

// ModelFamily represents the model family type
type ModelFamily string

const (
	ModelFamilyClaude  ModelFamily = "claude"
	ModelFamilyGemini  ModelFamily = "gemini"
	ModelFamilyUnknown ModelFamily = "unknown"
)

// GetModelFamily returns the model family from the model name
func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	if strings.Contains(lower, "claude") {
		return ModelFamilyClaude
	}
	if strings.Contains(lower, "gemini") {
		return ModelFamilyGemini
	}
	return ModelFamilyUnknown
}

var geminiVersionRegex = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel checks if a model emits thinking/reasoning output.
// Non-streaming requests for these models are assembled from the SSE stream.
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)

	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}

	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		// gemini-3 and later always produce thought parts
		matches := geminiVersionRegex.FindStringSubmatch(lower)
		if len(matches) >= 2 {
			version, err := strconv.Atoi(matches[1])
			if err == nil && version >= 3 {
				return true
			}
		}
	}

	return false
}

// AntigravityHeaders are the required headers for Cloud Code API requests
func AntigravityHeaders() map[string]string {
	return map[string]string{
		"User-Agent":        getPlatformUserAgent(),
		"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":   getClientMetadata(),
	}
}

func getPlatformUserAgent() string {
	return fmt.Sprintf("antigravity/1.16.5 %s/%s", runtime.GOOS, runtime.GOARCH)
}

// IDE type enum values as expected by the Cloud Code API
const (
	IdeTypeUnspecified = 0
	IdeTypeAntigravity = 6
)

// Platform enum values as expected by the Cloud Code API
const (
	PlatformUnspecified = 0
	PlatformWindows     = 1
	PlatformLinux       = 2
	PlatformMacOS       = 3
)

// PluginTypeGemini identifies the Gemini plugin in client metadata
const PluginTypeGemini = 2

func getPlatformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	default:
		return PlatformUnspecified
	}
}

func getClientMetadata() string {
	metadata := map[string]int{
		"ideType":    IdeTypeAntigravity,
		"platform":   getPlatformEnum(),
		"pluginType": PluginTypeGemini,
	}
	data, _ := json.Marshal(metadata)
	return string(data)
}

// OAuthConfigType holds the Google OAuth client configuration
type OAuthConfigType struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// OAuthConfig is the Google OAuth configuration used for token refresh
var OAuthConfig = OAuthConfigType{
	ClientID:     "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com",
	ClientSecret: "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",
	TokenURL:     "https://oauth2.googleapis.com/token",
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	},
}

// AntigravitySystemInstruction is the baseline system instruction injected
// into every upstream request.
const AntigravitySystemInstruction = `You are Antigravity, a powerful agentic AI coding assistant designed by the Google Deepmind team working on Advanced Agentic Coding.You are pair programming with a USER to solve their coding task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.**Absolute paths only****Proactiveness**`

// ConfigDir returns the directory holding the proxy's persisted configuration
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "antigravity-proxy")
}

// ConfigFilePath is the runtime configuration file location
func ConfigFilePath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// AntigravityDBPath returns the path of a local Antigravity install's state
// database, used as an optional token source.
func AntigravityDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library/Application Support/Antigravity/User/globalStorage/state.vscdb")
	case "windows":
		return filepath.Join(home, "AppData/Roaming/Antigravity/User/globalStorage/state.vscdb")
	default:
		return filepath.Join(home, ".config/Antigravity/User/globalStorage/state.vscdb")
	}
}
