package cloudcode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// dispatcher carries the shared state of both dispatch state machines:
// account manager, injected dispatch state, endpoint roster and HTTP client.
type dispatcher struct {
	accounts   *account.Manager
	state      *DispatchState
	cfg        *config.Config
	httpClient *http.Client
	endpoints  []string
}

func newDispatcher(accounts *account.Manager, state *DispatchState, cfg *config.Config) *dispatcher {
	return &dispatcher{
		accounts: accounts,
		state:    state,
		cfg:      cfg,
		httpClient: &http.Client{
			// AI responses can take a while
			Timeout: 10 * time.Minute,
		},
		endpoints: config.AntigravityEndpointFallbacks,
	}
}

// requestContext is the per-dispatch scratch state of the state machine
type requestContext struct {
	attempt            int
	endpointIndex      int
	retriedOnce        bool
	capacityRetryCount int
	emptyRetries       int
	lastError          error
}

// outerDecision tells the outer loop what to do after account acquisition
type outerDecision int

const (
	decisionDispatch outerDecision = iota
	decisionRetry
	decisionFallback
	decisionFail
)

// endpointAction tells the endpoint loop how to proceed after a non-200
type endpointAction int

const (
	actionAdvance endpointAction = iota
	actionRetrySame
	actionNextAccount
)

// nextAccount runs the head of the outer loop: expire cooldowns, check pool
// emptiness (waiting out an all-rate-limited pool or escalating to the
// fallback model), and delegate selection to the strategy.
func (d *dispatcher) nextAccount(ctx context.Context, model string, fallbackEnabled bool) (*redis.Account, outerDecision, error) {
	d.accounts.ClearExpired()

	pool := d.accounts.AvailableAccounts(model)
	if len(pool) == 0 {
		if d.accounts.IsAllRateLimited(model) {
			waitMs := d.accounts.MinWaitMs(model)

			if waitMs > config.MaxWaitBeforeErrorMs {
				if fallbackEnabled {
					if _, ok := config.GetFallbackModel(model); ok {
						return nil, decisionFallback, nil
					}
				}
				resetAt := time.Now().Add(time.Duration(waitMs) * time.Millisecond).Format(time.RFC3339)
				return nil, decisionFail, NewUpstreamError(KindResourceExhausted, 429, waitMs,
					fmt.Sprintf("Rate limited on %s. Quota will reset after %s. Next available: %s",
						model, utils.FormatDuration(waitMs), resetAt))
			}

			utils.Warn("[CloudCode] All %d account(s) rate-limited. Waiting %s...",
				d.accounts.AccountCount(), utils.FormatDuration(waitMs))
			if err := utils.Sleep(ctx, waitMs+config.RateLimitWaitBufferMs); err != nil {
				return nil, decisionFail, err
			}
			return nil, decisionRetry, nil
		}

		return nil, decisionFail, fmt.Errorf("No accounts available")
	}

	result, err := d.accounts.SelectAccount(ctx, model)
	if err != nil {
		return nil, decisionFail, err
	}

	if result.Account == nil {
		if result.WaitMs > 0 {
			utils.Info("[CloudCode] Waiting %s for account...", utils.FormatDuration(result.WaitMs))
			if err := utils.Sleep(ctx, result.WaitMs+config.RateLimitWaitBufferMs); err != nil {
				return nil, decisionFail, err
			}
		}
		return nil, decisionRetry, nil
	}

	return result.Account, decisionDispatch, nil
}

// handleErrorStatus runs one non-200 upstream response through the endpoint
// state machine table. It updates rc and reports how the endpoint loop should
// continue; a returned error is terminal for the whole dispatch.
func (d *dispatcher) handleErrorStatus(ctx context.Context, rc *requestContext, acc *redis.Account, model string, status int, headers http.Header, body string) (endpointAction, error) {
	switch {
	case status == 401:
		if IsPermanentAuthFailure(body) {
			utils.Error("[CloudCode] Permanent auth failure for %s: %s",
				utils.MaskEmail(acc.Email), utils.TruncateString(body, 100))
			d.accounts.MarkInvalid(ctx, acc.Email, "Token revoked - re-authentication required")
			rc.lastError = NewUpstreamError(KindAuthInvalidPermanent, status, 0, body)
			return actionNextAccount, nil
		}
		d.accounts.ClearTokenCacheFor(acc.Email)
		d.accounts.ClearProjectCacheFor(acc.Email)
		rc.lastError = NewUpstreamError(KindAuthInvalid, status, 0, body)
		return actionAdvance, nil

	case status == 429:
		return d.handleRateLimit(ctx, rc, acc, model, headers, body)

	case status == 403 || status == 404:
		rc.lastError = NewUpstreamError(KindAPIError, status, 0, body)
		return actionAdvance, nil

	case status >= 500:
		rc.lastError = NewUpstreamError(KindAPIError, status, 0, body)
		utils.Warn("[CloudCode] %d error, waiting 1s before trying next endpoint...", status)
		if err := utils.Sleep(ctx, config.ServerErrorRetryDelayMs); err != nil {
			return actionAdvance, err
		}
		return actionAdvance, nil

	case status == 400:
		// A request the upstream rejects outright will not improve on
		// another endpoint or account.
		utils.Error("[CloudCode] Invalid request (400): %s", utils.TruncateString(body, 200))
		return actionAdvance, fmt.Errorf("invalid_request_error: %s", body)

	default:
		rc.lastError = NewUpstreamError(KindAPIError, status, 0, body)
		return actionAdvance, nil
	}
}

// handleRateLimit discriminates 429s: server-side capacity exhaustion retries
// in place, long resets park the account, short resets retry once and then
// defer to the dedup window.
func (d *dispatcher) handleRateLimit(ctx context.Context, rc *requestContext, acc *redis.Account, model string, headers http.Header, body string) (endpointAction, error) {
	resetMs := ParseResetTime(headers, body)

	if IsModelCapacityExhausted(body) {
		if rc.capacityRetryCount < config.MaxCapacityRetries {
			rc.capacityRetryCount++
			waitMs := resetMs
			if waitMs <= 0 {
				waitMs = config.CapacityRetryDelayMs
			}
			utils.Info("[CloudCode] Model capacity exhausted, retry %d/%d after %s...",
				rc.capacityRetryCount, config.MaxCapacityRetries, utils.FormatDuration(waitMs))
			if err := utils.Sleep(ctx, waitMs); err != nil {
				return actionRetrySame, err
			}
			return actionRetrySame, nil
		}
		utils.Warn("[CloudCode] Max capacity retries (%d) exceeded", config.MaxCapacityRetries)
	}

	cooldownMs := resetMs
	if cooldownMs <= 0 {
		cooldownMs = config.DefaultCooldownMs
	}

	if d.state.ShouldSkipRetryDueToDedup(model) {
		utils.Info("[CloudCode] Recent rate limit on %s, switching account instead of retrying %s",
			model, utils.MaskEmail(acc.Email))
		d.accounts.MarkRateLimited(ctx, acc.Email, cooldownMs, model)
		rc.lastError = NewUpstreamError(KindRateLimitedDedup, 429, cooldownMs, body)
		return actionNextAccount, nil
	}

	if resetMs > config.DefaultCooldownMs {
		utils.Info("[CloudCode] Quota exhausted for %s (%s), switching account...",
			utils.MaskEmail(acc.Email), utils.FormatDuration(resetMs))
		d.accounts.MarkRateLimited(ctx, acc.Email, resetMs, model)
		rc.lastError = NewUpstreamError(KindQuotaExhausted, 429, resetMs, body)
		return actionNextAccount, nil
	}

	if !rc.retriedOnce {
		rc.retriedOnce = true
		d.state.RecordDedupTimestamp(model)
		utils.Info("[CloudCode] Short rate limit on %s, retrying after %s...",
			utils.MaskEmail(acc.Email), utils.FormatDuration(cooldownMs))
		if err := utils.Sleep(ctx, cooldownMs); err != nil {
			return actionRetrySame, err
		}
		return actionRetrySame, nil
	}

	d.accounts.MarkRateLimited(ctx, acc.Email, cooldownMs, model)
	rc.lastError = NewUpstreamError(KindRateLimited, 429, cooldownMs, body)
	return actionNextAccount, nil
}

// handleAccountFailure runs the outer-loop exception handling after an
// account's endpoints are exhausted. A nil return means "try the next
// account"; a non-nil return is terminal.
func (d *dispatcher) handleAccountFailure(ctx context.Context, acc *redis.Account, model string, err error) error {
	switch {
	case IsRateLimitError(err):
		d.accounts.NotifyRateLimit(acc, model)
		utils.Info("[CloudCode] Account %s rate-limited, trying next...", utils.MaskEmail(acc.Email))
		return nil

	case IsAuthError(err):
		utils.Warn("[CloudCode] Account %s has invalid credentials, trying next...", utils.MaskEmail(acc.Email))
		return nil

	case IsServerError(err):
		d.applyFailureCooldown(ctx, acc, model)
		utils.Warn("[CloudCode] Account %s failed with 5xx error, trying next...", utils.MaskEmail(acc.Email))
		return nil

	case utils.IsNetworkError(err):
		d.applyFailureCooldown(ctx, acc, model)
		utils.Warn("[CloudCode] Network error for %s, trying next account... (%v)", utils.MaskEmail(acc.Email), err)
		if sleepErr := utils.Sleep(ctx, config.ServerErrorRetryDelayMs); sleepErr != nil {
			return sleepErr
		}
		return nil

	default:
		return err
	}
}

// applyFailureCooldown records a failure and parks accounts that keep failing
func (d *dispatcher) applyFailureCooldown(ctx context.Context, acc *redis.Account, model string) {
	d.accounts.NotifyFailure(acc, model)
	if d.accounts.GetConsecutiveFailures(acc.Email) >= config.MaxConsecutiveFailures {
		utils.Warn("[CloudCode] Account %s reached %d consecutive failures, extended cooldown",
			utils.MaskEmail(acc.Email), config.MaxConsecutiveFailures)
		d.accounts.MarkRateLimited(ctx, acc.Email, config.ExtendedCooldownMs, model)
	}
}

// maxAttempts bounds the outer loop: enough to visit every account at least
// once even when the retry budget is smaller.
func (d *dispatcher) maxAttempts() int {
	return utils.MaxInt(config.MaxRetries, d.accounts.AccountCount()+1)
}
