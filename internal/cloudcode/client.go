package cloudcode

import (
	"context"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
)

// Client is the Cloud Code dispatch facade: one instance owns both dispatch
// state machines and the injected dispatch state.
type Client struct {
	accounts         *account.Manager
	state            *DispatchState
	messageHandler   *MessageHandler
	streamingHandler *StreamingHandler
}

// NewClient creates a Cloud Code client over the given account manager.
// Close releases the dispatch state's background sweeper.
func NewClient(accounts *account.Manager, cfg *config.Config) *Client {
	state := NewDispatchState()
	return &Client{
		accounts:         accounts,
		state:            state,
		messageHandler:   NewMessageHandler(accounts, state, cfg),
		streamingHandler: NewStreamingHandler(accounts, state, cfg),
	}
}

// Close tears down background tasks
func (c *Client) Close() {
	c.state.Close()
}

// SendMessage dispatches a non-streaming request
func (c *Client) SendMessage(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool) (*anthropic.MessagesResponse, error) {
	return c.messageHandler.SendMessage(ctx, req, fallbackEnabled)
}

// SendMessageStream dispatches a streaming request
func (c *Client) SendMessageStream(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool) (<-chan *SSEEvent, <-chan error) {
	return c.streamingHandler.SendMessageStream(ctx, req, fallbackEnabled)
}

// RefreshAccountQuotas pulls fresh quota snapshots for every usable account
// and feeds them into the manager for the quota tracker to read.
func (c *Client) RefreshAccountQuotas(ctx context.Context) {
	for _, acc := range c.accounts.AllAccounts() {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		token, err := c.accounts.GetTokenForAccount(ctx, acc)
		if err != nil {
			utils.Debug("[CloudCode] Skipping quota refresh for %s: %v", utils.MaskEmail(acc.Email), err)
			continue
		}
		project := c.accounts.GetProjectForAccount(ctx, acc, token)

		quotas, err := FetchModelQuotas(ctx, token, project)
		if err != nil {
			utils.Debug("[CloudCode] Quota refresh failed for %s: %v", utils.MaskEmail(acc.Email), err)
			continue
		}
		if len(quotas) > 0 {
			c.accounts.UpdateAccountQuota(acc.Email, quotas)
			utils.Debug("[CloudCode] Updated quota for %s (%d models)", utils.MaskEmail(acc.Email), len(quotas))
		}
	}
}
