// ABOUTME: Startup notification posted to an operator webhook once Matrix is synced
// ABOUTME: Slack-compatible {"text": ...} body; failures are logged, never fatal

package gateway

import (
	"context"
	"fmt"
)

type notifyPayload struct {
	Text string `json:"text"`
}

// notifyReady posts the startup notice to bridge.notify_webhook, if set.
func (g *Gateway) notifyReady(ctx context.Context) {
	url := g.config.Bridge.NotifyWebhook
	if url == "" {
		return
	}

	resp, err := g.notifier.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(notifyPayload{Text: fmt.Sprintf("Logged into Matrix (user %s)", g.chat.BotUserID())}).
		Post(url)
	if err != nil {
		g.logger.Warn("startup notification failed", "error", err)
		return
	}
	if resp.IsError() {
		g.logger.Warn("startup notification rejected", "status", resp.StatusCode())
		return
	}
	g.logger.Debug("startup notification sent")
}
