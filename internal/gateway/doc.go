// Package gateway orchestrates the coven-helpdesk server components.
//
// # Overview
//
// The gateway owns every long-lived piece of the bridge: the Matrix client,
// the Sunshine API client, the pending deletion registry, the webhook dedupe
// cache and the HTTP server. New wires them together; Run logs in to Matrix
// and then runs the HTTP server and the Matrix sync side by side in an
// errgroup. Whichever stops first stops the other.
//
// # HTTP Endpoints
//
//   - POST /webhook/zd - ticketing webhooks (agent assigned, ticket solved)
//   - POST /webhook/... - any other path under /webhook/ takes conversation webhooks
//   - GET /health - liveness check
//   - GET /health/ready - 200 once the first Matrix sync completed, else 503
//   - GET /metrics - Prometheus metrics, when metrics.enabled
//
// # Listeners
//
// With tailscale.enabled the HTTP server listens on a tsnet node instead of
// server.http_addr. tailscale.funnel exposes it publicly on :443, which is
// how the ticketing and conversation senders reach a bridge without a public
// address of its own.
//
// # Matrix Events
//
// Messages go to the relay after a dedupe check on the event id, typing
// changes go straight to the relay, and commands and prompt reactions go to
// the interaction registry. After the first sync an optional startup notice
// is posted to bridge.notify_webhook.
package gateway
