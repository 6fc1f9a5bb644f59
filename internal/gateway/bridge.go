// ABOUTME: Chat message intake with deduplication
// ABOUTME: A Matrix event redelivered after a sync hiccup is relayed only once

package gateway

import (
	"context"

	"github.com/2389/coven-helpdesk/internal/chat"
)

// handleChatMessage relays a chat message to the remote side unless the same
// event was already handled. The key is claimed for the duration of the relay
// so a concurrent redelivery is ignored too. The key is completed even when
// the relay panics: a replay of the same event would fail the same way.
func (g *Gateway) handleChatMessage(ctx context.Context, room chat.Room, m chat.Message) {
	key := "chat:" + m.ID
	if !g.dedupe.Claim(key) {
		g.logger.Debug("duplicate chat message ignored", "room", room.ID, "event_id", m.ID)
		return
	}
	defer g.dedupe.Complete(key)
	g.relay.ChatToRemote(ctx, room, m)
}
