// ABOUTME: Matrix sync loop: messages, prompt reactions, typing and membership
// ABOUTME: Translates events to chat types and hands them to the bridge on per-room queues

package matrix

import (
	"context"
	"fmt"
	"slices"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-helpdesk/internal/chat"
)

// Handlers receive translated events. Any of them may be nil.
type Handlers struct {
	// Message gets every non-command message from someone other than the bot.
	Message func(ctx context.Context, room chat.Room, m chat.Message)
	// Interaction reports whether it handled the key. Unhandled text
	// commands fall through to Message.
	Interaction func(ctx context.Context, in chat.Interaction) bool
	Typing      func(ctx context.Context, room chat.Room, u chat.User, typing bool)
	// Ready runs once, after the first sync.
	Ready func()
}

// Run syncs until ctx is cancelled or the sync fails.
func (c *Client) Run(ctx context.Context, h Handlers) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.queues.wait()
	}()

	syncer, ok := c.mx.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.mx.Syncer)
	}
	syncer.OnSync(c.mx.DontProcessOldEvents)
	syncer.OnSync(func(context.Context, *mautrix.RespSync, string) bool {
		if c.ready.CompareAndSwap(false, true) {
			c.logger.Info("initial sync complete")
			if h.Ready != nil {
				h.Ready()
			}
		}
		return true
	})

	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		c.onMessage(runCtx, h, evt)
	})
	syncer.OnEventType(event.EventReaction, func(_ context.Context, evt *event.Event) {
		c.onReaction(runCtx, h, evt)
	})
	syncer.OnEventType(event.EphemeralEventTyping, func(_ context.Context, evt *event.Event) {
		c.onTyping(runCtx, h, evt)
	})
	syncer.OnEventType(event.StateMember, func(_ context.Context, evt *event.Event) {
		c.onMember(runCtx, evt)
	})
	for _, t := range []event.Type{event.StateTopic, event.StatePowerLevels, event.StateRoomName} {
		syncer.OnEventType(t, func(_ context.Context, evt *event.Event) {
			c.rooms.Remove(evt.RoomID.String())
		})
	}

	c.logger.Info("connecting to matrix homeserver", "homeserver", c.cfg.Homeserver)
	syncErr := make(chan error, 1)
	go func() {
		syncErr <- c.mx.SyncWithContext(runCtx)
	}()

	select {
	case <-ctx.Done():
		c.logger.Info("stopping matrix sync")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (c *Client) onMessage(ctx context.Context, h Handlers, evt *event.Event) {
	if evt.Sender == c.mx.UserID {
		return
	}
	content := evt.Content.AsMessage()
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}

	text, att, encrypted := translate(content)
	if att != nil && encrypted != nil {
		c.files.Add(att.URL, encrypted)
	}

	roomID := evt.RoomID.String()
	c.queues.enqueue(ctx, roomID, func() {
		user := c.lookupUser(ctx, evt.Sender)

		if key, ok := parseCommand(c.cfg.CommandPrefix, text); ok && h.Interaction != nil {
			in := chat.Interaction{Key: key, RoomID: roomID, EventID: evt.ID.String(), User: user}
			if h.Interaction(ctx, in) {
				return
			}
		}
		if h.Message == nil {
			return
		}

		room, err := c.FetchRoom(ctx, roomID)
		if err != nil {
			c.logger.Debug("ignoring message in unreadable room", "room", roomID, "error", err)
			return
		}
		m := chat.Message{ID: evt.ID.String(), RoomID: roomID, Author: user, Text: text}
		if att != nil {
			m.Attachments = []chat.Attachment{*att}
		}
		h.Message(ctx, room, m)
	})
}

func (c *Client) onReaction(ctx context.Context, h Handlers, evt *event.Event) {
	if evt.Sender == c.mx.UserID || h.Interaction == nil {
		return
	}
	rel := evt.Content.AsReaction().RelatesTo
	if rel.Type != event.RelAnnotation || rel.EventID == "" {
		return
	}

	roomID := evt.RoomID.String()
	c.queues.enqueue(ctx, roomID, func() {
		key, ok := c.promptButton(ctx, evt.RoomID, rel.EventID)
		if !ok {
			return
		}
		h.Interaction(ctx, chat.Interaction{
			Key:     key,
			RoomID:  roomID,
			EventID: rel.EventID.String(),
			User:    c.lookupUser(ctx, evt.Sender),
		})
	})
}

// promptButton returns the button id of a bot prompt, fetching the event when
// it is no longer cached.
func (c *Client) promptButton(ctx context.Context, roomID id.RoomID, eventID id.EventID) (string, bool) {
	if v, ok := c.prompts.Get(eventID.String()); ok {
		return v.(string), true
	}
	evt, err := c.mx.GetEvent(ctx, roomID, eventID)
	if err != nil {
		c.logger.Debug("fetching reacted event failed", "room", roomID, "event", eventID, "error", err)
		return "", false
	}
	if evt.Sender != c.mx.UserID {
		return "", false
	}
	key, ok := evt.Content.Raw[ButtonKey].(string)
	if !ok || key == "" {
		return "", false
	}
	c.prompts.Add(eventID.String(), key)
	return key, true
}

func (c *Client) onTyping(ctx context.Context, h Handlers, evt *event.Event) {
	if h.Typing == nil {
		return
	}
	users := slices.DeleteFunc(slices.Clone(evt.Content.AsTyping().UserIDs), func(u id.UserID) bool {
		return u == c.mx.UserID
	})

	c.typingMu.Lock()
	started, stopped, next := typingChanges(c.typing[evt.RoomID], users)
	c.typing[evt.RoomID] = next
	c.typingMu.Unlock()
	if len(started) == 0 && len(stopped) == 0 {
		return
	}

	roomID := evt.RoomID.String()
	c.queues.enqueue(ctx, roomID, func() {
		room, err := c.FetchRoom(ctx, roomID)
		if err != nil {
			return
		}
		for _, u := range started {
			h.Typing(ctx, room, c.lookupUser(ctx, u), true)
		}
		for _, u := range stopped {
			h.Typing(ctx, room, c.lookupUser(ctx, u), false)
		}
	})
}

func (c *Client) onMember(ctx context.Context, evt *event.Event) {
	if evt.StateKey == nil {
		return
	}
	target := id.UserID(*evt.StateKey)
	c.users.Remove(target.String())
	if target != c.mx.UserID {
		return
	}
	c.rooms.Remove(evt.RoomID.String())

	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite || !slices.Contains(c.cfg.AutoJoinFrom, evt.Sender.String()) {
		return
	}
	if _, err := c.mx.JoinRoomByID(ctx, evt.RoomID); err != nil {
		c.logger.Warn("joining invited room failed", "room", evt.RoomID, "inviter", evt.Sender, "error", err)
		return
	}
	c.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}
