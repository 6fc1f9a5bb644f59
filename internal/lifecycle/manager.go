// ABOUTME: Support request state machine: open, close existing, assign, resolve, delete
// ABOUTME: Coordinates the chat platform, the Sunshine API and the deletion registry

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-helpdesk/internal/chat"
	"github.com/2389/coven-helpdesk/internal/deletion"
	"github.com/2389/coven-helpdesk/internal/metrics"
	"github.com/2389/coven-helpdesk/internal/msg"
	"github.com/2389/coven-helpdesk/internal/sunshine"
	"github.com/2389/coven-helpdesk/internal/topic"
)

// Button ids carried by bot prompts.
const (
	ButtonCreateConversation = "create-conversation"
	ButtonCloseExisting      = "delete-old-conversations"
	ButtonCancelDeletion     = "cancel-deletion"
)

// DefaultDeletionDelay is how long a resolved room survives.
const DefaultDeletionDelay = 60 * time.Second

// ErrUnableToRemove is returned when existing requests could not all be closed.
var ErrUnableToRemove = errors.New("unable to remove existing requests")

// Outcome of OpenRequest.
type Outcome int

const (
	Created Outcome = iota + 1
	AlreadyOpen
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyOpen:
		return "already_open"
	default:
		return "unknown"
	}
}

// Config tunes the manager.
type Config struct {
	DeletionDelay time.Duration
}

// Manager runs the request lifecycle.
type Manager struct {
	chat    chat.Platform
	remote  sunshine.API
	pending *deletion.Registry
	delay   time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Manager. m may be nil.
func New(platform chat.Platform, remote sunshine.API, pending *deletion.Registry, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	delay := cfg.DeletionDelay
	if delay <= 0 {
		delay = DefaultDeletionDelay
	}
	return &Manager{
		chat:    platform,
		remote:  remote,
		pending: pending,
		delay:   delay,
		logger:  logger.With("component", "lifecycle"),
		metrics: m,
		now:     time.Now,
	}
}

// DeletionDelay returns the configured delay between resolution and deletion.
func (m *Manager) DeletionDelay() time.Duration { return m.delay }

// OpenRequest creates a conversation and a private room for u. When u
// already has a bound conversation nothing is created and AlreadyOpen is
// returned.
func (m *Manager) OpenRequest(ctx context.Context, u chat.User) (Outcome, chat.Room, error) {
	externalID := sunshine.ExternalID(u.ID)

	if err := m.remote.UpsertUser(ctx, m.profile(u)); err != nil {
		return 0, chat.Room{}, fmt.Errorf("upserting user: %w", err)
	}

	open, err := m.openConversations(ctx, externalID)
	if err != nil {
		return 0, chat.Room{}, err
	}
	if len(open) > 0 {
		m.logger.Info("request already open", "user", u.ID, "conversations", len(open))
		m.metrics.Opened(AlreadyOpen.String())
		return AlreadyOpen, chat.Room{}, nil
	}

	conv, err := m.remote.CreateConversation(ctx, sunshine.NewConversation{
		Type:         "personal",
		Participants: []sunshine.Participant{{UserExternalID: externalID}},
		Metadata: sunshine.Metadata{
			sunshine.MetaChatOwner: u.ID,
			sunshine.MetaChatRoom:  "",
		},
	})
	if err != nil {
		return 0, chat.Room{}, fmt.Errorf("creating conversation: %w", err)
	}

	roomTopic, err := topic.Compose(msg.SupportRequestTopic, topic.Binding{ConversationID: conv.ID, OwnerID: u.ID})
	if err != nil {
		m.discardConversation(ctx, conv.ID)
		return 0, chat.Room{}, err
	}

	// The owner is only let in once the conversation points at the room.
	room, err := m.chat.CreateRoom(ctx, chat.RoomSpec{
		Name:  msg.SupportRequestRoomPrefix + u.Username,
		Topic: roomTopic,
	})
	if err != nil {
		m.discardConversation(ctx, conv.ID)
		return 0, chat.Room{}, fmt.Errorf("creating room: %w", err)
	}

	if _, err := m.remote.UpdateConversation(ctx, conv.ID, sunshine.ConversationUpdate{
		Metadata: sunshine.Metadata{sunshine.MetaChatRoom: room.ID},
	}); err != nil {
		return 0, room, fmt.Errorf("binding conversation to room: %w", err)
	}

	if err := m.postNote(ctx, conv.ID, msg.CustomerOpenedRequestAgentView(u.Name(), u.Username)); err != nil {
		return 0, room, fmt.Errorf("posting agent note: %w", err)
	}

	if err := m.remote.PassControl(ctx, conv.ID, "next"); err != nil {
		return 0, room, fmt.Errorf("passing control: %w", err)
	}

	if err := m.chat.GrantOwner(ctx, room.ID, u.ID); err != nil {
		return 0, room, fmt.Errorf("granting room access: %w", err)
	}

	if _, err := m.chat.Send(ctx, room.ID, msg.SupportRequestFirstMessage); err != nil {
		m.logger.Warn("first message failed", "room", room.ID, "error", err)
	}

	m.logger.Info("request opened", "user", u.ID, "conversation", conv.ID, "room", room.ID)
	m.metrics.Opened(Created.String())
	return Created, room, nil
}

func (m *Manager) profile(u chat.User) sunshine.User {
	return sunshine.User{
		ExternalID:   sunshine.ExternalID(u.ID),
		SignedUpAt:   m.now().UTC().Format(time.RFC3339),
		ToBeRetained: true,
		Profile: &sunshine.Profile{
			GivenName: u.Name(),
			AvatarURL: u.AvatarURL,
		},
		Metadata: sunshine.Metadata{
			"chatId":       u.ID,
			"chatUsername": u.Username,
		},
	}
}

// openConversations lists the user's non-default conversations bound to a room.
func (m *Manager) openConversations(ctx context.Context, externalID string) ([]sunshine.Conversation, error) {
	all, err := m.remote.ListConversations(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	var open []sunshine.Conversation
	for _, c := range all {
		if c.IsDefault {
			continue
		}
		if _, ok := c.Room(); ok {
			open = append(open, c)
		}
	}
	return open, nil
}

func (m *Manager) discardConversation(ctx context.Context, id string) {
	if err := m.remote.DeleteConversation(ctx, id); err != nil {
		m.logger.Warn("discarding unbound conversation failed", "conversation", id, "error", err)
	}
}

// postNote posts a business message agents see and the relay never echoes.
func (m *Manager) postNote(ctx context.Context, conversationID, text string) error {
	_, err := m.remote.PostMessage(ctx, conversationID, sunshine.MessageData{
		Author:   sunshine.Author{Type: sunshine.AuthorBusiness, DisplayName: msg.BotDisplayName},
		Content:  sunshine.Content{Type: sunshine.ContentText, Text: text},
		Metadata: sunshine.Metadata{sunshine.MetaChatHidden: true},
	})
	return err
}

// CloseExistingRequests deletes every bound conversation of userID along with
// its room. Each conversation is handled independently; any failure to post
// the closure note makes the result ErrUnableToRemove, but conversations
// already removed stay removed.
func (m *Manager) CloseExistingRequests(ctx context.Context, userID string) error {
	open, err := m.openConversations(ctx, sunshine.ExternalID(userID))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnableToRemove, err)
	}

	var failed []error
	for _, conv := range open {
		roomID, _ := conv.Room()
		log := m.logger.With("conversation", conv.ID, "room", roomID)

		if m.pending.Cancel(roomID) {
			m.metrics.Deletion("cancelled")
		}

		if _, err := m.chat.FetchRoom(ctx, roomID); err != nil {
			log.Warn("fetching room for closure failed", "error", err)
		} else if err := m.chat.DeleteRoom(ctx, roomID); err != nil {
			log.Warn("deleting room failed", "error", err)
		}

		if err := m.postNote(ctx, conv.ID, msg.CustomerClosedRequest); err != nil {
			log.Warn("posting closure note failed", "error", err)
			failed = append(failed, fmt.Errorf("conversation %s: %w", conv.ID, err))
			continue
		}

		if err := m.remote.DeleteConversation(ctx, conv.ID); err != nil {
			log.Warn("deleting conversation failed", "error", err)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %w", ErrUnableToRemove, errors.Join(failed...))
	}
	return nil
}

// OnAgentAssigned tells the room an agent picked up the request.
func (m *Manager) OnAgentAssigned(ctx context.Context, room chat.Room) error {
	if _, err := m.chat.Send(ctx, room.ID, msg.SupportRequestAssigned); err != nil {
		return fmt.Errorf("sending assignment notice: %w", err)
	}
	return nil
}

// OnResolved posts the resolution notice, locks the owner out of posting and
// schedules deletion, replacing any deletion already pending for the room.
// The deletion is scheduled even if restricting the owner fails; that error
// is still returned so the sender retries.
func (m *Manager) OnResolved(ctx context.Context, room chat.Room, conv sunshine.Conversation) error {
	log := m.logger.With("room", room.ID, "conversation", conv.ID)

	if _, err := m.chat.SendWithButton(ctx, room.ID, msg.SupportRequestResolved(m.delay),
		chat.Button{ID: ButtonCancelDeletion, Label: msg.Cancel}); err != nil {
		log.Warn("sending resolution notice failed", "error", err)
	}

	var restrictErr error
	if owner, ok := conv.Metadata.String(sunshine.MetaChatOwner); ok && owner != "" {
		if err := m.chat.RestrictOwner(ctx, room.ID, owner); err != nil {
			restrictErr = fmt.Errorf("restricting owner: %w", err)
		}
	}

	roomID, convID := room.ID, conv.ID
	m.pending.Schedule(roomID, m.delay, func(ctx context.Context) {
		m.deleteRequest(ctx, roomID, convID)
	})
	m.metrics.Deletion("scheduled")
	log.Info("deletion scheduled", "after", m.delay)

	return restrictErr
}

// deleteRequest removes the room, then the conversation. Neither failure stops
// the other step.
func (m *Manager) deleteRequest(ctx context.Context, roomID, conversationID string) {
	log := m.logger.With("room", roomID, "conversation", conversationID)
	if err := m.chat.DeleteRoom(ctx, roomID); err != nil {
		log.Warn("deleting resolved room failed", "error", err)
	}
	if err := m.remote.DeleteConversation(ctx, conversationID); err != nil {
		log.Warn("deleting resolved conversation failed", "error", err)
	}
	m.metrics.Deletion("fired")
	log.Info("resolved request deleted")
}

// CancelDeletion stops the pending deletion for roomID. It is safe to call
// when nothing is pending.
func (m *Manager) CancelDeletion(roomID string) bool {
	if !m.pending.Cancel(roomID) {
		return false
	}
	m.metrics.Deletion("cancelled")
	m.logger.Info("deletion cancelled", "room", roomID)
	return true
}
