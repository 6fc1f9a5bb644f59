// ABOUTME: Closed registry of chat commands and buttons
// ABOUTME: Dispatches interactions to lifecycle operations and reports failures to the user

package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/2389/coven-helpdesk/internal/chat"
	"github.com/2389/coven-helpdesk/internal/lifecycle"
	"github.com/2389/coven-helpdesk/internal/msg"
)

// CommandSupport posts the live chat prompt into the current room.
const CommandSupport = "support"

// Kind tells commands from buttons.
type Kind int

const (
	Command Kind = iota
	Button
)

// Handler runs one interaction.
type Handler func(ctx context.Context, in chat.Interaction) error

// Action is one entry of the registry.
type Action struct {
	Key       string
	Kind      Kind
	AdminOnly bool
	Handler   Handler
}

// Lifecycle is what the actions drive.
type Lifecycle interface {
	OpenRequest(ctx context.Context, u chat.User) (lifecycle.Outcome, chat.Room, error)
	CloseExistingRequests(ctx context.Context, userID string) error
	CancelDeletion(roomID string) bool
}

// Registry holds the fixed action set.
type Registry struct {
	chat      chat.Platform
	lifecycle Lifecycle
	admins    []string
	logger    *slog.Logger
	actions   map[string]*Action
}

// New builds the registry. admins lists the chat user ids allowed to run
// admin-only actions; when empty, anyone may.
func New(platform chat.Platform, lc Lifecycle, admins []string, logger *slog.Logger) *Registry {
	r := &Registry{
		chat:      platform,
		lifecycle: lc,
		admins:    admins,
		logger:    logger.With("component", "interaction"),
	}
	actions := []*Action{
		{Key: CommandSupport, Kind: Command, AdminOnly: true, Handler: r.postPrompt},
		{Key: lifecycle.ButtonCreateConversation, Kind: Button, Handler: r.createConversation},
		{Key: lifecycle.ButtonCloseExisting, Kind: Button, Handler: r.closeExisting},
		{Key: lifecycle.ButtonCancelDeletion, Kind: Button, Handler: r.cancelDeletion},
	}
	r.actions = make(map[string]*Action, len(actions))
	for _, a := range actions {
		r.actions[a.Key] = a
	}
	return r
}

// Lookup returns the action registered under key.
func (r *Registry) Lookup(key string) (*Action, bool) {
	a, ok := r.actions[key]
	return a, ok
}

// Keys returns every registered key of the given kind, sorted.
func (r *Registry) Keys(kind Kind) []string {
	var keys []string
	for k, a := range r.actions {
		if a.Kind == kind {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Dispatch runs the action for in.Key. It reports whether the key was known.
func (r *Registry) Dispatch(ctx context.Context, in chat.Interaction) bool {
	action, ok := r.actions[in.Key]
	if !ok {
		return false
	}
	log := r.logger.With("key", in.Key, "room", in.RoomID, "user", in.User.ID)

	if action.AdminOnly && !r.isAdmin(in.User.ID) {
		log.Info("admin action refused")
		r.reply(ctx, in, msg.CommandForbidden)
		return true
	}

	if err := action.Handler(ctx, in); err != nil {
		log.Error("interaction failed", "error", err)
		r.reply(ctx, in, msg.CallbackError(err))
		return true
	}
	log.Debug("interaction handled")
	return true
}

func (r *Registry) isAdmin(userID string) bool {
	return len(r.admins) == 0 || slices.Contains(r.admins, userID)
}

func (r *Registry) reply(ctx context.Context, in chat.Interaction, text string) {
	if err := r.chat.Reply(ctx, in.RoomID, in.EventID, text); err != nil {
		r.logger.Warn("reply failed", "room", in.RoomID, "error", err)
	}
}

func (r *Registry) postPrompt(ctx context.Context, in chat.Interaction) error {
	_, err := r.chat.SendWithButton(ctx, in.RoomID, msg.LiveChatPrompt(),
		chat.Button{ID: lifecycle.ButtonCreateConversation, Label: msg.StartLiveChatButton})
	if err != nil {
		return fmt.Errorf("posting prompt: %w", err)
	}
	r.reply(ctx, in, msg.PromptSent)
	return nil
}

func (r *Registry) createConversation(ctx context.Context, in chat.Interaction) error {
	outcome, room, err := r.lifecycle.OpenRequest(ctx, in.User)
	if err != nil {
		return err
	}
	switch outcome {
	case lifecycle.AlreadyOpen:
		_, err := r.chat.SendWithButton(ctx, in.RoomID, msg.CustomerCloseExistingQuestion,
			chat.Button{ID: lifecycle.ButtonCloseExisting, Label: msg.CloseRequest})
		if err != nil {
			return fmt.Errorf("asking to close existing request: %w", err)
		}
	case lifecycle.Created:
		r.reply(ctx, in, msg.SupportRequestCreated(r.chat.RoomLink(room.ID)))
	}
	return nil
}

func (r *Registry) closeExisting(ctx context.Context, in chat.Interaction) error {
	if err := r.lifecycle.CloseExistingRequests(ctx, in.User.ID); err != nil {
		r.logger.Warn("closing existing requests failed", "user", in.User.ID, "error", err)
		r.reply(ctx, in, msg.UnableToRemoveExistingRequests)
		return nil
	}
	return r.createConversation(ctx, in)
}

func (r *Registry) cancelDeletion(ctx context.Context, in chat.Interaction) error {
	r.lifecycle.CancelDeletion(in.RoomID)
	r.reply(ctx, in, msg.SupportRequestDeleteCancelled)
	return nil
}
