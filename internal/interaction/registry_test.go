// ABOUTME: Tests for interaction dispatch against a real lifecycle manager and fake backends
// ABOUTME: Covers the prompt command, admin gating, open/close-existing and cancel buttons

package interaction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-helpdesk/internal/chat"
	"github.com/2389/coven-helpdesk/internal/chat/chattest"
	"github.com/2389/coven-helpdesk/internal/deletion"
	"github.com/2389/coven-helpdesk/internal/lifecycle"
	"github.com/2389/coven-helpdesk/internal/msg"
	"github.com/2389/coven-helpdesk/internal/sunshine"
	"github.com/2389/coven-helpdesk/internal/sunshine/sunshinetest"
)

const lobby = "!lobby:example.org"

var (
	alice = chat.User{ID: "@alice:example.org", DisplayName: "Alice", Username: "alice"}
	admin = chat.User{ID: "@admin:example.org", Username: "admin"}
)

type env struct {
	reg      *Registry
	platform *chattest.Platform
	remote   *sunshinetest.API
	mgr      *lifecycle.Manager
	clock    *deletion.ManualClock
}

func newEnv(t *testing.T, admins ...string) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := deletion.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	pending := deletion.NewWithClock(clock)
	t.Cleanup(pending.Close)

	e := &env{platform: chattest.New(), remote: sunshinetest.New(), clock: clock}
	e.platform.AddRoom(chat.Room{ID: lobby, Name: "lobby", CanSend: true})
	e.mgr = lifecycle.New(e.platform, e.remote, pending, lifecycle.Config{}, logger, nil)
	e.reg = New(e.platform, e.mgr, admins, logger)
	return e
}

func (e *env) press(key string, u chat.User) bool {
	return e.reg.Dispatch(context.Background(), chat.Interaction{Key: key, RoomID: lobby, EventID: "$press", User: u})
}

func TestRegistry_ClosedSet(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, []string{CommandSupport}, e.reg.Keys(Command))
	assert.Equal(t, []string{
		lifecycle.ButtonCancelDeletion,
		lifecycle.ButtonCreateConversation,
		lifecycle.ButtonCloseExisting,
	}, e.reg.Keys(Button))

	assert.False(t, e.press("launch-missiles", alice))
	assert.Empty(t, e.platform.SentMessages())
}

func TestSupportCommand_PostsPrompt(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.press(CommandSupport, admin))

	sent := e.platform.SentTo(lobby)
	require.Len(t, sent, 2)
	require.NotNil(t, sent[0].Button)
	assert.Equal(t, lifecycle.ButtonCreateConversation, sent[0].Button.ID)
	assert.Equal(t, msg.StartLiveChatButton, sent[0].Button.Label)
	assert.Equal(t, msg.LiveChatPrompt(), sent[0].Text)
	assert.Equal(t, msg.PromptSent, sent[1].Text)
}

func TestSupportCommand_AdminOnly(t *testing.T) {
	e := newEnv(t, admin.ID)

	require.True(t, e.press(CommandSupport, alice))
	sent := e.platform.SentTo(lobby)
	require.Len(t, sent, 1)
	assert.Equal(t, msg.CommandForbidden, sent[0].Text)

	require.True(t, e.press(CommandSupport, admin))
	assert.Len(t, e.platform.SentTo(lobby), 3)
}

func TestCreateConversation_RepliesWithLink(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.press(lifecycle.ButtonCreateConversation, alice))

	sent := e.platform.SentTo(lobby)
	require.Len(t, sent, 1)
	assert.Equal(t, "$press", sent[0].ReplyTo)
	assert.Contains(t, sent[0].Text, "Your support ticket was created #!room")
}

func TestCreateConversation_AlreadyOpenAsksToClose(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.press(lifecycle.ButtonCreateConversation, alice))
	require.True(t, e.press(lifecycle.ButtonCreateConversation, alice))

	sent := e.platform.SentTo(lobby)
	require.Len(t, sent, 2)
	require.NotNil(t, sent[1].Button)
	assert.Equal(t, lifecycle.ButtonCloseExisting, sent[1].Button.ID)
	assert.Equal(t, msg.CloseRequest, sent[1].Button.Label)
	assert.Equal(t, msg.CustomerCloseExistingQuestion, sent[1].Text)
}

func TestCloseExisting_ReplacesRequest(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.press(lifecycle.ButtonCreateConversation, alice))
	first := e.platform.SentTo(lobby)[0].Text

	require.True(t, e.press(lifecycle.ButtonCloseExisting, alice))

	sent := e.platform.SentTo(lobby)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Text, "Your support ticket was created")
	assert.NotEqual(t, first, sent[1].Text, "a new room was linked")
	assert.Len(t, e.remote.Deleted(), 1)
}

func TestCloseExisting_FailureStopsReopen(t *testing.T) {
	e := newEnv(t)
	require.True(t, e.press(lifecycle.ButtonCreateConversation, alice))
	e.remote.FailPost = func(string, sunshine.MessageData) error { return errors.New("down") }

	require.True(t, e.press(lifecycle.ButtonCloseExisting, alice))

	sent := e.platform.SentTo(lobby)
	require.Len(t, sent, 2)
	assert.Equal(t, msg.UnableToRemoveExistingRequests, sent[1].Text)
}

func TestCreateConversation_ErrorIsReported(t *testing.T) {
	e := newEnv(t)
	e.remote.FailList = errors.New("boom")

	require.True(t, e.press(lifecycle.ButtonCreateConversation, alice))

	sent := e.platform.SentTo(lobby)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "An error occurred while running the callback")
	assert.Contains(t, sent[0].Text, "boom")
}

func TestCancelDeletion(t *testing.T) {
	e := newEnv(t)
	_, room, err := e.mgr.OpenRequest(context.Background(), alice)
	require.NoError(t, err)
	binding, ok := room.Binding()
	require.True(t, ok)
	conv, ok := e.remote.Conversation(binding.ConversationID)
	require.True(t, ok)
	require.NoError(t, e.mgr.OnResolved(context.Background(), room, conv))

	require.True(t, e.reg.Dispatch(context.Background(), chat.Interaction{
		Key: lifecycle.ButtonCancelDeletion, RoomID: room.ID, EventID: "$c", User: alice,
	}))
	e.clock.Advance(2 * time.Minute)

	assert.True(t, e.platform.HasRoom(room.ID))
	sent := e.platform.SentTo(room.ID)
	assert.Equal(t, msg.SupportRequestDeleteCancelled, sent[len(sent)-1].Text)

	// Pressing again with nothing pending still answers.
	require.True(t, e.reg.Dispatch(context.Background(), chat.Interaction{
		Key: lifecycle.ButtonCancelDeletion, RoomID: room.ID, EventID: "$c2", User: alice,
	}))
	sent = e.platform.SentTo(room.ID)
	assert.Equal(t, msg.SupportRequestDeleteCancelled, sent[len(sent)-1].Text)
}
