// ABOUTME: Tests for the message relay using fake chat and Sunshine backends
// ABOUTME: Ordering, the attachment ceiling, empty text, failures and substitution

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-helpdesk/internal/chat"
	"github.com/2389/coven-helpdesk/internal/chat/chattest"
	"github.com/2389/coven-helpdesk/internal/msg"
	"github.com/2389/coven-helpdesk/internal/sunshine"
	"github.com/2389/coven-helpdesk/internal/sunshine/sunshinetest"
	"github.com/2389/coven-helpdesk/internal/topic"
)

const (
	owner  = "@alice:example.org"
	convID = "conv-1"
	roomID = "!support:example.org"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func setup(t *testing.T) (*Relay, *chattest.Platform, *sunshinetest.API, chat.Room) {
	t.Helper()
	platform := chattest.New()
	remote := sunshinetest.New()
	remote.AddConversation(sunshine.ExternalID(owner), sunshine.Conversation{ID: convID})

	tp, err := topic.Compose("Support request", topic.Binding{ConversationID: convID, OwnerID: owner})
	require.NoError(t, err)
	room := chat.Room{ID: roomID, Topic: tp, CanSend: true}
	platform.AddRoom(room)

	r := New(platform, remote, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	return r, platform, remote, room
}

func ownerMessage(text string, atts ...chat.Attachment) chat.Message {
	return chat.Message{
		ID:          "$m1",
		RoomID:      roomID,
		Author:      chat.User{ID: owner, DisplayName: "Alice"},
		Text:        text,
		Attachments: atts,
	}
}

func TestChatToRemote_SingleText(t *testing.T) {
	r, platform, remote, room := setup(t)

	r.ChatToRemote(context.Background(), room, ownerMessage("hello"))

	posted := remote.Messages()
	require.Len(t, posted, 1)
	assert.Equal(t, convID, posted[0].ConversationID)
	assert.Equal(t, sunshine.AuthorUser, posted[0].Data.Author.Type)
	assert.Equal(t, "matrix-"+owner, posted[0].Data.Author.UserExternalID)
	assert.Equal(t, "Alice", posted[0].Data.Author.DisplayName)
	assert.Equal(t, sunshine.Content{Type: sunshine.ContentText, Text: "hello"}, posted[0].Data.Content)
	assert.Equal(t, "$m1", posted[0].Data.Metadata[sunshine.MetaChatMessage])
	assert.Empty(t, platform.SentMessages())
}

func TestChatToRemote_IgnoresNonOwnersBotsAndUnboundRooms(t *testing.T) {
	r, _, remote, room := setup(t)
	ctx := context.Background()

	stranger := ownerMessage("hi")
	stranger.Author.ID = "@mallory:example.org"
	r.ChatToRemote(ctx, room, stranger)

	bot := ownerMessage("hi")
	bot.Author = chat.User{ID: chattest.BotID}
	r.ChatToRemote(ctx, room, bot)

	flagged := ownerMessage("hi")
	flagged.Author.IsBot = true
	r.ChatToRemote(ctx, room, flagged)

	r.ChatToRemote(ctx, chat.Room{ID: "!plain:example.org", Topic: "lobby"}, ownerMessage("hi"))

	assert.Empty(t, remote.Messages())
}

func TestChatToRemote_OrderTextThenAttachments(t *testing.T) {
	r, platform, remote, room := setup(t)
	platform.Attachments["mxc://a"] = pngHeader
	platform.Attachments["mxc://b"] = []byte("%PDF-1.4 body")

	r.ChatToRemote(context.Background(), room, ownerMessage("see attached",
		chat.Attachment{URL: "mxc://a", Filename: "a.png", ContentType: "image/png", Size: int64(len(pngHeader))},
		chat.Attachment{URL: "mxc://b", Filename: "b.pdf", ContentType: "application/pdf", Size: 13},
	))

	posted := remote.Messages()
	require.Len(t, posted, 3)
	assert.Equal(t, sunshine.ContentText, posted[0].Data.Content.Type)
	assert.Equal(t, sunshine.ContentImage, posted[1].Data.Content.Type)
	assert.Equal(t, "https://media.example/a.png", posted[1].Data.Content.MediaURL)
	assert.Equal(t, sunshine.ContentFile, posted[2].Data.Content.Type)

	// Attachment envelopes copy author and metadata from the text envelope.
	assert.Equal(t, posted[0].Data.Author, posted[2].Data.Author)
	assert.Equal(t, posted[0].Data.Metadata, posted[2].Data.Metadata)

	uploads := remote.Uploads()
	require.Len(t, uploads, 2)
	assert.Equal(t, pngHeader, uploads[0].Data)
	assert.Equal(t, convID, uploads[0].ConversationID)
}

func TestChatToRemote_EmptyTextDropped(t *testing.T) {
	r, platform, remote, room := setup(t)
	platform.Attachments["mxc://a"] = pngHeader

	r.ChatToRemote(context.Background(), room, ownerMessage("",
		chat.Attachment{URL: "mxc://a", Filename: "a.png", Size: int64(len(pngHeader))},
	))

	posted := remote.Messages()
	require.Len(t, posted, 1)
	assert.Equal(t, sunshine.ContentImage, posted[0].Data.Content.Type)
}

func TestChatToRemote_SniffsMissingContentType(t *testing.T) {
	r, platform, remote, room := setup(t)
	platform.Attachments["mxc://a"] = pngHeader

	r.ChatToRemote(context.Background(), room, ownerMessage("",
		chat.Attachment{URL: "mxc://a", Filename: "a"},
	))

	uploads := remote.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "image/png", uploads[0].ContentType)
}

func TestChatToRemote_AttachmentSizeCeiling(t *testing.T) {
	r, platform, remote, room := setup(t)
	platform.Attachments["mxc://exact"] = []byte("x")
	platform.Attachments["mxc://over"] = []byte("y")

	r.ChatToRemote(context.Background(), room, ownerMessage("two files",
		chat.Attachment{URL: "mxc://exact", Filename: "exact.bin", ContentType: "application/octet-stream", Size: MaxAttachmentBytes},
		chat.Attachment{URL: "mxc://over", Filename: "over.bin", ContentType: "application/octet-stream", Size: MaxAttachmentBytes + 1},
	))

	uploads := remote.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "exact.bin", uploads[0].Filename)

	posted := remote.Messages()
	require.Len(t, posted, 2, "text plus the in-limit attachment")

	replies := platform.SentTo(roomID)
	require.Len(t, replies, 1)
	assert.Equal(t, msg.Exceeded50MBLimit, replies[0].Text)
	assert.Equal(t, "$m1", replies[0].ReplyTo)
}

func TestChatToRemote_StreamedSizeEnforced(t *testing.T) {
	r, platform, remote, room := setup(t)
	r.maxBytes = 8
	platform.Attachments["mxc://big"] = []byte("0123456789")

	// Declared size is missing, so the limit is enforced while streaming.
	r.ChatToRemote(context.Background(), room, ownerMessage("",
		chat.Attachment{URL: "mxc://big", Filename: "big.bin", ContentType: "application/octet-stream"},
	))

	assert.Empty(t, remote.Messages())
	replies := platform.SentTo(roomID)
	require.Len(t, replies, 1)
	assert.Equal(t, msg.Exceeded50MBLimit, replies[0].Text)
}

func TestChatToRemote_FetchFailureRepliesAndContinues(t *testing.T) {
	r, platform, remote, room := setup(t)
	platform.FailAttachment["mxc://bad"] = errors.New("media repo down")
	platform.Attachments["mxc://good"] = pngHeader

	r.ChatToRemote(context.Background(), room, ownerMessage("hi",
		chat.Attachment{URL: "mxc://bad", Filename: "bad.png"},
		chat.Attachment{URL: "mxc://good", Filename: "good.png"},
	))

	posted := remote.Messages()
	require.Len(t, posted, 2)
	assert.Equal(t, sunshine.ContentText, posted[0].Data.Content.Type)
	assert.Equal(t, "https://media.example/good.png", posted[1].Data.Content.MediaURL)

	replies := platform.SentTo(roomID)
	require.Len(t, replies, 1)
	assert.Equal(t, msg.FailedToUpload(errors.New("media repo down")), replies[0].Text)
}

func TestChatToRemote_PostFailureDoesNotBlockLaterEnvelopes(t *testing.T) {
	r, platform, remote, room := setup(t)
	platform.Attachments["mxc://a"] = pngHeader
	remote.FailPost = func(_ string, m sunshine.MessageData) error {
		if m.Content.Type == sunshine.ContentText {
			return &sunshine.APIError{Op: "post message", Status: 500}
		}
		return nil
	}

	r.ChatToRemote(context.Background(), room, ownerMessage("hi",
		chat.Attachment{URL: "mxc://a", Filename: "a.png"},
	))

	posted := remote.Messages()
	require.Len(t, posted, 1)
	assert.Equal(t, sunshine.ContentImage, posted[0].Data.Content.Type)

	replies := platform.SentTo(roomID)
	require.Len(t, replies, 1)
	assert.Equal(t, msg.MessageFailedToSend, replies[0].Text)
}

func TestChatTyping(t *testing.T) {
	r, _, remote, room := setup(t)
	ctx := context.Background()

	r.ChatTyping(ctx, room, chat.User{ID: owner, DisplayName: "Alice"}, true)
	r.ChatTyping(ctx, room, chat.User{ID: owner}, false)
	r.ChatTyping(ctx, room, chat.User{ID: "@other:example.org"}, true)

	acts := remote.Activities()
	require.Len(t, acts, 2)
	assert.Equal(t, sunshine.ActivityTypingStart, acts[0].Type)
	assert.Equal(t, sunshine.ActivityTypingStop, acts[1].Type)
	assert.Equal(t, convID, acts[0].ConversationID)
}

func TestRemoteToChat(t *testing.T) {
	tests := []struct {
		name    string
		content sunshine.Content
		want    []string
	}{
		{
			name:    "text with placeholders",
			content: sunshine.Content{Type: sunshine.ContentText, Text: "Hi @User, thanks @CUSTOMER"},
			want:    []string{"Hi <" + owner + ">, thanks <" + owner + ">"},
		},
		{
			name:    "image with caption",
			content: sunshine.Content{Type: sunshine.ContentImage, Text: "screenshot", MediaURL: "https://m/x.png"},
			want:    []string{"screenshot\nhttps://m/x.png"},
		},
		{
			name:    "file without text",
			content: sunshine.Content{Type: sunshine.ContentFile, MediaURL: "https://m/x.pdf"},
			want:    []string{"https://m/x.pdf"},
		},
		{
			name:    "unsupported kind dropped",
			content: sunshine.Content{Type: "carousel"},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, platform, _, room := setup(t)
			err := r.RemoteToChat(context.Background(), room, owner, sunshine.Message{ID: "m", Content: tt.content})
			require.NoError(t, err)

			var got []string
			for _, s := range platform.SentTo(roomID) {
				got = append(got, s.Text)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemoteToChat_SendFailure(t *testing.T) {
	r, platform, _, room := setup(t)
	platform.FailSend[roomID] = errors.New("forbidden")

	err := r.RemoteToChat(context.Background(), room, owner,
		sunshine.Message{Content: sunshine.Content{Type: sunshine.ContentText, Text: "x"}})
	assert.Error(t, err)
}

func TestSubstitute(t *testing.T) {
	assert.Equal(t, "hi M and M", Substitute("hi @user and @Customer", "M"))
	assert.Equal(t, "no placeholders", Substitute("no placeholders", "M"))
	assert.Equal(t, "$1 literal", Substitute("@user literal", "$1"))
}
