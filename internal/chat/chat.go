// ABOUTME: Chat platform capability interface and the value types it exchanges
// ABOUTME: Rooms, messages, attachments, users, buttons and interactions

package chat

import (
	"context"
	"errors"
	"io"

	"github.com/2389/coven-helpdesk/internal/topic"
)

// ErrRoomNotFound is returned by FetchRoom when the room does not exist or
// the bot is not in it.
var ErrRoomNotFound = errors.New("room not found")

// Room is a chat room as seen by the bot.
type Room struct {
	ID      string
	Name    string
	Topic   string
	IsSpace bool
	CanSend bool
}

// Usable reports whether the bridge can post text into r.
func (r Room) Usable() bool {
	return !r.IsSpace && r.CanSend
}

// Binding decodes the conversation binding from the room topic.
func (r Room) Binding() (topic.Binding, bool) {
	return topic.Decode(r.Topic)
}

// User is a chat user profile.
type User struct {
	ID          string
	DisplayName string
	Username    string
	AvatarURL   string
	IsBot       bool
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Attachment is a file attached to a chat message.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int64
}

// Message is an inbound chat message.
type Message struct {
	ID          string
	RoomID      string
	Author      User
	Text        string
	Attachments []Attachment
}

// Button is an interactive control attached to a bot message.
type Button struct {
	ID    string
	Label string
}

// Interaction is a command or button press by a user.
type Interaction struct {
	Key     string
	RoomID  string
	EventID string
	User    User
}

// RoomSpec describes a room to create.
type RoomSpec struct {
	Name  string
	Topic string
}

// Platform is everything the bridge does on the chat side.
type Platform interface {
	FetchRoom(ctx context.Context, roomID string) (Room, error)
	CreateRoom(ctx context.Context, spec RoomSpec) (Room, error)
	// GrantOwner lets userID see and write in the room.
	GrantOwner(ctx context.Context, roomID, userID string) error
	// RestrictOwner keeps userID able to read the room but not to post.
	RestrictOwner(ctx context.Context, roomID, userID string) error
	DeleteRoom(ctx context.Context, roomID string) error

	Send(ctx context.Context, roomID, text string) (string, error)
	SendWithButton(ctx context.Context, roomID, text string, button Button) (string, error)
	Reply(ctx context.Context, roomID, eventID, text string) error

	FetchAttachment(ctx context.Context, a Attachment) (io.ReadCloser, error)

	Mention(userID string) string
	RoomLink(roomID string) string
	BotUserID() string
}
