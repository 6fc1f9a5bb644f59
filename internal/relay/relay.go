// ABOUTME: Bidirectional message relay between chat rooms and Sunshine conversations
// ABOUTME: Ordered envelope delivery, attachment re-upload with a 50 MB ceiling, mention substitution

package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/2389/coven-helpdesk/internal/chat"
	"github.com/2389/coven-helpdesk/internal/metrics"
	"github.com/2389/coven-helpdesk/internal/msg"
	"github.com/2389/coven-helpdesk/internal/sunshine"
)

// MaxAttachmentBytes is the largest attachment relayed to the remote side.
const MaxAttachmentBytes = 50_000_000

// sniffLen is how much of an attachment is read to detect its type.
const sniffLen = 3072

var errTooLarge = errors.New("attachment exceeds size limit")

// Relay carries messages in both directions.
type Relay struct {
	chat     chat.Platform
	remote   sunshine.API
	logger   *slog.Logger
	metrics  *metrics.Metrics
	maxBytes int64
}

// New creates a Relay. m may be nil.
func New(platform chat.Platform, remote sunshine.API, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		chat:     platform,
		remote:   remote,
		logger:   logger.With("component", "relay"),
		metrics:  m,
		maxBytes: MaxAttachmentBytes,
	}
}

// ChatToRemote relays m, posted in room, to the bound conversation. Messages
// from bots, from anyone but the owner, or in unbound rooms are ignored.
func (r *Relay) ChatToRemote(ctx context.Context, room chat.Room, m chat.Message) {
	if m.Author.IsBot || m.Author.ID == r.chat.BotUserID() {
		return
	}
	binding, ok := room.Binding()
	if !ok || m.Author.ID != binding.OwnerID {
		return
	}

	primary := sunshine.MessageData{
		Author: sunshine.Author{
			Type:           sunshine.AuthorUser,
			UserExternalID: sunshine.ExternalID(m.Author.ID),
			DisplayName:    m.Author.Name(),
			AvatarURL:      m.Author.AvatarURL,
		},
		Content:  sunshine.Content{Type: sunshine.ContentText, Text: m.Text},
		Metadata: sunshine.Metadata{sunshine.MetaChatMessage: m.ID},
	}
	envelopes := []sunshine.MessageData{primary}

	for _, att := range m.Attachments {
		content, err := r.upload(ctx, binding.ConversationID, att)
		switch {
		case errors.Is(err, errTooLarge):
			r.logger.Info("attachment over limit", "room", room.ID, "file", att.Filename, "size", att.Size)
			r.reply(ctx, room.ID, m.ID, msg.Exceeded50MBLimit)
			continue
		case err != nil:
			r.logger.Warn("attachment upload failed", "room", room.ID, "file", att.Filename, "error", err)
			r.reply(ctx, room.ID, m.ID, msg.FailedToUpload(err))
			continue
		}
		envelopes = append(envelopes, sunshine.MessageData{
			Author:   primary.Author,
			Content:  content,
			Metadata: primary.Metadata,
		})
	}

	// Strictly sequential: each post completes before the next starts.
	for _, env := range envelopes {
		if env.Content.Type == sunshine.ContentText && env.Content.Text == "" {
			continue
		}
		if _, err := r.remote.PostMessage(ctx, binding.ConversationID, env); err != nil {
			r.logger.Warn("relay to conversation failed",
				"room", room.ID,
				"conversation", binding.ConversationID,
				"kind", env.Content.Type,
				"error", err,
			)
			r.metrics.Relayed("to_remote", env.Content.Type, "error")
			r.reply(ctx, room.ID, m.ID, msg.MessageFailedToSend)
			continue
		}
		r.metrics.Relayed("to_remote", env.Content.Type, "ok")
	}
}

// upload fetches att from chat and re-uploads it to the conversation.
func (r *Relay) upload(ctx context.Context, conversationID string, att chat.Attachment) (sunshine.Content, error) {
	if att.Size > r.maxBytes {
		return sunshine.Content{}, errTooLarge
	}

	body, err := r.chat.FetchAttachment(ctx, att)
	if err != nil {
		return sunshine.Content{}, err
	}
	defer body.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return sunshine.Content{}, err
	}
	head = head[:n]

	contentType := att.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(head).String()
	}

	capped := &capReader{r: io.MultiReader(bytes.NewReader(head), body), max: r.maxBytes}
	uploaded, err := r.remote.UploadAttachment(ctx, conversationID, att.Filename, contentType, capped)
	if capped.exceeded {
		return sunshine.Content{}, errTooLarge
	}
	if err != nil {
		return sunshine.Content{}, err
	}

	mediaType := uploaded.MediaType
	if mediaType == "" {
		mediaType = contentType
	}
	kind := sunshine.ContentFile
	if strings.HasPrefix(mediaType, "image/") {
		kind = sunshine.ContentImage
	}
	return sunshine.Content{Type: kind, MediaURL: uploaded.MediaURL}, nil
}

func (r *Relay) reply(ctx context.Context, roomID, eventID, text string) {
	if err := r.chat.Reply(ctx, roomID, eventID, text); err != nil {
		r.logger.Warn("reply failed", "room", roomID, "error", err)
	}
}

// ChatTyping forwards the owner's typing state to the bound conversation.
func (r *Relay) ChatTyping(ctx context.Context, room chat.Room, user chat.User, typing bool) {
	binding, ok := room.Binding()
	if !ok || user.ID != binding.OwnerID {
		return
	}
	activity := sunshine.ActivityTypingStop
	if typing {
		activity = sunshine.ActivityTypingStart
	}
	author := sunshine.Author{
		Type:           sunshine.AuthorUser,
		UserExternalID: sunshine.ExternalID(user.ID),
		DisplayName:    user.Name(),
	}
	if err := r.remote.PostActivity(ctx, binding.ConversationID, author, activity); err != nil {
		r.logger.Debug("typing relay failed", "room", room.ID, "error", err)
	}
}

// RemoteToChat posts a remote message into room, mentioning ownerID where the
// agent wrote @user or @customer.
func (r *Relay) RemoteToChat(ctx context.Context, room chat.Room, ownerID string, m sunshine.Message) error {
	text := Substitute(m.Content.Text, r.chat.Mention(ownerID))

	switch m.Content.Type {
	case sunshine.ContentText:
	case sunshine.ContentImage, sunshine.ContentFile:
		if text == "" {
			text = m.Content.MediaURL
		} else {
			text += "\n" + m.Content.MediaURL
		}
	default:
		r.logger.Warn("unsupported message type dropped", "type", m.Content.Type, "room", room.ID, "message", m.ID)
		r.metrics.Relayed("to_chat", m.Content.Type, "dropped")
		return nil
	}

	if _, err := r.chat.Send(ctx, room.ID, text); err != nil {
		r.metrics.Relayed("to_chat", m.Content.Type, "error")
		return err
	}
	r.metrics.Relayed("to_chat", m.Content.Type, "ok")
	return nil
}

var placeholder = regexp.MustCompile(`(?i)@(user|customer)`)

// Substitute replaces @user and @customer, in any case, with mention.
func Substitute(text, mention string) string {
	return placeholder.ReplaceAllLiteralString(text, mention)
}

// capReader fails once more than max bytes have been read.
type capReader struct {
	r        io.Reader
	max      int64
	read     int64
	exceeded bool
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.read > c.max {
		c.exceeded = true
		return n, errTooLarge
	}
	return n, err
}
