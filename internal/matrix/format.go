// ABOUTME: Outgoing message rendering: markdown to formatted_body, mentions, prompt text
// ABOUTME: Inbound helpers: command parsing, attachment extraction, typing diffs

package matrix

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-helpdesk/internal/chat"
)

const matrixTo = "https://matrix.to/#/"

// ButtonKey is the content key carrying a prompt's button id.
const ButtonKey = "net.2389.button"

// buttonReaction is the reaction the bot seeds on prompts.
const buttonReaction = "✅"

var markdown = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

var mentionLink = regexp.MustCompile(`\[([^\]]+)\]\(` + regexp.QuoteMeta(matrixTo) + `(@[^)\s]+)\)`)

func mention(userID string) string {
	return "[" + userID + "](" + matrixTo + userID + ")"
}

func roomLink(roomID string) string {
	return matrixTo + roomID
}

// render builds message content from markdown text. Mention links become
// plain user ids in the body and are listed in m.mentions.
func render(msgType event.MessageType, text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: msgType,
		Body:    mentionLink.ReplaceAllString(text, "$1"),
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = strings.TrimSpace(buf.String())
	}

	var users []id.UserID
	seen := map[string]bool{}
	for _, m := range mentionLink.FindAllStringSubmatch(text, -1) {
		if !seen[m[2]] {
			seen[m[2]] = true
			users = append(users, id.UserID(m[2]))
		}
	}
	if len(users) > 0 {
		content.Mentions = &event.Mentions{UserIDs: users}
	}
	return content
}

func promptText(text string, b chat.Button) string {
	return text + "\n\n" + buttonReaction + " " + b.Label
}

// parseCommand returns the lowercased first word after prefix.
func parseCommand(prefix, text string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

// translate splits message content into text and an optional attachment.
// For media messages the body is only a caption when a separate filename is set.
func translate(c *event.MessageEventContent) (string, *chat.Attachment, *event.EncryptedFileInfo) {
	switch c.MsgType {
	case event.MsgImage, event.MsgFile, event.MsgVideo, event.MsgAudio:
	default:
		return c.Body, nil, nil
	}

	att := &chat.Attachment{URL: string(c.URL), Filename: c.FileName}
	if c.File != nil {
		att.URL = string(c.File.URL)
	}
	var caption string
	if att.Filename == "" {
		att.Filename = c.Body
	} else if c.Body != c.FileName {
		caption = c.Body
	}
	if c.Info != nil {
		att.ContentType = c.Info.MimeType
		att.Size = int64(c.Info.Size)
	}
	return caption, att, c.File
}

// typingChanges diffs the users typing in a room against the previous set.
func typingChanges(prev map[id.UserID]bool, now []id.UserID) (started, stopped []id.UserID, next map[id.UserID]bool) {
	next = make(map[id.UserID]bool, len(now))
	for _, u := range now {
		next[u] = true
		if !prev[u] {
			started = append(started, u)
		}
	}
	for u := range prev {
		if !next[u] {
			stopped = append(stopped, u)
		}
	}
	return started, stopped, next
}
