// ABOUTME: Room topic codec binding a chat room to a remote conversation
// ABOUTME: Encodes [conversationId, ownerId] after a zero-width sentinel, capped at 800 chars

package topic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Sentinel marks the start of the bridge-owned payload inside a topic.
// Nothing else writes U+200E five times in a row, so its presence means the
// rest of the topic was produced by Encode.
var Sentinel = strings.Repeat("‎", 5)

// MaxLength is the largest encoded payload (sentinel included), in characters.
const MaxLength = 800

// ErrPayloadTooLarge is returned by Encode when the payload would not fit.
var ErrPayloadTooLarge = errors.New("topic payload too large")

// Binding ties a chat room to a remote conversation and the user who owns it.
type Binding struct {
	ConversationID string
	OwnerID        string
}

// Encode serializes b behind the sentinel. HTML characters are kept literal
// so every id character counts once against MaxLength.
func Encode(b Binding) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([2]string{b.ConversationID, b.OwnerID}); err != nil {
		return "", fmt.Errorf("marshaling binding: %w", err)
	}
	payload := strings.TrimSuffix(buf.String(), "\n")

	encoded := Sentinel + payload
	if n := utf8.RuneCountInString(encoded); n > MaxLength {
		return "", fmt.Errorf("%w: %d characters (max %d)", ErrPayloadTooLarge, n, MaxLength)
	}
	return encoded, nil
}

// Compose builds a full room topic: human-readable prefix, a blank line, then
// the encoded binding.
func Compose(prefix string, b Binding) (string, error) {
	encoded, err := Encode(b)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return encoded, nil
	}
	return prefix + "\n\n" + encoded, nil
}

// Decode extracts the binding from a topic. The second return value is false
// when the topic carries no sentinel, meaning the room is not bridge-managed.
//
// A sentinel followed by anything but a valid payload can only come from a
// bug in this package, so Decode panics rather than returning an error.
func Decode(raw string) (Binding, bool) {
	idx := strings.Index(raw, Sentinel)
	if idx == -1 {
		return Binding{}, false
	}

	var pair []string
	if err := json.Unmarshal([]byte(raw[idx+len(Sentinel):]), &pair); err != nil {
		panic(fmt.Sprintf("topic: malformed payload after sentinel: %v", err))
	}
	if len(pair) != 2 {
		panic(fmt.Sprintf("topic: payload has %d elements, want 2", len(pair)))
	}
	return Binding{ConversationID: pair[0], OwnerID: pair[1]}, true
}
