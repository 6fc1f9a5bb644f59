// ABOUTME: Wire types for Sunshine Conversations users, conversations and messages
// ABOUTME: Also owns the metadata keys and external id tag the bridge writes

package sunshine

import "strings"

// ExternalIDPrefix tags Sunshine users created by this bridge.
const ExternalIDPrefix = "matrix-"

// Metadata keys the bridge stores on conversations and messages.
const (
	MetaChatRoom    = "chatRoom"
	MetaChatOwner   = "chatOwner"
	MetaChatMessage = "chatMessage"
	MetaChatHidden  = "chatHidden"
)

// Author types.
const (
	AuthorUser     = "user"
	AuthorBusiness = "business"
)

// Content types.
const (
	ContentText  = "text"
	ContentImage = "image"
	ContentFile  = "file"
)

// Activity types accepted by PostActivity.
const (
	ActivityTypingStart      = "typing:start"
	ActivityTypingStop       = "typing:stop"
	ActivityConversationRead = "conversation:read"
)

// Error codes callers branch on.
const (
	CodeConflict = "conflict"
	CodeNotFound = "not_found"
)

// ExternalID returns the Sunshine external id for a chat user.
func ExternalID(chatUserID string) string {
	return ExternalIDPrefix + chatUserID
}

// ChatUserID reverses ExternalID. The bool is false when externalID was not
// issued by this bridge.
func ChatUserID(externalID string) (string, bool) {
	id, ok := strings.CutPrefix(externalID, ExternalIDPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Metadata values are limited to strings, numbers and booleans.
type Metadata map[string]any

// String returns the value at key when it is a string.
func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// Bool returns the value at key when it is a boolean true.
func (m Metadata) Bool(key string) bool {
	v, _ := m[key].(bool)
	return v
}

type Profile struct {
	GivenName string `json:"givenName,omitempty"`
	Surname   string `json:"surname,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

type User struct {
	ExternalID   string   `json:"externalId"`
	SignedUpAt   string   `json:"signedUpAt,omitempty"`
	ToBeRetained bool     `json:"toBeRetained,omitempty"`
	Profile      *Profile `json:"profile,omitempty"`
	Metadata     Metadata `json:"metadata,omitempty"`
}

type Participant struct {
	UserID             string `json:"userId,omitempty"`
	UserExternalID     string `json:"userExternalId,omitempty"`
	SubscribeSDKClient bool   `json:"subscribeSDKClient"`
}

// NewConversation is the body of a create-conversation call.
type NewConversation struct {
	Type         string        `json:"type"`
	Participants []Participant `json:"participants"`
	DisplayName  string        `json:"displayName,omitempty"`
	Description  string        `json:"description,omitempty"`
	Metadata     Metadata      `json:"metadata,omitempty"`
}

// ConversationUpdate is the body of an update-conversation call.
type ConversationUpdate struct {
	DisplayName string   `json:"displayName,omitempty"`
	Description string   `json:"description,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

type SwitchboardIntegration struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	IntegrationID   string `json:"integrationId"`
	IntegrationType string `json:"integrationType"`
}

type Conversation struct {
	ID                           string                  `json:"id"`
	Type                         string                  `json:"type"`
	IsDefault                    bool                    `json:"isDefault"`
	DisplayName                  string                  `json:"displayName,omitempty"`
	Metadata                     Metadata                `json:"metadata,omitempty"`
	ActiveSwitchboardIntegration *SwitchboardIntegration `json:"activeSwitchboardIntegration,omitempty"`
	CreatedAt                    string                  `json:"createdAt,omitempty"`
}

// Room returns the chat room bound to c, if any.
func (c Conversation) Room() (string, bool) {
	room, ok := c.Metadata.String(MetaChatRoom)
	if !ok || room == "" {
		return "", false
	}
	return room, true
}

type Author struct {
	Type           string   `json:"type"`
	Subtypes       []string `json:"subtypes,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	UserExternalID string   `json:"userExternalId,omitempty"`
	DisplayName    string   `json:"displayName,omitempty"`
	AvatarURL      string   `json:"avatarUrl,omitempty"`
}

// Content covers the text, image and file content types. Other types
// decode with only Type set.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	AltText  string `json:"altText,omitempty"`
}

// MessageData is the body of a post-message call.
type MessageData struct {
	Author   Author   `json:"author"`
	Content  Content  `json:"content"`
	Metadata Metadata `json:"metadata,omitempty"`
}

type Message struct {
	ID       string   `json:"id"`
	Received string   `json:"received,omitempty"`
	Author   Author   `json:"author"`
	Content  Content  `json:"content"`
	Metadata Metadata `json:"metadata,omitempty"`
}

type Attachment struct {
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
}
