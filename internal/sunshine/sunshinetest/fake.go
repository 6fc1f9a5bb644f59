// ABOUTME: In-memory sunshine.API used by package tests
// ABOUTME: Stores users and conversations, records posted messages and uploads

package sunshinetest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"

	"github.com/2389/coven-helpdesk/internal/sunshine"
)

// Posted is one message the fake accepted.
type Posted struct {
	ConversationID string
	Data           sunshine.MessageData
}

// Activity is one activity the fake accepted.
type Activity struct {
	ConversationID string
	Author         sunshine.Author
	Type           string
}

// Upload is one attachment the fake accepted.
type Upload struct {
	ConversationID string
	Filename       string
	ContentType    string
	Data           []byte
}

type storedConversation struct {
	conv  sunshine.Conversation
	owner string
}

// API is a fake sunshine.API.
type API struct {
	mu sync.Mutex

	users         map[string]sunshine.User
	conversations []*storedConversation
	messages      []Posted
	activities    []Activity
	uploads       []Upload
	passed        []string
	deleted       []string
	nextID        int

	// Failure injection.
	FailList   error
	FailCreate error
	FailDelete map[string]error
	// FailPost is consulted per message; return nil to accept.
	FailPost   func(conversationID string, m sunshine.MessageData) error
	FailUpload error
}

func New() *API {
	return &API{
		users:      map[string]sunshine.User{},
		FailDelete: map[string]error{},
	}
}

var _ sunshine.API = (*API)(nil)

// AddConversation seeds a conversation owned by externalUserID.
func (a *API) AddConversation(externalUserID string, c sunshine.Conversation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversations = append(a.conversations, &storedConversation{conv: c, owner: externalUserID})
}

func (a *API) UpsertUser(_ context.Context, u sunshine.User) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[u.ExternalID]; !ok {
		a.nextID++
		a.conversations = append(a.conversations, &storedConversation{
			conv:  sunshine.Conversation{ID: fmt.Sprintf("default%d", a.nextID), Type: "personal", IsDefault: true},
			owner: u.ExternalID,
		})
	}
	a.users[u.ExternalID] = u
	return nil
}

func (a *API) CreateConversation(_ context.Context, nc sunshine.NewConversation) (sunshine.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailCreate != nil {
		return sunshine.Conversation{}, a.FailCreate
	}
	a.nextID++
	c := sunshine.Conversation{ID: fmt.Sprintf("conv%d", a.nextID), Type: nc.Type, Metadata: nc.Metadata}
	owner := ""
	if len(nc.Participants) > 0 {
		owner = nc.Participants[0].UserExternalID
	}
	a.conversations = append(a.conversations, &storedConversation{conv: c, owner: owner})
	return c, nil
}

func (a *API) find(id string) *storedConversation {
	for _, sc := range a.conversations {
		if sc.conv.ID == id {
			return sc
		}
	}
	return nil
}

func notFound(op string) error {
	return &sunshine.APIError{Op: op, Status: http.StatusNotFound, Codes: []string{sunshine.CodeNotFound}}
}

func (a *API) UpdateConversation(_ context.Context, id string, u sunshine.ConversationUpdate) (sunshine.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sc := a.find(id)
	if sc == nil {
		return sunshine.Conversation{}, notFound("update conversation")
	}
	if sc.conv.Metadata == nil {
		sc.conv.Metadata = sunshine.Metadata{}
	}
	for k, v := range u.Metadata {
		sc.conv.Metadata[k] = v
	}
	return sc.conv, nil
}

func (a *API) ListConversations(_ context.Context, externalUserID string) ([]sunshine.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailList != nil {
		return nil, a.FailList
	}
	var out []sunshine.Conversation
	for _, sc := range a.conversations {
		if sc.owner == externalUserID {
			out = append(out, sc.conv)
		}
	}
	return out, nil
}

func (a *API) DeleteConversation(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.FailDelete[id]; err != nil {
		return err
	}
	idx := slices.IndexFunc(a.conversations, func(sc *storedConversation) bool { return sc.conv.ID == id })
	if idx < 0 {
		return notFound("delete conversation")
	}
	a.conversations = slices.Delete(a.conversations, idx, idx+1)
	a.deleted = append(a.deleted, id)
	return nil
}

func (a *API) PassControl(_ context.Context, id, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.find(id) == nil {
		return notFound("pass control")
	}
	a.passed = append(a.passed, id)
	return nil
}

func (a *API) PostMessage(_ context.Context, id string, m sunshine.MessageData) ([]sunshine.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailPost != nil {
		if err := a.FailPost(id, m); err != nil {
			return nil, err
		}
	}
	a.messages = append(a.messages, Posted{ConversationID: id, Data: m})
	return []sunshine.Message{{
		ID:       fmt.Sprintf("msg%d", len(a.messages)),
		Author:   m.Author,
		Content:  m.Content,
		Metadata: m.Metadata,
	}}, nil
}

func (a *API) PostActivity(_ context.Context, id string, author sunshine.Author, activity string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activities = append(a.activities, Activity{ConversationID: id, Author: author, Type: activity})
	return nil
}

func (a *API) UploadAttachment(_ context.Context, conversationID, filename, contentType string, r io.Reader) (sunshine.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return sunshine.Attachment{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailUpload != nil {
		return sunshine.Attachment{}, a.FailUpload
	}
	a.uploads = append(a.uploads, Upload{
		ConversationID: conversationID,
		Filename:       filename,
		ContentType:    contentType,
		Data:           data,
	})
	return sunshine.Attachment{
		MediaURL:  "https://media.example/" + filename,
		MediaType: contentType,
	}, nil
}

// Conversation returns the stored conversation with id.
func (a *API) Conversation(id string) (sunshine.Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sc := a.find(id)
	if sc == nil {
		return sunshine.Conversation{}, false
	}
	return sc.conv, true
}

// User returns the upserted user with externalID.
func (a *API) User(externalID string) (sunshine.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[externalID]
	return u, ok
}

func (a *API) Messages() []Posted {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Posted(nil), a.messages...)
}

func (a *API) Activities() []Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Activity(nil), a.activities...)
}

func (a *API) Uploads() []Upload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Upload(nil), a.uploads...)
}

func (a *API) Passed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.passed...)
}

func (a *API) Deleted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.deleted...)
}
