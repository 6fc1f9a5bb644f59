// ABOUTME: resty-based HTTP client for the Sunshine Conversations v2 API
// ABOUTME: Basic auth, {appId} substitution, and *APIError on non-2xx responses

package sunshine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config holds the connection settings for a Sunshine app.
type Config struct {
	Endpoint  string
	AppID     string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// API is the set of Sunshine calls the bridge makes. *Client implements it.
type API interface {
	UpsertUser(ctx context.Context, u User) error
	CreateConversation(ctx context.Context, c NewConversation) (Conversation, error)
	UpdateConversation(ctx context.Context, id string, u ConversationUpdate) (Conversation, error)
	ListConversations(ctx context.Context, externalUserID string) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	PassControl(ctx context.Context, id, switchboardIntegration string) error
	PostMessage(ctx context.Context, id string, m MessageData) ([]Message, error)
	PostActivity(ctx context.Context, id string, author Author, activity string) error
	UploadAttachment(ctx context.Context, conversationID, filename, contentType string, r io.Reader) (Attachment, error)
}

// Client talks to one Sunshine app.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

var _ API = (*Client)(nil)

// New creates a Client. A trailing slash on the endpoint is ignored.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetPathParam("appId", cfg.AppID).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &Client{http: httpClient, logger: logger}
}

// do executes a request and converts non-2xx responses into *APIError.
func (c *Client) do(ctx context.Context, op, method, path string, req *resty.Request) (*resty.Response, error) {
	var errBody errorBody
	resp, err := req.SetContext(ctx).SetError(&errBody).Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("sunshine: %s: %w", op, err)
	}
	if !resp.IsSuccess() {
		apiErr := errBody.toAPIError(op, resp.StatusCode())
		c.logger.Warn("sunshine api call failed",
			"op", op,
			"status", apiErr.Status,
			"codes", apiErr.Codes,
			"body", resp.String(),
		)
		return resp, apiErr
	}
	return resp, nil
}

// CreateUser creates a user and reports whether it was new. A new user also
// gets an unbound default conversation, which the bridge never uses.
func (c *Client) CreateUser(ctx context.Context, u User) (bool, error) {
	resp, err := c.do(ctx, "create user", http.MethodPost, "/v2/apps/{appId}/users",
		c.http.R().SetBody(u))
	if err != nil {
		return false, err
	}
	if resp.StatusCode() != http.StatusCreated {
		return false, nil
	}

	_, err = c.CreateConversation(ctx, NewConversation{
		Type:         "personal",
		Participants: []Participant{{UserExternalID: u.ExternalID}},
	})
	if err != nil {
		return true, fmt.Errorf("creating default conversation: %w", err)
	}
	return true, nil
}

func (c *Client) UpdateUser(ctx context.Context, u User) error {
	_, err := c.do(ctx, "update user", http.MethodPatch, "/v2/apps/{appId}/users/{userId}",
		c.http.R().SetPathParam("userId", u.ExternalID).SetBody(u))
	return err
}

// UpsertUser creates u, falling back to an update when the user exists.
func (c *Client) UpsertUser(ctx context.Context, u User) error {
	_, err := c.CreateUser(ctx, u)
	if HasCode(err, CodeConflict) {
		return c.UpdateUser(ctx, u)
	}
	return err
}

func (c *Client) CreateConversation(ctx context.Context, nc NewConversation) (Conversation, error) {
	var out struct {
		Conversation Conversation `json:"conversation"`
	}
	_, err := c.do(ctx, "create conversation", http.MethodPost, "/v2/apps/{appId}/conversations",
		c.http.R().SetBody(nc).SetResult(&out))
	return out.Conversation, err
}

func (c *Client) UpdateConversation(ctx context.Context, id string, u ConversationUpdate) (Conversation, error) {
	var out struct {
		Conversation Conversation `json:"conversation"`
	}
	_, err := c.do(ctx, "update conversation", http.MethodPatch, "/v2/apps/{appId}/conversations/{conversationId}",
		c.http.R().SetPathParam("conversationId", id).SetBody(u).SetResult(&out))
	return out.Conversation, err
}

// ListConversations returns the first page (100) of a user's conversations.
func (c *Client) ListConversations(ctx context.Context, externalUserID string) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
		Meta          struct {
			HasMore bool `json:"hasMore"`
		} `json:"meta"`
	}
	_, err := c.do(ctx, "list conversations", http.MethodGet, "/v2/apps/{appId}/conversations",
		c.http.R().
			SetQueryParam("page[size]", "100").
			SetQueryParam("filter[userExternalId]", externalUserID).
			SetResult(&out))
	if err != nil {
		return nil, err
	}
	if out.Meta.HasMore {
		c.logger.Warn("conversation listing truncated", "user", externalUserID, "returned", len(out.Conversations))
	}
	return out.Conversations, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete conversation", http.MethodDelete, "/v2/apps/{appId}/conversations/{conversationId}",
		c.http.R().SetPathParam("conversationId", id))
	return err
}

// PassControl hands the conversation to a switchboard integration, usually "next".
func (c *Client) PassControl(ctx context.Context, id, switchboardIntegration string) error {
	_, err := c.do(ctx, "pass control", http.MethodPost, "/v2/apps/{appId}/conversations/{conversationId}/passControl",
		c.http.R().
			SetPathParam("conversationId", id).
			SetBody(map[string]string{"switchboardIntegration": switchboardIntegration}))
	return err
}

// PostMessage posts m. Anything but 201 is an error.
func (c *Client) PostMessage(ctx context.Context, id string, m MessageData) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	resp, err := c.do(ctx, "post message", http.MethodPost, "/v2/apps/{appId}/conversations/{conversationId}/messages",
		c.http.R().SetPathParam("conversationId", id).SetBody(m).SetResult(&out))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, &APIError{Op: "post message", Status: resp.StatusCode()}
	}
	return out.Messages, nil
}

func (c *Client) PostActivity(ctx context.Context, id string, author Author, activity string) error {
	body := struct {
		Author Author `json:"author"`
		Type   string `json:"type"`
	}{Author: author, Type: activity}
	_, err := c.do(ctx, "post activity", http.MethodPost, "/v2/apps/{appId}/conversations/{conversationId}/activity",
		c.http.R().SetPathParam("conversationId", id).SetBody(body))
	return err
}

// UploadAttachment uploads r as a public message attachment for the conversation.
func (c *Client) UploadAttachment(ctx context.Context, conversationID, filename, contentType string, r io.Reader) (Attachment, error) {
	var out struct {
		Attachment Attachment `json:"attachment"`
	}
	_, err := c.do(ctx, "upload attachment", http.MethodPost, "/v2/apps/{appId}/attachments",
		c.http.R().
			SetQueryParams(map[string]string{
				"access":         "public",
				"for":            "message",
				"conversationId": conversationID,
			}).
			SetMultipartField("source", filename, contentType, r).
			SetResult(&out))
	return out.Attachment, err
}
