// ABOUTME: HTTP entry point for ticketing and conversations webhooks
// ABOUTME: Verifies senders, dedupes deliveries, resolves bound rooms and dispatches events

package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-helpdesk/internal/chat"
	"github.com/2389/coven-helpdesk/internal/dedupe"
	"github.com/2389/coven-helpdesk/internal/fault"
	"github.com/2389/coven-helpdesk/internal/metrics"
	"github.com/2389/coven-helpdesk/internal/sunshine"
)

// Header names sent by the two platforms.
const (
	HeaderSignature    = "X-Zendesk-Webhook-Signature"
	HeaderTimestamp    = "X-Zendesk-Webhook-Signature-Timestamp"
	HeaderInvocationID = "X-Zendesk-Webhook-Invocation-Id"
	HeaderAPIKey       = "X-Api-Key"
)

// Ticketing event types.
const (
	EventTicketAssigned = "ticket:assigned"
	EventTicketSolved   = "ticket:solved"
)

// EventConversationMessage is the only conversations event acted on.
const EventConversationMessage = "conversation:message"

// Metric source labels.
const (
	SourceTicketing     = "zendesk"
	SourceConversations = "sunshine"
)

// DefaultMaxBodyBytes caps a webhook body.
const DefaultMaxBodyBytes = 1 << 20

// Lifecycle is the part of the lifecycle manager driven by ticketing events.
type Lifecycle interface {
	OnAgentAssigned(ctx context.Context, room chat.Room) error
	OnResolved(ctx context.Context, room chat.Room, conv sunshine.Conversation) error
}

// Relay delivers remote messages into chat rooms.
type Relay interface {
	RemoteToChat(ctx context.Context, room chat.Room, ownerID string, m sunshine.Message) error
}

// Config holds the shared secrets of both senders.
type Config struct {
	// ZendeskSecret signs ticketing webhooks.
	ZendeskSecret string
	// ConversationsSecret is the X-Api-Key value of conversations webhooks.
	ConversationsSecret string
	MaxBodyBytes        int64
}

// Deps are the collaborators of a Handler. Seen and Metrics may be nil.
type Deps struct {
	Chat      chat.Platform
	Remote    sunshine.API
	Lifecycle Lifecycle
	Relay     Relay
	Seen      *dedupe.Cache
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Handler serves both webhook sources.
type Handler struct {
	cfg       Config
	chat      chat.Platform
	remote    sunshine.API
	lifecycle Lifecycle
	relay     Relay
	seen      *dedupe.Cache
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a Handler.
func New(cfg Config, deps Deps) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		cfg:       cfg,
		chat:      deps.Chat,
		remote:    deps.Remote,
		lifecycle: deps.Lifecycle,
		relay:     deps.Relay,
		seen:      deps.Seen,
		logger:    deps.Logger.With("component", "webhook"),
		metrics:   deps.Metrics,
	}
}

// ServeHTTP routes by path and writes the status derived from the outcome.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	source := SourceConversations
	if strings.Contains(r.URL.Path, "/zd") {
		source = SourceTicketing
	}
	log := h.logger.With("request_id", uuid.NewString(), "source", source)

	var err error
	if source == SourceTicketing {
		err = h.handleTicketing(r.Context(), log, w, r)
	} else {
		err = h.handleConversations(r.Context(), log, w, r)
	}

	status := fault.StatusCode(err)
	h.metrics.ObserveWebhook(source, status, time.Since(start))

	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	kind := fault.KindOf(err)
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("webhook failed", "status", status, "kind", kind, "error", err)
	case kind == fault.NotApplicable:
		log.Info("webhook not applicable", "error", err)
	default:
		log.Warn("webhook rejected", "status", status, "kind", kind, "error", err)
	}
	sendJSONError(w, status, kind.String())
}

// sendJSONError writes a JSON error response. Only the kind is disclosed.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fault.New(fault.Validation, "body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, fault.Wrap(fault.Validation, err, "reading body")
	}
	return body, nil
}

// claim reports whether key should be processed. An empty key always is.
func (h *Handler) claim(source, key string) bool {
	if h.seen == nil || key == "" {
		return true
	}
	if h.seen.Claim(key) {
		return true
	}
	h.metrics.Duplicate(source)
	return false
}

// settle completes or releases a claimed key depending on err.
func (h *Handler) settle(key string, err error) {
	if h.seen == nil || key == "" {
		return
	}
	if err != nil {
		h.seen.Release(key)
		return
	}
	h.seen.Complete(key)
}

type ticketEvent struct {
	Type         string `json:"type"`
	RequesterID  string `json:"requesterId"`
	TicketID     string `json:"ticketId"`
	AssigneeName string `json:"assigneeName,omitempty"`
}

func (h *Handler) handleTicketing(ctx context.Context, log *slog.Logger, w http.ResponseWriter, r *http.Request) error {
	body, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	signature := r.Header.Get(HeaderSignature)
	timestamp := r.Header.Get(HeaderTimestamp)
	if signature == "" || timestamp == "" || len(body) == 0 {
		return fault.New(fault.Validation, "missing signature, timestamp or body")
	}
	if !VerifySignature(h.cfg.ZendeskSecret, timestamp, body, signature) {
		return fault.New(fault.Auth, "signature mismatch")
	}

	var key string
	if id := r.Header.Get(HeaderInvocationID); id != "" {
		key = "zd:" + id
	}
	if !h.claim(SourceTicketing, key) {
		log.Debug("duplicate delivery", "invocation", key)
		return nil
	}
	err = h.processTicketEvent(ctx, log, body)
	h.settle(key, err)
	return err
}

// contain turns a panic in event processing into an Unexpected error, so the
// delivery is answered 500 and its dedupe claim is released.
func contain(err *error) {
	if r := recover(); r != nil {
		*err = fault.New(fault.Unexpected, "invariant violation: %v", r)
	}
}

func (h *Handler) processTicketEvent(ctx context.Context, log *slog.Logger, body []byte) (err error) {
	defer contain(&err)

	var ev ticketEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fault.Wrap(fault.Validation, err, "decoding ticket event")
	}
	if _, ok := sunshine.ChatUserID(ev.RequesterID); !ok {
		return fault.New(fault.NotApplicable, "requester %q is not a chat user", ev.RequesterID)
	}

	log = log.With("type", ev.Type, "ticket", ev.TicketID, "requester", ev.RequesterID)
	room, conv, err := h.resolveRoom(ctx, log, ev.RequesterID)
	if err != nil {
		return err
	}
	if ev.Type != EventTicketAssigned && ev.Type != EventTicketSolved {
		log.Debug("ticket event ignored", "room", room.ID)
		return nil
	}

	switch ev.Type {
	case EventTicketAssigned:
		err = h.lifecycle.OnAgentAssigned(ctx, room)
	case EventTicketSolved:
		err = h.lifecycle.OnResolved(ctx, room, conv)
	}
	if err != nil {
		return fmt.Errorf("%s for room %s: %w", ev.Type, room.ID, err)
	}
	log.Info("ticket event handled", "room", room.ID, "conversation", conv.ID)
	return nil
}

// resolveRoom picks the requester's current room. Several bound conversations
// may exist; the last usable one in listing order wins.
func (h *Handler) resolveRoom(ctx context.Context, log *slog.Logger, externalID string) (chat.Room, sunshine.Conversation, error) {
	convs, err := h.remote.ListConversations(ctx, externalID)
	if err != nil {
		return chat.Room{}, sunshine.Conversation{}, fmt.Errorf("listing conversations: %w", err)
	}

	var (
		room  chat.Room
		conv  sunshine.Conversation
		found bool
	)
	for _, c := range convs {
		if c.IsDefault {
			continue
		}
		roomID, ok := c.Room()
		if !ok {
			continue
		}
		candidate, err := h.chat.FetchRoom(ctx, roomID)
		if err != nil {
			log.Warn("fetching room failed", "conversation", c.ID, "room", roomID, "error", err)
			continue
		}
		if !candidate.Usable() {
			continue
		}
		room, conv, found = candidate, c, true
	}
	if !found {
		return chat.Room{}, sunshine.Conversation{}, fault.New(fault.NotApplicable, "no usable room for %s", externalID)
	}
	return room, conv, nil
}

type conversationsEnvelope struct {
	App struct {
		ID string `json:"id"`
	} `json:"app"`
	Webhook struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	} `json:"webhook"`
	Events []conversationsEvent `json:"events"`
}

type conversationsEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
	Payload   struct {
		Conversation sunshine.Conversation `json:"conversation"`
		Message      sunshine.Message      `json:"message"`
	} `json:"payload"`
}

func (h *Handler) handleConversations(ctx context.Context, log *slog.Logger, w http.ResponseWriter, r *http.Request) error {
	key := r.Header.Get(HeaderAPIKey)
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.ConversationsSecret)) != 1 {
		return fault.New(fault.Auth, "api key mismatch")
	}
	body, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	var env conversationsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fault.Wrap(fault.Validation, err, "decoding conversations envelope")
	}

	// Events are handled in order; the first failure ends the batch so the
	// sender redelivers it. Events already handled stay completed.
	for _, ev := range env.Events {
		if ev.Type != EventConversationMessage {
			continue
		}
		var key string
		if ev.ID != "" {
			key = "sc:" + ev.ID
		}
		if !h.claim(SourceConversations, key) {
			log.Debug("duplicate event", "event", ev.ID)
			continue
		}
		err := h.processMessageEvent(ctx, log.With("event", ev.ID), ev)
		h.settle(key, err)
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) processMessageEvent(ctx context.Context, log *slog.Logger, ev conversationsEvent) (err error) {
	defer contain(&err)

	conv, message := ev.Payload.Conversation, ev.Payload.Message

	roomID, ok := conv.Room()
	if !ok {
		return fault.New(fault.NotApplicable, "conversation %s is not bound to a room", conv.ID)
	}
	room, err := h.chat.FetchRoom(ctx, roomID)
	if errors.Is(err, chat.ErrRoomNotFound) {
		return fault.Wrap(fault.NotApplicable, err, "room "+roomID)
	}
	if err != nil {
		return fmt.Errorf("fetching room %s: %w", roomID, err)
	}
	if !room.Usable() {
		return fault.New(fault.NotApplicable, "room %s cannot receive messages", roomID)
	}
	// User-authored messages are the bridge's own relays.
	if message.Author.Type != sunshine.AuthorBusiness {
		return fault.New(fault.NotApplicable, "message %s authored by %s", message.ID, message.Author.Type)
	}
	if message.Metadata.Bool(sunshine.MetaChatHidden) {
		return fault.New(fault.NotApplicable, "message %s is an internal note", message.ID)
	}
	binding, ok := room.Binding()
	if !ok || binding.ConversationID != conv.ID {
		return fault.New(fault.NotApplicable, "room %s is not bound to conversation %s", roomID, conv.ID)
	}

	if err := h.relay.RemoteToChat(ctx, room, binding.OwnerID, message); err != nil {
		return fmt.Errorf("relaying message %s: %w", message.ID, err)
	}
	log.Debug("message relayed", "room", roomID, "message", message.ID)
	return nil
}
