// ABOUTME: mautrix implementation of chat.Platform
// ABOUTME: Room lookup with an LRU cache, private support rooms, power-level restriction, prompts

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-helpdesk/internal/chat"
)

// restrictedLevel is the events_default applied when an owner is restricted.
const restrictedLevel = 50

const defaultCacheSize = 1024

// Config describes the bot account and room defaults.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Username and Password are used when no access token is set.
	Username string
	Password string

	Encryption  bool
	RecoveryKey string
	DataDir     string

	// SpaceID, when set, is the parent space of every support room.
	SpaceID string
	// CommandPrefix starts text commands. Defaults to "!".
	CommandPrefix string
	// AutoJoinFrom lists users whose room invites the bot accepts.
	AutoJoinFrom []string
	CacheSize    int
}

// Client is a chat.Platform backed by one Matrix account.
type Client struct {
	cfg    Config
	mx     *mautrix.Client
	logger *slog.Logger
	crypto *cryptoManager

	rooms   *lru.Cache // room id -> chat.Room
	users   *lru.Cache // user id -> chat.User
	prompts *lru.Cache // event id -> button id
	files   *lru.Cache // mxc url -> *event.EncryptedFileInfo

	queues *roomQueues
	ready  atomic.Bool

	typingMu sync.Mutex
	typing   map[id.RoomID]map[id.UserID]bool
}

var _ chat.Platform = (*Client)(nil)

// New creates a client. Call Login before anything else.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	mx, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		mx:     mx,
		logger: logger.With("component", "matrix"),
		typing: map[id.RoomID]map[id.UserID]bool{},
	}
	c.queues = newRoomQueues(c.logger)
	for _, cache := range []**lru.Cache{&c.rooms, &c.users, &c.prompts, &c.files} {
		if *cache, err = lru.New(cfg.CacheSize); err != nil {
			return nil, fmt.Errorf("creating cache: %w", err)
		}
	}
	return c, nil
}

// Login authenticates the bot and, when configured, enables encryption.
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.AccessToken != "" {
		who, err := c.mx.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("checking access token: %w", err)
		}
		c.mx.UserID = who.UserID
		c.mx.DeviceID = who.DeviceID
	} else {
		_, err := c.mx.Login(ctx, &mautrix.ReqLogin{
			Type:                     mautrix.AuthTypePassword,
			Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: c.cfg.Username},
			Password:                 c.cfg.Password,
			InitialDeviceDisplayName: "coven-helpdesk",
			StoreCredentials:         true,
		})
		if err != nil {
			return fmt.Errorf("password login: %w", err)
		}
	}
	c.logger.Info("logged in", "user", c.mx.UserID, "device", c.mx.DeviceID)

	if !c.cfg.Encryption {
		return nil
	}
	cm, err := setupCrypto(ctx, c.mx, c.cfg.RecoveryKey, c.cfg.DataDir, c.logger)
	if err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	c.crypto = cm
	return nil
}

// Close releases the key store.
func (c *Client) Close() error {
	return c.crypto.Close()
}

// Ready reports whether the first sync completed.
func (c *Client) Ready() bool { return c.ready.Load() }

func (c *Client) BotUserID() string { return c.mx.UserID.String() }

func (c *Client) Mention(userID string) string { return mention(userID) }

func (c *Client) RoomLink(roomID string) string { return roomLink(roomID) }

// gone reports errors meaning the bot cannot see the room at all.
func gone(err error) bool {
	return errors.Is(err, mautrix.MNotFound) || errors.Is(err, mautrix.MForbidden)
}

// stateOptional reads a state event, leaving out untouched when it is unset.
func (c *Client) stateOptional(ctx context.Context, roomID id.RoomID, t event.Type, out any) error {
	err := c.mx.StateEvent(ctx, roomID, t, "", out)
	if errors.Is(err, mautrix.MNotFound) {
		return nil
	}
	return err
}

func (c *Client) FetchRoom(ctx context.Context, roomID string) (chat.Room, error) {
	if v, ok := c.rooms.Get(roomID); ok {
		return v.(chat.Room), nil
	}

	rid := id.RoomID(roomID)
	var create event.CreateEventContent
	if err := c.mx.StateEvent(ctx, rid, event.StateCreate, "", &create); err != nil {
		if gone(err) {
			return chat.Room{}, fmt.Errorf("%w: %s", chat.ErrRoomNotFound, roomID)
		}
		return chat.Room{}, fmt.Errorf("reading room %s: %w", roomID, err)
	}

	var (
		name   event.RoomNameEventContent
		topic  event.TopicEventContent
		levels event.PowerLevelsEventContent
	)
	if err := c.stateOptional(ctx, rid, event.StateRoomName, &name); err != nil {
		return chat.Room{}, fmt.Errorf("reading room name: %w", err)
	}
	if err := c.stateOptional(ctx, rid, event.StateTopic, &topic); err != nil {
		return chat.Room{}, fmt.Errorf("reading room topic: %w", err)
	}
	if err := c.stateOptional(ctx, rid, event.StatePowerLevels, &levels); err != nil {
		return chat.Room{}, fmt.Errorf("reading power levels: %w", err)
	}

	room := chat.Room{
		ID:      roomID,
		Name:    name.Name,
		Topic:   topic.Topic,
		IsSpace: create.Type == event.RoomTypeSpace,
		CanSend: levels.GetUserLevel(c.mx.UserID) >= levels.GetEventLevel(event.EventMessage),
	}
	c.rooms.Add(roomID, room)
	return room, nil
}

func (c *Client) CreateRoom(ctx context.Context, spec chat.RoomSpec) (chat.Room, error) {
	var empty string
	initial := []*event.Event{
		{
			Type:     event.StateHistoryVisibility,
			StateKey: &empty,
			Content:  event.Content{Parsed: &event.HistoryVisibilityEventContent{HistoryVisibility: event.HistoryVisibilityJoined}},
		},
		{
			Type:     event.StateJoinRules,
			StateKey: &empty,
			Content:  event.Content{Parsed: &event.JoinRulesEventContent{JoinRule: event.JoinRuleInvite}},
		},
	}
	if c.cfg.Encryption {
		initial = append(initial, &event.Event{
			Type:     event.StateEncryption,
			StateKey: &empty,
			Content:  event.Content{Parsed: &event.EncryptionEventContent{Algorithm: id.AlgorithmMegolmV1}},
		})
	}
	if c.cfg.SpaceID != "" {
		space := c.cfg.SpaceID
		initial = append(initial, &event.Event{
			Type:     event.StateSpaceParent,
			StateKey: &space,
			Content:  event.Content{Parsed: &event.SpaceParentEventContent{Via: []string{c.mx.UserID.Homeserver()}, Canonical: true}},
		})
	}

	resp, err := c.mx.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility:   "private",
		Preset:       "private_chat",
		Name:         spec.Name,
		Topic:        spec.Topic,
		InitialState: initial,
	})
	if err != nil {
		return chat.Room{}, fmt.Errorf("creating room: %w", err)
	}

	if c.cfg.SpaceID != "" {
		_, err := c.mx.SendStateEvent(ctx, id.RoomID(c.cfg.SpaceID), event.StateSpaceChild, resp.RoomID.String(),
			&event.SpaceChildEventContent{Via: []string{c.mx.UserID.Homeserver()}})
		if err != nil {
			c.logger.Warn("adding room to space failed", "room", resp.RoomID, "space", c.cfg.SpaceID, "error", err)
		}
	}

	room := chat.Room{ID: resp.RoomID.String(), Name: spec.Name, Topic: spec.Topic, CanSend: true}
	c.rooms.Add(room.ID, room)
	return room, nil
}

func (c *Client) GrantOwner(ctx context.Context, roomID, userID string) error {
	_, err := c.mx.InviteUser(ctx, id.RoomID(roomID), &mautrix.ReqInviteUser{UserID: id.UserID(userID)})
	if err != nil {
		return fmt.Errorf("inviting %s: %w", userID, err)
	}
	return nil
}

func (c *Client) RestrictOwner(ctx context.Context, roomID, userID string) error {
	rid := id.RoomID(roomID)
	defer c.rooms.Remove(roomID)

	var levels event.PowerLevelsEventContent
	if err := c.stateOptional(ctx, rid, event.StatePowerLevels, &levels); err != nil {
		return fmt.Errorf("reading power levels: %w", err)
	}
	if levels.Users == nil {
		levels.Users = map[id.UserID]int{}
	}
	if levels.Events == nil {
		levels.Events = map[string]int{}
	}
	if levels.EventsDefault < restrictedLevel {
		levels.EventsDefault = restrictedLevel
	}
	levels.Users[id.UserID(userID)] = 0
	// Reactions stay open so the owner can still answer the cancel prompt.
	levels.Events[event.EventReaction.String()] = 0

	if _, err := c.mx.SendStateEvent(ctx, rid, event.StatePowerLevels, "", &levels); err != nil {
		return fmt.Errorf("updating power levels: %w", err)
	}
	if _, err := c.mx.SendStateEvent(ctx, rid, event.StateJoinRules, "",
		&event.JoinRulesEventContent{JoinRule: event.JoinRuleInvite}); err != nil {
		return fmt.Errorf("updating join rules: %w", err)
	}
	if _, err := c.mx.SendStateEvent(ctx, rid, event.StateHistoryVisibility, "",
		&event.HistoryVisibilityEventContent{HistoryVisibility: event.HistoryVisibilityJoined}); err != nil {
		return fmt.Errorf("updating history visibility: %w", err)
	}
	return nil
}

// DeleteRoom kicks everyone, then leaves and forgets the room.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	rid := id.RoomID(roomID)
	members, err := c.mx.JoinedMembers(ctx, rid)
	if err != nil {
		if gone(err) {
			return fmt.Errorf("%w: %s", chat.ErrRoomNotFound, roomID)
		}
		return fmt.Errorf("listing members: %w", err)
	}
	for uid := range members.Joined {
		if uid == c.mx.UserID {
			continue
		}
		if _, err := c.mx.KickUser(ctx, rid, &mautrix.ReqKickUser{UserID: uid, Reason: "Support request closed"}); err != nil {
			c.logger.Warn("kick failed", "room", roomID, "user", uid, "error", err)
		}
	}

	if c.cfg.SpaceID != "" {
		_, err := c.mx.SendStateEvent(ctx, id.RoomID(c.cfg.SpaceID), event.StateSpaceChild, roomID, struct{}{})
		if err != nil {
			c.logger.Warn("removing room from space failed", "room", roomID, "error", err)
		}
	}

	if _, err := c.mx.LeaveRoom(ctx, rid); err != nil {
		return fmt.Errorf("leaving room: %w", err)
	}
	c.rooms.Remove(roomID)
	if _, err := c.mx.ForgetRoom(ctx, rid); err != nil {
		c.logger.Warn("forget failed", "room", roomID, "error", err)
	}
	return nil
}

func (c *Client) sendContent(ctx context.Context, roomID string, content *event.MessageEventContent, extra map[string]any) (string, error) {
	var payload any = content
	if extra != nil {
		payload = &event.Content{Parsed: content, Raw: extra}
	}
	resp, err := c.mx.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, payload)
	if err != nil {
		return "", fmt.Errorf("sending to %s: %w", roomID, err)
	}
	return resp.EventID.String(), nil
}

func (c *Client) Send(ctx context.Context, roomID, text string) (string, error) {
	return c.sendContent(ctx, roomID, render(event.MsgText, text), nil)
}

// SendWithButton posts a prompt and seeds the reaction that presses button.
func (c *Client) SendWithButton(ctx context.Context, roomID, text string, button chat.Button) (string, error) {
	eventID, err := c.sendContent(ctx, roomID, render(event.MsgText, promptText(text, button)),
		map[string]any{ButtonKey: button.ID})
	if err != nil {
		return "", err
	}
	c.prompts.Add(eventID, button.ID)
	if _, err := c.mx.SendReaction(ctx, id.RoomID(roomID), id.EventID(eventID), buttonReaction); err != nil {
		c.logger.Warn("seeding prompt reaction failed", "room", roomID, "event", eventID, "error", err)
	}
	return eventID, nil
}

// Reply sends a notice in reply to eventID. An empty eventID sends a plain notice.
func (c *Client) Reply(ctx context.Context, roomID, eventID, text string) error {
	content := render(event.MsgNotice, text)
	if eventID != "" {
		content.RelatesTo = (&event.RelatesTo{}).SetReplyTo(id.EventID(eventID))
	}
	_, err := c.sendContent(ctx, roomID, content, nil)
	return err
}

func (c *Client) FetchAttachment(ctx context.Context, a chat.Attachment) (io.ReadCloser, error) {
	uri, err := id.ParseContentURI(a.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", a.URL, err)
	}

	if v, ok := c.files.Get(a.URL); ok {
		data, err := c.mx.DownloadBytes(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", a.URL, err)
		}
		if err := v.(*event.EncryptedFileInfo).DecryptInPlace(data); err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", a.URL, err)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	resp, err := c.mx.Download(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", a.URL, err)
	}
	return resp.Body, nil
}

// mediaURL turns an mxc URI into a homeserver download URL.
func (c *Client) mediaURL(uri id.ContentURI) string {
	return strings.TrimRight(c.cfg.Homeserver, "/") + "/_matrix/media/v3/download/" + uri.Homeserver + "/" + uri.FileID
}

// lookupUser resolves a profile, falling back to the bare id.
func (c *Client) lookupUser(ctx context.Context, uid id.UserID) chat.User {
	if v, ok := c.users.Get(uid.String()); ok {
		return v.(chat.User)
	}
	localpart, _, _ := uid.Parse()
	u := chat.User{ID: uid.String(), Username: localpart, IsBot: uid == c.mx.UserID}

	profile, err := c.mx.GetProfile(ctx, uid)
	if err != nil {
		c.logger.Debug("profile lookup failed", "user", uid, "error", err)
		return u
	}
	u.DisplayName = profile.DisplayName
	if !profile.AvatarURL.IsEmpty() {
		u.AvatarURL = c.mediaURL(profile.AvatarURL)
	}
	c.users.Add(uid.String(), u)
	return u
}
