// ABOUTME: In-memory chat.Platform used by package tests
// ABOUTME: Records every send, reply and permission change for assertions

package chattest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/2389/coven-helpdesk/internal/chat"
)

const BotID = "@bot:example.org"

// Sent is one message the fake delivered.
type Sent struct {
	RoomID  string
	Text    string
	Button  *chat.Button
	ReplyTo string
}

// Platform is a fake chat.Platform. Zero value is not usable; call New.
type Platform struct {
	mu sync.Mutex

	Rooms       map[string]chat.Room
	Members     map[string]map[string]bool
	Restricted  map[string]map[string]bool
	Deleted     []string
	Messages    []Sent
	Attachments map[string][]byte

	// Failure injection, keyed by room id or attachment URL.
	FailFetch      map[string]error
	FailDelete     map[string]error
	FailSend       map[string]error
	FailAttachment map[string]error
	FailCreate     error

	nextID int
}

func New() *Platform {
	return &Platform{
		Rooms:          map[string]chat.Room{},
		Members:        map[string]map[string]bool{},
		Restricted:     map[string]map[string]bool{},
		Attachments:    map[string][]byte{},
		FailFetch:      map[string]error{},
		FailDelete:     map[string]error{},
		FailSend:       map[string]error{},
		FailAttachment: map[string]error{},
	}
}

var _ chat.Platform = (*Platform)(nil)

// AddRoom registers an existing room.
func (p *Platform) AddRoom(r chat.Room) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Rooms[r.ID] = r
}

func (p *Platform) FetchRoom(_ context.Context, roomID string) (chat.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailFetch[roomID]; err != nil {
		return chat.Room{}, err
	}
	r, ok := p.Rooms[roomID]
	if !ok {
		return chat.Room{}, chat.ErrRoomNotFound
	}
	return r, nil
}

func (p *Platform) CreateRoom(_ context.Context, spec chat.RoomSpec) (chat.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCreate != nil {
		return chat.Room{}, p.FailCreate
	}
	p.nextID++
	r := chat.Room{
		ID:      fmt.Sprintf("!room%d:example.org", p.nextID),
		Name:    spec.Name,
		Topic:   spec.Topic,
		CanSend: true,
	}
	p.Rooms[r.ID] = r
	return r, nil
}

func (p *Platform) GrantOwner(_ context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Members[roomID] == nil {
		p.Members[roomID] = map[string]bool{}
	}
	p.Members[roomID][userID] = true
	return nil
}

func (p *Platform) RestrictOwner(_ context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Restricted[roomID] == nil {
		p.Restricted[roomID] = map[string]bool{}
	}
	p.Restricted[roomID][userID] = true
	return nil
}

func (p *Platform) DeleteRoom(_ context.Context, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailDelete[roomID]; err != nil {
		return err
	}
	if _, ok := p.Rooms[roomID]; !ok {
		return chat.ErrRoomNotFound
	}
	delete(p.Rooms, roomID)
	p.Deleted = append(p.Deleted, roomID)
	return nil
}

func (p *Platform) record(s Sent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailSend[s.RoomID]; err != nil {
		return "", err
	}
	p.Messages = append(p.Messages, s)
	return fmt.Sprintf("$evt%d", len(p.Messages)), nil
}

func (p *Platform) Send(_ context.Context, roomID, text string) (string, error) {
	return p.record(Sent{RoomID: roomID, Text: text})
}

func (p *Platform) SendWithButton(_ context.Context, roomID, text string, button chat.Button) (string, error) {
	return p.record(Sent{RoomID: roomID, Text: text, Button: &button})
}

func (p *Platform) Reply(_ context.Context, roomID, eventID, text string) error {
	_, err := p.record(Sent{RoomID: roomID, Text: text, ReplyTo: eventID})
	return err
}

func (p *Platform) FetchAttachment(_ context.Context, a chat.Attachment) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailAttachment[a.URL]; err != nil {
		return nil, err
	}
	data, ok := p.Attachments[a.URL]
	if !ok {
		return nil, errors.New("attachment not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *Platform) Mention(userID string) string { return "<" + userID + ">" }

func (p *Platform) RoomLink(roomID string) string { return "#" + roomID }

func (p *Platform) BotUserID() string { return BotID }

// SentMessages returns a copy of everything sent so far.
func (p *Platform) SentMessages() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.Messages...)
}

// SentTo returns the messages delivered to roomID.
func (p *Platform) SentTo(roomID string) []Sent {
	var out []Sent
	for _, s := range p.SentMessages() {
		if s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out
}

// HasRoom reports whether roomID still exists.
func (p *Platform) HasRoom(roomID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.Rooms[roomID]
	return ok
}

// IsRestricted reports whether RestrictOwner was called for userID in roomID.
func (p *Platform) IsRestricted(roomID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Restricted[roomID][userID]
}

// IsMember reports whether GrantOwner was called for userID in roomID.
func (p *Platform) IsMember(roomID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Members[roomID][userID]
}

// DeletedRooms returns the rooms DeleteRoom removed, in order.
func (p *Platform) DeletedRooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Deleted...)
}
