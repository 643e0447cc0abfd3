package client

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/protocol"
	"github.com/chitchat-app/chitchat/internal/transport"
)

var (
	ErrEmptyMessage   = errors.New("pipeline: message has no content and no attachments")
	ErrUnknownMessage = errors.New("pipeline: no such local message")
	ErrNotFailed      = errors.New("pipeline: message is not in the failed state")
)

// typingStopDelay is how long after the last keystroke the typing
// signal is withdrawn.
const typingStopDelay = 5 * time.Second

// emitter is the slice of Session the pipeline needs; tests substitute
// a fake.
type emitter interface {
	Emit(event string, payload any) error
	EmitWithAck(event string, payload any, ack transport.AckFunc) error
}

// SendState tracks a local echo through its lifecycle.
type SendState string

const (
	StatePending SendState = "pending"
	StateFailed  SendState = "failed"
)

// LocalEcho is the client-side half of an optimistic send. It exists
// until the server confirms the nonce or the user gives up.
type LocalEcho struct {
	LocalID       string
	Nonce         string
	RoomID        string
	Content       string
	AttachmentIDs []string
	ReplyToID     string
	CreatedAt     time.Time
	State         SendState
	Error         string
}

// EntryKind tags the message variant.
type EntryKind int

const (
	KindLocalEcho EntryKind = iota
	KindConfirmed
)

// Entry is one slot in a room's message sequence: either a local echo
// awaiting confirmation or an authoritative server message. A confirmed
// entry that started life as an echo keeps its LocalID but renders from
// Message.
type Entry struct {
	Kind    EntryKind
	Local   *LocalEcho
	Message *models.Message
}

// MessageView is the projection the view layer renders from, uniform
// across both variants.
type MessageView struct {
	LocalID       string
	ID            string
	RoomID        string
	AuthorID      string
	AuthorName    string
	Content       string
	AttachmentIDs []string
	CreatedAt     time.Time
	State         string // "pending", "failed", "confirmed"
	Error         string
}

// Project narrows the variant into the render projection.
func (e *Entry) Project() MessageView {
	if e.Kind == KindConfirmed {
		v := MessageView{
			ID:            e.Message.ID,
			RoomID:        e.Message.RoomID,
			AuthorID:      e.Message.AuthorID,
			AuthorName:    e.Message.AuthorName,
			Content:       e.Message.Content,
			AttachmentIDs: e.Message.AttachmentIDs,
			CreatedAt:     e.Message.CreatedAt,
			State:         "confirmed",
		}
		if e.Local != nil {
			v.LocalID = e.Local.LocalID
		}
		return v
	}
	return MessageView{
		LocalID:       e.Local.LocalID,
		RoomID:        e.Local.RoomID,
		Content:       e.Local.Content,
		AttachmentIDs: e.Local.AttachmentIDs,
		CreatedAt:     e.Local.CreatedAt,
		State:         string(e.Local.State),
		Error:         e.Local.Error,
	}
}

// Pipeline is the per-room optimistic send/ack/retry state machine for
// the foreground session. One instance lives per foreground server;
// switching servers replaces it wholesale.
type Pipeline struct {
	emit   emitter
	self   models.User
	events chan<- tea.Msg

	mu          sync.Mutex
	rooms       map[string][]*Entry
	byNonce     map[string]*Entry
	currentRoom string
	typing      map[string]*time.Timer
}

// NewPipeline creates a pipeline sending through em as user self.
func NewPipeline(em emitter, self models.User, events chan<- tea.Msg) *Pipeline {
	return &Pipeline{
		emit:    em,
		self:    self,
		events:  events,
		rooms:   make(map[string][]*Entry),
		byNonce: make(map[string]*Entry),
		typing:  make(map[string]*time.Timer),
	}
}

// JoinRoom announces presence in a room and makes it current.
func (p *Pipeline) JoinRoom(roomID string) {
	p.mu.Lock()
	p.currentRoom = roomID
	p.mu.Unlock()
	if err := p.emit.Emit(protocol.EventRoomJoin, protocol.RoomRefPayload{RoomID: roomID}); err != nil {
		log.Printf("pipeline: room join emit failed: %v", err)
	}
}

// LeaveRoom leaves a room, clearing its local message state and any
// in-flight typing signal.
func (p *Pipeline) LeaveRoom(roomID string) {
	p.mu.Lock()
	for _, e := range p.rooms[roomID] {
		if e.Local != nil {
			delete(p.byNonce, e.Local.Nonce)
		}
	}
	delete(p.rooms, roomID)
	if p.currentRoom == roomID {
		p.currentRoom = ""
	}
	timer := p.typing[roomID]
	delete(p.typing, roomID)
	p.mu.Unlock()

	if timer != nil {
		timer.Stop()
		p.emitTypingStop(roomID)
	}
	if err := p.emit.Emit(protocol.EventRoomLeave, protocol.RoomRefPayload{RoomID: roomID}); err != nil {
		log.Printf("pipeline: room leave emit failed: %v", err)
	}
}

// CurrentRoom returns the room currently open in the UI.
func (p *Pipeline) CurrentRoom() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRoom
}

// Send materializes an optimistic echo at the tail of the room's
// sequence and emits the send request. The echo is visible before any
// round trip completes.
func (p *Pipeline) Send(roomID, content string, attachmentIDs []string, replyToID string) (string, error) {
	if content == "" && len(attachmentIDs) == 0 {
		return "", ErrEmptyMessage
	}

	echo := &LocalEcho{
		LocalID:       uuid.NewString(),
		Nonce:         uuid.NewString(),
		RoomID:        roomID,
		Content:       content,
		AttachmentIDs: attachmentIDs,
		ReplyToID:     replyToID,
		CreatedAt:     time.Now(),
		State:         StatePending,
	}
	entry := &Entry{Kind: KindLocalEcho, Local: echo}

	p.mu.Lock()
	p.rooms[roomID] = append(p.rooms[roomID], entry)
	p.byNonce[echo.Nonce] = entry
	p.mu.Unlock()
	p.post(MessagesUpdatedMsg{RoomID: roomID})

	p.submit(echo)
	return echo.LocalID, nil
}

// Retry resubmits a failed message on the same local slot with a fresh
// nonce. Retrying an empty message is rejected without a round trip.
func (p *Pipeline) Retry(roomID, localID string) error {
	p.mu.Lock()
	var entry *Entry
	for _, e := range p.rooms[roomID] {
		if e.Local != nil && e.Local.LocalID == localID {
			entry = e
			break
		}
	}
	if entry == nil {
		p.mu.Unlock()
		return ErrUnknownMessage
	}
	if entry.Kind != KindLocalEcho || entry.Local.State != StateFailed {
		p.mu.Unlock()
		return ErrNotFailed
	}
	if entry.Local.Content == "" && len(entry.Local.AttachmentIDs) == 0 {
		p.mu.Unlock()
		return ErrEmptyMessage
	}

	delete(p.byNonce, entry.Local.Nonce)
	entry.Local.Nonce = uuid.NewString()
	entry.Local.State = StatePending
	entry.Local.Error = ""
	p.byNonce[entry.Local.Nonce] = entry
	echo := *entry.Local
	p.mu.Unlock()
	p.post(MessagesUpdatedMsg{RoomID: roomID})

	p.submit(&echo)
	return nil
}

// submit emits the send request for an echo and routes the ack back.
func (p *Pipeline) submit(echo *LocalEcho) {
	payload := protocol.SendMessagePayload{
		RoomID:        echo.RoomID,
		Content:       echo.Content,
		AttachmentIDs: echo.AttachmentIDs,
		ReplyToID:     echo.ReplyToID,
		Nonce:         echo.Nonce,
	}
	nonce := echo.Nonce
	err := p.emit.EmitWithAck(protocol.EventMessageSend, payload, func(data json.RawMessage, err error) {
		p.handleSendAck(nonce, data, err)
	})
	if err != nil {
		p.failNonce(nonce, err.Error())
	}
}

// handleSendAck applies the server's acknowledgement for one nonce.
func (p *Pipeline) handleSendAck(nonce string, data json.RawMessage, err error) {
	if err != nil {
		p.failNonce(nonce, err.Error())
		return
	}
	var ack protocol.SendMessageAck
	if jsonErr := json.Unmarshal(data, &ack); jsonErr != nil {
		p.failNonce(nonce, "malformed acknowledgement")
		return
	}
	if !ack.OK {
		p.failNonce(nonce, ack.Error)
		return
	}
	if ack.Message != nil {
		p.confirmNonce(nonce, *ack.Message)
	}
	// An OK ack without the message means the broadcast echo carries
	// the authoritative copy; confirmation happens there.
}

// HandleIncoming processes a broadcast message:new. A nonce matching an
// in-flight echo confirms it in place; anything else, including a
// duplicate delivery whose nonce window already closed, is appended.
func (p *Pipeline) HandleIncoming(pl protocol.MessageNewPayload) {
	msg := pl.Message

	p.mu.Lock()
	if pl.Nonce != "" {
		if entry, ok := p.byNonce[pl.Nonce]; ok {
			entry.Kind = KindConfirmed
			entry.Message = &msg
			delete(p.byNonce, pl.Nonce)
			p.mu.Unlock()
			p.post(MessagesUpdatedMsg{RoomID: msg.RoomID})
			return
		}
	}
	p.rooms[msg.RoomID] = append(p.rooms[msg.RoomID], &Entry{Kind: KindConfirmed, Message: &msg})
	p.mu.Unlock()
	p.post(MessagesUpdatedMsg{RoomID: msg.RoomID})
}

func (p *Pipeline) confirmNonce(nonce string, msg models.Message) {
	p.mu.Lock()
	entry, ok := p.byNonce[nonce]
	if !ok {
		p.mu.Unlock()
		return
	}
	entry.Kind = KindConfirmed
	entry.Message = &msg
	delete(p.byNonce, nonce)
	p.mu.Unlock()
	p.post(MessagesUpdatedMsg{RoomID: msg.RoomID})
}

func (p *Pipeline) failNonce(nonce, reason string) {
	p.mu.Lock()
	entry, ok := p.byNonce[nonce]
	if !ok || entry.Kind == KindConfirmed {
		p.mu.Unlock()
		return
	}
	entry.Local.State = StateFailed
	entry.Local.Error = reason
	roomID := entry.Local.RoomID
	p.mu.Unlock()
	p.post(MessagesUpdatedMsg{RoomID: roomID})
}

// StartTyping emits a typing signal and schedules its withdrawal. Each
// call pushes the stop out by typingStopDelay.
func (p *Pipeline) StartTyping(roomID string) {
	p.mu.Lock()
	timer, active := p.typing[roomID]
	if active {
		timer.Reset(typingStopDelay)
		p.mu.Unlock()
		return
	}
	p.typing[roomID] = time.AfterFunc(typingStopDelay, func() {
		p.mu.Lock()
		delete(p.typing, roomID)
		p.mu.Unlock()
		p.emitTypingStop(roomID)
	})
	p.mu.Unlock()

	if err := p.emit.Emit(protocol.EventTypingStart, protocol.RoomRefPayload{RoomID: roomID}); err != nil {
		log.Printf("pipeline: typing start emit failed: %v", err)
	}
}

func (p *Pipeline) emitTypingStop(roomID string) {
	if err := p.emit.Emit(protocol.EventTypingStop, protocol.RoomRefPayload{RoomID: roomID}); err != nil {
		log.Printf("pipeline: typing stop emit failed: %v", err)
	}
}

// Messages returns the render projection of one room's sequence.
func (p *Pipeline) Messages(roomID string) []MessageView {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.rooms[roomID]
	out := make([]MessageView, len(entries))
	for i, e := range entries {
		out[i] = e.Project()
	}
	return out
}

// Reset discards every room's message state and typing timers. Called
// when the foreground server switches.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	timers := p.typing
	p.rooms = make(map[string][]*Entry)
	p.byNonce = make(map[string]*Entry)
	p.typing = make(map[string]*time.Timer)
	p.currentRoom = ""
	p.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

func (p *Pipeline) post(msg tea.Msg) {
	if p.events != nil {
		p.events <- msg
	}
}
