package client

import (
	"encoding/json"
	"log"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/protocol"
	"github.com/chitchat-app/chitchat/internal/transport"
)

// Session is one authenticated event channel to one server. Sessions
// are owned exclusively by the Pool; nothing else opens or closes one.
type Session struct {
	server models.Server
	cred   models.Credential
	conn   transport.Conn
	events chan<- tea.Msg

	mu     sync.RWMutex
	authed bool
	subs   []transport.Subscription
}

// NewSession creates a session for server using cred over conn. It does
// not connect until Open is called.
func NewSession(server models.Server, cred models.Credential, conn transport.Conn, events chan<- tea.Msg) *Session {
	return &Session{
		server: server,
		cred:   cred,
		conn:   conn,
		events: events,
	}
}

// Open wires auth handling and starts the connection. Authentication
// failure is not an error here: the session simply never reaches
// authenticated, which is all a background session needs to stay quiet.
func (s *Session) Open() {
	statusSub := s.conn.OnStatus(func(st transport.Status) {
		if st == transport.StatusConnected {
			// Fresh channel: authenticate before anything else. The
			// server replays room/DM lists after auth on every
			// reconnect; we never resend client-buffered state.
			if err := s.conn.Emit(protocol.EventAuth, protocol.AuthPayload{Token: s.cred.Token}); err != nil {
				log.Printf("session %s: auth emit failed: %v", s.server.URL, err)
			}
		} else {
			s.mu.Lock()
			s.authed = false
			s.mu.Unlock()
		}
		s.post(SessionStatusMsg{ServerURL: s.server.URL, Status: st})
	})

	okSub := s.conn.On(protocol.EventAuthOK, func(json.RawMessage) {
		s.mu.Lock()
		s.authed = true
		s.mu.Unlock()
	})

	errSub := s.conn.On(protocol.EventAuthError, func(data json.RawMessage) {
		var pl protocol.AuthErrorPayload
		_ = json.Unmarshal(data, &pl)
		s.mu.Lock()
		s.authed = false
		s.mu.Unlock()
		// Expired or revoked credential: stay disconnected-looking
		// until the credential is refreshed or the server removed.
		log.Printf("session %s: auth rejected: %s", s.server.URL, pl.Reason)
	})

	s.mu.Lock()
	s.subs = append(s.subs, statusSub, okSub, errSub)
	s.mu.Unlock()

	if err := s.conn.Connect(); err != nil {
		log.Printf("session %s: connect failed, retrying in background: %v", s.server.URL, err)
	}
}

// Close releases all subscriptions and tears down the channel.
func (s *Session) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.authed = false
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.conn.Close()
}

// Server returns the server this session belongs to.
func (s *Session) Server() models.Server {
	return s.server
}

// Token returns the credential token the session was opened with.
func (s *Session) Token() string {
	return s.cred.Token
}

// Status returns the channel status so dependents can suppress UI and
// alerts while disconnected.
func (s *Session) Status() transport.Status {
	return s.conn.Status()
}

// Authenticated reports whether the server accepted the credential.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authed
}

// Emit sends an event without expecting an acknowledgement.
func (s *Session) Emit(event string, payload any) error {
	return s.conn.Emit(event, payload)
}

// EmitWithAck sends an ack-bearing event.
func (s *Session) EmitWithAck(event string, payload any, ack transport.AckFunc) error {
	return s.conn.EmitWithAck(event, payload, ack)
}

// On subscribes to an inbound event, returning the release handle.
func (s *Session) On(event string, h transport.Handler) transport.Subscription {
	return s.conn.On(event, h)
}

func (s *Session) post(msg tea.Msg) {
	if s.events != nil {
		s.events <- msg
	}
}
