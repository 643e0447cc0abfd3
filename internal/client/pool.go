package client

import (
	"encoding/json"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/protocol"
	"github.com/chitchat-app/chitchat/internal/transport"
)

// Pool owns every Session: one foreground session for the active
// server plus a background session per other token-bearing server.
// Background sessions subscribe only to message:notify and exist purely
// to feed badge counts; they never materialize message history.
type Pool struct {
	dial   transport.Dialer
	events chan<- tea.Msg

	mu         sync.Mutex
	activeURL  string
	foreground *Session
	background map[string]*Session
	bgSubs     map[string]transport.Subscription
}

// NewPool creates a pool that dials channels with dial and posts
// events into the application channel.
func NewPool(dial transport.Dialer, events chan<- tea.Msg) *Pool {
	return &Pool{
		dial:       dial,
		events:     events,
		background: make(map[string]*Session),
		bgSubs:     make(map[string]transport.Subscription),
	}
}

// Reconcile brings the live session set in line with the saved servers
// and credentials. It is idempotent: calling it twice with the same
// arguments changes nothing. Switching the active server is a hard
// reset: the prior foreground session is discarded, never migrated,
// because room state is server-specific and must not leak across.
func (p *Pool) Reconcile(servers []models.Server, creds map[string]models.Credential, activeURL string) {
	activeURL = models.NormalizeServerURL(activeURL)

	desired := make(map[string]models.Server)
	desiredCred := make(map[string]models.Credential)
	for _, srv := range servers {
		u := models.NormalizeServerURL(srv.URL)
		cred, ok := creds[u]
		if !ok {
			// No credential means no session can be opened.
			continue
		}
		srv.URL = u
		desired[u] = srv
		desiredCred[u] = cred
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fgChanged := p.activeURL != activeURL

	// Foreground: tear down when the server changed, the credential
	// changed, or the credential disappeared.
	cred, hasCred := desiredCred[activeURL]
	if p.foreground != nil && (fgChanged || !hasCred || p.foreground.Token() != cred.Token) {
		p.foreground.Close()
		p.foreground = nil
	}
	p.activeURL = activeURL
	if p.foreground == nil && hasCred {
		sess := NewSession(desired[activeURL], cred, p.dial(activeURL), p.events)
		p.foreground = sess
		sess.Open()
	}

	// Background: one session per other credentialed server.
	for u, srv := range desired {
		if u == activeURL {
			continue
		}
		if existing, ok := p.background[u]; ok {
			if existing.Token() == desiredCred[u].Token {
				continue
			}
			p.dropBackgroundLocked(u, existing)
		}
		sess := NewSession(srv, desiredCred[u], p.dial(u), p.events)
		p.background[u] = sess
		url := u
		p.bgSubs[u] = sess.On(protocol.EventMessageNotify, func(data json.RawMessage) {
			var pl protocol.MessageNotifyPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				return
			}
			p.post(ServerActivityMsg{ServerURL: url, RoomID: pl.RoomID, AuthorID: pl.AuthorID})
		})
		sess.Open()
	}

	// Drop background sessions whose server left the desired set or
	// became the foreground.
	for u, sess := range p.background {
		if _, want := desired[u]; !want || u == activeURL {
			p.dropBackgroundLocked(u, sess)
		}
	}

	if fgChanged {
		p.post(ForegroundChangedMsg{ServerURL: activeURL})
	}
}

func (p *Pool) dropBackgroundLocked(url string, sess *Session) {
	if sub, ok := p.bgSubs[url]; ok {
		sub.Unsubscribe()
		delete(p.bgSubs, url)
	}
	sess.Close()
	delete(p.background, url)
}

// Foreground returns the active session, or nil when the active server
// has no credential.
func (p *Pool) Foreground() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.foreground
}

// ActiveURL returns the normalized URL of the active server.
func (p *Pool) ActiveURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeURL
}

// BackgroundStatus returns the status of every background session.
func (p *Pool) BackgroundStatus() map[string]transport.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]transport.Status, len(p.background))
	for u, sess := range p.background {
		out[u] = sess.Status()
	}
	return out
}

// Shutdown closes every session.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.foreground != nil {
		p.foreground.Close()
		p.foreground = nil
	}
	for u, sess := range p.background {
		p.dropBackgroundLocked(u, sess)
	}
}

func (p *Pool) post(msg tea.Msg) {
	if p.events != nil {
		p.events <- msg
	}
}
