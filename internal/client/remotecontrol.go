package client

import (
	"log"
	"math"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/protocol"
)

// InputApplier injects relayed input into the host OS. The actual
// injection backend lives outside this package; the relay only decides
// whether an event may be applied.
type InputApplier interface {
	PointerMove(xNorm, yNorm float64)
	PointerButton(button string, down bool)
	Wheel(steps int)
	Key(key string, down bool)
}

// wheelStepDivisor converts a browser-style wheel delta into scroll
// ticks.
const wheelStepDivisor = 60.0

// WheelSteps converts a wheel deltaY into whole scroll steps.
func WheelSteps(deltaY float64) int {
	return int(math.Round(deltaY / wheelStepDivisor))
}

// ClampNorm clamps a normalized coordinate into [0,1].
func ClampNorm(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Relay runs the remote-control protocol over the foreground session:
// request, approve/deny, session lifecycle, and input forwarding. At
// most one outstanding request is tracked locally; the server remains
// the source of truth for concurrent requests from other clients.
type Relay struct {
	applier InputApplier
	events  chan<- tea.Msg
	clock   func() time.Time

	mu       sync.Mutex
	self     models.User
	emit     emitter
	outbound *models.RemoteControlRequest // request we sent (controller)
	inbound  *models.RemoteControlRequest // request shown to us (host)
	session  *models.RemoteControlSession
}

// NewRelay creates a relay applying host-side input through applier.
func NewRelay(self models.User, applier InputApplier, events chan<- tea.Msg) *Relay {
	return &Relay{
		applier: applier,
		events:  events,
		clock:   time.Now,
		self:    self,
	}
}

// SetSelf updates the local user once authentication identifies it.
func (r *Relay) SetSelf(self models.User) {
	r.mu.Lock()
	r.self = self
	r.mu.Unlock()
}

// Rebind attaches the relay to a new foreground session and abandons
// any state tied to the previous server.
func (r *Relay) Rebind(em emitter) {
	r.mu.Lock()
	r.emit = em
	r.outbound = nil
	r.inbound = nil
	r.session = nil
	r.mu.Unlock()
}

// Request asks hostUserID for control of their shared screen in roomID.
func (r *Relay) Request(roomID, hostUserID string) (string, error) {
	r.mu.Lock()
	req := &models.RemoteControlRequest{
		RequestID:       uuid.NewString(),
		RoomID:          roomID,
		RequesterUserID: r.self.ID,
		HostUserID:      hostUserID,
	}
	em := r.emit
	r.outbound = req
	r.mu.Unlock()

	if em == nil {
		return "", ErrNoForeground
	}
	err := em.Emit(protocol.EventRemoteControlRequest, protocol.RemoteControlRequestPayload{
		RequestID:  req.RequestID,
		RoomID:     req.RoomID,
		HostUserID: hostUserID,
	})
	if err != nil {
		r.mu.Lock()
		r.outbound = nil
		r.mu.Unlock()
		return "", err
	}
	return req.RequestID, nil
}

// CancelRequest explicitly withdraws our outstanding request on the
// wire. A merely superseded request is abandoned locally instead.
func (r *Relay) CancelRequest() {
	r.mu.Lock()
	req := r.outbound
	r.outbound = nil
	em := r.emit
	r.mu.Unlock()

	if req == nil || em == nil {
		return
	}
	if err := em.Emit(protocol.EventRemoteControlRevoke, protocol.RemoteControlRevokePayload{RequestID: req.RequestID}); err != nil {
		log.Printf("relay: cancel emit failed: %v", err)
	}
}

// HandleRequest processes an inbound control request. A newer request
// replaces the tracked one; the replaced request is abandoned locally,
// not cancelled on the wire.
func (r *Relay) HandleRequest(pl protocol.RemoteControlRequestPayload) {
	r.mu.Lock()
	selfID := r.self.ID
	r.mu.Unlock()
	req := models.RemoteControlRequest{
		RequestID:       pl.RequestID,
		RoomID:          pl.RoomID,
		RequesterUserID: pl.RequesterUserID,
		HostUserID:      selfID,
		ExpiresAt:       pl.ExpiresAt,
	}

	r.mu.Lock()
	r.inbound = &req
	r.mu.Unlock()
	r.post(RemoteControlRequestMsg{Request: req})
}

// Respond approves or denies the tracked inbound request. Approval
// yields a session via remote-control:session-started.
func (r *Relay) Respond(approve bool) error {
	r.mu.Lock()
	req := r.inbound
	r.inbound = nil
	em := r.emit
	r.mu.Unlock()

	if req == nil {
		return ErrNoRequest
	}
	if em == nil {
		return ErrNoForeground
	}
	return em.Emit(protocol.EventRemoteControlRespond, protocol.RemoteControlRespondPayload{
		RequestID: req.RequestID,
		Approve:   approve,
	})
}

// HandleRespond processes the host's answer to our outbound request.
func (r *Relay) HandleRespond(pl protocol.RemoteControlRespondPayload) {
	r.mu.Lock()
	req := r.outbound
	if req == nil || req.RequestID != pl.RequestID {
		r.mu.Unlock()
		return
	}
	r.outbound = nil
	r.mu.Unlock()

	if !pl.Approve {
		reason := pl.Reason
		if reason == "" {
			reason = "request declined"
		}
		r.post(RemoteControlNoticeMsg{Text: "Remote control denied: " + reason})
	}
	// Approval is followed by session-started carrying the token.
}

// HandleSessionStarted installs a freshly granted session.
func (r *Relay) HandleSessionStarted(sess models.RemoteControlSession) {
	r.mu.Lock()
	r.session = &sess
	r.outbound = nil
	r.inbound = nil
	r.mu.Unlock()
	r.post(RemoteControlSessionMsg{Session: &sess})
}

// HandleSessionEnded tears down the session. Expiry is the only end
// reason that warrants a user-visible notice.
func (r *Relay) HandleSessionEnded(pl protocol.RemoteControlSessionEndedPayload) {
	r.mu.Lock()
	if r.session == nil || r.session.SessionID != pl.SessionID {
		r.mu.Unlock()
		return
	}
	r.session = nil
	r.mu.Unlock()

	r.post(RemoteControlSessionMsg{Session: nil})
	if pl.Reason == "expired" {
		r.post(RemoteControlNoticeMsg{Text: "Remote control session expired"})
	}
}

// Revoke ends the current session from our side.
func (r *Relay) Revoke() {
	r.mu.Lock()
	sess := r.session
	r.session = nil
	em := r.emit
	r.mu.Unlock()

	if sess == nil || em == nil {
		return
	}
	if err := em.Emit(protocol.EventRemoteControlRevoke, protocol.RemoteControlRevokePayload{SessionID: sess.SessionID}); err != nil {
		log.Printf("relay: revoke emit failed: %v", err)
	}
	r.post(RemoteControlSessionMsg{Session: nil})
}

// ExpireTick drops a tracked request past its deadline, surfacing an
// explanation like a server-signaled expiry would.
func (r *Relay) ExpireTick(now time.Time) {
	r.mu.Lock()
	expired := r.inbound != nil && r.inbound.Expired(now)
	if expired {
		r.inbound = nil
	}
	r.mu.Unlock()

	if expired {
		r.post(RemoteControlNoticeMsg{Text: "Remote control request expired"})
	}
}

// Session returns the current session, or nil.
func (r *Relay) Session() *models.RemoteControlSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	sess := *r.session
	return &sess
}

// PendingRequest returns the tracked inbound request, or nil.
func (r *Relay) PendingRequest() *models.RemoteControlRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inbound == nil {
		return nil
	}
	req := *r.inbound
	return &req
}

// SendInput relays one input event as the controller, stamping it with
// the session id and token.
func (r *Relay) SendInput(ev protocol.RemoteControlInputPayload) error {
	r.mu.Lock()
	sess := r.session
	em := r.emit
	r.mu.Unlock()

	if sess == nil {
		return ErrNoSession
	}
	if em == nil {
		return ErrNoForeground
	}
	ev.SessionID = sess.SessionID
	ev.Token = sess.Token
	return em.Emit(protocol.EventRemoteControlInput, ev)
}

// HandleInput applies one relayed input event on the host. The event is
// applied if and only if the session id matches the current session,
// this client is the session's host, and the token matches exactly.
// Every other combination is silently dropped so a stale or impersonated
// session can never drive input. Returns whether the event was applied.
func (r *Relay) HandleInput(ev protocol.RemoteControlInputPayload) bool {
	r.mu.Lock()
	sess := r.session
	selfID := r.self.ID
	r.mu.Unlock()

	if sess == nil ||
		ev.SessionID != sess.SessionID ||
		sess.HostUserID != selfID ||
		ev.Token != sess.Token {
		return false
	}
	if r.applier == nil {
		return false
	}

	switch ev.Type {
	case protocol.InputPointerMove:
		r.applier.PointerMove(ClampNorm(ev.XNorm), ClampNorm(ev.YNorm))
	case protocol.InputPointerDown:
		r.applier.PointerButton(ev.Button, true)
	case protocol.InputPointerUp:
		r.applier.PointerButton(ev.Button, false)
	case protocol.InputWheel:
		if steps := WheelSteps(ev.DeltaY); steps != 0 {
			r.applier.Wheel(steps)
		}
	case protocol.InputKeyDown:
		r.applier.Key(ev.Key, true)
	case protocol.InputKeyUp:
		r.applier.Key(ev.Key, false)
	default:
		return false
	}
	return true
}

func (r *Relay) post(msg tea.Msg) {
	if r.events != nil {
		r.events <- msg
	}
}
