package client

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/protocol"
)

func newTestRelay(applier InputApplier) (*Relay, *fakeEmitter, chan tea.Msg) {
	em := &fakeEmitter{}
	events := make(chan tea.Msg, 16)
	r := NewRelay(models.User{ID: "host1", Username: "host"}, applier, events)
	r.Rebind(em)
	return r, em, events
}

func hostSession() models.RemoteControlSession {
	return models.RemoteControlSession{
		SessionID:        "sess1",
		RoomID:           "room1",
		ControllerUserID: "ctrl1",
		HostUserID:       "host1",
		Token:            "tok-secret",
	}
}

func moveEvent(sessionID, token string) protocol.RemoteControlInputPayload {
	return protocol.RemoteControlInputPayload{
		SessionID: sessionID,
		Token:     token,
		Type:      protocol.InputPointerMove,
		XNorm:     0.5,
		YNorm:     0.5,
	}
}

func TestHandleInputRequiresExactMatch(t *testing.T) {
	tests := []struct {
		name      string
		self      string
		sessionID string
		token     string
		want      bool
	}{
		{"all match", "host1", "sess1", "tok-secret", true},
		{"wrong session", "host1", "sess2", "tok-secret", false},
		{"wrong token", "host1", "sess1", "tok-other", false},
		{"not the host", "ctrl1", "sess1", "tok-secret", false},
		{"empty token", "host1", "sess1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &fakeApplier{}
			r, _, _ := newTestRelay(applier)
			r.SetSelf(models.User{ID: tt.self})
			r.HandleSessionStarted(hostSession())

			got := r.HandleInput(moveEvent(tt.sessionID, tt.token))
			if got != tt.want {
				t.Errorf("HandleInput = %v, want %v", got, tt.want)
			}
			wantApplied := 0
			if tt.want {
				wantApplied = 1
			}
			if applier.applied() != wantApplied {
				t.Errorf("applied %d events, want %d", applier.applied(), wantApplied)
			}
		})
	}
}

func TestHandleInputWithoutSession(t *testing.T) {
	applier := &fakeApplier{}
	r, _, _ := newTestRelay(applier)
	if r.HandleInput(moveEvent("sess1", "tok-secret")) {
		t.Error("input applied with no session")
	}
	if applier.applied() != 0 {
		t.Error("applier called with no session")
	}
}

func TestHandleInputClampsCoordinates(t *testing.T) {
	applier := &fakeApplier{}
	r, _, _ := newTestRelay(applier)
	r.HandleSessionStarted(hostSession())

	ev := moveEvent("sess1", "tok-secret")
	ev.XNorm = -0.2
	ev.YNorm = 1.7
	r.HandleInput(ev)

	if len(applier.moves) != 1 {
		t.Fatalf("moves = %d, want 1", len(applier.moves))
	}
	if applier.moves[0] != [2]float64{0, 1} {
		t.Errorf("move = %v, want [0 1]", applier.moves[0])
	}
}

func TestWheelSteps(t *testing.T) {
	tests := []struct {
		deltaY float64
		want   int
	}{
		{0, 0},
		{20, 0},
		{30, 1},
		{60, 1},
		{90, 2},
		{-60, -1},
		{-120, -2},
	}
	for _, tt := range tests {
		if got := WheelSteps(tt.deltaY); got != tt.want {
			t.Errorf("WheelSteps(%v) = %d, want %d", tt.deltaY, got, tt.want)
		}
	}
}

func TestWheelInputBelowThresholdDropped(t *testing.T) {
	applier := &fakeApplier{}
	r, _, _ := newTestRelay(applier)
	r.HandleSessionStarted(hostSession())

	ev := protocol.RemoteControlInputPayload{
		SessionID: "sess1", Token: "tok-secret",
		Type: protocol.InputWheel, DeltaY: 10,
	}
	r.HandleInput(ev)
	if len(applier.wheels) != 0 {
		t.Errorf("wheel applied for sub-step delta: %v", applier.wheels)
	}

	ev.DeltaY = -120
	r.HandleInput(ev)
	if len(applier.wheels) != 1 || applier.wheels[0] != -2 {
		t.Errorf("wheels = %v, want [-2]", applier.wheels)
	}
}

func TestRequestRespondLifecycle(t *testing.T) {
	r, em, events := newTestRelay(nil)
	r.SetSelf(models.User{ID: "ctrl1"})

	reqID, err := r.Request("room1", "host9")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	e := em.last(t)
	if e.event != protocol.EventRemoteControlRequest {
		t.Errorf("event = %q, want %q", e.event, protocol.EventRemoteControlRequest)
	}

	// A denial surfaces a notice and drops the outbound request.
	r.HandleRespond(protocol.RemoteControlRespondPayload{RequestID: reqID, Approve: false, Reason: "busy"})
	select {
	case msg := <-events:
		notice, ok := msg.(RemoteControlNoticeMsg)
		if !ok {
			t.Fatalf("msg type = %T, want RemoteControlNoticeMsg", msg)
		}
		if notice.Text != "Remote control denied: busy" {
			t.Errorf("notice = %q", notice.Text)
		}
	default:
		t.Fatal("no notice posted on denial")
	}

	// A stale response for some other request is ignored.
	r.HandleRespond(protocol.RemoteControlRespondPayload{RequestID: "other", Approve: false})
	select {
	case msg := <-events:
		t.Fatalf("unexpected message %T for stale response", msg)
	default:
	}
}

func TestHostApproveFlow(t *testing.T) {
	r, em, events := newTestRelay(nil)

	r.HandleRequest(protocol.RemoteControlRequestPayload{
		RequestID:       "req1",
		RoomID:          "room1",
		RequesterUserID: "ctrl1",
	})
	<-events // RemoteControlRequestMsg

	if req := r.PendingRequest(); req == nil || req.HostUserID != "host1" {
		t.Fatalf("PendingRequest = %+v, want host host1", req)
	}

	if err := r.Respond(true); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	e := em.last(t)
	pl, ok := e.payload.(protocol.RemoteControlRespondPayload)
	if !ok || !pl.Approve || pl.RequestID != "req1" {
		t.Errorf("respond payload = %+v", e.payload)
	}
	if r.PendingRequest() != nil {
		t.Error("inbound request survived Respond")
	}
	if err := r.Respond(true); !errors.Is(err, ErrNoRequest) {
		t.Errorf("second Respond = %v, want ErrNoRequest", err)
	}
}

func TestNewerInboundRequestReplacesOlder(t *testing.T) {
	r, em, events := newTestRelay(nil)

	r.HandleRequest(protocol.RemoteControlRequestPayload{RequestID: "req1", RequesterUserID: "ctrl1"})
	<-events
	r.HandleRequest(protocol.RemoteControlRequestPayload{RequestID: "req2", RequesterUserID: "ctrl2"})
	<-events

	if req := r.PendingRequest(); req == nil || req.RequestID != "req2" {
		t.Fatalf("PendingRequest = %+v, want req2", req)
	}
	// Replacement is local only: nothing went out on the wire.
	if em.count() != 0 {
		t.Errorf("emitted %d events, want 0", em.count())
	}
}

func TestSessionEndedExpiryNotice(t *testing.T) {
	r, _, events := newTestRelay(nil)
	r.HandleSessionStarted(hostSession())
	<-events // session msg

	r.HandleSessionEnded(protocol.RemoteControlSessionEndedPayload{SessionID: "sess1", Reason: "expired"})
	if r.Session() != nil {
		t.Error("session survived session-ended")
	}

	sawNotice := false
	for len(events) > 0 {
		if notice, ok := (<-events).(RemoteControlNoticeMsg); ok {
			sawNotice = true
			if notice.Text != "Remote control session expired" {
				t.Errorf("notice = %q", notice.Text)
			}
		}
	}
	if !sawNotice {
		t.Error("no expiry notice posted")
	}
}

func TestSessionEndedWrongIDIgnored(t *testing.T) {
	r, _, events := newTestRelay(nil)
	r.HandleSessionStarted(hostSession())
	<-events

	r.HandleSessionEnded(protocol.RemoteControlSessionEndedPayload{SessionID: "other", Reason: "revoked"})
	if r.Session() == nil {
		t.Error("session dropped for a different session id")
	}
}

func TestRevokeEndsSession(t *testing.T) {
	r, em, events := newTestRelay(nil)
	r.HandleSessionStarted(hostSession())
	<-events

	r.Revoke()
	if r.Session() != nil {
		t.Error("session survived Revoke")
	}
	e := em.last(t)
	pl, ok := e.payload.(protocol.RemoteControlRevokePayload)
	if !ok || pl.SessionID != "sess1" {
		t.Errorf("revoke payload = %+v", e.payload)
	}
}

func TestSendInputStampsSessionAndToken(t *testing.T) {
	r, em, events := newTestRelay(nil)

	if err := r.SendInput(protocol.RemoteControlInputPayload{Type: protocol.InputPointerMove}); !errors.Is(err, ErrNoSession) {
		t.Errorf("SendInput without session = %v, want ErrNoSession", err)
	}

	r.HandleSessionStarted(hostSession())
	<-events
	if err := r.SendInput(protocol.RemoteControlInputPayload{Type: protocol.InputKeyDown, Key: "a"}); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	pl, ok := em.last(t).payload.(protocol.RemoteControlInputPayload)
	if !ok {
		t.Fatalf("payload type = %T", em.last(t).payload)
	}
	if pl.SessionID != "sess1" || pl.Token != "tok-secret" {
		t.Errorf("payload stamped %q/%q, want sess1/tok-secret", pl.SessionID, pl.Token)
	}
}

func TestExpireTickDropsStaleInbound(t *testing.T) {
	r, _, events := newTestRelay(nil)
	deadline := time.Now().Add(30 * time.Second)
	r.HandleRequest(protocol.RemoteControlRequestPayload{RequestID: "req1", ExpiresAt: deadline})
	<-events

	r.ExpireTick(deadline.Add(-time.Second))
	if r.PendingRequest() == nil {
		t.Fatal("request expired before its deadline")
	}

	r.ExpireTick(deadline.Add(time.Second))
	if r.PendingRequest() != nil {
		t.Error("request survived its deadline")
	}
	if notice, ok := (<-events).(RemoteControlNoticeMsg); !ok || notice.Text != "Remote control request expired" {
		t.Errorf("expiry notice = %+v", notice)
	}
}

func TestRebindClearsState(t *testing.T) {
	r, _, events := newTestRelay(nil)
	r.HandleSessionStarted(hostSession())
	<-events
	r.HandleRequest(protocol.RemoteControlRequestPayload{RequestID: "req1"})
	<-events

	r.Rebind(&fakeEmitter{})
	if r.Session() != nil || r.PendingRequest() != nil {
		t.Error("Rebind left session state behind")
	}
}
