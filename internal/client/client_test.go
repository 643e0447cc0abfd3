package client

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/protocol"
	"github.com/chitchat-app/chitchat/internal/store"
)

func newTestClient(t *testing.T) (*Client, *fakeDialer) {
	t.Helper()
	keyring.MockInit()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.Username = "alice"
	d := newFakeDialer()
	c := New(cfg, st, d.dial, nil)
	t.Cleanup(c.Shutdown)
	return c, d
}

// drainClient empties the client's event channel.
func drainClient(c *Client) {
	for {
		select {
		case <-c.Events():
		default:
			return
		}
	}
}

func authOK(t *testing.T, conn *fakeConn, user models.User) {
	t.Helper()
	conn.fire(t, protocol.EventAuthOK, protocol.AuthOKPayload{SessionID: "s1", User: user})
}

func TestSwitchServerBringsUpForeground(t *testing.T) {
	c, d := newTestClient(t)

	if err := c.AddServer(urlA, "Alpha", "token-a"); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	if err := c.AddServer(urlB, "Beta", "token-b"); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	if err := c.SwitchServer(urlA); err != nil {
		t.Fatalf("SwitchServer: %v", err)
	}

	if c.Pool().ActiveURL() != urlA {
		t.Errorf("ActiveURL = %q, want %q", c.Pool().ActiveURL(), urlA)
	}
	if c.Pool().Foreground() == nil {
		t.Fatal("no foreground session")
	}
	if d.dialCount(urlB) == 0 {
		t.Error("no background session for the other server")
	}

	conn := d.lastConn(t, urlA)
	authOK(t, conn, models.User{ID: "u1", Username: "alice"})

	conn.fire(t, protocol.EventRoomList, protocol.RoomListPayload{
		Categories: []models.Category{{ID: "cat1", Name: "General", Position: 0}},
		Rooms:      []models.Room{{ID: "room1", Name: "welcome", Type: models.RoomText, CategoryID: "cat1"}},
	})
	snap := c.Rooms()
	if len(snap.Categories) != 1 || len(snap.Rooms) != 1 {
		t.Errorf("snapshot = %d categories, %d rooms; want 1/1", len(snap.Categories), len(snap.Rooms))
	}
}

func TestSendAndConfirmThroughForeground(t *testing.T) {
	c, d := newTestClient(t)
	if err := c.AddServer(urlA, "Alpha", "token-a"); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchServer(urlA); err != nil {
		t.Fatal(err)
	}
	conn := d.lastConn(t, urlA)
	authOK(t, conn, models.User{ID: "u1", Username: "alice"})

	c.OpenRoom("room1")
	var joined bool
	for _, e := range conn.emittedEvents() {
		if e.event == protocol.EventRoomJoin {
			joined = true
		}
	}
	if !joined {
		t.Error("OpenRoom did not emit a join")
	}

	if _, err := c.SendMessage("hello", nil, ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	var nonce string
	for _, e := range conn.emittedEvents() {
		if e.event == protocol.EventMessageSend {
			nonce = e.payload.(protocol.SendMessagePayload).Nonce
		}
	}
	if nonce == "" {
		t.Fatal("no message:send emitted")
	}

	conn.fire(t, protocol.EventMessageNew, protocol.MessageNewPayload{
		Message: models.Message{ID: "m1", RoomID: "room1", AuthorID: "u1", Content: "hello", CreatedAt: time.Now()},
		Nonce:   nonce,
	})
	msgs := c.Messages("room1")
	if len(msgs) != 1 || msgs[0].State != "confirmed" {
		t.Errorf("messages = %+v, want one confirmed", msgs)
	}
}

func TestSendWithoutOpenRoom(t *testing.T) {
	c, _ := newTestClient(t)
	if _, err := c.SendMessage("hello", nil, ""); err == nil {
		t.Error("SendMessage succeeded without an open room")
	}
}

func TestNotifyFeedsTrackerAndAlerts(t *testing.T) {
	c, d := newTestClient(t)
	if err := c.AddServer(urlA, "Alpha", "token-a"); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchServer(urlA); err != nil {
		t.Fatal(err)
	}
	conn := d.lastConn(t, urlA)
	authOK(t, conn, models.User{ID: "u1", Username: "alice"})
	drainClient(c)

	conn.fire(t, protocol.EventMessageNotify, protocol.MessageNotifyPayload{
		RoomID:    "room2",
		AuthorID:  "u2",
		Content:   "ping @alice",
		Timestamp: time.Now(),
	})

	act := c.Tracker().Activity("room2")
	if act.UnreadCount != 1 || act.MentionCount != 1 {
		t.Errorf("activity = %+v, want 1 unread, 1 mention", act)
	}

	var alerted bool
loop:
	for {
		select {
		case msg := <-c.Events():
			if a, ok := msg.(AlertMsg); ok {
				alerted = true
				if !a.Mention {
					t.Error("alert lost the mention flag")
				}
			}
		default:
			break loop
		}
	}
	if !alerted {
		t.Error("no AlertMsg posted")
	}
}

func TestSwitchServerWithoutCredential(t *testing.T) {
	c, d := newTestClient(t)

	if err := c.SwitchServer("https://unknown.example.com"); err != nil {
		t.Fatalf("SwitchServer: %v", err)
	}
	if c.Pool().Foreground() != nil {
		t.Error("foreground session without a credential")
	}
	if d.dialCount("https://unknown.example.com") != 0 {
		t.Error("dialed a server with no credential")
	}
	if err := c.MoveRoom("r1", "cat1", 0); err != ErrNoForeground {
		t.Errorf("MoveRoom = %v, want ErrNoForeground", err)
	}
}

func TestHiddenDMsFiltered(t *testing.T) {
	c, d := newTestClient(t)
	if err := c.AddServer(urlA, "Alpha", "token-a"); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchServer(urlA); err != nil {
		t.Fatal(err)
	}
	conn := d.lastConn(t, urlA)
	authOK(t, conn, models.User{ID: "u1", Username: "alice"})

	conn.fire(t, protocol.EventDMList, protocol.DMListPayload{
		Rooms: []models.Room{
			{ID: "dm1", Name: "bob", Type: models.RoomDM},
			{ID: "dm2", Name: "carol", Type: models.RoomDM},
		},
	})
	if got := len(c.Rooms().DMs); got != 2 {
		t.Fatalf("DMs = %d, want 2", got)
	}

	if err := c.SetDMHidden("dm1", true); err != nil {
		t.Fatalf("SetDMHidden: %v", err)
	}
	dms := c.Rooms().DMs
	if len(dms) != 1 || dms[0].ID != "dm2" {
		t.Errorf("DMs after hide = %+v, want only dm2", dms)
	}

	if err := c.SetDMHidden("dm1", false); err != nil {
		t.Fatalf("SetDMHidden unhide: %v", err)
	}
	if got := len(c.Rooms().DMs); got != 2 {
		t.Errorf("DMs after unhide = %d, want 2", got)
	}
}

func TestMoveRoomEmitsLayout(t *testing.T) {
	c, d := newTestClient(t)
	if err := c.AddServer(urlA, "Alpha", "token-a"); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchServer(urlA); err != nil {
		t.Fatal(err)
	}
	conn := d.lastConn(t, urlA)
	authOK(t, conn, models.User{ID: "u1", Username: "alice"})

	conn.fire(t, protocol.EventRoomList, protocol.RoomListPayload{
		Categories: []models.Category{{ID: "cat1", Position: 0}},
		Rooms: []models.Room{
			{ID: "r1", Type: models.RoomText, CategoryID: "cat1", Position: 0},
			{ID: "r2", Type: models.RoomText, CategoryID: "cat1", Position: 1},
		},
	})

	if err := c.MoveRoom("r2", "cat1", 0); err != nil {
		t.Fatalf("MoveRoom: %v", err)
	}

	var layout *protocol.LayoutUpdatePayload
	for _, e := range conn.emittedEvents() {
		if e.event == protocol.EventLayoutUpdate {
			pl := e.payload.(protocol.LayoutUpdatePayload)
			layout = &pl
		}
	}
	if layout == nil {
		t.Fatal("no layout:update emitted")
	}
	if layout.Rooms[0].ID != "r2" || layout.Rooms[0].Position != 0 {
		t.Errorf("layout rooms = %+v, want r2 first", layout.Rooms)
	}

	// The local snapshot reflects the optimistic move.
	snap := c.Rooms()
	if snap.Rooms[0].ID != "r2" {
		t.Errorf("snapshot rooms = %+v, want r2 first", snap.Rooms)
	}
}

func TestVoiceStateTracking(t *testing.T) {
	c, d := newTestClient(t)
	if err := c.AddServer(urlA, "Alpha", "token-a"); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchServer(urlA); err != nil {
		t.Fatal(err)
	}
	conn := d.lastConn(t, urlA)
	authOK(t, conn, models.User{ID: "u1", Username: "alice"})

	conn.fire(t, protocol.EventVoiceState, protocol.VoiceStatePayload{RoomID: "voice1", UserID: "u2", Joined: true})
	conn.fire(t, protocol.EventVoiceState, protocol.VoiceStatePayload{RoomID: "voice1", UserID: "u3", Joined: true})
	conn.fire(t, protocol.EventVoiceState, protocol.VoiceStatePayload{RoomID: "voice1", UserID: "u2", Joined: false})

	members := c.VoiceMembers("voice1")
	if len(members) != 1 || members[0] != "u3" {
		t.Errorf("VoiceMembers = %v, want [u3]", members)
	}
	if got := c.VoiceMembers("voice2"); len(got) != 0 {
		t.Errorf("VoiceMembers(empty room) = %v", got)
	}
}

func TestModesRefreshedAfterAuth(t *testing.T) {
	c, d := newTestClient(t)
	if err := c.AddServer(urlA, "Alpha", "token-a"); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchServer(urlA); err != nil {
		t.Fatal(err)
	}
	conn := d.lastConn(t, urlA)
	authOK(t, conn, models.User{ID: "u1", Username: "alice"})

	var getAck fakeEmit
	for _, e := range conn.emittedEvents() {
		if e.event == protocol.EventNotificationsGet {
			getAck = e
		}
	}
	if getAck.ack == nil {
		t.Fatal("no ack-bearing notifications:get after auth")
	}

	data, err := json.Marshal(protocol.NotificationModesAck{
		Modes: map[string]models.NotificationMode{"room1": models.NotifyMute},
	})
	if err != nil {
		t.Fatal(err)
	}
	getAck.ack(data, nil)

	if got := c.Tracker().Mode("room1"); got != models.NotifyMute {
		t.Errorf("Mode = %q, want mute from server", got)
	}
}

func TestCredentialRotationRebindsForeground(t *testing.T) {
	c, d := newTestClient(t)
	if err := c.AddServer(urlA, "Alpha", "token-a"); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchServer(urlA); err != nil {
		t.Fatal(err)
	}
	first := d.lastConn(t, urlA)
	authOK(t, first, models.User{ID: "u1", Username: "alice"})

	// Saving a new token for the active server replaces its session.
	if err := c.AddServer(urlA, "Alpha", "token-a-rotated"); err != nil {
		t.Fatalf("AddServer rotate: %v", err)
	}
	if !first.isClosed() {
		t.Fatal("old foreground connection still open after rotation")
	}
	if got := d.dialCount(urlA); got != 2 {
		t.Fatalf("dialCount = %d, want 2", got)
	}
	second := d.lastConn(t, urlA)
	authOK(t, second, models.User{ID: "u1", Username: "alice"})
	staleEmits := len(first.emittedEvents())

	// Inbound events must arrive through the replacement connection.
	second.fire(t, protocol.EventMessageNew, protocol.MessageNewPayload{
		Message: models.Message{ID: "m1", RoomID: "room1", AuthorID: "u2", Content: "hi", CreatedAt: time.Now()},
	})
	if got := len(c.Messages("room1")); got != 1 {
		t.Errorf("messages after rotation = %d, want 1", got)
	}

	// And outbound sends must go out on it.
	c.OpenRoom("room1")
	if _, err := c.SendMessage("still here", nil, ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	var sent bool
	for _, e := range second.emittedEvents() {
		if e.event == protocol.EventMessageSend {
			sent = true
		}
	}
	if !sent {
		t.Error("message:send did not use the replacement connection")
	}
	if got := len(first.emittedEvents()); got != staleEmits {
		t.Errorf("closed connection received %d more emits", got-staleEmits)
	}
}

func TestRemoveActiveServerClearsForeground(t *testing.T) {
	c, d := newTestClient(t)
	if err := c.AddServer(urlA, "Alpha", "token-a"); err != nil {
		t.Fatal(err)
	}
	if err := c.SwitchServer(urlA); err != nil {
		t.Fatal(err)
	}
	conn := d.lastConn(t, urlA)

	if err := c.RemoveServer(urlA); err != nil {
		t.Fatalf("RemoveServer: %v", err)
	}
	if !conn.isClosed() {
		t.Error("removed server's connection still open")
	}
	if c.Pool().Foreground() != nil {
		t.Error("foreground session survived removal")
	}
}
