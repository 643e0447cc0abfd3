package client

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/protocol"
	"github.com/chitchat-app/chitchat/internal/store"
	"github.com/chitchat-app/chitchat/internal/transport"
)

// noopEmitter backs the pipeline and relay while no foreground session
// exists (active server without a credential).
type noopEmitter struct{}

func (noopEmitter) Emit(string, any) error { return ErrNoForeground }
func (noopEmitter) EmitWithAck(string, any, transport.AckFunc) error {
	return ErrNoForeground
}

// Client wires the pool, pipeline, tracker, and relay together and
// exposes the intents and snapshots the view layer works with. It is
// the only component allowed to mutate credentials, and it does so
// exclusively through the pool's reconciliation entry point.
type Client struct {
	cfg     *Config
	store   *store.Store
	events  chan tea.Msg
	pool    *Pool
	tracker *Tracker
	relay   *Relay

	mu         sync.Mutex
	self       models.User
	pipeline   *Pipeline
	categories []models.Category
	rooms      []models.Room
	dms        []models.Room
	hiddenDMs  map[string]bool
	voice      map[string]map[string]bool // roomID -> member set
	fgSess     *Session
	fgSubs     []transport.Subscription
}

// New creates a client backed by st, dialing channels with dial and
// applying remote-control input through applier.
func New(cfg *Config, st *store.Store, dial transport.Dialer, applier InputApplier) *Client {
	events := make(chan tea.Msg, 256)
	self := models.User{Username: cfg.Username}
	c := &Client{
		cfg:       cfg,
		store:     st,
		events:    events,
		pool:      NewPool(dial, events),
		tracker:   NewTracker(st, cfg.Alerts.SoundGap(), cfg.Alerts.DesktopGap()),
		relay:     NewRelay(self, applier, events),
		self:      self,
		hiddenDMs: make(map[string]bool),
		voice:     make(map[string]map[string]bool),
	}
	c.pipeline = NewPipeline(noopEmitter{}, self, events)
	return c
}

// Events is the channel the view loop drains.
func (c *Client) Events() <-chan tea.Msg {
	return c.events
}

// Shutdown tears down every session.
func (c *Client) Shutdown() {
	c.unbindForeground()
	c.pool.Shutdown()
}

// SwitchServer makes serverURL the active server. The previous
// foreground's room and message caches are discarded, never migrated.
// Switching to a server with no stored credential leaves the client
// with no foreground session and an empty room list.
func (c *Client) SwitchServer(serverURL string) error {
	serverURL = models.NormalizeServerURL(serverURL)

	servers, err := c.store.Servers()
	if err != nil {
		return fmt.Errorf("failed to load servers: %w", err)
	}
	creds, err := c.store.Credentials()
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	for _, srv := range servers {
		if models.NormalizeServerURL(srv.URL) == serverURL {
			srv.LastUsedAt = time.Now()
			if err := c.store.SaveServer(srv); err != nil {
				log.Printf("client: failed to touch server: %v", err)
			}
			break
		}
	}

	c.unbindForeground()
	c.pool.Reconcile(servers, creds, serverURL)
	c.rebindForeground()
	return nil
}

// rebindForeground points the pipeline, tracker, and relay at the
// pool's current foreground session and resubscribes its events. The
// prior foreground's caches are discarded; the server replays room and
// DM lists after auth.
func (c *Client) rebindForeground() {
	serverURL := c.pool.ActiveURL()
	fg := c.pool.Foreground()

	var em emitter = noopEmitter{}
	if fg != nil {
		em = fg
	}

	modes, err := c.store.NotificationModes(serverURL, c.selfUser().ID)
	if err != nil {
		log.Printf("client: failed to load notification modes: %v", err)
		modes = nil
	}
	hidden, err := c.store.HiddenDMs(serverURL, c.selfUser().ID)
	if err != nil {
		log.Printf("client: failed to load hidden DMs: %v", err)
		hidden = make(map[string]bool)
	}

	c.mu.Lock()
	c.pipeline = NewPipeline(em, c.self, c.events)
	c.categories = nil
	c.rooms = nil
	c.dms = nil
	c.hiddenDMs = hidden
	c.voice = make(map[string]map[string]bool)
	c.fgSess = fg
	c.mu.Unlock()

	c.tracker.ResetForeground(serverURL, c.selfUser(), em, modes)
	c.relay.Rebind(em)

	if fg != nil {
		c.bindForeground(fg)
	}
}

// AddServer saves a server and its credential, then reconciles so a
// background session comes up for it.
func (c *Client) AddServer(serverURL, name, token string) error {
	serverURL = models.NormalizeServerURL(serverURL)
	if err := c.store.SaveServer(models.Server{URL: serverURL, Name: name, LastUsedAt: time.Now()}); err != nil {
		return err
	}
	if err := c.store.SaveCredential(models.Credential{ServerURL: serverURL, Token: token}); err != nil {
		return err
	}
	return c.reconcileFromStore()
}

// RemoveServer deletes a server, its credential, and everything
// namespaced under it, closing its session.
func (c *Client) RemoveServer(serverURL string) error {
	serverURL = models.NormalizeServerURL(serverURL)
	if err := c.store.RemoveServer(serverURL); err != nil {
		return err
	}
	if err := c.store.DeleteCredential(serverURL); err != nil {
		return err
	}
	if c.pool.ActiveURL() == serverURL {
		return c.SwitchServer("")
	}
	return c.reconcileFromStore()
}

func (c *Client) reconcileFromStore() error {
	servers, err := c.store.Servers()
	if err != nil {
		return fmt.Errorf("failed to load servers: %w", err)
	}
	creds, err := c.store.Credentials()
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	c.mu.Lock()
	bound := c.fgSess
	c.mu.Unlock()

	c.pool.Reconcile(servers, creds, c.pool.ActiveURL())

	// A credential rotation replaces the foreground session in place;
	// everything wired to the old one must move to the replacement.
	if c.pool.Foreground() != bound {
		c.unbindForeground()
		c.rebindForeground()
	}
	return nil
}

// bindForeground subscribes the foreground session's events and routes
// them into the pipeline, tracker, and relay.
func (c *Client) bindForeground(sess *Session) {
	subs := []transport.Subscription{
		sess.On(protocol.EventAuthOK, func(data json.RawMessage) {
			var pl protocol.AuthOKPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				return
			}
			c.mu.Lock()
			c.self = pl.User
			c.mu.Unlock()
			c.tracker.SetSelf(pl.User)
			c.relay.SetSelf(pl.User)
			c.refreshModes(sess)
		}),

		sess.On(protocol.EventRoomList, func(data json.RawMessage) {
			var pl protocol.RoomListPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				log.Printf("client: bad room list: %v", err)
				return
			}
			c.mu.Lock()
			c.categories = pl.Categories
			c.rooms = pl.Rooms
			c.mu.Unlock()
			c.post(RoomsUpdatedMsg{})
		}),

		sess.On(protocol.EventDMList, func(data json.RawMessage) {
			var pl protocol.DMListPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				log.Printf("client: bad DM list: %v", err)
				return
			}
			c.mu.Lock()
			c.dms = pl.Rooms
			c.mu.Unlock()
			c.post(RoomsUpdatedMsg{})
		}),

		sess.On(protocol.EventVoiceState, func(data json.RawMessage) {
			var pl protocol.VoiceStatePayload
			if err := json.Unmarshal(data, &pl); err != nil {
				return
			}
			c.mu.Lock()
			members := c.voice[pl.RoomID]
			if members == nil {
				members = make(map[string]bool)
				c.voice[pl.RoomID] = members
			}
			if pl.Joined {
				members[pl.UserID] = true
			} else {
				delete(members, pl.UserID)
			}
			c.mu.Unlock()
			c.post(RoomsUpdatedMsg{})
		}),

		sess.On(protocol.EventMessageNew, func(data json.RawMessage) {
			var pl protocol.MessageNewPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				log.Printf("client: bad message: %v", err)
				return
			}
			c.currentPipeline().HandleIncoming(pl)
		}),

		sess.On(protocol.EventMessageNotify, func(data json.RawMessage) {
			var pl protocol.MessageNotifyPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				return
			}
			alert := c.tracker.HandleActivity(pl)
			c.post(RoomsUpdatedMsg{})
			if alert.Sound || alert.Desktop {
				c.post(AlertMsg{RoomID: pl.RoomID, Sound: alert.Sound, Desktop: alert.Desktop, Mention: alert.Mention})
			}
		}),

		sess.On(protocol.EventRemoteControlRequest, func(data json.RawMessage) {
			var pl protocol.RemoteControlRequestPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				return
			}
			c.relay.HandleRequest(pl)
		}),

		sess.On(protocol.EventRemoteControlRespond, func(data json.RawMessage) {
			var pl protocol.RemoteControlRespondPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				return
			}
			c.relay.HandleRespond(pl)
		}),

		sess.On(protocol.EventRemoteControlSessionStarted, func(data json.RawMessage) {
			var sessPl models.RemoteControlSession
			if err := json.Unmarshal(data, &sessPl); err != nil {
				return
			}
			c.relay.HandleSessionStarted(sessPl)
		}),

		sess.On(protocol.EventRemoteControlSessionEnded, func(data json.RawMessage) {
			var pl protocol.RemoteControlSessionEndedPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				return
			}
			c.relay.HandleSessionEnded(pl)
		}),

		sess.On(protocol.EventRemoteControlInput, func(data json.RawMessage) {
			var pl protocol.RemoteControlInputPayload
			if err := json.Unmarshal(data, &pl); err != nil {
				return
			}
			c.relay.HandleInput(pl)
		}),
	}

	c.mu.Lock()
	c.fgSubs = subs
	c.mu.Unlock()
}

// refreshModes pulls the server's stored notification modes so a fresh
// device sees choices made elsewhere.
func (c *Client) refreshModes(sess *Session) {
	err := sess.EmitWithAck(protocol.EventNotificationsGet, nil, func(data json.RawMessage, err error) {
		if err != nil {
			log.Printf("client: notifications:get failed: %v", err)
			return
		}
		var ack protocol.NotificationModesAck
		if err := json.Unmarshal(data, &ack); err != nil {
			log.Printf("client: bad notifications:get ack: %v", err)
			return
		}
		c.tracker.ApplyServerModes(ack.Modes)
		c.post(RoomsUpdatedMsg{})
	})
	if err != nil {
		log.Printf("client: notifications:get emit failed: %v", err)
	}
}

// VoiceMembers returns the user ids currently in a voice room.
func (c *Client) VoiceMembers(roomID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	members := make([]string, 0, len(c.voice[roomID]))
	for userID := range c.voice[roomID] {
		members = append(members, userID)
	}
	sort.Strings(members)
	return members
}

func (c *Client) unbindForeground() {
	c.mu.Lock()
	subs := c.fgSubs
	c.fgSubs = nil
	c.fgSess = nil
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (c *Client) currentPipeline() *Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipeline
}

func (c *Client) selfUser() models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// OpenRoom joins a room, makes it current, and marks it read.
func (c *Client) OpenRoom(roomID string) {
	c.currentPipeline().JoinRoom(roomID)
	c.tracker.SetCurrentRoom(roomID)
	c.tracker.MarkRead(roomID)
	c.post(RoomsUpdatedMsg{})
}

// LeaveRoom leaves a room and clears its local state.
func (c *Client) LeaveRoom(roomID string) {
	c.currentPipeline().LeaveRoom(roomID)
	c.tracker.SetCurrentRoom("")
}

// SendMessage sends into the current room.
func (c *Client) SendMessage(content string, attachmentIDs []string, replyToID string) (string, error) {
	p := c.currentPipeline()
	roomID := p.CurrentRoom()
	if roomID == "" {
		return "", fmt.Errorf("client: no open room")
	}
	return p.Send(roomID, content, attachmentIDs, replyToID)
}

// RetryMessage resubmits a failed message.
func (c *Client) RetryMessage(roomID, localID string) error {
	return c.currentPipeline().Retry(roomID, localID)
}

// Messages returns the render projection for a room.
func (c *Client) Messages(roomID string) []MessageView {
	return c.currentPipeline().Messages(roomID)
}

// MarkRead clears a room's unread state; also used when the open room
// is scrolled to the bottom.
func (c *Client) MarkRead(roomID string) {
	c.tracker.MarkRead(roomID)
	c.post(RoomsUpdatedMsg{})
}

// Tracker exposes the notification tracker for snapshots.
func (c *Client) Tracker() *Tracker {
	return c.tracker
}

// Relay exposes the remote-control relay for intents and snapshots.
func (c *Client) Relay() *Relay {
	return c.relay
}

// Pool exposes per-server connection status.
func (c *Client) Pool() *Pool {
	return c.pool
}

// RoomsSnapshot is what the sidebar renders: ordered categories, their
// rooms, and the visible DMs.
type RoomsSnapshot struct {
	Categories []models.Category
	Rooms      []models.Room
	DMs        []models.Room
}

// Rooms returns the current layout with hidden DMs filtered out.
func (c *Client) Rooms() RoomsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := RoomsSnapshot{
		Categories: append([]models.Category(nil), c.categories...),
		Rooms:      append([]models.Room(nil), c.rooms...),
	}
	sort.SliceStable(snap.Categories, func(i, j int) bool {
		return snap.Categories[i].Position < snap.Categories[j].Position
	})
	for _, dm := range c.dms {
		if !c.hiddenDMs[dm.ID] {
			snap.DMs = append(snap.DMs, dm)
		}
	}
	return snap
}

// MoveRoom applies a drag of one room and sends the recomputed layout
// to the server. The local layout is optimistic; the follow-up
// room:list snapshot confirms or corrects it.
func (c *Client) MoveRoom(movingID, targetCategoryID string, targetIndex int) error {
	c.mu.Lock()
	layout := ComputeRoomReorder(c.categories, c.rooms, movingID, targetCategoryID, targetIndex)
	c.categories = layout.Categories
	c.rooms = layout.Rooms
	c.mu.Unlock()
	c.post(RoomsUpdatedMsg{})

	fg := c.pool.Foreground()
	if fg == nil {
		return ErrNoForeground
	}
	return fg.Emit(protocol.EventLayoutUpdate, protocol.LayoutUpdatePayload{
		Categories: layout.Categories,
		Rooms:      layout.Rooms,
	})
}

// MoveCategory applies a drag of one category.
func (c *Client) MoveCategory(movingID string, targetIndex int) error {
	c.mu.Lock()
	c.categories = ComputeCategoryReorder(c.categories, movingID, targetIndex)
	layout := protocol.LayoutUpdatePayload{
		Categories: append([]models.Category(nil), c.categories...),
		Rooms:      append([]models.Room(nil), c.rooms...),
	}
	c.mu.Unlock()
	c.post(RoomsUpdatedMsg{})

	fg := c.pool.Foreground()
	if fg == nil {
		return ErrNoForeground
	}
	return fg.Emit(protocol.EventLayoutUpdate, layout)
}

// SetDMHidden hides or unhides a DM and persists the choice.
func (c *Client) SetDMHidden(roomID string, hidden bool) error {
	serverURL := c.pool.ActiveURL()
	if err := c.store.SetDMHidden(serverURL, c.selfUser().ID, roomID, hidden); err != nil {
		return err
	}
	c.mu.Lock()
	if hidden {
		c.hiddenDMs[roomID] = true
	} else {
		delete(c.hiddenDMs, roomID)
	}
	c.mu.Unlock()
	c.post(RoomsUpdatedMsg{})
	return nil
}

// HandleBackgroundActivity routes a background activity ping into the
// badge counters. Called by the view loop for ServerActivityMsg.
func (c *Client) HandleBackgroundActivity(msg ServerActivityMsg) {
	c.tracker.HandleBackgroundActivity(msg.ServerURL, msg.AuthorID)
}

func (c *Client) post(msg tea.Msg) {
	c.events <- msg
}
