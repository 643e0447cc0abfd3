package client

import (
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/protocol"
)

// Default rolling gaps between alerts. Sound and desktop windows are
// independent so a suppressed sound does not also swallow the banner.
const (
	defaultSoundGap   = 3 * time.Second
	defaultDesktopGap = 10 * time.Second
)

// RoomActivity is the per-room unread state. FirstUnreadAt is set once
// per unread episode and cleared together with the counts.
type RoomActivity struct {
	UnreadCount   int
	MentionCount  int
	FirstUnreadAt *time.Time
}

// Alert says which alert kinds fired for one activity event.
type Alert struct {
	Sound   bool
	Desktop bool
	Mention bool
}

// ModeStore persists notification modes across restarts.
type ModeStore interface {
	SaveNotificationMode(serverURL, userID, roomID string, mode models.NotificationMode) error
}

// Tracker keeps per-room unread and mention counters for the foreground
// server plus scalar badge counts for every background server. It is
// fed by pipeline and pool events and never talks to the transport
// except to re-send mode changes for cross-device consistency.
type Tracker struct {
	store ModeStore
	clock func() time.Time

	mu          sync.Mutex
	serverURL   string
	self        models.User
	mentionRe   *regexp.Regexp
	emit        emitter
	activity    map[string]*RoomActivity
	modes       map[string]models.NotificationMode
	currentRoom string
	lastSound   time.Time
	lastDesktop time.Time
	soundGap    time.Duration
	desktopGap  time.Duration

	// Background badge counts, keyed by server URL. Incremented from
	// transport reader goroutines, read by the UI loop.
	badges *xsync.MapOf[string, int]
}

// NewTracker creates a tracker persisting modes through store (may be
// nil in tests).
func NewTracker(store ModeStore, soundGap, desktopGap time.Duration) *Tracker {
	if soundGap <= 0 {
		soundGap = defaultSoundGap
	}
	if desktopGap <= 0 {
		desktopGap = defaultDesktopGap
	}
	return &Tracker{
		store:      store,
		clock:      time.Now,
		activity:   make(map[string]*RoomActivity),
		modes:      make(map[string]models.NotificationMode),
		soundGap:   soundGap,
		desktopGap: desktopGap,
		badges:     xsync.NewMapOf[int](),
	}
}

// ResetForeground rebinds the tracker to a new foreground server,
// discarding the previous server's per-room state and zeroing the new
// server's background badge.
func (t *Tracker) ResetForeground(serverURL string, self models.User, em emitter, modes map[string]models.NotificationMode) {
	t.mu.Lock()
	t.serverURL = serverURL
	t.self = self
	t.emit = em
	t.mentionRe = mentionPattern(self.Username)
	t.activity = make(map[string]*RoomActivity)
	t.modes = make(map[string]models.NotificationMode)
	for roomID, mode := range modes {
		t.modes[roomID] = mode
	}
	t.currentRoom = ""
	t.mu.Unlock()

	t.badges.Store(serverURL, 0)
}

// SetSelf updates the local user once authentication identifies it.
func (t *Tracker) SetSelf(self models.User) {
	t.mu.Lock()
	t.self = self
	t.mentionRe = mentionPattern(self.Username)
	t.mu.Unlock()
}

// mentionPattern matches @username as a whole token, case-insensitively.
func mentionPattern(username string) *regexp.Regexp {
	if username == "" {
		return nil
	}
	return regexp.MustCompile(`(?i)(^|[^\w@])@` + regexp.QuoteMeta(username) + `($|[^\w])`)
}

// SetCurrentRoom records which room is open; activity there never
// counts as unread.
func (t *Tracker) SetCurrentRoom(roomID string) {
	t.mu.Lock()
	t.currentRoom = roomID
	t.mu.Unlock()
}

// HandleActivity processes one room-activity event on the foreground
// server and reports which alerts should fire.
func (t *Tracker) HandleActivity(pl protocol.MessageNotifyPayload) Alert {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pl.AuthorID == t.self.ID || pl.RoomID == t.currentRoom {
		return Alert{}
	}

	act := t.activity[pl.RoomID]
	if act == nil {
		act = &RoomActivity{}
		t.activity[pl.RoomID] = act
	}
	act.UnreadCount++
	if act.FirstUnreadAt == nil {
		ts := pl.Timestamp
		act.FirstUnreadAt = &ts
	}

	mention := t.mentionRe != nil && t.mentionRe.MatchString(pl.Content)
	if mention {
		act.MentionCount++
	}

	mode, ok := t.modes[pl.RoomID]
	if !ok {
		mode = models.NotifyAll
	}
	allowed := mode == models.NotifyAll || (mode == models.NotifyMentions && mention)
	if !allowed {
		return Alert{Mention: mention}
	}

	now := t.clock()
	alert := Alert{Mention: mention}
	if now.Sub(t.lastSound) >= t.soundGap {
		alert.Sound = true
		t.lastSound = now
	}
	if now.Sub(t.lastDesktop) >= t.desktopGap {
		alert.Desktop = true
		t.lastDesktop = now
	}
	return alert
}

// MarkRead clears the unread counters and the first-unread marker for
// one room, atomically: either all three reset or none.
func (t *Tracker) MarkRead(roomID string) {
	t.mu.Lock()
	delete(t.activity, roomID)
	t.mu.Unlock()
}

// Activity returns a snapshot of one room's unread state.
func (t *Tracker) Activity(roomID string) RoomActivity {
	t.mu.Lock()
	defer t.mu.Unlock()
	if act, ok := t.activity[roomID]; ok {
		return *act
	}
	return RoomActivity{}
}

// Mode returns the effective notification mode for a room.
func (t *Tracker) Mode(roomID string) models.NotificationMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mode, ok := t.modes[roomID]; ok {
		return mode
	}
	return models.NotifyAll
}

// SetMode updates a room's notification mode, persists it locally, and
// re-sends it to the server for cross-device consistency.
func (t *Tracker) SetMode(roomID string, mode models.NotificationMode) error {
	if !models.ValidNotificationMode(mode) {
		return fmt.Errorf("invalid notification mode %q", mode)
	}

	t.mu.Lock()
	t.modes[roomID] = mode
	serverURL := t.serverURL
	userID := t.self.ID
	em := t.emit
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SaveNotificationMode(serverURL, userID, roomID, mode); err != nil {
			log.Printf("tracker: failed to persist notification mode: %v", err)
		}
	}
	if em != nil {
		if err := em.Emit(protocol.EventNotificationsSet, protocol.NotificationModePayload{RoomID: roomID, Mode: mode}); err != nil {
			log.Printf("tracker: failed to sync notification mode: %v", err)
		}
	}
	return nil
}

// ApplyServerModes overlays the server's stored modes on the local set,
// used when notifications:get answers after auth. Local persistence is
// untouched; the server copy wins only in memory.
func (t *Tracker) ApplyServerModes(modes map[string]models.NotificationMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for roomID, mode := range modes {
		if models.ValidNotificationMode(mode) {
			t.modes[roomID] = mode
		}
	}
}

// HandleBackgroundActivity bumps a background server's badge. Activity
// authored by the local user does not count.
func (t *Tracker) HandleBackgroundActivity(serverURL, authorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if authorID == t.self.ID {
		return
	}
	cur, _ := t.badges.Load(serverURL)
	t.badges.Store(serverURL, cur+1)
}

// ServerBadge returns a background server's badge count.
func (t *Tracker) ServerBadge(serverURL string) int {
	count, _ := t.badges.Load(serverURL)
	return count
}

// ResetServerBadge zeroes a server's badge, typically because it just
// became the foreground.
func (t *Tracker) ResetServerBadge(serverURL string) {
	t.badges.Store(serverURL, 0)
}

// TotalUnread sums foreground unreads and background badges for the
// tray.
func (t *Tracker) TotalUnread() int {
	t.mu.Lock()
	total := 0
	for _, act := range t.activity {
		total += act.UnreadCount
	}
	serverURL := t.serverURL
	t.mu.Unlock()

	t.badges.Range(func(url string, count int) bool {
		if url != serverURL {
			total += count
		}
		return true
	})
	return total
}

// TrayTooltip formats the tray badge text.
func (t *Tracker) TrayTooltip() string {
	if n := t.TotalUnread(); n > 0 {
		return fmt.Sprintf("ChitChat (%d unread)", n)
	}
	return "ChitChat"
}
