package client

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/transport"
)

var (
	styleStatusBar    = lipgloss.NewStyle().Bold(true)
	styleReconnecting = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	styleBadge        = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	stylePending      = lipgloss.NewStyle().Faint(true)
	styleFailed       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleNotice       = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	styleRoomCurrent  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// App is the terminal shell over Client. It renders snapshots and
// translates keys into intents; all state lives in the components.
type App struct {
	client *Client

	width  int
	height int

	input    textinput.Model
	chat     viewport.Model
	ready    bool
	status   transport.Status
	notice   string
	rooms    []models.Room
	roomIdx  int
	lastFail struct {
		roomID  string
		localID string
	}
}

// NewApp creates the shell for a client.
func NewApp(c *Client) *App {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 2000
	input.Focus()

	return &App{client: c, input: input}
}

// Init starts draining the client's event channel.
func (a *App) Init() tea.Cmd {
	return a.waitForEvent()
}

func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-a.client.Events()
	}
}

// Update handles UI keys and client events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		if !a.ready {
			a.chat = viewport.New(msg.Width, max(1, msg.Height-4))
			a.ready = true
		} else {
			a.chat.Width = msg.Width
			a.chat.Height = max(1, msg.Height-4)
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.client.Shutdown()
			return a, tea.Quit
		case "enter":
			content := strings.TrimSpace(a.input.Value())
			if content != "" {
				if _, err := a.client.SendMessage(content, nil, ""); err != nil {
					a.notice = err.Error()
				}
				a.input.Reset()
			}
			return a, nil
		case "ctrl+r":
			if a.lastFail.localID != "" {
				if err := a.client.RetryMessage(a.lastFail.roomID, a.lastFail.localID); err != nil {
					a.notice = err.Error()
				}
			}
			return a, nil
		case "ctrl+n":
			a.cycleRoom(1)
			return a, nil
		case "ctrl+p":
			a.cycleRoom(-1)
			return a, nil
		}
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd

	case SessionStatusMsg:
		if msg.ServerURL == a.client.Pool().ActiveURL() {
			a.status = msg.Status
		}
		return a, a.waitForEvent()

	case ForegroundChangedMsg:
		a.rooms = nil
		a.roomIdx = 0
		a.refreshChat()
		return a, a.waitForEvent()

	case RoomsUpdatedMsg:
		a.refreshRooms()
		return a, a.waitForEvent()

	case MessagesUpdatedMsg:
		if msg.RoomID == a.currentRoomID() {
			a.refreshChat()
			// Open room scrolled to the bottom counts as read.
			if a.chat.AtBottom() {
				a.client.MarkRead(msg.RoomID)
			}
		}
		return a, a.waitForEvent()

	case ServerActivityMsg:
		a.client.HandleBackgroundActivity(msg)
		return a, a.waitForEvent()

	case AlertMsg:
		// Sound/desktop delivery belongs to the desktop shell; the
		// terminal rings the bell for either kind.
		if msg.Sound || msg.Desktop {
			fmt.Print("\a")
		}
		return a, a.waitForEvent()

	case RemoteControlRequestMsg:
		a.notice = fmt.Sprintf("%s requests control of your screen (y/n)", msg.Request.RequesterUserID)
		return a, a.waitForEvent()

	case RemoteControlSessionMsg:
		if msg.Session == nil {
			a.notice = "Remote control session ended"
		} else {
			a.notice = "Remote control session active"
		}
		return a, a.waitForEvent()

	case RemoteControlNoticeMsg:
		a.notice = msg.Text
		return a, a.waitForEvent()
	}

	return a, nil
}

func (a *App) currentRoomID() string {
	if len(a.rooms) == 0 {
		return ""
	}
	return a.rooms[a.roomIdx].ID
}

func (a *App) cycleRoom(delta int) {
	if len(a.rooms) == 0 {
		return
	}
	prev := a.currentRoomID()
	a.roomIdx = (a.roomIdx + delta + len(a.rooms)) % len(a.rooms)
	next := a.rooms[a.roomIdx].ID
	if prev != next {
		if prev != "" {
			a.client.LeaveRoom(prev)
		}
		a.client.OpenRoom(next)
		a.refreshChat()
	}
}

func (a *App) refreshRooms() {
	snap := a.client.Rooms()
	current := a.currentRoomID()
	a.rooms = a.rooms[:0]
	a.rooms = append(a.rooms, snap.Rooms...)
	a.rooms = append(a.rooms, snap.DMs...)
	a.roomIdx = 0
	for i, r := range a.rooms {
		if r.ID == current {
			a.roomIdx = i
			break
		}
	}
}

func (a *App) refreshChat() {
	roomID := a.currentRoomID()
	if roomID == "" {
		a.chat.SetContent("")
		return
	}
	var b strings.Builder
	for _, v := range a.client.Messages(roomID) {
		line := v.Content
		switch v.State {
		case "pending":
			line = stylePending.Render(line + " …")
		case "failed":
			line = styleFailed.Render(line + "  [failed: " + v.Error + ", ctrl+r to retry]")
			a.lastFail.roomID = roomID
			a.lastFail.localID = v.LocalID
		default:
			if v.AuthorName != "" {
				line = v.AuthorName + ": " + line
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	a.chat.SetContent(b.String())
	a.chat.GotoBottom()
}

// View renders the status bar, badges, chat viewport, and compose box.
func (a *App) View() string {
	if !a.ready {
		return "loading..."
	}

	status := a.status.String()
	bar := styleStatusBar.Render("ChitChat · " + a.client.Pool().ActiveURL() + " · " + status)
	if a.status == transport.StatusReconnecting {
		bar = styleReconnecting.Render("Reconnecting…  ") + bar
	}

	var badges []string
	for url := range a.client.Pool().BackgroundStatus() {
		if n := a.client.Tracker().ServerBadge(url); n > 0 {
			badges = append(badges, fmt.Sprintf("%s(%d)", url, n))
		}
	}
	if len(badges) > 0 {
		bar += "  " + styleBadge.Render(strings.Join(badges, " "))
	}

	notice := ""
	if a.notice != "" {
		notice = styleNotice.Render(a.notice)
	}

	roomLine := ""
	for i, r := range a.rooms {
		name := r.Name
		act := a.client.Tracker().Activity(r.ID)
		if act.UnreadCount > 0 {
			name = fmt.Sprintf("%s(%d)", name, act.UnreadCount)
		}
		if i == a.roomIdx {
			name = styleRoomCurrent.Render(name)
		}
		roomLine += name + "  "
	}

	return bar + "\n" + roomLine + "\n" + a.chat.View() + "\n" + notice + a.input.View()
}
