package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrBufferFull   = errors.New("transport: send buffer full")
	ErrAckTimeout   = errors.New("transport: ack timed out")
	ErrClosed       = errors.New("transport: connection closed")
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = 54 * time.Second
	readLimit        = 512 * 1024
	defaultAckWait   = 10 * time.Second
)

// envelope is the wire frame: an event name, an optional payload, and
// an optional ack correlation id. Acks come back as event "ack" with
// the same id.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"d,omitempty"`
	AckID string          `json:"ack,omitempty"`
	Error string          `json:"error,omitempty"`
}

const ackEvent = "ack"

type pendingAck struct {
	fn    AckFunc
	timer *time.Timer
}

// wsConn is the websocket-backed event channel. It owns its reconnect
// loop; callers only observe status transitions.
type wsConn struct {
	serverURL string
	strategy  *ReconnectStrategy
	ackWait   time.Duration

	send     chan envelope
	closedCh chan struct{}

	mu        sync.RWMutex
	conn      *websocket.Conn
	status    Status
	closed    bool
	handlers  map[string]map[uint64]Handler
	statusFns map[uint64]func(Status)
	nextSub   uint64
	acks      map[string]*pendingAck

	closeOnce sync.Once
}

// NewConn creates an event channel for serverURL. It does not connect.
func NewConn(serverURL string, strategy *ReconnectStrategy) Conn {
	if strategy == nil {
		strategy = DefaultReconnectStrategy()
	}
	return &wsConn{
		serverURL: serverURL,
		strategy:  strategy,
		ackWait:   defaultAckWait,
		send:      make(chan envelope, 256),
		closedCh:  make(chan struct{}),
		handlers:  make(map[string]map[uint64]Handler),
		statusFns: make(map[uint64]func(Status)),
		acks:      make(map[string]*pendingAck),
	}
}

// NewDialer returns a Dialer producing websocket channels.
func NewDialer(strategy *ReconnectStrategy) Dialer {
	return func(serverURL string) Conn {
		return NewConn(serverURL, strategy)
	}
}

// wsURL converts a server URL to its websocket endpoint.
func wsURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server address: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String(), nil
}

func (c *wsConn) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()
	c.notifyStatus(StatusConnecting)

	if err := c.dial(); err != nil {
		c.setStatus(StatusReconnecting)
		go c.reconnectLoop()
		return err
	}
	return nil
}

func (c *wsConn) dial() error {
	endpoint, err := wsURL(c.serverURL)
	if err != nil {
		return err
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	stop := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.status = StatusConnected
	c.mu.Unlock()
	c.notifyStatus(StatusConnected)

	go c.readPump(conn, stop)
	go c.writePump(conn, stop)
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closedCh) })

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	c.failAcks(ErrClosed)
	c.notifyStatus(StatusDisconnected)
}

func (c *wsConn) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *wsConn) Emit(event string, payload any) error {
	env, err := newEnvelope(event, payload)
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

func (c *wsConn) EmitWithAck(event string, payload any, ack AckFunc) error {
	env, err := newEnvelope(event, payload)
	if err != nil {
		return err
	}
	env.AckID = uuid.NewString()

	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	pa := &pendingAck{fn: ack}
	pa.timer = time.AfterFunc(c.ackWait, func() { c.resolveAck(env.AckID, nil, ErrAckTimeout) })
	c.acks[env.AckID] = pa
	c.mu.Unlock()

	if err := c.enqueue(env); err != nil {
		c.resolveAck(env.AckID, nil, err)
		return err
	}
	return nil
}

func newEnvelope(event string, payload any) (envelope, error) {
	env := envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return env, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return env, nil
}

func (c *wsConn) enqueue(env envelope) error {
	c.mu.RLock()
	connected := c.status == StatusConnected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *wsConn) On(event string, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][id] = h
	return &subscription{release: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}}
}

func (c *wsConn) OnStatus(fn func(Status)) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.statusFns[id] = fn
	return &subscription{release: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusFns, id)
	}}
}

// subscription pairs every On with exactly one Unsubscribe.
type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.release)
}

// readPump reads frames until the connection drops
func (c *wsConn) readPump(conn *websocket.Conn, stop chan struct{}) {
	defer c.handleDrop(conn, stop)

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("transport: read error on %s: %v", c.serverURL, err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("transport: failed to parse frame: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

// writePump writes queued frames and keepalive pings
func (c *wsConn) writePump(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			data, err := json.Marshal(env)
			if err != nil {
				log.Printf("transport: failed to marshal frame: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-stop:
			return
		case <-c.closedCh:
			return
		}
	}
}

// handleDrop runs when the read pump exits: either a clean Close or a
// network drop that moves the channel into its reconnect loop.
func (c *wsConn) handleDrop(conn *websocket.Conn, stop chan struct{}) {
	close(stop)
	conn.Close()
	c.failAcks(ErrNotConnected)

	c.mu.Lock()
	if c.closed {
		c.status = StatusDisconnected
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = StatusReconnecting
	c.mu.Unlock()
	c.notifyStatus(StatusReconnecting)
	go c.reconnectLoop()
}

// reconnectLoop retries with capped exponential backoff until the dial
// succeeds or the channel is closed. There is no retry cap: a session
// whose credential was revoked simply stays reconnecting.
func (c *wsConn) reconnectLoop() {
	for attempt := 0; ; attempt++ {
		select {
		case <-c.closedCh:
			return
		case <-time.After(c.strategy.NextDelay(attempt)):
		}
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return
		}
		if err := c.dial(); err == nil {
			return
		}
	}
}

func (c *wsConn) dispatch(env envelope) {
	if env.Event == ackEvent {
		var err error
		if env.Error != "" {
			err = errors.New(env.Error)
		}
		c.resolveAck(env.AckID, env.Data, err)
		return
	}

	c.mu.RLock()
	hs := make([]Handler, 0, len(c.handlers[env.Event]))
	for _, h := range c.handlers[env.Event] {
		hs = append(hs, h)
	}
	c.mu.RUnlock()

	for _, h := range hs {
		h(env.Data)
	}
}

func (c *wsConn) resolveAck(id string, data json.RawMessage, err error) {
	c.mu.Lock()
	pa, ok := c.acks[id]
	if ok {
		delete(c.acks, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	pa.timer.Stop()
	if pa.fn != nil {
		pa.fn(data, err)
	}
}

func (c *wsConn) failAcks(err error) {
	c.mu.Lock()
	pending := c.acks
	c.acks = make(map[string]*pendingAck)
	c.mu.Unlock()
	for _, pa := range pending {
		pa.timer.Stop()
		if pa.fn != nil {
			pa.fn(nil, err)
		}
	}
}

func (c *wsConn) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	c.notifyStatus(s)
}

func (c *wsConn) notifyStatus(s Status) {
	c.mu.RLock()
	fns := make([]func(Status), 0, len(c.statusFns))
	for _, fn := range c.statusFns {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}
