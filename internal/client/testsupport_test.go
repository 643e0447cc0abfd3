package client

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/chitchat-app/chitchat/internal/transport"
)

// fakeConn is an in-memory transport.Conn for pool and session tests.
type fakeConn struct {
	serverURL string

	mu        sync.Mutex
	status    transport.Status
	closed    bool
	handlers  map[string]map[int]transport.Handler
	statusFns map[int]func(transport.Status)
	nextID    int
	emitted   []fakeEmit
}

type fakeEmit struct {
	event   string
	payload any
	ack     transport.AckFunc
}

func newFakeConn(serverURL string) *fakeConn {
	return &fakeConn{
		serverURL: serverURL,
		handlers:  make(map[string]map[int]transport.Handler),
		statusFns: make(map[int]func(transport.Status)),
	}
}

func (c *fakeConn) Connect() error {
	c.setStatus(transport.StatusConnected)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.setStatus(transport.StatusDisconnected)
}

func (c *fakeConn) Status() transport.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, fakeEmit{event: event, payload: payload})
	return nil
}

func (c *fakeConn) EmitWithAck(event string, payload any, ack transport.AckFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, fakeEmit{event: event, payload: payload, ack: ack})
	return nil
}

func (c *fakeConn) On(event string, h transport.Handler) transport.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]transport.Handler)
	}
	c.handlers[event][id] = h
	return fakeSub(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	})
}

func (c *fakeConn) OnStatus(fn func(transport.Status)) transport.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.statusFns[id] = fn
	return fakeSub(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusFns, id)
	})
}

// fire delivers an inbound event to subscribers.
func (c *fakeConn) fire(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	c.mu.Lock()
	hs := make([]transport.Handler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (c *fakeConn) setStatus(s transport.Status) {
	c.mu.Lock()
	c.status = s
	fns := make([]func(transport.Status), 0, len(c.statusFns))
	for _, fn := range c.statusFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *fakeConn) emittedEvents() []fakeEmit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakeEmit, len(c.emitted))
	copy(out, c.emitted)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSub func()

func (f fakeSub) Unsubscribe() { f() }

// fakeEmitter records emits for pipeline, tracker, and relay tests.
type fakeEmitter struct {
	mu      sync.Mutex
	emitted []fakeEmit
	failErr error
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.emitted = append(f.emitted, fakeEmit{event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) EmitWithAck(event string, payload any, ack transport.AckFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.emitted = append(f.emitted, fakeEmit{event: event, payload: payload, ack: ack})
	return nil
}

func (f *fakeEmitter) last(t *testing.T) fakeEmit {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.emitted) == 0 {
		t.Fatal("no events emitted")
	}
	return f.emitted[len(f.emitted)-1]
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emitted)
}

// fakeApplier counts applied remote-control input.
type fakeApplier struct {
	mu      sync.Mutex
	moves   [][2]float64
	buttons []string
	wheels  []int
	keys    []string
}

func (a *fakeApplier) PointerMove(x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.moves = append(a.moves, [2]float64{x, y})
}

func (a *fakeApplier) PointerButton(button string, down bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := "up"
	if down {
		state = "down"
	}
	a.buttons = append(a.buttons, button+":"+state)
}

func (a *fakeApplier) Wheel(steps int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wheels = append(a.wheels, steps)
}

func (a *fakeApplier) Key(key string, down bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := "up"
	if down {
		state = "down"
	}
	a.keys = append(a.keys, key+":"+state)
}

func (a *fakeApplier) applied() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.moves) + len(a.buttons) + len(a.wheels) + len(a.keys)
}
