package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/wingchat/internal/logger"
)

var (
	// ErrNotAuthenticated is returned by Send when the socket has not finished the auth handshake.
	ErrNotAuthenticated = errors.New("connection not authenticated")
	// ErrAuthRejected is reported when the server answers the auth frame with an error.
	ErrAuthRejected = errors.New("server rejected authentication")
	// ErrClosedByServer is reported when the server ends the socket with a
	// normal closure, e.g. because a newer socket replaced it.
	ErrClosedByServer = errors.New("socket closed by server")

	errSuperseded = errors.New("connection superseded")
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultAuthGrace    = 2 * time.Second
	readLimit           = 512 * 1024
)

// State is the lifecycle state of a Conn.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FrameHandler receives every decoded frame together with the session id of
// the socket it arrived on.
type FrameHandler func(sessionID string, f Frame)

// StateHandler is called on connection state transitions. err is non-nil
// only when a socket closed without Disconnect being called.
type StateHandler func(sessionID string, state State, err error)

// Conn owns at most one chat socket at a time. Connecting for a different
// session releases the previous socket first.
type Conn struct {
	URL          string      // e.g. "wss://chat.example.com/ws/chat"
	Header       http.Header // extra dial headers
	WriteTimeout time.Duration
	// AuthGrace is the window after open in which an error frame counts as
	// an auth rejection.
	AuthGrace time.Duration

	OnStateChange StateHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	state     State
	sessionID string
	gen       uint64
	// sent is set once an application frame went out on the current socket.
	sent bool

	subsMu  sync.RWMutex
	subs    []subscriber
	nextSub uint64
}

type subscriber struct {
	id uint64
	fn FrameHandler
}

func NewConn(url string) *Conn {
	return &Conn{URL: url}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session the current (or last) socket was opened for.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connect opens a socket for sessionID and sends the auth frame before any
// other frame. It is a no-op when a socket for the same session is already
// connecting or open.
func (c *Conn) Connect(ctx context.Context, credential, sessionID string) error {
	c.mu.Lock()
	if c.sessionID == sessionID && (c.state == StateConnecting || c.state == StateAuthenticated) {
		c.mu.Unlock()
		return nil
	}
	prev := c.releaseLocked()
	c.gen++
	gen := c.gen
	c.sessionID = sessionID
	c.state = StateConnecting
	c.mu.Unlock()

	if prev != "" {
		c.notifyState(prev, StateClosed, nil)
	}
	c.notifyState(sessionID, StateConnecting, nil)

	opts := &websocket.DialOptions{HTTPHeader: c.Header.Clone()}
	conn, _, err := websocket.Dial(ctx, c.URL, opts)
	if err != nil {
		err = fmt.Errorf("dial: %w", err)
		c.fail(gen, sessionID, err)
		return err
	}
	conn.SetReadLimit(readLimit)

	auth, err := Encode(AuthFrame(credential, sessionID))
	if err == nil {
		err = c.write(ctx, conn, auth)
	}
	if err != nil {
		conn.CloseNow()
		err = fmt.Errorf("auth: %w", err)
		c.fail(gen, sessionID, err)
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.gen != gen {
		// Disconnect or another Connect won the race.
		c.mu.Unlock()
		cancel()
		conn.CloseNow()
		return errSuperseded
	}
	c.conn = conn
	c.cancel = cancel
	c.state = StateAuthenticated
	c.sent = false
	c.mu.Unlock()

	logger.Debug("chat socket authenticated", "session", sessionID)
	c.notifyState(sessionID, StateAuthenticated, nil)
	go c.readLoop(readCtx, conn, gen, sessionID)
	return nil
}

// Disconnect closes the current socket. Safe to call any number of times.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.conn == nil && c.state != StateConnecting {
		if c.state == StateAuthenticated {
			c.state = StateClosed
		}
		c.mu.Unlock()
		return
	}
	prev := c.releaseLocked()
	c.gen++
	c.mu.Unlock()

	if prev != "" {
		c.notifyState(prev, StateClosed, nil)
	}
}

// releaseLocked closes the live socket, if any, and returns the session id
// it belonged to when it was connecting or open. c.mu must be held.
func (c *Conn) releaseLocked() string {
	var prev string
	if c.state == StateConnecting || c.state == StateAuthenticated {
		prev = c.sessionID
	}
	if c.conn != nil {
		conn, cancel := c.conn, c.cancel
		go func() {
			conn.Close(websocket.StatusNormalClosure, "session closed")
			cancel()
		}()
		c.conn = nil
		c.cancel = nil
	}
	if c.state != StateIdle {
		c.state = StateClosed
	}
	return prev
}

// Send writes one frame. It fails with ErrNotAuthenticated, without touching
// the network, unless the socket is open and authenticated.
func (c *Conn) Send(ctx context.Context, f Frame) error {
	return c.SendSession(ctx, "", f)
}

// SendSession is Send restricted to the socket of sessionID. It fails with
// ErrNotAuthenticated when the live socket belongs to another session.
// An empty sessionID matches any socket.
func (c *Conn) SendSession(ctx context.Context, sessionID string, f Frame) error {
	c.mu.Lock()
	conn, state, sid := c.conn, c.state, c.sessionID
	ok := state == StateAuthenticated && conn != nil && (sessionID == "" || sessionID == sid)
	if ok {
		c.sent = true
	}
	c.mu.Unlock()

	if !ok {
		logger.Warn("send dropped", "type", f.Type, "session", sid, "want", sessionID, "state", state)
		return ErrNotAuthenticated
	}
	data, err := Encode(f)
	if err != nil {
		return err
	}
	if err := c.write(ctx, conn, data); err != nil {
		logger.Warn("send failed", "type", f.Type, "session", sid, "err", err)
		return fmt.Errorf("send %s: %w", f.Type, err)
	}
	return nil
}

// Subscribe registers fn for every inbound frame. Handlers run on the read
// goroutine in registration order.
func (c *Conn) Subscribe(fn FrameHandler) (unsubscribe func()) {
	c.subsMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Conn) publish(sessionID string, f Frame) {
	c.subsMu.RLock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subsMu.RUnlock()
	for _, s := range subs {
		s.fn(sessionID, f)
	}
}

func (c *Conn) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64, sessionID string) {
	opened := time.Now()
	grace := c.AuthGrace
	if grace == 0 {
		grace = defaultAuthGrace
	}
	accepted := false

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				err = fmt.Errorf("%w: %w", ErrClosedByServer, err)
			}
			c.dropped(gen, sessionID, fmt.Errorf("read: %w", err))
			return
		}
		if !c.current(gen) {
			return
		}

		f, ok := Decode(data)
		if !ok {
			continue
		}
		// Once a message went out, an error frame answers that message.
		if f.Type == TypeError && !accepted && !c.sentOn(gen) && time.Since(opened) < grace {
			logger.Warn("chat auth rejected", "session", sessionID, "reason", f.Text)
			c.publish(sessionID, f)
			c.dropped(gen, sessionID, fmt.Errorf("%w: %s", ErrAuthRejected, f.Text))
			return
		}
		accepted = true
		c.publish(sessionID, f)
	}
}

func (c *Conn) sentOn(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.sent
}

func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// dropped handles a socket that ended without Disconnect.
func (c *Conn) dropped(gen uint64, sessionID string, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	conn, cancel := c.conn, c.cancel
	c.conn = nil
	c.cancel = nil
	c.state = StateClosed
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.CloseNow()
	}
	logger.Warn("chat socket dropped", "session", sessionID, "err", err)
	c.notifyState(sessionID, StateClosed, err)
}

func (c *Conn) fail(gen uint64, sessionID string, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()
	logger.Warn("chat connect failed", "session", sessionID, "err", err)
	c.notifyState(sessionID, StateClosed, err)
}

func (c *Conn) notifyState(sessionID string, state State, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(sessionID, state, err)
	}
}

func (c *Conn) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	timeout := c.WriteTimeout
	if timeout == 0 {
		timeout = defaultWriteTimeout
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
