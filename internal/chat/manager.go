package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/wingchat/internal/logger"
	"github.com/ehrlich-b/wingchat/internal/ws"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("chat manager closed")
	// ErrSessionChanged is returned by Send when the user switched sessions
	// while attachments were uploading. Nothing was sent.
	ErrSessionChanged = errors.New("session changed before message was sent")
)

const (
	defaultRequestTimeout    = 15 * time.Second
	defaultReconnectAttempts = 3
	defaultReconnectBase     = 500 * time.Millisecond
	defaultReconnectMax      = 5 * time.Second

	// stableConnection is how long a socket must stay up before a drop
	// starts a fresh reconnect budget.
	stableConnection = 10 * time.Second
)

// Options configures a Manager. Zero values pick the defaults.
type Options struct {
	Credential string

	DefaultTitle         string
	TitlePollDelay       time.Duration
	TitlePollMaxMessages int

	// ReconnectAttempts bounds automatic reconnects after an unexpected
	// drop. Negative disables reconnecting.
	ReconnectAttempts int
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration

	RequestTimeout time.Duration
}

// Snapshot is a read-only copy of the Manager state.
type Snapshot struct {
	Session         SessionConfig
	Title           string
	TitleState      TitleState
	Messages        []Message
	Thinking        bool
	Streaming       bool
	GeneratingImage bool
	Connection      ws.State
	Disconnected    bool
	LastError       error
}

// Manager binds the session the user has open to one chat socket. All
// session state is owned by a single loop goroutine; frames, timers and
// finished REST calls are queued to it and handled one at a time.
//
// Subscribers are called from the loop goroutine and must not call back
// into the Manager synchronously.
type Manager struct {
	svc  Service
	conn *ws.Conn
	opts Options
	log  *slog.Logger
	bus  Bus

	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once
	unsub     func()
	// connectMu serializes dials so a superseded load cannot open its
	// socket after a newer session was opened.
	connectMu sync.Mutex

	// Owned by the loop goroutine.
	cfg             SessionConfig
	epoch           uint64
	transcript      Transcript
	title           TitleReconciler
	connState       ws.State
	disconnected    bool
	lastErr         error
	backoff         *ws.Backoff
	cancelReconnect func() bool
	connectedAt     time.Time
	closed          bool
}

// NewManager starts a Manager that owns conn. conn must not be shared with
// another Manager.
func NewManager(svc Service, conn *ws.Conn, opts Options) *Manager {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectBase == 0 {
		opts.ReconnectBase = defaultReconnectBase
	}
	if opts.ReconnectMax == 0 {
		opts.ReconnectMax = defaultReconnectMax
	}

	m := &Manager{
		svc:     svc,
		conn:    conn,
		opts:    opts,
		log:     logger.With("component", "chat"),
		cmds:    make(chan func()),
		done:    make(chan struct{}),
		backoff: ws.NewBackoff(opts.ReconnectBase, opts.ReconnectMax),
	}
	m.title = TitleReconciler{
		DefaultTitle:    opts.DefaultTitle,
		PollDelay:       opts.TitlePollDelay,
		PollMaxMessages: opts.TitlePollMaxMessages,
		Schedule:        m.schedule,
		Fetch:           m.fetchTitle,
	}

	conn.OnStateChange = func(sessionID string, state ws.State, err error) {
		// May be called from the loop itself (Disconnect), so never block here.
		go m.post(func() { m.handleConnState(sessionID, state, err) })
	}
	m.unsub = conn.Subscribe(func(sessionID string, f ws.Frame) {
		m.post(func() { m.handleFrame(sessionID, f) })
	})

	go m.loop()
	return m
}

func (m *Manager) loop() {
	for {
		select {
		case fn := <-m.cmds:
			fn()
		case <-m.done:
			return
		}
	}
}

// post queues fn on the loop. It reports false once the Manager is closed.
func (m *Manager) post(fn func()) bool {
	select {
	case m.cmds <- fn:
		return true
	case <-m.done:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (m *Manager) do(fn func()) error {
	finished := make(chan struct{})
	if !m.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	<-finished
	return nil
}

// Subscribe registers fn for every state change.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	var s Snapshot
	m.do(func() { s = m.snapshot() })
	return s
}

// Create asks the service for a new session and opens it.
func (m *Manager) Create(ctx context.Context, req CreateSessionRequest) (string, error) {
	id, err := m.svc.CreateSession(ctx, req)
	if err != nil {
		return "", err
	}
	return id, m.Open(ctx, id)
}

// Open switches to sessionID: the previous socket and title poll are torn
// down first, then history is loaded and a new socket is opened. A failed
// history read leaves the list empty; a failed connect is returned as a
// *TransportError.
func (m *Manager) Open(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	var ep uint64
	if err := m.do(func() {
		m.teardown()
		m.cfg = SessionConfig{SessionID: sessionID}
		m.title.Arm(m.title.Default())
		m.backoff.Reset()
		ep = m.epoch
		m.emit(EventMessagesChanged, EventTitleChanged, EventConnectionChanged)
	}); err != nil {
		return err
	}
	return m.load(ctx, ep, sessionID, false)
}

// Close tears down the open session and stops the Manager. Idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.do(func() {
			m.teardown()
			m.cfg = SessionConfig{}
			m.closed = true
			m.unsub()
		})
		close(m.done)
	})
}

// teardown cancels the title poll and any pending reconnect, releases the
// socket and starts a new epoch so late completions are dropped.
func (m *Manager) teardown() {
	m.title.Cancel()
	m.stopReconnect()
	m.conn.Disconnect()
	m.epoch++
	m.transcript.Reset(nil)
	m.connState = m.conn.State()
	m.connectedAt = time.Time{}
	m.disconnected = false
	m.lastErr = nil
}

func (m *Manager) load(ctx context.Context, ep uint64, sessionID string, reload bool) error {
	rctx, cancel := context.WithTimeout(ctx, m.opts.RequestTimeout)
	detail, detailErr := m.svc.GetSession(rctx, sessionID)
	msgs, msgsErr := m.svc.ListMessages(rctx, sessionID)
	cancel()
	if detailErr != nil {
		m.log.Warn("load session detail", "session", sessionID, "err", detailErr)
	}
	if msgsErr != nil {
		m.log.Warn("load message history", "session", sessionID, "err", msgsErr)
	}

	stale := false
	if err := m.do(func() {
		if ep != m.epoch {
			stale = true
			return
		}
		if detail != nil {
			m.cfg.ModelID = detail.ModelID
			m.cfg.Provider = detail.Provider
			if !reload || !m.title.IsDefault(detail.Title) {
				m.title.Arm(detail.Title)
			}
		}
		if msgsErr == nil {
			m.transcript.Reset(msgs)
		} else if !reload {
			m.transcript.Reset(nil)
		}
		m.emit(EventMessagesChanged, EventTitleChanged)
	}); err != nil {
		return err
	}
	if stale {
		return nil
	}

	if err := ws.CheckCredential(m.opts.Credential, time.Now()); err != nil {
		te := &TransportError{SessionID: sessionID, Err: err}
		m.post(func() {
			if ep == m.epoch {
				m.disconnected = true
				m.failure(te)
			}
		})
		return te
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	if !m.current(ep) {
		return nil
	}
	if err := m.conn.Connect(ctx, m.opts.Credential, sessionID); err != nil {
		if !m.current(ep) {
			return nil
		}
		return &TransportError{SessionID: sessionID, Err: err}
	}
	return nil
}

// current reports whether ep is still the live epoch.
func (m *Manager) current(ep uint64) bool {
	var ok bool
	if err := m.do(func() { ok = ep == m.epoch }); err != nil {
		return false
	}
	return ok
}

// Send appends the user turn, uploads attachments and then emits the
// message frame, so a reply never starts before its files exist.
func (m *Manager) Send(ctx context.Context, text string, uploads ...Upload) error {
	var (
		cfg   SessionConfig
		ep    uint64
		msgID = uuid.NewString()
		err   error
	)
	if derr := m.do(func() {
		if m.cfg.SessionID == "" {
			err = ErrNoSession
			return
		}
		cfg, ep = m.cfg, m.epoch
		msg := Message{ID: msgID, Content: text}
		if len(uploads) > 0 {
			msg.Attachment = localAttachment(uploads[0])
		}
		m.transcript.AppendUser(msg)
		m.title.Sent()
		m.emit(EventMessagesChanged, EventActivityChanged)
	}); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}

	fileIDs := make([]string, 0, len(uploads))
	for _, u := range uploads {
		id, uerr := m.svc.UploadFile(ctx, u)
		if uerr != nil {
			ue := &UploadError{Name: u.Name, Err: uerr}
			m.do(func() {
				if ep != m.epoch {
					return
				}
				m.transcript.Remove(msgID)
				m.transcript.StopThinking()
				m.emit(EventMessagesChanged, EventActivityChanged)
				m.failure(ue)
			})
			return ue
		}
		fileIDs = append(fileIDs, id)
	}

	if !m.current(ep) {
		return ErrSessionChanged
	}
	// The write runs on the caller's goroutine; SendSession refuses a socket
	// that belongs to another session.
	f := ws.MessageFrame(text, cfg.ModelID, cfg.Provider, fileIDs)
	werr := m.conn.SendSession(ctx, cfg.SessionID, f)
	if werr == nil {
		return nil
	}
	sendErr := &TransportError{SessionID: cfg.SessionID, Err: werr}
	if derr := m.do(func() {
		if ep != m.epoch {
			return
		}
		m.transcript.StopThinking()
		m.emit(EventActivityChanged)
		m.failure(sendErr)
	}); derr != nil {
		return derr
	}
	return sendErr
}

// Rename sets the session title through the service and commits it locally.
func (m *Manager) Rename(ctx context.Context, title string) error {
	sid, err := m.currentSession()
	if err != nil {
		return err
	}
	if err := m.svc.UpdateSessionTitle(ctx, sid, title); err != nil {
		return err
	}
	return m.do(func() {
		if sid == m.cfg.SessionID && m.title.Commit(title) {
			m.emit(EventTitleChanged)
		}
	})
}

// DeleteMessage removes one message from the server and the local list.
func (m *Manager) DeleteMessage(ctx context.Context, messageID string) error {
	sid, err := m.currentSession()
	if err != nil {
		return err
	}
	if err := m.svc.DeleteMessage(ctx, sid, messageID); err != nil {
		return err
	}
	return m.do(func() {
		if sid == m.cfg.SessionID && m.transcript.Remove(messageID) {
			m.emit(EventMessagesChanged)
		}
	})
}

// DeleteSession deletes the open session and tears its socket down.
func (m *Manager) DeleteSession(ctx context.Context) error {
	sid, err := m.currentSession()
	if err != nil {
		return err
	}
	if err := m.svc.DeleteSession(ctx, sid); err != nil {
		return err
	}
	return m.do(func() {
		if sid != m.cfg.SessionID {
			return
		}
		m.teardown()
		m.cfg = SessionConfig{}
		m.title.Arm(m.title.Default())
		m.emit(EventMessagesChanged, EventTitleChanged, EventConnectionChanged)
	})
}

func (m *Manager) currentSession() (string, error) {
	var sid string
	if err := m.do(func() { sid = m.cfg.SessionID }); err != nil {
		return "", err
	}
	if sid == "" {
		return "", ErrNoSession
	}
	return sid, nil
}

func (m *Manager) handleFrame(sessionID string, f ws.Frame) {
	if m.closed || sessionID != m.cfg.SessionID {
		m.log.Debug("drop frame for inactive session", "type", f.Type, "session", sessionID)
		return
	}

	before := m.activity()
	switch f.Type {
	case ws.TypeStream:
		if m.transcript.Stream(f.Text, f.Done) {
			m.emit(EventMessagesChanged)
		}
		if f.Done {
			m.settled()
		}

	case ws.TypeStatus:
		if m.transcript.Status() {
			m.emit(EventMessagesChanged)
		}

	case ws.TypeImageGenerated:
		m.transcript.Image(f.ImageURL, f.Text)
		m.emit(EventMessagesChanged)
		m.settled()

	case ws.TypeTitleGenerated, ws.TypeSessionUpdated:
		if m.title.Event(f.Title) {
			m.emit(EventTitleChanged)
		}

	case ws.TypeError:
		if m.transcript.Interrupt() {
			m.emit(EventMessagesChanged)
		}
		m.failure(&ServerError{Message: f.Text})
		m.settled()

	default:
		m.log.Debug("ignore frame", "type", f.Type)
	}
	if m.activity() != before {
		m.emit(EventActivityChanged)
	}
}

// settled gives the title reconciler a chance to schedule its fallback poll.
func (m *Manager) settled() {
	if m.transcript.Settled() {
		m.title.Settled(m.transcript.Len())
	}
}

func (m *Manager) handleConnState(sessionID string, state ws.State, err error) {
	if m.closed || sessionID != m.cfg.SessionID {
		return
	}
	if m.conn.SessionID() == sessionID {
		state = m.conn.State()
	}
	m.connState = state

	if state == ws.StateAuthenticated {
		m.disconnected = false
		if m.connectedAt.IsZero() {
			m.connectedAt = time.Now()
		}
	}
	if state == ws.StateClosed && err != nil {
		if !m.connectedAt.IsZero() && time.Since(m.connectedAt) >= stableConnection {
			m.backoff.Reset()
		}
		m.connectedAt = time.Time{}
		m.disconnected = true
		if m.transcript.Interrupt() {
			m.emit(EventMessagesChanged)
		}
		m.emit(EventActivityChanged)
		m.failure(&TransportError{SessionID: sessionID, Err: err})
		m.scheduleReconnect(err)
	}
	m.emit(EventConnectionChanged)
}

func (m *Manager) scheduleReconnect(cause error) {
	if m.opts.ReconnectAttempts < 0 || m.cancelReconnect != nil ||
		errors.Is(cause, ws.ErrAuthRejected) || errors.Is(cause, ws.ErrClosedByServer) {
		return
	}
	if m.backoff.Attempts() >= m.opts.ReconnectAttempts {
		m.log.Warn("giving up reconnecting", "session", m.cfg.SessionID, "attempts", m.backoff.Attempts())
		return
	}
	delay := m.backoff.Next()
	sid := m.cfg.SessionID
	m.log.Info("reconnecting", "session", sid, "in", delay, "attempt", m.backoff.Attempts())

	t := time.AfterFunc(delay, func() {
		m.post(func() {
			if m.closed || sid != m.cfg.SessionID || m.cancelReconnect == nil {
				return
			}
			m.cancelReconnect = nil
			m.title.Cancel()
			m.epoch++
			ep := m.epoch
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), m.opts.RequestTimeout)
				defer cancel()
				if err := m.load(ctx, ep, sid, true); err != nil {
					m.log.Warn("reconnect failed", "session", sid, "err", err)
				}
			}()
		})
	})
	m.cancelReconnect = t.Stop
}

func (m *Manager) stopReconnect() {
	if m.cancelReconnect != nil {
		m.cancelReconnect()
		m.cancelReconnect = nil
	}
}

func (m *Manager) schedule(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, func() { m.post(fn) })
	return t.Stop
}

// fetchTitle runs the fallback title read off the loop.
func (m *Manager) fetchTitle(episode uint64) {
	sid := m.cfg.SessionID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.RequestTimeout)
		defer cancel()
		var title string
		detail, err := m.svc.GetSession(ctx, sid)
		if detail != nil {
			title = detail.Title
		}
		m.post(func() { m.titlePolled(sid, episode, title, err) })
	}()
}

func (m *Manager) titlePolled(sessionID string, episode uint64, title string, err error) {
	if m.closed || sessionID != m.cfg.SessionID {
		return
	}
	changed, ferr := m.title.PollResult(episode, title, err)
	if ferr != nil {
		m.log.Warn("title poll failed", "err", &TitleFetchError{SessionID: sessionID, Err: ferr})
	}
	if changed {
		m.emit(EventTitleChanged)
	}
}

type activity struct {
	thinking, streaming, generating bool
}

func (m *Manager) activity() activity {
	return activity{m.transcript.Thinking(), m.transcript.Streaming(), m.transcript.GeneratingImage()}
}

func (m *Manager) failure(err error) {
	m.lastErr = err
	m.log.Warn("chat failure", "session", m.cfg.SessionID, "err", err)
	m.bus.Publish(Event{Type: EventFailure, Snapshot: m.snapshot(), Err: err})
}

func (m *Manager) emit(types ...EventType) {
	snap := m.snapshot()
	for _, t := range types {
		m.bus.Publish(Event{Type: t, Snapshot: snap})
	}
}

func (m *Manager) snapshot() Snapshot {
	return Snapshot{
		Session:         m.cfg,
		Title:           m.title.Title(),
		TitleState:      m.title.State(),
		Messages:        m.transcript.Messages(),
		Thinking:        m.transcript.Thinking(),
		Streaming:       m.transcript.Streaming(),
		GeneratingImage: m.transcript.GeneratingImage(),
		Connection:      m.connState,
		Disconnected:    m.disconnected,
		LastError:       m.lastErr,
	}
}

func localAttachment(u Upload) *Attachment {
	typ := AttachmentFile
	if u.IsImage() {
		typ = AttachmentImage
	}
	return &Attachment{Name: u.Name, Type: typ, URL: "local://" + u.Name}
}
