package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"arclink/cmd/internal/observability"
	v1 "arclink/shared/contracts/realtime/v1"
)

// Options configure a Manager.
type Options struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Name labels logs and metrics; defaults to "chat".
	Name string

	Subprotocols []string
	// Header is called before every dial, so a rotated credential is picked up on reconnect.
	Header func() http.Header

	BaseDelay    time.Duration
	MaxAttempts  int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultOptions returns the reconnect policy defaults: 1s base delay, 5 attempts.
func DefaultOptions() Options {
	return Options{
		Name:         "chat",
		BaseDelay:    time.Second,
		MaxAttempts:  5,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func (o Options) validate() (Options, error) {
	def := DefaultOptions()
	u, err := url.Parse(strings.TrimSpace(o.URL))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return Options{}, fmt.Errorf("%w: url must be ws(s)://host/path, got %q", ErrConfig, o.URL)
	}
	if o.Name == "" {
		o.Name = def.Name
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.MaxAttempts < 0 {
		return Options{}, fmt.Errorf("%w: max attempts must be >= 0", ErrConfig)
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = def.DialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	return o, nil
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithScheduler replaces the wall-clock reconnect scheduler.
func WithScheduler(s Scheduler) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.sched = s
		}
	}
}

// WithMessageHandler registers the callback for inbound frames.
func WithMessageHandler(fn func(Message)) ManagerOption {
	return func(m *Manager) { m.handler = fn }
}

// Manager keeps one channel connection alive with bounded exponential
// backoff. It is safe for concurrent use.
type Manager struct {
	log     *slog.Logger
	opts    Options
	dialer  Dialer
	sched   Scheduler
	handler func(Message)

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error
	// gen identifies the current connection lifecycle. Dial results, read
	// loop exits and timers carrying an older gen are ignored.
	gen    uint64
	conn   Conn
	cancel context.CancelFunc
	timer  Timer
	closed bool

	subMu    sync.Mutex
	subs     map[int]chan Event
	nextSub  int
	subsDone bool
}

// NewManager builds a Manager in StateDisconnected. A nil dialer uses WebSocketDialer.
func NewManager(log *slog.Logger, dialer Dialer, opts Options, mopts ...ManagerOption) (*Manager, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	m := &Manager{
		log:    log.With("channel", opts.Name),
		opts:   opts,
		dialer: dialer,
		sched:  clockScheduler{},
		state:  StateDisconnected,
		subs:   map[int]chan Event{},
	}
	for _, o := range mopts {
		o(m)
	}
	observability.SetChannelState(opts.Name, string(StateDisconnected), allStates)
	return m, nil
}

// Status returns the current state, attempt counter and last error.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Attempts: m.attempts, LastErr: m.lastErr}
}

// IsConnected reports whether Send would be attempted.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Connect tears down any existing transport or pending reconnect, resets
// the attempt counter and dials. A dial failure is returned and also
// schedules a reconnect. If a concurrent Connect or Disconnect supersedes
// this dial, Connect returns nil and the new transport is discarded.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.stopTimerLocked()
	stale := m.teardownLocked()
	m.attempts = 0
	gen := m.gen
	dctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	evs := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	closeConn(stale, StatusNormalClosure, "reconnecting")
	m.publish(evs...)

	return m.dial(dctx, gen)
}

// Disconnect cancels any pending reconnect, closes the transport with
// code and reason, and stays disconnected. A zero code means 1000.
func (m *Manager) Disconnect(code int, reason string) {
	if code == 0 {
		code = StatusNormalClosure
	}
	m.mu.Lock()
	m.stopTimerLocked()
	stale := m.teardownLocked()
	m.attempts = 0
	evs := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	closeConn(stale, code, reason)
	m.publish(evs...)
	if stale != nil {
		m.log.Info("ws.disconnected", "code", code, "reason", reason)
	}
}

// Close disconnects and ends every subscription. The manager cannot be reused.
func (m *Manager) Close() {
	m.Disconnect(StatusNormalClosure, "client closing")

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.subMu.Lock()
	m.subsDone = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.subMu.Unlock()
}

// Send JSON-encodes payload and writes it as one text frame. It fails with
// ErrNotConnected unless the channel is connected.
func (m *Manager) Send(ctx context.Context, payload any) error {
	m.mu.Lock()
	conn := m.conn
	ok := m.state == StateConnected && conn != nil
	m.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode frame: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, b); err != nil {
		m.log.Info("ws.write.fail", "err", err)
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// SendText sends one chat message.
func (m *Manager) SendText(ctx context.Context, text string) error {
	out := v1.Outbound{Message: text}
	if err := out.Validate(); err != nil {
		return err
	}
	return m.Send(ctx, out)
}

// Subscribe returns a stream of events and a function that ends it.
// Events are dropped for a subscriber whose buffer is full. After Close the
// returned channel is already closed.
func (m *Manager) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)

	m.subMu.Lock()
	if m.subsDone {
		m.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) dial(ctx context.Context, gen uint64) error {
	dctx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	var header http.Header
	if m.opts.Header != nil {
		header = m.opts.Header()
	}
	conn, err := m.dialer.Dial(dctx, m.opts.URL, header, m.opts.Subprotocols)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		closeConn(conn, StatusNormalClosure, "superseded")
		if m.isClosed() {
			return ErrClosed
		}
		return nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	if err != nil {
		if !errors.Is(err, ErrDial) {
			err = &DialError{URL: m.opts.URL, Err: err}
		}
		m.lastErr = err
		evs := m.scheduleLocked(gen)
		m.mu.Unlock()
		m.log.Info("ws.dial.fail", "err", err)
		m.publish(evs...)
		return err
	}

	rctx, rcancel := context.WithCancel(context.Background())
	m.cancel = rcancel
	m.conn = conn
	m.attempts = 0
	m.lastErr = nil
	evs := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.log.Info("ws.connected", "url", m.opts.URL)
	m.publish(evs...)
	go m.readLoop(rctx, gen, conn)
	return nil
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.terminated(gen, err)
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	if !json.Valid(data) {
		observability.RecordDroppedFrame(m.opts.Name)
		m.log.Warn("ws.message.malformed", "bytes", len(data))
		m.publish(Event{Kind: EventError, Err: ErrMalformedMessage})
		return
	}

	msg := Message{Data: json.RawMessage(data)}
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &head) == nil {
		msg.Type = head.Type
	}

	if m.handler != nil {
		m.handler(msg)
	}
	m.publish(Event{Kind: EventMessage, Message: msg})
}

// terminated handles the end of a read loop.
func (m *Manager) terminated(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	var ce *CloseError
	if errors.As(err, &ce) && ce.Clean() {
		evs := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		closeConn(conn, StatusNormalClosure, "")
		m.log.Info("ws.closed", "code", ce.Code, "reason", ce.Reason)
		m.publish(evs...)
		return
	}

	m.lastErr = err
	evs := m.scheduleLocked(gen)
	m.mu.Unlock()

	closeConn(conn, StatusGoingAway, "read failed")
	m.log.Info("ws.terminated", "err", err)
	m.publish(evs...)
}

// scheduleLocked applies the backoff policy after an unclean termination.
func (m *Manager) scheduleLocked(gen uint64) []Event {
	if m.attempts >= m.opts.MaxAttempts {
		cause := m.lastErr
		m.lastErr = fmt.Errorf("%w: last error: %v", ErrMaxReconnectExceeded, cause)
		m.log.Warn("ws.reconnect.exhausted", "attempts", m.attempts, "err", cause)
		evs := m.setStateLocked(StateDisconnected)
		return append(evs, Event{Kind: EventError, Err: m.lastErr})
	}

	delay := m.opts.BaseDelay << m.attempts
	m.attempts++
	attempt := m.attempts
	m.timer = m.sched.AfterFunc(delay, func() { m.reconnect(gen) })

	observability.RecordReconnectScheduled(m.opts.Name)
	m.log.Info("ws.reconnect.scheduled", "attempt", attempt, "max", m.opts.MaxAttempts, "delay_ms", delay.Milliseconds())
	return m.setStateLocked(StateReconnecting)
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.gen++
	next := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	evs := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.publish(evs...)
	_ = m.dial(ctx, next)
}

// teardownLocked invalidates the current lifecycle and returns the
// transport to close once the lock is released.
func (m *Manager) teardownLocked() Conn {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(s State) []Event {
	if m.state == s {
		return nil
	}
	m.state = s
	observability.SetChannelState(m.opts.Name, string(s), allStates)
	return []Event{{Kind: EventState, State: s}}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) publish(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ev := range evs {
		for _, ch := range m.subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func closeConn(c Conn, code int, reason string) {
	if c == nil {
		return
	}
	_ = c.Close(code, reason)
}
