package dropify

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/internal"
)

// Dialer opens the underlying websocket. Tests swap it to count or fail dials.
type Dialer func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDialer(ctx context.Context, u string) (*websocket.Conn, error) {
	ws, _, err := websocket.Dial(ctx, u, nil)
	return ws, err
}

// ChannelOption customises a Channel.
type ChannelOption func(*Channel)

// WithClock sets the clock driving the reconnect delay.
func WithClock(clock clockwork.Clock) ChannelOption {
	return func(c *Channel) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDialer overrides how sockets are opened.
func WithDialer(d Dialer) ChannelOption {
	return func(c *Channel) {
		if d != nil {
			c.dial = d
		}
	}
}

// ChannelURL derives the persistent-connection endpoint of a session from the
// backend address: http maps to ws, https to wss, and /ws/{code} is appended.
func ChannelURL(backend, code string) (string, error) {
	if code == "" || strings.Contains(code, "/") {
		return "", NewError(ErrorInvalidInput, "invalid session code")
	}
	u, err := url.Parse(backend)
	if err != nil {
		return "", WrapError(ErrorInvalidConfig, "invalid backend URL", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", NewError(ErrorInvalidConfig, "unsupported backend scheme "+u.Scheme)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.JoinPath("ws", code).String(), nil
}

// Channel keeps one logical websocket per session code and redials it after
// every close the caller did not ask for.
//
// At most one socket is live at a time and at most one redial is pending.
// Events reach the handler in arrival order from a single goroutine.
type Channel struct {
	cfg     Config
	code    string
	url     string
	id      string
	handler func(Event)
	logger  Logger
	clock   clockwork.Clock
	dial    Dialer
	writeCh chan outbound

	life       context.Context
	lifeCancel context.CancelFunc

	mu         sync.Mutex
	state      ChannelState
	conn       *internal.Conn
	connCancel context.CancelFunc
	timer      clockwork.Timer
	dials      int
	onState    func(StateEvent)
	onError    func(error)
}

// NewChannel prepares a channel for code. Nothing is dialed until Open.
func NewChannel(cfg Config, code string, handler func(Event), opts ...ChannelOption) (*Channel, error) {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	u, err := ChannelURL(cfg.BackendURL, code)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		handler = func(Event) {}
	}

	life, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:        cfg,
		code:       code,
		url:        u,
		id:         uuid.NewString(),
		handler:    handler,
		logger:     noopLogger{},
		clock:      clockwork.NewRealClock(),
		dial:       defaultDialer,
		writeCh:    make(chan outbound, 16),
		life:       life,
		lifeCancel: cancel,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// SetLogger overrides logger (optional).
func (c *Channel) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// OnStateChanged registers a callback for state transitions.
func (c *Channel) OnStateChanged(fn func(StateEvent)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnError registers a callback for transport and payload errors. They are
// informational; the channel recovers on its own.
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// ID identifies this channel in logs.
func (c *Channel) ID() string { return c.id }

// URL is the websocket endpoint.
func (c *Channel) URL() string { return c.url }

// Code is the session code.
func (c *Channel) Code() string { return c.code }

// State returns the current state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dials returns how many connection attempts were made so far.
func (c *Channel) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// Open makes the first connection attempt and returns once it resolved.
// A failed attempt is not an error: it schedules a redial. Calling Open on a
// channel that is already connecting, open or waiting to redial does nothing.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case ChannelIdle:
	case ChannelClosed:
		c.mu.Unlock()
		return NewError(ErrorClosed, "channel closed")
	default:
		c.mu.Unlock()
		return nil
	}
	ev := c.setState(ChannelConnecting, nil)
	c.mu.Unlock()
	c.emit(ev)

	c.connect(ctx)
	return nil
}

// outbound is a queued Send together with the slot its result goes to.
type outbound struct {
	msg  any
	errc chan error
}

// Send writes a JSON message on the open socket and waits for the write to
// finish. A message that cannot be written is reported to the caller: queued
// messages are failed with ErrorDisconnected when the socket drops.
func (c *Channel) Send(ctx context.Context, msg any) error {
	if c.State() != ChannelOpen {
		return NewError(ErrorNotConnected, "channel not open")
	}
	out := outbound{msg: msg, errc: make(chan error, 1)}
	select {
	case c.writeCh <- out:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.life.Done():
		return NewError(ErrorClosed, "channel closed")
	}
	select {
	case err := <-out.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.life.Done():
		return NewError(ErrorClosed, "channel closed")
	}
}

// Close is terminal: it cancels a pending redial, closes the socket and
// suppresses the reconnect that would normally follow. Safe to call twice.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == ChannelClosed {
		c.mu.Unlock()
		return nil
	}
	ev := c.setState(ChannelClosed, nil)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn, cancel := c.conn, c.connCancel
	c.conn, c.connCancel = nil, nil
	c.mu.Unlock()
	c.emit(ev)

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client close"); err != nil {
			c.logger.Debug("close handshake incomplete", c.fields(map[string]any{"error": err.Error()}))
		}
	}
	if cancel != nil {
		cancel()
	}
	c.lifeCancel()
	return nil
}

func (c *Channel) connect(ctx context.Context) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()
	if c.cfg.HandshakeTimeout > 0 {
		var cancelTimeout context.CancelFunc
		dialCtx, cancelTimeout = context.WithTimeout(dialCtx, c.cfg.HandshakeTimeout)
		defer cancelTimeout()
	}

	c.mu.Lock()
	c.dials++
	attempt := c.dials
	c.mu.Unlock()

	c.logger.Debug("dialing channel", c.fields(map[string]any{"attempt": attempt, "url": c.url}))
	ws, err := c.dial(dialCtx, c.url)

	c.mu.Lock()
	if c.state != ChannelConnecting {
		// closed while dialing
		c.mu.Unlock()
		if ws != nil {
			_ = ws.CloseNow()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("channel dial failed", c.fields(map[string]any{"attempt": attempt, "error": err.Error()}))
		c.fireError(WrapError(ErrorConnection, "dial channel", err))
		c.scheduleReconnect(err)
		return
	}
	if c.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(c.cfg.MaxMessageSize)
	}
	conn := internal.NewConn(ws, c.cfg.ReadTimeout, c.cfg.WriteTimeout)
	runCtx, runCancel := context.WithCancel(c.life)
	c.conn = conn
	c.connCancel = runCancel
	ev := c.setState(ChannelOpen, nil)
	c.mu.Unlock()
	c.emit(ev)
	c.logger.Info("channel open", c.fields(map[string]any{"attempt": attempt}))

	go c.readLoop(runCtx, conn)
	go c.writeLoop(runCtx, conn)
}

func (c *Channel) scheduleReconnect(cause error) {
	c.mu.Lock()
	if c.state == ChannelClosed || c.timer != nil {
		c.mu.Unlock()
		return
	}
	ev := c.setState(ChannelPendingReconnect, cause)
	timer := c.clock.NewTimer(c.cfg.ReconnectDelay)
	c.timer = timer
	c.mu.Unlock()
	c.emit(ev)
	c.logger.Info("channel reconnect scheduled", c.fields(map[string]any{"delay": c.cfg.ReconnectDelay.String()}))

	go c.awaitReconnect(timer)
}

func (c *Channel) awaitReconnect(timer clockwork.Timer) {
	select {
	case <-timer.Chan():
	case <-c.life.Done():
		timer.Stop()
		return
	}

	c.mu.Lock()
	if c.timer != timer || c.state != ChannelPendingReconnect {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ev := c.setState(ChannelConnecting, nil)
	c.mu.Unlock()
	c.emit(ev)

	c.connect(c.life)
}

// handleDisconnect runs when the read side of conn fails. Closes initiated by
// Close have already detached conn and are ignored here.
func (c *Channel) handleDisconnect(conn *internal.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	cancel := c.connCancel
	c.conn, c.connCancel = nil, nil
	c.mu.Unlock()

	cancel()
	_ = conn.CloseNow()
	c.logger.Warn("channel closed unexpectedly", c.fields(map[string]any{
		"error":  err.Error(),
		"status": websocket.CloseStatus(err).String(),
	}))
	c.fireError(WrapError(ErrorDisconnected, "channel closed", err))
	c.failQueued(WrapError(ErrorDisconnected, "channel closed before write", err))
	c.scheduleReconnect(err)
}

// failQueued answers every Send still waiting in the queue with err.
func (c *Channel) failQueued(err error) {
	for {
		select {
		case out := <-c.writeCh:
			out.errc <- err
		default:
			return
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *internal.Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		ev := ParseEvent(data)
		if bad, ok := ev.(MalformedEvent); ok {
			c.logger.Warn("dropping malformed message", c.fields(map[string]any{
				"error": bad.Err.Error(),
				"size":  len(bad.Raw),
			}))
			c.fireError(WrapError(ErrorSerialization, "malformed channel message", bad.Err))
			continue
		}
		c.handler(ev)
	}
}

func (c *Channel) writeLoop(ctx context.Context, conn *internal.Conn) {
	for {
		select {
		case out := <-c.writeCh:
			err := conn.Write(ctx, out.msg)
			if err != nil {
				err = WrapError(ErrorConnection, "write channel", err)
			}
			out.errc <- err
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("channel write failed", c.fields(map[string]any{"error": err.Error()}))
				c.fireError(err)
				// the read loop sees the dead socket and schedules the redial
				_ = conn.CloseNow()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// setState must be called with mu held; the returned event is emitted after unlocking.
func (c *Channel) setState(to ChannelState, cause error) StateEvent {
	ev := StateEvent{OldState: c.state, NewState: to, Error: cause}
	c.state = to
	return ev
}

func (c *Channel) emit(ev StateEvent) {
	c.logger.Debug("channel state", c.fields(map[string]any{
		"from": ev.OldState.String(),
		"to":   ev.NewState.String(),
	}))
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Channel) fireError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil && err != nil {
		fn(err)
	}
}

func (c *Channel) fields(extra map[string]any) map[string]any {
	f := map[string]any{"channel_id": c.id, "session_code": c.code}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
