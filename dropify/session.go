package dropify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"
	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/rest"
	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/store"
)

// Notice is a one-shot, user-facing report of a failed action.
type Notice struct {
	Op  string
	Err error
}

// SessionOption customises a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	api     *rest.Client
	logger  Logger
	channel []ChannelOption
}

// WithRESTClient supplies the backend client, e.g. one sharing an http.Client.
func WithRESTClient(api *rest.Client) SessionOption {
	return func(o *sessionOptions) { o.api = api }
}

// WithLogger sets the logger for the session and everything it owns.
func WithLogger(l Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = l }
}

// WithSessionClock sets the clock of the owned channel.
func WithSessionClock(clock clockwork.Clock) SessionOption {
	return func(o *sessionOptions) { o.channel = append(o.channel, WithClock(clock)) }
}

// WithSessionDialer sets the dialer of the owned channel.
func WithSessionDialer(d Dialer) SessionOption {
	return func(o *sessionOptions) { o.channel = append(o.channel, WithDialer(d)) }
}

// Session drives one open session view: it loads the drop list (server
// first, cache as fallback), keeps a channel open for live events, tracks
// connectivity, and tears everything down on Close.
type Session struct {
	cfg        Config
	code       string
	api        *rest.Client
	store      store.Store
	channel    *Channel
	reconciler *Reconciler
	logger     Logger
	dispatcher Dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	status   SessionStatus
	online   bool
	source   SnapshotSource
	loaded   chan struct{}
	loadOnce sync.Once
	onStatus func(StatusEvent)
	onNotice func(Notice)
	onDrops  func(model.Snapshot)
}

// NewSession wires a session view for code. st may be nil to run without a cache.
func NewSession(cfg Config, code string, st store.Store, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := sessionOptions{logger: noopLogger{}}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = noopLogger{}
	}
	if o.api == nil {
		o.api = rest.NewClient(cfg.BackendURL)
		if cfg.HTTPTimeout > 0 {
			o.api.SetHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		code:   code,
		api:    o.api,
		store:  st,
		logger: o.logger,
		ctx:    ctx,
		cancel: cancel,
		online: true,
		loaded: make(chan struct{}),
	}

	ropts := []ReconcilerOption{WithReconcilerLogger(o.logger), WithOnChange(s.dropsChanged)}
	if cfg.Dedup {
		ropts = append(ropts, WithDedup())
	}
	s.reconciler = NewReconciler(code, st, ropts...)

	ch, err := NewChannel(cfg, code, s.handleEvent, o.channel...)
	if err != nil {
		cancel()
		return nil, err
	}
	ch.SetLogger(o.logger)
	s.channel = ch
	return s, nil
}

// OnStatusChanged registers a callback for Idle/Loading/Live/Offline/TornDown transitions.
func (s *Session) OnStatusChanged(fn func(StatusEvent)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// OnNotice registers a callback for failed user actions.
func (s *Session) OnNotice(fn func(Notice)) {
	s.mu.Lock()
	s.onNotice = fn
	s.mu.Unlock()
}

// OnDropsChanged registers a callback receiving the list after each change.
func (s *Session) OnDropsChanged(fn func(model.Snapshot)) {
	s.mu.Lock()
	s.onDrops = fn
	s.mu.Unlock()
}

// OnNewDrop registers a callback for live NEW_DROP events. Register before Start.
func (s *Session) OnNewDrop(fn func(model.Drop)) { s.dispatcher.SetOnNewDrop(fn) }

// OnDeleteDrop registers a callback for live DELETE_DROP events. Register before Start.
func (s *Session) OnDeleteDrop(fn func(int64)) { s.dispatcher.SetOnDeleteDrop(fn) }

// Code returns the session code.
func (s *Session) Code() string { return s.code }

// Channel exposes the owned channel for state observation.
func (s *Session) Channel() *Channel { return s.channel }

// Drops returns a copy of the current list.
func (s *Session) Drops() model.Snapshot { return s.reconciler.Drops() }

// Status returns the lifecycle status.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Offline reports whether the offline indicator should be shown.
func (s *Session) Offline() bool { return s.Status() == SessionOffline }

// Source tells where the initial list came from.
func (s *Session) Source() SnapshotSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Loaded is closed once the initial load resolved, or when the session is
// closed without ever being started.
func (s *Session) Loaded() <-chan struct{} { return s.loaded }

// Start opens the channel in the background and loads the initial list.
// It returns when the list is resolved; a failed fetch falls back to the
// cache and is not an error. Calling Start again does nothing.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case SessionIdle:
	case SessionTornDown:
		s.mu.Unlock()
		return NewError(ErrorClosed, "session torn down")
	default:
		s.mu.Unlock()
		return nil
	}
	ev := s.setStatus(SessionLoading)
	s.mu.Unlock()
	s.emitStatus(ev)

	// live events must extend the cached list, never replace it
	cached := s.restoreFromCache()

	go func() {
		if err := s.channel.Open(s.ctx); err != nil {
			s.logger.Debug("channel not opened", s.fields(map[string]any{"error": err.Error()}))
		}
	}()

	s.load(ctx, cached)
	return nil
}

// load fetches the server list. On failure the list restored from the cache,
// plus any live events applied since, stays as is.
func (s *Session) load(ctx context.Context, fallback SnapshotSource) {
	defer s.markLoaded()

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	source := SourceServer
	raw, err := s.api.ListDropsRaw(fetchCtx, s.code)
	if err == nil {
		s.reconciler.ApplySnapshotJSON(s.ctx, raw)
	} else {
		s.logger.Warn("drop fetch failed, falling back to cache", s.fields(map[string]any{
			"error": WrapError(ErrorFetch, "list drops", err).Error(),
		}))
		source = fallback
	}

	s.mu.Lock()
	if s.status != SessionLoading {
		s.mu.Unlock()
		return
	}
	s.source = source
	next := SessionLive
	if !s.online {
		next = SessionOffline
	}
	ev := s.setStatus(next)
	s.mu.Unlock()
	s.emitStatus(ev)

	s.logger.Info("session loaded", s.fields(map[string]any{
		"source": source.String(),
		"drops":  s.reconciler.Len(),
	}))
}

func (s *Session) restoreFromCache() SnapshotSource {
	if s.store == nil {
		s.reconciler.Restore(nil)
		return SourceEmpty
	}
	cached, found, err := s.store.Load(s.ctx, s.code)
	if err != nil {
		s.logger.Warn("cache read failed", s.fields(map[string]any{
			"error": WrapError(ErrorStorage, "load snapshot", err).Error(),
		}))
		found = false
	}
	if !found {
		s.reconciler.Restore(nil)
		return SourceEmpty
	}
	s.reconciler.Restore(cached)
	return SourceCache
}

// SetOnline feeds the host's connectivity signal. Going offline only raises
// the indicator: the channel stays up and nothing is re-fetched on return.
func (s *Session) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	var ev *StatusEvent
	switch {
	case !online && s.status == SessionLive:
		e := s.setStatus(SessionOffline)
		ev = &e
	case online && s.status == SessionOffline:
		e := s.setStatus(SessionLive)
		ev = &e
	}
	s.mu.Unlock()

	s.logger.Info("connectivity changed", s.fields(map[string]any{"online": online}))
	if ev != nil {
		s.emitStatus(*ev)
	}
}

// Close tears the view down: the channel is closed, pending timers and
// requests are cancelled and no later event touches the list. The cached
// list stays in the store.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.status == SessionTornDown {
		s.mu.Unlock()
		return nil
	}
	neverStarted := s.status == SessionIdle
	ev := s.setStatus(SessionTornDown)
	s.mu.Unlock()

	if neverStarted {
		s.markLoaded()
	}
	s.reconciler.Freeze()
	s.cancel()
	err := s.channel.Close()
	s.emitStatus(ev)
	return err
}

// SendText posts a text or code drop. It is not retried and not inserted
// locally: the drop shows up when the backend echoes it over the channel.
func (s *Session) SendText(ctx context.Context, content string, kind model.DropKind) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return NewError(ErrorInvalidInput, "empty drop")
	}
	if kind == "" {
		kind = model.KindText
	}
	if kind != model.KindText && kind != model.KindCode {
		return NewError(ErrorInvalidInput, "text drops must be text or code")
	}
	_, err := s.api.SendText(ctx, s.code, rest.TextDropRequest{Content: content, DropType: kind})
	if err != nil {
		return s.sendFailed("send_text", err)
	}
	return nil
}

// SendFile uploads r as a file drop. Same delivery rules as SendText.
func (s *Session) SendFile(ctx context.Context, filename string, r io.Reader) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.api.UploadFile(ctx, s.code, filename, r); err != nil {
		return s.sendFailed("upload_file", err)
	}
	return nil
}

// ConsumeDrop marks a burn-after-read drop as read. Removal arrives as a
// DELETE_DROP event.
func (s *Session) ConsumeDrop(ctx context.Context, id int64) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	resp, err := s.api.ConsumeDrop(ctx, s.code, id)
	if err != nil {
		return false, s.sendFailed("consume_drop", err)
	}
	return resp.Consumed, nil
}

// DownloadURL returns the link of a file drop.
func (s *Session) DownloadURL(d model.Drop) (string, bool) {
	if d.Type != model.KindFile || d.Path == "" {
		return "", false
	}
	return s.api.DownloadURL(d.Path), true
}

// QRCodeURL returns the session QR code image URL.
func (s *Session) QRCodeURL() string { return s.api.QRCodeURL(s.code) }

func (s *Session) markLoaded() {
	s.loadOnce.Do(func() { close(s.loaded) })
}

func (s *Session) checkOpen() error {
	if s.Status() == SessionTornDown {
		return NewError(ErrorClosed, "session torn down")
	}
	return nil
}

func (s *Session) sendFailed(op string, err error) error {
	wrapped := WrapError(ErrorSendFailed, op, err)
	s.logger.Warn("action failed", s.fields(map[string]any{"op": op, "error": err.Error()}))

	s.mu.Lock()
	fn := s.onNotice
	s.mu.Unlock()
	if fn != nil {
		fn(Notice{Op: op, Err: wrapped})
	}
	return wrapped
}

func (s *Session) handleEvent(ev Event) {
	if s.reconciler.ApplyEvent(s.ctx, ev) {
		s.dispatcher.Dispatch(ev)
	}
	if u, ok := ev.(UnknownEvent); ok {
		s.logger.Debug("ignoring event", s.fields(map[string]any{"event": u.Name}))
		s.dispatcher.Dispatch(u)
	}
}

func (s *Session) dropsChanged(snap model.Snapshot) {
	s.mu.Lock()
	fn := s.onDrops
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// setStatus must be called with mu held.
func (s *Session) setStatus(to SessionStatus) StatusEvent {
	ev := StatusEvent{Old: s.status, New: to}
	s.status = to
	return ev
}

func (s *Session) emitStatus(ev StatusEvent) {
	s.logger.Debug("session status", s.fields(map[string]any{
		"from": ev.Old.String(),
		"to":   ev.New.String(),
	}))
	s.mu.Lock()
	fn := s.onStatus
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *Session) fields(extra map[string]any) map[string]any {
	f := map[string]any{"session_code": s.code}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
