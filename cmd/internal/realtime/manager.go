package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"wastewise/cmd/identity/ids"
	"wastewise/cmd/internal/clock"
	"wastewise/cmd/internal/credential"
	"wastewise/cmd/internal/watch"
	v1 "wastewise/shared/contracts/realtime/v1"
)

// TokenSource yields the stored credential. credential.Store satisfies it.
type TokenSource interface {
	Load(ctx context.Context) (token string, ok bool, err error)
}

// Manager owns the live channel.
//
// All state transitions happen under one lock and are guarded by a
// generation number: Connect (from Disconnected or Failed) and Disconnect
// bump it, and every asynchronous completion (dial result, read error,
// backoff timer, heartbeat) is discarded unless its generation is current.
type Manager struct {
	log     *slog.Logger
	cfg     Config
	tokens  TokenSource
	dialer  Dialer
	clock   clock.Clock
	metrics *Metrics

	reg     *Registry
	state   *watch.Value[State]
	limiter *RateLimiter

	mu         sync.Mutex
	gen        uint64
	token      string
	attempt    int
	live       *liveConn
	timer      clock.Timer
	dialCancel context.CancelFunc

	failMu   sync.Mutex
	failNext uint64
	failSubs []failureSub

	wg sync.WaitGroup
}

type failureSub struct {
	id uint64
	fn func(error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the websocket dialer (tests use an in-memory fake).
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithClock replaces the time source driving backoff and heartbeats.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMetrics attaches realtime collectors.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager constructs a Disconnected Manager.
func NewManager(log *slog.Logger, cfg Config, tokens TokenSource, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		log:    log,
		cfg:    cfg,
		tokens: tokens,
		dialer: WSDialer{},
		clock:  clock.Real(),
		reg:    NewRegistry(log),
		state:  watch.NewValue(State{Status: StatusDisconnected}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.limiter = NewRateLimiter(cfg.SendRateEvents, cfg.SendRateWindow)
	m.metrics.setStatus(StatusDisconnected)
	return m
}

// State returns the current connection state.
func (m *Manager) State() State { return m.state.Get() }

// Connected reports whether the channel is open.
func (m *Manager) Connected() bool { return m.state.Get().Connected() }

// SubscribeState registers fn for connection state changes. fn is called
// immediately with the current state.
func (m *Manager) SubscribeState(fn func(State)) (unsubscribe func()) {
	return m.state.Subscribe(fn)
}

// OnFailure registers fn to be told when the manager gives up reconnecting.
// fn receives an error matching ErrExhaustedRetries.
func (m *Manager) OnFailure(fn func(error)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	m.failMu.Lock()
	m.failNext++
	id := m.failNext
	next := make([]failureSub, 0, len(m.failSubs)+1)
	next = append(next, m.failSubs...)
	m.failSubs = append(next, failureSub{id: id, fn: fn})
	m.failMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.failMu.Lock()
			defer m.failMu.Unlock()
			next := make([]failureSub, 0, len(m.failSubs))
			for _, s := range m.failSubs {
				if s.id != id {
					next = append(next, s)
				}
			}
			m.failSubs = next
		})
	}
}

// Subscribe registers handler for envelopes of kind (v1.KindAll for every
// envelope). Delivery is at-most-once: envelopes that arrive while no handler
// is registered, or while disconnected, are not replayed.
func (m *Manager) Subscribe(kind v1.Kind, handler Handler) (unsubscribe func()) {
	return m.reg.Subscribe(kind, handler)
}

// Connect opens the channel with the currently stored credential.
//
// It is a no-op while Connecting, Connected or Reconnecting. From
// Disconnected or Failed it starts over with a fresh reconnect budget. The
// credential is read once here, outside the state lock, and reused by every
// reconnect attempt. A Disconnect that lands while the credential is being
// read wins and nothing is dialled.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.active() {
		m.unlock()
		return nil
	}
	gen := m.gen
	m.unlock()

	token, ok, err := m.tokens.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	if !ok {
		return ErrNoCredential
	}

	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen || m.active() {
		m.log.Debug("realtime.connect.superseded", "token_fp", credential.Fingerprint(token))
		return nil
	}

	m.gen++
	m.token = token
	m.attempt = 0
	m.limiter.Reset()
	m.log.Info("realtime.connect", "token_fp", credential.Fingerprint(token))
	m.dialLocked()
	return nil
}

// active reports whether a connection is open or being established.
func (m *Manager) active() bool {
	switch m.state.Get().Status {
	case StatusConnecting, StatusConnected, StatusReconnecting:
		return true
	}
	return false
}

// Disconnect closes the channel intentionally from any state. It cancels a
// pending reconnect and an in-flight dial, and never triggers a reconnect.
// Calling it repeatedly is harmless.
func (m *Manager) Disconnect() {
	m.mu.Lock()

	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	lc := m.live
	m.live = nil
	if lc != nil {
		lc.intentional.Store(true)
		if lc.heartbeat != nil {
			lc.heartbeat.Stop()
		}
	}
	m.token = ""
	m.attempt = 0

	prev := m.state.Get()
	if prev.Status != StatusDisconnected {
		m.setLocked(State{Status: StatusDisconnected})
		m.log.Info("realtime.disconnect", "from", prev.String())
	}
	m.unlock()

	if lc != nil {
		lc.Close()
	}
}

// Close disconnects and waits for background goroutines to exit.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// Send marshals payload into an envelope of kind and writes it to the
// channel. It never blocks waiting for a connection: when not Connected it
// returns ErrNotConnected and nothing is sent. A nil error means the frame
// was written, not that the peer processed it.
func (m *Manager) Send(ctx context.Context, kind v1.Kind, payload any) error {
	if !kind.Valid() {
		m.metrics.send("invalid")
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	m.mu.Lock()
	lc := m.live
	connected := m.state.Get().Status == StatusConnected && lc != nil
	m.mu.Unlock()

	if !connected {
		m.metrics.send("not_connected")
		return ErrNotConnected
	}

	now := m.clock.Now().UTC()
	if ok, retry := m.limiter.Allow(now); !ok {
		m.metrics.send("rate_limited")
		return RateLimitError{RetryAfter: retry}
	}

	env, err := v1.New(kind, payload, now)
	if err != nil {
		m.metrics.send("invalid")
		return fmt.Errorf("realtime send: encode payload: %w", err)
	}
	env.ID = ids.MustULID(now)

	frame, err := json.Marshal(env)
	if err != nil {
		m.metrics.send("invalid")
		return fmt.Errorf("realtime send: encode envelope: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := lc.conn.Write(wctx, frame); err != nil {
		m.metrics.send("error")
		return &ChannelError{Op: "send", Err: err}
	}
	m.metrics.send("ok")
	return nil
}

// dialLocked starts an asynchronous dial for the current generation.
func (m *Manager) dialLocked() {
	gen := m.gen
	attempt := m.attempt
	url := ChannelURL(m.cfg.URL, m.token)

	m.setLocked(State{Status: StatusConnecting, Attempt: attempt})

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.dialCancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		conn, err := m.dialer.Dial(ctx, url)
		cancel()
		m.dialed(gen, attempt, conn, err)
	}()
}

func (m *Manager) dialed(gen uint64, attempt int, conn Conn, err error) {
	m.mu.Lock()

	if gen != m.gen || m.state.Get().Status != StatusConnecting {
		m.unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.dialCancel = nil

	if err != nil {
		m.log.Info("realtime.dial.fail", "attempt", attempt, "err", err)
		failed := m.unexpectedLocked(&ChannelError{Op: "dial", Err: err})
		m.unlock()
		m.notifyFailure(failed)
		return
	}

	lc := newLiveConn(conn, gen)
	m.live = lc
	m.attempt = 0
	m.limiter.Reset()
	m.setLocked(State{Status: StatusConnected})
	m.log.Info("realtime.connected", "after_attempt", attempt)

	m.wg.Add(1)
	go m.readLoop(lc)
	if m.cfg.HeartbeatInterval > 0 {
		m.scheduleHeartbeatLocked(lc)
	}
	m.unlock()
}

// unexpectedLocked handles a closure that Disconnect did not ask for. It
// schedules the next attempt, or moves to Failed and returns the error to
// report once the budget is spent.
func (m *Manager) unexpectedLocked(cause error) error {
	m.attempt++
	if m.attempt > m.cfg.MaxAttempts {
		last := m.attempt - 1
		m.attempt = 0
		m.setLocked(State{Status: StatusFailed, Attempt: last})
		m.metrics.exhausted()
		m.log.Warn("realtime.failed", "attempts", last, "err", cause)
		return fmt.Errorf("%w after %d attempts: %w", ErrExhaustedRetries, last, cause)
	}

	n := m.attempt
	gen := m.gen
	delay := backoff(m.cfg.BaseDelay, n)
	m.setLocked(State{Status: StatusReconnecting, Attempt: n})
	m.metrics.reconnectScheduled()
	m.log.Info("realtime.reconnect.scheduled", "attempt", n, "delay_ms", delay.Milliseconds(), "err", cause)

	m.timer = m.clock.AfterFunc(delay, func() { m.retry(gen, n) })
	return nil
}

func (m *Manager) retry(gen uint64, n int) {
	m.mu.Lock()
	defer m.unlock()

	st := m.state.Get()
	if gen != m.gen || st.Status != StatusReconnecting || st.Attempt != n {
		return
	}
	m.timer = nil
	m.dialLocked()
}

func (m *Manager) readLoop(lc *liveConn) {
	defer m.wg.Done()

	for {
		frame, err := lc.conn.Read(lc.ctx)
		if err != nil {
			m.lost(lc, "read", err)
			return
		}
		if lc.closed() {
			return
		}

		env, err := v1.Decode(frame)
		if err != nil {
			m.metrics.invalidFrame()
			m.log.Warn("realtime.envelope.invalid", "err", err)
			continue
		}

		m.metrics.envelope(string(env.Type))
		m.reg.Dispatch(env)
	}
}

// lost is the close handler for a live connection. Intentional closures end
// here silently; anything else reconnects.
func (m *Manager) lost(lc *liveConn, op string, err error) {
	intentional := lc.intentional.Load()
	lc.Close()
	if intentional {
		return
	}

	m.mu.Lock()
	if m.live != lc {
		m.unlock()
		return
	}
	m.live = nil
	if lc.heartbeat != nil {
		lc.heartbeat.Stop()
	}
	m.log.Info("realtime.channel.lost", "op", op, "reason", classifyReadErr(err).String(), "err", err)
	failed := m.unexpectedLocked(&ChannelError{Op: op, Err: err})
	m.unlock()

	m.notifyFailure(failed)
}

func (m *Manager) scheduleHeartbeatLocked(lc *liveConn) {
	lc.heartbeat = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.heartbeat(lc) })
}

func (m *Manager) heartbeat(lc *liveConn) {
	if lc.closed() {
		return
	}

	ctx, cancel := context.WithTimeout(lc.ctx, m.cfg.HeartbeatTimeout)
	err := lc.conn.Ping(ctx)
	cancel()

	if err != nil {
		m.lost(lc, "ping", err)
		return
	}

	m.mu.Lock()
	if m.live == lc {
		m.scheduleHeartbeatLocked(lc)
	}
	m.mu.Unlock()
}

func (m *Manager) notifyFailure(err error) {
	if err == nil {
		return
	}
	m.failMu.Lock()
	subs := m.failSubs
	m.failMu.Unlock()

	for _, s := range subs {
		s.fn(err)
	}
}

func (m *Manager) setLocked(s State) {
	m.state.Stage(s)
	m.metrics.setStatus(s.Status)
}

// unlock releases the manager lock and delivers staged state changes.
func (m *Manager) unlock() {
	m.mu.Unlock()
	m.state.Flush()
}
