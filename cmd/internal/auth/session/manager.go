package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"wastewise/cmd/internal/credential"
	"wastewise/cmd/internal/watch"
)

// Realtime is the part of the realtime connection manager the session drives.
type Realtime interface {
	// Connect reads the stored credential and opens the live channel.
	Connect(ctx context.Context) error

	// Disconnect closes the channel intentionally. It must be idempotent.
	Disconnect()
}

// Manager owns the session state and the stored credential.
//
// Transitions are staged under the manager's lock and delivered to observers
// after it is released, so an observer may call back into the Manager.
type Manager struct {
	log     *slog.Logger
	cfg     Config
	store   credential.Store
	api     Backend
	rt      Realtime
	metrics *Metrics

	state *watch.Value[State]

	mu  sync.Mutex
	gen uint64

	// committed is the credential the settled session was established with.
	// inflight is the credential a login saved but has not yet committed.
	committed string
	inflight  string

	bootOnce sync.Once
	ready    chan struct{}

	bg sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithRealtime attaches the realtime channel whose lifecycle follows the session.
func WithRealtime(rt Realtime) Option {
	return func(m *Manager) { m.rt = rt }
}

// WithMetrics attaches session collectors.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager constructs a Manager in the Unknown phase. Call Bootstrap before
// relying on State.
func NewManager(log *slog.Logger, cfg Config, store credential.Store, api Backend, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = def.LogoutTimeout
	}

	m := &Manager{
		log:   log,
		cfg:   cfg,
		store: store,
		api:   api,
		state: watch.NewValue(unknownState()),
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// State returns the current session snapshot.
func (m *Manager) State() State { return m.state.Get() }

// Subscribe registers fn for state changes. fn is called immediately with the
// current state. The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	return m.state.Subscribe(fn)
}

// Ready is closed once Bootstrap has completed.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Wait blocks until background server notifications (logout) have finished.
func (m *Manager) Wait() { m.bg.Wait() }

// Bootstrap restores the session from the stored credential.
//
// Only the first call does any work; later calls return immediately. It never
// fails: an absent, corrupt or rejected credential leaves the session
// unauthenticated with the store cleared. With no stored credential no
// network call is made.
func (m *Manager) Bootstrap(ctx context.Context) {
	m.bootOnce.Do(func() {
		defer close(m.ready)
		m.bootstrap(ctx)
	})
}

func (m *Manager) bootstrap(ctx context.Context) {
	m.mu.Lock()
	m.gen++
	gen := m.gen

	token, ok, err := m.store.Load(context.WithoutCancel(ctx))
	if err != nil {
		m.log.Warn("session.bootstrap.credential_unreadable", "err", err)
		m.clearStoreLocked(ctx)
	}
	if err != nil || !ok {
		m.setLocked(unauthenticatedState())
		m.unlock()
		m.metrics.op("bootstrap", "anonymous")
		m.log.Info("session.bootstrap.anonymous")
		return
	}
	m.setLocked(m.state.Get().loading())
	m.unlock()

	user, err := m.me(ctx, token)

	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen {
		m.metrics.op("bootstrap", "superseded")
		return
	}
	if err != nil {
		m.log.Info("session.bootstrap.rejected", "token_fp", credential.Fingerprint(token), "kind", kindFor(err, false).Error(), "err", err)
		m.resetLocked(ctx)
		m.metrics.op("bootstrap", "error")
		return
	}

	m.committed = token
	m.setLocked(authenticatedState(user))
	m.connectLocked(ctx)
	m.metrics.op("bootstrap", "ok")
	m.log.Info("session.bootstrap.ok", "user_id", user.ID, "role", user.Role, "token_fp", credential.Fingerprint(token))
}

// Login exchanges email and password for a credential, stores it and loads
// the profile. On any failure the stored credential and the session state
// are restored to exactly what they were before the call.
//
// Errors match ErrInvalidCredentials, ErrValidation, ErrNetwork or ErrServer
// through errors.Is. Login is never retried internally.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		m.metrics.op("login", "error")
		return &OpError{Op: "login", Kind: ErrValidation, Msg: "email and password are required"}
	}
	return m.login(ctx, "login", email, password, nil)
}

// signupAttempt is what signup hands to login: the state to restore on
// failure (signup already moved the session into Loading) and the
// generation signup started.
type signupAttempt struct {
	prev State
	gen  uint64
}

// login runs the login sequence. from is nil for a plain Login.
func (m *Manager) login(ctx context.Context, op, email, password string, from *signupAttempt) error {
	m.mu.Lock()

	prev := m.state.Get()
	if from != nil {
		prev = from.prev
	}
	// The prior credential must be known before anything changes, or a
	// failure could not put it back.
	prevToken, hadToken, err := m.store.Load(ctx)
	if err != nil {
		if from != nil && from.gen == m.gen {
			m.setLocked(prev.settled())
		}
		m.unlock()
		m.metrics.op(op, "error")
		return &OpError{Op: op, Kind: ErrStorage, Msg: "read prior credential", Err: err}
	}
	m.gen++
	gen := m.gen
	if hadToken && m.inflight != "" && prevToken == m.inflight {
		// An older login that this one supersedes saved it.
		prevToken, hadToken = m.committed, m.committed != ""
	}
	m.setLocked(prev.loading())
	m.unlock()

	lctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	token, err := m.api.Login(lctx, email, password)
	cancel()
	if err != nil {
		return m.abortLogin(ctx, op, gen, prev, prevToken, hadToken, opErr(op, err, true))
	}

	m.mu.Lock()
	if gen != m.gen {
		m.unlock()
		m.metrics.op(op, "superseded")
		return &OpError{Op: op, Kind: ErrSuperseded}
	}
	if err := m.store.Save(context.WithoutCancel(ctx), token); err != nil {
		m.unlock()
		return m.abortLogin(ctx, op, gen, prev, prevToken, hadToken, &OpError{Op: op, Kind: ErrStorage, Err: err})
	}
	m.inflight = token
	m.unlock()

	// The store guarantees read-after-write, and the fresh token is passed
	// explicitly, so the profile fetch never races persistence.
	user, err := m.me(ctx, token)
	if err != nil {
		return m.abortLogin(ctx, op, gen, prev, prevToken, hadToken, opErr(op, err, false))
	}

	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen {
		// A logout or newer login won. Never leave this attempt's credential behind.
		if cur, ok, err := m.store.Load(context.WithoutCancel(ctx)); err == nil && ok && cur == token {
			m.clearStoreLocked(ctx)
		}
		if m.inflight == token {
			m.inflight = ""
		}
		m.metrics.op(op, "superseded")
		m.log.Info("session.login.superseded", "token_fp", credential.Fingerprint(token))
		return &OpError{Op: op, Kind: ErrSuperseded}
	}

	m.committed, m.inflight = token, ""
	m.setLocked(authenticatedState(user))
	if m.rt != nil {
		m.rt.Disconnect()
	}
	m.connectLocked(ctx)
	m.metrics.op(op, "ok")
	m.log.Info("session."+op+".ok", "user_id", user.ID, "role", user.Role, "token_fp", credential.Fingerprint(token))
	return nil
}

func (m *Manager) abortLogin(ctx context.Context, op string, gen uint64, prev State, prevToken string, hadToken bool, cause *OpError) error {
	m.mu.Lock()
	defer m.unlock()

	m.log.Info("session."+op+".fail", "kind", cause.Kind.Error(), "err", cause)

	if gen != m.gen {
		m.metrics.op(op, "superseded")
		return cause
	}
	m.inflight = ""

	wctx := context.WithoutCancel(ctx)
	if hadToken {
		if err := m.store.Save(wctx, prevToken); err != nil {
			m.log.Error("session.credential.restore_failed", "err", err)
		}
	} else {
		m.clearStoreLocked(ctx)
	}
	m.setLocked(prev.settled())
	m.metrics.op(op, "error")
	return cause
}

// Signup creates an account and then logs in with the same email and password.
//
// A failed create step never attempts login. A failed login after a
// successful create is reported as a *SignupError with Stage "login" that
// matches ErrAccountCreatedNoSession.
func (m *Manager) Signup(ctx context.Context, p Profile) error {
	p.Email = strings.TrimSpace(p.Email)
	p.Name = strings.TrimSpace(p.Name)
	if p.Email == "" || p.Password == "" || p.Name == "" {
		m.metrics.op("signup", "error")
		return &SignupError{Stage: StageCreate, Err: &OpError{Op: "signup", Kind: ErrValidation, Msg: "name, email and password are required"}}
	}
	if err := m.cfg.Password.Validate(p.Password); err != nil {
		m.metrics.op("signup", "error")
		return &SignupError{Stage: StageCreate, Err: &OpError{Op: "signup", Kind: ErrValidation, Msg: err.Error(), Err: err}}
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	prev := m.state.Get()
	m.setLocked(prev.loading())
	m.unlock()

	rctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	err := m.api.Register(rctx, p)
	cancel()
	if err != nil {
		cause := opErr("signup", err, false)
		m.mu.Lock()
		if gen == m.gen {
			m.setLocked(prev.settled())
		}
		m.unlock()
		m.metrics.op("signup", "error")
		m.log.Info("session.signup.fail", "stage", StageCreate, "kind", cause.Kind.Error(), "err", err)
		return &SignupError{Stage: StageCreate, Err: cause}
	}
	m.log.Info("session.signup.created", "role", p.Role)

	if err := m.login(ctx, "signup", p.Email, p.Password, &signupAttempt{prev: prev, gen: gen}); err != nil {
		return &SignupError{Stage: StageLogin, Err: err}
	}
	return nil
}

// Logout clears the stored credential and the session, and closes the
// realtime channel first. It returns once local state is cleared; the
// server-side logout notification runs in the background with a timeout and
// its failure is only logged.
//
// The returned error is non-nil only if the store could not be cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.gen++

	if m.rt != nil {
		m.rt.Disconnect()
	}
	token, ok, _ := m.store.Load(context.WithoutCancel(ctx))
	m.committed, m.inflight = "", ""
	err := m.store.Clear(context.WithoutCancel(ctx))
	if err != nil {
		m.log.Error("session.credential.clear_failed", "err", err)
	}
	m.setLocked(unauthenticatedState())
	m.unlock()

	m.metrics.op("logout", "ok")
	m.log.Info("session.logout", "token_fp", credential.Fingerprint(token))

	if ok && token != "" {
		m.notifyLogout(token)
	}
	if err != nil {
		return &OpError{Op: "logout", Kind: ErrStorage, Err: err}
	}
	return nil
}

func (m *Manager) notifyLogout(token string) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LogoutTimeout)
		defer cancel()

		if err := m.api.Logout(ctx, token); err != nil {
			m.log.Debug("session.logout.server_failed", "token_fp", credential.Fingerprint(token), "err", err)
		}
	}()
}

// Refresh re-fetches the profile with the stored credential. Any failure
// resets the session exactly like a rejected credential at bootstrap.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	token, ok, err := m.store.Load(context.WithoutCancel(ctx))
	if err != nil || !ok {
		m.resetLocked(ctx)
		m.unlock()
		m.metrics.op("refresh", "error")
		return &OpError{Op: "refresh", Kind: ErrNotAuthenticated, Err: err}
	}
	m.gen++
	gen := m.gen
	prev := m.state.Get()
	m.setLocked(prev.loading())
	m.unlock()

	// No explicit token: a rejection reaches the gateway's auth-failure hook too.
	user, err := m.me(ctx, "")

	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen {
		m.metrics.op("refresh", "superseded")
		if err != nil {
			return opErr("refresh", err, false)
		}
		return &OpError{Op: "refresh", Kind: ErrSuperseded}
	}
	if err != nil {
		cause := opErr("refresh", err, false)
		m.log.Info("session.refresh.fail", "token_fp", credential.Fingerprint(token), "kind", cause.Kind.Error(), "err", err)
		m.resetLocked(ctx)
		m.metrics.op("refresh", "error")
		return cause
	}

	m.committed = token
	m.setLocked(authenticatedState(user))
	if !prev.IsAuthenticated {
		m.connectLocked(ctx)
	}
	m.metrics.op("refresh", "ok")
	m.log.Debug("session.refresh.ok", "user_id", user.ID)
	return nil
}

// HandleAuthFailure resets the session when token, the credential an
// authenticated call was rejected with, is still the installed one. Reports
// about stale tokens are ignored.
func (m *Manager) HandleAuthFailure(token string, cause error) {
	m.mu.Lock()
	defer m.unlock()

	cur, ok, err := m.store.Load(context.Background())
	if err == nil && (!ok || cur != token) {
		m.log.Debug("session.auth_failure.stale", "token_fp", credential.Fingerprint(token))
		return
	}

	m.log.Info("session.auth_failure", "token_fp", credential.Fingerprint(token), "err", cause)
	m.resetLocked(context.Background())
	m.metrics.op("auth_failure", "reset")
}

// resetLocked is the shared failure path: channel closed, credential
// cleared, session unauthenticated, in-flight operations superseded.
func (m *Manager) resetLocked(ctx context.Context) {
	m.gen++
	m.committed, m.inflight = "", ""
	if m.rt != nil {
		m.rt.Disconnect()
	}
	m.clearStoreLocked(ctx)
	m.setLocked(unauthenticatedState())
}

func (m *Manager) clearStoreLocked(ctx context.Context) {
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.log.Error("session.credential.clear_failed", "err", err)
	}
}

func (m *Manager) connectLocked(ctx context.Context) {
	if m.rt == nil {
		return
	}
	if err := m.rt.Connect(context.WithoutCancel(ctx)); err != nil {
		m.log.Warn("session.realtime.connect_failed", "err", err)
	}
}

func (m *Manager) setLocked(s State) {
	m.state.Stage(s)
	m.metrics.state(s)
}

// unlock releases the manager lock and delivers staged state changes.
func (m *Manager) unlock() {
	m.mu.Unlock()
	m.state.Flush()
}

// me fetches the profile bounded by RequestTimeout.
func (m *Manager) me(ctx context.Context, token string) (UserProfile, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	return m.api.Me(cctx, token)
}
