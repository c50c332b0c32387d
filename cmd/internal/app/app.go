// Package app wires the wastewise client runtime: config, logging, the
// credential store, the session and realtime managers, and the local
// diagnostics server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wastewise/cmd/internal/auth/session"
	"wastewise/cmd/internal/credential"
	"wastewise/cmd/internal/realtime"
	"wastewise/cmd/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns the process-wide collaborators. There is exactly one session
// manager and one realtime manager per App.
type App struct {
	cfg Config
	log Logger

	store      credential.Store
	closeStore func() error

	registry *prometheus.Registry
	gateway  *transport.Gateway
	session  *session.Manager
	realtime *realtime.Manager

	unsubscribe []func()
}

// Option configures an App.
type Option func(*options)

type options struct {
	store  credential.Store
	dialer realtime.Dialer
}

// WithStore replaces the configured credential store.
func WithStore(s credential.Store) Option {
	return func(o *options) { o.store = s }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d realtime.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(nil, cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	store, closeStore := o.store, func() error { return nil }
	if store == nil {
		var err error
		store, closeStore, err = newStore(ctx, cfg.Store, log)
		if err != nil {
			return nil, err
		}
	}

	a, err := wire(cfg, log, store, o.dialer)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	a.closeStore = closeStore
	return a, nil
}

func wire(cfg Config, log Logger, store credential.Store, dialer realtime.Dialer) (*App, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	rtMetrics, err := realtime.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	sessMetrics, err := session.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	gw, err := transport.New(log, cfg.APIURL,
		transport.WithTimeout(cfg.Session.RequestTimeout),
		transport.WithTokenSource(store),
	)
	if err != nil {
		return nil, err
	}

	rtOpts := []realtime.Option{realtime.WithMetrics(rtMetrics)}
	if dialer != nil {
		rtOpts = append(rtOpts, realtime.WithDialer(dialer))
	}
	rt := realtime.NewManager(log, cfg.Realtime, store, rtOpts...)

	sess := session.NewManager(log, cfg.Session, store,
		session.NewAPI(gw, cfg.Session.RequestTimeout),
		session.WithRealtime(rt),
		session.WithMetrics(sessMetrics),
	)
	gw.OnAuthFailure(sess.HandleAuthFailure)

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: reg,
		gateway:  gw,
		session:  sess,
		realtime: rt,
	}

	// Realtime observers run while the session manager may hold its lock,
	// so they only log.
	a.unsubscribe = append(a.unsubscribe,
		sess.Subscribe(func(s session.State) {
			log.Debug("app.session.state", "phase", string(s.Phase), "authenticated", s.IsAuthenticated)
		}),
		rt.SubscribeState(func(s realtime.State) {
			log.Debug("app.channel.state", "state", s.String())
		}),
		rt.OnFailure(func(err error) {
			log.Warn("app.channel.exhausted", "err", err)
		}),
	)

	return a, nil
}

// Session returns the session manager.
func (a *App) Session() *session.Manager { return a.session }

// Realtime returns the realtime connection manager.
func (a *App) Realtime() *realtime.Manager { return a.realtime }

// Registry returns the Prometheus registry every collector is attached to.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Serve runs the diagnostics server (when configured) and blocks until ctx
// is cancelled or the server fails. Serve does not close the App.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.DiagAddr == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              a.cfg.DiagAddr,
		Handler:           newDiagRouter(a.log, a.cfg.Store.Kind, a.session, a.realtime, a.registry),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<16),
	}

	a.log.Info("diag.start", "addr", a.cfg.DiagAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("diag.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("diag.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 5*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("diag.shutdown.fail", "err", err)
		return err
	}
	a.log.Info("diag.stopped")
	return nil
}

// Close tears the channel down, waits for background session work (the
// logout notification) and releases the credential store.
func (a *App) Close() error {
	for _, u := range a.unsubscribe {
		u()
	}
	a.unsubscribe = nil

	a.realtime.Close()

	done := make(chan struct{})
	go func() {
		a.session.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(nonZeroDuration(a.cfg.ShutdownTimeout, 5*time.Second)):
		a.log.Warn("app.close.session_wait_timeout")
	}

	if a.closeStore == nil {
		return nil
	}
	if err := a.closeStore(); err != nil {
		a.log.Error("store.close.fail", "err", err)
		return err
	}
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore opens the configured credential store and returns its closer.
func newStore(ctx context.Context, sc StoreConfig, log Logger) (credential.Store, func() error, error) {
	nop := func() error { return nil }

	switch sc.Kind {
	case StoreMemory:
		log.Info("store.memory")
		return credential.NewMemoryStore(), nop, nil

	case StoreSQLite:
		s, err := credential.OpenSQLiteStore(ctx, sc.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store.sqlite", "path", sc.Path)
		return s, s.Close, nil

	case StoreFile, "":
		var opts []credential.FileOption
		if sc.Passphrase != "" {
			opts = append(opts, credential.WithPassphrase(sc.Passphrase, credential.DefaultSealParams()))
		}
		s, err := credential.NewFileStore(sc.Dir, opts...)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store.file", "path", s.Path(), "sealed", sc.Passphrase != "")
		return s, nop, nil

	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", sc.Kind)
	}
}
