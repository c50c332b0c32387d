package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wastewise/cmd/internal/clock"
	"wastewise/cmd/internal/credential"
	v1 "wastewise/shared/contracts/realtime/v1"
)

// ---- fakes ----

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	err     error
	written [][]byte
	pingErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return nil, c.err
		}
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server or network closing the connection.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

type fakeDialer struct {
	mu       sync.Mutex
	urls     []string
	plan     []error
	fallback error
	conns    []*fakeConn

	// block, when set, holds every dial until it is closed or ctx ends.
	block chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	i := len(d.urls)
	d.urls = append(d.urls, url)
	err := d.fallback
	if i < len(d.plan) {
		err = d.plan[i]
	}
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	var c *fakeConn
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if i < len(d.conns) {
			c = d.conns[i]
			return true
		}
		return false
	}, time.Second, time.Millisecond)
	return c
}

var errRefused = errors.New("connection refused")

type testEnv struct {
	mgr    *Manager
	dialer *fakeDialer
	clock  *clock.FakeClock
	store  *credential.MemoryStore
}

func newTestEnv(t *testing.T, cfg Config, d *fakeDialer) *testEnv {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = "ws://example.test/ws"
	}
	store := credential.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), "tok-1"))

	fc := clock.Fake(time.Unix(1700000000, 0))
	m := NewManager(discardLogger(), cfg, store, WithDialer(d), WithClock(fc))
	t.Cleanup(m.Close)
	return &testEnv{mgr: m, dialer: d, clock: fc, store: store}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, time.Second, time.Millisecond,
		"want state %v, have %v", want, m.State())
}

// advanceToNextAttempt waits for the backoff timer, checks its delay and fires it.
func (e *testEnv) advanceToNextAttempt(t *testing.T, wantDelay time.Duration) {
	t.Helper()
	require.True(t, e.clock.WaitForTimers(1, time.Second), "no reconnect timer scheduled")
	in, ok := e.clock.NextIn()
	require.True(t, ok)
	require.Equal(t, wantDelay, in)
	e.clock.Advance(in)
}

// ---- connect ----

func TestConnect_RequiresCredential(t *testing.T) {
	env := newTestEnv(t, Config{}, &fakeDialer{})
	require.NoError(t, env.store.Clear(context.Background()))

	err := env.mgr.Connect(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
	require.Zero(t, env.dialer.dials())
	require.Equal(t, StatusDisconnected, env.mgr.State().Status)
}

func TestConnect_EscapesTokenIntoURL(t *testing.T) {
	env := newTestEnv(t, Config{URL: "ws://example.test/ws/"}, &fakeDialer{})
	require.NoError(t, env.store.Save(context.Background(), "a/b c"))

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusConnected})

	env.dialer.mu.Lock()
	defer env.dialer.mu.Unlock()
	require.Equal(t, []string{"ws://example.test/ws/a%2Fb%20c"}, env.dialer.urls)
}

func TestConnect_IsNoopWhileActive(t *testing.T) {
	env := newTestEnv(t, Config{}, &fakeDialer{})

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusConnected})
	require.NoError(t, env.mgr.Connect(context.Background()))

	require.Equal(t, 1, env.dialer.dials())
	require.True(t, env.mgr.Connected())
}

// gatedTokens holds Load until release is closed.
type gatedTokens struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTokens) Load(context.Context) (string, bool, error) {
	close(g.entered)
	<-g.release
	return "tok-1", true, nil
}

func TestConnect_ReadsCredentialOutsideLock(t *testing.T) {
	d := &fakeDialer{}
	tokens := &gatedTokens{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(discardLogger(), Config{URL: "ws://example.test/ws"}, tokens, WithDialer(d), WithClock(clock.Fake(time.Unix(1700000000, 0))))
	t.Cleanup(m.Close)

	errc := make(chan error, 1)
	go func() { errc <- m.Connect(context.Background()) }()
	<-tokens.entered

	// Disconnect needs the state lock; it must not wait on the store.
	done := make(chan struct{})
	go func() {
		m.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Disconnect blocked behind the credential read")
	}

	close(tokens.release)
	require.NoError(t, <-errc)
	require.Zero(t, d.dials())
	require.Equal(t, StatusDisconnected, m.State().Status)
}

// ---- backoff ----

func TestReconnect_ExhaustsBudgetThenFails(t *testing.T) {
	env := newTestEnv(t, Config{BaseDelay: time.Second, MaxAttempts: 5}, &fakeDialer{fallback: errRefused})

	var (
		mu       sync.Mutex
		failures []error
	)
	env.mgr.OnFailure(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	})

	require.NoError(t, env.mgr.Connect(context.Background()))

	for n := 1; n <= 5; n++ {
		waitState(t, env.mgr, State{Status: StatusReconnecting, Attempt: n})
		env.advanceToNextAttempt(t, time.Second<<(n-1))
	}

	waitState(t, env.mgr, State{Status: StatusFailed, Attempt: 5})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.ErrorIs(t, failures[0], ErrExhaustedRetries)
	mu.Unlock()

	// 1 initial dial + 5 reconnect attempts, and nothing scheduled after.
	require.Equal(t, 6, env.dialer.dials())
	require.Zero(t, env.clock.Pending())
	env.clock.Advance(time.Hour)
	require.Equal(t, 6, env.dialer.dials())
	require.Equal(t, StatusFailed, env.mgr.State().Status)
}

func TestReconnect_CounterResetsAfterSuccessfulOpen(t *testing.T) {
	env := newTestEnv(t, Config{BaseDelay: time.Second, MaxAttempts: 5}, &fakeDialer{plan: []error{errRefused, errRefused, nil}})

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusReconnecting, Attempt: 1})
	env.advanceToNextAttempt(t, time.Second)
	waitState(t, env.mgr, State{Status: StatusReconnecting, Attempt: 2})
	env.advanceToNextAttempt(t, 2*time.Second)
	waitState(t, env.mgr, State{Status: StatusConnected})

	env.dialer.conn(t, 0).drop(io.EOF)

	waitState(t, env.mgr, State{Status: StatusReconnecting, Attempt: 1})
	env.advanceToNextAttempt(t, time.Second)
	waitState(t, env.mgr, State{Status: StatusConnected})
	require.Equal(t, 4, env.dialer.dials())
}

func TestConnect_FromFailedStartsFreshBudget(t *testing.T) {
	d := &fakeDialer{fallback: errRefused}
	env := newTestEnv(t, Config{BaseDelay: time.Second, MaxAttempts: 1}, d)

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusReconnecting, Attempt: 1})
	env.advanceToNextAttempt(t, time.Second)
	waitState(t, env.mgr, State{Status: StatusFailed, Attempt: 1})

	d.mu.Lock()
	d.fallback = nil
	d.mu.Unlock()

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusConnected})
	require.Equal(t, 3, d.dials())
}

// ---- disconnect ----

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		env := newTestEnv(t, Config{BaseDelay: time.Second, MaxAttempts: 5}, &fakeDialer{fallback: errRefused})

		require.NoError(t, env.mgr.Connect(context.Background()))
		for i := 1; i < n; i++ {
			waitState(t, env.mgr, State{Status: StatusReconnecting, Attempt: i})
			env.advanceToNextAttempt(t, time.Second<<(i-1))
		}
		waitState(t, env.mgr, State{Status: StatusReconnecting, Attempt: n})
		require.True(t, env.clock.WaitForTimers(1, time.Second))

		var seen []State
		unsub := env.mgr.SubscribeState(func(s State) { seen = append(seen, s) })

		env.mgr.Disconnect()
		dials := env.dialer.dials()

		require.Equal(t, State{Status: StatusDisconnected}, env.mgr.State())
		require.Zero(t, env.clock.Pending(), "n=%d", n)

		env.clock.Advance(time.Hour)
		require.Equal(t, dials, env.dialer.dials(), "n=%d", n)
		unsub()

		for _, s := range seen {
			require.NotEqual(t, StatusConnecting, s.Status, "n=%d", n)
		}
	}
}

func TestDisconnect_IntentionalCloseDoesNotReconnect(t *testing.T) {
	env := newTestEnv(t, Config{}, &fakeDialer{})

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusConnected})
	c := env.dialer.conn(t, 0)

	env.mgr.Disconnect()
	env.mgr.Disconnect()

	require.Eventually(t, c.isClosed, time.Second, time.Millisecond)
	require.Never(t, func() bool { return env.mgr.State().Status != StatusDisconnected }, 50*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, 1, env.dialer.dials())
	require.Zero(t, env.clock.Pending())
}

func TestDisconnect_CancelsInFlightDial(t *testing.T) {
	d := &fakeDialer{block: make(chan struct{})}
	env := newTestEnv(t, Config{}, d)

	require.NoError(t, env.mgr.Connect(context.Background()))
	require.Eventually(t, func() bool { return d.dials() == 1 }, time.Second, time.Millisecond)

	env.mgr.Disconnect()
	env.mgr.Close()

	require.Equal(t, State{Status: StatusDisconnected}, env.mgr.State())
	require.Zero(t, env.clock.Pending())
}

func TestReconnect_AfterCredentialChange(t *testing.T) {
	env := newTestEnv(t, Config{}, &fakeDialer{})

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusConnected})

	require.NoError(t, env.store.Save(context.Background(), "tok-2"))
	env.mgr.Disconnect()
	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusConnected})

	env.dialer.mu.Lock()
	defer env.dialer.mu.Unlock()
	require.Equal(t, []string{"ws://example.test/ws/tok-1", "ws://example.test/ws/tok-2"}, env.dialer.urls)
}

// ---- dispatch ----

func frame(t *testing.T, kind v1.Kind, payload any) []byte {
	t.Helper()
	env, err := v1.New(kind, payload, time.Unix(1700000000, 0))
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestDispatch_FromLiveConnection(t *testing.T) {
	env := newTestEnv(t, Config{}, &fakeDialer{})

	var (
		mu    sync.Mutex
		typed []v1.PickupPayload
		all   []v1.Kind
	)
	env.mgr.Subscribe(v1.KindPickupAccepted, func(e v1.Envelope) {
		var p v1.PickupPayload
		_ = e.DecodeData(&p)
		mu.Lock()
		defer mu.Unlock()
		typed = append(typed, p)
	})
	env.mgr.Subscribe(v1.KindAll, func(e v1.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		all = append(all, e.Type)
	})

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusConnected})
	c := env.dialer.conn(t, 0)

	c.in <- frame(t, v1.KindPickupAccepted, v1.PickupPayload{PickupID: "p-1", Status: "accepted"})
	c.in <- []byte(`{"type":"bogus","data":{},"timestamp":"2026-01-01T00:00:00Z"}`)
	c.in <- []byte(`not json`)
	c.in <- frame(t, v1.KindRewardEarned, v1.RewardPayload{Points: 10, Total: 110})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(all) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []v1.Kind{v1.KindPickupAccepted, v1.KindRewardEarned}, all)
	require.Len(t, typed, 1)
	require.Equal(t, "p-1", typed[0].PickupID)
	require.True(t, env.mgr.Connected())
}

// ---- send ----

func TestSend_NotConnected(t *testing.T) {
	env := newTestEnv(t, Config{}, &fakeDialer{})

	err := env.mgr.Send(context.Background(), v1.KindCollectorLocation, v1.LocationPayload{PickupID: "p-1"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSend_WritesEnvelopeAndRateLimits(t *testing.T) {
	env := newTestEnv(t, Config{SendRateEvents: 2, SendRateWindow: time.Minute}, &fakeDialer{})

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusConnected})
	c := env.dialer.conn(t, 0)

	loc := v1.LocationPayload{PickupID: "p-1", CollectorID: "c-9", Latitude: 6.5, Longitude: 3.4}
	require.NoError(t, env.mgr.Send(context.Background(), v1.KindCollectorLocation, loc))
	require.NoError(t, env.mgr.Send(context.Background(), v1.KindCollectorLocation, loc))

	err := env.mgr.Send(context.Background(), v1.KindCollectorLocation, loc)
	require.ErrorIs(t, err, ErrRateLimited)
	var rle RateLimitError
	require.ErrorAs(t, err, &rle)
	require.Equal(t, time.Minute, rle.RetryAfter)

	frames := c.frames()
	require.Len(t, frames, 2)
	got, err := v1.Decode(frames[0])
	require.NoError(t, err)
	require.Equal(t, v1.KindCollectorLocation, got.Type)
	require.Len(t, got.ID, 26)

	var p v1.LocationPayload
	require.NoError(t, got.DecodeData(&p))
	require.Equal(t, loc, p)
}

func TestSend_UnknownKind(t *testing.T) {
	env := newTestEnv(t, Config{}, &fakeDialer{})
	err := env.mgr.Send(context.Background(), v1.KindAll, nil)
	require.ErrorIs(t, err, ErrUnknownKind)
}

// ---- heartbeat ----

func TestHeartbeat_FailedPingReconnects(t *testing.T) {
	env := newTestEnv(t, Config{HeartbeatInterval: 10 * time.Second, BaseDelay: time.Second}, &fakeDialer{})

	require.NoError(t, env.mgr.Connect(context.Background()))
	waitState(t, env.mgr, State{Status: StatusConnected})
	c := env.dialer.conn(t, 0)

	require.True(t, env.clock.WaitForTimers(1, time.Second))
	env.clock.Advance(10 * time.Second)
	require.Equal(t, StatusConnected, env.mgr.State().Status)

	c.mu.Lock()
	c.pingErr = errors.New("pong timeout")
	c.mu.Unlock()

	env.clock.Advance(10 * time.Second)
	waitState(t, env.mgr, State{Status: StatusReconnecting, Attempt: 1})
	require.Eventually(t, c.isClosed, time.Second, time.Millisecond)
}
