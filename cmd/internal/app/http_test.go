package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"wastewise/cmd/internal/auth/session"
	"wastewise/cmd/internal/realtime"
)

type staticSession struct{ s session.State }

func (v staticSession) State() session.State { return v.s }

type staticChannel struct{ s realtime.State }

func (v staticChannel) State() realtime.State { return v.s }

func authenticated() session.State {
	return session.State{
		User:            &session.UserProfile{ID: "u-1", Email: "ada@example.com", Role: "resident"},
		IsAuthenticated: true,
		Phase:           session.PhaseAuthenticated,
	}
}

func serveDiag(t *testing.T, sess session.State, ch realtime.State, path string) *httptest.ResponseRecorder {
	t.Helper()

	reg := prometheus.NewRegistry()
	_, err := session.NewMetrics(reg)
	require.NoError(t, err)

	log := NewLogger(io.Discard, "error", "json", false)
	h := newDiagRouter(log, StoreFile, staticSession{sess}, staticChannel{ch}, reg)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestDiag_Healthz(t *testing.T) {
	t.Parallel()

	rr := serveDiag(t, session.State{Phase: session.PhaseUnauthenticated}, realtime.State{}, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok\n", rr.Body.String())
}

func TestDiag_Readyz(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		sess     session.State
		ch       realtime.State
		wantCode int
		wantBody string
	}{
		{
			name:     "anonymous",
			sess:     session.State{Phase: session.PhaseUnauthenticated},
			ch:       realtime.State{Status: realtime.StatusDisconnected},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "not authenticated",
		},
		{
			name:     "reconnecting",
			sess:     authenticated(),
			ch:       realtime.State{Status: realtime.StatusReconnecting, Attempt: 2},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "channel reconnecting(2)",
		},
		{
			name:     "failed",
			sess:     authenticated(),
			ch:       realtime.State{Status: realtime.StatusFailed, Attempt: 5},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "channel failed",
		},
		{
			name:     "ready",
			sess:     authenticated(),
			ch:       realtime.State{Status: realtime.StatusConnected},
			wantCode: http.StatusOK,
			wantBody: "ready",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rr := serveDiag(t, tc.sess, tc.ch, "/readyz")
			require.Equal(t, tc.wantCode, rr.Code)
			require.Contains(t, rr.Body.String(), tc.wantBody)
		})
	}
}

func TestDiag_DebugSession(t *testing.T) {
	t.Parallel()

	rr := serveDiag(t, authenticated(), realtime.State{Status: realtime.StatusReconnecting, Attempt: 3}, "/debug/session")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var got debugSession
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, session.PhaseAuthenticated, got.Phase)
	require.True(t, got.Authenticated)
	require.Equal(t, "reconnecting", got.Channel)
	require.Equal(t, 3, got.Attempt)
	require.Equal(t, "file", got.Store)
	require.NotNil(t, got.User)
	require.Equal(t, "ada@example.com", got.User.Email)
}

func TestDiag_Metrics(t *testing.T) {
	t.Parallel()

	rr := serveDiag(t, authenticated(), realtime.State{}, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "wastewise_session_authenticated"), rr.Body.String())
}

func TestDiag_UnknownRoute(t *testing.T) {
	t.Parallel()

	rr := serveDiag(t, authenticated(), realtime.State{}, "/auth/login")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
