package app

import (
	"encoding/json"
	"net/http"

	"wastewise/cmd/internal/auth/session"
	"wastewise/cmd/internal/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type sessionView interface {
	State() session.State
}

type channelView interface {
	State() realtime.State
}

type debugUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type debugSession struct {
	Phase         session.Phase `json:"phase"`
	Authenticated bool          `json:"authenticated"`
	Loading       bool          `json:"loading"`
	User          *debugUser    `json:"user,omitempty"`
	Channel       string        `json:"channel"`
	Attempt       int           `json:"attempt"`
	Store         string        `json:"store"`
}

// newDiagRouter builds the local diagnostics surface. Nothing it serves
// contains the credential itself.
func newDiagRouter(log Logger, store StoreKind, sess sessionView, ch channelView, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return WithRequestLogging(next, log) })

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !sess.State().IsAuthenticated {
			http.Error(w, "not authenticated", http.StatusServiceUnavailable)
			return
		}
		if st := ch.State(); !st.Connected() {
			http.Error(w, "channel "+st.String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/debug/session", func(w http.ResponseWriter, _ *http.Request) {
		s := sess.State()
		c := ch.State()

		out := debugSession{
			Phase:         s.Phase,
			Authenticated: s.IsAuthenticated,
			Loading:       s.IsLoading,
			Channel:       c.Status.String(),
			Attempt:       c.Attempt,
			Store:         string(store),
		}
		if s.User != nil {
			out.User = &debugUser{ID: s.User.ID, Email: s.User.Email, Role: s.User.Role}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(out)
	})

	return r
}
