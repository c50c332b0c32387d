package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wastewise/cmd/internal/transport"
)

func TestAPI_MeAcceptsISOTimestamps(t *testing.T) {
	cases := map[string]time.Time{
		`"2026-10-19T10:00:00.123456"`: time.Date(2026, 10, 19, 10, 0, 0, 123456000, time.UTC),
		`"2026-10-19T10:00:00Z"`:       time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC),
		`"2026-10-19T11:00:00+01:00"`:  time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC),
		`null`:                         {},
	}

	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"u-1","email":"ada@example.com","role":"resident","created_at":` + raw + `}`))
			}))
			defer srv.Close()

			gw, err := transport.New(discardLogger(), srv.URL)
			require.NoError(t, err)

			user, err := NewAPI(gw, time.Second).Me(context.Background(), "tok-ada")
			require.NoError(t, err)
			require.Equal(t, "u-1", user.ID)
			require.True(t, want.Equal(user.CreatedAt.Time), "created_at=%v want %v", user.CreatedAt.Time, want)
		})
	}
}
