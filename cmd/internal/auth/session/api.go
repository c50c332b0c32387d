package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"wastewise/cmd/internal/transport"
	"wastewise/shared/contracts/isotime"
)

// UserProfile is the identity snapshot returned by the profile endpoint.
// It is replaced wholesale on every fetch and never patched in place.
type UserProfile struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	Name      string       `json:"name"`
	Role      string       `json:"role"`
	Status    string       `json:"status,omitempty"`
	Phone     string       `json:"phone,omitempty"`
	Address   string       `json:"address,omitempty"`
	Points    int          `json:"points"`
	CreatedAt isotime.Time `json:"created_at"`
}

// Profile is the signup payload.
type Profile struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Backend is the subset of the remote API the session manager consumes.
type Backend interface {
	// Login exchanges an identifier/secret pair for a bearer token.
	Login(ctx context.Context, email, password string) (token string, err error)

	// Register creates an account. It does not start a session.
	Register(ctx context.Context, p Profile) error

	// Me fetches the profile for token. An empty token means "use the stored
	// credential", which lets the gateway report a rejection to its
	// auth-failure hook.
	Me(ctx context.Context, token string) (UserProfile, error)

	// Logout notifies the server that token is no longer in use.
	Logout(ctx context.Context, token string) error
}

// API implements Backend over the transport gateway.
type API struct {
	do      transport.Doer
	timeout time.Duration
}

// NewAPI returns a Backend issuing requests through do. timeout <= 0 keeps the
// gateway default.
func NewAPI(do transport.Doer, timeout time.Duration) *API {
	return &API{do: do, timeout: timeout}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (a *API) Login(ctx context.Context, email, password string) (string, error) {
	var out tokenResponse
	err := a.do.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "/auth/login",
		Body:    loginRequest{Email: email, Password: password},
		Timeout: a.timeout,
	}, &out)
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(out.AccessToken)
	if tok == "" {
		return "", &transport.Error{Class: transport.ClassServer, Status: http.StatusOK, Message: "missing access_token"}
	}
	return tok, nil
}

func (a *API) Register(ctx context.Context, p Profile) error {
	return a.do.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "/auth/register",
		Body:    p,
		Timeout: a.timeout,
	}, nil)
}

func (a *API) Me(ctx context.Context, token string) (UserProfile, error) {
	var out UserProfile
	err := a.do.Do(ctx, transport.Request{
		Method:        http.MethodGet,
		Path:          "/auth/me",
		Token:         token,
		Authenticated: token == "",
		Timeout:       a.timeout,
	}, &out)
	if err != nil {
		return UserProfile{}, err
	}
	if strings.TrimSpace(out.ID) == "" && strings.TrimSpace(out.Email) == "" {
		return UserProfile{}, &transport.Error{Class: transport.ClassServer, Status: http.StatusOK, Message: "empty profile"}
	}
	return out, nil
}

func (a *API) Logout(ctx context.Context, token string) error {
	return a.do.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/auth/logout",
		Token:  token,
	}, nil)
}
