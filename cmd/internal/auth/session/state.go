package session

// Phase is the session-level state machine position.
type Phase string

const (
	PhaseUnknown         Phase = "unknown"
	PhaseLoading         Phase = "loading"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseUnauthenticated Phase = "unauthenticated"
)

// State is the observable session snapshot.
//
// Invariant: IsAuthenticated == (User != nil). IsLoading is true only while
// bootstrap or a login/signup/refresh is outstanding.
type State struct {
	User            *UserProfile
	IsAuthenticated bool
	IsLoading       bool
	Phase           Phase
}

func unknownState() State {
	return State{Phase: PhaseUnknown}
}

func unauthenticatedState() State {
	return State{Phase: PhaseUnauthenticated}
}

func authenticatedState(u UserProfile) State {
	return State{User: &u, IsAuthenticated: true, Phase: PhaseAuthenticated}
}

// loading keeps the current identity and marks an operation in flight.
func (s State) loading() State {
	s.IsLoading = true
	s.Phase = PhaseLoading
	return s
}

// settled clears IsLoading and recomputes Phase from the identity.
func (s State) settled() State {
	s.IsLoading = false
	switch {
	case s.User != nil:
		s.IsAuthenticated = true
		s.Phase = PhaseAuthenticated
	case s.Phase == PhaseUnknown:
	default:
		s.IsAuthenticated = false
		s.Phase = PhaseUnauthenticated
	}
	return s
}
