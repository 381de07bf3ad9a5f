package auth

// AuthUIPresenter is the capability the synchronizer needs from any UI
// system it pushes state into. Implementations only render; they must not
// report the call back as a user-initiated transition.
type AuthUIPresenter interface {
	ShowAuthenticated(rec Identity)
	ShowAnonymous()
}

// Transition names the state a UI entered on its own initiative.
type Transition uint8

const (
	TransitionAnonymous Transition = iota
	TransitionAuthenticated
)

func (t Transition) String() string {
	if t == TransitionAuthenticated {
		return "authenticated"
	}
	return "anonymous"
}

// TransitionHook observes a UI transition after it has been rendered.
// rec is nil for TransitionAnonymous.
type TransitionHook func(t Transition, rec *Identity)
