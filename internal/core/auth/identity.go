// Package auth holds the identity types shared by both UI systems, the
// presenter contract the synchronizer drives, and the simulated LINE Login
// flow that produces identities.
package auth

// Identity is the authenticated user's profile. It is persisted verbatim
// under the profile key.
type Identity struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// Valid reports whether the record carries the fields every reader relies on.
func (i Identity) Valid() bool {
	return i.UserID != ""
}

// Clone returns a heap copy, or nil for a nil receiver.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Event names carried on the dispatcher.
const (
	EventLogin       = "auth:login"
	EventLogout      = "auth:logout"
	EventStateChange = "auth:state_change"
)

// Snapshot is the {isLoggedIn, user} pair propagated between systems.
type Snapshot struct {
	LoggedIn bool      `json:"isLoggedIn"`
	User     *Identity `json:"user"`
}

// Anonymous is the logged-out snapshot.
func Anonymous() Snapshot { return Snapshot{} }

// Authenticated builds a logged-in snapshot for rec.
func Authenticated(rec Identity) Snapshot {
	return Snapshot{LoggedIn: true, User: &rec}
}

// Equal compares login flag and user id.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.LoggedIn != o.LoggedIn {
		return false
	}
	if (s.User == nil) != (o.User == nil) {
		return false
	}
	return s.User == nil || *s.User == *o.User
}
