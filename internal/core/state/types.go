package state

import (
	"slices"
	"time"

	"github.com/ivi39c/speaka-sub000/internal/core/auth"
)

type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

// ClassifyDevice maps a viewport width in CSS pixels to a DeviceType.
func ClassifyDevice(width int) DeviceType {
	switch {
	case width < 768:
		return DeviceMobile
	case width < 1024:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// Subscription is a user's plan subscription.
type Subscription struct {
	ID       string    `json:"id"`
	Plan     string    `json:"plan"`
	Status   string    `json:"status"`
	Seats    int       `json:"seats"`
	RenewsAt time.Time `json:"renewsAt"`
}

type Group struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

type Notification struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}

// State is the UI-facing application state. Values handed out by AppState
// are deep copies.
type State struct {
	IsLoggedIn    bool
	User          *auth.Identity
	CurrentPath   string
	SidebarOpen   bool
	IsLoading     bool
	IsOnline      bool
	DeviceType    DeviceType
	Subscriptions []Subscription
	Groups        []Group
	Notifications []Notification
}

// Default is the state of a fresh page load before hydration.
func Default() State {
	return State{
		CurrentPath:   "/",
		IsOnline:      true,
		DeviceType:    DeviceDesktop,
		Subscriptions: []Subscription{},
		Groups:        []Group{},
		Notifications: []Notification{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	c.User = s.User.Clone()
	// slices.Clone keeps empty lists non-nil, so they persist as [] not null.
	c.Subscriptions = slices.Clone(s.Subscriptions)
	c.Groups = slices.Clone(s.Groups)
	c.Notifications = slices.Clone(s.Notifications)
	return c
}

// Auth projects the identity pair.
func (s State) Auth() auth.Snapshot {
	if !s.IsLoggedIn || s.User == nil {
		return auth.Anonymous()
	}
	return auth.Authenticated(*s.User)
}

// persisted is the subset that survives a reload.
type persisted struct {
	User          *auth.Identity `json:"user"`
	IsLoggedIn    bool           `json:"isLoggedIn"`
	Subscriptions []Subscription `json:"subscriptions"`
	Groups        []Group        `json:"groups"`
}

func persistedFrom(s State) persisted {
	return persisted{
		User:          s.User,
		IsLoggedIn:    s.IsLoggedIn,
		Subscriptions: s.Subscriptions,
		Groups:        s.Groups,
	}
}

// Mutator changes some fields of a State. SetState applies mutators in order;
// fields no mutator touches keep their value.
type Mutator func(*State)

func WithLoggedIn(v bool) Mutator { return func(s *State) { s.IsLoggedIn = v } }

// WithUser sets the user; nil clears it.
func WithUser(rec *auth.Identity) Mutator {
	return func(s *State) { s.User = rec.Clone() }
}

// WithAuth sets both halves of the identity pair from snap.
func WithAuth(snap auth.Snapshot) Mutator {
	return func(s *State) {
		s.IsLoggedIn = snap.LoggedIn && snap.User != nil
		if s.IsLoggedIn {
			s.User = snap.User.Clone()
		} else {
			s.User = nil
		}
	}
}

func WithPath(path string) Mutator        { return func(s *State) { s.CurrentPath = path } }
func WithSidebar(open bool) Mutator       { return func(s *State) { s.SidebarOpen = open } }
func WithLoading(v bool) Mutator          { return func(s *State) { s.IsLoading = v } }
func WithOnline(v bool) Mutator           { return func(s *State) { s.IsOnline = v } }
func WithDeviceType(d DeviceType) Mutator { return func(s *State) { s.DeviceType = d } }

func WithSubscriptions(v []Subscription) Mutator {
	return func(s *State) { s.Subscriptions = append([]Subscription{}, v...) }
}

func WithGroups(v []Group) Mutator {
	return func(s *State) { s.Groups = append([]Group{}, v...) }
}

func WithNotifications(v []Notification) Mutator {
	return func(s *State) { s.Notifications = append([]Notification{}, v...) }
}
