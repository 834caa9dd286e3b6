// Package session holds the process-wide authentication state. State changes
// only through Dispatch; persisting the signed-in user is a background side
// effect of the transition.
package session

import "github.com/miciudad/miciudad/internal/users"

// State is a snapshot of the session. Empty token strings mean absent.
type State struct {
	User          *users.User `json:"user"`
	Token         string      `json:"token,omitempty"`
	RefreshToken  string      `json:"refresh_token,omitempty"`
	Loading       bool        `json:"loading"`
	AssetsLoading bool        `json:"assets_loading"`
}

// InitialState returns the signed-out state every process starts from.
func InitialState() State {
	return State{}
}

// SignedIn reports whether a user is present.
func (s State) SignedIn() bool {
	return s.User != nil
}

// Clone returns a snapshot that shares nothing with s.
func (s State) Clone() State {
	s.User = s.User.Clone()
	return s
}

// Equal compares two states field by field, including the user's values.
func (s State) Equal(o State) bool {
	if s.Token != o.Token || s.RefreshToken != o.RefreshToken ||
		s.Loading != o.Loading || s.AssetsLoading != o.AssetsLoading {
		return false
	}
	switch {
	case s.User == nil && o.User == nil:
		return true
	case s.User == nil || o.User == nil:
		return false
	default:
		return *s.User == *o.User
	}
}
