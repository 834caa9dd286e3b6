package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/miciudad/miciudad/internal/users"
)

// ActionKind names an action on the wire.
type ActionKind string

// Recognised action kinds.
const (
	KindSignIn           ActionKind = "SIGN_IN"
	KindSignOut          ActionKind = "SIGN_OUT"
	KindSetUser          ActionKind = "SET_USER"
	KindSetToken         ActionKind = "SET_TOKEN"
	KindSetLoading       ActionKind = "SET_LOADING"
	KindSetAssetsLoading ActionKind = "SET_ASSETS_LOADING"
)

// Accepted spellings from older clients.
var kindAliases = map[string]ActionKind{
	"LOGIN":  KindSignIn,
	"LOGOUT": KindSignOut,
}

// ErrInvalidPayload is returned when an action payload is missing required fields.
var ErrInvalidPayload = errors.New("session: invalid action payload")

// Action is a message accepted by Dispatch. Each variant carries only the
// fields its transition needs.
type Action interface {
	Kind() ActionKind
}

// SignIn stores the authenticated user and tokens, persisting the user.
type SignIn struct {
	User         *users.User `json:"user"`
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
}

// SignOut resets the session and removes the persisted user.
type SignOut struct{}

// SetUser replaces the user. Startup restoration uses it.
type SetUser struct {
	User *users.User `json:"user"`
}

// SetToken replaces the access token.
type SetToken struct {
	Token string `json:"token"`
}

// SetLoading toggles the loading flag.
type SetLoading struct {
	Loading bool `json:"loading"`
}

// SetAssetsLoading toggles the assets loading flag.
type SetAssetsLoading struct {
	Loading bool `json:"loading"`
}

// Unrecognized carries a kind the store does not know. The reducer ignores it.
type Unrecognized struct {
	Type string
}

func (SignIn) Kind() ActionKind           { return KindSignIn }
func (SignOut) Kind() ActionKind          { return KindSignOut }
func (SetUser) Kind() ActionKind          { return KindSetUser }
func (SetToken) Kind() ActionKind         { return KindSetToken }
func (SetLoading) Kind() ActionKind       { return KindSetLoading }
func (SetAssetsLoading) Kind() ActionKind { return KindSetAssetsLoading }
func (u Unrecognized) Kind() ActionKind   { return ActionKind(u.Type) }

// Validate checks that a's payload is complete.
func Validate(a Action) error {
	switch act := normalize(a).(type) {
	case SignIn:
		if err := users.Validate(act.User); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		var missing []string
		if act.Token == "" {
			missing = append(missing, "token")
		}
		if act.RefreshToken == "" {
			missing = append(missing, "refreshToken")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
		}
	case SetUser:
		if err := users.Validate(act.User); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	case nil:
		return fmt.Errorf("%w: nil action", ErrInvalidPayload)
	}
	return nil
}

type flagPayload struct {
	Loading *bool `json:"loading"`
}

// An empty token clears the access token; an absent one is malformed.
type tokenPayload struct {
	Token *string `json:"token"`
}

// DecodeAction builds a typed action from a loosely typed {type, payload}
// message. Unknown kinds decode to Unrecognized; malformed payloads of known
// kinds are rejected.
func DecodeAction(kind string, payload json.RawMessage) (Action, error) {
	k := ActionKind(strings.ToUpper(strings.TrimSpace(kind)))
	if alias, ok := kindAliases[string(k)]; ok {
		k = alias
	}

	var action Action
	switch k {
	case KindSignOut:
		return SignOut{}, nil
	case KindSignIn:
		var a SignIn
		if err := decodePayload(payload, &a); err != nil {
			return nil, err
		}
		action = a
	case KindSetUser:
		var a SetUser
		if err := decodePayload(payload, &a); err != nil {
			return nil, err
		}
		action = a
	case KindSetToken:
		var p tokenPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Token == nil {
			return nil, fmt.Errorf("%w: missing token", ErrInvalidPayload)
		}
		return SetToken{Token: *p.Token}, nil
	case KindSetLoading, KindSetAssetsLoading:
		var p flagPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Loading == nil {
			return nil, fmt.Errorf("%w: missing loading", ErrInvalidPayload)
		}
		if k == KindSetLoading {
			return SetLoading{Loading: *p.Loading}, nil
		}
		return SetAssetsLoading{Loading: *p.Loading}, nil
	default:
		return Unrecognized{Type: kind}, nil
	}
	if err := Validate(action); err != nil {
		return nil, err
	}
	return action, nil
}

func decodePayload(payload json.RawMessage, target any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return fmt.Errorf("%w: payload required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// normalize dereferences pointer variants so callers may pass either form.
func normalize(a Action) Action {
	switch act := a.(type) {
	case *SignIn:
		if act != nil {
			return *act
		}
	case *SignOut:
		if act != nil {
			return *act
		}
	case *SetUser:
		if act != nil {
			return *act
		}
	case *SetToken:
		if act != nil {
			return *act
		}
	case *SetLoading:
		if act != nil {
			return *act
		}
	case *SetAssetsLoading:
		if act != nil {
			return *act
		}
	}
	return a
}
