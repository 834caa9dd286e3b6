package session

// Reduce applies a to state. It is pure: persistence is decided separately
// by the store.
func Reduce(state State, a Action) State {
	switch act := normalize(a).(type) {
	case SignIn:
		state.User = act.User.Clone()
		state.Token = act.Token
		state.RefreshToken = act.RefreshToken
		return state
	case SignOut:
		return InitialState()
	case SetUser:
		state.User = act.User.Clone()
		return state
	case SetToken:
		state.Token = act.Token
		return state
	case SetLoading:
		state.Loading = act.Loading
		return state
	case SetAssetsLoading:
		state.AssetsLoading = act.Loading
		return state
	default:
		return state
	}
}
