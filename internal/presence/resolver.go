package presence

// A resolver tries to produce a stable identifier for one session. The
// chain is ordered by trust: an identifier carried in the published state
// beats the authenticated context, which beats the raw connection id. The
// connection-id fallback always succeeds, so every session resolves.
type resolver func(state State, authUserID, connID string) (string, bool)

var identityChain = []resolver{
	func(state State, _, _ string) (string, bool) {
		return state.UserID, state.UserID != ""
	},
	func(_ State, authUserID, _ string) (string, bool) {
		return authUserID, authUserID != ""
	},
	func(_ State, _, connID string) (string, bool) {
		return connID, true
	},
}

func resolveIdentity(state State, authUserID, connID string) string {
	for _, resolve := range identityChain {
		if id, ok := resolve(state, authUserID, connID); ok {
			return id
		}
	}
	return connID
}
