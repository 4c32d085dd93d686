package impersonation

import (
	"strconv"

	"github.com/linkdeck/linkdeck/internal/shared"
)

// State is the impersonation state of one session. The zero value is Normal.
type State struct {
	// OriginalID is the identity that began impersonating; zero when Normal.
	OriginalID int64
	// ActiveID is the identity requests run as.
	ActiveID int64
}

// Normal returns the state of a session acting as itself.
func Normal(activeID int64) State {
	return State{ActiveID: activeID}
}

// Impersonating reports whether the session acts as another identity.
func (s State) Impersonating() bool {
	return s.OriginalID != 0
}

// Begin moves a Normal state to Impersonating targetID. allowed carries the
// outcome of the actor's users.impersonate check.
func Begin(state State, actorID, targetID int64, allowed bool) (State, error) {
	switch {
	case !allowed:
		return state, shared.Denied("impersonation not permitted")
	case actorID == 0 || state.ActiveID != actorID:
		return state, shared.Denied("session does not belong to actor")
	case state.Impersonating():
		return state, shared.Denied("already impersonating")
	case targetID == 0:
		return state, shared.NewValidationError("user_id", "target is required")
	case targetID == actorID:
		return state, shared.Denied("cannot impersonate yourself")
	}
	return State{OriginalID: actorID, ActiveID: targetID}, nil
}

// End restores the original identity. ok is false when the state was Normal,
// in which case next equals state.
func End(state State) (restoreID int64, next State, ok bool) {
	if !state.Impersonating() {
		return 0, state, false
	}
	return state.OriginalID, Normal(state.OriginalID), true
}

// Store is the session storage a State lives in.
type Store interface {
	User() string
	SetUser(id string)
	Impersonator() string
	SetImpersonator(id string)
	ClearImpersonator()
	Regenerate()
}

// Load reads the State held by store.
func Load(store Store) State {
	return State{OriginalID: parseID(store.Impersonator()), ActiveID: parseID(store.User())}
}

// Save persists state into store and rotates the session id.
func Save(store Store, state State) {
	store.SetUser(formatID(state.ActiveID))
	if state.Impersonating() {
		store.SetImpersonator(formatID(state.OriginalID))
	} else {
		store.ClearImpersonator()
	}
	store.Regenerate()
}

func parseID(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

var _ Store = (*shared.Session)(nil)
