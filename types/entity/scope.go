package entity

// Scope narrows delivery to a single consumer identity. The zero value is
// the broadcast scope. Listener side and event side share the same type but
// the match predicate is asymmetric: an unscoped listener is a superset view
// (dashboards tailing a whole topic), a scoped listener only sees broadcast
// events plus events targeted at its own identity.
type Scope struct {
	targeted bool
	targetID string
}

func Broadcast() Scope {
	return Scope{}
}

func Target(id string) Scope {
	if id == "" {
		return Scope{}
	}
	return Scope{targeted: true, targetID: id}
}

func (s Scope) IsBroadcast() bool {
	return !s.targeted
}

// TargetID returns the identity and whether the scope is targeted at all.
func (s Scope) TargetID() (string, bool) {
	return s.targetID, s.targeted
}

// Matches is evaluated with s as the listener scope and event as the
// published event's scope.
func (s Scope) Matches(event Scope) bool {
	if !s.targeted {
		return true
	}
	if !event.targeted {
		return true
	}
	return s.targetID == event.targetID
}

// Key is the registry key component; empty for broadcast.
func (s Scope) Key() string {
	return s.targetID
}

func (s Scope) String() string {
	if !s.targeted {
		return "broadcast"
	}
	return "target:" + s.targetID
}
