package domain

// ConnectionID is the transport-session identifier assigned by the server
// for the lifetime of one client session.
type ConnectionID string

// Identity is the user-supplied display label. It is not authenticated and
// is used only for display and the reverse lookup keyed by ConnectionID.
type Identity string

// RoomID is the pairing key chosen by clients to find each other.
type RoomID string

// Room tracks which connections currently occupy a logical room. Membership
// keeps insertion order so occupant selection stays deterministic when more
// than two connections pile into the same room.
type Room struct {
	ID      RoomID
	members []ConnectionID
}

func NewRoom(id RoomID) *Room {
	return &Room{ID: id}
}

// AddMember appends the connection to the membership unless it is already
// present.
func (r *Room) AddMember(conn ConnectionID) {
	for _, m := range r.members {
		if m == conn {
			return
		}
	}
	r.members = append(r.members, conn)
}

// RemoveMember drops the connection from the membership, preserving the
// insertion order of the remaining members.
func (r *Room) RemoveMember(conn ConnectionID) {
	for i, m := range r.members {
		if m == conn {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return
		}
	}
}

// HasMember reports whether the connection currently occupies the room.
func (r *Room) HasMember(conn ConnectionID) bool {
	for _, m := range r.members {
		if m == conn {
			return true
		}
	}
	return false
}

// OtherMember returns the first member in insertion order that is not self.
func (r *Room) OtherMember(self ConnectionID) (ConnectionID, bool) {
	for _, m := range r.members {
		if m != self {
			return m, true
		}
	}
	return "", false
}

// OtherMembers returns every member except self, in insertion order.
func (r *Room) OtherMembers(self ConnectionID) []ConnectionID {
	var others []ConnectionID
	for _, m := range r.members {
		if m != self {
			others = append(others, m)
		}
	}
	return others
}

// Members returns a copy of the membership in insertion order.
func (r *Room) Members() []ConnectionID {
	out := make([]ConnectionID, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Room) Size() int { return len(r.members) }

// Empty reports whether the room has no members left and is eligible for
// deletion by the registry.
func (r *Room) Empty() bool { return len(r.members) == 0 }
