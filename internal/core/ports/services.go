package ports

import (
	"context"

	"duocall/internal/core/domain"
)

// JoinResult describes the outcome of a join: who to acknowledge and which
// other members of the room should hear about the new arrival.
type JoinResult struct {
	Identity     domain.Identity
	ConnectionID domain.ConnectionID
	Room         domain.RoomID
	Others       []domain.ConnectionID
}

// Occupant is the answer to a room check.
type Occupant struct {
	Exists       bool
	ConnectionID domain.ConnectionID
	Identity     domain.Identity
}

// Departure describes a connection leaving: the identity it held and, per
// room it occupied, the members that remain and must be told the peer left.
type Departure struct {
	Identity  domain.Identity
	Remaining []domain.ConnectionID
}

// RegistryService is the identity/room registry. Every operation is a
// single critical section so the identity/connection pair updates stay
// atomic under concurrent websocket handlers.
type RegistryService interface {
	Join(ctx context.Context, identity domain.Identity, room domain.RoomID, conn domain.ConnectionID) (*JoinResult, error)
	CheckRoom(ctx context.Context, room domain.RoomID, self domain.ConnectionID) (*Occupant, error)
	Leave(ctx context.Context, conn domain.ConnectionID) (*Departure, error)
	RoomCount(ctx context.Context) int
}
