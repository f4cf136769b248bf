package ports

import (
	"context"

	"duocall/internal/core/domain"
)

// RegistryRepository persists the identity maps and the room membership
// index. Implementations must keep per-room member enumeration in insertion
// order so occupant selection is deterministic.
type RegistryRepository interface {
	// BindIdentity records both directions of the identity/connection
	// mapping, overwriting any prior connection for the same identity.
	BindIdentity(ctx context.Context, identity domain.Identity, conn domain.ConnectionID) error
	// IdentityOf returns the identity bound to the connection.
	IdentityOf(ctx context.Context, conn domain.ConnectionID) (domain.Identity, error)
	// UnbindConnection removes both identity-map entries for the connection
	// and returns the identity that was bound to it.
	UnbindConnection(ctx context.Context, conn domain.ConnectionID) (domain.Identity, error)

	// AddToRoom adds the connection to the room, creating the room on first
	// join.
	AddToRoom(ctx context.Context, room domain.RoomID, conn domain.ConnectionID) error
	// RemoveFromRooms drops the connection from every room it occupies and
	// returns the rooms it left, with membership as it stands after
	// removal. Rooms whose membership reaches zero are deleted.
	RemoveFromRooms(ctx context.Context, conn domain.ConnectionID) ([]*domain.Room, error)
	// GetRoom returns the room with its current membership.
	GetRoom(ctx context.Context, room domain.RoomID) (*domain.Room, error)
	// CountRooms returns the number of live rooms.
	CountRooms(ctx context.Context) (int, error)
}
