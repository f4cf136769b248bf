package memory

import (
	"context"
	"sync"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
)

// MemoryRegistryRepository keeps the identity maps and room index in
// process memory. Room membership keeps insertion order via the domain.Room
// member slice.
type MemoryRegistryRepository struct {
	identityToConn map[domain.Identity]domain.ConnectionID
	connToIdentity map[domain.ConnectionID]domain.Identity
	rooms          map[domain.RoomID]*domain.Room
	mu             sync.RWMutex
}

func NewMemoryRegistryRepository() ports.RegistryRepository {
	return &MemoryRegistryRepository{
		identityToConn: make(map[domain.Identity]domain.ConnectionID),
		connToIdentity: make(map[domain.ConnectionID]domain.Identity),
		rooms:          make(map[domain.RoomID]*domain.Room),
	}
}

func (r *MemoryRegistryRepository) BindIdentity(ctx context.Context, identity domain.Identity, conn domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Last writer wins: a later join for the same identity displaces the
	// old connection's reverse mapping as well.
	if old, ok := r.identityToConn[identity]; ok && old != conn {
		delete(r.connToIdentity, old)
	}
	r.identityToConn[identity] = conn
	r.connToIdentity[conn] = identity
	return nil
}

func (r *MemoryRegistryRepository) IdentityOf(ctx context.Context, conn domain.ConnectionID) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.connToIdentity[conn]
	if !ok {
		return "", domain.ErrConnectionNotFound
	}
	return identity, nil
}

func (r *MemoryRegistryRepository) UnbindConnection(ctx context.Context, conn domain.ConnectionID) (domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.connToIdentity[conn]
	if !ok {
		return "", domain.ErrConnectionNotFound
	}
	delete(r.connToIdentity, conn)
	if r.identityToConn[identity] == conn {
		delete(r.identityToConn, identity)
	}
	return identity, nil
}

func (r *MemoryRegistryRepository) AddToRoom(ctx context.Context, room domain.RoomID, conn domain.ConnectionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[room]
	if !ok {
		rm = domain.NewRoom(room)
		r.rooms[room] = rm
	}
	rm.AddMember(conn)
	return nil
}

func (r *MemoryRegistryRepository) RemoveFromRooms(ctx context.Context, conn domain.ConnectionID) ([]*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []*domain.Room
	for id, rm := range r.rooms {
		if !rm.HasMember(conn) {
			continue
		}
		rm.RemoveMember(conn)
		left = append(left, rm)
		if rm.Empty() {
			delete(r.rooms, id)
		}
	}
	return left, nil
}

func (r *MemoryRegistryRepository) GetRoom(ctx context.Context, room domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[room]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	// Copy so callers never observe later mutations.
	out := domain.NewRoom(rm.ID)
	for _, m := range rm.Members() {
		out.AddMember(m)
	}
	return out, nil
}

func (r *MemoryRegistryRepository) CountRooms(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), nil
}
