package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/pkg/validation"

	"go.uber.org/zap"
)

// RegistryService tracks which connection belongs to which room and which
// identity owns which connection. A single mutex spans every operation so
// the identity maps and the room index never disagree.
type RegistryService struct {
	repo ports.RegistryRepository
	mu   sync.Mutex

	logger *zap.SugaredLogger
}

func NewRegistryService(repo ports.RegistryRepository, logger *zap.SugaredLogger) *RegistryService {
	return &RegistryService{
		repo:   repo,
		logger: logger,
	}
}

// Join binds the identity to the connection (last writer wins for the same
// identity) and adds the connection to the room. The returned JoinResult
// names the room's other members so the caller can broadcast the arrival
// and ack the joiner.
func (s *RegistryService) Join(ctx context.Context, identity domain.Identity, room domain.RoomID, conn domain.ConnectionID) (*ports.JoinResult, error) {
	identity = domain.Identity(strings.TrimSpace(string(identity)))
	if err := validation.ValidateIdentity(string(identity)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := validation.ValidateRoomID(string(room)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if conn == "" {
		return nil, fmt.Errorf("%w: empty connection id", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.BindIdentity(ctx, identity, conn); err != nil {
		return nil, fmt.Errorf("bind identity: %w", err)
	}
	if err := s.repo.AddToRoom(ctx, room, conn); err != nil {
		return nil, fmt.Errorf("add to room: %w", err)
	}

	r, err := s.repo.GetRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}

	s.logger.Infow("connection joined room",
		"identity", identity,
		"room", room,
		"connection_id", conn,
		"members", r.Size(),
	)

	return &ports.JoinResult{
		Identity:     identity,
		ConnectionID: conn,
		Room:         room,
		Others:       r.OtherMembers(conn),
	}, nil
}

// CheckRoom reports whether another member besides self occupies the room.
// With more than two members the first other member in insertion order is
// chosen.
func (s *RegistryService) CheckRoom(ctx context.Context, room domain.RoomID, self domain.ConnectionID) (*ports.Occupant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.repo.GetRoom(ctx, room)
	if err != nil {
		if err == domain.ErrRoomNotFound {
			return &ports.Occupant{Exists: false}, nil
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	other, ok := r.OtherMember(self)
	if !ok {
		return &ports.Occupant{Exists: false}, nil
	}

	identity, err := s.repo.IdentityOf(ctx, other)
	if err != nil && err != domain.ErrConnectionNotFound {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}

	return &ports.Occupant{
		Exists:       true,
		ConnectionID: other,
		Identity:     identity,
	}, nil
}

// Leave removes the connection's identity mappings and its room
// memberships. The returned Departure lists the members that remain in the
// rooms it left so the relay can tell them the peer is gone.
func (s *RegistryService) Leave(ctx context.Context, conn domain.ConnectionID) (*ports.Departure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.repo.UnbindConnection(ctx, conn)
	if err != nil && err != domain.ErrConnectionNotFound {
		return nil, fmt.Errorf("unbind connection: %w", err)
	}

	rooms, err := s.repo.RemoveFromRooms(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("remove from rooms: %w", err)
	}

	dep := &ports.Departure{Identity: identity}
	for _, r := range rooms {
		dep.Remaining = append(dep.Remaining, r.Members()...)
	}

	s.logger.Infow("connection left",
		"identity", identity,
		"connection_id", conn,
		"rooms_left", len(rooms),
		"peers_to_notify", len(dep.Remaining),
	)

	return dep, nil
}

func (s *RegistryService) RoomCount(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.repo.CountRooms(ctx)
	if err != nil {
		s.logger.Warnw("room count failed", "error", err)
		return 0
	}
	return n
}
