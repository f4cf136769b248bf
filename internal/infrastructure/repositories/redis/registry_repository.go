package redis

import (
	"context"
	"fmt"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRegistryRepository stores the identity maps as plain keys and room
// membership as Redis lists, which preserve insertion order the same way
// the in-memory member slice does.
type RedisRegistryRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRegistryRepository(client *redis.Client) ports.RegistryRepository {
	return &RedisRegistryRepository{
		client: client,
		prefix: "duocall:",
	}
}

func (r *RedisRegistryRepository) identityKey(identity domain.Identity) string {
	return r.prefix + "identity:" + string(identity)
}

func (r *RedisRegistryRepository) connKey(conn domain.ConnectionID) string {
	return r.prefix + "conn:" + string(conn)
}

func (r *RedisRegistryRepository) connRoomsKey(conn domain.ConnectionID) string {
	return r.prefix + "conn:" + string(conn) + ":rooms"
}

func (r *RedisRegistryRepository) roomKey(room domain.RoomID) string {
	return r.prefix + "room:" + string(room) + ":members"
}

func (r *RedisRegistryRepository) roomsKey() string {
	return r.prefix + "rooms"
}

func (r *RedisRegistryRepository) BindIdentity(ctx context.Context, identity domain.Identity, conn domain.ConnectionID) error {
	// Displace the old connection's reverse mapping on identity reuse.
	old, err := r.client.Get(ctx, r.identityKey(identity)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read identity mapping: %w", err)
	}
	if err == nil && old != string(conn) {
		if err := r.client.Del(ctx, r.connKey(domain.ConnectionID(old))).Err(); err != nil {
			return fmt.Errorf("failed to delete stale connection mapping: %w", err)
		}
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.identityKey(identity), string(conn), 0)
	pipe.Set(ctx, r.connKey(conn), string(identity), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bind identity: %w", err)
	}
	return nil
}

func (r *RedisRegistryRepository) IdentityOf(ctx context.Context, conn domain.ConnectionID) (domain.Identity, error) {
	identity, err := r.client.Get(ctx, r.connKey(conn)).Result()
	if err == redis.Nil {
		return "", domain.ErrConnectionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get identity from Redis: %w", err)
	}
	return domain.Identity(identity), nil
}

func (r *RedisRegistryRepository) UnbindConnection(ctx context.Context, conn domain.ConnectionID) (domain.Identity, error) {
	identity, err := r.IdentityOf(ctx, conn)
	if err != nil {
		return "", err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.connKey(conn))
	// Only clear the forward mapping if it still points at this connection.
	current, getErr := r.client.Get(ctx, r.identityKey(identity)).Result()
	if getErr == nil && current == string(conn) {
		pipe.Del(ctx, r.identityKey(identity))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to unbind connection: %w", err)
	}
	return identity, nil
}

func (r *RedisRegistryRepository) AddToRoom(ctx context.Context, room domain.RoomID, conn domain.ConnectionID) error {
	// Drop any existing entry first so a rejoin does not duplicate the
	// member while keeping the list insertion-ordered.
	pipe := r.client.TxPipeline()
	pipe.LRem(ctx, r.roomKey(room), 0, string(conn))
	pipe.RPush(ctx, r.roomKey(room), string(conn))
	pipe.SAdd(ctx, r.roomsKey(), string(room))
	pipe.SAdd(ctx, r.connRoomsKey(conn), string(room))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add connection to room: %w", err)
	}
	return nil
}

func (r *RedisRegistryRepository) RemoveFromRooms(ctx context.Context, conn domain.ConnectionID) ([]*domain.Room, error) {
	roomIDs, err := r.client.SMembers(ctx, r.connRoomsKey(conn)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list connection rooms: %w", err)
	}

	var left []*domain.Room
	for _, id := range roomIDs {
		room := domain.RoomID(id)
		if err := r.client.LRem(ctx, r.roomKey(room), 0, string(conn)).Err(); err != nil {
			return nil, fmt.Errorf("failed to remove member from room %s: %w", room, err)
		}

		rm, err := r.GetRoom(ctx, room)
		if err == domain.ErrRoomNotFound {
			// Last member gone, the room list no longer exists.
			rm = domain.NewRoom(room)
		} else if err != nil {
			return nil, err
		}
		left = append(left, rm)

		if rm.Empty() {
			if err := r.client.SRem(ctx, r.roomsKey(), string(room)).Err(); err != nil {
				return nil, fmt.Errorf("failed to drop empty room %s: %w", room, err)
			}
		}
	}

	if err := r.client.Del(ctx, r.connRoomsKey(conn)).Err(); err != nil {
		return nil, fmt.Errorf("failed to clear connection rooms: %w", err)
	}
	return left, nil
}

func (r *RedisRegistryRepository) GetRoom(ctx context.Context, room domain.RoomID) (*domain.Room, error) {
	members, err := r.client.LRange(ctx, r.roomKey(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room members: %w", err)
	}
	if len(members) == 0 {
		return nil, domain.ErrRoomNotFound
	}

	rm := domain.NewRoom(room)
	for _, m := range members {
		rm.AddMember(domain.ConnectionID(m))
	}
	return rm, nil
}

func (r *RedisRegistryRepository) CountRooms(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.roomsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count rooms: %w", err)
	}
	return int(n), nil
}
