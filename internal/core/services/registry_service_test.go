package services_test

import (
	"context"
	"testing"

	"duocall/internal/core/domain"
	"duocall/internal/core/services"
	"duocall/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newService() *services.RegistryService {
	repo := memory.NewMemoryRegistryRepository()
	return services.NewRegistryService(repo, zap.NewNop().Sugar())
}

func TestJoin_FirstMemberSeesNoOthers(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	res, err := svc.Join(ctx, "alice", "room-1", "conn-a")
	assert.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), res.Identity)
	assert.Equal(t, domain.ConnectionID("conn-a"), res.ConnectionID)
	assert.Empty(t, res.Others)
}

func TestJoin_SecondMemberSeesTheFirst(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "alice", "room-1", "conn-a")
	assert.NoError(t, err)

	res, err := svc.Join(ctx, "bob", "room-1", "conn-b")
	assert.NoError(t, err)
	assert.Equal(t, []domain.ConnectionID{"conn-a"}, res.Others)
}

func TestJoin_RejectsInvalidInput(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "", "room-1", "conn-a")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Join(ctx, "alice", "no spaces allowed", "conn-a")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Join(ctx, "alice", "room-1", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestJoin_SameIdentityLastWriterWins(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "alice", "room-1", "conn-a1")
	assert.NoError(t, err)
	_, err = svc.Join(ctx, "alice", "room-1", "conn-a2")
	assert.NoError(t, err)

	// Newest binding owns the identity; the older connection keeps its room
	// membership but loses the reverse lookup.
	occ, err := svc.CheckRoom(ctx, "room-1", "conn-a2")
	assert.NoError(t, err)
	assert.True(t, occ.Exists)
	assert.Equal(t, domain.ConnectionID("conn-a1"), occ.ConnectionID)
	assert.Equal(t, domain.Identity(""), occ.Identity)
}

func TestCheckRoom_UnknownRoomReportsNoOccupant(t *testing.T) {
	svc := newService()

	occ, err := svc.CheckRoom(context.Background(), "nowhere", "conn-a")
	assert.NoError(t, err)
	assert.False(t, occ.Exists)
}

func TestCheckRoom_OwnMembershipDoesNotCount(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "alice", "room-1", "conn-a")
	assert.NoError(t, err)

	occ, err := svc.CheckRoom(ctx, "room-1", "conn-a")
	assert.NoError(t, err)
	assert.False(t, occ.Exists)
}

func TestCheckRoom_ReportsOtherOccupantWithIdentity(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "alice", "room-1", "conn-a")
	assert.NoError(t, err)

	occ, err := svc.CheckRoom(ctx, "room-1", "conn-b")
	assert.NoError(t, err)
	assert.True(t, occ.Exists)
	assert.Equal(t, domain.ConnectionID("conn-a"), occ.ConnectionID)
	assert.Equal(t, domain.Identity("alice"), occ.Identity)
}

func TestCheckRoom_PicksFirstOtherMemberDeterministically(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	for _, m := range []struct {
		identity domain.Identity
		conn     domain.ConnectionID
	}{
		{"alice", "conn-a"},
		{"bob", "conn-b"},
		{"carol", "conn-c"},
	} {
		_, err := svc.Join(ctx, m.identity, "room-1", m.conn)
		assert.NoError(t, err)
	}

	occ, err := svc.CheckRoom(ctx, "room-1", "conn-c")
	assert.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("conn-a"), occ.ConnectionID)

	occ, err = svc.CheckRoom(ctx, "room-1", "conn-a")
	assert.NoError(t, err)
	assert.Equal(t, domain.ConnectionID("conn-b"), occ.ConnectionID)
}

func TestLeave_ReportsRemainingMembersAndIdentity(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "alice", "room-1", "conn-a")
	assert.NoError(t, err)
	_, err = svc.Join(ctx, "bob", "room-1", "conn-b")
	assert.NoError(t, err)

	dep, err := svc.Leave(ctx, "conn-a")
	assert.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), dep.Identity)
	assert.Equal(t, []domain.ConnectionID{"conn-b"}, dep.Remaining)
}

func TestLeave_LastMemberDeletesRoom(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "alice", "room-1", "conn-a")
	assert.NoError(t, err)
	assert.Equal(t, 1, svc.RoomCount(ctx))

	dep, err := svc.Leave(ctx, "conn-a")
	assert.NoError(t, err)
	assert.Empty(t, dep.Remaining)
	assert.Equal(t, 0, svc.RoomCount(ctx))
}

func TestLeave_UnknownConnectionIsHarmless(t *testing.T) {
	svc := newService()

	dep, err := svc.Leave(context.Background(), "conn-ghost")
	assert.NoError(t, err)
	assert.Empty(t, dep.Remaining)
}

func TestJoin_IdentityRebindFreesNothingElse(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "alice", "room-1", "conn-a")
	assert.NoError(t, err)
	_, err = svc.Join(ctx, "alice", "room-2", "conn-z")
	assert.NoError(t, err)

	// Rebinding the identity does not evict conn-a from room-1.
	occ, err := svc.CheckRoom(ctx, "room-1", "conn-x")
	assert.NoError(t, err)
	assert.True(t, occ.Exists)
	assert.Equal(t, domain.ConnectionID("conn-a"), occ.ConnectionID)
}
