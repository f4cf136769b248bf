package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoom_MembershipKeepsInsertionOrder(t *testing.T) {
	room := NewRoom("standup")

	room.AddMember("conn-a")
	room.AddMember("conn-b")
	room.AddMember("conn-c")

	assert.Equal(t, []ConnectionID{"conn-a", "conn-b", "conn-c"}, room.Members())
	assert.Equal(t, 3, room.Size())
}

func TestRoom_AddMemberIsIdempotent(t *testing.T) {
	room := NewRoom("standup")

	room.AddMember("conn-a")
	room.AddMember("conn-a")

	assert.Equal(t, 1, room.Size())
}

func TestRoom_RemoveMemberPreservesOrder(t *testing.T) {
	room := NewRoom("standup")
	room.AddMember("conn-a")
	room.AddMember("conn-b")
	room.AddMember("conn-c")

	room.RemoveMember("conn-b")

	assert.Equal(t, []ConnectionID{"conn-a", "conn-c"}, room.Members())
	assert.False(t, room.HasMember("conn-b"))
}

func TestRoom_OtherMemberPicksFirstInInsertionOrder(t *testing.T) {
	room := NewRoom("standup")
	room.AddMember("conn-a")
	room.AddMember("conn-b")
	room.AddMember("conn-c")

	other, ok := room.OtherMember("conn-b")
	assert.True(t, ok)
	assert.Equal(t, ConnectionID("conn-a"), other)

	other, ok = room.OtherMember("conn-a")
	assert.True(t, ok)
	assert.Equal(t, ConnectionID("conn-b"), other)
}

func TestRoom_OtherMemberAloneInRoom(t *testing.T) {
	room := NewRoom("standup")
	room.AddMember("conn-a")

	_, ok := room.OtherMember("conn-a")
	assert.False(t, ok)
}

func TestRoom_EmptyAfterLastMemberLeaves(t *testing.T) {
	room := NewRoom("standup")
	room.AddMember("conn-a")
	room.RemoveMember("conn-a")

	assert.True(t, room.Empty())
}

func TestRoom_OtherMembersExcludesSelf(t *testing.T) {
	room := NewRoom("standup")
	room.AddMember("conn-a")
	room.AddMember("conn-b")
	room.AddMember("conn-c")

	assert.Equal(t, []ConnectionID{"conn-a", "conn-c"}, room.OtherMembers("conn-b"))
}

func TestRoom_MembersReturnsCopy(t *testing.T) {
	room := NewRoom("standup")
	room.AddMember("conn-a")

	members := room.Members()
	members[0] = "mutated"

	assert.Equal(t, []ConnectionID{"conn-a"}, room.Members())
}
