package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageKind_IsReserved(t *testing.T) {
	for _, k := range ReservedKinds {
		assert.True(t, k.IsReserved(), string(k))
	}
	assert.False(t, KindCustom.IsReserved())
	assert.False(t, KindReview.IsReserved())
}

func TestStageKind_Terminal(t *testing.T) {
	assert.True(t, KindCompleted.Terminal())
	assert.True(t, KindArchived.Terminal())
	assert.False(t, KindBacklog.Terminal())
	assert.False(t, KindReview.Terminal())
}

func TestTask_PrimaryAssignee(t *testing.T) {
	task := &Task{}
	assert.Nil(t, task.PrimaryAssignee())

	task.AssignedUsers = []TaskAssignee{
		{UserID: "u1", Status: AssigneePending},
		{UserID: "u2", Status: AssigneeComplete},
	}
	assert.Equal(t, "u1", task.PrimaryAssignee().UserID)
	assert.Equal(t, 1, task.AssigneeIndex("u2"))
	assert.Equal(t, -1, task.AssigneeIndex("u3"))
}

func TestCompletionPayload_Empty(t *testing.T) {
	var p *CompletionPayload
	assert.True(t, p.Empty())
	assert.True(t, (&CompletionPayload{}).Empty())
	assert.False(t, (&CompletionPayload{Comment: "done"}).Empty())
	assert.False(t, (&CompletionPayload{Links: []CompletionLink{{Name: "pr", URL: "https://x"}}}).Empty())
}

func TestRole_AtLeast(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleOperator))
	assert.True(t, RoleOperator.AtLeast(RoleOperator))
	assert.False(t, RoleReadOnly.AtLeast(RoleOperator))
	assert.True(t, RoleSystem.AtLeast(RoleOperator))
	assert.False(t, Role("unknown").AtLeast(RoleReadOnly))
}

func TestActor_CanApprove(t *testing.T) {
	assert.True(t, SystemActor.CanApprove())
	assert.False(t, Actor{ID: "viewer", Role: RoleReadOnly}.CanApprove())
	assert.True(t, Actor{ID: "op", Role: RoleOperator}.CanApprove())
}
