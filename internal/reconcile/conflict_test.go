package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/rolewarden/internal/config"
	"github.com/terraconstructs/rolewarden/internal/platform"
)

func TestParseTieBreak(t *testing.T) {
	for _, s := range []string{"lowest-id", "highest-id", "group-order", "skip"} {
		tb, err := ParseTieBreak(s)
		require.NoError(t, err)
		assert.Equal(t, TieBreak(s), tb)
	}

	tb, err := ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, TieBreakLowestID, tb)

	_, err = ParseTieBreak("random")
	assert.Error(t, err)
}

func TestConflictResolver_SingleNewestRoleIsKept(t *testing.T) {
	r := NewConflictResolver(rankPolicy(t), TieBreakLowestID)

	conflicts, skipped := r.Resolve(roles(10), roles(10, 30), roles(10, 30))
	assert.Empty(t, skipped)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "rank", conflicts[0].Group)
	assert.Equal(t, platform.RoleID(30), conflicts[0].Keep)
	assert.Equal(t, roles(10), conflicts[0].Remove)
	assert.False(t, conflicts[0].TieBreak)
}

func TestConflictResolver_NoConflict(t *testing.T) {
	r := NewConflictResolver(rankPolicy(t), TieBreakLowestID)

	conflicts, skipped := r.Resolve(roles(5), roles(5, 20), roles(5, 20))
	assert.Empty(t, conflicts)
	assert.Empty(t, skipped)
}

func TestConflictResolver_UsesCandidateSet(t *testing.T) {
	r := NewConflictResolver(rankPolicy(t), TieBreakLowestID)

	// 20 was already stripped by an earlier stage.
	conflicts, _ := r.Resolve(roles(), roles(10, 20), roles(10))
	assert.Empty(t, conflicts)
}

func TestConflictResolver_TieBreaks(t *testing.T) {
	p := mustPolicy(t, config.PolicyConfig{ExclusiveGroups: []config.GroupConfig{
		{Name: "rank", Roles: []string{"30", "10", "20"}},
	}})

	tests := []struct {
		name       string
		tieBreak   TieBreak
		before     []platform.RoleID
		after      []platform.RoleID
		wantKeep   platform.RoleID
		wantRemove []platform.RoleID
		wantPool   []platform.RoleID
	}{
		{
			name:       "lowest id among newest",
			tieBreak:   TieBreakLowestID,
			after:      roles(20, 10),
			wantKeep:   10,
			wantRemove: roles(20),
			wantPool:   roles(10, 20),
		},
		{
			name:       "highest id among newest",
			tieBreak:   TieBreakHighestID,
			after:      roles(10, 20),
			wantKeep:   20,
			wantRemove: roles(10),
			wantPool:   roles(10, 20),
		},
		{
			name:       "group order among newest",
			tieBreak:   TieBreakGroupOrder,
			after:      roles(10, 30),
			wantKeep:   30,
			wantRemove: roles(10),
			wantPool:   roles(30, 10),
		},
		{
			name:       "pre-existing conflict without new role",
			tieBreak:   TieBreakLowestID,
			before:     roles(20, 30, 7),
			after:      roles(20, 30),
			wantKeep:   20,
			wantRemove: roles(30),
			wantPool:   roles(30, 20),
		},
		{
			name:       "newest roles only are candidates",
			tieBreak:   TieBreakLowestID,
			before:     roles(10),
			after:      roles(10, 20, 30),
			wantKeep:   20,
			wantRemove: roles(30, 10),
			wantPool:   roles(30, 20),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewConflictResolver(p, tt.tieBreak)
			conflicts, skipped := r.Resolve(tt.before, tt.after, tt.after)
			assert.Empty(t, skipped)
			require.Len(t, conflicts, 1)

			c := conflicts[0]
			assert.True(t, c.TieBreak)
			assert.Equal(t, tt.wantKeep, c.Keep)
			assert.Equal(t, tt.wantRemove, c.Remove)
			assert.Equal(t, tt.wantPool, c.Candidates)
		})
	}
}

func TestConflictResolver_SkipLeavesGroupUntouched(t *testing.T) {
	r := NewConflictResolver(rankPolicy(t), TieBreakSkip)

	conflicts, skipped := r.Resolve(roles(), roles(10, 20), roles(10, 20))
	assert.Empty(t, conflicts)
	require.Len(t, skipped, 1)
	assert.Equal(t, SkippedGroup{Group: "rank", Roles: roles(10, 20)}, skipped[0])

	// A single newest role never needs the tie-break.
	conflicts, skipped = r.Resolve(roles(10), roles(10, 20), roles(10, 20))
	assert.Empty(t, skipped)
	require.Len(t, conflicts, 1)
	assert.Equal(t, platform.RoleID(20), conflicts[0].Keep)
}

func TestConflictResolver_MultipleGroups(t *testing.T) {
	p := mustPolicy(t, config.PolicyConfig{ExclusiveGroups: []config.GroupConfig{
		{Name: "rank", Roles: []string{"10", "20"}},
		{Name: "color", Roles: []string{"40", "50"}},
	}})
	r := NewConflictResolver(p, TieBreakLowestID)

	conflicts, _ := r.Resolve(roles(10, 40), roles(10, 40, 20, 50), roles(10, 40, 20, 50))
	require.Len(t, conflicts, 2)
	assert.Equal(t, "rank", conflicts[0].Group)
	assert.Equal(t, platform.RoleID(20), conflicts[0].Keep)
	assert.Equal(t, "color", conflicts[1].Group)
	assert.Equal(t, platform.RoleID(50), conflicts[1].Keep)
}
