package types_test

import (
	"errors"
	"testing"

	"github.com/sable-lang/sable/sberr"
	"github.com/sable-lang/sable/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCode(t *testing.T, err error, code sberr.ErrCode) {
	t.Helper()
	require.Error(t, err)
	var se sberr.Error
	require.True(t, errors.As(err, &se), "not an engine error: %v", err)
	assert.Equal(t, code, se.Code(), "wrong error code for: %v", err)
}

var i32 = types.CtorType{Head: "i32"}

func vec(elem types.Type) types.CtorType {
	return types.CtorType{Head: "Vec", Args: []types.GenericArg{elem}}
}

func TestRollbackRestoresBindings(t *testing.T) {
	store := types.NewStore()
	v := store.NewTypeVar(types.RootUniverse)

	snap := store.StartSnapshot()
	require.NoError(t, store.AssignType(v.ID, i32))
	resolved, ok := store.ResolveTypeVar(v.ID)
	require.True(t, ok)
	assert.True(t, types.Equal(resolved, i32))

	store.Rollback(snap)
	_, ok = store.ResolveTypeVar(v.ID)
	assert.False(t, ok)
}

func TestCommitKeepsBindings(t *testing.T) {
	store := types.NewStore()
	v := store.NewTypeVar(types.RootUniverse)

	snap := store.StartSnapshot()
	require.NoError(t, store.AssignType(v.ID, i32))
	store.Commit(snap)

	resolved, ok := store.ResolveTypeVar(v.ID)
	require.True(t, ok)
	assert.True(t, types.Equal(resolved, i32))
}

func TestRollbackRestoresUniverse(t *testing.T) {
	store := types.NewStore()
	assert.Equal(t, types.RootUniverse, store.Universe())

	snap := store.StartSnapshot()
	created := store.CreateNextUniverse()
	assert.Equal(t, types.RootUniverse.Next(), created)

	store.Rollback(snap)
	assert.Equal(t, types.RootUniverse, store.Universe())
}

func TestRollbackDropsConstraints(t *testing.T) {
	store := types.NewStore()
	snap := store.StartSnapshot()
	store.PushConstraint(types.FreeRegion{Name: "a"}, types.StaticRegion{})
	assert.Len(t, store.ConstraintsSince(snap), 1)

	store.Rollback(snap)
	assert.Empty(t, store.ConstraintsSince(snap))
}

func TestNestedSnapshots(t *testing.T) {
	store := types.NewStore()
	outer := store.NewTypeVar(types.RootUniverse)
	inner := store.NewTypeVar(types.RootUniverse)

	outerSnap := store.StartSnapshot()
	require.NoError(t, store.AssignType(outer.ID, i32))

	innerSnap := store.StartSnapshot()
	require.NoError(t, store.AssignType(inner.ID, vec(i32)))
	store.Rollback(innerSnap)

	_, ok := store.ResolveTypeVar(inner.ID)
	assert.False(t, ok, "inner assignment must roll back")

	store.Commit(outerSnap)
	resolved, ok := store.ResolveTypeVar(outer.ID)
	require.True(t, ok)
	assert.True(t, types.Equal(resolved, i32))
}

func TestSnapshotsCloseLIFO(t *testing.T) {
	store := types.NewStore()
	outer := store.StartSnapshot()
	inner := store.StartSnapshot()

	assert.Panics(t, func() { store.Commit(outer) })
	assert.NotPanics(t, func() { store.Commit(inner) })
}

func TestOccursCheck(t *testing.T) {
	store := types.NewStore()
	v := store.NewTypeVar(types.RootUniverse)

	err := store.AssignType(v.ID, vec(v))
	requireCode(t, err, sberr.OccursCheck)

	// the failed assignment must leave the variable unbound
	_, ok := store.ResolveTypeVar(v.ID)
	assert.False(t, ok)
}

func TestOccursCheckThroughChains(t *testing.T) {
	store := types.NewStore()
	a := store.NewTypeVar(types.RootUniverse)
	b := store.NewTypeVar(types.RootUniverse)

	require.NoError(t, store.AssignType(b.ID, vec(a)))
	err := store.AssignType(a.ID, vec(b))
	requireCode(t, err, sberr.OccursCheck)
}

func TestResolveDeep(t *testing.T) {
	store := types.NewStore()
	a := store.NewTypeVar(types.RootUniverse)
	b := store.NewTypeVar(types.RootUniverse)

	require.NoError(t, store.AssignType(a.ID, vec(b)))
	require.NoError(t, store.AssignType(b.ID, i32))

	resolved := store.ResolveDeep(vec(a))
	assert.True(t, types.Equal(resolved, vec(vec(i32))), "got %s", resolved)
}

func TestShallowResolveFollowsChains(t *testing.T) {
	store := types.NewStore()
	a := store.NewTypeVar(types.RootUniverse)
	b := store.NewTypeVar(types.RootUniverse)

	require.NoError(t, store.AssignType(a.ID, b))
	require.NoError(t, store.AssignType(b.ID, i32))
	assert.True(t, types.Equal(store.ShallowResolve(a), i32))
}
