package types_test

import (
	"testing"

	"github.com/sable-lang/sable/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEnv = types.ParamEnv{Reveal: types.RevealAll, Name: "test"}

func TestCanonicalizeQuotientsVarIdentity(t *testing.T) {
	sess := types.NewSession(types.Config{})
	a := sess.Store().NewTypeVar(types.RootUniverse)
	b := sess.Store().NewTypeVar(types.RootUniverse)
	require.NotEqual(t, a.ID, b.ID)

	ca := sess.Canonicalize(vec(a), testEnv, types.CanonQuery)
	cb := sess.Canonicalize(vec(b), testEnv, types.CanonQuery)
	assert.Equal(t, ca.Key, cb.Key, "distinct free variables must canonicalize alike")
	assert.True(t, types.Equal(ca.Value, cb.Value))
}

func TestCanonicalIndicesFollowFirstOccurrence(t *testing.T) {
	sess := types.NewSession(types.Config{})
	a := sess.Store().NewTypeVar(types.RootUniverse)
	b := sess.Store().NewTypeVar(types.RootUniverse)

	// b appears first, then a, then b again
	term := types.CtorType{Head: "Triple", Args: []types.GenericArg{b, a, b}}
	c := sess.Canonicalize(term, testEnv, types.CanonQuery)

	require.Len(t, c.Orig.Vars, 2)
	assert.True(t, types.Equal(c.Orig.Vars[0], b))
	assert.True(t, types.Equal(c.Orig.Vars[1], a))

	want := types.CtorType{Head: "Triple", Args: []types.GenericArg{
		types.CanonVarType{Index: 0},
		types.CanonVarType{Index: 1},
		types.CanonVarType{Index: 0},
	}}
	assert.True(t, types.Equal(c.Value, want), "got %s", c.Value)
}

func TestResolvedVarsCanonicalizeAsValues(t *testing.T) {
	sess := types.NewSession(types.Config{})
	v := sess.Store().NewTypeVar(types.RootUniverse)
	require.NoError(t, sess.Store().AssignType(v.ID, i32))

	resolved := sess.Canonicalize(vec(v), testEnv, types.CanonQuery)
	concrete := sess.Canonicalize(vec(i32), testEnv, types.CanonQuery)
	assert.Equal(t, resolved.Key, concrete.Key)
	assert.Empty(t, resolved.Orig.Vars)
}

func TestFreeRegionsCanonicalize(t *testing.T) {
	sess := types.NewSession(types.Config{})
	a := types.RefType{Reg: types.FreeRegion{Name: "a"}, Elem: i32}
	b := types.RefType{Reg: types.FreeRegion{Name: "b"}, Elem: i32}

	ca := sess.Canonicalize(a, testEnv, types.CanonQuery)
	cb := sess.Canonicalize(b, testEnv, types.CanonQuery)
	assert.Equal(t, ca.Key, cb.Key, "free region names must not leak into the key")
}

func TestQueryHackKeepsStatic(t *testing.T) {
	sess := types.NewSession(types.Config{})
	term := types.RefType{Reg: types.StaticRegion{}, Elem: i32}

	hack := sess.Canonicalize(term, testEnv, types.CanonQueryHack)
	full := sess.Canonicalize(term, testEnv, types.CanonQuery)

	assert.True(t, types.Equal(hack.Value, term), "'static must stay verbatim, got %s", hack.Value)
	assert.Empty(t, hack.Orig.Vars)
	assert.NotEqual(t, hack.Key, full.Key)
	assert.Len(t, full.Orig.Vars, 1)
}

func TestCanonicalKeySeparatesVariantKinds(t *testing.T) {
	sess := types.NewSession(types.Config{})
	// a type parameter named A and a nullary constructor named A print the
	// same but are structurally different queries
	onParam := types.ProjType{Base: types.ParamType{Name: "A"}, Selector: "Item"}
	onCtor := types.ProjType{Base: types.CtorType{Head: "A"}, Selector: "Item"}
	require.Equal(t, onParam.String(), onCtor.String())

	a := sess.Canonicalize(onParam, testEnv, types.CanonQueryHack)
	b := sess.Canonicalize(onCtor, testEnv, types.CanonQueryHack)
	assert.NotEqual(t, a.Key, b.Key)
}

func TestCanonicalKeySeparatesEnvs(t *testing.T) {
	sess := types.NewSession(types.Config{})
	userFacing := types.ParamEnv{Reveal: types.RevealUserFacing, Name: "test"}

	a := sess.Canonicalize(vec(i32), testEnv, types.CanonQuery)
	b := sess.Canonicalize(vec(i32), userFacing, types.CanonQuery)
	assert.NotEqual(t, a.Key, b.Key)
}

func TestInstantiateCanonicalRoundtrips(t *testing.T) {
	sess := types.NewSession(types.Config{})
	v := sess.Store().NewTypeVar(types.RootUniverse)
	term := types.CtorType{Head: "Pair", Args: []types.GenericArg{
		v,
		types.RefType{Reg: types.FreeRegion{Name: "x"}, Elem: v},
	}}

	c := sess.Canonicalize(term, testEnv, types.CanonQuery)
	back := sess.InstantiateCanonical(c.Value, c.Orig)
	assert.True(t, types.Equal(back, term), "got %s", back)
}
