package types

import (
	"fmt"
	"strings"
)

// CanonMode selects how aggressively free terms are quotiented into
// canonical variables.
type CanonMode int

const (
	// CanonQuery canonicalizes every free inference variable and every
	// free region, including 'static.
	CanonQuery CanonMode = iota
	// CanonQueryHack keeps 'static verbatim. Canonicalizing it would let a
	// query answer unify the canonical slot with a shorter region and
	// claim success where the caller's term demands 'static.
	CanonQueryHack
)

// CanonicalKey identifies a canonical query: a variant-tagged structural
// encoding of the canonical term, the environment it was asked under, and
// the mode that produced it. Semantically identical queries collide here,
// which is what makes the query table's memoization effective across call
// sites. The encoding is structural rather than the printed form: distinct
// variants may print identically (a type parameter and a nullary
// constructor share their name), and those must never share a memo entry.
type CanonicalKey struct {
	repr string
	env  uint64
	mode CanonMode
}

func (k CanonicalKey) String() string { return k.repr }

// OriginalValues remembers, per dense canonical index, the free term the
// index replaced, so query answers can be replayed at the call site.
type OriginalValues struct {
	Vars []GenericArg
}

type Canonicalized struct {
	Key   CanonicalKey
	Value Type
	Orig  *OriginalValues
}

// Canonicalize quotients t by the identity of its free inference variables
// and free regions: each distinct one becomes a dense canonical index, in
// first-occurrence order. Resolved variables canonicalize as their values.
func (s *Session) Canonicalize(t Type, env ParamEnv, mode CanonMode) Canonicalized {
	orig := &OriginalValues{}
	seen := make(map[uint64]int)

	slot := func(original GenericArg) int {
		h := original.Hash()
		if idx, ok := seen[h]; ok {
			return idx
		}
		idx := len(orig.Vars)
		seen[h] = idx
		orig.Vars = append(orig.Vars, original)
		return idx
	}

	var f folder
	f = folder{
		foldType: func(t Type) (Type, bool) {
			iv, ok := t.(InferType)
			if !ok {
				return nil, false
			}
			if value, resolved := s.store.ResolveTypeVar(iv.ID); resolved {
				return f.fold(value), true
			}
			return CanonVarType{Index: slot(iv)}, true
		},
		foldRegion: func(r Region) (Region, bool) {
			switch r := r.(type) {
			case InferRegion:
				if value, resolved := s.store.ResolveRegionVar(r.ID); resolved {
					return f.foldArg(value), true
				}
				return CanonVarRegion{Index: slot(r)}, true
			case FreeRegion:
				return CanonVarRegion{Index: slot(r)}, true
			case StaticRegion:
				if mode == CanonQueryHack {
					return r, true
				}
				return CanonVarRegion{Index: slot(r)}, true
			}
			return nil, false
		},
	}

	value := s.interner.InternType(f.fold(t))
	return Canonicalized{
		Key:   CanonicalKey{repr: canonicalRepr(value), env: env.Hash(), mode: mode},
		Value: value,
		Orig:  orig,
	}
}

func canonicalRepr(t Type) string {
	sb := &strings.Builder{}
	writeRepr(sb, t)
	return sb.String()
}

// writeRepr encodes a term with an explicit tag per variant kind.
func writeRepr(sb *strings.Builder, a GenericArg) {
	switch a := a.(type) {
	case ParamType:
		fmt.Fprintf(sb, "param(%s#%d)", a.Name, a.Index)
	case CtorType:
		sb.WriteString("ctor(")
		sb.WriteString(a.Head)
		writeArgsRepr(sb, a.Args)
		sb.WriteByte(')')
	case FnType:
		sb.WriteString("fn(")
		for _, p := range a.Params {
			writeRepr(sb, p)
			sb.WriteByte(';')
		}
		sb.WriteString("->")
		writeRepr(sb, a.Ret)
		sb.WriteByte(')')
	case RefType:
		sb.WriteString("ref(")
		writeRepr(sb, a.Reg)
		sb.WriteByte(';')
		writeRepr(sb, a.Elem)
		sb.WriteByte(')')
	case ProjType:
		sb.WriteString("proj(")
		writeRepr(sb, a.Base)
		sb.WriteByte(';')
		sb.WriteString(a.Selector)
		sb.WriteByte(')')
	case OpaqueType:
		sb.WriteString("opaque(")
		sb.WriteString(a.ID)
		writeArgsRepr(sb, a.Args)
		sb.WriteByte(')')
	case InferType:
		fmt.Fprintf(sb, "infer(%d)", a.ID)
	case BoundType:
		fmt.Fprintf(sb, "bound(%d.%d)", a.Depth, a.Index)
	case PlaceholderType:
		fmt.Fprintf(sb, "placeholder(%d.%d)", a.Universe, a.Name)
	case CanonVarType:
		fmt.Fprintf(sb, "canon(%d)", a.Index)
	case ErrorType:
		sb.WriteString("err")
	case FreeRegion:
		fmt.Fprintf(sb, "rfree(%s)", a.Name)
	case StaticRegion:
		sb.WriteString("rstatic")
	case InferRegion:
		fmt.Fprintf(sb, "rinfer(%d)", a.ID)
	case BoundRegion:
		fmt.Fprintf(sb, "rbound(%d.%d)", a.Depth, a.Index)
	case PlaceholderRegion:
		fmt.Fprintf(sb, "rplaceholder(%d.%d)", a.Universe, a.Name)
	case CanonVarRegion:
		fmt.Fprintf(sb, "rcanon(%d)", a.Index)
	default:
		panic(fmt.Sprintf("unhandled term %T in canonical encoding", a))
	}
}

func writeArgsRepr(sb *strings.Builder, args []GenericArg) {
	for _, arg := range args {
		sb.WriteByte(';')
		writeRepr(sb, arg)
	}
}

// InstantiateCanonical replays a term produced under a canonical key back
// into the caller's terms, substituting each canonical index with the free
// term it replaced.
func (s *Session) InstantiateCanonical(t Type, orig *OriginalValues) Type {
	f := folder{
		foldType: func(t Type) (Type, bool) {
			if cv, ok := t.(CanonVarType); ok {
				return orig.Vars[cv.Index].(Type), true
			}
			return nil, false
		},
		foldRegion: func(r Region) (Region, bool) {
			if cv, ok := r.(CanonVarRegion); ok {
				return orig.Vars[cv.Index].(Region), true
			}
			return nil, false
		},
	}
	return s.interner.InternType(f.fold(t))
}

func (s *Session) instantiateArg(a GenericArg, orig *OriginalValues) GenericArg {
	switch a := a.(type) {
	case Type:
		return s.InstantiateCanonical(a, orig)
	case Region:
		if cv, ok := a.(CanonVarRegion); ok {
			return orig.Vars[cv.Index]
		}
	}
	return a
}
