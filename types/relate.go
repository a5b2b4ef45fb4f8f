package types

import (
	set "github.com/hashicorp/go-set/v3"

	"github.com/sable-lang/sable/sberr"
	"github.com/sable-lang/sable/util"
)

type RelateMode int

const (
	// RelateSub checks a <: b.
	RelateSub RelateMode = iota
	// RelateEqual checks a and b mutually subtype each other.
	RelateEqual
)

// Side declares which operand the caller considers the expected type, for
// error orientation only.
type Side int

const (
	AIsExpected Side = iota
	AIsFound
)

type Variance int

const (
	Covariant Variance = iota
	Contravariant
	Invariant
)

func (v Variance) String() string {
	switch v {
	case Covariant:
		return "+"
	case Contravariant:
		return "-"
	default:
		return "o"
	}
}

// relatePair caches visited (sub, sup) pairs so recursive bounds terminate.
type relatePair struct {
	a, b Type
}

func (p *relatePair) Hash() uint64 {
	return 31*p.a.Hash() ^ p.b.Hash()
}

// relator holds the state for a single Relate call.
type relator struct {
	sess *Session
	mode RelateMode
	side Side

	obligations []Obligation
	cache       *set.HashSet[*relatePair, uint64]
	fuel        int
	depth       int

	minted int // placeholders created while opening b's binder
}

// Relate computes the subtype/equality relation between two binder-wrapped
// terms. The whole operation runs inside a snapshot: on success the
// snapshot commits and the resolved result is re-closed into a fresh
// binder; on error everything is rolled back so no partial bindings leak.
func (s *Session) Relate(a, b Binder, mode RelateMode, side Side) (Binder, []Obligation, error) {
	snap := s.store.StartSnapshot()
	r := &relator{
		sess:  s,
		mode:  mode,
		side:  side,
		cache: set.NewHashSet[*relatePair, uint64](0),
		fuel:  s.config.Fuel,
	}
	s.logger.Debug("relate: begin", "a", a, "b", b, "mode", mode)

	// The supertype's quantifiers must hold for all instantiations, so its
	// bound variables become placeholders in the next universe. The
	// subtype's become fresh inference variables, created after any
	// universe bump so they may name those placeholders.
	bPrime := r.openWithPlaceholders(b)
	aPrime := r.openWithFreshVars(a)

	err := r.relateTypes(aPrime, bPrime, Covariant)
	if err == nil {
		err = s.LeakCheck(false, snap)
	}
	if err != nil {
		s.store.Rollback(snap)
		s.logger.Debug("relate: failed", "err", err)
		return Binder{}, nil, err
	}

	result := r.recloseBinder(s.store.ResolveDeep(aPrime), snap)
	s.store.Commit(snap)
	s.logger.Debug("relate: ok", "result", result)
	return result, DedupObligations(r.obligations), nil
}

// openWithPlaceholders replaces every depth-0 bound variable in b with a
// placeholder in the next universe. The universe is only materialized if a
// placeholder was actually minted, keeping the common non-higher-ranked
// path free of universe churn.
func (r *relator) openWithPlaceholders(b Binder) Type {
	store := r.sess.store
	next := store.NextUniverse()
	f := folder{
		foldType: func(t Type) (Type, bool) {
			if bt, ok := t.(BoundType); ok && bt.Depth == 0 {
				r.minted++
				return PlaceholderType{Universe: next, Name: bt.Index}, true
			}
			return nil, false
		},
		foldRegion: func(reg Region) (Region, bool) {
			if br, ok := reg.(BoundRegion); ok && br.Depth == 0 {
				r.minted++
				return PlaceholderRegion{Universe: next, Name: br.Index}, true
			}
			return nil, false
		},
	}
	out := f.fold(b.Value)
	if r.minted > 0 {
		created := store.CreateNextUniverse()
		if created != next {
			panic("universe advanced during binder instantiation")
		}
	}
	return r.sess.interner.InternType(out)
}

// openWithFreshVars replaces every depth-0 bound variable in a with a fresh
// inference variable in the current universe, memoized per slot.
func (r *relator) openWithFreshVars(a Binder) Type {
	store := r.sess.store
	u := store.Universe()
	typeVars := make(map[int]InferType)
	regionVars := make(map[int]InferRegion)
	f := folder{
		foldType: func(t Type) (Type, bool) {
			if bt, ok := t.(BoundType); ok && bt.Depth == 0 {
				v, ok := typeVars[bt.Index]
				if !ok {
					v = store.NewTypeVar(u)
					typeVars[bt.Index] = v
				}
				return v, true
			}
			return nil, false
		},
		foldRegion: func(reg Region) (Region, bool) {
			if br, ok := reg.(BoundRegion); ok && br.Depth == 0 {
				v, ok := regionVars[br.Index]
				if !ok {
					v = store.NewRegionVar(u)
					regionVars[br.Index] = v
				}
				return v, true
			}
			return nil, false
		},
	}
	return r.sess.interner.InternType(f.fold(a.Value))
}

// recloseBinder turns placeholders minted for this probe back into bound
// variables, closing the resolved result over them.
func (r *relator) recloseBinder(result Type, snap Snapshot) Binder {
	if r.minted == 0 {
		return MonoBinder(result)
	}
	arity := 0
	f := folder{
		foldType: func(t Type) (Type, bool) {
			if pt, ok := t.(PlaceholderType); ok && pt.Universe > snap.universe {
				if pt.Name+1 > arity {
					arity = pt.Name + 1
				}
				return BoundType{Index: pt.Name}, true
			}
			return nil, false
		},
		foldRegion: func(reg Region) (Region, bool) {
			if pr, ok := reg.(PlaceholderRegion); ok && pr.Universe > snap.universe {
				if pr.Name+1 > arity {
					arity = pr.Name + 1
				}
				return BoundRegion{Index: pr.Name}, true
			}
			return nil, false
		},
	}
	return Bind(arity, f.fold(result))
}

func (r *relator) relateTypes(a, b Type, v Variance) error {
	if r.mode == RelateEqual {
		v = Invariant
	}
	switch v {
	case Covariant:
		return r.sub(a, b)
	case Contravariant:
		return r.sub(b, a)
	default:
		if err := r.sub(a, b); err != nil {
			return err
		}
		return r.sub(b, a)
	}
}

func (r *relator) consumeFuel(a, b Type) error {
	r.fuel--
	if r.fuel <= 0 || r.depth > r.sess.config.DepthLimit {
		return r.mismatch(a, b, "exceeded relation depth limit")
	}
	return nil
}

// sub enforces a <: b.
func (r *relator) sub(a, b Type) error {
	store := r.sess.store
	a = store.ShallowResolve(a)
	b = store.ShallowResolve(b)
	if Equal(a, b) {
		return nil
	}
	if err := r.consumeFuel(a, b); err != nil {
		return err
	}
	r.depth++
	defer func() { r.depth-- }()

	pair := &relatePair{a: a, b: b}
	if r.cache.Contains(pair) {
		return nil
	}
	r.cache.Insert(pair)

	// error types relate to everything so analysis can keep going after a
	// reported failure
	if _, ok := a.(ErrorType); ok {
		return nil
	}
	if _, ok := b.(ErrorType); ok {
		return nil
	}

	if av, ok := a.(InferType); ok {
		return r.assign(av, b)
	}
	if bv, ok := b.(InferType); ok {
		return r.assign(bv, a)
	}

	// projections and opaques are not solved in place: premature
	// normalization inside a probe could mint placeholders that would then
	// need their own leak check
	if ap, ok := a.(ProjType); ok {
		if bp, ok := b.(ProjType); ok && ap.Selector == bp.Selector && Equal(ap.Base, bp.Base) {
			return nil
		}
		r.obligations = append(r.obligations, Obligation{Kind: ObligationProjectionEq, A: a, B: b, Depth: r.depth})
		return nil
	}
	if _, ok := b.(ProjType); ok {
		r.obligations = append(r.obligations, Obligation{Kind: ObligationProjectionEq, A: a, B: b, Depth: r.depth})
		return nil
	}

	if ao, ok := a.(OpaqueType); ok {
		if bo, ok := b.(OpaqueType); ok && ao.ID == bo.ID && len(ao.Args) == len(bo.Args) {
			if util.SlicesEquivalent[uint64](ao.Args, bo.Args) {
				return nil
			}
			for i := range ao.Args {
				if err := r.relateArg(ao.Args[i], bo.Args[i], Invariant); err != nil {
					return err
				}
			}
			return nil
		}
		r.obligations = append(r.obligations, Obligation{Kind: ObligationOpaqueEq, A: a, B: b, Depth: r.depth})
		return nil
	}
	if _, ok := b.(OpaqueType); ok {
		r.obligations = append(r.obligations, Obligation{Kind: ObligationOpaqueEq, A: a, B: b, Depth: r.depth})
		return nil
	}

	switch at := a.(type) {
	case ParamType:
		if bt, ok := b.(ParamType); ok && at.Index == bt.Index && at.Name == bt.Name {
			return nil
		}
		return r.mismatch(a, b, "")
	case CtorType:
		bt, ok := b.(CtorType)
		if !ok || bt.Head != at.Head || len(bt.Args) != len(at.Args) {
			return r.mismatch(a, b, "")
		}
		variances := r.sess.variancesOf(at.Head, len(at.Args))
		for i := range at.Args {
			if err := r.relateArg(at.Args[i], bt.Args[i], variances[i]); err != nil {
				return err
			}
		}
		return nil
	case FnType:
		bt, ok := b.(FnType)
		if !ok || len(bt.Params) != len(at.Params) {
			return r.mismatch(a, b, "")
		}
		for i := range at.Params {
			// parameters are contravariant
			if err := r.relateArg(at.Params[i], bt.Params[i], Contravariant); err != nil {
				return err
			}
		}
		return r.relateArg(at.Ret, bt.Ret, Covariant)
	case RefType:
		bt, ok := b.(RefType)
		if !ok {
			return r.mismatch(a, b, "")
		}
		r.regions(at.Reg, bt.Reg, Covariant)
		return r.relateArg(at.Elem, bt.Elem, Covariant)
	case PlaceholderType:
		// equal placeholders were caught by the fast path above
		return r.mismatch(a, b, "distinct placeholder types can never be equated")
	case BoundType:
		return sberr.New(sberr.NewEscapingBoundVar{Term: a.String()})
	default:
		return r.mismatch(a, b, "")
	}
}

func (r *relator) relateArg(a, b GenericArg, v Variance) error {
	switch at := a.(type) {
	case Type:
		bt, ok := b.(Type)
		if !ok {
			return r.mismatchArg(a, b)
		}
		return r.relateTypes(at, bt, v)
	case Region:
		br, ok := b.(Region)
		if !ok {
			return r.mismatchArg(a, b)
		}
		r.regions(at, br, v)
		return nil
	default:
		return r.mismatchArg(a, b)
	}
}

// regions records the relation between two region terms. Region relations
// never hard-error here: verdicts belong to the leak checker and to later
// region solving, so this only unifies inference regions or pushes
// constraints.
func (r *relator) regions(a, b Region, v Variance) {
	switch v {
	case Covariant:
		// a <: b requires a to outlive b
		r.outlives(a, b)
	case Contravariant:
		r.outlives(b, a)
	default:
		r.outlives(a, b)
		r.outlives(b, a)
	}
}

// outlives records that longer outlives shorter.
func (r *relator) outlives(longer, shorter Region) {
	store := r.sess.store
	longer = store.ShallowResolveRegion(longer)
	shorter = store.ShallowResolveRegion(shorter)
	if Equal(longer, shorter) {
		return
	}
	if lv, ok := longer.(InferRegion); ok {
		r.assignRegion(lv, shorter)
		return
	}
	if sv, ok := shorter.(InferRegion); ok {
		r.assignRegion(sv, longer)
		return
	}
	store.PushConstraint(shorter, longer)
}

// assignRegion unifies a region variable with a value. A placeholder from a
// later universe than the variable's may not be named by it, so that case
// is recorded as constraints for the leak checker to judge instead.
func (r *relator) assignRegion(v InferRegion, value Region) {
	store := r.sess.store
	if pr, ok := value.(PlaceholderRegion); ok && !store.RegionVarUniverse(v.ID).CanName(pr.Universe) {
		store.PushConstraint(v, value)
		store.PushConstraint(value, v)
		return
	}
	store.AssignRegion(v.ID, value)
}

func (r *relator) assign(v InferType, t Type) error {
	store := r.sess.store
	if u := maxPlaceholderUniverse(store.ResolveDeep(t)); !store.TypeVarUniverse(v.ID).CanName(u) {
		return sberr.New(sberr.NewLeakEscape{
			Placeholder: t.String(),
			Related:     v.String(),
		})
	}
	if err := store.AssignType(v.ID, t); err != nil {
		return err
	}
	r.sess.logger.Debug("relate: assigned", "var", v, "value", t)
	return nil
}

func maxPlaceholderUniverse(t Type) Universe {
	maxU := RootUniverse
	walkArgs(t, func(a GenericArg) bool {
		switch a := a.(type) {
		case PlaceholderType:
			if a.Universe > maxU {
				maxU = a.Universe
			}
		case PlaceholderRegion:
			if a.Universe > maxU {
				maxU = a.Universe
			}
		}
		return true
	})
	return maxU
}

func (r *relator) mismatch(a, b Type, reason string) error {
	expected, found := b, a
	if r.side == AIsExpected {
		expected, found = a, b
	}
	return sberr.New(sberr.NewTypeMismatch{
		Expected: expected.String(),
		Found:    found.String(),
		Reason:   reason,
	})
}

func (r *relator) mismatchArg(a, b GenericArg) error {
	return sberr.New(sberr.NewTypeMismatch{
		Expected: a.String(),
		Found:    b.String(),
		Reason:   "type and region arguments cannot be related",
	})
}
