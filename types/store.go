package types

import (
	"fmt"

	"github.com/sable-lang/sable/sberr"
	"github.com/sable-lang/sable/util"
)

// RegionConstraint records that Sub must be outlived by Sup. Constraints
// accumulate in the store during relation and are the leak checker's input;
// the store itself never judges them.
type RegionConstraint struct {
	Sub Region
	Sup Region
}

func (c RegionConstraint) String() string {
	return c.Sub.String() + " <= " + c.Sup.String()
}

type typeVarInfo struct {
	universe Universe
	value    Type // nil while unresolved
}

type regionVarInfo struct {
	universe Universe
	value    Region
}

type undoEntry struct {
	isRegion bool
	id       uint64
}

// Snapshot is a checkpoint of the store. Snapshots nest and must be closed
// in strict LIFO order; violating that is a programming error and panics.
type Snapshot struct {
	seq         int
	undoLen     int
	typeVars    int
	regionVars  int
	constraints int
	universe    Universe
}

// Store holds substitutions for type and region variables, the universe
// counter, and accumulated region constraints. It has a single logical
// owner: one store per analysis session, never shared across goroutines
// while relation is in flight.
type Store struct {
	typeVars    []typeVarInfo
	regionVars  []regionVarInfo
	constraints []RegionConstraint
	universe    Universe
	undo        []undoEntry
	open        util.Stack[Snapshot]
	seq         int
}

func NewStore() *Store {
	return &Store{universe: RootUniverse}
}

func (s *Store) NewTypeVar(u Universe) InferType {
	s.typeVars = append(s.typeVars, typeVarInfo{universe: u})
	return InferType{ID: TypeVarID(len(s.typeVars) - 1)}
}

func (s *Store) NewRegionVar(u Universe) InferRegion {
	s.regionVars = append(s.regionVars, regionVarInfo{universe: u})
	return InferRegion{ID: RegionVarID(len(s.regionVars) - 1)}
}

func (s *Store) TypeVarUniverse(id TypeVarID) Universe     { return s.typeVars[id].universe }
func (s *Store) RegionVarUniverse(id RegionVarID) Universe { return s.regionVars[id].universe }

// AssignType binds a type variable. It fails with an occurs-check error if
// the binding would make the variable's own resolution cyclic.
func (s *Store) AssignType(id TypeVarID, t Type) error {
	if s.typeVars[id].value != nil {
		panic(fmt.Sprintf("type variable ?%d assigned twice", id))
	}
	if s.occurs(id, t) {
		return sberr.New(sberr.NewOccursCheck{Var: InferType{ID: id}.String(), In: t.String()})
	}
	s.typeVars[id].value = t
	s.undo = append(s.undo, undoEntry{id: id})
	return nil
}

func (s *Store) AssignRegion(id RegionVarID, r Region) {
	if s.regionVars[id].value != nil {
		panic(fmt.Sprintf("region variable '?%d assigned twice", id))
	}
	s.regionVars[id].value = r
	s.undo = append(s.undo, undoEntry{isRegion: true, id: id})
}

// ResolveTypeVar returns the variable's binding, not resolved further.
func (s *Store) ResolveTypeVar(id TypeVarID) (Type, bool) {
	v := s.typeVars[id].value
	return v, v != nil
}

func (s *Store) ResolveRegionVar(id RegionVarID) (Region, bool) {
	v := s.regionVars[id].value
	return v, v != nil
}

// ShallowResolve follows inference-variable bindings at the root only.
func (s *Store) ShallowResolve(t Type) Type {
	for {
		iv, ok := t.(InferType)
		if !ok {
			return t
		}
		value, resolved := s.ResolveTypeVar(iv.ID)
		if !resolved {
			return t
		}
		t = value
	}
}

func (s *Store) ShallowResolveRegion(r Region) Region {
	for {
		iv, ok := r.(InferRegion)
		if !ok {
			return r
		}
		value, resolved := s.ResolveRegionVar(iv.ID)
		if !resolved {
			return r
		}
		r = value
	}
}

// ResolveDeep substitutes every resolved variable throughout the term.
// Unresolved variables stay as they are.
func (s *Store) ResolveDeep(t Type) Type {
	if !t.flags().has(flagHasInfer) {
		return t
	}
	f := folder{
		foldType: func(t Type) (Type, bool) {
			resolved := s.ShallowResolve(t)
			if Equal(resolved, t) {
				return nil, false
			}
			return s.ResolveDeep(resolved), true
		},
		foldRegion: func(r Region) (Region, bool) {
			return s.ShallowResolveRegion(r), true
		},
	}
	return f.fold(t)
}

func (s *Store) occurs(id TypeVarID, t Type) bool {
	resolved := s.ShallowResolve(t)
	if iv, ok := resolved.(InferType); ok {
		return iv.ID == id
	}
	for child := range resolved.children() {
		if ct, ok := child.(Type); ok && s.occurs(id, ct) {
			return true
		}
	}
	return false
}

func (s *Store) PushConstraint(sub, sup Region) {
	s.constraints = append(s.constraints, RegionConstraint{Sub: sub, Sup: sup})
}

// ConstraintsSince returns the region constraints accumulated since the
// snapshot was taken.
func (s *Store) ConstraintsSince(snap Snapshot) []RegionConstraint {
	return s.constraints[snap.constraints:]
}

func (s *Store) Universe() Universe { return s.universe }

// NextUniverse names the universe CreateNextUniverse would allocate,
// without allocating it.
func (s *Store) NextUniverse() Universe { return s.universe.Next() }

// CreateNextUniverse allocates the next universe. Callers allocate lazily,
// only once they know at least one placeholder will be produced.
func (s *Store) CreateNextUniverse() Universe {
	s.universe = s.universe.Next()
	return s.universe
}

func (s *Store) StartSnapshot() Snapshot {
	s.seq++
	snap := Snapshot{
		seq:         s.seq,
		undoLen:     len(s.undo),
		typeVars:    len(s.typeVars),
		regionVars:  len(s.regionVars),
		constraints: len(s.constraints),
		universe:    s.universe,
	}
	s.open.Push(snap)
	return snap
}

func (s *Store) popSnapshot(snap Snapshot, op string) {
	top, ok := s.open.Pop()
	if !ok {
		panic(fmt.Sprintf("%s with no open snapshot", op))
	}
	if top.seq != snap.seq {
		panic(fmt.Sprintf("%s out of LIFO order: token %d, innermost is %d", op, snap.seq, top.seq))
	}
}

// Commit closes the snapshot keeping all bindings and universes created
// since. The undo log is retained while outer snapshots remain open.
func (s *Store) Commit(snap Snapshot) {
	s.popSnapshot(snap, "commit")
	if s.open.Len() == 0 {
		s.undo = s.undo[:0]
	}
}

// Rollback discards every binding, variable, universe, and region
// constraint created since the snapshot.
func (s *Store) Rollback(snap Snapshot) {
	s.popSnapshot(snap, "rollback")
	for e := range util.Reverse(s.undo[snap.undoLen:]) {
		if e.isRegion {
			if e.id < uint64(snap.regionVars) {
				s.regionVars[e.id].value = nil
			}
		} else if e.id < uint64(snap.typeVars) {
			s.typeVars[e.id].value = nil
		}
	}
	s.undo = s.undo[:snap.undoLen]
	s.typeVars = s.typeVars[:snap.typeVars]
	s.regionVars = s.regionVars[:snap.regionVars]
	s.constraints = s.constraints[:snap.constraints]
	s.universe = snap.universe
}
