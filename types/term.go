package types

import (
	"fmt"
	"hash/fnv"
	"iter"
	"strconv"
	"strings"
)

type TypeVarID = uint64
type RegionVarID = uint64

// termFlags summarizes which node kinds appear anywhere inside a term.
// Composite terms derive them from their children on each call; the hot
// paths (normalization fast path, canonicalization, leak bookkeeping) test
// them to skip whole subtrees.
type termFlags uint8

const (
	flagHasProjection termFlags = 1 << iota // projection or opaque nodes
	flagHasInfer
	flagHasPlaceholder
	flagHasBound
	flagHasFreeRegion
)

func (f termFlags) has(other termFlags) bool { return f&other != 0 }

// GenericArg is a type or a region appearing in an argument position.
// Terms are immutable once built and compared via Hash, following the
// convention that structurally identical terms hash identically.
type GenericArg interface {
	fmt.Stringer
	Hash() uint64
	flags() termFlags
}

// Equal compares two terms for structural equality.
func Equal[H, HH GenericArg](this H, other HH) bool {
	return this.Hash() == other.Hash()
}

// Type is a tree over the engine's type variant kinds. doMap applies a
// function shallowly over the node's immediate arguments and rebuilds the
// node; children iterates them.
type Type interface {
	GenericArg
	doMap(f func(GenericArg) GenericArg) Type
	children() iter.Seq[GenericArg]
	isType()
}

// Region is the analogous tree for lifetime/scope relationships. Regions
// are always leaves.
type Region interface {
	GenericArg
	isRegion()
}

var (
	_ Type = ParamType{}
	_ Type = CtorType{}
	_ Type = FnType{}
	_ Type = RefType{}
	_ Type = ProjType{}
	_ Type = OpaqueType{}
	_ Type = InferType{}
	_ Type = BoundType{}
	_ Type = PlaceholderType{}
	_ Type = CanonVarType{}
	_ Type = ErrorType{}

	_ Region = FreeRegion{}
	_ Region = StaticRegion{}
	_ Region = InferRegion{}
	_ Region = BoundRegion{}
	_ Region = PlaceholderRegion{}
	_ Region = CanonVarRegion{}
)

var emptySeqArgs iter.Seq[GenericArg] = func(_ func(GenericArg) bool) {}

func seqOf(args ...GenericArg) iter.Seq[GenericArg] {
	return func(yield func(GenericArg) bool) {
		for _, a := range args {
			if !yield(a) {
				return
			}
		}
	}
}

func flagsOfChildren(t Type) termFlags {
	var f termFlags
	for child := range t.children() {
		f |= child.flags()
	}
	return f
}

// ParamType is a formal type parameter of the surrounding item, identified
// nominally by index.
type ParamType struct {
	Name  string
	Index int
}

func (t ParamType) isType()                                  {}
func (t ParamType) String() string                           { return t.Name }
func (t ParamType) flags() termFlags                         { return 0 }
func (t ParamType) children() iter.Seq[GenericArg]           { return emptySeqArgs }
func (t ParamType) doMap(func(GenericArg) GenericArg) Type   { return t }
func (t ParamType) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(t.Name))
	return 16777619*uint64(t.Index+1) ^ h.Sum64()
}

// CtorType is a constructed type: a head applied to type and region
// arguments. Argument variances live on the session's type definitions.
type CtorType struct {
	Head string
	Args []GenericArg
}

func (t CtorType) isType() {}
func (t CtorType) String() string {
	if len(t.Args) == 0 {
		return t.Head
	}
	parts := make([]string, len(t.Args))
	for i, a := range t.Args {
		parts[i] = a.String()
	}
	return t.Head + "<" + strings.Join(parts, ", ") + ">"
}
func (t CtorType) flags() termFlags               { return flagsOfChildren(t) }
func (t CtorType) children() iter.Seq[GenericArg] { return seqOf(t.Args...) }
func (t CtorType) doMap(f func(GenericArg) GenericArg) Type {
	mapped := make([]GenericArg, len(t.Args))
	for i, a := range t.Args {
		mapped[i] = f(a)
	}
	return CtorType{Head: t.Head, Args: mapped}
}
func (t CtorType) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(t.Head))
	hash := h.Sum64()
	for _, a := range t.Args {
		hash = hash*31 ^ a.Hash()
	}
	return hash
}

// FnType is a function pointer type. Parameters are contravariant, the
// return type is covariant.
type FnType struct {
	Params []Type
	Ret    Type
}

func (t FnType) isType() {}
func (t FnType) String() string {
	parts := make([]string, len(t.Params))
	for i, p := range t.Params {
		parts[i] = p.String()
	}
	return "fn(" + strings.Join(parts, ", ") + ") -> " + t.Ret.String()
}
func (t FnType) flags() termFlags { return flagsOfChildren(t) }
func (t FnType) children() iter.Seq[GenericArg] {
	return func(yield func(GenericArg) bool) {
		for _, p := range t.Params {
			if !yield(p) {
				return
			}
		}
		yield(t.Ret)
	}
}
func (t FnType) doMap(f func(GenericArg) GenericArg) Type {
	mapped := make([]Type, len(t.Params))
	for i, p := range t.Params {
		mapped[i] = f(p).(Type)
	}
	return FnType{Params: mapped, Ret: f(t.Ret).(Type)}
}
func (t FnType) Hash() uint64 {
	var hash uint64 = 2166136261
	for _, p := range t.Params {
		hash = hash*16777619 ^ p.Hash()
	}
	return hash*16777619 ^ t.Ret.Hash()
}

// RefType is a reference with an explicit region.
type RefType struct {
	Reg  Region
	Elem Type
}

func (t RefType) isType()                        {}
func (t RefType) String() string                 { return "&" + t.Reg.String() + " " + t.Elem.String() }
func (t RefType) flags() termFlags               { return t.Reg.flags() | t.Elem.flags() }
func (t RefType) children() iter.Seq[GenericArg] { return seqOf(t.Reg, t.Elem) }
func (t RefType) doMap(f func(GenericArg) GenericArg) Type {
	return RefType{Reg: f(t.Reg).(Region), Elem: f(t.Elem).(Type)}
}
func (t RefType) Hash() uint64 {
	return 1099511628211 ^ t.Reg.Hash()*41 ^ t.Elem.Hash()*43
}

// ProjType denotes the associated member Selector of an interface
// implementation for Base, resolved by normalization.
type ProjType struct {
	Base     Type
	Selector string
}

func (t ProjType) isType()                        {}
func (t ProjType) String() string                 { return "<" + t.Base.String() + ">::" + t.Selector }
func (t ProjType) flags() termFlags               { return flagHasProjection | t.Base.flags() }
func (t ProjType) children() iter.Seq[GenericArg] { return seqOf(t.Base) }
func (t ProjType) doMap(f func(GenericArg) GenericArg) Type {
	return ProjType{Base: f(t.Base).(Type), Selector: t.Selector}
}
func (t ProjType) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(t.Selector))
	return 15487469 ^ h.Sum64()*31 ^ t.Base.Hash()*37
}

// OpaqueType is an alias whose definition is hidden from ordinary code and
// only revealed during post-type-check normalization.
type OpaqueType struct {
	ID   string
	Args []GenericArg
}

func (t OpaqueType) isType() {}
func (t OpaqueType) String() string {
	if len(t.Args) == 0 {
		return "opaque " + t.ID
	}
	parts := make([]string, len(t.Args))
	for i, a := range t.Args {
		parts[i] = a.String()
	}
	return "opaque " + t.ID + "<" + strings.Join(parts, ", ") + ">"
}
func (t OpaqueType) flags() termFlags               { return flagHasProjection | flagsOfChildren(t) }
func (t OpaqueType) children() iter.Seq[GenericArg] { return seqOf(t.Args...) }
func (t OpaqueType) doMap(f func(GenericArg) GenericArg) Type {
	mapped := make([]GenericArg, len(t.Args))
	for i, a := range t.Args {
		mapped[i] = f(a)
	}
	return OpaqueType{ID: t.ID, Args: mapped}
}
func (t OpaqueType) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(t.ID))
	hash := 32452843 ^ h.Sum64()
	for _, a := range t.Args {
		hash = hash*31 ^ a.Hash()
	}
	return hash
}

// InferType is an open type inference variable; its value, if any, lives in
// the inference store.
type InferType struct {
	ID TypeVarID
}

func (t InferType) isType()                                {}
func (t InferType) String() string                         { return "?" + strconv.FormatUint(t.ID, 10) }
func (t InferType) flags() termFlags                       { return flagHasInfer }
func (t InferType) children() iter.Seq[GenericArg]         { return emptySeqArgs }
func (t InferType) doMap(func(GenericArg) GenericArg) Type { return t }
func (t InferType) Hash() uint64                           { return 31 * 7919 * (t.ID + 1) }

// BoundType is a de Bruijn-indexed variable closed over by an enclosing
// Binder. Depth counts binders outward from the variable.
type BoundType struct {
	Depth int
	Index int
}

func (t BoundType) isType() {}
func (t BoundType) String() string {
	return "^" + strconv.Itoa(t.Depth) + "." + strconv.Itoa(t.Index)
}
func (t BoundType) flags() termFlags                       { return flagHasBound }
func (t BoundType) children() iter.Seq[GenericArg]         { return emptySeqArgs }
func (t BoundType) doMap(func(GenericArg) GenericArg) Type { return t }
func (t BoundType) Hash() uint64 {
	return 433*uint64(t.Depth+1) ^ 9973*uint64(t.Index+1)
}

// PlaceholderType is an opaque stand-in for a universally quantified
// variable during a subtyping probe. Two placeholders are equal iff both
// universe and name match.
type PlaceholderType struct {
	Universe Universe
	Name     int
}

func (t PlaceholderType) isType() {}
func (t PlaceholderType) String() string {
	return "!" + strconv.Itoa(int(t.Universe)) + "." + strconv.Itoa(t.Name)
}
func (t PlaceholderType) flags() termFlags                       { return flagHasPlaceholder }
func (t PlaceholderType) children() iter.Seq[GenericArg]         { return emptySeqArgs }
func (t PlaceholderType) doMap(func(GenericArg) GenericArg) Type { return t }
func (t PlaceholderType) Hash() uint64 {
	return 1299709*uint64(t.Universe+1) ^ 104729*uint64(t.Name+1)
}

// CanonVarType is a dense canonical index standing for a free inference
// variable inside a canonical query key.
type CanonVarType struct {
	Index int
}

func (t CanonVarType) isType()                                {}
func (t CanonVarType) String() string                         { return "canon#" + strconv.Itoa(t.Index) }
func (t CanonVarType) flags() termFlags                       { return 0 }
func (t CanonVarType) children() iter.Seq[GenericArg]         { return emptySeqArgs }
func (t CanonVarType) doMap(func(GenericArg) GenericArg) Type { return t }
func (t CanonVarType) Hash() uint64                           { return 10007 * uint64(t.Index+1) }

// ErrorType is the placeholder produced after a reported failure so that
// analysis can keep going; it relates successfully to everything.
type ErrorType struct{}

func (t ErrorType) isType()                                {}
func (t ErrorType) String() string                         { return "{type error}" }
func (t ErrorType) flags() termFlags                       { return 0 }
func (t ErrorType) children() iter.Seq[GenericArg]         { return emptySeqArgs }
func (t ErrorType) doMap(func(GenericArg) GenericArg) Type { return t }
func (t ErrorType) Hash() uint64                           { return 14695981039346656037 }

// --- regions ---

type FreeRegion struct {
	Name string
}

func (r FreeRegion) isRegion()        {}
func (r FreeRegion) String() string   { return "'" + r.Name }
func (r FreeRegion) flags() termFlags { return flagHasFreeRegion }
func (r FreeRegion) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(r.Name))
	return 104729 ^ h.Sum64()
}

// StaticRegion is the whole-program, always-live scope.
type StaticRegion struct{}

func (r StaticRegion) isRegion()        {}
func (r StaticRegion) String() string   { return "'static" }
func (r StaticRegion) flags() termFlags { return flagHasFreeRegion }
func (r StaticRegion) Hash() uint64     { return 2166136261 * 16777619 }

type InferRegion struct {
	ID RegionVarID
}

func (r InferRegion) isRegion()        {}
func (r InferRegion) String() string   { return "'?" + strconv.FormatUint(r.ID, 10) }
func (r InferRegion) flags() termFlags { return flagHasInfer }
func (r InferRegion) Hash() uint64     { return 7919 * 31 * (r.ID + 1) }

type BoundRegion struct {
	Depth int
	Index int
}

func (r BoundRegion) isRegion() {}
func (r BoundRegion) String() string {
	return "'^" + strconv.Itoa(r.Depth) + "." + strconv.Itoa(r.Index)
}
func (r BoundRegion) flags() termFlags { return flagHasBound }
func (r BoundRegion) Hash() uint64 {
	return 9973*uint64(r.Depth+1) ^ 433*uint64(r.Index+1)
}

type PlaceholderRegion struct {
	Universe Universe
	Name     int
}

func (r PlaceholderRegion) isRegion() {}
func (r PlaceholderRegion) String() string {
	return "'!" + strconv.Itoa(int(r.Universe)) + "." + strconv.Itoa(r.Name)
}
func (r PlaceholderRegion) flags() termFlags { return flagHasPlaceholder }
func (r PlaceholderRegion) Hash() uint64 {
	return 104729*uint64(r.Universe+1) ^ 1299709*uint64(r.Name+1)
}

type CanonVarRegion struct {
	Index int
}

func (r CanonVarRegion) isRegion()        {}
func (r CanonVarRegion) String() string   { return "'canon#" + strconv.Itoa(r.Index) }
func (r CanonVarRegion) flags() termFlags { return 0 }
func (r CanonVarRegion) Hash() uint64     { return 15487469 * uint64(r.Index+1) }

// --- traversal ---

// folder rewrites a term top-down. When foldType (resp. foldRegion) reports
// handled, its result is taken verbatim; otherwise recursion continues into
// the node's arguments.
type folder struct {
	foldType   func(Type) (Type, bool)
	foldRegion func(Region) (Region, bool)
}

func (f folder) fold(t Type) Type {
	if f.foldType != nil {
		if r, handled := f.foldType(t); handled {
			return r
		}
	}
	return t.doMap(func(a GenericArg) GenericArg {
		switch a := a.(type) {
		case Type:
			return f.fold(a)
		case Region:
			return f.foldArg(a)
		default:
			panic(fmt.Sprintf("unhandled generic arg %T", a))
		}
	})
}

func (f folder) foldArg(r Region) Region {
	if f.foldRegion != nil {
		if mapped, handled := f.foldRegion(r); handled {
			return mapped
		}
	}
	return r
}

// walkArgs visits t and every term below it, pre-order. visit returning
// false stops the walk.
func walkArgs(a GenericArg, visit func(GenericArg) bool) bool {
	if !visit(a) {
		return false
	}
	if t, ok := a.(Type); ok {
		for child := range t.children() {
			if !walkArgs(child, visit) {
				return false
			}
		}
	}
	return true
}
