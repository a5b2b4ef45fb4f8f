package types

import "strconv"

// Binder closes its value over Arity leading bound-variable slots.
// Invariant: bound-variable indices at depth 0 inside Value never reach
// Arity; deeper indices belong to enclosing binders.
type Binder struct {
	Value Type
	Arity int
}

// Bind wraps t in a binder with the given arity.
func Bind(arity int, t Type) Binder {
	return Binder{Value: t, Arity: arity}
}

// MonoBinder wraps a type that closes over nothing.
func MonoBinder(t Type) Binder { return Binder{Value: t} }

func (b Binder) String() string {
	if b.Arity == 0 {
		return b.Value.String()
	}
	return "for<" + strconv.Itoa(b.Arity) + "> " + b.Value.String()
}

func (b Binder) Hash() uint64 {
	return 2166136261*uint64(b.Arity+1) ^ b.Value.Hash()
}
