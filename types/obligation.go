package types

import (
	"fmt"
	"sort"

	"github.com/xtgo/set"
)

type ObligationKind int

const (
	// ObligationProjectionEq defers proving that two projections (or a
	// projection and a term) resolve to the same type.
	ObligationProjectionEq ObligationKind = iota
	// ObligationOpaqueEq defers proving an opaque alias equal to a term.
	ObligationOpaqueEq
	// ObligationOutlives defers a region-outlives proof.
	ObligationOutlives
)

func (k ObligationKind) String() string {
	switch k {
	case ObligationProjectionEq:
		return "projection-eq"
	case ObligationOpaqueEq:
		return "opaque-eq"
	case ObligationOutlives:
		return "outlives"
	}
	return fmt.Sprintf("obligation(%d)", int(k))
}

// Obligation is a deferred proof requirement produced as a side effect of
// relation-checking or normalization. It is owned by the caller receiving
// it and discharged by a separate proof-search component.
type Obligation struct {
	Kind  ObligationKind
	A     GenericArg
	B     GenericArg
	Depth int
}

func (o Obligation) String() string {
	return fmt.Sprintf("%s(%s, %s)", o.Kind, o.A, o.B)
}

func (o Obligation) Hash() uint64 {
	return uint64(o.Kind+1)*16777619 ^ o.A.Hash()*31 ^ o.B.Hash()*37
}

type obligationsByKey []Obligation

func (o obligationsByKey) Len() int      { return len(o) }
func (o obligationsByKey) Swap(i, j int) { o[i], o[j] = o[j], o[i] }
func (o obligationsByKey) Less(i, j int) bool {
	if o[i].Kind != o[j].Kind {
		return o[i].Kind < o[j].Kind
	}
	return o[i].Hash() < o[j].Hash()
}

// DedupObligations sorts and removes duplicate obligations before they are
// handed back to the caller.
func DedupObligations(obs []Obligation) []Obligation {
	if len(obs) < 2 {
		return obs
	}
	sort.Sort(obligationsByKey(obs))
	n := set.Uniq(obligationsByKey(obs))
	return obs[:n]
}
