package types

import (
	"github.com/sable-lang/sable/sberr"
	"github.com/sable-lang/sable/util"
)

// LeakCheck scans the region constraints accumulated since snap for
// evidence that a placeholder minted during the probe leaked outside its
// universe: either it was related to a placeholder from a different
// universe, or to a region that already existed before the probe began.
//
// overlyPolymorphic orients the resulting diagnostic: true means the
// probed term claimed more polymorphism than the target allows.
func (s *Session) LeakCheck(overlyPolymorphic bool, snap Snapshot) error {
	if s.config.SkipLeakCheck {
		return nil
	}
	for _, c := range s.store.ConstraintsSince(snap) {
		// each constraint is checked in both orientations
		sides := []util.Pair[Region, Region]{
			util.NewPair(c.Sub, c.Sup),
			util.NewPair(c.Sup, c.Sub),
		}
		for _, side := range sides {
			if err := s.leakCheckPair(side.Fst, side.Snd, overlyPolymorphic, snap); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) leakCheckPair(a, b Region, overlyPolymorphic bool, snap Snapshot) error {
	pa, ok := a.(PlaceholderRegion)
	if !ok || pa.Universe <= snap.universe {
		return nil
	}
	b = s.store.ShallowResolveRegion(b)
	switch rb := b.(type) {
	case PlaceholderRegion:
		if rb.Universe != pa.Universe || rb.Name != pa.Name {
			return s.leakError(pa, b, overlyPolymorphic)
		}
	case StaticRegion, FreeRegion:
		return s.leakError(pa, b, overlyPolymorphic)
	case InferRegion:
		// variables that predate the probe cannot name the new placeholder
		if int(rb.ID) < snap.regionVars {
			return s.leakError(pa, b, overlyPolymorphic)
		}
	}
	return nil
}

func (s *Session) leakError(p PlaceholderRegion, related Region, overlyPolymorphic bool) error {
	logger.Debug("leak check: placeholder escaped", "placeholder", p, "related", related)
	return sberr.New(sberr.NewLeakEscape{
		Placeholder:       p.String(),
		Related:           related.String(),
		OverlyPolymorphic: overlyPolymorphic,
	})
}
