package types

// Universe is an ordered scope tag bounding which placeholders are nameable
// from where. Universes form a single monotonically increasing sequence per
// session, never reused and never shared across sessions.
type Universe uint32

const RootUniverse Universe = 0

// Next is pure: it names the universe that would be created next without
// allocating it. Placeholder instantiation uses this so the common
// non-higher-ranked path never inflates the universe sequence.
func (u Universe) Next() Universe { return u + 1 }

// CanName reports whether code holding a reference to u may name a
// placeholder created in other.
func (u Universe) CanName(other Universe) bool { return u >= other }
