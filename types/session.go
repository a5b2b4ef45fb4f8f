package types

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/sable-lang/sable/internal/log"
	"github.com/sable-lang/sable/queries"
	"github.com/sable-lang/sable/sberr"
)

var logger = log.DefaultLogger.With("section", "relate")

// Config carries the session's tunables. The zero value is usable; defaults
// are applied by NewSession.
type Config struct {
	// RecursionLimit bounds opaque-type expansion depth. Exceeding it is a
	// fatal overflow for the query, reported once per session.
	RecursionLimit int
	// SkipLeakCheck downgrades the leak check to a no-op. This is a
	// deliberately unsound compatibility switch, never a default.
	SkipLeakCheck bool
	// Workers sizes the query worker pool.
	Workers int
	// Fuel and DepthLimit bound the relation engine's structural recursion.
	Fuel       int
	DepthLimit int
}

const (
	defaultRecursionLimit = 128
	defaultWorkers        = 4
	defaultStartingFuel   = 10000
	defaultDepthLimit     = 250
)

func (c Config) withDefaults() Config {
	if c.RecursionLimit == 0 {
		c.RecursionLimit = defaultRecursionLimit
	}
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.Fuel == 0 {
		c.Fuel = defaultStartingFuel
	}
	if c.DepthLimit == 0 {
		c.DepthLimit = defaultDepthLimit
	}
	return c
}

// TypeDef describes a constructed-type head: the variance of each argument
// position, and for opaque aliases the hidden underlying type (in which
// ParamType indices refer to the alias's own arguments).
type TypeDef struct {
	Name       string
	Variances  []Variance
	Underlying Type
}

// Session owns all state of one analysis run: the interner, the inference
// store, type definitions and implementations, the query table, and the
// accumulated diagnostics. Sessions are independent; nothing is shared
// between them.
type Session struct {
	ID     uuid.UUID
	config Config

	interner *Interner
	store    *Store
	defs     map[string]TypeDef
	opaques  map[string]TypeDef
	impls    map[string]map[string]Type

	queries *queries.Table[CanonicalKey, queryResult]
	logger  *slog.Logger

	mu               sync.Mutex
	errors           *sberr.Errors
	overflowReported bool
}

func NewSession(cfg Config) *Session {
	s := &Session{
		ID:       uuid.New(),
		config:   cfg.withDefaults(),
		interner: NewInterner(),
		store:    NewStore(),
		defs:     make(map[string]TypeDef),
		opaques:  make(map[string]TypeDef),
		impls:    make(map[string]map[string]Type),
		errors:   &sberr.Errors{},
	}
	s.queries = queries.NewTable[CanonicalKey, queryResult](nil)
	s.logger = logger.With("session", s.ID.String()[:8])
	return s
}

func (s *Session) Store() *Store       { return s.store }
func (s *Session) Interner() *Interner { return s.interner }
func (s *Session) Config() Config     { return s.config }

// Errors is the session's diagnostic sink.
func (s *Session) Errors() *sberr.Errors {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// DefineType declares a constructed-type head and the variance of each of
// its argument positions.
func (s *Session) DefineType(name string, variances ...Variance) {
	s.defs[name] = TypeDef{Name: name, Variances: variances}
}

// DefineOpaque declares an opaque alias and its hidden underlying type.
func (s *Session) DefineOpaque(id string, underlying Type) {
	s.opaques[id] = TypeDef{Name: id, Underlying: underlying}
}

// DefineImpl declares that projecting selector out of head yields result,
// where ParamType indices in result refer to the head's arguments.
func (s *Session) DefineImpl(head, selector string, result Type) {
	if s.impls[head] == nil {
		s.impls[head] = make(map[string]Type)
	}
	s.impls[head][selector] = result
}

func (s *Session) variancesOf(head string, n int) []Variance {
	def, ok := s.defs[head]
	if ok && len(def.Variances) == n {
		return def.Variances
	}
	// undeclared heads relate invariantly
	vs := make([]Variance, n)
	for i := range vs {
		vs[i] = Invariant
	}
	return vs
}

// Resolve is the read-only entry point for language-service collaborators:
// it substitutes every resolved inference variable throughout the term.
func (s *Session) Resolve(t Type) Type {
	return s.store.ResolveDeep(t)
}

func (s *Session) report(err sberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = s.errors.With(err)
}

// reportOverflowOnce reports a recursion overflow through the diagnostic
// sink at most once per session.
func (s *Session) reportOverflowOnce(err sberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overflowReported {
		return
	}
	s.overflowReported = true
	s.errors = s.errors.With(err)
}
