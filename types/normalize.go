package types

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/sable-lang/sable/internal/log"
	"github.com/sable-lang/sable/queries"
	"github.com/sable-lang/sable/sberr"
)

var normalizeLogger = log.DefaultLogger.With("section", "normalize")

// Reveal controls whether normalization may see through opaque aliases.
type Reveal int

const (
	// RevealUserFacing keeps opaque aliases abstract.
	RevealUserFacing Reveal = iota
	// RevealAll expands opaque aliases to their hidden underlying types.
	RevealAll
)

// ParamEnv names the environment a normalization runs under. Two queries
// with the same canonical term but different environments never share a
// memo entry.
type ParamEnv struct {
	Reveal Reveal
	Name   string
}

func (e ParamEnv) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(e.Reveal)})
	h.Write([]byte(e.Name))
	return h.Sum64()
}

// queryResult is the value memoized per canonical projection query.
// ambiguous means the projection's base was still an open variable, so no
// verdict exists yet; the caller must not cache a definite answer on top.
type queryResult struct {
	value       Type
	ambiguous   bool
	obligations []Obligation
}

type normalizer struct {
	sess *Session
	env  ParamEnv
	ctx  context.Context
	cx   *queries.Cx[CanonicalKey]

	// memo is per normalizer call, keyed by pre-normalization term hash
	memo        map[uint64]Type
	obligations []Obligation
	anonDepth   int
	err         error
}

// Normalize rewrites every projection in t to its resolved type and, under
// RevealAll, expands opaque aliases. It returns the rewritten term together
// with the obligations the rewriting produced; sub-results are memoized in
// the session's concurrent query table.
func (s *Session) Normalize(ctx context.Context, t Type, env ParamEnv) (Type, []Obligation, error) {
	cx := s.queries.Enter(s)
	defer s.queries.Leave(cx)
	return s.normalizeIn(ctx, cx, t, env)
}

// normalizeIn is Normalize for callers that already hold a query context;
// projection queries issued here land on that context's stack, so cyclic
// projections surface as query cycles instead of hangs.
func (s *Session) normalizeIn(ctx context.Context, cx *queries.Cx[CanonicalKey], t Type, env ParamEnv) (Type, []Obligation, error) {
	n := &normalizer{sess: s, env: env, ctx: ctx, cx: cx, memo: make(map[uint64]Type)}
	out := n.fold(s.store.ResolveDeep(t))
	if n.err != nil {
		return nil, nil, n.err
	}
	return out, DedupObligations(n.obligations), nil
}

// NormalizeAll normalizes terms concurrently on the session's worker pool,
// sized by Config.Workers. Results come back in input order; the combined
// obligations are deduplicated. The first failure cancels the rest.
func (s *Session) NormalizeAll(ctx context.Context, terms []Type, env ParamEnv) ([]Type, []Obligation, error) {
	results := make([]Type, len(terms))
	var mu sync.Mutex
	var all []Obligation

	tasks := make([]func(context.Context, *queries.Cx[CanonicalKey]) error, len(terms))
	for i, t := range terms {
		tasks[i] = func(ctx context.Context, cx *queries.Cx[CanonicalKey]) error {
			out, obs, err := s.normalizeIn(ctx, cx, t, env)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = out
			all = append(all, obs...)
			mu.Unlock()
			return nil
		}
	}
	if err := s.queries.RunAll(ctx, s.config.Workers, s, tasks...); err != nil {
		return nil, nil, err
	}
	return results, DedupObligations(all), nil
}

// FullyNormalize is Normalize under RevealAll with the additional demand
// that the result is projection-free; an ambiguous remainder is an error.
func (s *Session) FullyNormalize(ctx context.Context, t Type, env ParamEnv) (Type, []Obligation, error) {
	env.Reveal = RevealAll
	out, obs, err := s.Normalize(ctx, t, env)
	if err != nil {
		return nil, nil, err
	}
	if out.flags().has(flagHasProjection) {
		return nil, nil, sberr.New(sberr.NewAmbiguous{Term: out.String()})
	}
	return out, obs, nil
}

func (n *normalizer) fold(t Type) Type {
	if n.err != nil {
		return t
	}
	if !t.flags().has(flagHasProjection) {
		return t
	}
	h := t.Hash()
	if cached, ok := n.memo[h]; ok {
		return cached
	}

	t = n.sess.store.ShallowResolve(t)
	folded := t.doMap(func(a GenericArg) GenericArg {
		if ct, ok := a.(Type); ok {
			return n.fold(ct)
		}
		return a
	})

	var out Type
	switch ft := folded.(type) {
	case OpaqueType:
		out = n.foldOpaque(ft)
	case ProjType:
		out = n.foldProjection(ft)
	default:
		out = folded
	}
	if n.err == nil {
		out = n.sess.interner.InternType(out)
		n.memo[h] = out
	}
	return out
}

func (n *normalizer) foldOpaque(t OpaqueType) Type {
	if n.env.Reveal == RevealUserFacing {
		return t
	}
	def, ok := n.sess.opaques[t.ID]
	if !ok || def.Underlying == nil {
		n.fail(sberr.New(sberr.NewNoSolution{Term: t.String()}))
		return ErrorType{}
	}
	concrete := substParams(def.Underlying, t.Args)
	// an alias whose hidden type is itself never makes progress
	if Equal(concrete, Type(t)) {
		return n.overflow(t)
	}
	n.anonDepth++
	if n.anonDepth > n.sess.config.RecursionLimit {
		return n.overflow(t)
	}
	out := n.fold(concrete)
	n.anonDepth--
	return out
}

func (n *normalizer) foldProjection(t ProjType) Type {
	// projections under a binder wait until the binder is opened
	if t.flags().has(flagHasBound) {
		return t
	}
	c := n.sess.Canonicalize(t, n.env, CanonQueryHack)
	res, err := n.sess.queries.Do(n.ctx, n.cx, c.Key, func(cx *queries.Cx[CanonicalKey]) (queryResult, error) {
		return n.sess.computeProjection(n.ctx, cx, c.Value, n.env)
	})
	if err != nil {
		n.fail(sberr.New(sberr.NewNoSolution{Term: t.String(), Cause: err}))
		return ErrorType{}
	}
	if res.ambiguous {
		n.fail(sberr.New(sberr.NewAmbiguous{Term: t.String()}))
		return ErrorType{}
	}
	for _, ob := range res.obligations {
		n.obligations = append(n.obligations, Obligation{
			Kind:  ob.Kind,
			A:     n.sess.instantiateArg(ob.A, c.Orig),
			B:     n.sess.instantiateArg(ob.B, c.Orig),
			Depth: ob.Depth,
		})
	}
	return n.sess.InstantiateCanonical(res.value, c.Orig)
}

func (n *normalizer) overflow(t Type) Type {
	err := sberr.New(sberr.NewOverflow{Term: t.String(), Limit: n.sess.config.RecursionLimit})
	n.sess.reportOverflowOnce(err)
	n.fail(err)
	return ErrorType{}
}

func (n *normalizer) fail(err sberr.Error) {
	if n.err == nil {
		n.err = err
		n.sess.report(err)
	}
}

// computeProjection answers one canonical projection query. canonical is
// the canonicalized ProjType; the result is in canonical terms too and is
// instantiated back by each caller.
func (s *Session) computeProjection(ctx context.Context, cx *queries.Cx[CanonicalKey], canonical Type, env ParamEnv) (queryResult, error) {
	proj, ok := canonical.(ProjType)
	if !ok {
		return queryResult{value: canonical}, nil
	}
	base := proj.Base
	normalizeLogger.Debug("normalize: projection query", "proj", proj)

	switch bt := base.(type) {
	case CanonVarType, InferType:
		return queryResult{ambiguous: true}, nil
	case ErrorType:
		return queryResult{value: ErrorType{}}, nil
	case CtorType:
		tmpl, ok := s.impls[bt.Head][proj.Selector]
		if !ok {
			return queryResult{}, sberr.New(sberr.NewNoSolution{Term: proj.String()})
		}
		resolved := substParams(tmpl, bt.Args)
		value, obs, err := s.normalizeIn(ctx, cx, resolved, env)
		if err != nil {
			return queryResult{}, err
		}
		return queryResult{value: value, obligations: obs}, nil
	default:
		return queryResult{}, sberr.New(sberr.NewNoSolution{Term: proj.String()})
	}
}

// substParams substitutes args for ParamType indices in t.
func substParams(t Type, args []GenericArg) Type {
	if len(args) == 0 {
		return t
	}
	f := folder{
		foldType: func(t Type) (Type, bool) {
			p, ok := t.(ParamType)
			if !ok || p.Index >= len(args) {
				return nil, false
			}
			if at, ok := args[p.Index].(Type); ok {
				return at, true
			}
			return nil, false
		},
		foldRegion: func(r Region) (Region, bool) {
			return nil, false
		},
	}
	return f.fold(t)
}
