package queries

import (
	"fmt"
	"sort"
)

// ResolveCycles is the default deadlock handler: it walks the wait-for graph,
// finds each dependency cycle, and completes the smallest key of every cycle
// with a CycleError. Resolving one key per cycle is the minimal cut — the
// remaining waiters unwind once the erroring query returns.
func ResolveCycles[K comparable](cx *Cx[K], g WaitGraph[K], resolve func(k K, err error) bool) {
	pending := make([]K, len(g.Pending))
	copy(pending, g.Pending)
	sort.Slice(pending, func(i, j int) bool {
		return fmt.Sprint(pending[i]) < fmt.Sprint(pending[j])
	})

	resolved := false
	visited := make(map[K]bool)
	for _, start := range pending {
		if visited[start] {
			continue
		}
		onPath := make(map[K]int)
		var path []K
		k := start
		for {
			if i, ok := onPath[k]; ok {
				cycle := path[i:]
				victim := cycle[0]
				for _, c := range cycle {
					if fmt.Sprint(c) < fmt.Sprint(victim) {
						victim = c
					}
				}
				if resolve(victim, newCycleError(append(cycle, cycle[0]))) {
					resolved = true
				}
				break
			}
			if visited[k] {
				break
			}
			visited[k] = true
			onPath[k] = len(path)
			path = append(path, k)
			next, ok := g.WaitsFor[k]
			if !ok {
				break
			}
			k = next
		}
	}

	// No cycle means the graph snapshot raced with a completing worker; if
	// everything is still pending, unblock the smallest key so the pool
	// cannot hang.
	if !resolved && len(pending) > 0 {
		resolve(pending[0], newCycleError(pending[:1]))
	}
}
