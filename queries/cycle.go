package queries

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError is the value handed to every query in the minimal cut that
// closes a dependency cycle. It terminates all waiters of the cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("query cycle detected: %s", strings.Join(e.Path, " -> "))
}

func newCycleError[K comparable](path []K) error {
	strPath := make([]string, len(path))
	for i, k := range path {
		strPath[i] = fmt.Sprint(k)
	}
	return &CycleError{Path: strPath}
}

// IsCycle reports whether err (or anything it wraps) is a query-cycle error.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}
