package group

import (
	"fmt"
	"strings"

	"github.com/xraph/batchflow"
)

// checkAcyclic walks the dependency graph depth-first and reports the
// first cycle found, e.g. "a -> b -> a".
func checkAcyclic(scope string, nodes []string, deps func(string) []string) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(nodes))
	var path []string

	var visit func(n string) error
	visit = func(n string) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, p := range path {
				if p == n {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), n)
			return fmt.Errorf("%w: %s: %s", batchflow.ErrDependencyCycle, scope, strings.Join(cycle, " -> "))
		}

		state[n] = visiting
		path = append(path, n)
		for _, d := range deps(n) {
			if err := visit(d); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		return nil
	}

	for _, n := range nodes {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}
