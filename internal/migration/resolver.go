package migration

import (
	"strings"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
)

// Path is an ordered, contiguous sequence of steps. An empty path means the
// start version already equals the target.
type Path []Step

// String renders the path as "0.1.0 -> 0.1.1 -> 0.1.2".
func (p Path) String() string {
	if len(p) == 0 {
		return "(empty)"
	}
	parts := []string{p[0].From.String()}
	for _, s := range p {
		parts = append(parts, s.To.String())
	}
	return strings.Join(parts, " -> ")
}

func (p Path) validate() error {
	for i := 1; i < len(p); i++ {
		if !p[i-1].To.Equal(p[i].From) {
			return errors.InternalError("migration path is not contiguous").
				WithContext("step", p[i].Name()).
				Build()
		}
	}
	return nil
}

// ErrNoMigrationPath means no directed route exists from the start to the target version.
var ErrNoMigrationPath = errors.MigrationError("no migration path").Build()

// Resolve finds the shortest directed path from start to target. Edges are
// expanded in registry insertion order, so among equal-length paths the one
// using the earliest registered steps wins. Resolve is pure.
func Resolve(start, target emver.Version, reg *Registry) (Path, error) {
	if start.Equal(target) {
		return Path{}, nil
	}

	steps := reg.AllSteps()
	adjacency := make(map[string][]int)
	for i, s := range steps {
		from := s.From.String()
		adjacency[from] = append(adjacency[from], i)
	}

	startKey, targetKey := start.String(), target.String()
	parent := map[string]int{startKey: -1}
	queue := []string{startKey}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == targetKey {
			break
		}
		for _, i := range adjacency[node] {
			next := steps[i].To.String()
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = i
			queue = append(queue, next)
		}
	}

	if _, found := parent[targetKey]; !found {
		return nil, errors.MigrationError(ErrNoMigrationPath.Message()).
			WithContext("from", startKey).
			WithContext("to", targetKey).
			Build()
	}

	var path Path
	for node := targetKey; parent[node] >= 0; {
		step := steps[parent[node]]
		path = append(path, step)
		node = step.From.String()
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}
