package migrator

import (
	"fmt"
	"os"
	"strings"
)

// MigrationStep transforms a store from one catalog version to another.
type MigrationStep struct {
	Source      *SchemaVersion
	Destination *SchemaVersion
	Mapping     MappingRef
}

func (s MigrationStep) String() string {
	return s.Source.Name + " -> " + s.Destination.Name
}

// MigrationPlan is the ordered chain of steps from a store's detected
// version to the target. An empty plan means the store is already current.
type MigrationPlan struct {
	Steps []MigrationStep
}

// Empty reports whether there is nothing to do.
func (p *MigrationPlan) Empty() bool { return len(p.Steps) == 0 }

func (p *MigrationPlan) String() string {
	if p.Empty() {
		return "(up to date)"
	}
	names := []string{p.Steps[0].Source.Name}
	for _, s := range p.Steps {
		names = append(names, s.Destination.Name)
	}
	return strings.Join(names, " -> ")
}

// Resolve computes the plan from detected to target.
//
// Moving forward, every adjacent pair of declared versions is a step with
// an inferred mapping unless [[mappings]] declares that pair explicitly.
// Declared mappings between non-adjacent versions act as shortcuts. Moving
// backward only follows declared mappings. The plan never moves away from
// the target, and the one with the fewest steps wins, so a declared direct
// mapping beats the adjacent chain.
//
// Every version on the plan must have its model file in the catalog; a
// missing one makes the path unusable.
func Resolve(detected, target *SchemaVersion, c *Catalog) (*MigrationPlan, error) {
	from, ok := c.index[detected.Name]
	if !ok {
		return nil, newError(ErrNoPathFound, c.Dir, fmt.Errorf("version %q is not in the catalog", detected.Name))
	}
	to, ok := c.index[target.Name]
	if !ok {
		return nil, newError(ErrNoPathFound, c.Dir, fmt.Errorf("version %q is not in the catalog", target.Name))
	}
	if from == to {
		return &MigrationPlan{}, nil
	}

	dir := 1
	if to < from {
		dir = -1
	}

	// Breadth-first over declaration indexes. Neighbours are visited
	// farthest-first so that among equally short plans the one with the
	// longest leaps is chosen.
	prev := map[int]int{from: from}
	queue := []int{from}
	for len(queue) > 0 && !visited(prev, to) {
		cur := queue[0]
		queue = queue[1:]
		for next := to; next != cur; next -= dir {
			if visited(prev, next) {
				continue
			}
			if _, ok := c.stepMapping(cur, next); !ok {
				continue
			}
			prev[next] = cur
			queue = append(queue, next)
		}
	}

	if !visited(prev, to) {
		return nil, newError(ErrNoPathFound, c.Dir, fmt.Errorf("no chain of mappings from %q to %q%s",
			detected.Name, target.Name, missingHint(c, from, to, dir)))
	}

	var path []int
	for at := to; at != from; at = prev[at] {
		path = append(path, at)
	}
	plan := &MigrationPlan{Steps: make([]MigrationStep, 0, len(path))}
	cur := from
	for i := len(path) - 1; i >= 0; i-- {
		next := path[i]
		m, _ := c.stepMapping(cur, next)
		plan.Steps = append(plan.Steps, MigrationStep{Source: c.versions[cur], Destination: c.versions[next], Mapping: m})
		cur = next
	}

	if err := checkPlanModels(plan); err != nil {
		return nil, newError(ErrNoPathFound, c.Dir, err)
	}
	return plan, nil
}

// stepMapping returns the mapping used to go from version index i to j: the
// declared one if any, else an inferred mapping for a forward adjacent pair.
func (c *Catalog) stepMapping(i, j int) (MappingRef, bool) {
	src, dst := c.versions[i].Name, c.versions[j].Name
	if m, ok := c.Mapping(src, dst); ok {
		return m, true
	}
	if j == i+1 {
		return MappingRef{From: src, To: dst}, true
	}
	return MappingRef{}, false
}

// checkPlanModels verifies every version the plan touches has a model file.
func checkPlanModels(plan *MigrationPlan) error {
	seen := make(map[string]bool)
	for _, s := range plan.Steps {
		for _, v := range []*SchemaVersion{s.Source, s.Destination} {
			if seen[v.Name] {
				continue
			}
			seen[v.Name] = true
			if _, err := os.Stat(v.ModelPath); err != nil {
				return fmt.Errorf("model of version %q: %w", v.Name, err)
			}
		}
	}
	return nil
}

func visited(prev map[int]int, i int) bool {
	_, ok := prev[i]
	return ok
}

// missingHint names the first step toward the target without a mapping.
// Forward steps always have one, so only downgrades produce a hint.
func missingHint(c *Catalog, from, to, dir int) string {
	for i := from; i != to; i += dir {
		if _, ok := c.stepMapping(i, i+dir); !ok {
			return fmt.Sprintf(" (missing mapping %s -> %s)", c.versions[i].Name, c.versions[i+dir].Name)
		}
	}
	return ""
}
