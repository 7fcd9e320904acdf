package parts

import (
	"fmt"
	"sort"
)

// SortParts orders parts topologically by their After edges, breaking ties
// by name. Cycles are rejected with an error — parts form a DAG per the
// project's "after" declarations and a cycle must be caught at load time,
// before the sequencer is constructed.
func SortParts(partList []*Part) ([]*Part, error) {
	byName := make(map[string]*Part, len(partList))
	for _, p := range partList {
		byName[p.Name] = p
	}

	// indegree counts how many parts p itself depends on (one per entry
	// in p.Spec.After).
	indegree := make(map[string]int, len(partList))
	dependents := make(map[string][]string, len(partList))
	for _, p := range partList {
		if _, ok := indegree[p.Name]; !ok {
			indegree[p.Name] = 0
		}
		for _, depName := range p.Spec.After {
			indegree[p.Name]++
			dependents[depName] = append(dependents[depName], p.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var ordered []*Part
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])

		next := append([]string(nil), dependents[name]...)
		sort.Strings(next)
		for _, depName := range next {
			indegree[depName]--
			if indegree[depName] == 0 {
				ready = append(ready, depName)
			}
		}
	}

	if len(ordered) != len(partList) {
		return nil, fmt.Errorf("parts form a cycle via 'after' dependencies")
	}

	return ordered, nil
}

// PartByName looks up a part by name in partList.
func PartByName(name string, partList []*Part) (*Part, bool) {
	for _, p := range partList {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// PartListByName returns the subset of partList named in names, preserving
// partList's order. If names is empty, the full partList is returned.
func PartListByName(names []string, partList []*Part) []*Part {
	if len(names) == 0 {
		return partList
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*Part
	for _, p := range partList {
		if want[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// PartDependencies returns the parts named in part's After list. When
// recursive is true, the transitive closure is returned instead.
func PartDependencies(part *Part, partList []*Part, recursive bool) []*Part {
	byName := make(map[string]*Part, len(partList))
	for _, p := range partList {
		byName[p.Name] = p
	}

	seen := map[string]bool{part.Name: true}
	var out []*Part

	var visit func(p *Part)
	visit = func(p *Part) {
		for _, depName := range p.Spec.After {
			if seen[depName] {
				continue
			}
			dep, ok := byName[depName]
			if !ok {
				continue
			}
			seen[depName] = true
			out = append(out, dep)
			if recursive {
				visit(dep)
			}
		}
	}
	visit(part)

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasOverlayVisibility reports whether part has overlay visibility: it
// declares overlay parameters itself, or it has an "after" dependency
// (direct or transitive) on a part that does. The result is recomputed on
// every call; no caller caches it.
func HasOverlayVisibility(part *Part, partList []*Part) bool {
	if part.Spec.HasOverlay() {
		return true
	}
	for _, dep := range PartDependencies(part, partList, true) {
		if dep.Spec.HasOverlay() {
			return true
		}
	}
	return false
}
