// Package state implements the per-(part, step) persisted state records,
// the in-memory wrapped-state database, and the state manager's dirty and
// outdated queries.
package state

import (
	"fmt"
	"strings"

	"partcraft"
)

// Dependency names a part and the step that is a prerequisite to another
// step.
type Dependency struct {
	PartName string
	Step     partcraft.Step
}

// OutdatedReport explains why a step is outdated: a step once run, whose
// inputs have since moved, but whose own state doesn't need to be thrown
// away — just refreshed.
type OutdatedReport struct {
	PreviousStepModified *partcraft.Step
	SourceModified        bool
}

// Reason formats the report into a single human-readable sentence.
func (r *OutdatedReport) Reason() string {
	var reasons []string
	if r.PreviousStepModified != nil {
		reasons = append(reasons, fmt.Sprintf("%q step", r.PreviousStepModified.String()))
	}
	if r.SourceModified {
		reasons = append(reasons, "source")
	}
	if len(reasons) == 0 {
		return ""
	}
	return humanizeList(reasons) + " changed"
}

// DirtyReport explains why a step is dirty: one or more properties,
// project options, or dependencies have changed since the step ran, and it
// must be cleaned and run again.
type DirtyReport struct {
	DirtyProperties      []string
	DirtyProjectOptions  []string
	ChangedDependencies  []Dependency
}

// Reason formats the report into a single human-readable sentence,
// matching the specificity rules of the reference implementation: name
// the single changed item when it's the only kind of change, otherwise
// describe the category.
func (r *DirtyReport) Reason() string {
	reasonsCount := 0
	if len(r.DirtyProperties) > 0 {
		reasonsCount++
	}
	if len(r.DirtyProjectOptions) > 0 {
		reasonsCount++
	}
	if len(r.ChangedDependencies) > 0 {
		reasonsCount++
	}

	var reasons []string

	if len(r.DirtyProperties) > 0 {
		if reasonsCount > 1 || len(r.DirtyProperties) > 1 {
			reasons = append(reasons, "properties")
		} else {
			reasons = append(reasons, fmt.Sprintf("%q property", r.DirtyProperties[0]))
		}
	}

	if len(r.DirtyProjectOptions) > 0 {
		if reasonsCount > 1 || len(r.DirtyProjectOptions) > 1 {
			reasons = append(reasons, "options")
		} else {
			reasons = append(reasons, fmt.Sprintf("%q option", r.DirtyProjectOptions[0]))
		}
	}

	if len(r.ChangedDependencies) > 0 {
		if reasonsCount > 1 || len(r.ChangedDependencies) > 1 {
			reasons = append(reasons, "dependencies")
		} else {
			dep := r.ChangedDependencies[0]
			reasons = append(reasons, fmt.Sprintf("%s for part %q", strings.ToLower(dep.Step.String()), dep.PartName))
		}
	}

	if len(reasons) == 0 {
		return ""
	}
	return humanizeList(reasons) + " changed"
}

// humanizeList joins items with commas and a trailing "and", e.g.
// ["a"] -> "a", ["a","b"] -> "a and b", ["a","b","c"] -> "a, b and c".
func humanizeList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
