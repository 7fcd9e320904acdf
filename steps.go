// Package partcraft implements the core of a multi-part build lifecycle
// engine: the sequencer and state manager that drive a declarative project,
// made up of independent "parts", through the pull, overlay, build, stage
// and prime steps while preserving incremental-build correctness across
// repeated invocations.
package partcraft

import "fmt"

// Step is one stage of a part's lifecycle. Steps are totally ordered:
// Pull < Overlay < Build < Stage < Prime.
type Step int

const (
	Pull Step = iota + 1
	Overlay
	Build
	Stage
	Prime
)

var stepNames = map[Step]string{
	Pull:    "PULL",
	Overlay: "OVERLAY",
	Build:   "BUILD",
	Stage:   "STAGE",
	Prime:   "PRIME",
}

// String returns the upper-case step name, e.g. "PULL".
func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// GoString mirrors the teacher's "Class.MEMBER" repr convention.
func (s Step) GoString() string {
	return "Step." + s.String()
}

// Lower returns the step name in lower case, as used for state file names
// and log messages (e.g. "pull").
func (s Step) Lower() string {
	switch s {
	case Pull:
		return "pull"
	case Overlay:
		return "overlay"
	case Build:
		return "build"
	case Stage:
		return "stage"
	case Prime:
		return "prime"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// allSteps is the canonical pipeline order.
var allSteps = []Step{Pull, Overlay, Build, Stage, Prime}

// AllSteps returns all lifecycle steps in pipeline order.
func AllSteps() []Step {
	out := make([]Step, len(allSteps))
	copy(out, allSteps)
	return out
}

// PreviousSteps lists the steps that must happen before s, in pipeline
// order, not including s itself.
func (s Step) PreviousSteps() []Step {
	var steps []Step
	if s >= Overlay {
		steps = append(steps, Pull)
	}
	if s >= Build {
		steps = append(steps, Overlay)
	}
	if s >= Stage {
		steps = append(steps, Build)
	}
	if s >= Prime {
		steps = append(steps, Stage)
	}
	return steps
}

// NextSteps lists the steps that should happen after s, in pipeline order,
// not including s itself.
func (s Step) NextSteps() []Step {
	var steps []Step
	if s == Pull {
		steps = append(steps, Overlay)
	}
	if s <= Overlay {
		steps = append(steps, Build)
	}
	if s <= Build {
		steps = append(steps, Stage)
	}
	if s <= Stage {
		steps = append(steps, Prime)
	}
	return steps
}

// DependencyPrerequisiteStep returns the step that a dependency (an "after"
// part) must have reached before step can be considered clean. Pull and
// Overlay have no dependency prerequisite: with well-behaved plugins a part
// doesn't need its dependencies repulled if they're merely restaged.
func DependencyPrerequisiteStep(step Step) (Step, bool) {
	if step <= Overlay {
		return 0, false
	}
	if step <= Stage {
		return Stage, true
	}
	return step, true
}
