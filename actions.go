package partcraft

import "fmt"

// ActionKind is the kind of action the sequencer scheduled for a (part,
// step) pair.
type ActionKind int

const (
	// Run executes the step's built-in handler from scratch.
	Run ActionKind = iota
	// Rerun cleans this step and all later steps of the part, then runs.
	Rerun
	// Skip means the step is already satisfied; it is still emitted so the
	// executor can propagate project variables.
	Skip
	// Update re-imports changed inputs from an earlier step without
	// discarding this step's downstream state. Only legal for Pull,
	// Overlay and Build.
	Update
	// Reapply wipes and rebuilds a part's overlay layer directory while
	// preserving its recorded state. Only legal for Overlay.
	Reapply
)

var actionKindNames = map[ActionKind]string{
	Run:     "RUN",
	Rerun:   "RERUN",
	Skip:    "SKIP",
	Update:  "UPDATE",
	Reapply: "REAPPLY",
}

func (k ActionKind) String() string {
	if name, ok := actionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

func (k ActionKind) GoString() string {
	return "ActionKind." + k.String()
}

// ProjectVars is a snapshot of project variable values, keyed by name.
type ProjectVars map[string]string

// Action is an immutable record of one scheduled operation on a
// (part, step) pair.
type Action struct {
	PartName    string
	Step        Step
	Kind        ActionKind
	Reason      string
	ProjectVars ProjectVars
}

func (a Action) String() string {
	if a.Reason == "" {
		return fmt.Sprintf("%s(%s, %s)", a.Kind, a.PartName, a.Step)
	}
	return fmt.Sprintf("%s(%s, %s, reason=%q)", a.Kind, a.PartName, a.Step, a.Reason)
}
