// Package sequencer implements the core planning algorithm: given a
// target lifecycle step and an optional set of parts, it walks every
// selected part through the pipeline and decides, for each (part, step)
// pair, whether to run it fresh, rerun it, update it in place, reapply
// its overlay layer, or skip it as already satisfied.
package sequencer

import (
	"fmt"

	"golang.org/x/xerrors"

	"partcraft"
	"partcraft/overlay"
	"partcraft/parts"
	"partcraft/state"
)

// Sequencer holds the project's part graph and the collaborators needed
// to decide and record lifecycle actions. It is not safe for concurrent
// use: Plan mutates its own action buffer and the state manager's
// in-memory database as it goes, mirroring the single-threaded execution
// model the planned actions are meant to drive.
type Sequencer struct {
	partList       []*parts.Part
	stateManager   *state.Manager
	layerManager   *overlay.LayerStateManager
	baseLayerHash  overlay.Hash
	projectOptions map[string]string
	projectVars    map[string]map[string]string

	actions   []partcraft.Action
	processed map[procKey]bool
}

type procKey struct {
	part string
	step partcraft.Step
}

// New constructs a Sequencer. partList need not be pre-sorted; New sorts
// it topologically (rejecting cycles) before use. projectVars, if
// non-nil, supplies the per-part project variables propagated on Skip
// actions — ordinarily populated by the scriptlet control protocol,
// which is out of scope here.
func New(partList []*parts.Part, stateManager *state.Manager, layerManager *overlay.LayerStateManager, baseLayerHash overlay.Hash, projectOptions map[string]string, projectVars map[string]map[string]string) (*Sequencer, error) {
	sorted, err := parts.SortParts(partList)
	if err != nil {
		return nil, err
	}
	return &Sequencer{
		partList:       sorted,
		stateManager:   stateManager,
		layerManager:   layerManager,
		baseLayerHash:  baseLayerHash,
		projectOptions: projectOptions,
		projectVars:    projectVars,
	}, nil
}

// Plan computes the ordered action list needed to bring every selected
// part up to targetStep. partNames restricts the selection (nil/empty
// means every part, in topological order); rerunRequested asks that each
// part named in partNames that is already at targetStep be explicitly
// rerun rather than skipped. With no partNames, rerunRequested has no
// effect.
func (s *Sequencer) Plan(targetStep partcraft.Step, partNames []string, rerunRequested bool) ([]partcraft.Action, error) {
	s.actions = nil
	s.processed = map[procKey]bool{}

	selected := parts.PartListByName(partNames, s.partList)
	nameSet := make(map[string]bool, len(partNames))
	for _, n := range partNames {
		nameSet[n] = true
	}

	steps := append(append([]partcraft.Step(nil), targetStep.PreviousSteps()...), targetStep)
	for _, step := range steps {
		for _, part := range selected {
			if err := s.addStepActions(step, targetStep, part, nameSet, rerunRequested, ""); err != nil {
				return nil, err
			}
		}
	}
	return s.actions, nil
}

// addStepActions is the five-branch decision cascade of spec.md §4.5.
// causeReason, when non-empty, labels a fresh Run triggered because some
// other part's step required this one as a prerequisite; it never
// overrides a reason computed from dirtiness, outdatedness, or an
// overlay-consistency violation.
func (s *Sequencer) addStepActions(currentStep, targetStep partcraft.Step, part *parts.Part, nameSet map[string]bool, rerunRequested bool, causeReason string) error {
	// A part that declares no overlay parameters contributes nothing to
	// the stack and has no layer to build: its Overlay step is elided
	// from the plan entirely rather than scheduled as a no-op.
	if currentStep == partcraft.Overlay && !part.Spec.HasOverlay() {
		return nil
	}

	key := procKey{part.Name, currentStep}
	if s.processed[key] {
		return nil
	}
	s.processed[key] = true

	// 1. Not yet run.
	if !s.stateManager.HasStepRun(part.Name, currentStep) {
		return s.runStep(part, currentStep, partcraft.Run, causeReason)
	}

	// 2. Explicitly requested rerun.
	if rerunRequested && len(nameSet) > 0 && currentStep == targetStep && nameSet[part.Name] {
		return s.rerunStep(part, currentStep, "requested step")
	}

	// 3. Dirty.
	if report := s.stateManager.CheckIfDirty(part, currentStep); report != nil {
		return s.rerunStep(part, currentStep, report.Reason())
	}

	// 4. Overlay-dependency violation.
	handled, err := s.checkOverlayDependencies(part, currentStep)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}

	// 5. Outdated.
	if report := s.stateManager.CheckIfOutdated(part, currentStep); report != nil {
		s.stateManager.MarkStepUpdated(part.Name, currentStep)
		if currentStep <= partcraft.Build {
			return s.updateStep(part, currentStep, report.Reason())
		}
		return s.rerunStep(part, currentStep, report.Reason())
	}

	// 6. Satisfied.
	s.emit(part.Name, currentStep, partcraft.Skip, "already ran", s.projectVarsFor(part))
	return nil
}

// runStep implements spec.md §4.5's run_step: resolve dependency
// prerequisites, maintain overlay consistency, then append the action
// and install a provisional StepState reflecting the plan's view of what
// just happened. The executor overwrites this provisional state with the
// real asset manifest once it actually performs the step.
func (s *Sequencer) runStep(part *parts.Part, step partcraft.Step, kind partcraft.ActionKind, reason string) error {
	if prereq, ok := partcraft.DependencyPrerequisiteStep(step); ok {
		verb := dependencyVerb(step)
		cause := fmt.Sprintf("required to %s %q", verb, part.Name)
		for _, dep := range parts.PartDependencies(part, s.partList, true) {
			if err := s.planPart(dep, prereq, cause); err != nil {
				return err
			}
		}
	}

	var layerHash overlay.Hash
	switch {
	case step == partcraft.Overlay:
		h, err := s.ensureOverlayConsistency(part, true)
		if err != nil {
			return err
		}
		layerHash = h
		if err := s.layerManager.SetLayerHash(part, layerHash); err != nil {
			return err
		}

	case step == partcraft.Build && parts.HasOverlayVisibility(part, s.partList):
		h, err := s.ensureFullStackConsistency()
		if err != nil {
			return err
		}
		layerHash = h

	case step == partcraft.Stage && part.Spec.HasOverlay():
		h, err := s.ensureFullStackConsistency()
		if err != nil {
			return err
		}
		layerHash = h
	}

	s.emit(part.Name, step, kind, reason, s.projectVarsFor(part))
	return s.installState(part, step, layerHash)
}

// rerunStep implements spec.md §4.5's rerun_step: clean the part's
// recorded state for step (and everything later) before re-running it,
// except for Overlay, whose state survives a rerun — its layer is
// refreshed via a separate Reapply action instead.
func (s *Sequencer) rerunStep(part *parts.Part, step partcraft.Step, reason string) error {
	if step != partcraft.Overlay {
		s.stateManager.CleanPart(part.Name, step)
	}
	return s.runStep(part, step, partcraft.Rerun, reason)
}

// updateStep implements spec.md §4.5's update_step: emit an Update
// action and bump the existing wrapper's serial without touching disk.
func (s *Sequencer) updateStep(part *parts.Part, step partcraft.Step, reason string) error {
	s.emit(part.Name, step, partcraft.Update, reason, s.projectVarsFor(part))
	s.stateManager.UpdateStateTimestamp(part.Name, step)
	return nil
}

// reapplyLayer implements spec.md §4.5's reapply_layer: record the new
// layer hash and emit a Reapply action on Overlay.
func (s *Sequencer) reapplyLayer(part *parts.Part, newHash overlay.Hash, reason string) error {
	if err := s.layerManager.SetLayerHash(part, newHash); err != nil {
		return err
	}
	s.emit(part.Name, partcraft.Overlay, partcraft.Reapply, reason, s.projectVarsFor(part))
	return nil
}

// planPart runs the full step sequence up to targetStep for part, as a
// nested planning pass triggered by another part's dependency
// requirement. causeReason labels only the action landing on targetStep
// itself; earlier pipeline steps keep whatever reason their own
// cascade branch produces.
func (s *Sequencer) planPart(part *parts.Part, targetStep partcraft.Step, causeReason string) error {
	steps := append(append([]partcraft.Step(nil), targetStep.PreviousSteps()...), targetStep)
	for _, step := range steps {
		reason := ""
		if step == targetStep {
			reason = causeReason
		}
		if err := s.addStepActions(step, targetStep, part, nil, false, reason); err != nil {
			return err
		}
	}
	return nil
}

// stackParts returns the ordered subset of partList that actually
// contributes a layer to the overlay stack: parts with no overlay
// parameters have nothing to fold into the layer-hash chain.
func (s *Sequencer) stackParts() []*parts.Part {
	var out []*parts.Part
	for _, p := range s.partList {
		if p.Spec.HasOverlay() {
			out = append(out, p)
		}
	}
	return out
}

// ensureOverlayConsistency implements spec.md §4.6's
// ensure_overlay_consistency: walk the stack order up to (and, unless
// skipLast, including) topPart, fixing any part whose recorded layer
// hash no longer matches what its current overlay parameters would
// produce, then return the layer hash computed for topPart.
func (s *Sequencer) ensureOverlayConsistency(topPart *parts.Part, skipLast bool) (overlay.Hash, error) {
	prev := s.baseLayerHash
	for _, p := range s.stackParts() {
		expected := overlay.Compute(prev, overlay.ParamsOf(p.Spec))
		isTop := p.Name == topPart.Name

		if !(isTop && skipLast) {
			recorded, err := s.layerManager.GetLayerHash(p)
			if err != nil {
				return overlay.ZeroHash, err
			}
			if recorded != expected {
				if err := s.planPart(p, partcraft.Overlay, "previous layer changed"); err != nil {
					return overlay.ZeroHash, err
				}
				if err := s.layerManager.SetLayerHash(p, expected); err != nil {
					return overlay.ZeroHash, err
				}
			}
		}

		prev = expected
		if isTop {
			return expected, nil
		}
	}
	return overlay.ZeroHash, xerrors.Errorf("part %q not found in the project's part list", topPart.Name)
}

// ensureFullStackConsistency implements the "ensure overlay stack
// consistency over all parts" clause of spec.md §4.5's run_step, used
// when a part merely builds or stages against the stack rather than
// contributing its own layer: every stack member whose recorded layer
// hash has drifted from its current parameters is fixed up, and the
// resulting overall stack hash is returned.
func (s *Sequencer) ensureFullStackConsistency() (overlay.Hash, error) {
	stack := s.stackParts()
	if len(stack) == 0 {
		return s.baseLayerHash, nil
	}
	return s.ensureOverlayConsistency(stack[len(stack)-1], false)
}

// checkOverlayDependencies implements spec.md §4.6's
// check_overlay_dependencies: detect an overlay-consistency violation
// for (part, step) and, if found, schedule the corrective action.
func (s *Sequencer) checkOverlayDependencies(part *parts.Part, step partcraft.Step) (bool, error) {
	switch step {
	case partcraft.Overlay:
		recorded, err := s.layerManager.GetLayerHash(part)
		if err != nil {
			return false, err
		}
		// ensureOverlayConsistency also fixes up any earlier stack member
		// whose own recorded hash has drifted from its current spec,
		// scheduling a Reapply for it before we compare part's own hash.
		expected, err := s.ensureOverlayConsistency(part, true)
		if err != nil {
			return false, err
		}
		if recorded != expected {
			return true, s.reapplyLayer(part, expected, "previous layer changed")
		}
		return false, nil

	case partcraft.Build:
		if !parts.HasOverlayVisibility(part, s.partList) {
			return false, nil
		}
		if s.currentStackHash() != s.layerManager.GetOverlayHash(part.Name, partcraft.Build) {
			return true, s.rerunStep(part, partcraft.Build, "overlay changed")
		}
		return false, nil

	case partcraft.Stage:
		if !part.Spec.HasOverlay() {
			return false, nil
		}
		if s.currentStackHash() != s.layerManager.GetOverlayHash(part.Name, partcraft.Stage) {
			return true, s.rerunStep(part, partcraft.Stage, "overlay changed")
		}
		return false, nil
	}
	return false, nil
}

// currentStackHash is the overlay stack hash implied by every stack
// member's current spec, independent of what's recorded on disk.
func (s *Sequencer) currentStackHash() overlay.Hash {
	_, stackHash := overlay.ComputeStack(s.stackParts(), s.baseLayerHash)
	return stackHash
}

func (s *Sequencer) projectVarsFor(part *parts.Part) map[string]string {
	if s.projectVars == nil {
		return nil
	}
	return s.projectVars[part.Name]
}

// installState constructs a provisional StepState for (part, step) and
// installs it in the state manager immediately, so that later cascade
// decisions within the same Plan call see this step as having run. It
// carries only the part-properties/project-options snapshot and the
// overlay hash a real run would have recorded; the executor replaces it
// with the true asset manifest once the step actually executes.
func (s *Sequencer) installState(part *parts.Part, step partcraft.Step, layerHash overlay.Hash) error {
	props := part.Spec.Marshal()

	var st state.StepState
	switch step {
	case partcraft.Pull:
		st = state.NewPullState(props, s.projectOptions, state.PullAssets{})
	case partcraft.Overlay:
		st = state.NewOverlayState(props, s.projectOptions, nil, nil)
	case partcraft.Build:
		var hash []byte
		if layerHash != overlay.ZeroHash {
			hash = layerHash[:]
		}
		st = state.NewBuildState(props, s.projectOptions, nil, nil, state.BuildAssets{}, hash)
	case partcraft.Stage:
		var hash []byte
		if layerHash != overlay.ZeroHash {
			hash = layerHash[:]
		}
		st = state.NewStageState(props, s.projectOptions, nil, nil, hash)
	case partcraft.Prime:
		st = state.NewPrimeState(props, s.projectOptions, nil, nil, nil)
	default:
		return xerrors.Errorf("installState: unknown step %v", step)
	}

	s.stateManager.SetState(part.Name, step, st)
	return nil
}

func (s *Sequencer) emit(partName string, step partcraft.Step, kind partcraft.ActionKind, reason string, vars map[string]string) {
	s.actions = append(s.actions, partcraft.Action{PartName: partName, Step: step, Kind: kind, Reason: reason, ProjectVars: vars})
}

func dependencyVerb(step partcraft.Step) string {
	switch step {
	case partcraft.Build:
		return "build"
	case partcraft.Stage:
		return "stage"
	case partcraft.Prime:
		return "prime"
	}
	return step.Lower()
}
