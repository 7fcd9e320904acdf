package state

import "partcraft"

var primePropertiesOfInterest = []string{"prime", "override-prime"}

// PrimeState is the per-step persisted record for the Prime step.
type PrimeState struct {
	base
	PrimedStagePackages map[string]bool

	// BackstageFiles and BackstageDirectories record which of this part's
	// primed entries came from the shared overlay-migration pass (stage
	// to prime) rather than from this part's own stage fileset, so Prime
	// cleanup can tell "this part's own staged output" apart from
	// "overlay payload primed alongside it."
	BackstageFiles       map[string]bool
	BackstageDirectories map[string]bool
}

// NewPrimeState constructs a PrimeState.
func NewPrimeState(partProperties map[string]any, projectOptions map[string]string, files, dirs map[string]bool, primedStagePackages map[string]bool) *PrimeState {
	if primedStagePackages == nil {
		primedStagePackages = map[string]bool{}
	}
	return &PrimeState{
		base:                 newBase(partProperties, projectOptions, files, dirs),
		PrimedStagePackages:  primedStagePackages,
		BackstageFiles:       map[string]bool{},
		BackstageDirectories: map[string]bool{},
	}
}

// WithBackstage attaches the overlay-migration backstage sets to an
// already-constructed PrimeState and returns it, for callers that only
// know the backstage sets after the fact (the overlay-migration pass runs
// once per project, not once per part).
func (s *PrimeState) WithBackstage(files, dirs map[string]bool) *PrimeState {
	if files == nil {
		files = map[string]bool{}
	}
	if dirs == nil {
		dirs = map[string]bool{}
	}
	s.BackstageFiles = files
	s.BackstageDirectories = dirs
	return s
}

func (s *PrimeState) Step() partcraft.Step { return partcraft.Prime }

func (s *PrimeState) DiffPropertiesOfInterest(current map[string]any) []string {
	return diffKeys(s.partProperties, current, primePropertiesOfInterest)
}

func (s *PrimeState) Marshal() map[string]any {
	m := s.marshalCommon()
	m["primed-stage-packages"] = stringSetToSlice(s.PrimedStagePackages)
	m["backstage-files"] = stringSetToSlice(s.BackstageFiles)
	m["backstage-directories"] = stringSetToSlice(s.BackstageDirectories)
	return m
}
