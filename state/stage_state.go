package state

import "partcraft"

var stagePropertiesOfInterest = []string{"stage", "override-stage"}

// StageState is the per-step persisted record for the Stage step.
type StageState struct {
	base
	OverlayHash []byte

	// BackstageFiles and BackstageDirectories record which of this part's
	// staged entries came from the shared overlay-migration pass (overlay
	// view to stage) rather than from this part's own stage fileset, so
	// Stage cleanup can tell "this part's own staged output" apart from
	// "overlay payload staged alongside it."
	BackstageFiles       map[string]bool
	BackstageDirectories map[string]bool
}

// NewStageState constructs a StageState.
func NewStageState(partProperties map[string]any, projectOptions map[string]string, files, dirs map[string]bool, overlayHash []byte) *StageState {
	return &StageState{
		base:                 newBase(partProperties, projectOptions, files, dirs),
		OverlayHash:          overlayHash,
		BackstageFiles:       map[string]bool{},
		BackstageDirectories: map[string]bool{},
	}
}

// WithBackstage attaches the overlay-migration backstage sets to an
// already-constructed StageState and returns it, for callers that only
// know the backstage sets after the fact (the overlay-migration pass runs
// once per project, not once per part).
func (s *StageState) WithBackstage(files, dirs map[string]bool) *StageState {
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

func (s *StageState) Step() partcraft.Step { return partcraft.Stage }

func (s *StageState) DiffPropertiesOfInterest(current map[string]any) []string {
	return diffKeys(s.partProperties, current, stagePropertiesOfInterest)
}

func (s *StageState) GetOverlayHash() []byte { return s.OverlayHash }

func (s *StageState) Marshal() map[string]any {
	m := s.marshalCommon()
	m["overlay-hash"] = hexEncode(s.OverlayHash)
	m["backstage-files"] = stringSetToSlice(s.BackstageFiles)
	m["backstage-directories"] = stringSetToSlice(s.BackstageDirectories)
	return m
}
