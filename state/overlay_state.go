package state

import "partcraft"

// OverlayState is the per-step persisted record for the Overlay step.
// Unlike the other steps, Overlay has no properties-of-interest list of
// its own: its dirtiness is entirely governed by layer-hash comparison
// (see the overlay package), not by property diffing.
type OverlayState struct {
	base
}

// NewOverlayState constructs an OverlayState holding the files/dirs
// visible from this layer.
func NewOverlayState(partProperties map[string]any, projectOptions map[string]string, files, dirs map[string]bool) *OverlayState {
	return &OverlayState{base: newBase(partProperties, projectOptions, files, dirs)}
}

func (s *OverlayState) Step() partcraft.Step { return partcraft.Overlay }

func (s *OverlayState) DiffPropertiesOfInterest(current map[string]any) []string {
	return nil
}

func (s *OverlayState) Marshal() map[string]any {
	return s.marshalCommon()
}
