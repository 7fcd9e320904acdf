package state

import "partcraft"

var buildPropertiesOfInterest = []string{
	"build-packages", "build-snaps", "after", "organize",
	"override-build", "disable-parallel", "build-attributes",
}

// BuildAssets records the asset manifest captured when a Build step ran:
// the installed package/snap list and the build host's uname, used purely
// for diagnostics and reproducibility, never for dirty/outdated decisions.
type BuildAssets struct {
	Packages []string
	Snaps    []string
	Uname    string
}

// BuildState is the per-step persisted record for the Build step.
type BuildState struct {
	base
	Assets     BuildAssets
	OverlayHash []byte
}

// NewBuildState constructs a BuildState.
func NewBuildState(partProperties map[string]any, projectOptions map[string]string, files, dirs map[string]bool, assets BuildAssets, overlayHash []byte) *BuildState {
	return &BuildState{
		base:        newBase(partProperties, projectOptions, files, dirs),
		Assets:      assets,
		OverlayHash: overlayHash,
	}
}

func (s *BuildState) Step() partcraft.Step { return partcraft.Build }

func (s *BuildState) DiffPropertiesOfInterest(current map[string]any) []string {
	return diffKeys(s.partProperties, current, buildPropertiesOfInterest)
}

// GetOverlayHash returns the overlay stack hash recorded when Build ran.
func (s *BuildState) GetOverlayHash() []byte { return s.OverlayHash }

func (s *BuildState) Marshal() map[string]any {
	m := s.marshalCommon()
	m["assets"] = map[string]any{
		"build-packages": s.Assets.Packages,
		"build-snaps":    s.Assets.Snaps,
		"uname":          s.Assets.Uname,
	}
	m["overlay-hash"] = hexEncode(s.OverlayHash)
	return m
}
