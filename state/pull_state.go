package state

import "partcraft"

// pullStaticPropertiesOfInterest lists the fixed Pull keys (plugin,
// stage-packages, overlay-packages, override-pull); every source-* key is
// compared as well (spec.md §4.4).
var pullStaticPropertiesOfInterest = []string{"plugin", "stage-packages", "overlay-packages", "override-pull"}

// PullAssets records what a Pull step actually fetched: the resolved
// stage-package list, the stage-snap list, and source-handler-reported
// details (e.g. a resolved commit hash). The details are recorded in the
// state file; CheckIfOutdated does not read them.
type PullAssets struct {
	StagePackages []string
	StageSnaps    []string
	SourceDetails map[string]any
}

// PullState is the per-step persisted record for the Pull step.
type PullState struct {
	base
	Assets PullAssets
}

// NewPullState constructs a PullState.
func NewPullState(partProperties map[string]any, projectOptions map[string]string, assets PullAssets) *PullState {
	return &PullState{base: newBase(partProperties, projectOptions, nil, nil), Assets: assets}
}

func (s *PullState) Step() partcraft.Step { return partcraft.Pull }

func (s *PullState) DiffPropertiesOfInterest(current map[string]any) []string {
	keys := append(append([]string(nil), sourcePropertyKeys(s.partProperties)...), pullStaticPropertiesOfInterest...)
	// Also look for source-* keys newly present in current but absent when
	// recorded, so adding a source property for the first time is caught.
	for k := range current {
		if len(k) >= 6 && k[:6] == "source" {
			keys = append(keys, k)
		}
	}
	keys = dedupe(keys)
	return diffKeys(s.partProperties, current, keys)
}

func (s *PullState) Marshal() map[string]any {
	m := s.marshalCommon()
	m["assets"] = map[string]any{
		"stage-packages": s.Assets.StagePackages,
		"stage-snaps":    s.Assets.StageSnaps,
		"source-details": s.Assets.SourceDetails,
	}
	return m
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
