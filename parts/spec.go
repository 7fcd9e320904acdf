// Package parts defines the immutable description of a project's parts:
// their specification, dependency graph and on-disk directory layout.
package parts

import "sort"

// PartSpec is the immutable, declarative description of one part, as
// loaded from the project file. Field names mirror the project file's
// YAML keys (see the `yaml` tags) so that PartSpec.Marshal produces the
// same key set the state manager persists and compares against.
type PartSpec struct {
	Plugin string `yaml:"plugin,omitempty"`

	SourceURI     string            `yaml:"source,omitempty"`
	SourceType    string            `yaml:"source-type,omitempty"`
	SourceOptions map[string]string `yaml:"source-options,omitempty"`

	After []string `yaml:"after,omitempty"`

	StagePackages   []string `yaml:"stage-packages,omitempty"`
	StageSnaps      []string `yaml:"stage-snaps,omitempty"`
	BuildPackages   []string `yaml:"build-packages,omitempty"`
	BuildSnaps      []string `yaml:"build-snaps,omitempty"`
	OverlayPackages []string `yaml:"overlay-packages,omitempty"`

	// OverlayFiles is the fileset applied to the overlay layer directory
	// after the overlay script runs.
	OverlayFiles []string `yaml:"overlay,omitempty"`
	OverlayScript string  `yaml:"overlay-script,omitempty"`

	StageFiles []string `yaml:"stage,omitempty"`
	PrimeFiles []string `yaml:"prime,omitempty"`

	// Organize maps a source path (relative to the install directory, taken
	// literally; glob patterns are not expanded) to a destination path.
	Organize map[string]string `yaml:"organize,omitempty"`

	OverridePull  string `yaml:"override-pull,omitempty"`
	OverrideBuild string `yaml:"override-build,omitempty"`
	OverrideStage string `yaml:"override-stage,omitempty"`
	OverridePrime string `yaml:"override-prime,omitempty"`

	DisableParallel  bool                `yaml:"disable-parallel,omitempty"`
	BuildAttributes  []string            `yaml:"build-attributes,omitempty"`
	BuildEnvironment []map[string]string `yaml:"build-environment,omitempty"`

	// StagePartitions holds partition-scoped stage filesets, keyed by
	// partition name, used only when the partition feature is enabled.
	StagePartitions map[string][]string `yaml:"stage-partitions,omitempty"`
}

// HasOverlay reports whether this part declares any overlay parameters:
// overlay packages, an overlay script, or an overlay file filter. This is
// exactly the set of fields OverlayParams covers (spec: "the fields that
// affect overlay contents").
func (s PartSpec) HasOverlay() bool {
	return len(s.OverlayPackages) > 0 || s.OverlayScript != "" || len(s.OverlayFiles) > 0
}

// Marshal returns a deterministic map view of the spec, used both for
// state-file persistence and for dirty-property comparison. Keys match the
// project file's YAML keys.
func (s PartSpec) Marshal() map[string]any {
	m := map[string]any{}
	if s.Plugin != "" {
		m["plugin"] = s.Plugin
	}
	if s.SourceURI != "" {
		m["source"] = s.SourceURI
	}
	if s.SourceType != "" {
		m["source-type"] = s.SourceType
	}
	if len(s.SourceOptions) > 0 {
		m["source-options"] = s.SourceOptions
	}
	if len(s.After) > 0 {
		m["after"] = append([]string(nil), s.After...)
	}
	if len(s.StagePackages) > 0 {
		m["stage-packages"] = append([]string(nil), s.StagePackages...)
	}
	if len(s.StageSnaps) > 0 {
		m["stage-snaps"] = append([]string(nil), s.StageSnaps...)
	}
	if len(s.BuildPackages) > 0 {
		m["build-packages"] = append([]string(nil), s.BuildPackages...)
	}
	if len(s.BuildSnaps) > 0 {
		m["build-snaps"] = append([]string(nil), s.BuildSnaps...)
	}
	if len(s.OverlayPackages) > 0 {
		m["overlay-packages"] = append([]string(nil), s.OverlayPackages...)
	}
	if len(s.OverlayFiles) > 0 {
		m["overlay"] = append([]string(nil), s.OverlayFiles...)
	}
	if s.OverlayScript != "" {
		m["overlay-script"] = s.OverlayScript
	}
	if len(s.StageFiles) > 0 {
		m["stage"] = append([]string(nil), s.StageFiles...)
	}
	if len(s.PrimeFiles) > 0 {
		m["prime"] = append([]string(nil), s.PrimeFiles...)
	}
	if len(s.Organize) > 0 {
		om := map[string]string{}
		for k, v := range s.Organize {
			om[k] = v
		}
		m["organize"] = om
	}
	if s.OverridePull != "" {
		m["override-pull"] = s.OverridePull
	}
	if s.OverrideBuild != "" {
		m["override-build"] = s.OverrideBuild
	}
	if s.OverrideStage != "" {
		m["override-stage"] = s.OverrideStage
	}
	if s.OverridePrime != "" {
		m["override-prime"] = s.OverridePrime
	}
	if s.DisableParallel {
		m["disable-parallel"] = s.DisableParallel
	}
	if len(s.BuildAttributes) > 0 {
		m["build-attributes"] = append([]string(nil), s.BuildAttributes...)
	}
	if len(s.BuildEnvironment) > 0 {
		m["build-environment"] = s.BuildEnvironment
	}
	if len(s.StagePartitions) > 0 {
		m["stage-partitions"] = s.StagePartitions
	}
	return m
}

// sortedKeys returns m's keys in sorted order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
