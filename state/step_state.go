package state

import (
	"reflect"
	"strings"

	"partcraft"
)

// StepState is the common interface satisfied by every per-step persisted
// record (PullState, OverlayState, BuildState, StageState, PrimeState).
type StepState interface {
	// Step identifies which lifecycle step this state belongs to.
	Step() partcraft.Step

	// PartProperties is the part properties snapshot taken when the step
	// ran, as returned by PartSpec.Marshal.
	PartProperties() map[string]any

	// ProjectOptions is the project options snapshot taken when the step
	// ran.
	ProjectOptions() map[string]string

	// Files and Directories are the (files, dirs) pair migrated by this
	// step, used by clean_shared_area and by Prime's fileset defaults.
	Files() map[string]bool
	Directories() map[string]bool

	// DiffPropertiesOfInterest returns the subset of this state type's
	// properties-of-interest keys whose value in current differs from the
	// value recorded at the time the step ran.
	DiffPropertiesOfInterest(current map[string]any) []string

	// DiffProjectOptionsOfInterest returns the subset of project option
	// keys whose value in current differs from the value recorded at the
	// time the step ran.
	DiffProjectOptionsOfInterest(current map[string]string) []string

	// Marshal returns the YAML-ready map representation of this state,
	// matching the on-disk shape described in the external interfaces.
	Marshal() map[string]any
}

// projectOptionsOfInterest is the set of project option keys every step
// compares for dirtiness. Unlike part properties, this set doesn't vary by
// step: any project option that affects a build (target architecture,
// build-for) can dirty any step.
var projectOptionsOfInterest = []string{"target-arch", "build-for"}

func diffKeys(recorded, current map[string]any, keys []string) []string {
	var out []string
	for _, k := range keys {
		if !reflect.DeepEqual(recorded[k], current[k]) {
			out = append(out, k)
		}
	}
	return out
}

func diffOptionKeys(recorded, current map[string]string) []string {
	var out []string
	for _, k := range projectOptionsOfInterest {
		if recorded[k] != current[k] {
			out = append(out, k)
		}
	}
	return out
}

func sourcePropertyKeys(props map[string]any) []string {
	var out []string
	for k := range props {
		if strings.HasPrefix(k, "source") {
			out = append(out, k)
		}
	}
	return out
}

func stringSetToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sliceToStringSet(s []string) map[string]bool {
	m := make(map[string]bool, len(s))
	for _, v := range s {
		m[v] = true
	}
	return m
}

type base struct {
	partProperties map[string]any
	projectOptions map[string]string
	files          map[string]bool
	directories    map[string]bool
}

func newBase(partProperties map[string]any, projectOptions map[string]string, files, directories map[string]bool) base {
	if files == nil {
		files = map[string]bool{}
	}
	if directories == nil {
		directories = map[string]bool{}
	}
	return base{
		partProperties: partProperties,
		projectOptions: projectOptions,
		files:          files,
		directories:    directories,
	}
}

func (b base) PartProperties() map[string]any      { return b.partProperties }
func (b base) ProjectOptions() map[string]string    { return b.projectOptions }
func (b base) Files() map[string]bool               { return b.files }
func (b base) Directories() map[string]bool         { return b.directories }

func (b base) DiffProjectOptionsOfInterest(current map[string]string) []string {
	return diffOptionKeys(b.projectOptions, current)
}

func (b base) marshalCommon() map[string]any {
	return map[string]any{
		"part-properties": b.partProperties,
		"project-options": b.projectOptions,
		"files":           stringSetToSlice(b.files),
		"directories":     stringSetToSlice(b.directories),
	}
}
