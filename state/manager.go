package state

import (
	"os"
	"sort"

	"partcraft"
	"partcraft/parts"
)

// SourceHandler is the minimal capability the state manager needs from a
// part's source fetcher: whether the on-disk source is newer than the
// recorded pull state. Real fetchers (git/http/tar/...) are external
// collaborators per the specification; this interface is all the core
// needs from them.
type SourceHandler interface {
	CheckIfOutdated(stateFilePath string) (bool, error)
}

// SourceHandlerFactory lazily resolves a part's source handler. It may
// return (nil, nil) for a part with no source, or for one whose source
// type can't be determined.
type SourceHandlerFactory func(part *parts.Part) (SourceHandler, error)

// Manager keeps track of lifecycle execution state: whether a step should
// run, based on on-disk and in-memory state. The database starts
// populated from disk and is thereafter maintained only in memory; disk
// is never re-read except via an explicit reload.
type Manager struct {
	db                   *DB
	partList             []*parts.Part
	sourceHandlerFactory SourceHandlerFactory
	sourceHandlerCache   map[string]SourceHandler
	dirtyCache           map[key]*cachedDirty
	projectOptions       map[string]string
}

type cachedDirty struct {
	report *DirtyReport
}

// NewManager constructs a Manager and loads any on-disk state for
// partList, in order of file modification time (oldest first) so that the
// serials assigned to reloaded state reflect on-disk age.
func NewManager(partList []*parts.Part, projectOptions map[string]string, sourceHandlerFactory SourceHandlerFactory) (*Manager, error) {
	m := &Manager{
		db:                   NewDB(),
		partList:             partList,
		sourceHandlerFactory: sourceHandlerFactory,
		sourceHandlerCache:   map[string]SourceHandler{},
		dirtyCache:           map[key]*cachedDirty{},
		projectOptions:       projectOptions,
	}

	type entry struct {
		part  *parts.Part
		step  partcraft.Step
		mtime int64
	}
	var entries []entry
	for _, p := range partList {
		for _, step := range partcraft.AllSteps() {
			path := p.StatePath(step)
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			entries = append(entries, entry{p, step, info.ModTime().UnixNano()})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime < entries[j].mtime })

	for _, e := range entries {
		st, err := Load(e.part.StatePath(e.step), e.step)
		if err != nil {
			return nil, err
		}
		if st != nil {
			m.SetState(e.part.Name, e.step, st)
		}
	}

	return m, nil
}

// SetState installs a fresh wrapper for (partName, step). Any part's step
// may depend (directly or transitively) on this one, so the whole dirty
// cache is dropped rather than just this entry's.
func (m *Manager) SetState(partName string, step partcraft.Step, s StepState) {
	m.db.Set(partName, step, m.db.Wrap(s, false))
	m.dirtyCache = map[key]*cachedDirty{}
}

// UpdateStateTimestamp rewraps the existing entry with a new serial,
// marking it as recently written without changing its content.
func (m *Manager) UpdateStateTimestamp(partName string, step partcraft.Step) {
	m.db.Rewrap(partName, step, m.db.IsStepUpdated(partName, step))
}

// MarkStepUpdated rewraps the existing entry, setting step_updated so an
// outdated report isn't raised again for the same wrapper.
func (m *Manager) MarkStepUpdated(partName string, step partcraft.Step) {
	m.db.Rewrap(partName, step, true)
}

// CleanPart removes the state for step and every later step of partName.
func (m *Manager) CleanPart(partName string, step partcraft.Step) {
	for _, s := range append([]partcraft.Step{step}, step.NextSteps()...) {
		m.db.Remove(partName, s)
	}
	m.dirtyCache = map[key]*cachedDirty{}
}

// HasStepRun reports whether a wrapper exists for (partName, step).
func (m *Manager) HasStepRun(partName string, step partcraft.Step) bool {
	return m.db.Test(partName, step)
}

// Get exposes the wrapped state for (partName, step), or nil.
func (m *Manager) Get(partName string, step partcraft.Step) *Wrapper {
	return m.db.Get(partName, step)
}

// ShouldStepRun reports whether (partName, step) should run: it hasn't
// run, it's dirty, it's outdated, or an earlier step in the part's
// lifecycle should run.
func (m *Manager) ShouldStepRun(part *parts.Part, step partcraft.Step) bool {
	if !m.HasStepRun(part.Name, step) {
		return true
	}
	if m.CheckIfOutdated(part, step) != nil {
		return true
	}
	if m.CheckIfDirty(part, step) != nil {
		return true
	}
	prev := step.PreviousSteps()
	if len(prev) > 0 {
		return m.ShouldStepRun(part, prev[len(prev)-1])
	}
	return false
}

func (m *Manager) sourceHandler(part *parts.Part) (SourceHandler, error) {
	if sh, ok := m.sourceHandlerCache[part.Name]; ok {
		return sh, nil
	}
	if m.sourceHandlerFactory == nil {
		m.sourceHandlerCache[part.Name] = nil
		return nil, nil
	}
	sh, err := m.sourceHandlerFactory(part)
	if err != nil {
		return nil, err
	}
	m.sourceHandlerCache[part.Name] = sh
	return sh, nil
}

// CheckIfOutdated reports whether (part, step) is outdated: fresh enough
// to skip a full rerun, but needing its inputs re-imported because an
// earlier step ran more recently, or the source changed on disk.
func (m *Manager) CheckIfOutdated(part *parts.Part, step partcraft.Step) *OutdatedReport {
	if m.db.IsStepUpdated(part.Name, step) {
		return nil
	}

	w := m.db.Get(part.Name, step)
	if w == nil {
		return nil
	}

	switch step {
	case partcraft.Pull:
		sh, err := m.sourceHandler(part)
		if err == nil && sh != nil {
			outdated, checkErr := sh.CheckIfOutdated(part.StatePath(step))
			if checkErr == nil && outdated {
				return &OutdatedReport{SourceModified: true}
			}
			// SourceUpdateUnsupported (or any other check error) is treated
			// as "not outdated", per spec.md §7.
		}
		return nil

	case partcraft.Build:
		pullW := m.db.Get(part.Name, partcraft.Pull)
		if pullW != nil && pullW.IsNewerThan(w) {
			s := partcraft.Pull
			return &OutdatedReport{PreviousStepModified: &s}
		}
		return nil

	default:
		prevSteps := step.PreviousSteps()
		for i := len(prevSteps) - 1; i >= 0; i-- {
			prevW := m.db.Get(part.Name, prevSteps[i])
			if prevW != nil && prevW.IsNewerThan(w) {
				s := prevSteps[i]
				return &OutdatedReport{PreviousStepModified: &s}
			}
		}
		return nil
	}
}

// CheckIfDirty reports whether (part, step) is dirty: properties or
// project options used by the step have changed, or a dependency has
// been re-staged, since the step last ran. Results are memoized per
// (part, step) until invalidated by SetState or CleanPart.
func (m *Manager) CheckIfDirty(part *parts.Part, step partcraft.Step) *DirtyReport {
	k := key{part.Name, step}
	if cached, ok := m.dirtyCache[k]; ok {
		return cached.report
	}

	w := m.db.Get(part.Name, step)
	if w == nil {
		return nil
	}

	partProperties := part.Spec.Marshal()
	properties := w.State.DiffPropertiesOfInterest(partProperties)
	options := w.State.DiffProjectOptionsOfInterest(m.projectOptions)

	if len(properties) > 0 || len(options) > 0 {
		report := &DirtyReport{DirtyProperties: properties, DirtyProjectOptions: options}
		m.dirtyCache[k] = &cachedDirty{report}
		return report
	}

	prerequisiteStep, ok := partcraft.DependencyPrerequisiteStep(step)
	if !ok {
		m.dirtyCache[k] = &cachedDirty{nil}
		return nil
	}

	dependencies := parts.PartDependencies(part, m.partList, true)
	var changed []Dependency
	for _, dep := range dependencies {
		prereqW := m.db.Get(dep.Name, prerequisiteStep)
		dependencyChanged := prereqW == nil || prereqW.IsNewerThan(w)
		if dependencyChanged || m.ShouldStepRun(dep, prerequisiteStep) {
			changed = append(changed, Dependency{PartName: dep.Name, Step: prerequisiteStep})
		}
	}

	if len(changed) > 0 {
		report := &DirtyReport{ChangedDependencies: changed}
		m.dirtyCache[k] = &cachedDirty{report}
		return report
	}

	m.dirtyCache[k] = &cachedDirty{nil}
	return nil
}

// GetStepStateOverlayHash returns the overlay hash recorded in the Build
// or Stage state for (part, step), or nil if the step hasn't run or
// recorded no hash. Panics if step is not Build or Stage: this mirrors a
// programmer error, not a runtime condition.
func (m *Manager) GetStepStateOverlayHash(partName string, step partcraft.Step) []byte {
	if step != partcraft.Build && step != partcraft.Stage {
		panic("GetStepStateOverlayHash: only Build and Stage states have an overlay hash")
	}
	w := m.db.Get(partName, step)
	if w == nil {
		return nil
	}
	switch st := w.State.(type) {
	case *BuildState:
		return st.OverlayHash
	case *StageState:
		return st.OverlayHash
	}
	return nil
}
