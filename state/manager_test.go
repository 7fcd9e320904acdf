package state

import (
	"os"
	"testing"

	"partcraft"
	"partcraft/parts"
)

func newTestPart(t *testing.T, name string, spec parts.PartSpec, workDir string) *parts.Part {
	t.Helper()
	p := parts.NewPart(name, spec, nil, workDir)
	if err := os.MkdirAll(p.StateDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestManagerShouldStepRunWhenNeverRun(t *testing.T) {
	workDir := t.TempDir()
	p := newTestPart(t, "foo", parts.PartSpec{}, workDir)

	m, err := NewManager([]*parts.Part{p}, map[string]string{"target-arch": "amd64"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !m.ShouldStepRun(p, partcraft.Pull) {
		t.Error("a part with no recorded state should run Pull")
	}
}

func TestManagerCheckIfDirtyOnPropertyChange(t *testing.T) {
	workDir := t.TempDir()
	spec := parts.PartSpec{BuildPackages: []string{"gcc"}}
	p := newTestPart(t, "foo", spec, workDir)

	m, err := NewManager([]*parts.Part{p}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	m.SetState(p.Name, partcraft.Build, NewBuildState(spec.Marshal(), nil, nil, nil, BuildAssets{}, nil))

	p.Spec.BuildPackages = []string{"gcc", "make"}

	report := m.CheckIfDirty(p, partcraft.Build)
	if report == nil {
		t.Fatal("expected Build to be dirty after build-packages changed")
	}
	if len(report.DirtyProperties) != 1 || report.DirtyProperties[0] != "build-packages" {
		t.Errorf("DirtyProperties = %v, want [build-packages]", report.DirtyProperties)
	}
	if got, want := report.Reason(), `"build-packages" property changed`; got != want {
		t.Errorf("Reason() = %q, want %q", got, want)
	}
}

func TestManagerCheckIfDirtyIsCached(t *testing.T) {
	workDir := t.TempDir()
	spec := parts.PartSpec{}
	p := newTestPart(t, "foo", spec, workDir)

	m, err := NewManager([]*parts.Part{p}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	m.SetState(p.Name, partcraft.Build, NewBuildState(spec.Marshal(), nil, nil, nil, BuildAssets{}, nil))

	first := m.CheckIfDirty(p, partcraft.Build)
	p.Spec.BuildPackages = []string{"gcc"}
	second := m.CheckIfDirty(p, partcraft.Build)

	if first != second {
		t.Error("CheckIfDirty should return a memoized report until SetState/CleanPart invalidates it")
	}
}

func TestManagerCheckIfOutdatedOnPreviousStepNewer(t *testing.T) {
	workDir := t.TempDir()
	spec := parts.PartSpec{}
	p := newTestPart(t, "foo", spec, workDir)

	m, err := NewManager([]*parts.Part{p}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	m.SetState(p.Name, partcraft.Build, NewBuildState(spec.Marshal(), nil, nil, nil, BuildAssets{}, nil))
	m.SetState(p.Name, partcraft.Pull, NewPullState(spec.Marshal(), nil, PullAssets{}))

	report := m.CheckIfOutdated(p, partcraft.Build)
	if report == nil {
		t.Fatal("expected Build to be outdated: Pull was (re)set after it")
	}
	if report.PreviousStepModified == nil || *report.PreviousStepModified != partcraft.Pull {
		t.Errorf("PreviousStepModified = %v, want Pull", report.PreviousStepModified)
	}
}

func TestManagerMarkStepUpdatedSuppressesOutdated(t *testing.T) {
	workDir := t.TempDir()
	spec := parts.PartSpec{}
	p := newTestPart(t, "foo", spec, workDir)

	m, err := NewManager([]*parts.Part{p}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	m.SetState(p.Name, partcraft.Build, NewBuildState(spec.Marshal(), nil, nil, nil, BuildAssets{}, nil))
	m.SetState(p.Name, partcraft.Pull, NewPullState(spec.Marshal(), nil, PullAssets{}))
	m.MarkStepUpdated(p.Name, partcraft.Build)

	if report := m.CheckIfOutdated(p, partcraft.Build); report != nil {
		t.Errorf("expected no outdated report after MarkStepUpdated, got %+v", report)
	}
}

func TestManagerCleanPartRemovesLaterSteps(t *testing.T) {
	workDir := t.TempDir()
	spec := parts.PartSpec{}
	p := newTestPart(t, "foo", spec, workDir)

	m, err := NewManager([]*parts.Part{p}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	m.SetState(p.Name, partcraft.Pull, NewPullState(spec.Marshal(), nil, PullAssets{}))
	m.SetState(p.Name, partcraft.Build, NewBuildState(spec.Marshal(), nil, nil, nil, BuildAssets{}, nil))
	m.SetState(p.Name, partcraft.Stage, NewStageState(spec.Marshal(), nil, nil, nil, nil))

	m.CleanPart(p.Name, partcraft.Build)

	if !m.HasStepRun(p.Name, partcraft.Pull) {
		t.Error("CleanPart(Build) should not remove Pull")
	}
	if m.HasStepRun(p.Name, partcraft.Build) {
		t.Error("CleanPart(Build) should remove Build")
	}
	if m.HasStepRun(p.Name, partcraft.Stage) {
		t.Error("CleanPart(Build) should remove Stage")
	}
}

func TestManagerCheckIfDirtyFromChangedDependency(t *testing.T) {
	workDir := t.TempDir()
	dep := newTestPart(t, "base", parts.PartSpec{}, workDir)
	main := newTestPart(t, "foo", parts.PartSpec{After: []string{"base"}}, workDir)

	m, err := NewManager([]*parts.Part{dep, main}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, part := range []*parts.Part{dep, main} {
		m.SetState(part.Name, partcraft.Pull, NewPullState(part.Spec.Marshal(), nil, PullAssets{}))
		m.SetState(part.Name, partcraft.Overlay, NewOverlayState(part.Spec.Marshal(), nil, nil, nil))
		m.SetState(part.Name, partcraft.Build, NewBuildState(part.Spec.Marshal(), nil, nil, nil, BuildAssets{}, nil))
		m.SetState(part.Name, partcraft.Stage, NewStageState(part.Spec.Marshal(), nil, nil, nil, nil))
	}

	if report := m.CheckIfDirty(main, partcraft.Stage); report != nil {
		t.Fatalf("expected clean before the dependency restaged, got %+v", report)
	}

	m.SetState(dep.Name, partcraft.Stage, NewStageState(dep.Spec.Marshal(), nil, nil, nil, nil))

	report := m.CheckIfDirty(main, partcraft.Stage)
	if report == nil {
		t.Fatal("expected Stage to be dirty after the dependency's Stage state was replaced")
	}
	if len(report.ChangedDependencies) != 1 || report.ChangedDependencies[0].PartName != "base" {
		t.Errorf("ChangedDependencies = %+v, want [{base Stage}]", report.ChangedDependencies)
	}
}

func TestManagerReloadsStateSortedByModTime(t *testing.T) {
	workDir := t.TempDir()
	spec := parts.PartSpec{}
	p := newTestPart(t, "foo", spec, workDir)

	if err := Write(p.StatePath(partcraft.Pull), NewPullState(spec.Marshal(), nil, PullAssets{})); err != nil {
		t.Fatal(err)
	}
	if err := Write(p.StatePath(partcraft.Build), NewBuildState(spec.Marshal(), nil, nil, nil, BuildAssets{}, nil)); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager([]*parts.Part{p}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !m.HasStepRun(p.Name, partcraft.Pull) || !m.HasStepRun(p.Name, partcraft.Build) {
		t.Fatal("expected both Pull and Build state to be reloaded from disk")
	}

	// Pull was written first, so it must have an earlier (or equal, on a
	// coarse filesystem clock) serial than Build's reloaded wrapper.
	if m.Get(p.Name, partcraft.Pull).Serial > m.Get(p.Name, partcraft.Build).Serial {
		t.Error("state reloaded from disk should be ordered by file modification time")
	}
}
