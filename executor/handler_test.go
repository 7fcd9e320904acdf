package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"partcraft"
	"partcraft/overlay"
	"partcraft/parts"
	"partcraft/state"
)

func newTestHandler(t *testing.T, part *parts.Part, partList []*parts.Part, collab Collaborators) *PartHandler {
	t.Helper()
	mgr, err := state.NewManager(partList, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	lm := overlay.NewLayerStateManager(mgr)
	return newPartHandler(part, partList, mgr, lm, collab, nil, overlay.ZeroHash)
}

func TestRunPullCopiesSourceAndRecordsState(t *testing.T) {
	workDir := t.TempDir()
	srcFixture := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcFixture, "main.c"), []byte("int main(){}"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	src := &fakeSource{dir: srcFixture}
	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{
		Sources: map[string]SourceHandler{"foo": src},
	})

	if err := h.runPull(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.pullCalls != 1 {
		t.Errorf("expected Pull to be called once, got %d", src.pullCalls)
	}
	if _, err := os.Stat(filepath.Join(p.SrcDir(), "main.c")); err != nil {
		t.Errorf("expected source copied into src dir: %v", err)
	}
	if _, err := os.Stat(p.StatePath(partcraft.Pull)); err != nil {
		t.Errorf("expected pull state file written: %v", err)
	}
	if !h.stateManager.HasStepRun("foo", partcraft.Pull) {
		t.Error("expected state manager to record the pull")
	}
}

func TestRunPullFetchesStagePackages(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{StagePackages: []string{"libc"}}, nil, workDir)
	pkgs := newFakePackages()
	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{Packages: pkgs})

	if err := h.runPull(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(p.StagePackagesDir(), "libc.pkg")); err != nil {
		t.Errorf("expected stage package archive written: %v", err)
	}
}

func TestRunBuildRunsPluginCommandsAndCopiesSource(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	if err := os.MkdirAll(p.SrcDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.SrcDir(), "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	marker := filepath.Join(p.InstallDir(), "built")
	plugin := &fakePlugin{commands: []string{"touch " + marker}}
	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{
		Plugins: map[string]Plugin{"foo": plugin},
	})

	if err := h.runBuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(p.BuildDir(), "f")); err != nil {
		t.Errorf("expected source copied into build dir: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("expected plugin build command to have run: %v", err)
	}
}

func TestRunBuildOutOfSourceSkipsCopy(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	if err := os.MkdirAll(p.SrcDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.SrcDir(), "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	plugin := &fakePlugin{outOfSource: true}
	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{
		Plugins: map[string]Plugin{"foo": plugin},
	})

	if err := h.runBuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(p.BuildDir(), "f")); !os.IsNotExist(err) {
		t.Error("expected out-of-source build to skip copying the source tree")
	}
}

func TestRunStageMigratesInstalledFiles(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{StageFiles: []string{"*"}}, nil, workDir)
	writeInstallFile(t, p, "bin/tool", "x")

	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{})
	if err := h.runStage(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(parts.StageDir(workDir), "bin", "tool")); err != nil {
		t.Errorf("expected file migrated into stage dir: %v", err)
	}
}

func TestRunStageAppliesOrganize(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{
		StageFiles: []string{"*"},
		Organize:   map[string]string{"old-name": "renamed"},
	}, nil, workDir)
	writeInstallFile(t, p, "old-name", "x")

	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{})
	if err := h.runStage(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(parts.StageDir(workDir), "renamed")); err != nil {
		t.Errorf("expected organized file staged under its new name: %v", err)
	}
	if _, err := os.Stat(filepath.Join(parts.StageDir(workDir), "old-name")); !os.IsNotExist(err) {
		t.Error("expected old name to be gone from stage after organize")
	}
}

func TestRunPrimeFallsBackToStageFilesWhenPrimeFilesEmpty(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{StageFiles: []string{"*"}}, nil, workDir)
	writeInstallFile(t, p, "bin/tool", "x")

	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{})
	if err := h.runStage(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.runPrime(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(parts.PrimeDir(workDir), "bin", "tool")); err != nil {
		t.Errorf("expected file migrated into prime dir: %v", err)
	}
}

func TestRunOverlaySkippedWhenPartHasNoOverlayParams(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{})

	if err := h.runOverlay(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.stateManager.HasStepRun("foo", partcraft.Overlay) {
		t.Error("expected no overlay state recorded for a part with no overlay parameters")
	}
}

func TestRunOverlayRunsScriptAndRecordsFiles(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{
		OverlayScript: "touch added-by-overlay",
		OverlayFiles:  []string{"*"},
	}, nil, workDir)
	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{})

	if err := h.runOverlay(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(p.LayerDir(), "added-by-overlay")); err != nil {
		t.Errorf("expected overlay script to run in the layer dir: %v", err)
	}
	if !h.stateManager.HasStepRun("foo", partcraft.Overlay) {
		t.Error("expected overlay state to be recorded")
	}
}

func TestRunActionSkipDoesNothing(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{})

	err := h.RunAction(context.Background(), partcraft.Action{
		PartName: "foo", Step: partcraft.Pull, Kind: partcraft.Skip,
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.stateManager.HasStepRun("foo", partcraft.Pull) {
		t.Error("expected Skip to leave no state behind")
	}
}

func TestRunActionReapplyRejectsNonOverlayStep(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{})

	err := h.RunAction(context.Background(), partcraft.Action{
		PartName: "foo", Step: partcraft.Build, Kind: partcraft.Reapply,
	})
	if err == nil {
		t.Fatal("expected an error for Reapply on a non-Overlay step")
	}
}

func TestRunActionUpdateRejectsStageAndPrime(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	h := newTestHandler(t, p, []*parts.Part{p}, Collaborators{})

	err := h.RunAction(context.Background(), partcraft.Action{
		PartName: "foo", Step: partcraft.Stage, Kind: partcraft.Update,
	})
	if err == nil {
		t.Fatal("expected an error for Update on Stage")
	}

	err = h.RunAction(context.Background(), partcraft.Action{
		PartName: "foo", Step: partcraft.Prime, Kind: partcraft.Update,
	})
	if err == nil {
		t.Fatal("expected an error for Update on Prime")
	}
}
