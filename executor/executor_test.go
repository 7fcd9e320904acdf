package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"partcraft"
	"partcraft/overlay"
	"partcraft/parts"
	"partcraft/perrors"
	"partcraft/state"
)

func newTestExecutor(t *testing.T, partList []*parts.Part, collab Collaborators) *Executor {
	t.Helper()
	mgr, err := state.NewManager(partList, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	lm := overlay.NewLayerStateManager(mgr)
	return New(partList, mgr, lm, overlay.ZeroHash, nil, collab)
}

func TestPrologueCreatesWorkDirsAndDetectsStageCollisions(t *testing.T) {
	workDir := t.TempDir()
	a := parts.NewPart("a", parts.PartSpec{StageFiles: []string{"*"}}, nil, workDir)
	b := parts.NewPart("b", parts.PartSpec{StageFiles: []string{"*"}}, nil, workDir)
	writeInstallFile(t, a, "bin/tool", "from-a")
	writeInstallFile(t, b, "bin/tool", "from-b")

	e := newTestExecutor(t, []*parts.Part{a, b}, Collaborators{})
	actions := []partcraft.Action{
		{PartName: "a", Step: partcraft.Stage, Kind: partcraft.Run},
	}
	err := e.Prologue(actions, false, "")
	if err == nil {
		t.Fatal("expected Prologue to surface the stage collision")
	}
	if _, ok := err.(*perrors.StageCollisionError); !ok {
		t.Errorf("expected *perrors.StageCollisionError, got %T", err)
	}
	if _, statErr := os.Stat(parts.StageDir(workDir)); statErr != nil {
		t.Errorf("expected stage dir created despite the collision: %v", statErr)
	}
}

func TestPrologueSkipsCollisionCheckWithoutStageAction(t *testing.T) {
	workDir := t.TempDir()
	a := parts.NewPart("a", parts.PartSpec{StageFiles: []string{"*"}}, nil, workDir)
	b := parts.NewPart("b", parts.PartSpec{StageFiles: []string{"*"}}, nil, workDir)
	writeInstallFile(t, a, "bin/tool", "from-a")
	writeInstallFile(t, b, "bin/tool", "from-b")

	e := newTestExecutor(t, []*parts.Part{a, b}, Collaborators{})
	actions := []partcraft.Action{
		{PartName: "a", Step: partcraft.Build, Kind: partcraft.Run},
	}
	if err := e.Prologue(actions, false, ""); err != nil {
		t.Fatalf("expected no collision check without a Stage action, got %v", err)
	}
}

func TestExecuteRunsPullThenBuild(t *testing.T) {
	workDir := t.TempDir()
	srcFixture := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcFixture, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	src := &fakeSource{dir: srcFixture}
	plugin := &fakePlugin{}

	e := newTestExecutor(t, []*parts.Part{p}, Collaborators{
		Sources: map[string]SourceHandler{"foo": src},
		Plugins: map[string]Plugin{"foo": plugin},
	})

	actions := []partcraft.Action{
		{PartName: "foo", Step: partcraft.Pull, Kind: partcraft.Run},
		{PartName: "foo", Step: partcraft.Build, Kind: partcraft.Run},
	}
	if err := e.Execute(context.Background(), actions); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(p.BuildDir(), "f")); err != nil {
		t.Errorf("expected build dir to contain the pulled source: %v", err)
	}
}

func TestCleanBuildRemovesBuildAndInstallDirsOnly(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{}, nil, workDir)
	for _, dir := range []string{p.SrcDir(), p.BuildDir(), p.InstallDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	e := newTestExecutor(t, []*parts.Part{p}, Collaborators{})
	if err := e.Clean("foo", partcraft.Build); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p.BuildDir()); !os.IsNotExist(err) {
		t.Error("expected build dir removed")
	}
	if _, err := os.Stat(p.InstallDir()); !os.IsNotExist(err) {
		t.Error("expected install dir removed")
	}
	if _, err := os.Stat(p.SrcDir()); err != nil {
		t.Error("expected src dir (an earlier step) to survive cleaning Build")
	}
}

func TestCleanStagePreservesEntriesSharedWithAnotherPart(t *testing.T) {
	workDir := t.TempDir()
	a := parts.NewPart("a", parts.PartSpec{StageFiles: []string{"*"}}, nil, workDir)
	b := parts.NewPart("b", parts.PartSpec{StageFiles: []string{"*"}}, nil, workDir)
	writeInstallFile(t, a, "bin/tool", "same")
	writeInstallFile(t, b, "bin/tool", "same")

	e := newTestExecutor(t, []*parts.Part{a, b}, Collaborators{})
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		h, err := e.handlerFor(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := h.runStage(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if err := e.Clean("a", partcraft.Stage); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(parts.StageDir(workDir), "bin", "tool")); err != nil {
		t.Error("expected shared stage file to survive cleaning just part a")
	}
}

func TestEpilogueNoopWithoutOverlayCollaborator(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("foo", parts.PartSpec{OverlayScript: "true"}, nil, workDir)
	e := newTestExecutor(t, []*parts.Part{p}, Collaborators{})
	if err := e.Epilogue(context.Background(), partcraft.Prime); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(parts.PrimeOverlayStatePath(workDir)); !os.IsNotExist(err) {
		t.Error("expected no marker written when no OverlayDriver is configured")
	}
}

// TestEpilogueMigratesOverlayWhiteoutsIntoStageAndPrime exercises the
// whiteout/opaque-directory translation path: a part contributing to the
// overlay stack deletes one lower entry and marks a directory opaque, and
// both effects must show up as OCI markers in stage and prime rather than
// as raw overlayfs device nodes or xattrs, since neither directory is an
// overlay mount itself.
func TestEpilogueMigratesOverlayWhiteoutsIntoStageAndPrime(t *testing.T) {
	workDir := t.TempDir()
	p := parts.NewPart("overlayer", parts.PartSpec{OverlayScript: "true"}, nil, workDir)

	if err := os.MkdirAll(p.LayerDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.LayerDir(), "keep.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := overlay.MakeWhiteout(filepath.Join(p.LayerDir(), "deleted.txt")); err != nil {
		t.Skipf("mknod unsupported in this environment: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(p.LayerDir(), "opaque"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := overlay.MarkOpaqueDir(filepath.Join(p.LayerDir(), "opaque")); err != nil {
		t.Skipf("xattr unsupported in this environment: %v", err)
	}

	e := newTestExecutor(t, []*parts.Part{p}, Collaborators{Overlay: &fakeOverlay{}})
	e.stateManager.SetState(p.Name, partcraft.Stage, state.NewStageState(p.Spec.Marshal(), nil, nil, nil, nil))
	e.stateManager.SetState(p.Name, partcraft.Prime, state.NewPrimeState(p.Spec.Marshal(), nil, nil, nil, nil))

	if err := e.Epilogue(context.Background(), partcraft.Prime); err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{parts.StageDir(workDir), parts.PrimeDir(workDir)} {
		if _, err := os.Stat(filepath.Join(dir, "keep.txt")); err != nil {
			t.Errorf("%s: expected ordinary overlay file migrated: %v", dir, err)
		}
		if _, err := os.Stat(filepath.Join(dir, ".wh.deleted.txt")); err != nil {
			t.Errorf("%s: expected OCI whiteout marker for the deleted entry: %v", dir, err)
		}
		if _, err := os.Stat(filepath.Join(dir, "opaque", overlay.OpaqueMarker)); err != nil {
			t.Errorf("%s: expected OCI opaque marker in migrated opaque dir: %v", dir, err)
		}
		if _, err := os.Stat(filepath.Join(dir, "deleted.txt")); !os.IsNotExist(err) {
			t.Errorf("%s: raw whiteout device node should not be migrated verbatim", dir)
		}
	}

	stageWrapper := e.stateManager.Get(p.Name, partcraft.Stage)
	if stageWrapper == nil {
		t.Fatal("expected Stage state to still be recorded")
	}
	ss, ok := stageWrapper.State.(*state.StageState)
	if !ok {
		t.Fatalf("Stage state = %T, want *state.StageState", stageWrapper.State)
	}
	if !ss.BackstageFiles["keep.txt"] {
		t.Error("expected keep.txt recorded as a Stage backstage file")
	}
	if !ss.BackstageFiles[".wh.deleted.txt"] {
		t.Error("expected the translated whiteout marker recorded as a Stage backstage file")
	}
}
