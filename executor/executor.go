package executor

import (
	"context"
	"log"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/xerrors"

	"partcraft"
	"partcraft/fileset"
	"partcraft/overlay"
	"partcraft/parts"
	"partcraft/state"
)

// Executor runs a plan produced by a Sequencer against a project's parts.
// It owns no planning logic of its own: every decision about what to run
// was already made when the plan was built, and a part whose recorded
// state drifts from what the executor just did is a programmer error, not
// a condition the executor corrects.
type Executor struct {
	partList       []*parts.Part
	stateManager   *state.Manager
	layerManager   *overlay.LayerStateManager
	baseLayerHash  overlay.Hash
	projectOptions map[string]string
	collab         Collaborators

	handlers map[string]*PartHandler
}

// New constructs an Executor for partList, sharing the same collaborators
// and base layer hash the Sequencer that produced the plan was given.
func New(partList []*parts.Part, stateManager *state.Manager, layerManager *overlay.LayerStateManager, baseLayerHash overlay.Hash, projectOptions map[string]string, collab Collaborators) *Executor {
	return &Executor{
		partList:       partList,
		stateManager:   stateManager,
		layerManager:   layerManager,
		baseLayerHash:  baseLayerHash,
		projectOptions: projectOptions,
		collab:         collab,
		handlers:       map[string]*PartHandler{},
	}
}

func (e *Executor) handlerFor(partName string) (*PartHandler, error) {
	if h, ok := e.handlers[partName]; ok {
		return h, nil
	}
	part, ok := parts.PartByName(partName, e.partList)
	if !ok {
		return nil, xerrors.Errorf("executor: unknown part %q", partName)
	}
	h := newPartHandler(part, e.partList, e.stateManager, e.layerManager, e.collab, e.projectOptions, e.baseLayerHash)
	e.handlers[partName] = h
	return h, nil
}

// Prologue prepares the project-wide work directories and runs the
// collision check every plan must pass before any Stage action executes.
// It must be called once, before Execute, for any plan that contains a
// Stage action.
func (e *Executor) Prologue(actions []partcraft.Action, partitionsEnabled bool, defaultPartition string) error {
	for _, dir := range []string{
		parts.PartsDir(e.workDir()),
		parts.StageDir(e.workDir()),
		parts.PrimeDir(e.workDir()),
		parts.OverlayDir(e.workDir()),
	} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Errorf("prologue: create %s: %v", dir, err)
		}
	}

	hasStage := false
	for _, a := range actions {
		if a.Step == partcraft.Stage && a.Kind != partcraft.Skip {
			hasStage = true
			break
		}
	}
	if !hasStage {
		return nil
	}
	return CheckForStageCollisions(e.partList, partitionsEnabled, defaultPartition)
}

func (e *Executor) workDir() string {
	if len(e.partList) == 0 {
		return ""
	}
	return e.partList[0].WorkDir
}

// Execute runs every action in order, stopping at the first failure. The
// caller is expected to have already run Prologue on the same plan.
func (e *Executor) Execute(ctx context.Context, actions []partcraft.Action) error {
	for _, action := range actions {
		h, err := e.handlerFor(action.PartName)
		if err != nil {
			return err
		}
		log.Printf("executing %s", action)
		if err := h.RunAction(ctx, action); err != nil {
			return xerrors.Errorf("action %s: %v", action, err)
		}
	}
	return nil
}

// Epilogue runs the project-wide migration pass that moves shared overlay
// payload (package-manager databases, shared libraries contributed by the
// overlay stack rather than any single part) from the overlay view into
// stage and prime, once per invocation rather than once per part. It is a
// no-op for a project with no overlay-visible parts.
func (e *Executor) Epilogue(ctx context.Context, targetStep partcraft.Step) error {
	if targetStep < partcraft.Stage {
		return nil
	}
	if e.collab.Overlay == nil {
		return nil
	}

	var topStack []string
	var stackParts []*parts.Part
	for _, p := range e.partList {
		if p.Spec.HasOverlay() {
			topStack = append(topStack, p.LayerDir())
			stackParts = append(stackParts, p)
		}
	}
	if len(topStack) == 0 {
		return nil
	}

	workDir := e.workDir()
	view := parts.OverlayDir(workDir) + "_view"
	if err := e.collab.Overlay.Mount(ctx, topStack, view); err != nil {
		return xerrors.Errorf("epilogue: mount overlay stack: %v", err)
	}
	defer func() {
		if err := e.collab.Overlay.Unmount(ctx, view); err != nil {
			log.Printf("epilogue: unmount overlay stack: %v", err)
		}
	}()

	if targetStep >= partcraft.Stage {
		topPart := stackParts[len(stackParts)-1]
		if err := e.migrateOverlayBackstage(view, parts.StageDir(workDir), partcraft.Stage, topPart); err != nil {
			return err
		}
		if err := markOverlayMigrated(parts.StageOverlayStatePath(workDir)); err != nil {
			return err
		}
	}
	if targetStep >= partcraft.Prime {
		topPart := stackParts[len(stackParts)-1]
		if err := e.migrateOverlayBackstage(view, parts.PrimeDir(workDir), partcraft.Prime, topPart); err != nil {
			return err
		}
		if err := markOverlayMigrated(parts.PrimeOverlayStatePath(workDir)); err != nil {
			return err
		}
	}
	return nil
}

// migrateOverlayBackstage migrates the overlay view's content that no
// part's own fileset for step already claims into destDir (the shared
// stage or prime directory), translating overlayfs whiteouts and opaque
// directories into their OCI marker form along the way since destDir is a
// plain tree with no overlayfs semantics of its own. It records the
// migrated entries against topPart's state for step (the last
// overlay-contributing part in stack order) via WithBackstage, so a later
// Clean of that step knows this content came from the shared pass rather
// than topPart's own fileset.
func (e *Executor) migrateOverlayBackstage(view, destDir string, step partcraft.Step, topPart *parts.Part) error {
	fs, err := fileset.New("overlay-backstage", []string{"*"})
	if err != nil {
		return err
	}
	viewFiles, viewDirs, err := fileset.MigratableFilesets(fs, view, false, "", "")
	if err != nil {
		return xerrors.Errorf("epilogue: resolve overlay view contents: %v", err)
	}

	for _, p := range e.partList {
		if w := e.stateManager.Get(p.Name, step); w != nil {
			for f := range w.State.Files() {
				delete(viewFiles, f)
			}
			for d := range w.State.Directories() {
				delete(viewDirs, d)
			}
		}
	}
	if len(viewFiles) == 0 && len(viewDirs) == 0 {
		return nil
	}

	backstageFiles, backstageDirs, err := migrateOverlayEntries(view, destDir, viewFiles, viewDirs)
	if err != nil {
		return xerrors.Errorf("epilogue: migrate overlay backstage payload: %v", err)
	}

	// destDir doubles as its own base here: parts' own output for step
	// was migrated into it before this pass ran, so a whiteout marker we
	// just wrote is dangling exactly when no real entry of that name
	// already lives in destDir.
	baseDir := destDir
	if err := overlay.FilterDanglingWhiteouts(destDir, baseDir); err != nil {
		return xerrors.Errorf("epilogue: filter dangling whiteouts: %v", err)
	}

	w := e.stateManager.Get(topPart.Name, step)
	if w == nil {
		return nil
	}
	switch st := w.State.(type) {
	case *state.PrimeState:
		st.WithBackstage(backstageFiles, backstageDirs)
		e.stateManager.SetState(topPart.Name, step, st)
		return state.Write(topPart.StatePath(step), st)
	case *state.StageState:
		st.WithBackstage(backstageFiles, backstageDirs)
		e.stateManager.SetState(topPart.Name, step, st)
		return state.Write(topPart.StatePath(step), st)
	}
	return nil
}

// migrateOverlayEntries copies files and dirs from view into destDir,
// translating any overlayfs whiteout device node among files into its
// OCI ".wh.<name>" marker form (rather than hard-linking the device node
// itself) and marking any opaque directory among dirs with the OCI
// ".wh..wh..opq" marker after migrating it, since destDir is a plain
// directory tree rather than an overlay layer.
func migrateOverlayEntries(view, destDir string, files, dirs map[string]bool) (realizedFiles, realizedDirs map[string]bool, err error) {
	plainFiles := map[string]bool{}
	realizedFiles = map[string]bool{}
	for f := range files {
		isWhiteout, err := overlay.IsWhiteout(filepath.Join(view, f))
		if err != nil {
			return nil, nil, err
		}
		if !isWhiteout {
			plainFiles[f] = true
			continue
		}
		dir, name := path.Dir(f), path.Base(f)
		if err := overlay.TranslateWhiteout(filepath.Join(destDir, dir), name); err != nil {
			return nil, nil, err
		}
		realizedFiles[path.Join(dir, overlay.WhiteoutPrefix+name)] = true
	}

	migratedFiles, migratedDirs, err := fileset.MigrateFiles(plainFiles, dirs, view, destDir, true, false, nil)
	if err != nil {
		return nil, nil, err
	}
	for f := range migratedFiles {
		realizedFiles[f] = true
	}
	realizedDirs = migratedDirs

	for d := range dirs {
		opaque, err := overlay.IsOpaqueDir(filepath.Join(view, d))
		if err != nil {
			return nil, nil, err
		}
		if !opaque {
			continue
		}
		if err := overlay.PreserveOpaqueDir(filepath.Join(destDir, d)); err != nil {
			return nil, nil, err
		}
	}

	return realizedFiles, realizedDirs, nil
}

// markOverlayMigrated writes an empty marker file at path, recording that
// the project-wide overlay migration pass has run. Epilogue does not check
// for the marker before migrating, so every Epilogue call runs the pass.
func markOverlayMigrated(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return xerrors.Errorf("mark overlay migrated: %v", err)
	}
	return f.Close()
}

// Clean removes a part's on-disk directories for step and every later
// step, then drops the corresponding state. For Stage and Prime, which are
// project-wide shared directories, only the entries this part actually
// contributed (per its last recorded state) are removed via
// fileset.CleanSharedArea, so another part's still-live output in the
// same directory survives.
func (e *Executor) Clean(partName string, step partcraft.Step) error {
	part, ok := parts.PartByName(partName, e.partList)
	if !ok {
		return xerrors.Errorf("clean: unknown part %q", partName)
	}

	for _, s := range append([]partcraft.Step{step}, step.NextSteps()...) {
		if err := e.cleanOne(part, s); err != nil {
			return err
		}
		if err := state.Remove(part.StatePath(s)); err != nil {
			return err
		}
	}
	e.stateManager.CleanPart(partName, step)
	return nil
}

func (e *Executor) cleanOne(part *parts.Part, step partcraft.Step) error {
	switch step {
	case partcraft.Pull:
		return removeAll(part.SrcDir(), part.StagePackagesDir(), part.StageSnapsDir())
	case partcraft.Overlay:
		if err := e.layerManager.RemoveLayerHash(part); err != nil {
			return err
		}
		return removeAll(part.LayerDir(), part.OverlayPackagesDir())
	case partcraft.Build:
		return removeAll(part.BuildDir(), part.InstallDir(), part.BuildPackagesDir())
	case partcraft.Stage:
		return e.cleanSharedDir(part, partcraft.Stage, parts.StageDir(e.workDir()))
	case partcraft.Prime:
		return e.cleanSharedDir(part, partcraft.Prime, parts.PrimeDir(e.workDir()))
	}
	return nil
}

// removeAll deletes every path in paths, tolerating paths that don't
// exist (cleaning is idempotent: spec.md §7).
func removeAll(paths ...string) error {
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return xerrors.Errorf("remove %s: %v", p, err)
		}
	}
	return nil
}

func (e *Executor) cleanSharedDir(part *parts.Part, step partcraft.Step, dir string) error {
	if e.stateManager.Get(part.Name, step) == nil {
		return nil
	}
	states := map[string]fileset.SharedState{}
	for _, p := range e.partList {
		w := e.stateManager.Get(p.Name, step)
		if w == nil {
			continue
		}
		if step == partcraft.Prime {
			if ps, ok := w.State.(*state.PrimeState); ok {
				states[p.Name] = primeStateWithBackstage{ps}
				continue
			}
		}
		if step == partcraft.Stage {
			if ss, ok := w.State.(*state.StageState); ok {
				states[p.Name] = stageStateWithBackstage{ss}
				continue
			}
		}
		states[p.Name] = w.State
	}
	return fileset.CleanSharedArea(part.Name, dir, states)
}

// primeStateWithBackstage folds a PrimeState's backstage entries (the
// shared overlay-migration payload attributed to this part per
// Executor.migrateOverlayBackstage) into its ordinary migrated set, so
// cleaning this part's Prime step also removes that shared payload unless
// another part's set claims the same entry.
type primeStateWithBackstage struct {
	*state.PrimeState
}

func (s primeStateWithBackstage) Files() map[string]bool {
	out := map[string]bool{}
	for f := range s.PrimeState.Files() {
		out[f] = true
	}
	for f := range s.BackstageFiles {
		out[f] = true
	}
	return out
}

func (s primeStateWithBackstage) Directories() map[string]bool {
	out := map[string]bool{}
	for d := range s.PrimeState.Directories() {
		out[d] = true
	}
	for d := range s.BackstageDirectories {
		out[d] = true
	}
	return out
}

// stageStateWithBackstage is primeStateWithBackstage's Stage-step
// counterpart: it folds a StageState's backstage entries into its
// ordinary migrated set for the same reason.
type stageStateWithBackstage struct {
	*state.StageState
}

func (s stageStateWithBackstage) Files() map[string]bool {
	out := map[string]bool{}
	for f := range s.StageState.Files() {
		out[f] = true
	}
	for f := range s.BackstageFiles {
		out[f] = true
	}
	return out
}

func (s stageStateWithBackstage) Directories() map[string]bool {
	out := map[string]bool{}
	for d := range s.StageState.Directories() {
		out[d] = true
	}
	for d := range s.BackstageDirectories {
		out[d] = true
	}
	return out
}
