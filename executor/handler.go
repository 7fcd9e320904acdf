package executor

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"partcraft"
	"partcraft/fileset"
	"partcraft/overlay"
	"partcraft/parts"
	"partcraft/perrors"
	"partcraft/state"
)

// PartHandler runs the real work behind a single part's actions: it is
// the only place that touches a part's directories on disk, the state
// manager only ever sees the StepState it produces. One handler is
// created per part and cached for the lifetime of an Executor, mirroring
// the teacher's own habit of caching per-target collaborators rather than
// re-resolving them on every call.
type PartHandler struct {
	part           *parts.Part
	partList       []*parts.Part
	stateManager   *state.Manager
	layerManager   *overlay.LayerStateManager
	collab         Collaborators
	projectOptions map[string]string
	baseLayerHash  overlay.Hash
}

func newPartHandler(part *parts.Part, partList []*parts.Part, stateManager *state.Manager, layerManager *overlay.LayerStateManager, collab Collaborators, projectOptions map[string]string, baseLayerHash overlay.Hash) *PartHandler {
	return &PartHandler{
		part:           part,
		partList:       partList,
		stateManager:   stateManager,
		layerManager:   layerManager,
		collab:         collab,
		projectOptions: projectOptions,
		baseLayerHash:  baseLayerHash,
	}
}

// RunAction dispatches action to the builtin (or override scriptlet)
// appropriate for its step and kind.
func (h *PartHandler) RunAction(ctx context.Context, action partcraft.Action) error {
	switch action.Kind {
	case partcraft.Skip:
		log.Printf("%s: %s up to date, skipping", h.part.Name, action.Step)
		return nil

	case partcraft.Reapply:
		if action.Step != partcraft.Overlay {
			return &perrors.InvalidActionError{Message: "Reapply is only legal for the Overlay step"}
		}
		if err := os.RemoveAll(h.part.LayerDir()); err != nil {
			return xerrors.Errorf("reapply %s: clear layer dir: %v", h.part.Name, err)
		}
		return h.runOverlay(ctx)

	case partcraft.Rerun:
		if action.Step != partcraft.Overlay {
			h.clean(action.Step)
		}
		return h.runStep(ctx, action.Step)

	case partcraft.Update:
		return h.updateStep(ctx, action.Step)

	case partcraft.Run:
		return h.runStep(ctx, action.Step)
	}
	return &perrors.InvalidActionError{Message: "unknown action kind"}
}

func (h *PartHandler) runStep(ctx context.Context, step partcraft.Step) error {
	switch step {
	case partcraft.Pull:
		return h.runPull(ctx)
	case partcraft.Overlay:
		return h.runOverlay(ctx)
	case partcraft.Build:
		return h.runBuild(ctx)
	case partcraft.Stage:
		return h.runStage(ctx)
	case partcraft.Prime:
		return h.runPrime(ctx)
	}
	return xerrors.Errorf("runStep: unknown step %v", step)
}

// updateStep re-imports the inputs of an earlier step without discarding
// this step's own downstream state. Only Pull, Overlay and Build support
// it (sequencer.go never emits Update for Stage or Prime).
func (h *PartHandler) updateStep(ctx context.Context, step partcraft.Step) error {
	switch step {
	case partcraft.Pull:
		if sh := h.collab.Sources[h.part.Name]; sh != nil {
			if _, err := sh.Update(ctx, h.part); err != nil {
				return xerrors.Errorf("update %s pull: %v", h.part.Name, err)
			}
		}
		return h.runPull(ctx)
	case partcraft.Overlay:
		return h.runOverlay(ctx)
	case partcraft.Build:
		return h.runBuild(ctx)
	}
	return &perrors.InvalidActionError{Message: "Update is only legal for Pull, Overlay and Build"}
}

func (h *PartHandler) clean(step partcraft.Step) {
	h.stateManager.CleanPart(h.part.Name, step)
}

// ----- Pull -----

func (h *PartHandler) runPull(ctx context.Context) error {
	part := h.part
	if err := os.MkdirAll(part.SrcDir(), 0o755); err != nil {
		return xerrors.Errorf("pull %s: create src dir: %v", part.Name, err)
	}

	// The source fetch and the stage-package fetch touch disjoint
	// directories (SrcDir vs StagePackagesDir) and neither result feeds
	// the other, so they run concurrently the same way a part's pull
	// would fan out a source checkout and a package download in
	// parallel rather than serializing two independent downloads.
	var sourceDetails map[string]any
	resolvedStagePkgs := part.Spec.StagePackages

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if part.Spec.OverridePull != "" {
			env := stepEnvironment(part.Name, part.SrcDir(), part.BuildDir(), part.InstallDir(), parts.StageDir(part.WorkDir), parts.PrimeDir(part.WorkDir))
			if err := runScriptlet(gctx, part.Name, "override-pull", part.Spec.OverridePull, part.SrcDir(), env); err != nil {
				return err
			}
			return nil
		}
		sh := h.collab.Sources[part.Name]
		if sh == nil {
			return nil
		}
		details, err := sh.Pull(gctx, part)
		if err != nil {
			return xerrors.Errorf("pull %s: %v", part.Name, err)
		}
		sourceDetails = details
		return nil
	})
	g.Go(func() error {
		if h.collab.Packages == nil || len(part.Spec.StagePackages) == 0 {
			return nil
		}
		resolved, err := h.collab.Packages.ResolvePackages(part.Spec.StagePackages)
		if err != nil {
			return xerrors.Errorf("pull %s: resolve stage packages: %v", part.Name, err)
		}
		if _, err := h.collab.Packages.FetchPackages(gctx, resolved, part.StagePackagesDir()); err != nil {
			return xerrors.Errorf("pull %s: fetch stage packages: %v", part.Name, err)
		}
		resolvedStagePkgs = resolved
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	assets := state.PullAssets{
		StagePackages: resolvedStagePkgs,
		StageSnaps:    part.Spec.StageSnaps,
		SourceDetails: sourceDetails,
	}
	st := state.NewPullState(part.Spec.Marshal(), h.projectOptions, assets)
	h.stateManager.SetState(part.Name, partcraft.Pull, st)
	return state.Write(part.StatePath(partcraft.Pull), st)
}

// ----- Overlay -----

func (h *PartHandler) runOverlay(ctx context.Context) error {
	part := h.part
	if !part.Spec.HasOverlay() {
		return nil
	}
	if err := os.MkdirAll(part.LayerDir(), 0o755); err != nil {
		return xerrors.Errorf("overlay %s: create layer dir: %v", part.Name, err)
	}

	if h.collab.Packages != nil && len(part.Spec.OverlayPackages) > 0 {
		resolved, err := h.collab.Packages.ResolvePackages(part.Spec.OverlayPackages)
		if err != nil {
			return xerrors.Errorf("overlay %s: resolve overlay packages: %v", part.Name, err)
		}
		if _, err := h.collab.Packages.FetchPackages(ctx, resolved, part.OverlayPackagesDir()); err != nil {
			return xerrors.Errorf("overlay %s: fetch overlay packages: %v", part.Name, err)
		}
	}

	if part.Spec.OverlayScript != "" {
		lowerDirs := h.lowerLayerDirs(part)
		if h.collab.Overlay != nil && len(lowerDirs) > 0 {
			if err := h.collab.Overlay.Mount(ctx, lowerDirs, part.OverlayViewDir()); err != nil {
				return xerrors.Errorf("overlay %s: mount stack view: %v", part.Name, err)
			}
			defer func() {
				if err := h.collab.Overlay.Unmount(ctx, part.OverlayViewDir()); err != nil {
					log.Printf("overlay %s: unmount stack view: %v", part.Name, err)
				}
			}()
		}
		env := stepEnvironment(part.Name, part.SrcDir(), part.BuildDir(), part.InstallDir(), parts.StageDir(part.WorkDir), parts.PrimeDir(part.WorkDir))
		env = append(env, "PARTCRAFT_OVERLAY="+part.LayerDir())
		if err := runScriptlet(ctx, part.Name, "overlay-script", part.Spec.OverlayScript, part.LayerDir(), env); err != nil {
			return err
		}
	}

	var files, dirs map[string]bool
	if len(part.Spec.OverlayFiles) > 0 {
		fs, err := fileset.New("overlay", part.Spec.OverlayFiles)
		if err != nil {
			return err
		}
		files, dirs, err = fileset.MigratableFilesets(fs, part.LayerDir(), false, "", "")
		if err != nil {
			return xerrors.Errorf("overlay %s: resolve overlay fileset: %v", part.Name, err)
		}
	}

	st := state.NewOverlayState(part.Spec.Marshal(), h.projectOptions, files, dirs)
	h.stateManager.SetState(part.Name, partcraft.Overlay, st)
	if err := state.Write(part.StatePath(partcraft.Overlay), st); err != nil {
		return err
	}

	if _, err := h.layerManager.GetLayerHash(part); err != nil {
		return xerrors.Errorf("overlay %s: verify layer hash: %v", part.Name, err)
	}
	return nil
}

// lowerLayerDirs returns the ordered layer directories of part's stack
// predecessors (parts earlier in topological order that contribute
// overlay content), used as the lowerdirs of a read-only stack view.
func (h *PartHandler) lowerLayerDirs(part *parts.Part) []string {
	var dirs []string
	for _, p := range h.partList {
		if p.Name == part.Name {
			break
		}
		if p.Spec.HasOverlay() {
			dirs = append(dirs, p.LayerDir())
		}
	}
	return dirs
}

// ----- Build -----

func (h *PartHandler) runBuild(ctx context.Context) error {
	part := h.part
	if err := os.MkdirAll(part.BuildDir(), 0o755); err != nil {
		return xerrors.Errorf("build %s: create build dir: %v", part.Name, err)
	}
	if err := os.MkdirAll(part.InstallDir(), 0o755); err != nil {
		return xerrors.Errorf("build %s: create install dir: %v", part.Name, err)
	}

	var resolvedBuildPkgs []string
	if h.collab.Packages != nil && len(part.Spec.BuildPackages) > 0 {
		resolved, err := h.collab.Packages.ResolvePackages(part.Spec.BuildPackages)
		if err != nil {
			return xerrors.Errorf("build %s: resolve build packages: %v", part.Name, err)
		}
		if _, err := h.collab.Packages.FetchPackages(ctx, resolved, part.BuildPackagesDir()); err != nil {
			return xerrors.Errorf("build %s: fetch build packages: %v", part.Name, err)
		}
		resolvedBuildPkgs = resolved
	}

	overlayVisible := parts.HasOverlayVisibility(part, h.partList)
	if overlayVisible && h.collab.Overlay != nil {
		lowerDirs := h.lowerLayerDirs(part)
		if part.Spec.HasOverlay() {
			lowerDirs = append(lowerDirs, part.LayerDir())
		}
		if len(lowerDirs) > 0 {
			if err := h.collab.Overlay.Mount(ctx, lowerDirs, part.OverlayViewDir()); err != nil {
				return xerrors.Errorf("build %s: mount overlay view: %v", part.Name, err)
			}
			defer func() {
				if err := h.collab.Overlay.Unmount(ctx, part.OverlayViewDir()); err != nil {
					log.Printf("build %s: unmount overlay view: %v", part.Name, err)
				}
			}()
		}
	}

	plugin := h.collab.Plugins[part.Name]
	outOfSource := plugin != nil && plugin.OutOfSourceBuild()
	if !outOfSource {
		if err := copyTree(part.SrcDir(), part.BuildDir()); err != nil {
			return xerrors.Errorf("build %s: copy source into build dir: %v", part.Name, err)
		}
	}

	env := stepEnvironment(part.Name, part.SrcDir(), part.BuildDir(), part.InstallDir(), parts.StageDir(part.WorkDir), parts.PrimeDir(part.WorkDir))
	for _, kv := range part.Spec.BuildEnvironment {
		for k, v := range kv {
			env = append(env, k+"="+v)
		}
	}

	switch {
	case part.Spec.OverrideBuild != "":
		if err := runScriptlet(ctx, part.Name, "override-build", part.Spec.OverrideBuild, part.BuildDir(), env); err != nil {
			return err
		}
	case plugin != nil:
		commands, err := plugin.BuildCommands(part)
		if err != nil {
			return xerrors.Errorf("build %s: plugin: %v", part.Name, err)
		}
		if err := runBuildCommands(ctx, part.Name, commands, part.BuildDir(), env); err != nil {
			return err
		}
	}

	var overlayHash []byte
	if overlayVisible {
		_, stack := overlay.ComputeStack(h.stackParts(), h.baseLayerHash)
		if stack != overlay.ZeroHash {
			overlayHash = stack[:]
		}
	}

	st := state.NewBuildState(part.Spec.Marshal(), h.projectOptions, nil, nil, state.BuildAssets{
		Packages: resolvedBuildPkgs,
		Snaps:    part.Spec.BuildSnaps,
		Uname:    unameString(),
	}, overlayHash)
	h.stateManager.SetState(part.Name, partcraft.Build, st)
	return state.Write(part.StatePath(partcraft.Build), st)
}

func (h *PartHandler) stackParts() []*parts.Part {
	var out []*parts.Part
	for _, p := range h.partList {
		if p.Spec.HasOverlay() {
			out = append(out, p)
		}
	}
	return out
}

// unameString mirrors the teacher's own release-string helper (cmd/minitrd's
// kmod.go), extended to report the sysname and machine fields alongside the
// kernel release.
func unameString() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return cString(u.Sysname[:]) + " " + cString(u.Release[:]) + " " + cString(u.Machine[:])
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// ----- Stage -----

func (h *PartHandler) runStage(ctx context.Context) error {
	part := h.part
	stageDir := parts.StageDir(part.WorkDir)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return xerrors.Errorf("stage %s: create stage dir: %v", part.Name, err)
	}

	if err := applyOrganize(part.InstallDir(), part.Spec.Organize); err != nil {
		return xerrors.Errorf("stage %s: organize: %v", part.Name, err)
	}

	fs, err := fileset.New("stage", part.Spec.StageFiles)
	if err != nil {
		return err
	}
	files, dirs, err := fileset.MigratableFilesets(fs, part.InstallDir(), false, "", "")
	if err != nil {
		return xerrors.Errorf("stage %s: resolve fileset: %v", part.Name, err)
	}

	if part.Spec.OverrideStage != "" {
		env := stepEnvironment(part.Name, part.SrcDir(), part.BuildDir(), part.InstallDir(), stageDir, parts.PrimeDir(part.WorkDir))
		if err := runScriptlet(ctx, part.Name, "override-stage", part.Spec.OverrideStage, stageDir, env); err != nil {
			return err
		}
	} else {
		if _, _, err := fileset.MigrateFiles(files, dirs, part.InstallDir(), stageDir, true, false, nil); err != nil {
			return xerrors.Errorf("stage %s: migrate: %v", part.Name, err)
		}
	}

	var overlayHash []byte
	if part.Spec.HasOverlay() {
		_, stack := overlay.ComputeStack(h.stackParts(), h.baseLayerHash)
		if stack != overlay.ZeroHash {
			overlayHash = stack[:]
		}
	}

	st := state.NewStageState(part.Spec.Marshal(), h.projectOptions, files, dirs, overlayHash)
	h.stateManager.SetState(part.Name, partcraft.Stage, st)
	return state.Write(part.StatePath(partcraft.Stage), st)
}

// ----- Prime -----

func (h *PartHandler) runPrime(ctx context.Context) error {
	part := h.part
	stageDir := parts.StageDir(part.WorkDir)
	primeDir := parts.PrimeDir(part.WorkDir)
	if err := os.MkdirAll(primeDir, 0o755); err != nil {
		return xerrors.Errorf("prime %s: create prime dir: %v", part.Name, err)
	}

	var files, dirs map[string]bool
	if part.Spec.OverridePrime != "" {
		env := stepEnvironment(part.Name, part.SrcDir(), part.BuildDir(), part.InstallDir(), stageDir, primeDir)
		if err := runScriptlet(ctx, part.Name, "override-prime", part.Spec.OverridePrime, primeDir, env); err != nil {
			return err
		}
	} else {
		entries := part.Spec.PrimeFiles
		if len(entries) == 0 {
			entries = part.Spec.StageFiles
		}
		fs, err := fileset.New("prime", entries)
		if err != nil {
			return err
		}
		files, dirs, err = fileset.MigratableFilesets(fs, stageDir, false, "", "")
		if err != nil {
			return xerrors.Errorf("prime %s: resolve fileset: %v", part.Name, err)
		}
		if _, _, err := fileset.MigrateFiles(files, dirs, stageDir, primeDir, true, false, nil); err != nil {
			return xerrors.Errorf("prime %s: migrate: %v", part.Name, err)
		}
	}

	var stagePackages map[string]bool
	if len(part.Spec.StagePackages) > 0 {
		stagePackages = map[string]bool{}
		for _, pkg := range part.Spec.StagePackages {
			stagePackages[pkg] = true
		}
	}

	st := state.NewPrimeState(part.Spec.Marshal(), h.projectOptions, files, dirs, stagePackages)
	h.stateManager.SetState(part.Name, partcraft.Prime, st)
	return state.Write(part.StatePath(partcraft.Prime), st)
}

// applyOrganize renames source paths within installDir to their mapped
// destination before the stage fileset is resolved. Glob patterns are not
// expanded: each key is taken as a literal path under installDir, and a key
// naming no existing entry is skipped.
func applyOrganize(installDir string, organize map[string]string) error {
	for src, dst := range organize {
		srcPath := filepath.Join(installDir, src)
		dstPath := filepath.Join(installDir, dst)
		if _, err := os.Lstat(srcPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return err
		}
		if err := os.Rename(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}
