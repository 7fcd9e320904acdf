package parts

import (
	"path/filepath"

	"partcraft"
)

// Part is a named unit of work with its own source, build and packaging
// rules. Identity is the name, unique per project. Parts are read once at
// project load and are immutable afterwards.
type Part struct {
	Name             string
	Spec             PartSpec
	PluginProperties map[string]any

	// WorkDir is the project's work directory; all of a part's
	// directories are derived from it plus the part's name.
	WorkDir string
}

// NewPart constructs a part rooted at workDir.
func NewPart(name string, spec PartSpec, pluginProperties map[string]any, workDir string) *Part {
	return &Part{
		Name:             name,
		Spec:             spec,
		PluginProperties: pluginProperties,
		WorkDir:          workDir,
	}
}

func (p *Part) partDir() string { return filepath.Join(p.WorkDir, "parts", p.Name) }

// SrcDir is the part's source tree.
func (p *Part) SrcDir() string { return filepath.Join(p.partDir(), "src") }

// BuildDir is the part's build working directory.
func (p *Part) BuildDir() string { return filepath.Join(p.partDir(), "build") }

// InstallDir is the part's install directory.
func (p *Part) InstallDir() string { return filepath.Join(p.partDir(), "install") }

// LayerDir is the part's overlay layer directory.
func (p *Part) LayerDir() string { return filepath.Join(p.partDir(), "layer") }

// StagePackagesDir holds downloaded package archives for this part.
func (p *Part) StagePackagesDir() string { return filepath.Join(p.partDir(), "stage_packages") }

// StageSnapsDir holds downloaded snap archives for this part.
func (p *Part) StageSnapsDir() string { return filepath.Join(p.partDir(), "stage_snaps") }

// BuildPackagesDir holds downloaded build-package archives for this part.
func (p *Part) BuildPackagesDir() string { return filepath.Join(p.partDir(), "build_packages") }

// OverlayPackagesDir holds downloaded overlay-package archives for this part.
func (p *Part) OverlayPackagesDir() string { return filepath.Join(p.partDir(), "overlay_packages") }

// OverlayViewDir is the scratch mountpoint used while a Build or Stage
// action needs to see the overlay stack merged read-only.
func (p *Part) OverlayViewDir() string { return filepath.Join(p.partDir(), "overlay_view") }

// RunDir holds generated build scripts.
func (p *Part) RunDir() string { return filepath.Join(p.partDir(), "run") }

// StateDir holds this part's state files.
func (p *Part) StateDir() string { return filepath.Join(p.partDir(), "state") }

// StatePath returns the path to the persisted StepState file for step.
func (p *Part) StatePath(step partcraft.Step) string {
	return filepath.Join(p.StateDir(), step.Lower())
}

// LayerHashPath returns the path to the persisted per-part layer hash.
func (p *Part) LayerHashPath() string { return filepath.Join(p.StateDir(), "layer_hash") }

// StageDir is the project-wide staging area.
func StageDir(workDir string) string { return filepath.Join(workDir, "stage") }

// PrimeDir is the project-wide priming area.
func PrimeDir(workDir string) string { return filepath.Join(workDir, "prime") }

// OverlayDir is the root of overlay work/upper directories.
func OverlayDir(workDir string) string { return filepath.Join(workDir, "overlay") }

// StageOverlayStatePath is the marker file Epilogue writes after the
// overlay-to-stage migration pass; nothing reads it back.
func StageOverlayStatePath(workDir string) string {
	return filepath.Join(OverlayDir(workDir), "stage_overlay")
}

// PrimeOverlayStatePath is the marker file Epilogue writes after the
// overlay-to-prime migration pass; nothing reads it back.
func PrimeOverlayStatePath(workDir string) string {
	return filepath.Join(OverlayDir(workDir), "prime_overlay")
}

// PartsDir is the root directory containing every part's working tree.
func PartsDir(workDir string) string { return filepath.Join(workDir, "parts") }
