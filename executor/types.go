// Package executor runs the actions a Sequencer plans: it dispatches
// each action to a per-part handler that performs the step's real
// work (fetching sources, mounting overlays, invoking the build
// plugin, migrating files between stage directories) and records the
// resulting StepState, superseding the provisional state the
// sequencer installed while planning.
package executor

import (
	"context"

	"partcraft/parts"
)

// SourceHandler is the external collaborator that fetches and updates a
// part's source tree. Distinct from state.SourceHandler (which only
// answers "is this outdated"): a concrete source handler implements both
// interfaces, since the state manager and the executor need different
// slices of its capability.
type SourceHandler interface {
	// Pull fetches part's source into part.SrcDir(), returning whatever
	// source-specific details (resolved commit, tag, etc.) are worth
	// recording in PullAssets.SourceDetails.
	Pull(ctx context.Context, part *parts.Part) (map[string]any, error)
	// Update re-fetches into an already-pulled source tree without
	// discarding part.SrcDir()'s working state.
	Update(ctx context.Context, part *parts.Part) (map[string]any, error)
}

// PackageRepository resolves and fetches stage and overlay packages. A
// single implementation serves both families: the distinction is only in
// which destination directory the caller passes.
type PackageRepository interface {
	// ResolvePackages expands a possibly-underspecified package name list
	// (e.g. without version pins) into the concrete list that will
	// actually be fetched.
	ResolvePackages(names []string) ([]string, error)
	// FetchPackages downloads the resolved package set into destDir,
	// returning the archive paths written.
	FetchPackages(ctx context.Context, names []string, destDir string) ([]string, error)
}

// Plugin generates the build commands for a part given its plugin
// properties, and reports whether the plugin builds out of source
// (skipping the source-tree copy into the build directory).
type Plugin interface {
	BuildCommands(part *parts.Part) ([]string, error)
	OutOfSourceBuild() bool
}

// OverlayDriver mounts and unmounts the overlay stack for the duration of
// a single overlay-visible operation (installing overlay packages,
// running the overlay script, or building/staging a part that can see
// the stack). Acquisition is always scoped: a caller mounts, does its
// work, and unmounts unconditionally via defer, mirroring how the
// teacher's own mount helpers are used.
type OverlayDriver interface {
	Mount(ctx context.Context, layerDirs []string, target string) error
	Unmount(ctx context.Context, target string) error
}

// Collaborators bundles the external services a part handler needs. A
// nil field is valid wherever the corresponding capability is never
// exercised by the project at hand (e.g. no part declares overlay
// packages, so OverlayDriver is never dereferenced).
type Collaborators struct {
	Sources  map[string]SourceHandler // keyed by part name
	Packages PackageRepository
	Plugins  map[string]Plugin // keyed by part name
	Overlay  OverlayDriver
}
