// Package project loads a parts.yaml project file and wires the
// concrete collaborators (source handlers, package repository) that
// let the rest of the engine run against it. YAML project loading is
// named an external collaborator, but per the transformation rules a
// deliberately thin implementation still lives here so the CLI is
// runnable end-to-end.
package project

import (
	"os"
	"sort"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"partcraft/executor"
	"partcraft/parts"
	"partcraft/pkgrepo"
	"partcraft/source"
	"partcraft/state"
)

// partYAML wraps parts.PartSpec inline; PartSpec's own fields already
// carry the yaml tags the project file keys match (see parts/spec.go).
type partYAML struct {
	parts.PartSpec `yaml:",inline"`
}

// file is the top-level shape of a parts.yaml document.
type file struct {
	Options           map[string]string  `yaml:"options,omitempty"`
	PartitionsEnabled bool                `yaml:"partitions-enabled,omitempty"`
	DefaultPartition  string              `yaml:"default-partition,omitempty"`
	PackagesDir       string              `yaml:"packages-dir,omitempty"`
	Parts             map[string]partYAML `yaml:"parts"`
}

// Project is a loaded parts.yaml, ready to drive a state manager,
// sequencer and executor.
type Project struct {
	WorkDir           string
	PartList          []*parts.Part
	Options           map[string]string
	PartitionsEnabled bool
	DefaultPartition  string
	PackagesDir       string
}

// Load reads and parses the project file at path, anchoring every
// part's on-disk directories at workDir.
func Load(path, workDir string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("load project file %s: %v", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, xerrors.Errorf("parse project file %s: %v", path, err)
	}

	names := make([]string, 0, len(f.Parts))
	for name := range f.Parts {
		names = append(names, name)
	}
	sort.Strings(names)
	partList := make([]*parts.Part, 0, len(names))
	for _, name := range names {
		py := f.Parts[name]
		partList = append(partList, parts.NewPart(name, py.PartSpec, nil, workDir))
	}

	sorted, err := parts.SortParts(partList)
	if err != nil {
		return nil, xerrors.Errorf("project file %s: %v", path, err)
	}

	packagesDir := f.PackagesDir
	if packagesDir == "" {
		packagesDir = defaultPackagesDir(workDir)
	}

	return &Project{
		WorkDir:           workDir,
		PartList:          sorted,
		Options:           f.Options,
		PartitionsEnabled: f.PartitionsEnabled,
		DefaultPartition:  f.DefaultPartition,
		PackagesDir:       packagesDir,
	}, nil
}

func defaultPackagesDir(workDir string) string {
	return workDir + "/packages"
}

// sourceHandlerFor resolves the concrete source.SourceHandler a part's
// spec names: "local" (a plain directory, the default when SourceType is
// unset but SourceURI is a path) or "tar" (a .tar.gz archive). Any other
// source type, and any part with no source at all, gets no handler —
// real network fetchers are the out-of-scope case spec.md names.
func sourceHandlerFor(spec parts.PartSpec) *sourceHandler {
	if spec.SourceURI == "" {
		return nil
	}
	switch spec.SourceType {
	case "tar", "tar.gz":
		return &sourceHandler{tarGz: source.NewTarGz(spec.SourceURI)}
	case "", "local":
		return &sourceHandler{localDir: source.NewLocalDir(spec.SourceURI)}
	default:
		return nil
	}
}

// sourceHandler adapts whichever concrete source.* type a part resolved
// to into both executor.SourceHandler and state.SourceHandler, since
// Go's embedding can't select between two candidate concrete types at
// compile time.
type sourceHandler struct {
	localDir *source.LocalDir
	tarGz    *source.TarGz
}

// Collaborators builds the executor.Collaborators this project's parts
// need: a SourceHandler per part with a source, and a shared
// PackageRepository rooted at PackagesDir. Plugins and OverlayDriver are
// left unset — build plugins and the overlay mount driver are named
// external collaborators spec.md places out of scope, so every part's
// build step relies on an override-build scriptlet and no part's
// overlay step mounts a real stack.
func (p *Project) Collaborators() executor.Collaborators {
	sources := map[string]executor.SourceHandler{}
	for _, part := range p.PartList {
		if sh := sourceHandlerFor(part.Spec); sh != nil {
			sources[part.Name] = sh.executorHandler()
		}
	}
	return executor.Collaborators{
		Sources:  sources,
		Packages: pkgrepo.New(p.PackagesDir),
	}
}

func (s *sourceHandler) executorHandler() executor.SourceHandler {
	if s.localDir != nil {
		return s.localDir
	}
	return s.tarGz
}

func (s *sourceHandler) stateHandler() state.SourceHandler {
	if s.localDir != nil {
		return s.localDir
	}
	return s.tarGz
}

// SourceHandlerFactory returns a state.SourceHandlerFactory resolving
// each part's CheckIfOutdated capability the same way Collaborators
// resolves its Pull/Update capability, so the two stay in sync without
// re-deriving source type per call site.
func (p *Project) SourceHandlerFactory() state.SourceHandlerFactory {
	byName := map[string]*sourceHandler{}
	for _, part := range p.PartList {
		if sh := sourceHandlerFor(part.Spec); sh != nil {
			byName[part.Name] = sh
		}
	}
	return func(part *parts.Part) (state.SourceHandler, error) {
		sh, ok := byName[part.Name]
		if !ok {
			return nil, nil
		}
		return sh.stateHandler(), nil
	}
}
