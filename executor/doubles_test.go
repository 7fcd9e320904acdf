package executor

import (
	"context"
	"os"
	"path/filepath"

	"partcraft/parts"
)

// fakeSource is a minimal SourceHandler that copies a fixed local
// directory into the part's source tree, mirroring a "local" source type
// closely enough to exercise Pull and Update without touching a network.
type fakeSource struct {
	dir        string
	pullCalls  int
	updateCalls int
}

func (s *fakeSource) Pull(ctx context.Context, part *parts.Part) (map[string]any, error) {
	s.pullCalls++
	if err := copyTree(s.dir, part.SrcDir()); err != nil {
		return nil, err
	}
	return map[string]any{"source-dir": s.dir}, nil
}

func (s *fakeSource) Update(ctx context.Context, part *parts.Part) (map[string]any, error) {
	s.updateCalls++
	return s.Pull(ctx, part)
}

// fakePackages is an in-memory PackageRepository: every name resolves to
// itself, and fetching writes an empty placeholder archive per package
// rather than downloading anything.
type fakePackages struct {
	fetched map[string][]string // destDir -> names fetched there
}

func newFakePackages() *fakePackages {
	return &fakePackages{fetched: map[string][]string{}}
}

func (p *fakePackages) ResolvePackages(names []string) ([]string, error) {
	out := append([]string(nil), names...)
	return out, nil
}

func (p *fakePackages) FetchPackages(ctx context.Context, names []string, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, n := range names {
		path := filepath.Join(destDir, n+".pkg")
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	p.fetched[destDir] = names
	return paths, nil
}

// fakePlugin returns a fixed command list and in/out-of-source setting.
type fakePlugin struct {
	commands    []string
	outOfSource bool
}

func (p *fakePlugin) BuildCommands(part *parts.Part) ([]string, error) {
	return p.commands, nil
}

func (p *fakePlugin) OutOfSourceBuild() bool { return p.outOfSource }

// fakeOverlay records mount/unmount calls against real directories using
// a plain recursive copy rather than an actual overlay filesystem mount,
// which requires privileges this test environment doesn't have.
type fakeOverlay struct {
	mounts   []string
	unmounts []string
}

func (o *fakeOverlay) Mount(ctx context.Context, layerDirs []string, target string) error {
	o.mounts = append(o.mounts, target)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	for _, dir := range layerDirs {
		if err := copyTree(dir, target); err != nil {
			return err
		}
	}
	return nil
}

func (o *fakeOverlay) Unmount(ctx context.Context, target string) error {
	o.unmounts = append(o.unmounts, target)
	return os.RemoveAll(target)
}
