// Package source provides concrete SourceHandler implementations. A
// project part's "source" property names one of these; the external
// fetchers a real deployment would add (git, http, snap store) sit
// behind the same two interfaces and are out of scope here (spec.md's
// Non-goals: "only the SourceHandler interface and a local-directory
// test double are in-scope").
package source

import (
	"context"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/xerrors"

	"partcraft/fileset"
	"partcraft/parts"
)

// LocalDir is a SourceHandler that mirrors a fixed directory on disk
// into a part's source directory, the way a vendored or pre-extracted
// source tree is consumed. It satisfies both executor.SourceHandler
// (Pull/Update) and state.SourceHandler (CheckIfOutdated): a single
// concrete type is simpler than forcing every project to wire two.
type LocalDir struct {
	Dir string
}

// NewLocalDir constructs a LocalDir source rooted at dir.
func NewLocalDir(dir string) *LocalDir {
	return &LocalDir{Dir: dir}
}

func (s *LocalDir) Pull(ctx context.Context, part *parts.Part) (map[string]any, error) {
	if err := copyTree(s.Dir, part.SrcDir()); err != nil {
		return nil, xerrors.Errorf("local-dir pull: %v", err)
	}
	return map[string]any{"source-dir": s.Dir}, nil
}

func (s *LocalDir) Update(ctx context.Context, part *parts.Part) (map[string]any, error) {
	return s.Pull(ctx, part)
}

// CheckIfOutdated reports whether s.Dir's content is newer than the
// recorded pull state, mirroring the mtime-comparison the teacher's own
// upstream-check tooling uses rather than hashing the whole tree on
// every dirty check.
func (s *LocalDir) CheckIfOutdated(stateFilePath string) (bool, error) {
	stateInfo, err := os.Stat(stateFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	newer, err := newerThan(s.Dir, stateInfo.ModTime())
	if err != nil {
		return false, err
	}
	return newer, nil
}

func newerThan(dir string, ref time.Time) (bool, error) {
	found := false
	err := fsWalk(dir, func(modTime time.Time) {
		if modTime.After(ref) {
			found = true
		}
	})
	return found, err
}

// TarGz is a SourceHandler that extracts a fixed .tar.gz archive into a
// part's source directory on every Pull/Update, the way a released
// source tarball would be consumed rather than a live checkout.
type TarGz struct {
	ArchivePath string
}

// NewTarGz constructs a TarGz source reading from archivePath.
func NewTarGz(archivePath string) *TarGz {
	return &TarGz{ArchivePath: archivePath}
}

func (s *TarGz) Pull(ctx context.Context, part *parts.Part) (map[string]any, error) {
	if err := os.MkdirAll(part.SrcDir(), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Open(s.ArchivePath)
	if err != nil {
		return nil, xerrors.Errorf("targz pull: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, xerrors.Errorf("targz pull: %v", err)
	}
	defer gz.Close()
	if err := extractTar(gz, part.SrcDir()); err != nil {
		return nil, xerrors.Errorf("targz pull: %v", err)
	}
	return map[string]any{"source-dir": s.ArchivePath}, nil
}

func (s *TarGz) Update(ctx context.Context, part *parts.Part) (map[string]any, error) {
	return s.Pull(ctx, part)
}

// CheckIfOutdated reports whether the archive itself is newer than the
// recorded pull state: a tarball source is only ever outdated when a
// new release replaces the file at ArchivePath.
func (s *TarGz) CheckIfOutdated(stateFilePath string) (bool, error) {
	stateInfo, err := os.Stat(stateFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	archiveInfo, err := os.Stat(s.ArchivePath)
	if err != nil {
		return false, err
	}
	return archiveInfo.ModTime().After(stateInfo.ModTime()), nil
}

// copyTree mirrors srcDir's contents into dstDir using the same
// fileset-driven migration primitive the executor's own step handlers
// use, so a local-directory source behaves exactly like the files the
// executor would otherwise move between step directories.
func copyTree(srcDir, dstDir string) error {
	fs, err := fileset.New("source", []string{"*"})
	if err != nil {
		return err
	}
	files, dirs, err := fileset.MigratableFilesets(fs, srcDir, false, "", "")
	if err != nil {
		return err
	}
	_, _, err = fileset.MigrateFiles(files, dirs, srcDir, dstDir, true, false, nil)
	return err
}
