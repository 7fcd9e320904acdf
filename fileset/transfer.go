package fileset

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/xerrors"
)

// FixupFunc is run against each migrated file's destination path, e.g. to
// rewrite absolute paths embedded in a pkg-config file.
type FixupFunc func(destPath string) error

// MigrateFiles copies or hard-links files and dirs from srcdir to destdir.
// Directories are created first, in lexicographic order, preserving the
// source's mode; an existing destination directory's metadata is left
// alone. Files are migrated in lexicographic order: a destination that is
// already a symlink is left untouched (its provenance was established by
// an earlier part); otherwise any existing destination entry is removed
// and the source is hard-linked in, falling back to a copy when linking
// fails or followSymlinks resolves the source to a different file. fixup,
// if non-nil, runs against every migrated file's destination path.
//
// missingOk skips a file whose source is absent instead of failing.
// MigrateFiles returns the subset of files and dirs actually migrated.
func MigrateFiles(files, dirs map[string]bool, srcdir, destdir string, missingOk, followSymlinks bool, fixup FixupFunc) (realizedFiles, realizedDirs map[string]bool, err error) {
	realizedDirs = map[string]bool{}
	realizedFiles = map[string]bool{}

	sortedDirs := make([]string, 0, len(dirs))
	for d := range dirs {
		sortedDirs = append(sortedDirs, d)
	}
	sort.Strings(sortedDirs)
	for _, d := range sortedDirs {
		src := filepath.Join(srcdir, d)
		dst := filepath.Join(destdir, d)
		if err := createSimilarDirectory(src, dst); err != nil {
			return nil, nil, xerrors.Errorf("migrate dir %s: %v", d, err)
		}
		realizedDirs[d] = true
	}

	sortedFiles := make([]string, 0, len(files))
	for f := range files {
		sortedFiles = append(sortedFiles, f)
	}
	sort.Strings(sortedFiles)
	for _, f := range sortedFiles {
		src := filepath.Join(srcdir, f)
		dst := filepath.Join(destdir, f)

		if missingOk {
			if _, statErr := os.Lstat(src); os.IsNotExist(statErr) {
				continue
			}
		}

		if dstInfo, lstatErr := os.Lstat(dst); lstatErr == nil && dstInfo.Mode()&os.ModeSymlink != 0 {
			realizedFiles[f] = true
			continue
		}

		if err := os.RemoveAll(dst); err != nil {
			return nil, nil, xerrors.Errorf("remove existing %s: %v", dst, err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, nil, xerrors.Errorf("create parent of %s: %v", dst, err)
		}
		if err := linkOrCopy(src, dst, followSymlinks); err != nil {
			return nil, nil, xerrors.Errorf("migrate file %s: %v", f, err)
		}
		if fixup != nil {
			if err := fixup(dst); err != nil {
				return nil, nil, xerrors.Errorf("fixup %s: %v", dst, err)
			}
		}
		realizedFiles[f] = true
	}

	return realizedFiles, realizedDirs, nil
}

// createSimilarDirectory creates dst with the same mode as src if dst
// doesn't already exist. An existing dst's metadata is never touched.
func createSimilarDirectory(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode().Perm())
}

// linkOrCopy hard-links src to dst, falling back to a copy when linking
// isn't possible (cross-device, permissions) or when followSymlinks
// requires resolving a symlink source to its target's content.
func linkOrCopy(src, dst string, followSymlinks bool) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !followSymlinks && info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return copyFile(src, dst)
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// SharedState is the subset of state.StepState that CleanSharedArea needs.
// Declared locally rather than importing the state package, since the
// migration engine doesn't otherwise need to know about step-state
// persistence; any *state.PullState, *state.StageState, etc. (or the
// state.StepState interface itself) satisfies it without an explicit
// conversion.
type SharedState interface {
	Files() map[string]bool
	Directories() map[string]bool
}

// CleanSharedArea removes, from sharedDir, the files and directories
// recorded as migrated by partName's state — except for any entry also
// recorded by another part in partStates, which is left in place. Empty
// directories are removed in reverse-depth (deepest-first) order;
// non-empty directories are retained silently. A missing entry is
// tolerated with a warning, matching a shared area that was already
// partially cleaned by a previous run.
func CleanSharedArea(partName, sharedDir string, partStates map[string]SharedState) error {
	st := partStates[partName]
	if st == nil {
		return nil
	}

	files := map[string]bool{}
	for f := range st.Files() {
		files[f] = true
	}
	dirs := map[string]bool{}
	for d := range st.Directories() {
		dirs[d] = true
	}

	for otherName, otherState := range partStates {
		if otherName == partName || otherState == nil {
			continue
		}
		for f := range otherState.Files() {
			delete(files, f)
		}
		for d := range otherState.Directories() {
			delete(dirs, d)
		}
	}

	for f := range files {
		if err := os.Remove(filepath.Join(sharedDir, f)); err != nil {
			if os.IsNotExist(err) {
				log.Printf("clean %s: file %q already removed", partName, f)
				continue
			}
			return xerrors.Errorf("remove %s: %v", f, err)
		}
	}

	sortedDirs := make([]string, 0, len(dirs))
	for d := range dirs {
		sortedDirs = append(sortedDirs, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(sortedDirs)))
	for _, d := range sortedDirs {
		full := filepath.Join(sharedDir, d)
		entries, err := os.ReadDir(full)
		if err != nil {
			if os.IsNotExist(err) {
				log.Printf("clean %s: dir %q already removed", partName, d)
				continue
			}
			return xerrors.Errorf("read %s: %v", d, err)
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(full); err != nil {
			return xerrors.Errorf("remove dir %s: %v", d, err)
		}
	}

	return nil
}
