package fileset

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"partcraft/perrors"
)

// NormalizeEntry normalizes an entry to begin with a partition prefix when
// partitions are enabled. If partitions are not enabled, entry is returned
// unchanged.
func NormalizeEntry(entry string, partitionsEnabled bool, defaultPartition string) string {
	if !partitionsEnabled {
		return entry
	}

	prefix, rest := "", entry
	if strings.HasPrefix(entry, "-") {
		prefix, rest = "-", entry[1:]
	}

	partition, inner := splitPartition(rest)
	if partition == "" {
		partition = defaultPartition
	}
	return prefix + "(" + partition + ")/" + inner
}

// splitPartition extracts a "(name)/rest" prefix, returning ("", p) if p
// doesn't carry one.
func splitPartition(p string) (partition, rest string) {
	if !strings.HasPrefix(p, "(") {
		return "", p
	}
	idx := strings.Index(p, ")/")
	if idx < 0 {
		return "", p
	}
	return p[1:idx], p[idx+2:]
}

// getFileList splits a fileset's entries into plain include/exclude glob
// lists, honoring partition scoping. If partition is empty and partitions
// are not in use, all entries apply.
func getFileList(fs_ *Fileset, partitionsEnabled bool, partition, defaultPartition string) ([]string, []string, error) {
	if partitionsEnabled && partition == "" {
		return nil, nil, &perrors.FeatureError{Message: "a partition must be provided if the partition feature is enabled"}
	}
	if !partitionsEnabled && partition != "" {
		return nil, nil, &perrors.FeatureError{Message: "the partition feature must be enabled if a partition is provided"}
	}

	var includes, excludes []string
	for _, item := range fs_.entries {
		switch {
		case strings.HasPrefix(item, "-"):
			excludes = append(excludes, item[1:])
		case strings.HasPrefix(item, "\\"):
			includes = append(includes, item[1:])
		default:
			includes = append(includes, item)
		}
	}

	if partition == "" {
		if len(includes) == 0 {
			includes = []string{"*"}
		}
		return includes, excludes, nil
	}

	var procIncludes, procExcludes []string
	for _, f := range includes {
		part, inner := splitPartition(f)
		if part == "" {
			part = defaultPartition
		}
		if part == partition {
			procIncludes = append(procIncludes, inner)
		}
	}
	for _, f := range excludes {
		part, inner := splitPartition(f)
		if part == "" {
			part = defaultPartition
		}
		if part == partition {
			procExcludes = append(procExcludes, inner)
		}
	}
	if len(procIncludes) == 0 {
		procIncludes = []string{"*"}
	}
	return procIncludes, procExcludes, nil
}

// MigratableFilesets determines the files to migrate from srcdir based on
// fs_. It returns the set of relative file paths and the set of relative
// directory paths (with every selected file's ancestor directories
// included). partition, when non-empty, selects only that partition's
// entries; it requires partitionsEnabled.
func MigratableFilesets(fs_ *Fileset, srcdir string, partitionsEnabled bool, partition, defaultPartition string) (files map[string]bool, dirs map[string]bool, err error) {
	if defaultPartition == "" {
		defaultPartition = DefaultPartition
	}

	includes, excludes, err := getFileList(fs_, partitionsEnabled, partition, defaultPartition)
	if err != nil {
		return nil, nil, err
	}

	includeFiles, err := expandGlobSet(srcdir, includes)
	if err != nil {
		return nil, nil, err
	}
	excludeFiles, excludeDirs, err := expandExcludeSet(srcdir, excludes)
	if err != nil {
		return nil, nil, err
	}

	selected := map[string]bool{}
	for f := range includeFiles {
		if excludeFiles[f] {
			continue
		}
		underExcludeDir := false
		for d := range excludeDirs {
			if isUnder(f, d) {
				underExcludeDir = true
				break
			}
		}
		if underExcludeDir {
			continue
		}
		selected[f] = true
	}

	dirSet := map[string]bool{}
	fileSet := map[string]bool{}
	for rel := range selected {
		full := filepath.Join(srcdir, rel)
		info, statErr := os.Lstat(full)
		if statErr == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			dirSet[rel] = true
		} else {
			fileSet[rel] = true
		}
	}

	for rel := range fileSet {
		dirname := path.Dir(resolveRelative(rel))
		for dirname != "." && dirname != "/" && dirname != "" {
			dirSet[dirname] = true
			dirname = path.Dir(dirname)
		}
	}

	resolvedFiles := map[string]bool{}
	for rel := range fileSet {
		resolvedFiles[resolveRelative(rel)] = true
	}
	resolvedDirs := map[string]bool{}
	for rel := range dirSet {
		resolvedDirs[resolveRelative(rel)] = true
	}

	return resolvedFiles, resolvedDirs, nil
}

// resolveRelative normalizes a relative path's separators and collapses
// "." segments without following symlinks (the caller is only expected to
// pass already-relative, already-slash-separated paths).
func resolveRelative(rel string) string {
	return path.Clean(filepath.ToSlash(rel))
}

func isUnder(p, dir string) bool {
	p = resolveRelative(p)
	dir = resolveRelative(dir)
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// expandGlobSet walks srcdir once and returns the set of relative paths
// (files and directories) matching any of the given glob patterns, using
// the same "**/" recursive-match semantics as Python's Path.rglob, and
// stripping hidden siblings for non-dotted patterns.
func expandGlobSet(srcdir string, patterns []string) (map[string]bool, error) {
	result := map[string]bool{}
	if len(patterns) == 0 {
		return result, nil
	}

	allPaths, err := walkRelative(srcdir)
	if err != nil {
		return nil, err
	}

	for _, pattern := range patterns {
		hidden := strings.HasPrefix(pattern, ".")
		patternComponents := strings.Split(pattern, "/")

		for _, rel := range allPaths {
			if matchesRGlob(rel, patternComponents) {
				if !hidden && hasHiddenComponent(rel) {
					continue
				}
				result[rel] = true
				// Expand directories: include everything beneath a matched
				// directory so an exclude like '*/*.so' still matches files
				// from an include like 'lib'.
				full := filepath.Join(srcdir, rel)
				if info, statErr := os.Lstat(full); statErr == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
					for _, child := range allPaths {
						if isUnder(child, rel) {
							result[child] = true
						}
					}
				}
			}
		}
	}

	return result, nil
}

// expandExcludeSet is like expandGlobSet but also returns the subset of
// matches that are directories.
func expandExcludeSet(srcdir string, patterns []string) (files map[string]bool, dirs map[string]bool, err error) {
	files, err = expandGlobSet(srcdir, patterns)
	if err != nil {
		return nil, nil, err
	}
	dirs = map[string]bool{}
	for rel := range files {
		full := filepath.Join(srcdir, rel)
		if info, statErr := os.Lstat(full); statErr == nil && info.IsDir() {
			dirs[rel] = true
		}
	}
	return files, dirs, nil
}

func hasHiddenComponent(rel string) bool {
	for _, c := range strings.Split(rel, "/") {
		if strings.HasPrefix(c, ".") {
			return true
		}
	}
	return false
}

// matchesRGlob reports whether rel (slash-separated, relative to srcdir)
// matches pattern the way pathlib's Path.rglob(pattern) would: pattern is
// implicitly anchored at any depth, and matches the trailing path
// components of rel one-for-one against the pattern's components.
func matchesRGlob(rel string, patternComponents []string) bool {
	relComponents := strings.Split(rel, "/")
	if len(patternComponents) > len(relComponents) {
		return false
	}
	offset := len(relComponents) - len(patternComponents)
	for i, pc := range patternComponents {
		ok, err := filepath.Match(pc, relComponents[offset+i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// walkRelative returns every file and directory under srcdir (excluding
// srcdir itself), relative to srcdir, slash-separated.
func walkRelative(srcdir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(srcdir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if p == srcdir {
			return nil
		}
		rel, relErr := filepath.Rel(srcdir, p)
		if relErr != nil {
			return relErr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
