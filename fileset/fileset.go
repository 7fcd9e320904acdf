// Package fileset implements the include/exclude glob engine used to
// migrate files between lifecycle step directories: it resolves an
// ordered list of include/exclude patterns against a source directory
// into a concrete (files, dirs) pair.
package fileset

import (
	"path"
	"sort"
	"strings"

	"partcraft/perrors"
)

// DefaultPartition is the implicit partition name used when the partition
// feature is disabled, or when an entry doesn't carry an explicit
// "(name)/" prefix.
const DefaultPartition = "default"

// Fileset is an ordered list of include/exclude pattern entries. Entries
// beginning with "-" are excludes; all others are includes. A leading "\"
// escapes a literal "-" at the start of an include entry.
type Fileset struct {
	name    string
	entries []string
}

// New validates and constructs a Fileset. Absolute paths are rejected with
// a *perrors.FilesetError.
func New(name string, entries []string) (*Fileset, error) {
	for _, e := range entries {
		p := e
		if strings.HasPrefix(p, "-") {
			p = p[1:]
		}
		if strings.HasPrefix(p, "\\") {
			p = p[1:]
		}
		if path.IsAbs(p) || strings.HasPrefix(p, "/") {
			return nil, &perrors.FilesetError{Name: name, Message: "path " + p + " must be relative"}
		}
	}
	cp := append([]string(nil), entries...)
	return &Fileset{name: name, entries: cp}, nil
}

// Name returns the fileset's name, used only for diagnostics.
func (f *Fileset) Name() string { return f.name }

// Entries returns a copy of the fileset's raw entries.
func (f *Fileset) Entries() []string {
	return append([]string(nil), f.entries...)
}

// Includes returns the include entries (without the leading "-" that
// never appears on an include, and with a leading "\" escape stripped).
func (f *Fileset) Includes() []string {
	var out []string
	for _, e := range f.entries {
		if strings.HasPrefix(e, "-") {
			continue
		}
		out = append(out, strings.TrimPrefix(e, "\\"))
	}
	return out
}

// Excludes returns the exclude entries with the leading "-" stripped.
func (f *Fileset) Excludes() []string {
	var out []string
	for _, e := range f.entries {
		if strings.HasPrefix(e, "-") {
			out = append(out, e[1:])
		}
	}
	return out
}

// remove deletes the first occurrence of item from the entry list.
func (f *Fileset) remove(item string) {
	for i, e := range f.entries {
		if e == item {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return
		}
	}
}

// Combine merges other's entries into f.
//
// It is an error (*perrors.FilesetConflict) if other excludes a path f
// explicitly includes. A wildcard "*" in f, or a fileset consisting only
// of excludes, triggers a union of entries instead of a no-op.
func (f *Fileset) Combine(other *Fileset) error {
	toCombine := false

	if contains(f.entries, "*") {
		toCombine = true
		f.remove("*")
	}

	otherExcludes := toSet(other.Excludes())
	myIncludes := toSet(f.Includes())

	var conflict []string
	for p := range otherExcludes {
		if myIncludes[p] {
			conflict = append(conflict, p)
		}
	}
	if len(conflict) > 0 {
		sort.Strings(conflict)
		return &perrors.FilesetConflict{Paths: conflict}
	}

	onlyExcludes := len(f.entries) > 0
	for _, e := range f.entries {
		if !strings.HasPrefix(e, "-") {
			onlyExcludes = false
			break
		}
	}
	if onlyExcludes {
		toCombine = true
	}

	if toCombine {
		merged := toSet(f.entries)
		for _, e := range other.entries {
			merged[e] = true
		}
		f.entries = sortedSetKeys(merged)
	}

	return nil
}

func contains(list []string, item string) bool {
	for _, e := range list {
		if e == item {
			return true
		}
	}
	return false
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, e := range list {
		m[e] = true
	}
	return m
}

func sortedSetKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
