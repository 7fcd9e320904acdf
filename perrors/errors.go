// Package perrors collects the typed error taxonomy used across the
// lifecycle engine. Names follow the conceptual taxonomy of the
// specification; they are not a 1:1 port of any single upstream exception
// hierarchy.
package perrors

import "fmt"

// FilesetError is returned when a fileset entry is malformed, e.g. an
// absolute path.
type FilesetError struct {
	Name    string
	Message string
}

func (e *FilesetError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("fileset %q: %s", e.Name, e.Message)
	}
	return fmt.Sprintf("fileset: %s", e.Message)
}

// FilesetConflict is returned by Fileset.Combine when the other fileset
// excludes a path this fileset explicitly includes.
type FilesetConflict struct {
	Paths []string
}

func (e *FilesetConflict) Error() string {
	return fmt.Sprintf("fileset conflict on paths %v: explicitly included here but excluded by the other fileset", e.Paths)
}

// StageCollisionError is returned by CheckForStageCollisions when two
// parts would migrate different content to the same stage-relative path.
// Not named explicitly in the error taxonomy (which only calls out
// FilesetConflict for a combine-time exclude/include clash); kept
// distinct from FilesetConflict because the two conditions are detected
// at different points in the lifecycle and shouldn't be conflated under
// one message.
type StageCollisionError struct {
	Paths []string
}

func (e *StageCollisionError) Error() string {
	return fmt.Sprintf("parts disagree on the contents of staged path(s) %v", e.Paths)
}

// FeatureError is returned when a caller's use of the partition feature
// doesn't match whether partitions are enabled for the project.
type FeatureError struct {
	Message string
}

func (e *FeatureError) Error() string {
	return e.Message
}

// StagePackageNotFound is returned when a stage-package name can't be
// resolved by the package repository during Pull.
type StagePackageNotFound struct {
	Package string
}

func (e *StagePackageNotFound) Error() string {
	return fmt.Sprintf("stage package %q not found", e.Package)
}

// OverlayPackageNotFound is returned when an overlay-package name can't be
// resolved during overlay preparation.
type OverlayPackageNotFound struct {
	Package string
}

func (e *OverlayPackageNotFound) Error() string {
	return fmt.Sprintf("overlay package %q not found", e.Package)
}

// ScriptletRunError is returned when a user-supplied override scriptlet
// exits non-zero.
type ScriptletRunError struct {
	Part     string
	Scriptlet string
	Err      error
}

func (e *ScriptletRunError) Error() string {
	return fmt.Sprintf("part %q: scriptlet %q failed: %v", e.Part, e.Scriptlet, e.Err)
}

func (e *ScriptletRunError) Unwrap() error { return e.Err }

// PluginBuildError is returned when a plugin-generated build command exits
// non-zero.
type PluginBuildError struct {
	Part string
	Err  error
}

func (e *PluginBuildError) Error() string {
	return fmt.Sprintf("part %q: build command failed: %v", e.Part, e.Err)
}

func (e *PluginBuildError) Unwrap() error { return e.Err }

// InvalidActionError is returned for programmer errors: requesting Update
// on Stage/Prime, or Reapply on a non-Overlay step.
type InvalidActionError struct {
	Message string
}

func (e *InvalidActionError) Error() string {
	return e.Message
}

// ErrSourceUpdateUnsupported is returned by a SourceHandler that can't
// check whether its source is outdated. Callers should treat it as "not
// outdated", never as fatal.
var ErrSourceUpdateUnsupported = &sourceUpdateUnsupportedError{}

type sourceUpdateUnsupportedError struct{}

func (e *sourceUpdateUnsupportedError) Error() string {
	return "source handler does not support checking for updates"
}
