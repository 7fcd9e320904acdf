package executor

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"partcraft/fileset"
	"partcraft/parts"
	"partcraft/perrors"
)

// CheckForStageCollisions verifies that every part whose install directory
// already exists agrees on the content it would migrate to each shared
// stage-relative path. It must run before any Stage action in the current
// plan, since migration itself has no way to detect a collision after the
// fact: the second part to migrate a path simply overwrites the first.
//
// Parts that haven't been built yet (no install directory on disk) are
// skipped rather than treated as a mismatch: a collision can only be
// detected once both sides have real content to compare.
func CheckForStageCollisions(partList []*parts.Part, partitionsEnabled bool, defaultPartition string) error {
	if defaultPartition == "" {
		defaultPartition = fileset.DefaultPartition
	}

	seen := map[string]stageOwner{}
	var conflicts []string

	for _, p := range partList {
		if _, err := os.Stat(p.InstallDir()); err != nil {
			continue
		}

		partitionNames := []string{""}
		if partitionsEnabled {
			partitionNames = partitionNames[:0]
			partitionNames = append(partitionNames, defaultPartition)
			for name := range p.Spec.StagePartitions {
				if name != defaultPartition {
					partitionNames = append(partitionNames, name)
				}
			}
		}

		for _, partition := range partitionNames {
			entries := p.Spec.StageFiles
			if partitionsEnabled && partition != defaultPartition {
				entries = p.Spec.StagePartitions[partition]
			}
			fs, err := fileset.New("stage", entries)
			if err != nil {
				return err
			}

			queryPartition := partition
			if !partitionsEnabled {
				queryPartition = ""
			}
			files, dirs, err := fileset.MigratableFilesets(fs, p.InstallDir(), partitionsEnabled, queryPartition, defaultPartition)
			if err != nil {
				return err
			}

			for rel := range dirs {
				if err := recordAndCompare(seen, &conflicts, p.Name, rel, filepath.Join(p.InstallDir(), rel), true); err != nil {
					return err
				}
			}
			for rel := range files {
				if err := recordAndCompare(seen, &conflicts, p.Name, rel, filepath.Join(p.InstallDir(), rel), false); err != nil {
					return err
				}
			}
		}
	}

	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return &perrors.StageCollisionError{Paths: conflicts}
	}
	return nil
}

// stageOwner records which part first claimed a stage-relative path, and
// the absolute source path its content would be migrated from, so a later
// claim on the same path can be compared against it.
type stageOwner struct {
	part  string
	path  string
	isDir bool
}

func recordAndCompare(seen map[string]stageOwner, conflicts *[]string, partName, rel, fullPath string, isDir bool) error {
	prior, ok := seen[rel]
	if !ok {
		seen[rel] = stageOwner{partName, fullPath, isDir}
		return nil
	}
	if prior.part == partName {
		return nil
	}
	if prior.isDir != isDir {
		*conflicts = append(*conflicts, rel)
		return nil
	}
	if isDir {
		// Two directories at the same stage path never conflict: directory
		// creation is idempotent.
		return nil
	}
	same, err := filesEqual(prior.path, fullPath)
	if err != nil {
		return err
	}
	if !same {
		*conflicts = append(*conflicts, rel)
	}
	return nil
}

func filesEqual(a, b string) (bool, error) {
	aInfo, err := os.Lstat(a)
	if err != nil {
		return false, err
	}
	bInfo, err := os.Lstat(b)
	if err != nil {
		return false, err
	}
	if (aInfo.Mode()&os.ModeSymlink != 0) != (bInfo.Mode()&os.ModeSymlink != 0) {
		return false, nil
	}
	if aInfo.Mode()&os.ModeSymlink != 0 {
		aTarget, err := os.Readlink(a)
		if err != nil {
			return false, err
		}
		bTarget, err := os.Readlink(b)
		if err != nil {
			return false, err
		}
		return aTarget == bTarget, nil
	}
	aData, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bData, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aData, bData), nil
}
