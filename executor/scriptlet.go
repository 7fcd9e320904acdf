package executor

import (
	"context"
	"os"
	"os/exec"

	"partcraft/fileset"
	"partcraft/perrors"
)

// copyTree mirrors srcDir's contents into dstDir using the same
// hard-link-with-copy-fallback migration primitive every other step
// boundary uses, so an out-of-source build is the only path that skips a
// physical copy rather than a different one. Entries with a hidden path
// component are not copied: the "*" fileset excludes them.
func copyTree(srcDir, dstDir string) error {
	fs, err := fileset.New("build-src", []string{"*"})
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

// runScriptlet runs script under /bin/sh in workDir, with extra appended
// to the process environment, attaching stdio the way the teacher's own
// subprocess helpers do (bootstrap.go's build step wires Stdin/Stdout/
// Stderr straight through rather than capturing output).
func runScriptlet(ctx context.Context, partName, scriptletName, script, workDir string, extraEnv []string) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &perrors.ScriptletRunError{Part: partName, Scriptlet: scriptletName, Err: err}
	}
	return nil
}

// runBuildCommands runs a plugin's generated build commands one at a
// time, in workDir, stopping at the first failure.
func runBuildCommands(ctx context.Context, partName string, commands []string, workDir string, extraEnv []string) error {
	for _, c := range commands {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", c)
		cmd.Dir = workDir
		cmd.Env = append(os.Environ(), extraEnv...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return &perrors.PluginBuildError{Part: partName, Err: err}
		}
	}
	return nil
}

// stepEnvironment assembles the KEY=VALUE environment entries every
// scriptlet and build command sees: the part's own directories, mirroring
// the external-interfaces directory layout so a scriptlet can reference
// $PARTCRAFT_PART_SRC without recomputing it.
func stepEnvironment(partName, srcDir, buildDir, installDir, stageDir, primeDir string) []string {
	return []string{
		"PARTCRAFT_PART_NAME=" + partName,
		"PARTCRAFT_PART_SRC=" + srcDir,
		"PARTCRAFT_PART_BUILD=" + buildDir,
		"PARTCRAFT_PART_INSTALL=" + installDir,
		"PARTCRAFT_STAGE=" + stageDir,
		"PARTCRAFT_PRIME=" + primeDir,
	}
}
