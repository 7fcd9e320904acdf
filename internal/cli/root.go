// Package cli wires the partcraft root Cobra command and its per-step
// subcommands, grounded on the pack's own Cobra-based command tree
// (bartekus-stagecraft's cmd/ layout) rather than the teacher's bare
// flag package, since a multi-verb lifecycle CLI is the shape Cobra
// fits and distri's single-purpose subcommands don't need.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"partcraft/internal/oninterrupt"
)

// NewRootCommand constructs the partcraft root command and every
// subcommand (pull/overlay/build/stage/prime/clean/plan).
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "partcraft",
		Short:         "partcraft drives a multi-part build lifecycle",
		Long:          "partcraft sequences and executes the pull, overlay, build, stage and prime steps of a parts.yaml project.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("project", "p", "parts.yaml", "path to the project file")
	root.PersistentFlags().String("workdir", ".", "project work directory")
	root.PersistentFlags().Bool("debug", false, "prefix log lines with timestamps")

	root.AddCommand(
		newStepCommand("pull"),
		newStepCommand("overlay"),
		newStepCommand("build"),
		newStepCommand("stage"),
		newStepCommand("prime"),
		newCleanCommand(),
		newPlanCommand(),
	)
	return root
}

// Main runs the root command and returns the process exit code,
// mirroring the teacher's cmd/distri habit of centralizing error
// printing and exit-code handling in one place rather than in every verb.
// A part's state file is written as soon as that part's step completes
// (see executor.PartHandler), so an interrupt mid-Execute never leaves a
// half-written state file behind; the registered handler only has to
// say so.
func Main() int {
	oninterrupt.Register(func() {
		fmt.Fprintln(os.Stderr, "partcraft: interrupted; state for already-completed steps was written as each one finished")
	})

	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
