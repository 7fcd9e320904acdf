package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"partcraft"
)

// newStepCommand builds the `partcraft <step> [parts...]` subcommand
// shared by pull/overlay/build/stage/prime: plan to that target step,
// run the Prologue collision check, execute, then run the Epilogue.
func newStepCommand(stepName string) *cobra.Command {
	step := stepsByName[stepName]
	var rerun bool

	cmd := &cobra.Command{
		Use:   stepName + " [parts...]",
		Short: fmt.Sprintf("Bring the project (or named parts) up to the %s step", stepName),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEngine(cmd)
			if err != nil {
				return err
			}

			actions, err := e.seq.Plan(step, args, rerun)
			if err != nil {
				return fmt.Errorf("plan: %w", err)
			}

			partitionsEnabled := e.proj.PartitionsEnabled
			defaultPartition := e.proj.DefaultPartition
			if err := e.exec.Prologue(actions, partitionsEnabled, defaultPartition); err != nil {
				return fmt.Errorf("prologue: %w", err)
			}

			ctx := context.Background()
			if err := e.exec.Execute(ctx, actions); err != nil {
				return fmt.Errorf("execute: %w", err)
			}
			if err := e.exec.Epilogue(ctx, step); err != nil {
				return fmt.Errorf("epilogue: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d action(s) applied\n", stepName, len(actions))
			return nil
		},
	}
	cmd.Flags().BoolVar(&rerun, "rerun", false, "force a rerun of the named parts already at this step")
	return cmd
}

// newCleanCommand builds `partcraft clean [parts...] --step <step>`,
// cleaning each selected part's given step and every step after it.
func newCleanCommand() *cobra.Command {
	var stepName string

	cmd := &cobra.Command{
		Use:   "clean [parts...]",
		Short: "Remove a part's on-disk output for a step and every later step",
		RunE: func(cmd *cobra.Command, args []string) error {
			step, ok := stepsByName[stepName]
			if !ok {
				return fmt.Errorf("clean: unknown step %q", stepName)
			}
			e, err := loadEngine(cmd)
			if err != nil {
				return err
			}

			partNames := args
			if len(partNames) == 0 {
				for _, p := range e.proj.PartList {
					partNames = append(partNames, p.Name)
				}
			}
			for _, name := range partNames {
				if err := e.exec.Clean(name, step); err != nil {
					return fmt.Errorf("clean %s: %w", name, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "clean: %d part(s) cleaned from %s onward\n", len(partNames), stepName)
			return nil
		},
	}
	cmd.Flags().StringVar(&stepName, "step", "pull", "step to clean from (pull, overlay, build, stage, prime)")
	return cmd
}

// newPlanCommand builds `partcraft plan --step <step> [parts...]`, a
// dry run that prints the action list a real invocation would execute
// without touching any part's directories.
func newPlanCommand() *cobra.Command {
	var stepName string
	var rerun bool

	cmd := &cobra.Command{
		Use:   "plan [parts...]",
		Short: "Print the action list for a target step without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			step, ok := stepsByName[stepName]
			if !ok {
				return fmt.Errorf("plan: unknown step %q", stepName)
			}
			e, err := loadEngine(cmd)
			if err != nil {
				return err
			}

			actions, err := e.seq.Plan(step, args, rerun)
			if err != nil {
				return fmt.Errorf("plan: %w", err)
			}
			printActions(cmd, actions)
			return nil
		},
	}
	cmd.Flags().StringVar(&stepName, "step", "prime", "target step (pull, overlay, build, stage, prime)")
	cmd.Flags().BoolVar(&rerun, "rerun", false, "force a rerun of the named parts already at the target step")
	return cmd
}

func printActions(cmd *cobra.Command, actions []partcraft.Action) {
	out := cmd.OutOrStdout()
	if len(actions) == 0 {
		fmt.Fprintln(out, "plan: nothing to do")
		return
	}
	for _, a := range actions {
		fmt.Fprintf(out, "%-8s %-10s %-8s %s\n", a.PartName, a.Step, a.Kind, a.Reason)
	}
}
