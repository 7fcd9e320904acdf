package cli

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"partcraft"
	"partcraft/executor"
	"partcraft/overlay"
	"partcraft/project"
	"partcraft/sequencer"
	"partcraft/state"
)

// engine bundles the collaborators one CLI invocation needs: loaded
// once per command from the --project/--workdir persistent flags.
type engine struct {
	proj     *project.Project
	manager  *state.Manager
	layerMgr *overlay.LayerStateManager
	seq      *sequencer.Sequencer
	exec     *executor.Executor
}

func loadEngine(cmd *cobra.Command) (*engine, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		log.SetFlags(log.Ltime | log.Lmicroseconds)
	} else {
		log.SetFlags(0)
	}

	projectPath, _ := cmd.Flags().GetString("project")
	workDir, _ := cmd.Flags().GetString("workdir")
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, err
	}

	proj, err := project.Load(projectPath, workDir)
	if err != nil {
		return nil, err
	}

	mgr, err := state.NewManager(proj.PartList, proj.Options, proj.SourceHandlerFactory())
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	layerMgr := overlay.NewLayerStateManager(mgr)

	seq, err := sequencer.New(proj.PartList, mgr, layerMgr, overlay.ZeroHash, proj.Options, nil)
	if err != nil {
		return nil, fmt.Errorf("build sequencer: %w", err)
	}

	exec := executor.New(proj.PartList, mgr, layerMgr, overlay.ZeroHash, proj.Options, proj.Collaborators())

	return &engine{proj: proj, manager: mgr, layerMgr: layerMgr, seq: seq, exec: exec}, nil
}

var stepsByName = map[string]partcraft.Step{
	"pull":    partcraft.Pull,
	"overlay": partcraft.Overlay,
	"build":   partcraft.Build,
	"stage":   partcraft.Stage,
	"prime":   partcraft.Prime,
}
