// Command partcraft-plandump is a low-level debug tool: it loads a
// project file, runs the sequencer and prints the resulting action
// list as JSON, one action per line, without executing anything.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"partcraft"
	"partcraft/overlay"
	"partcraft/project"
	"partcraft/sequencer"
	"partcraft/state"
)

var (
	projectPath = flag.String("project", "parts.yaml", "path to the project file")
	workDir     = flag.String("workdir", ".", "project work directory")
	step        = flag.String("step", "prime", "target step (pull, overlay, build, stage, prime)")
	rerun       = flag.Bool("rerun", false, "force a rerun of the named parts already at the target step")
	debug       = flag.Bool("debug", false, "format error messages with additional detail")
)

var stepsByName = map[string]partcraft.Step{
	"pull":    partcraft.Pull,
	"overlay": partcraft.Overlay,
	"build":   partcraft.Build,
	"stage":   partcraft.Stage,
	"prime":   partcraft.Prime,
}

// bumpRlimitNOFILE raises the process's open-file limit to the kernel
// maximum so resolving a project with many parts and stage packages
// does not run into EMFILE while the sequencer and state manager stat
// every part's state files up front.
func bumpRlimitNOFILE() error {
	var fileMax, nrOpen uint64
	{
		b, err := ioutil.ReadFile("/proc/sys/fs/file-max")
		if err != nil {
			return err
		}
		fileMax, err = strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
		if err != nil {
			return err
		}
	}
	{
		b, err := ioutil.ReadFile("/proc/sys/fs/nr_open")
		if err != nil {
			return err
		}
		nrOpen, err = strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
		if err != nil {
			return err
		}
	}
	max := fileMax
	if nrOpen < max {
		max = nrOpen
	}
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: max, Max: max})
}

func dump() error {
	if err := bumpRlimitNOFILE(); err != nil {
		log.Printf("bumpRlimitNOFILE: %v (continuing with the default limit)", err)
	}

	target, ok := stepsByName[*step]
	if !ok {
		return xerrors.Errorf("unknown step %q", *step)
	}

	dir, err := filepath.Abs(*workDir)
	if err != nil {
		return xerrors.Errorf("resolve workdir: %v", err)
	}

	proj, err := project.Load(*projectPath, dir)
	if err != nil {
		return xerrors.Errorf("load project: %v", err)
	}

	mgr, err := state.NewManager(proj.PartList, proj.Options, proj.SourceHandlerFactory())
	if err != nil {
		return xerrors.Errorf("load state: %v", err)
	}
	layerMgr := overlay.NewLayerStateManager(mgr)

	seq, err := sequencer.New(proj.PartList, mgr, layerMgr, overlay.ZeroHash, proj.Options, nil)
	if err != nil {
		return xerrors.Errorf("build sequencer: %v", err)
	}

	actions, err := seq.Plan(target, flag.Args(), *rerun)
	if err != nil {
		return xerrors.Errorf("plan: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, a := range actions {
		if err := enc.Encode(planLine{
			Part:   a.PartName,
			Step:   a.Step.String(),
			Kind:   a.Kind.String(),
			Reason: a.Reason,
		}); err != nil {
			return err
		}
	}
	return nil
}

// planLine mirrors partcraft.Action with Step/Kind rendered as their
// String() form, since Action's own fields are plain ints and would
// otherwise dump as unreadable numbers.
type planLine struct {
	Part   string `json:"part"`
	Step   string `json:"step"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

func main() {
	flag.Parse()
	if err := dump(); err != nil {
		if *debug {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
