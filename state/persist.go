package state

import (
	"encoding/hex"
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"partcraft"
)

func hexEncode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

func hexDecode(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Write atomically persists state's YAML-encoded marshaled form to path,
// using renameio so a reader never observes a half-written file — state
// files are read by a concurrently-running (or crash-interrupted and
// later resumed) process and must never be corrupt.
func Write(path string, s StepState) error {
	data, err := yaml.Marshal(s.Marshal())
	if err != nil {
		return xerrors.Errorf("marshal state: %v", err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

// Remove deletes the state file at path. A missing file is not an error:
// cleaning is best-effort (spec.md §7).
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("remove state file: %v", err)
	}
	return nil
}

// Load reads and decodes the state file for step at path. A missing file
// returns (nil, nil): the step simply hasn't run.
func Load(path string, step partcraft.Step) (StepState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("read state file: %v", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Errorf("unmarshal state file %s: %v", path, err)
	}

	return unmarshal(step, raw)
}

func asStringMap(v any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asStringStringMap(v any) map[string]string {
	out := map[string]string{}
	if v == nil {
		return out
	}
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func asStringSet(v any) map[string]bool {
	out := map[string]bool{}
	if v == nil {
		return out
	}
	switch vals := v.(type) {
	case []any:
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out[s] = true
			}
		}
	case []string:
		for _, s := range vals {
			out[s] = true
		}
	}
	return out
}

func asStringSlice(v any) []string {
	var out []string
	switch vals := v.(type) {
	case []any:
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, vals...)
	}
	return out
}

// unmarshal builds the concrete StepState for step from a decoded YAML
// map, ignoring unknown keys so state files remain forward-compatible
// (spec.md §6: "Unknown keys are ignored on read").
func unmarshal(step partcraft.Step, raw map[string]any) (StepState, error) {
	partProps := asStringMap(raw["part-properties"])
	projectOpts := asStringStringMap(raw["project-options"])
	files := asStringSet(raw["files"])
	dirs := asStringSet(raw["directories"])

	switch step {
	case partcraft.Pull:
		assets := asStringMap(raw["assets"])
		var sourceDetails map[string]any
		if sd, ok := assets["source-details"].(map[string]any); ok {
			sourceDetails = sd
		}
		return &PullState{
			base: newBase(partProps, projectOpts, files, dirs),
			Assets: PullAssets{
				StagePackages: asStringSlice(assets["stage-packages"]),
				StageSnaps:    asStringSlice(assets["stage-snaps"]),
				SourceDetails: sourceDetails,
			},
		}, nil

	case partcraft.Overlay:
		return &OverlayState{base: newBase(partProps, projectOpts, files, dirs)}, nil

	case partcraft.Build:
		assets := asStringMap(raw["assets"])
		uname, _ := assets["uname"].(string)
		hashStr, _ := raw["overlay-hash"].(string)
		return &BuildState{
			base: newBase(partProps, projectOpts, files, dirs),
			Assets: BuildAssets{
				Packages: asStringSlice(assets["build-packages"]),
				Snaps:    asStringSlice(assets["build-snaps"]),
				Uname:    uname,
			},
			OverlayHash: hexDecode(hashStr),
		}, nil

	case partcraft.Stage:
		hashStr, _ := raw["overlay-hash"].(string)
		return &StageState{
			base:                 newBase(partProps, projectOpts, files, dirs),
			OverlayHash:          hexDecode(hashStr),
			BackstageFiles:       asStringSet(raw["backstage-files"]),
			BackstageDirectories: asStringSet(raw["backstage-directories"]),
		}, nil

	case partcraft.Prime:
		return &PrimeState{
			base:                 newBase(partProps, projectOpts, files, dirs),
			PrimedStagePackages:  asStringSet(raw["primed-stage-packages"]),
			BackstageFiles:       asStringSet(raw["backstage-files"]),
			BackstageDirectories: asStringSet(raw["backstage-directories"]),
		}, nil
	}

	return nil, xerrors.Errorf("invalid step %v", step)
}
