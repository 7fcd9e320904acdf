package overlay

import (
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"partcraft"
	"partcraft/parts"
	"partcraft/state"
)

// LayerStateManager persists and retrieves each part's layer hash, and
// reads the overlay stack hash a part's Build or Stage state recorded
// when it last ran.
type LayerStateManager struct {
	stateManager *state.Manager
}

// NewLayerStateManager constructs a LayerStateManager backed by stateManager.
func NewLayerStateManager(stateManager *state.Manager) *LayerStateManager {
	return &LayerStateManager{stateManager: stateManager}
}

// GetLayerHash reads the persisted layer hash for part, or ZeroHash if
// none has been recorded yet (the part has never had its Overlay step
// run).
func (m *LayerStateManager) GetLayerHash(part *parts.Part) (Hash, error) {
	data, err := os.ReadFile(part.LayerHashPath())
	if err != nil {
		if os.IsNotExist(err) {
			return ZeroHash, nil
		}
		return ZeroHash, xerrors.Errorf("read layer hash: %v", err)
	}
	return ParseHash(string(data))
}

// SetLayerHash atomically persists part's new layer hash.
func (m *LayerStateManager) SetLayerHash(part *parts.Part, h Hash) error {
	if err := os.MkdirAll(part.StateDir(), 0o755); err != nil {
		return xerrors.Errorf("create state dir: %v", err)
	}
	return renameio.WriteFile(part.LayerHashPath(), []byte(h.String()), 0o644)
}

// RemoveLayerHash deletes the persisted layer hash for part, as part of
// cleaning its Overlay step.
func (m *LayerStateManager) RemoveLayerHash(part *parts.Part) error {
	if err := os.Remove(part.LayerHashPath()); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("remove layer hash: %v", err)
	}
	return nil
}

// GetOverlayHash returns the overlay stack hash recorded in part's Build
// or Stage state, or ZeroHash if the step hasn't run or recorded none.
func (m *LayerStateManager) GetOverlayHash(partName string, step partcraft.Step) Hash {
	raw := m.stateManager.GetStepStateOverlayHash(partName, step)
	var h Hash
	copy(h[:], raw)
	return h
}
