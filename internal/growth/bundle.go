package growth

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ModelBundle is the complete set of fitted growth artifacts a simulation run
// needs: baseline curves, the sigma table, and the optional residual model.
// It is built (or loaded) once per run and passed into the simulation entry
// point explicitly; nothing in this package keeps hidden global state.
type ModelBundle struct {
	Curves   *CurveSet      `msgpack:"curves"`
	Sigma    *SigmaTable    `msgpack:"sigma"`
	Residual *ResidualModel `msgpack:"residual,omitempty"`
	Meta     *FitMetadata   `msgpack:"meta"`
	FittedAt time.Time      `msgpack:"fitted_at"`
}

// Validate checks that the bundle can drive a simulation. The residual model
// is optional (baseline-only rules do not need it); curves and sigma are not.
func (b *ModelBundle) Validate() error {
	if b == nil || b.Curves == nil {
		return fmt.Errorf("baseline curves: %w", ErrModelUnavailable)
	}
	if b.Sigma == nil {
		return fmt.Errorf("sigma table: %w", ErrModelUnavailable)
	}
	return nil
}

// HasResidualModel reports whether hybrid/floor rules can be used
func (b *ModelBundle) HasResidualModel() bool {
	return b != nil && b.Residual != nil
}

// Save serializes the bundle to a msgpack artifact file
func (b *ModelBundle) Save(path string) error {
	data, err := msgpack.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode model bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model bundle: %w", err)
	}
	return nil
}

// LoadBundle reads a previously saved bundle artifact. A missing file is
// ErrModelUnavailable: simulation cannot proceed without a growth function.
func LoadBundle(path string) (*ModelBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("bundle %s: %w", path, ErrModelUnavailable)
		}
		return nil, fmt.Errorf("failed to read model bundle: %w", err)
	}

	var bundle ModelBundle
	if err := msgpack.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode model bundle: %w", err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return &bundle, nil
}
