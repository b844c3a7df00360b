package growth

import (
	"go.uber.org/zap"
)

// DefaultSigma is the dispersion (cm/year) used when no sigma entry exists at
// any fallback level. The value comes from validation against the holdout
// years of the monitored stands.
const DefaultSigma = 3.0

// SigmaTable holds per-group robust dispersion estimates for stochastic
// growth sampling, with the same group -> species -> global fallback as the
// baseline curves. Immutable after calibration.
type SigmaTable struct {
	Group     map[string]float64 `msgpack:"group"`
	Species   map[string]float64 `msgpack:"species"`
	Global    float64            `msgpack:"global"`
	HasGlobal bool               `msgpack:"has_global"`
}

// Lookup resolves the sigma for a (species, plot) combination and reports the
// fallback level used. When no entry exists at any level, DefaultSigma is
// returned with FallbackGlobal.
func (t *SigmaTable) Lookup(species string, plot PlotGroup) (float64, FallbackLevel) {
	if s, ok := t.Group[GroupKey(species, plot)]; ok {
		return s, FallbackGroup
	}
	if s, ok := t.Species[species]; ok {
		return s, FallbackSpecies
	}
	if t.HasGlobal {
		return t.Global, FallbackGlobal
	}
	return DefaultSigma, FallbackGlobal
}

// CalibrateResidualSpread estimates a robust sigma per group from the
// residuals between observed annualized growth and the baseline prediction:
// sigma = 1.4826 * MAD(residuals). Groups with one or fewer residual samples
// get no entry; callers fall through the hierarchy and ultimately to
// DefaultSigma.
func CalibrateResidualSpread(observations []GrowthObservation, curves *CurveSet, logger *zap.SugaredLogger) (*SigmaTable, error) {
	if len(observations) == 0 {
		return nil, NewDataError("cannot calibrate residual spread from an empty observation set")
	}
	if curves == nil {
		return nil, ErrModelUnavailable
	}

	byGroup := make(map[string][]float64)
	bySpecies := make(map[string][]float64)
	var all []float64

	for _, o := range observations {
		resid := o.AnnualizedDelta - curves.Predict(o.PrevDiameterCM, o.Species, o.Plot)
		byGroup[GroupKey(o.Species, o.Plot)] = append(byGroup[GroupKey(o.Species, o.Plot)], resid)
		bySpecies[o.Species] = append(bySpecies[o.Species], resid)
		all = append(all, resid)
	}

	table := &SigmaTable{
		Group:   make(map[string]float64),
		Species: make(map[string]float64),
	}

	for key, residuals := range byGroup {
		if len(residuals) > 1 {
			table.Group[key] = madToSigma * mad(residuals)
		}
	}
	for species, residuals := range bySpecies {
		if len(residuals) > 1 {
			table.Species[species] = madToSigma * mad(residuals)
		}
	}
	if len(all) > 1 {
		table.Global = madToSigma * mad(all)
		table.HasGlobal = true
	}

	logger.Infof("calibrated residual spread: %d group entries, %d species entries, global sigma %.4f cm/yr",
		len(table.Group), len(table.Species), table.Global)

	return table, nil
}
