package growth

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

// FitParams defines parameters for baseline curve fitting.
// The defaults were tuned empirically on the monitored stands; they are
// exposed as configuration rather than derived constants because there is no
// evidence they generalize to other populations.
type FitParams struct {
	// MinSamples is the minimum observation count a (species, plot) group
	// needs before it gets its own curve (e.g., 40)
	MinSamples int

	// BinWidthCM is the diameter bin width in centimeters (e.g., 10)
	BinWidthCM float64

	// TrimFraction is the symmetric fraction trimmed from each tail when
	// computing a bin's robust mean (0-1, e.g., 0.1)
	TrimFraction float64

	// TailStartQuantile is the bin-center quantile at which the
	// non-increasing tail guardrail starts (0-1, e.g., 0.8)
	TailStartQuantile float64
}

// DefaultFitParams returns the empirically tuned fitting parameters
func DefaultFitParams() FitParams {
	return FitParams{
		MinSamples:        40,
		BinWidthCM:        10.0,
		TrimFraction:      0.1,
		TailStartQuantile: 0.8,
	}
}

// BaselineCurve is a fitted growth-delta-vs-diameter curve for one lookup
// level. Bin centers are ordered ascending; every delta is nonnegative and the
// upper-diameter tail is non-increasing. Immutable after fitting.
type BaselineCurve struct {
	BinCenters  []float64     `msgpack:"bin_centers"`
	Deltas      []float64     `msgpack:"deltas"`
	Fallback    FallbackLevel `msgpack:"fallback_level"`
	SampleCount int           `msgpack:"sample_count"`
}

// Predict returns the expected annual diameter growth at the given diameter.
// Lookups between bin centers use linear interpolation; diameters outside the
// observed range clamp to the nearest endpoint rather than extrapolating.
// An empty curve predicts zero growth.
func (c *BaselineCurve) Predict(dbhCM float64) float64 {
	n := len(c.BinCenters)
	if n == 0 {
		return 0.0
	}
	if n == 1 || dbhCM <= c.BinCenters[0] {
		return math.Max(0.0, c.Deltas[0])
	}
	if dbhCM >= c.BinCenters[n-1] {
		return math.Max(0.0, c.Deltas[n-1])
	}

	// Find the enclosing bin pair
	hi := sort.SearchFloat64s(c.BinCenters, dbhCM)
	if c.BinCenters[hi] == dbhCM {
		return math.Max(0.0, c.Deltas[hi])
	}
	lo := hi - 1
	t := (dbhCM - c.BinCenters[lo]) / (c.BinCenters[hi] - c.BinCenters[lo])
	return math.Max(0.0, c.Deltas[lo]+t*(c.Deltas[hi]-c.Deltas[lo]))
}

// CurveSet holds all fitted baseline curves with their explicit three-level
// lookup hierarchy: (species, plot) group, species-only, then global.
// Built once per training run; read-only afterwards.
type CurveSet struct {
	Params  FitParams                 `msgpack:"params"`
	Group   map[string]*BaselineCurve `msgpack:"group"`
	Species map[string]*BaselineCurve `msgpack:"species"`
	Global  *BaselineCurve            `msgpack:"global"`
}

// Lookup resolves the best available curve for a (species, plot) combination
// and reports which fallback level served it. A set with no curves at any
// level yields a constant-zero curve at the global level; callers log this
// but do not fail.
func (s *CurveSet) Lookup(species string, plot PlotGroup) (*BaselineCurve, FallbackLevel) {
	if c, ok := s.Group[GroupKey(species, plot)]; ok {
		return c, FallbackGroup
	}
	if c, ok := s.Species[species]; ok {
		return c, FallbackSpecies
	}
	if s.Global != nil {
		return s.Global, FallbackGlobal
	}
	return &BaselineCurve{Fallback: FallbackGlobal}, FallbackGlobal
}

// Predict returns the baseline annual growth for a tree, resolving the
// fallback hierarchy internally
func (s *CurveSet) Predict(dbhCM float64, species string, plot PlotGroup) float64 {
	curve, _ := s.Lookup(species, plot)
	return curve.Predict(dbhCM)
}

// CurveBinRow is the serializable per-bin form of a fitted curve, suitable
// for tabular persistence
type CurveBinRow struct {
	GroupKey      string        `json:"group_key"`
	BinCenterCM   float64       `json:"bin_center_cm"`
	DeltaEstimate float64       `json:"delta_estimate"`
	FallbackLevel FallbackLevel `json:"fallback_level"`
	SampleCount   int           `json:"sample_count"`
}

// Rows flattens the curve set into per-bin rows for persistence
func (s *CurveSet) Rows() []CurveBinRow {
	var rows []CurveBinRow
	appendCurve := func(key string, c *BaselineCurve) {
		for i := range c.BinCenters {
			rows = append(rows, CurveBinRow{
				GroupKey:      key,
				BinCenterCM:   c.BinCenters[i],
				DeltaEstimate: c.Deltas[i],
				FallbackLevel: c.Fallback,
				SampleCount:   c.SampleCount,
			})
		}
	}

	groupKeys := make([]string, 0, len(s.Group))
	for k := range s.Group {
		groupKeys = append(groupKeys, k)
	}
	sort.Strings(groupKeys)
	for _, k := range groupKeys {
		appendCurve(k, s.Group[k])
	}

	speciesKeys := make([]string, 0, len(s.Species))
	for k := range s.Species {
		speciesKeys = append(speciesKeys, k)
	}
	sort.Strings(speciesKeys)
	for _, k := range speciesKeys {
		appendCurve(k, s.Species[k])
	}

	if s.Global != nil {
		appendCurve("*", s.Global)
	}
	return rows
}

// FitMetadata summarizes a fitting run
type FitMetadata struct {
	Params           FitParams `msgpack:"params"`
	ObservationCount int       `msgpack:"observation_count"`
	GroupCurves      int       `msgpack:"group_curves"`
	SpeciesCurves    int       `msgpack:"species_curves"`
	DiameterMinCM    float64   `msgpack:"diameter_min_cm"`
	DiameterMaxCM    float64   `msgpack:"diameter_max_cm"`
	BinCount         int       `msgpack:"bin_count"`
}

// FitBaselineCurves fits the full curve hierarchy from growth observations.
// Groups with at least MinSamples observations get their own curve; every
// species with at least MinSamples gets a species-level fallback curve, and a
// global curve over all observations is always fitted. Every curve passes
// through the nonnegativity clamp and the high-diameter tail guardrail.
func FitBaselineCurves(observations []GrowthObservation, params FitParams, logger *zap.SugaredLogger) (*CurveSet, *FitMetadata, error) {
	if len(observations) == 0 {
		return nil, nil, NewDataError("cannot fit baseline curves from an empty observation set")
	}

	dbhMin, dbhMax := math.Inf(1), math.Inf(-1)
	for _, o := range observations {
		dbhMin = math.Min(dbhMin, o.PrevDiameterCM)
		dbhMax = math.Max(dbhMax, o.PrevDiameterCM)
	}
	edges := binEdges(dbhMin, dbhMax, params.BinWidthCM)

	byGroup := make(map[string][]GrowthObservation)
	bySpecies := make(map[string][]GrowthObservation)
	for _, o := range observations {
		key := GroupKey(o.Species, o.Plot)
		byGroup[key] = append(byGroup[key], o)
		bySpecies[o.Species] = append(bySpecies[o.Species], o)
	}

	set := &CurveSet{
		Params:  params,
		Group:   make(map[string]*BaselineCurve),
		Species: make(map[string]*BaselineCurve),
	}

	for key, groupObs := range byGroup {
		if len(groupObs) >= params.MinSamples {
			set.Group[key] = fitCurve(groupObs, edges, params, FallbackGroup)
		}
	}
	for species, speciesObs := range bySpecies {
		if len(speciesObs) >= params.MinSamples {
			set.Species[species] = fitCurve(speciesObs, edges, params, FallbackSpecies)
		}
	}
	set.Global = fitCurve(observations, edges, params, FallbackGlobal)

	if len(set.Global.BinCenters) == 0 {
		logger.Warnf("global baseline curve has no populated bins; lookups will predict zero growth")
	}

	meta := &FitMetadata{
		Params:           params,
		ObservationCount: len(observations),
		GroupCurves:      len(set.Group),
		SpeciesCurves:    len(set.Species),
		DiameterMinCM:    dbhMin,
		DiameterMaxCM:    dbhMax,
		BinCount:         len(edges) - 1,
	}

	logger.Infof("fitted baseline curves: %d group-level, %d species-level, 1 global (%d bins over [%.1f, %.1f] cm)",
		meta.GroupCurves, meta.SpeciesCurves, meta.BinCount, dbhMin, dbhMax)

	return set, meta, nil
}

// binEdges builds diameter bin edges aligned to multiples of the bin width
func binEdges(dbhMin, dbhMax, width float64) []float64 {
	start := math.Floor(dbhMin/width) * width
	end := math.Ceil(dbhMax/width) * width
	if end <= start {
		end = start + width
	}
	var edges []float64
	for e := start; e <= end+width/2; e += width {
		edges = append(edges, e)
	}
	return edges
}

// fitCurve bins one group's observations and applies the guardrail
func fitCurve(obs []GrowthObservation, edges []float64, params FitParams, level FallbackLevel) *BaselineCurve {
	var centers, deltas []float64

	for i := 0; i < len(edges)-1; i++ {
		lo, hi := edges[i], edges[i+1]
		var binDeltas []float64
		for _, o := range obs {
			if o.PrevDiameterCM >= lo && o.PrevDiameterCM < hi {
				binDeltas = append(binDeltas, o.AnnualizedDelta)
			}
		}
		if len(binDeltas) == 0 {
			continue
		}
		// Robust bin estimate, clamped nonnegative
		est := trimmedMean(binDeltas, params.TrimFraction)
		centers = append(centers, (lo+hi)/2.0)
		deltas = append(deltas, math.Max(0.0, est))
	}

	deltas = applyTailGuardrail(centers, deltas, params.TailStartQuantile)

	return &BaselineCurve{
		BinCenters:  centers,
		Deltas:      deltas,
		Fallback:    level,
		SampleCount: len(obs),
	}
}

// applyTailGuardrail enforces non-increasing growth in the upper-diameter
// tail: sparse noisy data at large diameters must never produce an
// accelerating curve. Bins at or above the tail-start quantile (at least 2
// bins, at most half of all bins) are constrained to delta[i] <= delta[i-1].
// Curves with fewer than 5 bins are made non-increasing end to end.
func applyTailGuardrail(centers, deltas []float64, tailQuantile float64) []float64 {
	n := len(deltas)
	if n == 0 {
		return deltas
	}

	guarded := make([]float64, n)
	for i, d := range deltas {
		guarded[i] = math.Max(0.0, d)
	}
	if n == 1 {
		return guarded
	}

	if n < 5 {
		for i := 1; i < n; i++ {
			guarded[i] = math.Min(guarded[i], guarded[i-1])
		}
		return guarded
	}

	tailStartDBH := percentile(centers, tailQuantile*100)
	tailStart := sort.SearchFloat64s(centers, tailStartDBH)
	for tailStart < n && centers[tailStart] <= tailStartDBH {
		tailStart++
	}

	minTailBins := int(math.Max(2, float64(n)*0.1))
	maxTailBins := n / 2
	if tailStart > n-minTailBins {
		tailStart = n - minTailBins
	}
	if tailStart < n-maxTailBins {
		tailStart = n - maxTailBins
	}

	for i := tailStart; i < n; i++ {
		if i > 0 {
			guarded[i] = math.Min(guarded[i], guarded[i-1])
		}
	}
	for i := range guarded {
		guarded[i] = math.Max(0.0, guarded[i])
	}
	return guarded
}
