package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/canopycarbon/forestsim/internal/forestry"
	"github.com/canopycarbon/forestsim/internal/growth"
)

// Tree is one simulation entity. DiameterCM is the single mutable state
// variable; the engine owns it exclusively during a run.
type Tree struct {
	ID         string
	Species    string
	Plot       growth.PlotGroup
	DiameterCM float64
}

// CarbonFunc converts a diameter to stored carbon for a species. It is a pure
// allometric collaborator; the engine never inspects its internals.
type CarbonFunc func(dbhCM float64, species string) float64

// YearDiagnostics records population-level statistics for one simulated year
type YearDiagnostics struct {
	Year        int     `json:"year"`
	MeanDelta   float64 `json:"mean_delta"`
	MedianDelta float64 `json:"median_delta"`

	// PctRawNegative is the share of trees whose raw model prediction was
	// negative this year, before any floor
	PctRawNegative float64 `json:"pct_raw_negative"`

	// PctZeroDelta is the share of trees whose applied growth was
	// effectively zero
	PctZeroDelta float64 `json:"pct_zero_delta"`

	// DistinctDiameters counts unique post-step diameters (at 1e-6
	// resolution); a collapsing count flags unnatural clustering toward a
	// fixed ceiling
	DistinctDiameters int `json:"distinct_diameters"`

	// ClampedCount is the number of trees whose negative prediction was
	// floored this year
	ClampedCount int `json:"clamped_count"`

	// Decomposition of the delta into baseline and residual contributions,
	// populated for rules that consult the residual model
	HasDecomposition  bool    `json:"has_decomposition"`
	MeanBaselineDelta float64 `json:"mean_baseline_delta,omitempty"`
	MeanResidualDelta float64 `json:"mean_residual_delta,omitempty"`
}

// RunResult is the complete outcome of one multi-year simulation
type RunResult struct {
	RunID       string
	Rule        RuleType
	Years       int
	Final       []Tree
	Histories   map[string][]float64
	Diagnostics []YearDiagnostics
	Plateaus    *PlateauReport
}

// TreeState is one tree's projected state within a snapshot
type TreeState struct {
	ID         string           `json:"id"`
	Species    string           `json:"species"`
	Plot       growth.PlotGroup `json:"plot"`
	DiameterCM float64          `json:"diameter_cm"`
	CarbonKG   float64          `json:"carbon_kg"`
}

// Snapshot is the projected population state at one horizon
type Snapshot struct {
	YearsAhead     int         `json:"years_ahead"`
	Trees          []TreeState `json:"trees"`
	TreeCount      int         `json:"tree_count"`
	MeanDiameterCM float64     `json:"mean_diameter_cm"`
	TotalCarbonKG  float64     `json:"total_carbon_kg"`
}

// Engine applies a growth rule to a tree population year by year. The model
// bundle is read-only and shared across all evaluations; the engine itself is
// single-threaded per run.
type Engine struct {
	bundle        *growth.ModelBundle
	logger        *zap.SugaredLogger
	carbon        CarbonFunc
	warnedSpecies map[string]struct{}
}

// NewEngine creates an engine over a validated model bundle
func NewEngine(bundle *growth.ModelBundle, logger *zap.SugaredLogger) (*Engine, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		bundle:        bundle,
		logger:        logger,
		carbon:        forestry.DiameterToCarbon,
		warnedSpecies: make(map[string]struct{}),
	}, nil
}

// SetCarbonFunc overrides the allometric collaborator (tests, alternate
// equation sets)
func (e *Engine) SetCarbonFunc(fn CarbonFunc) {
	if fn != nil {
		e.carbon = fn
	}
}

// loadPopulation validates and filters the base population: trees with a
// missing (NaN) diameter are excluded rather than simulated, duplicate IDs
// are structural errors, and an empty result cannot be simulated
func (e *Engine) loadPopulation(base []Tree) ([]Tree, error) {
	seen := make(map[string]struct{}, len(base))
	population := make([]Tree, 0, len(base))
	dropped := 0

	for _, tree := range base {
		if _, dup := seen[tree.ID]; dup {
			return nil, growth.NewDataError("duplicate tree id %q in base population", tree.ID)
		}
		seen[tree.ID] = struct{}{}
		if math.IsNaN(tree.DiameterCM) {
			dropped++
			continue
		}
		population = append(population, tree)
	}

	if dropped > 0 {
		e.logger.Warnf("excluded %d trees with missing diameters from the base population", dropped)
	}
	if len(population) == 0 {
		return nil, growth.NewDataError("base population is empty after filtering")
	}
	return population, nil
}

// warnUnseenSpecies logs once per species that was never seen during training
// and will silently use the coarsest available curve
func (e *Engine) warnUnseenSpecies(population []Tree) {
	for _, tree := range population {
		if _, warned := e.warnedSpecies[tree.Species]; warned {
			continue
		}
		if _, level := e.bundle.Curves.Lookup(tree.Species, tree.Plot); level == growth.FallbackGlobal {
			e.logger.Warnf("species %q not seen during training; using the global baseline curve", tree.Species)
		}
		e.warnedSpecies[tree.Species] = struct{}{}
	}
}

// SimulateYears runs the population forward the given number of years under
// one growth rule, restarting nothing: year t+1 is computed from year t's
// full population state. Histories, per-year diagnostics, and the plateau
// report are derived as the run progresses.
func (e *Engine) SimulateYears(base []Tree, years int, ruleType RuleType, params RuleParams) (*RunResult, error) {
	if years < 0 {
		return nil, fmt.Errorf("years must be non-negative, got %d", years)
	}

	population, err := e.loadPopulation(base)
	if err != nil {
		return nil, err
	}

	rule, err := NewGrowthRule(ruleType, e.bundle, params)
	if err != nil {
		return nil, err
	}

	e.warnUnseenSpecies(population)

	histories := make(map[string][]float64, len(population))
	for _, tree := range population {
		histories[tree.ID] = append(make([]float64, 0, years+1), tree.DiameterCM)
	}

	result := &RunResult{
		RunID:     uuid.NewString(),
		Rule:      ruleType,
		Years:     years,
		Histories: histories,
	}

	current := append([]Tree(nil), population...)
	for year := 1; year <= years; year++ {
		next := make([]Tree, len(current))
		traces := make([]StepTrace, len(current))

		for i, tree := range current {
			nextDBH, trace := rule.Step(tree.DiameterCM, tree.Species, tree.Plot)
			next[i] = Tree{
				ID:         tree.ID,
				Species:    tree.Species,
				Plot:       tree.Plot,
				DiameterCM: nextDBH,
			}
			traces[i] = trace
			histories[tree.ID] = append(histories[tree.ID], nextDBH)
		}

		result.Diagnostics = append(result.Diagnostics, summarizeYear(year, next, traces, ruleType))
		current = next
	}

	result.Final = current
	result.Plateaus = DetectPlateaus(histories)

	e.logger.Debugf("run %s: %d trees, %d years under %s; %.1f%% plateaued",
		result.RunID, len(current), years, ruleType, result.Plateaus.FractionPlateaued*100)

	return result, nil
}

// summarizeYear computes the per-year diagnostics over the step traces
func summarizeYear(year int, population []Tree, traces []StepTrace, ruleType RuleType) YearDiagnostics {
	n := len(traces)
	diag := YearDiagnostics{Year: year}
	if n == 0 {
		return diag
	}

	deltas := make([]float64, n)
	distinct := make(map[int64]struct{}, n)
	rawNegative, zeroDelta := 0, 0
	sumBase, sumResid := 0.0, 0.0

	for i, trace := range traces {
		deltas[i] = trace.UsedDelta
		if trace.RawDelta < 0 {
			rawNegative++
		}
		if trace.UsedDelta < PlateauTolerance {
			zeroDelta++
		}
		if trace.Clamped {
			diag.ClampedCount++
		}
		sumBase += trace.BaselineDelta
		sumResid += trace.ResidualDelta
		distinct[int64(math.Round(population[i].DiameterCM/PlateauTolerance))] = struct{}{}
	}

	diag.MeanDelta = stat.Mean(deltas, nil)
	diag.MedianDelta = medianOf(deltas)
	diag.PctRawNegative = 100 * float64(rawNegative) / float64(n)
	diag.PctZeroDelta = 100 * float64(zeroDelta) / float64(n)
	diag.DistinctDiameters = len(distinct)

	switch ruleType {
	case RuleHybrid, RuleHardFloor, RuleEpsilonFloor:
		diag.HasDecomposition = true
		diag.MeanBaselineDelta = sumBase / float64(n)
		diag.MeanResidualDelta = sumResid / float64(n)
	}
	return diag
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}

// deriveSeed gives every horizon its own generator seed so horizons are
// reproducible independently of which other horizons were requested and of
// evaluation order
func deriveSeed(seed uint64, horizon int) uint64 {
	return seed ^ (uint64(horizon)+1)*0x9E3779B97F4A7C15
}

// GenerateSnapshots projects the base population to each requested horizon.
// Every horizon restarts from the original base population and runs exactly
// that many steps; horizons are never chained from each other, so rounding
// paths and random draw counts cannot compound across requests. Returns the
// snapshots plus consistency warnings (mean diameter flat or decreasing
// between two horizons signals a modeling bug, but is not fatal).
func (e *Engine) GenerateSnapshots(base []Tree, yearsList []int, ruleType RuleType, params RuleParams) (map[int]*Snapshot, []string, error) {
	if len(yearsList) == 0 {
		return nil, nil, growth.NewDataError("no horizons requested")
	}

	snapshots := make(map[int]*Snapshot, len(yearsList))
	for _, horizon := range yearsList {
		if horizon < 0 {
			return nil, nil, fmt.Errorf("horizon must be non-negative, got %d", horizon)
		}
		if _, done := snapshots[horizon]; done {
			continue
		}

		horizonParams := params
		horizonParams.Seed = deriveSeed(params.Seed, horizon)

		run, err := e.SimulateYears(base, horizon, ruleType, horizonParams)
		if err != nil {
			return nil, nil, fmt.Errorf("horizon %d: %w", horizon, err)
		}
		snapshots[horizon] = e.buildSnapshot(horizon, run.Final)
	}

	warnings := consistencyWarnings(snapshots)
	for _, w := range warnings {
		e.logger.Warn(w)
	}
	return snapshots, warnings, nil
}

// buildSnapshot attaches carbon and population aggregates to a final state
func (e *Engine) buildSnapshot(horizon int, population []Tree) *Snapshot {
	snap := &Snapshot{
		YearsAhead: horizon,
		Trees:      make([]TreeState, len(population)),
		TreeCount:  len(population),
	}

	sumDBH := 0.0
	for i, tree := range population {
		carbon := e.carbon(tree.DiameterCM, tree.Species)
		snap.Trees[i] = TreeState{
			ID:         tree.ID,
			Species:    tree.Species,
			Plot:       tree.Plot,
			DiameterCM: tree.DiameterCM,
			CarbonKG:   carbon,
		}
		sumDBH += tree.DiameterCM
		snap.TotalCarbonKG += carbon
	}
	if len(population) > 0 {
		snap.MeanDiameterCM = sumDBH / float64(len(population))
	}
	return snap
}

// consistencyWarnings flags horizon pairs whose mean diameter failed to
// increase
func consistencyWarnings(snapshots map[int]*Snapshot) []string {
	horizons := make([]int, 0, len(snapshots))
	for h := range snapshots {
		horizons = append(horizons, h)
	}
	sort.Ints(horizons)

	var warnings []string
	for i := 1; i < len(horizons); i++ {
		prev, cur := snapshots[horizons[i-1]], snapshots[horizons[i]]
		if cur.MeanDiameterCM <= prev.MeanDiameterCM+PlateauTolerance {
			warnings = append(warnings, fmt.Sprintf(
				"mean diameter did not increase between horizon %d (%.4f cm) and horizon %d (%.4f cm)",
				horizons[i-1], prev.MeanDiameterCM, horizons[i], cur.MeanDiameterCM))
		}
	}
	return warnings
}
