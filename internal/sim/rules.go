// Package sim applies fitted growth models to a tree population over
// multi-year horizons. Growth rules are pluggable strategies; the engine
// iterates them year by year and records per-year diagnostics, plateau
// reports, and horizon snapshots.
package sim

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/canopycarbon/forestsim/internal/growth"
)

// RuleType identifies the growth-rule strategy for a run
type RuleType string

const (
	// RuleBaseline applies the deterministic baseline curve
	RuleBaseline RuleType = "baseline"

	// RuleStochastic adds clipped normal noise to the baseline
	RuleStochastic RuleType = "stochastic"

	// RuleHybrid adds the clipped residual correction to the baseline
	RuleHybrid RuleType = "hybrid"

	// RuleHardFloor turns any negative model prediction into exactly zero
	// growth for that year
	RuleHardFloor RuleType = "hard_floor"

	// RuleEpsilonFloor replaces negative model predictions with a small
	// positive constant, avoiding permanent plateaus
	RuleEpsilonFloor RuleType = "epsilon_floor"
)

// ParseRuleType validates a rule name
func ParseRuleType(s string) (RuleType, error) {
	switch RuleType(s) {
	case RuleBaseline, RuleStochastic, RuleHybrid, RuleHardFloor, RuleEpsilonFloor:
		return RuleType(s), nil
	}
	return "", fmt.Errorf("unknown growth rule %q", s)
}

// RuleParams defines tunables shared across rule variants
type RuleParams struct {
	// EpsilonCM is the minimum annual growth substituted for negative
	// predictions under the epsilon-floor rule (e.g., 0.02)
	EpsilonCM float64

	// NoiseClipSigmas bounds stochastic draws to +/- this many sigmas
	NoiseClipSigmas float64

	// Seed drives all stochastic draws for the run
	Seed uint64
}

// DefaultRuleParams returns the standard rule tunables
func DefaultRuleParams() RuleParams {
	return RuleParams{
		EpsilonCM:       0.02,
		NoiseClipSigmas: 2.5,
		Seed:            42,
	}
}

// StepTrace records what happened to one tree in one simulated year
type StepTrace struct {
	// RawDelta is the model's prediction before any floor was applied
	RawDelta float64

	// UsedDelta is the growth actually applied (always >= 0)
	UsedDelta float64

	// BaselineDelta and ResidualDelta decompose RawDelta for rules that
	// consult the residual model
	BaselineDelta float64
	ResidualDelta float64

	// Clamped is set when a negative raw prediction was floored
	Clamped bool
}

// GrowthRule maps a tree's current state to next year's diameter. Every rule
// guarantees next >= prev: this is a growth-only model with no mortality or
// shrinkage semantics.
type GrowthRule interface {
	Type() RuleType
	Step(prevDiameterCM float64, species string, plot growth.PlotGroup) (float64, StepTrace)
}

// DeltaSource produces the model's predicted annual growth, decomposed into
// its baseline and (already clipped) residual components
type DeltaSource interface {
	DeltaComponents(prevDiameterCM float64, species string, plot growth.PlotGroup) (base, resid float64)
}

// bundleDeltas adapts a ModelBundle into a DeltaSource
type bundleDeltas struct {
	bundle      *growth.ModelBundle
	useResidual bool
}

func (s bundleDeltas) DeltaComponents(prevDiameterCM float64, species string, plot growth.PlotGroup) (float64, float64) {
	base := s.bundle.Curves.Predict(prevDiameterCM, species, plot)
	if !s.useResidual {
		return base, 0.0
	}
	return base, s.bundle.Residual.PredictResidual(prevDiameterCM, species, plot, 1.0)
}

// NewGrowthRule constructs the requested rule over a model bundle. Rules that
// consult the residual model (hybrid, hard_floor, epsilon_floor) fail with
// ErrModelUnavailable when the bundle has none.
func NewGrowthRule(ruleType RuleType, bundle *growth.ModelBundle, params RuleParams) (GrowthRule, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	switch ruleType {
	case RuleBaseline:
		return &baselineRule{source: bundleDeltas{bundle: bundle}}, nil
	case RuleStochastic:
		return &stochasticRule{
			source:     bundleDeltas{bundle: bundle},
			sigma:      bundle.Sigma,
			clipSigmas: params.NoiseClipSigmas,
			src:        rand.NewSource(params.Seed),
		}, nil
	case RuleHybrid, RuleHardFloor, RuleEpsilonFloor:
		if !bundle.HasResidualModel() {
			return nil, fmt.Errorf("rule %s requires a residual model: %w", ruleType, growth.ErrModelUnavailable)
		}
		source := bundleDeltas{bundle: bundle, useResidual: true}
		if ruleType == RuleEpsilonFloor {
			return &epsilonFloorRule{source: source, epsilonCM: params.EpsilonCM}, nil
		}
		return &floorRule{source: source, ruleType: ruleType}, nil
	}
	return nil, fmt.Errorf("unknown growth rule %q", ruleType)
}

// NewRuleFromSource builds a rule over an arbitrary delta source. Used by
// diagnostics tooling; the stochastic variant is not available this way.
func NewRuleFromSource(ruleType RuleType, source DeltaSource, params RuleParams) (GrowthRule, error) {
	switch ruleType {
	case RuleBaseline:
		return &baselineRule{source: source}, nil
	case RuleHybrid, RuleHardFloor:
		return &floorRule{source: source, ruleType: ruleType}, nil
	case RuleEpsilonFloor:
		return &epsilonFloorRule{source: source, epsilonCM: params.EpsilonCM}, nil
	}
	return nil, fmt.Errorf("rule %q cannot be built from a bare delta source", ruleType)
}

// baselineRule: next = prev + baseline(prev). Pure and deterministic; the
// baseline curve is nonnegative by construction.
type baselineRule struct {
	source DeltaSource
}

func (r *baselineRule) Type() RuleType { return RuleBaseline }

func (r *baselineRule) Step(prev float64, species string, plot growth.PlotGroup) (float64, StepTrace) {
	base, _ := r.source.DeltaComponents(prev, species, plot)
	used := math.Max(0.0, base)
	return prev + used, StepTrace{
		RawDelta:      base,
		UsedDelta:     used,
		BaselineDelta: base,
	}
}

// stochasticRule draws noise ~ Normal(0, sigma_group) clipped to
// +/- NoiseClipSigmas, adds it to the baseline, and floors the total at zero
type stochasticRule struct {
	source     DeltaSource
	sigma      *growth.SigmaTable
	clipSigmas float64
	src        rand.Source
}

func (r *stochasticRule) Type() RuleType { return RuleStochastic }

func (r *stochasticRule) Step(prev float64, species string, plot growth.PlotGroup) (float64, StepTrace) {
	base, _ := r.source.DeltaComponents(prev, species, plot)

	sigma, _ := r.sigma.Lookup(species, plot)
	noise := 0.0
	if sigma > 0 {
		noise = distuv.Normal{Mu: 0, Sigma: sigma, Src: r.src}.Rand()
		bound := r.clipSigmas * sigma
		if noise > bound {
			noise = bound
		} else if noise < -bound {
			noise = -bound
		}
	}

	raw := base + noise
	used := math.Max(0.0, raw)
	return prev + used, StepTrace{
		RawDelta:      raw,
		UsedDelta:     used,
		BaselineDelta: base,
		ResidualDelta: noise,
		Clamped:       raw < 0,
	}
}

// floorRule covers hybrid and hard_floor: both floor a negative model
// prediction at exactly zero growth. They differ only in which trees they are
// chosen for and how their diagnostics are read.
type floorRule struct {
	source   DeltaSource
	ruleType RuleType
}

func (r *floorRule) Type() RuleType { return r.ruleType }

func (r *floorRule) Step(prev float64, species string, plot growth.PlotGroup) (float64, StepTrace) {
	base, resid := r.source.DeltaComponents(prev, species, plot)
	raw := base + resid
	used := math.Max(0.0, raw)
	return prev + used, StepTrace{
		RawDelta:      raw,
		UsedDelta:     used,
		BaselineDelta: base,
		ResidualDelta: resid,
		Clamped:       raw < 0,
	}
}

// epsilonFloorRule substitutes a small positive constant for negative model
// predictions, guaranteeing perpetual slow growth instead of a plateau
type epsilonFloorRule struct {
	source    DeltaSource
	epsilonCM float64
}

func (r *epsilonFloorRule) Type() RuleType { return RuleEpsilonFloor }

func (r *epsilonFloorRule) Step(prev float64, species string, plot growth.PlotGroup) (float64, StepTrace) {
	base, resid := r.source.DeltaComponents(prev, species, plot)
	raw := base + resid
	used := raw
	clamped := false
	if raw < 0 {
		used = r.epsilonCM
		clamped = true
	}
	return prev + used, StepTrace{
		RawDelta:      raw,
		UsedDelta:     used,
		BaselineDelta: base,
		ResidualDelta: resid,
		Clamped:       clamped,
	}
}
