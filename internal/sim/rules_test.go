package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/canopycarbon/forestsim/internal/growth"
)

// constSource is a DeltaSource with fixed components, for exercising rule
// arithmetic in isolation
type constSource struct {
	base  float64
	resid float64
}

func (s constSource) DeltaComponents(prev float64, species string, plot growth.PlotGroup) (float64, float64) {
	return s.base, s.resid
}

// testBundle builds a minimal bundle: a flat baseline curve, a constant
// sigma, and optionally a residual model that always predicts residValue
func testBundle(baseDelta, sigma float64, withResidual bool, residValue float64) *growth.ModelBundle {
	bundle := &growth.ModelBundle{
		Curves: &growth.CurveSet{
			Group:   map[string]*growth.BaselineCurve{},
			Species: map[string]*growth.BaselineCurve{},
			Global:  &growth.BaselineCurve{BinCenters: []float64{20}, Deltas: []float64{baseDelta}},
		},
		Sigma: &growth.SigmaTable{Global: sigma, HasGlobal: true},
	}
	if withResidual {
		bundle.Residual = &growth.ResidualModel{
			Encoder: &growth.FeatureEncoder{
				SpeciesLevels: []string{"oak"},
				PlotLevels:    []growth.PlotGroup{growth.PlotA},
			},
			Model:    &growth.GBTRegressor{Base: residValue},
			ClipLow:  -10,
			ClipHigh: 10,
		}
	}
	return bundle
}

func TestParseRuleType(t *testing.T) {
	for _, name := range []string{"baseline", "stochastic", "hybrid", "hard_floor", "epsilon_floor"} {
		if _, err := ParseRuleType(name); err != nil {
			t.Errorf("ParseRuleType(%q): %v", name, err)
		}
	}
	if _, err := ParseRuleType("linear"); err == nil {
		t.Error("expected error for unknown rule name")
	}
}

func TestRulesNeverShrink(t *testing.T) {
	// Even a strongly negative model prediction must not reduce diameter
	source := constSource{base: 0.3, resid: -2.0}
	params := DefaultRuleParams()

	for _, ruleType := range []RuleType{RuleBaseline, RuleHybrid, RuleHardFloor, RuleEpsilonFloor} {
		rule, err := NewRuleFromSource(ruleType, source, params)
		if err != nil {
			t.Fatalf("NewRuleFromSource(%s): %v", ruleType, err)
		}
		prev := 25.0
		next, _ := rule.Step(prev, "oak", growth.PlotA)
		if next < prev {
			t.Errorf("%s: next %v < prev %v", ruleType, next, prev)
		}
	}
}

func TestBaselineRuleDeterministic(t *testing.T) {
	rule, err := NewGrowthRule(RuleBaseline, testBundle(0.5, 0.3, false, 0), DefaultRuleParams())
	if err != nil {
		t.Fatalf("NewGrowthRule: %v", err)
	}

	first, trace := rule.Step(20, "oak", growth.PlotA)
	if first != 20.5 {
		t.Errorf("Step = %v, want 20.5", first)
	}
	if trace.RawDelta != 0.5 || trace.UsedDelta != 0.5 || trace.BaselineDelta != 0.5 || trace.Clamped {
		t.Errorf("trace = %+v", trace)
	}
	for i := 0; i < 10; i++ {
		if next, _ := rule.Step(20, "oak", growth.PlotA); next != first {
			t.Fatalf("baseline rule is not pure: %v != %v", next, first)
		}
	}
}

func TestFloorRuleClampsNegativePrediction(t *testing.T) {
	rule, err := NewRuleFromSource(RuleHardFloor, constSource{base: 0.3, resid: -0.5}, DefaultRuleParams())
	if err != nil {
		t.Fatalf("NewRuleFromSource: %v", err)
	}
	next, trace := rule.Step(30, "oak", growth.PlotA)
	if next != 30 {
		t.Errorf("next = %v, want exactly 30", next)
	}
	if !trace.Clamped || trace.UsedDelta != 0 {
		t.Errorf("trace = %+v, want clamped zero delta", trace)
	}
	if math.Abs(trace.RawDelta-(-0.2)) > 1e-12 {
		t.Errorf("RawDelta = %v, want -0.2", trace.RawDelta)
	}
}

func TestHybridRuleAddsResidual(t *testing.T) {
	rule, err := NewRuleFromSource(RuleHybrid, constSource{base: 0.4, resid: 0.1}, DefaultRuleParams())
	if err != nil {
		t.Fatalf("NewRuleFromSource: %v", err)
	}
	next, trace := rule.Step(15, "oak", growth.PlotA)
	if math.Abs(next-15.5) > 1e-12 {
		t.Errorf("next = %v, want 15.5", next)
	}
	if trace.BaselineDelta != 0.4 || trace.ResidualDelta != 0.1 {
		t.Errorf("decomposition = %+v", trace)
	}
}

func TestEpsilonFloorAccumulates(t *testing.T) {
	// A permanently negative prediction still produces epsilon growth each
	// year, so ten years add exactly 10 * epsilon
	params := DefaultRuleParams()
	rule, err := NewRuleFromSource(RuleEpsilonFloor, constSource{base: 0.1, resid: -0.4}, params)
	if err != nil {
		t.Fatalf("NewRuleFromSource: %v", err)
	}

	dbh := 40.0
	for year := 0; year < 10; year++ {
		next, trace := rule.Step(dbh, "oak", growth.PlotA)
		if !trace.Clamped || trace.UsedDelta != params.EpsilonCM {
			t.Fatalf("year %d trace = %+v", year, trace)
		}
		dbh = next
	}
	if math.Abs(dbh-40.2) > 1e-9 {
		t.Errorf("dbh after 10 years = %v, want 40.2", dbh)
	}
}

func TestStochasticRuleSeedReproducibility(t *testing.T) {
	params := DefaultRuleParams()
	params.Seed = 99

	draw := func(seed uint64) []float64 {
		p := params
		p.Seed = seed
		rule, err := NewGrowthRule(RuleStochastic, testBundle(0.5, 0.3, false, 0), p)
		if err != nil {
			t.Fatalf("NewGrowthRule: %v", err)
		}
		out := make([]float64, 20)
		dbh := 20.0
		for i := range out {
			dbh, _ = rule.Step(dbh, "oak", growth.PlotA)
			out[i] = dbh
		}
		return out
	}

	a, b := draw(99), draw(99)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at step %d: %v != %v", i, a[i], b[i])
		}
	}

	c := draw(100)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced an identical trajectory")
	}
}

func TestStochasticRuleClipsDraws(t *testing.T) {
	base, sigma := 0.5, 0.3
	params := DefaultRuleParams()
	rule, err := NewGrowthRule(RuleStochastic, testBundle(base, sigma, false, 0), params)
	if err != nil {
		t.Fatalf("NewGrowthRule: %v", err)
	}

	bound := params.NoiseClipSigmas * sigma
	for i := 0; i < 2000; i++ {
		_, trace := rule.Step(20, "oak", growth.PlotA)
		noise := trace.RawDelta - base
		if noise > bound+1e-12 || noise < -bound-1e-12 {
			t.Fatalf("draw %d noise %v outside +/- %v", i, noise, bound)
		}
		if trace.UsedDelta < 0 {
			t.Fatalf("draw %d applied negative growth %v", i, trace.UsedDelta)
		}
	}
}

func TestStochasticRuleZeroSigma(t *testing.T) {
	// Sigma of zero collapses to the deterministic baseline
	rule, err := NewGrowthRule(RuleStochastic, testBundle(0.5, 0, false, 0), DefaultRuleParams())
	if err != nil {
		t.Fatalf("NewGrowthRule: %v", err)
	}
	for i := 0; i < 5; i++ {
		if next, _ := rule.Step(20, "oak", growth.PlotA); next != 20.5 {
			t.Fatalf("zero-sigma step = %v, want 20.5", next)
		}
	}
}

func TestNewGrowthRuleRequiresResidualModel(t *testing.T) {
	bundle := testBundle(0.5, 0.3, false, 0)
	for _, ruleType := range []RuleType{RuleHybrid, RuleHardFloor, RuleEpsilonFloor} {
		if _, err := NewGrowthRule(ruleType, bundle, DefaultRuleParams()); !errors.Is(err, growth.ErrModelUnavailable) {
			t.Errorf("%s without residual model: got %v, want ErrModelUnavailable", ruleType, err)
		}
	}
}
