package sim

import (
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/canopycarbon/forestsim/internal/growth"
)

func testEngine(t *testing.T, bundle *growth.ModelBundle) *Engine {
	t.Helper()
	engine, err := NewEngine(bundle, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func oakStand(n int) []Tree {
	trees := make([]Tree, n)
	for i := range trees {
		trees[i] = Tree{
			ID:         "t" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Species:    "oak",
			Plot:       growth.PlotA,
			DiameterCM: 15 + float64(i),
		}
	}
	return trees
}

func TestSimulateYearsBaseline(t *testing.T) {
	engine := testEngine(t, testBundle(0.5, 0, false, 0))
	base := oakStand(10)

	result, err := engine.SimulateYears(base, 4, RuleBaseline, DefaultRuleParams())
	if err != nil {
		t.Fatalf("SimulateYears: %v", err)
	}

	if result.RunID == "" {
		t.Error("missing run ID")
	}
	if len(result.Final) != 10 || len(result.Diagnostics) != 4 {
		t.Fatalf("final %d trees, %d diagnostics", len(result.Final), len(result.Diagnostics))
	}

	// Every tree gains exactly 0.5 per year under the flat curve
	for i, tree := range result.Final {
		want := base[i].DiameterCM + 2.0
		if math.Abs(tree.DiameterCM-want) > 1e-9 {
			t.Errorf("tree %s final = %v, want %v", tree.ID, tree.DiameterCM, want)
		}
		history := result.Histories[tree.ID]
		if len(history) != 5 || history[0] != base[i].DiameterCM {
			t.Errorf("tree %s history = %v", tree.ID, history)
		}
	}

	diag := result.Diagnostics[0]
	if diag.Year != 1 || diag.MeanDelta != 0.5 || diag.MedianDelta != 0.5 {
		t.Errorf("year 1 diagnostics = %+v", diag)
	}
	if diag.PctRawNegative != 0 || diag.PctZeroDelta != 0 || diag.ClampedCount != 0 {
		t.Errorf("year 1 anomaly counters = %+v", diag)
	}
	if result.Plateaus.FractionPlateaued != 0 {
		t.Errorf("plateau fraction = %v, want 0", result.Plateaus.FractionPlateaued)
	}
}

func TestSimulateYearsHardFloorStandStalls(t *testing.T) {
	// Baseline 0.5 plus a constant -0.6 residual: every prediction is
	// negative, so the hard floor freezes the whole stand
	engine := testEngine(t, testBundle(0.5, 0, true, -0.6))
	base := oakStand(30)

	result, err := engine.SimulateYears(base, 10, RuleHardFloor, DefaultRuleParams())
	if err != nil {
		t.Fatalf("SimulateYears: %v", err)
	}

	for _, diag := range result.Diagnostics {
		if diag.PctRawNegative != 100 || diag.PctZeroDelta != 100 {
			t.Fatalf("year %d: %+v, want all predictions negative and floored", diag.Year, diag)
		}
		if diag.ClampedCount != 30 {
			t.Fatalf("year %d ClampedCount = %d, want 30", diag.Year, diag.ClampedCount)
		}
		if !diag.HasDecomposition {
			t.Fatalf("year %d missing delta decomposition", diag.Year)
		}
		if math.Abs(diag.MeanBaselineDelta-0.5) > 1e-9 || math.Abs(diag.MeanResidualDelta-(-0.6)) > 1e-9 {
			t.Fatalf("year %d decomposition = %+v", diag.Year, diag)
		}
	}

	if result.Plateaus.FractionPlateaued != 1.0 {
		t.Errorf("plateau fraction = %v, want 1.0", result.Plateaus.FractionPlateaued)
	}
	if got := RecommendRule(result.Plateaus, RuleHardFloor, DefaultStuckThreshold); got != RuleEpsilonFloor {
		t.Errorf("RecommendRule = %s, want %s", got, RuleEpsilonFloor)
	}
}

func TestSimulateYearsEpsilonFloorKeepsGrowing(t *testing.T) {
	engine := testEngine(t, testBundle(0.5, 0, true, -0.6))
	base := oakStand(5)

	result, err := engine.SimulateYears(base, 10, RuleEpsilonFloor, DefaultRuleParams())
	if err != nil {
		t.Fatalf("SimulateYears: %v", err)
	}
	if result.Plateaus.FractionPlateaued != 0 {
		t.Errorf("epsilon floor plateaued %v of trees", result.Plateaus.FractionPlateaued)
	}
	for i, tree := range result.Final {
		want := base[i].DiameterCM + 10*DefaultRuleParams().EpsilonCM
		if math.Abs(tree.DiameterCM-want) > 1e-9 {
			t.Errorf("tree %s final = %v, want %v", tree.ID, tree.DiameterCM, want)
		}
	}
}

func TestLoadPopulationFiltersAndValidates(t *testing.T) {
	engine := testEngine(t, testBundle(0.5, 0, false, 0))

	base := []Tree{
		{ID: "t1", Species: "oak", Plot: growth.PlotA, DiameterCM: 20},
		{ID: "t2", Species: "oak", Plot: growth.PlotA, DiameterCM: math.NaN()},
	}
	result, err := engine.SimulateYears(base, 1, RuleBaseline, DefaultRuleParams())
	if err != nil {
		t.Fatalf("SimulateYears: %v", err)
	}
	if len(result.Final) != 1 || result.Final[0].ID != "t1" {
		t.Errorf("missing-diameter tree not excluded: %+v", result.Final)
	}

	dup := []Tree{
		{ID: "t1", Species: "oak", Plot: growth.PlotA, DiameterCM: 20},
		{ID: "t1", Species: "oak", Plot: growth.PlotA, DiameterCM: 21},
	}
	var de *growth.DataError
	if _, err := engine.SimulateYears(dup, 1, RuleBaseline, DefaultRuleParams()); !errors.As(err, &de) {
		t.Errorf("duplicate IDs: got %v, want DataError", err)
	}

	empty := []Tree{{ID: "t1", Species: "oak", Plot: growth.PlotA, DiameterCM: math.NaN()}}
	if _, err := engine.SimulateYears(empty, 1, RuleBaseline, DefaultRuleParams()); !errors.As(err, &de) {
		t.Errorf("all-missing population: got %v, want DataError", err)
	}
}

func TestGenerateSnapshotsHorizonIndependence(t *testing.T) {
	// A horizon's snapshot must not depend on which other horizons were
	// requested alongside it, even under the stochastic rule
	bundle := testBundle(0.5, 0.3, false, 0)
	base := oakStand(20)
	params := DefaultRuleParams()

	engine := testEngine(t, bundle)
	alone, _, err := engine.GenerateSnapshots(base, []int{5}, RuleStochastic, params)
	if err != nil {
		t.Fatalf("GenerateSnapshots: %v", err)
	}

	engine2 := testEngine(t, bundle)
	together, _, err := engine2.GenerateSnapshots(base, []int{2, 5, 10}, RuleStochastic, params)
	if err != nil {
		t.Fatalf("GenerateSnapshots: %v", err)
	}

	want, got := alone[5], together[5]
	if len(want.Trees) != len(got.Trees) {
		t.Fatalf("tree counts differ: %d vs %d", len(want.Trees), len(got.Trees))
	}
	for i := range want.Trees {
		if want.Trees[i].DiameterCM != got.Trees[i].DiameterCM {
			t.Fatalf("horizon 5 differs at tree %d: %v vs %v",
				i, want.Trees[i].DiameterCM, got.Trees[i].DiameterCM)
		}
	}

	// Each horizon restarts from the base population, so longer horizons
	// mean larger trees under a positive-growth model
	if together[10].MeanDiameterCM <= together[2].MeanDiameterCM {
		t.Errorf("horizon 10 mean %v not above horizon 2 mean %v",
			together[10].MeanDiameterCM, together[2].MeanDiameterCM)
	}
}

func TestGenerateSnapshotsCarbonAggregates(t *testing.T) {
	engine := testEngine(t, testBundle(0.5, 0, false, 0))
	engine.SetCarbonFunc(func(dbhCM float64, species string) float64 { return 2 * dbhCM })

	base := oakStand(4)
	snaps, warnings, err := engine.GenerateSnapshots(base, []int{3}, RuleBaseline, DefaultRuleParams())
	if err != nil {
		t.Fatalf("GenerateSnapshots: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}

	snap := snaps[3]
	if snap.TreeCount != 4 {
		t.Fatalf("TreeCount = %d, want 4", snap.TreeCount)
	}
	var wantTotal, wantMeanDBH float64
	for _, tree := range base {
		final := tree.DiameterCM + 1.5
		wantTotal += 2 * final
		wantMeanDBH += final / 4
	}
	if math.Abs(snap.TotalCarbonKG-wantTotal) > 1e-9 {
		t.Errorf("TotalCarbonKG = %v, want %v", snap.TotalCarbonKG, wantTotal)
	}
	if math.Abs(snap.MeanDiameterCM-wantMeanDBH) > 1e-9 {
		t.Errorf("MeanDiameterCM = %v, want %v", snap.MeanDiameterCM, wantMeanDBH)
	}
}

func TestGenerateSnapshotsFlatMeanWarning(t *testing.T) {
	// A zero-growth model produces identical means across horizons; that
	// inconsistency is reported but does not fail the run
	engine := testEngine(t, testBundle(0, 0, false, 0))
	base := oakStand(5)

	snaps, warnings, err := engine.GenerateSnapshots(base, []int{1, 5}, RuleBaseline, DefaultRuleParams())
	if err != nil {
		t.Fatalf("GenerateSnapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d, want 2", len(snaps))
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
}

func TestGenerateSnapshotsRejectsBadHorizons(t *testing.T) {
	engine := testEngine(t, testBundle(0.5, 0, false, 0))
	base := oakStand(3)

	if _, _, err := engine.GenerateSnapshots(base, nil, RuleBaseline, DefaultRuleParams()); err == nil {
		t.Error("expected error for empty horizon list")
	}
	if _, _, err := engine.GenerateSnapshots(base, []int{-1}, RuleBaseline, DefaultRuleParams()); err == nil {
		t.Error("expected error for negative horizon")
	}
}
