package growth

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func makeObs(species string, plot PlotGroup, prevDBH, delta float64) GrowthObservation {
	return GrowthObservation{
		PrevDiameterCM:  prevDBH,
		Species:         species,
		Plot:            plot,
		ElapsedYears:    1,
		AnnualizedDelta: delta,
	}
}

// syntheticObservations generates a noisy hump-shaped growth pattern over a
// wide diameter range, including some negative deltas from remeasurement
// noise
func syntheticObservations(species string, plot PlotGroup, n int, seed int64) []GrowthObservation {
	rng := rand.New(rand.NewSource(seed))
	obs := make([]GrowthObservation, n)
	for i := range obs {
		dbh := 5 + rng.Float64()*90
		delta := 0.6 - math.Abs(dbh-40)/100 + rng.NormFloat64()*0.3
		obs[i] = makeObs(species, plot, dbh, delta)
	}
	return obs
}

func TestFitBaselineCurvesEmptyInput(t *testing.T) {
	_, _, err := FitBaselineCurves(nil, DefaultFitParams(), testLogger())
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("expected DataError for empty input, got %v", err)
	}
}

func TestFitBaselineCurvesInvariants(t *testing.T) {
	obs := syntheticObservations("oak", PlotA, 500, 1)
	set, meta, err := FitBaselineCurves(obs, DefaultFitParams(), testLogger())
	if err != nil {
		t.Fatalf("FitBaselineCurves: %v", err)
	}
	if meta.ObservationCount != 500 {
		t.Errorf("ObservationCount = %d, want 500", meta.ObservationCount)
	}

	checkCurve := func(name string, c *BaselineCurve) {
		t.Helper()
		if len(c.BinCenters) != len(c.Deltas) {
			t.Fatalf("%s: centers/deltas length mismatch", name)
		}
		for i, d := range c.Deltas {
			if d < 0 {
				t.Errorf("%s: delta[%d] = %v is negative", name, i, d)
			}
			if i > 0 && c.BinCenters[i] <= c.BinCenters[i-1] {
				t.Errorf("%s: bin centers not strictly increasing at %d", name, i)
			}
		}
	}
	for key, c := range set.Group {
		checkCurve("group "+key, c)
	}
	checkCurve("global", set.Global)

	// The upper-diameter tail must be non-increasing. With at least 5 bins
	// the guardrail covers at least the final two bins.
	g := set.Global
	n := len(g.Deltas)
	if n >= 5 {
		if g.Deltas[n-1] > g.Deltas[n-2]+1e-12 {
			t.Errorf("global tail increases: delta[%d]=%v > delta[%d]=%v",
				n-1, g.Deltas[n-1], n-2, g.Deltas[n-2])
		}
	}
}

func TestFitBaselineCurvesFallbackHierarchy(t *testing.T) {
	var obs []GrowthObservation
	// 50 oak observations on plot A: enough for a group curve
	obs = append(obs, syntheticObservations("oak", PlotA, 50, 2)...)
	// 10 oak observations on plot B: below MinSamples, served by the
	// species curve
	obs = append(obs, syntheticObservations("oak", PlotB, 10, 3)...)
	// 12 maple observations total: no species curve either, global only
	obs = append(obs, syntheticObservations("maple", PlotC, 12, 4)...)

	set, _, err := FitBaselineCurves(obs, DefaultFitParams(), testLogger())
	if err != nil {
		t.Fatalf("FitBaselineCurves: %v", err)
	}

	tests := []struct {
		species string
		plot    PlotGroup
		want    FallbackLevel
	}{
		{"oak", PlotA, FallbackGroup},
		{"oak", PlotB, FallbackSpecies},
		{"maple", PlotC, FallbackGlobal},
		{"birch", PlotA, FallbackGlobal}, // never observed
	}
	for _, tt := range tests {
		if _, level := set.Lookup(tt.species, tt.plot); level != tt.want {
			t.Errorf("Lookup(%s, %s) level = %s, want %s", tt.species, tt.plot, level, tt.want)
		}
	}
}

func TestBaselineCurvePredict(t *testing.T) {
	curve := &BaselineCurve{
		BinCenters: []float64{10, 20, 30},
		Deltas:     []float64{0.4, 0.6, 0.2},
	}

	tests := []struct {
		name string
		dbh  float64
		want float64
	}{
		{"below range clamps to first bin", 2, 0.4},
		{"above range clamps to last bin", 100, 0.2},
		{"exact bin center", 20, 0.6},
		{"interpolates between bins", 15, 0.5},
		{"interpolates decreasing segment", 25, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := curve.Predict(tt.dbh); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Predict(%v) = %v, want %v", tt.dbh, got, tt.want)
			}
		})
	}
}

func TestBaselineCurvePredictEmpty(t *testing.T) {
	curve := &BaselineCurve{}
	if got := curve.Predict(25); got != 0 {
		t.Errorf("empty curve Predict = %v, want 0", got)
	}
}

func TestApplyTailGuardrailFewBins(t *testing.T) {
	// Fewer than 5 bins: the whole curve is made non-increasing
	centers := []float64{5, 15, 25}
	deltas := []float64{0.3, 0.5, 0.9}
	got := applyTailGuardrail(centers, deltas, 0.8)
	for i := 1; i < len(got); i++ {
		if got[i] > got[i-1] {
			t.Errorf("guardrail left increase at %d: %v", i, got)
		}
	}
	if got[0] != 0.3 {
		t.Errorf("first bin changed: %v", got[0])
	}
}

func TestApplyTailGuardrailTailOnly(t *testing.T) {
	// With 10 bins, an early increase is allowed but the tail is clamped
	centers := []float64{5, 15, 25, 35, 45, 55, 65, 75, 85, 95}
	deltas := []float64{0.2, 0.4, 0.6, 0.5, 0.5, 0.4, 0.3, 0.2, 0.6, 0.9}
	got := applyTailGuardrail(centers, deltas, 0.8)

	if got[1] != 0.4 || got[2] != 0.6 {
		t.Errorf("guardrail altered the head of the curve: %v", got)
	}
	n := len(got)
	for i := n - 2; i < n; i++ {
		if got[i] > got[i-1]+1e-12 {
			t.Errorf("tail still increases at %d: %v", i, got)
		}
	}
}

func TestCurveSetRows(t *testing.T) {
	set := &CurveSet{
		Group: map[string]*BaselineCurve{
			"oak|A": {BinCenters: []float64{10, 20}, Deltas: []float64{0.4, 0.3}, Fallback: FallbackGroup, SampleCount: 50},
		},
		Species: map[string]*BaselineCurve{},
		Global:  &BaselineCurve{BinCenters: []float64{15}, Deltas: []float64{0.35}, Fallback: FallbackGlobal, SampleCount: 62},
	}
	rows := set.Rows()
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if rows[0].GroupKey != "oak|A" || rows[2].GroupKey != "*" {
		t.Errorf("unexpected row ordering: %+v", rows)
	}
}
