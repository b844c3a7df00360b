package growth

import (
	"math"
	"testing"
)

// zeroCurves is a curve set predicting zero growth everywhere, so residual
// targets equal the raw observed deltas
func zeroCurves() *CurveSet {
	return &CurveSet{
		Group:   map[string]*BaselineCurve{},
		Species: map[string]*BaselineCurve{},
		Global:  &BaselineCurve{BinCenters: []float64{20}, Deltas: []float64{0}},
	}
}

func TestFeatureEncoder(t *testing.T) {
	obs := []GrowthObservation{
		makeObs("oak", PlotA, 10, 0.5),
		makeObs("maple", PlotB, 12, 0.4),
		makeObs("oak", PlotB, 14, 0.3),
	}
	enc := newFeatureEncoder(obs)

	// Levels are sorted, so encodings are stable across runs
	if len(enc.SpeciesLevels) != 2 || enc.SpeciesLevels[0] != "maple" {
		t.Fatalf("SpeciesLevels = %v", enc.SpeciesLevels)
	}
	// prev diameter + 2 species + 2 plots + elapsed years
	if enc.NumFeatures() != 6 {
		t.Fatalf("NumFeatures = %d, want 6", enc.NumFeatures())
	}

	v := enc.Encode(10, "oak", PlotA, 5)
	if v[0] != 10 || v[len(v)-1] != 5 {
		t.Errorf("Encode numeric slots = %v", v)
	}
	if v[1] != 0 || v[2] != 1 { // [maple, oak]
		t.Errorf("species one-hot = %v", v[1:3])
	}

	// Unseen levels encode as all-zero one-hots of the same width
	u := enc.Encode(10, "birch", PlotC, 5)
	if len(u) != len(v) {
		t.Fatalf("unseen-species vector length %d != %d", len(u), len(v))
	}
	if u[1] != 0 || u[2] != 0 {
		t.Errorf("unseen species one-hot = %v, want zeros", u[1:3])
	}
}

func TestTrainResidualModel(t *testing.T) {
	// Species carries the signal: oaks grow 0.8, maples 0.2, plus small
	// deterministic jitter so targets are not perfectly constant
	var obs []GrowthObservation
	for i := 0; i < 100; i++ {
		jitter := 0.01 * float64(i%5)
		obs = append(obs, makeObs("oak", PlotA, 10+float64(i%30), 0.8+jitter))
		obs = append(obs, makeObs("maple", PlotB, 10+float64(i%30), 0.2+jitter))
	}

	rm, err := TrainResidualModel(obs, zeroCurves(), DefaultGBTParams(), testLogger())
	if err != nil {
		t.Fatalf("TrainResidualModel: %v", err)
	}

	if rm.Diagnostics.TrainSamples+rm.Diagnostics.TestSamples != len(obs) {
		t.Errorf("split sizes %d + %d != %d",
			rm.Diagnostics.TrainSamples, rm.Diagnostics.TestSamples, len(obs))
	}
	if rm.ClipLow > rm.ClipHigh {
		t.Fatalf("clip bounds inverted: [%v, %v]", rm.ClipLow, rm.ClipHigh)
	}

	oak := rm.PredictResidual(15, "oak", PlotA, 1)
	maple := rm.PredictResidual(15, "maple", PlotB, 1)
	if oak <= maple {
		t.Errorf("oak residual %v should exceed maple residual %v", oak, maple)
	}
	if math.Abs(oak-0.82) > 0.1 {
		t.Errorf("oak residual = %v, want ~0.82", oak)
	}
}

func TestPredictResidualClipping(t *testing.T) {
	obs := []GrowthObservation{makeObs("oak", PlotA, 10, 0.5)}
	rm := &ResidualModel{
		Encoder:  newFeatureEncoder(obs),
		Model:    &GBTRegressor{Base: 10},
		ClipLow:  -0.5,
		ClipHigh: 0.5,
	}
	if got := rm.PredictResidual(10, "oak", PlotA, 1); got != 0.5 {
		t.Errorf("high prediction clipped to %v, want 0.5", got)
	}
	rm.Model.Base = -10
	if got := rm.PredictResidual(10, "oak", PlotA, 1); got != -0.5 {
		t.Errorf("low prediction clipped to %v, want -0.5", got)
	}
}

func TestTrainResidualModelEmpty(t *testing.T) {
	if _, err := TrainResidualModel(nil, zeroCurves(), DefaultGBTParams(), testLogger()); err == nil {
		t.Fatal("expected error for empty observations")
	}
}
