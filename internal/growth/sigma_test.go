package growth

import (
	"math"
	"testing"
)

func TestSigmaTableLookupFallback(t *testing.T) {
	table := &SigmaTable{
		Group:     map[string]float64{"oak|A": 0.3},
		Species:   map[string]float64{"oak": 0.4},
		Global:    0.5,
		HasGlobal: true,
	}

	tests := []struct {
		species   string
		plot      PlotGroup
		wantSigma float64
		wantLevel FallbackLevel
	}{
		{"oak", PlotA, 0.3, FallbackGroup},
		{"oak", PlotB, 0.4, FallbackSpecies},
		{"maple", PlotC, 0.5, FallbackGlobal},
	}
	for _, tt := range tests {
		sigma, level := table.Lookup(tt.species, tt.plot)
		if sigma != tt.wantSigma || level != tt.wantLevel {
			t.Errorf("Lookup(%s, %s) = (%v, %s), want (%v, %s)",
				tt.species, tt.plot, sigma, level, tt.wantSigma, tt.wantLevel)
		}
	}
}

func TestSigmaTableLookupDefault(t *testing.T) {
	empty := &SigmaTable{}
	sigma, level := empty.Lookup("oak", PlotA)
	if sigma != DefaultSigma || level != FallbackGlobal {
		t.Errorf("empty table Lookup = (%v, %s), want (%v, %s)", sigma, level, DefaultSigma, FallbackGlobal)
	}
}

func TestCalibrateResidualSpread(t *testing.T) {
	// A flat zero baseline makes the residuals equal the observed deltas,
	// so sigma is checkable in closed form.
	curves := &CurveSet{
		Group:   map[string]*BaselineCurve{},
		Species: map[string]*BaselineCurve{},
		Global:  &BaselineCurve{BinCenters: []float64{20}, Deltas: []float64{0}},
	}

	obs := []GrowthObservation{
		makeObs("oak", PlotA, 10, 1),
		makeObs("oak", PlotA, 12, 2),
		makeObs("oak", PlotA, 14, 3),
		makeObs("oak", PlotA, 16, 4),
		makeObs("oak", PlotA, 18, 5),
		// Single maple observation: no group entry
		makeObs("maple", PlotB, 20, 1),
	}

	table, err := CalibrateResidualSpread(obs, curves, testLogger())
	if err != nil {
		t.Fatalf("CalibrateResidualSpread: %v", err)
	}

	// Deltas {1..5}: median 3, MAD 1, sigma 1.4826
	got, level := table.Lookup("oak", PlotA)
	if level != FallbackGroup {
		t.Fatalf("oak|A level = %s, want %s", level, FallbackGroup)
	}
	if math.Abs(got-1.4826) > 1e-9 {
		t.Errorf("oak|A sigma = %v, want 1.4826", got)
	}

	// The lone maple falls through its group and species to the global
	// estimate
	if _, level := table.Lookup("maple", PlotB); level != FallbackGlobal {
		t.Errorf("maple level = %s, want %s", level, FallbackGlobal)
	}
	if !table.HasGlobal {
		t.Errorf("expected a global sigma with %d residuals", len(obs))
	}
}

func TestCalibrateResidualSpreadEmpty(t *testing.T) {
	curves := &CurveSet{Global: &BaselineCurve{}}
	if _, err := CalibrateResidualSpread(nil, curves, testLogger()); err == nil {
		t.Fatal("expected error for empty observations")
	}
}
