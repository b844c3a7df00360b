package sim

import (
	"testing"
)

func TestDetectPlateausPermanentStall(t *testing.T) {
	histories := map[string][]float64{
		// Grows for five years, then flat through the end
		"t1": {10, 10.5, 11, 11.5, 12, 12.5, 12.5, 12.5, 12.5, 12.5, 12.5},
		// Grows every year
		"t2": {20, 20.4, 20.8, 21.2, 21.6, 22, 22.4, 22.8, 23.2, 23.6, 24},
	}

	report := DetectPlateaus(histories)
	if report.TotalTrees != 2 {
		t.Fatalf("TotalTrees = %d, want 2", report.TotalTrees)
	}
	if len(report.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1: %+v", len(report.Records), report.Records)
	}

	rec := report.Records[0]
	if rec.TreeID != "t1" {
		t.Errorf("TreeID = %s, want t1", rec.TreeID)
	}
	if rec.YearFirstPlateaued != 6 {
		t.Errorf("YearFirstPlateaued = %d, want 6", rec.YearFirstPlateaued)
	}
	if rec.DiameterAtPlateau != 12.5 {
		t.Errorf("DiameterAtPlateau = %v, want 12.5", rec.DiameterAtPlateau)
	}
	if report.FractionPlateaued != 0.5 {
		t.Errorf("FractionPlateaued = %v, want 0.5", report.FractionPlateaued)
	}
}

func TestDetectPlateausTemporaryStallNotFlagged(t *testing.T) {
	histories := map[string][]float64{
		// A two-year stall followed by resumed growth is not a plateau
		"t1": {10, 10.5, 10.5, 10.5, 11, 11.5},
	}
	report := DetectPlateaus(histories)
	if len(report.Records) != 0 {
		t.Errorf("temporary stall flagged: %+v", report.Records)
	}
}

func TestDetectPlateausEpsilonGrowthNotFlagged(t *testing.T) {
	// Per-year changes of the epsilon magnitude are above the tolerance
	history := []float64{30}
	for i := 0; i < 10; i++ {
		history = append(history, history[len(history)-1]+0.02)
	}
	report := DetectPlateaus(map[string][]float64{"t1": history})
	if len(report.Records) != 0 {
		t.Errorf("epsilon grower flagged: %+v", report.Records)
	}
}

func TestDetectPlateausEmptyAndShort(t *testing.T) {
	if report := DetectPlateaus(nil); report.FractionPlateaued != 0 {
		t.Errorf("empty histories: %+v", report)
	}
	// A base-year-only history cannot plateau
	report := DetectPlateaus(map[string][]float64{"t1": {10}})
	if len(report.Records) != 0 {
		t.Errorf("single-entry history flagged: %+v", report.Records)
	}
}

func TestRecommendRule(t *testing.T) {
	tests := []struct {
		name     string
		fraction float64
		current  RuleType
		want     RuleType
	}{
		{"hard floor over threshold switches", 0.3, RuleHardFloor, RuleEpsilonFloor},
		{"hard floor at threshold switches", 0.25, RuleHardFloor, RuleEpsilonFloor},
		{"hard floor under threshold stays", 0.2, RuleHardFloor, RuleHardFloor},
		{"baseline never switches", 0.9, RuleBaseline, RuleBaseline},
		{"epsilon floor unchanged", 0.9, RuleEpsilonFloor, RuleEpsilonFloor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := &PlateauReport{FractionPlateaued: tt.fraction}
			if got := RecommendRule(report, tt.current, DefaultStuckThreshold); got != tt.want {
				t.Errorf("RecommendRule = %s, want %s", got, tt.want)
			}
		})
	}
}
