package main

import (
	"reflect"
	"testing"

	"github.com/canopycarbon/forestsim/internal/sim"
	"github.com/canopycarbon/forestsim/pkg/config"
)

func defaultSettings() runSettings {
	return runSettings{
		EpsilonCM:       sim.DefaultRuleParams().EpsilonCM,
		NoiseClipSigmas: sim.DefaultRuleParams().NoiseClipSigmas,
		Seed:            sim.DefaultRuleParams().Seed,
		StuckThreshold:  sim.DefaultStuckThreshold,
	}
}

func TestMergeRunSettings(t *testing.T) {
	base := defaultSettings()

	merged := mergeRunSettings(base, config.SimulationData{}, nil)
	if !reflect.DeepEqual(merged, base) {
		t.Errorf("empty config changed settings: got %+v, want %+v", merged, base)
	}

	data := config.SimulationData{
		Rule:           "epsilon_floor",
		EpsilonCM:      0.05,
		Horizons:       []int{20, 5, 10},
		Seed:           7,
		StuckThreshold: 0.4,
	}
	merged = mergeRunSettings(base, data, nil)
	if merged.Rule != "epsilon_floor" {
		t.Errorf("Rule = %q, want epsilon_floor", merged.Rule)
	}
	if merged.EpsilonCM != 0.05 {
		t.Errorf("EpsilonCM = %v, want 0.05", merged.EpsilonCM)
	}
	if !reflect.DeepEqual(merged.Horizons, []int{5, 10, 20}) {
		t.Errorf("Horizons = %v, want sorted [5 10 20]", merged.Horizons)
	}
	if merged.Seed != 7 {
		t.Errorf("Seed = %d, want 7", merged.Seed)
	}
	if merged.StuckThreshold != 0.4 {
		t.Errorf("StuckThreshold = %v, want 0.4", merged.StuckThreshold)
	}
	if merged.NoiseClipSigmas != base.NoiseClipSigmas {
		t.Errorf("NoiseClipSigmas = %v, want default %v", merged.NoiseClipSigmas, base.NoiseClipSigmas)
	}
}

func TestMergeRunSettingsFlagWins(t *testing.T) {
	base := defaultSettings()
	base.Rule = "baseline"
	base.StuckThreshold = 0.1

	data := config.SimulationData{
		Rule:           "hybrid",
		StuckThreshold: 0.4,
		Seed:           7,
	}
	set := map[string]bool{"rule": true, "stuck-threshold": true}

	merged := mergeRunSettings(base, data, set)
	if merged.Rule != "baseline" {
		t.Errorf("Rule = %q, want flag value baseline", merged.Rule)
	}
	if merged.StuckThreshold != 0.1 {
		t.Errorf("StuckThreshold = %v, want flag value 0.1", merged.StuckThreshold)
	}
	if merged.Seed != 7 {
		t.Errorf("Seed = %d, want configured 7", merged.Seed)
	}
}

func TestParseYears(t *testing.T) {
	years, err := parseYears("10, 1,5")
	if err != nil {
		t.Fatalf("parseYears: %v", err)
	}
	if !reflect.DeepEqual(years, []int{1, 5, 10}) {
		t.Errorf("years = %v, want [1 5 10]", years)
	}

	if _, err := parseYears(""); err == nil {
		t.Error("expected error for empty horizon list")
	}
	if _, err := parseYears("five"); err == nil {
		t.Error("expected error for non-numeric horizon")
	}
}
