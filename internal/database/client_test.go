package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/canopycarbon/forestsim/internal/growth"
	"github.com/canopycarbon/forestsim/internal/sim"
)

func TestEnsureSchemaRunsOnce(t *testing.T) {
	calls := 0
	client := NewClient("", zap.NewNop().Sugar())
	client.migrate = func() error {
		calls++
		return nil
	}

	if err := client.ensureSchema(); err != nil {
		t.Fatalf("first ensureSchema: %v", err)
	}
	if err := client.ensureSchema(); err != nil {
		t.Fatalf("second ensureSchema: %v", err)
	}
	if calls != 1 {
		t.Errorf("migrate called %d times, want 1", calls)
	}
}

func TestSaveCurveRowsMigratesFirst(t *testing.T) {
	migrateErr := errors.New("migrate failed")
	client := NewClient("", zap.NewNop().Sugar())
	client.migrate = func() error { return migrateErr }

	rows := []growth.CurveBinRow{
		{GroupKey: "oak|A", BinCenterCM: 12.5, DeltaEstimate: 0.4, FallbackLevel: growth.FallbackGroup, SampleCount: 10},
	}
	err := client.SaveCurveRows(context.Background(), rows, time.Now().UTC())
	if !errors.Is(err, migrateErr) {
		t.Errorf("SaveCurveRows error = %v, want wrapped %v", err, migrateErr)
	}
}

func TestSaveRunMigratesFirst(t *testing.T) {
	migrateErr := errors.New("migrate failed")
	client := NewClient("", zap.NewNop().Sugar())
	client.migrate = func() error { return migrateErr }

	run := &sim.RunResult{RunID: "run-1", Rule: sim.RuleBaseline, Years: 5}
	err := client.SaveRun(context.Background(), run, nil)
	if !errors.Is(err, migrateErr) {
		t.Errorf("SaveRun error = %v, want wrapped %v", err, migrateErr)
	}
}
