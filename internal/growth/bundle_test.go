package growth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestModelBundleValidate(t *testing.T) {
	curves := zeroCurves()
	sigma := &SigmaTable{Global: 0.4, HasGlobal: true}

	if err := (&ModelBundle{Curves: curves, Sigma: sigma}).Validate(); err != nil {
		t.Errorf("complete bundle failed validation: %v", err)
	}
	if err := (&ModelBundle{Sigma: sigma}).Validate(); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("missing curves: got %v, want ErrModelUnavailable", err)
	}
	if err := (&ModelBundle{Curves: curves}).Validate(); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("missing sigma: got %v, want ErrModelUnavailable", err)
	}
}

func TestModelBundleSaveLoad(t *testing.T) {
	obs := syntheticObservations("oak", PlotA, 120, 9)
	curves, meta, err := FitBaselineCurves(obs, DefaultFitParams(), testLogger())
	if err != nil {
		t.Fatalf("FitBaselineCurves: %v", err)
	}
	sigma, err := CalibrateResidualSpread(obs, curves, testLogger())
	if err != nil {
		t.Fatalf("CalibrateResidualSpread: %v", err)
	}

	bundle := &ModelBundle{
		Curves:   curves,
		Sigma:    sigma,
		Meta:     meta,
		FittedAt: time.Now().UTC(),
	}

	path := filepath.Join(t.TempDir(), "model.bundle")
	if err := bundle.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}

	// Predictions must survive the round trip bit-for-bit
	for _, dbh := range []float64{8, 22.5, 47, 90} {
		want := bundle.Curves.Predict(dbh, "oak", PlotA)
		got := loaded.Curves.Predict(dbh, "oak", PlotA)
		if got != want {
			t.Errorf("Predict(%v) after reload = %v, want %v", dbh, got, want)
		}
	}
	wantSigma, _ := bundle.Sigma.Lookup("oak", PlotA)
	gotSigma, _ := loaded.Sigma.Lookup("oak", PlotA)
	if gotSigma != wantSigma {
		t.Errorf("sigma after reload = %v, want %v", gotSigma, wantSigma)
	}
	if loaded.HasResidualModel() {
		t.Error("bundle saved without a residual model reports one after reload")
	}
}

func TestLoadBundleMissingFile(t *testing.T) {
	_, err := LoadBundle(filepath.Join(t.TempDir(), "absent.bundle"))
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("missing file: got %v, want ErrModelUnavailable", err)
	}
}
