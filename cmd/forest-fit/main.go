package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/canopycarbon/forestsim/internal/database"
	"github.com/canopycarbon/forestsim/internal/growth"
	"github.com/canopycarbon/forestsim/internal/log"
	"github.com/canopycarbon/forestsim/pkg/config"
)

func main() {
	var (
		cfgFile    = flag.String("config", "", "Optional configuration source supplying fit parameters and the database connection")
		cfgBackend = flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' or 'sqlite'")
		dbConn     = flag.String("db", "", "PostgreSQL connection string (reads the tree_measurements table)")
		csvFile    = flag.String("csv", "", "CSV measurement file (tree_id,species,plot,year,diameter_cm); alternative to -db")
		bundlePath = flag.String("bundle", "growth-model.msgpack", "Output path for the fitted model bundle")
		minSamples = flag.Int("min-samples", growth.DefaultFitParams().MinSamples, "Minimum observations for a (species, plot) group curve")
		binWidth   = flag.Float64("bin-width", growth.DefaultFitParams().BinWidthCM, "Diameter bin width in cm")
		trimFrac   = flag.Float64("trim", growth.DefaultFitParams().TrimFraction, "Trim fraction for robust bin means")
		tailQuant  = flag.Float64("tail-quantile", growth.DefaultFitParams().TailStartQuantile, "Quantile where the non-increasing tail guardrail starts")
		rounds     = flag.Int("rounds", growth.DefaultGBTParams().Rounds, "Boosting rounds for the residual model")
		maxDepth   = flag.Int("max-depth", growth.DefaultGBTParams().MaxDepth, "Maximum tree depth for the residual model")
		learnRate  = flag.Float64("learning-rate", growth.DefaultGBTParams().LearningRate, "Boosting learning rate")
		seed       = flag.Uint64("seed", growth.DefaultGBTParams().Seed, "Seed for subsampling and the holdout split")
		noResidual = flag.Bool("skip-residual", false, "Fit baseline curves and sigma only, without the boosted residual model")
		saveCurves = flag.Bool("save-curves", false, "Also persist the fitted curve bins to the database (requires -db)")
		debug      = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	// Explicitly-set flags take precedence over configuration values
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	if err := log.Init(*debug); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger := log.GetSugaredLogger()

	var modelCfg *config.ModelData
	if *cfgFile != "" {
		provider, err := openConfig(*cfgFile, *cfgBackend)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		defer provider.Close()

		modelCfg, err = provider.GetModelConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading model configuration: %v\n", err)
			os.Exit(1)
		}
		if !setFlags["bundle"] && modelCfg.BundlePath != "" {
			*bundlePath = modelCfg.BundlePath
		}
		if !setFlags["db"] && !setFlags["csv"] {
			dbCfg, err := provider.GetDatabaseConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading database configuration: %v\n", err)
				os.Exit(1)
			}
			*dbConn = dbCfg.ConnectionString
		}
	}

	if (*dbConn == "") == (*csvFile == "") {
		fmt.Fprintf(os.Stderr, "Usage: %s -db <connection string> | -csv <measurements.csv>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx := context.Background()

	var (
		measurements []growth.Measurement
		client       *database.Client
		err          error
	)
	if *dbConn != "" {
		client = database.NewClient(*dbConn, logger)
		if err = client.Connect(); err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
			os.Exit(1)
		}
		measurements, err = client.FetchMeasurements(ctx)
	} else {
		measurements, err = loadMeasurementsCSV(*csvFile)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading measurements: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Forest Growth Model Fitting\n")
	fmt.Printf("===========================\n\n")
	fmt.Printf("Loaded %d measurements\n", len(measurements))

	observations, err := growth.BuildObservations(measurements, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building observations: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Derived %d annualized growth observations\n\n", len(observations))

	params := growth.DefaultFitParams()
	if modelCfg != nil {
		params = mergeFitParams(params, modelCfg.Fit)
	}
	if setFlags["min-samples"] {
		params.MinSamples = *minSamples
	}
	if setFlags["bin-width"] {
		params.BinWidthCM = *binWidth
	}
	if setFlags["trim"] {
		params.TrimFraction = *trimFrac
	}
	if setFlags["tail-quantile"] {
		params.TailStartQuantile = *tailQuant
	}
	curves, meta, err := growth.FitBaselineCurves(observations, params, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fitting baseline curves: %v\n", err)
		os.Exit(1)
	}

	sigma, err := growth.CalibrateResidualSpread(observations, curves, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error calibrating residual spread: %v\n", err)
		os.Exit(1)
	}
	if modelCfg != nil && applyDefaultSigma(sigma, modelCfg.Sigma) {
		logger.Infof("using configured default sigma %.4f cm/year as the global fallback", sigma.Global)
	}

	bundle := &growth.ModelBundle{
		Curves:   curves,
		Sigma:    sigma,
		Meta:     meta,
		FittedAt: time.Now().UTC(),
	}

	if !*noResidual {
		gbtParams := growth.DefaultGBTParams()
		if modelCfg != nil {
			gbtParams = mergeGBTParams(gbtParams, modelCfg.Boost)
		}
		if setFlags["rounds"] {
			gbtParams.Rounds = *rounds
		}
		if setFlags["max-depth"] {
			gbtParams.MaxDepth = *maxDepth
		}
		if setFlags["learning-rate"] {
			gbtParams.LearningRate = *learnRate
		}
		if setFlags["seed"] {
			gbtParams.Seed = *seed
		}

		residual, err := growth.TrainResidualModel(observations, curves, gbtParams, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error training residual model: %v\n", err)
			os.Exit(1)
		}
		bundle.Residual = residual
	}

	displayFitSummary(bundle)

	if err := bundle.Save(*bundlePath); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving model bundle: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Model bundle written to: %s\n", *bundlePath)

	if *saveCurves {
		if client == nil {
			fmt.Fprintf(os.Stderr, "Error: -save-curves requires -db\n")
			os.Exit(1)
		}
		if err := client.SaveCurveRows(ctx, curves.Rows(), bundle.FittedAt); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving curve bins: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Curve bins persisted to database\n")
	}
}

func openConfig(cfgFile, cfgBackend string) (config.ConfigProvider, error) {
	filename, _ := filepath.Abs(cfgFile)

	var provider config.ConfigProvider
	var err error

	switch cfgBackend {
	case "yaml":
		provider = config.NewYAMLProvider(filename)
	case "sqlite":
		provider, err = config.NewSQLiteProvider(filename)
		if err != nil {
			return nil, fmt.Errorf("error creating SQLite provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported configuration backend: %s. Use 'yaml' or 'sqlite'", cfgBackend)
	}

	if _, err := provider.LoadConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return provider, nil
}

// mergeFitParams overlays the configured fitting parameters on the defaults.
// Zero-valued fields mean the configuration left them unset.
func mergeFitParams(base growth.FitParams, data config.FitData) growth.FitParams {
	if data.MinSamples > 0 {
		base.MinSamples = data.MinSamples
	}
	if data.BinWidthCM > 0 {
		base.BinWidthCM = data.BinWidthCM
	}
	if data.TrimFraction > 0 {
		base.TrimFraction = data.TrimFraction
	}
	if data.TailStartQuantile > 0 {
		base.TailStartQuantile = data.TailStartQuantile
	}
	return base
}

// mergeGBTParams overlays the configured residual model hyperparameters on
// the defaults
func mergeGBTParams(base growth.GBTParams, data config.GBTData) growth.GBTParams {
	if data.Rounds > 0 {
		base.Rounds = data.Rounds
	}
	if data.MaxDepth > 0 {
		base.MaxDepth = data.MaxDepth
	}
	if data.LearningRate > 0 {
		base.LearningRate = data.LearningRate
	}
	if data.Subsample > 0 {
		base.Subsample = data.Subsample
	}
	if data.RegAlpha > 0 {
		base.RegAlpha = data.RegAlpha
	}
	if data.RegLambda > 0 {
		base.RegLambda = data.RegLambda
	}
	if data.MinSamplesLeaf > 0 {
		base.MinSamplesLeaf = data.MinSamplesLeaf
	}
	if data.Seed != 0 {
		base.Seed = data.Seed
	}
	return base
}

// applyDefaultSigma installs the configured sigma as the global fallback when
// calibration could not produce one. A calibrated global always wins.
func applyDefaultSigma(table *growth.SigmaTable, sigma *float64) bool {
	if sigma == nil || table.HasGlobal {
		return false
	}
	table.Global = *sigma
	table.HasGlobal = true
	return true
}

func displayFitSummary(bundle *growth.ModelBundle) {
	meta := bundle.Meta

	fmt.Printf("Baseline Curves\n")
	fmt.Printf("---------------\n")
	fmt.Printf("  Observations:   %d\n", meta.ObservationCount)
	fmt.Printf("  Group curves:   %d\n", meta.GroupCurves)
	fmt.Printf("  Species curves: %d\n", meta.SpeciesCurves)
	fmt.Printf("  Diameter range: %.1f - %.1f cm in %d bins\n\n", meta.DiameterMinCM, meta.DiameterMaxCM, meta.BinCount)

	fmt.Printf("Residual Spread (sigma, cm/year)\n")
	fmt.Printf("--------------------------------\n")
	keys := make([]string, 0, len(bundle.Sigma.Group))
	for k := range bundle.Sigma.Group {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-20s %.4f\n", k, bundle.Sigma.Group[k])
	}
	if bundle.Sigma.HasGlobal {
		fmt.Printf("  %-20s %.4f\n", "(global)", bundle.Sigma.Global)
	}
	fmt.Println()

	if bundle.Residual != nil {
		d := bundle.Residual.Diagnostics
		fmt.Printf("Residual Model (holdout)\n")
		fmt.Printf("------------------------\n")
		fmt.Printf("  RMSE = %.4f cm/year\n", d.RMSE)
		fmt.Printf("  MAE  = %.4f cm/year\n", d.MAE)
		fmt.Printf("  R²   = %.4f\n", d.R2)
		fmt.Printf("  Bias = %+.4f cm/year\n", d.Bias)
		fmt.Printf("  Train/test samples = %d/%d\n\n", d.TrainSamples, d.TestSamples)
	}
}

func loadMeasurementsCSV(filename string) ([]growth.Measurement, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"tree_id", "species", "plot", "year", "diameter_cm"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("CSV is missing required column %q", required)
		}
	}

	var measurements []growth.Measurement
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		plot, err := growth.ParsePlotGroup(record[col["plot"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		year, err := strconv.ParseFloat(record[col["year"]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad year: %w", line, err)
		}

		// An empty diameter cell is a missing reading, not an error
		diameter := math.NaN()
		if raw := record[col["diameter_cm"]]; raw != "" {
			diameter, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad diameter: %w", line, err)
			}
		}

		measurements = append(measurements, growth.Measurement{
			TreeID:     record[col["tree_id"]],
			Species:    record[col["species"]],
			Plot:       plot,
			Year:       year,
			DiameterCM: diameter,
		})
	}

	return measurements, nil
}
