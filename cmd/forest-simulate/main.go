package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/canopycarbon/forestsim/internal/database"
	"github.com/canopycarbon/forestsim/internal/growth"
	"github.com/canopycarbon/forestsim/internal/log"
	"github.com/canopycarbon/forestsim/internal/sim"
	"github.com/canopycarbon/forestsim/pkg/config"
)

// runSettings holds the simulation parameters a configuration source can
// supply when the matching flags are left unset
type runSettings struct {
	Rule            string
	Horizons        []int
	EpsilonCM       float64
	NoiseClipSigmas float64
	Seed            uint64
	StuckThreshold  float64
}

func main() {
	var (
		cfgFile    = flag.String("config", "", "Optional configuration source supplying run parameters and the database connection")
		cfgBackend = flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' or 'sqlite'")
		bundlePath = flag.String("bundle", "growth-model.msgpack", "Path to the fitted model bundle")
		dbConn     = flag.String("db", "", "PostgreSQL connection string (reads the population_trees table)")
		csvFile    = flag.String("csv", "", "CSV population file (tree_id,species,plot,diameter_cm); alternative to -db")
		yearsList  = flag.String("years", "1,5,10,20", "Comma-separated projection horizons in years")
		ruleName   = flag.String("rule", "", "Growth rule: baseline, stochastic, hybrid, hard_floor, epsilon_floor (default: hybrid when a residual model is present, baseline otherwise)")
		seed       = flag.Uint64("seed", sim.DefaultRuleParams().Seed, "Base seed for stochastic draws")
		epsilon    = flag.Float64("epsilon", sim.DefaultRuleParams().EpsilonCM, "Minimum annual growth in cm under the epsilon-floor rule")
		noiseClip  = flag.Float64("noise-clip", sim.DefaultRuleParams().NoiseClipSigmas, "Clip stochastic draws to +/- this many sigmas")
		threshold  = flag.Float64("stuck-threshold", sim.DefaultStuckThreshold, "Plateaued fraction above which a rule switch is recommended")
		csvOutput  = flag.String("out", "", "Optional CSV output file for per-tree snapshot rows")
		saveRun    = flag.Bool("save-run", false, "Persist the run and snapshot summaries to the database (requires -db)")
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

	settings := runSettings{
		Rule:            *ruleName,
		EpsilonCM:       *epsilon,
		NoiseClipSigmas: *noiseClip,
		Seed:            *seed,
		StuckThreshold:  *threshold,
	}

	if *cfgFile != "" {
		provider, err := openConfig(*cfgFile, *cfgBackend)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		defer provider.Close()

		simCfg, err := provider.GetSimulationConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading simulation configuration: %v\n", err)
			os.Exit(1)
		}
		settings = mergeRunSettings(settings, *simCfg, setFlags)

		modelCfg, err := provider.GetModelConfig()
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
		fmt.Fprintf(os.Stderr, "Usage: %s -bundle <model.msgpack> -db <connection string> | -csv <population.csv>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	bundle, err := growth.LoadBundle(*bundlePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading model bundle: %v\n", err)
		os.Exit(1)
	}

	horizons := settings.Horizons
	if len(horizons) == 0 {
		horizons, err = parseYears(*yearsList)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -years: %v\n", err)
			os.Exit(1)
		}
	}

	ruleType := sim.RuleBaseline
	if bundle.HasResidualModel() {
		ruleType = sim.RuleHybrid
	}
	if settings.Rule != "" {
		ruleType, err = sim.ParseRuleType(settings.Rule)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()

	var (
		population []sim.Tree
		client     *database.Client
	)
	if *dbConn != "" {
		client = database.NewClient(*dbConn, logger)
		if err = client.Connect(); err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
			os.Exit(1)
		}
		population, err = client.FetchPopulation(ctx)
	} else {
		population, err = loadPopulationCSV(*csvFile)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading population: %v\n", err)
		os.Exit(1)
	}

	engine, err := sim.NewEngine(bundle, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building engine: %v\n", err)
		os.Exit(1)
	}

	params := sim.RuleParams{
		EpsilonCM:       settings.EpsilonCM,
		NoiseClipSigmas: settings.NoiseClipSigmas,
		Seed:            settings.Seed,
	}

	fmt.Printf("Forest Carbon Projection\n")
	fmt.Printf("========================\n\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Population: %d trees\n", len(population))
	fmt.Printf("  Rule:       %s\n", ruleType)
	fmt.Printf("  Horizons:   %v years\n", horizons)
	fmt.Printf("  Seed:       %d\n\n", settings.Seed)

	snapshots, warnings, err := engine.GenerateSnapshots(population, horizons, ruleType, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating snapshots: %v\n", err)
		os.Exit(1)
	}

	displaySnapshots(snapshots, horizons)
	for _, w := range warnings {
		fmt.Printf("  ⚠ %s\n", w)
	}
	if len(warnings) > 0 {
		fmt.Println()
	}

	// One full run over the longest horizon yields year-by-year diagnostics
	// and the plateau report the snapshot path does not carry
	maxHorizon := horizons[len(horizons)-1]
	run, err := engine.SimulateYears(population, maxHorizon, ruleType, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running simulation: %v\n", err)
		os.Exit(1)
	}

	displayPlateaus(run, ruleType, settings.StuckThreshold)

	if *csvOutput != "" {
		if err := exportCSV(*csvOutput, snapshots, horizons); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing CSV: %v\n", err)
		} else {
			fmt.Printf("Snapshot rows exported to: %s\n", *csvOutput)
		}
	}

	if *saveRun {
		if client == nil {
			fmt.Fprintf(os.Stderr, "Error: -save-run requires -db\n")
			os.Exit(1)
		}
		if err := client.SaveRun(ctx, run, snapshots); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving run: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Run %s persisted to database\n", run.RunID)
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

// mergeRunSettings overlays configured simulation values on the flag values.
// A value is taken from the configuration only when its flag was not set on
// the command line and the configuration actually carries it.
func mergeRunSettings(base runSettings, data config.SimulationData, set map[string]bool) runSettings {
	if !set["rule"] && data.Rule != "" {
		base.Rule = data.Rule
	}
	if !set["years"] && len(data.Horizons) > 0 {
		base.Horizons = append([]int(nil), data.Horizons...)
		sort.Ints(base.Horizons)
	}
	if !set["epsilon"] && data.EpsilonCM > 0 {
		base.EpsilonCM = data.EpsilonCM
	}
	if !set["noise-clip"] && data.NoiseClipSigmas > 0 {
		base.NoiseClipSigmas = data.NoiseClipSigmas
	}
	if !set["seed"] && data.Seed != 0 {
		base.Seed = data.Seed
	}
	if !set["stuck-threshold"] && data.StuckThreshold > 0 {
		base.StuckThreshold = data.StuckThreshold
	}
	return base
}

func parseYears(s string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid horizon %q", part)
		}
		years = append(years, y)
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("no horizons given")
	}
	sort.Ints(years)
	return years, nil
}

func displaySnapshots(snapshots map[int]*sim.Snapshot, horizons []int) {
	fmt.Printf("Projected Stand Summary\n")
	fmt.Printf("=======================\n\n")
	fmt.Printf("%8s | %6s | %14s | %16s\n", "Horizon", "Trees", "Mean DBH (cm)", "Total Carbon (kg)")
	fmt.Printf("---------+--------+----------------+------------------\n")
	for _, h := range horizons {
		s, ok := snapshots[h]
		if !ok {
			continue
		}
		fmt.Printf("%7dy | %6d | %14.2f | %16.1f\n", h, s.TreeCount, s.MeanDiameterCM, s.TotalCarbonKG)
	}
	fmt.Println()
}

func displayPlateaus(run *sim.RunResult, ruleType sim.RuleType, threshold float64) {
	report := run.Plateaus
	if report == nil {
		return
	}

	fmt.Printf("Plateau Report (%d-year run)\n", run.Years)
	fmt.Printf("===========================\n\n")
	fmt.Printf("  Plateaued trees: %d of %d (%.1f%%)\n",
		len(report.Records), report.TotalTrees, report.FractionPlateaued*100)

	if len(report.Records) > 0 {
		earliest := report.Records[0]
		for _, r := range report.Records {
			if r.YearFirstPlateaued < earliest.YearFirstPlateaued {
				earliest = r
			}
		}
		fmt.Printf("  Earliest plateau: tree %s at year %d (%.1f cm)\n",
			earliest.TreeID, earliest.YearFirstPlateaued, earliest.DiameterAtPlateau)
	}

	if recommended := sim.RecommendRule(report, ruleType, threshold); recommended != ruleType {
		fmt.Printf("\n  ⚠ %.1f%% of trees plateaued permanently under the %s rule.\n",
			report.FractionPlateaued*100, ruleType)
		fmt.Printf("  Recommendation: rerun with -rule %s\n", recommended)
	}
	fmt.Println()
}

func exportCSV(filename string, snapshots map[int]*sim.Snapshot, horizons []int) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"horizon_years", "tree_id", "species", "plot", "diameter_cm", "carbon_kg"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, h := range horizons {
		s, ok := snapshots[h]
		if !ok {
			continue
		}
		for _, t := range s.Trees {
			record := []string{
				strconv.Itoa(h),
				t.ID,
				t.Species,
				string(t.Plot),
				fmt.Sprintf("%.3f", t.DiameterCM),
				fmt.Sprintf("%.3f", t.CarbonKG),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	return nil
}

func loadPopulationCSV(filename string) ([]sim.Tree, error) {
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
	for _, required := range []string{"tree_id", "species", "plot", "diameter_cm"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("CSV is missing required column %q", required)
		}
	}

	var trees []sim.Tree
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
		diameter, err := strconv.ParseFloat(record[col["diameter_cm"]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad diameter: %w", line, err)
		}

		trees = append(trees, sim.Tree{
			ID:         record[col["tree_id"]],
			Species:    record[col["species"]],
			Plot:       plot,
			DiameterCM: diameter,
		})
	}

	return trees, nil
}
