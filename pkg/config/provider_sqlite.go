package config

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteProvider implements ConfigProvider for SQLite database configuration
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider creates a new SQLite configuration provider
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// EnsureSchema creates the configuration tables if they do not exist. Used by
// the config-convert tooling before writing a configuration.
func (s *SQLiteProvider) EnsureSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS database_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			connection_string TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			bundle_path TEXT,
			min_samples INTEGER,
			bin_width_cm REAL,
			trim_fraction REAL,
			tail_start_quantile REAL,
			boost_rounds INTEGER,
			boost_max_depth INTEGER,
			boost_learning_rate REAL,
			boost_subsample REAL,
			boost_reg_alpha REAL,
			boost_reg_lambda REAL,
			boost_min_samples_leaf INTEGER,
			boost_seed INTEGER,
			default_sigma REAL
		)`,
		`CREATE TABLE IF NOT EXISTS simulation_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			rule TEXT,
			epsilon_cm REAL,
			noise_clip_sigmas REAL,
			seed INTEGER,
			horizons TEXT,
			stuck_threshold REAL
		)`,
		`CREATE TABLE IF NOT EXISTS controllers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			rest_cert TEXT,
			rest_key TEXT,
			rest_port INTEGER,
			rest_listen_addr TEXT
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	database, err := s.GetDatabaseConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}
	config.Database = *database

	model, err := s.GetModelConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load model config: %w", err)
	}
	config.Model = *model

	simulation, err := s.GetSimulationConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load simulation config: %w", err)
	}
	config.Simulation = *simulation

	controllers, err := s.GetControllers()
	if err != nil {
		return nil, fmt.Errorf("failed to load controllers: %w", err)
	}
	config.Controllers = controllers

	return config, nil
}

// GetDatabaseConfig returns the measurement database configuration
func (s *SQLiteProvider) GetDatabaseConfig() (*DatabaseData, error) {
	var data DatabaseData
	err := s.db.QueryRow(`SELECT connection_string FROM database_config WHERE id = 1`).
		Scan(&data.ConnectionString)
	if err == sql.ErrNoRows {
		return &DatabaseData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query database config: %w", err)
	}
	return &data, nil
}

// GetModelConfig returns model fitting configuration
func (s *SQLiteProvider) GetModelConfig() (*ModelData, error) {
	query := `
		SELECT bundle_path, min_samples, bin_width_cm, trim_fraction, tail_start_quantile,
		       boost_rounds, boost_max_depth, boost_learning_rate, boost_subsample,
		       boost_reg_alpha, boost_reg_lambda, boost_min_samples_leaf, boost_seed,
		       default_sigma
		FROM model_config WHERE id = 1
	`

	var data ModelData
	var bundlePath sql.NullString
	var minSamples, rounds, maxDepth, minLeaf, seed sql.NullInt64
	var binWidth, trimFrac, tailQuantile, lr, subsample, alpha, lambda, sigma sql.NullFloat64

	err := s.db.QueryRow(query).Scan(
		&bundlePath, &minSamples, &binWidth, &trimFrac, &tailQuantile,
		&rounds, &maxDepth, &lr, &subsample, &alpha, &lambda, &minLeaf, &seed,
		&sigma,
	)
	if err == sql.ErrNoRows {
		return &ModelData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query model config: %w", err)
	}

	data.BundlePath = bundlePath.String
	data.Fit = FitData{
		MinSamples:        int(minSamples.Int64),
		BinWidthCM:        binWidth.Float64,
		TrimFraction:      trimFrac.Float64,
		TailStartQuantile: tailQuantile.Float64,
	}
	data.Boost = GBTData{
		Rounds:         int(rounds.Int64),
		MaxDepth:       int(maxDepth.Int64),
		LearningRate:   lr.Float64,
		Subsample:      subsample.Float64,
		RegAlpha:       alpha.Float64,
		RegLambda:      lambda.Float64,
		MinSamplesLeaf: int(minLeaf.Int64),
		Seed:           uint64(seed.Int64),
	}
	if sigma.Valid {
		v := sigma.Float64
		data.Sigma = &v
	}
	return &data, nil
}

// GetSimulationConfig returns default simulation parameters
func (s *SQLiteProvider) GetSimulationConfig() (*SimulationData, error) {
	query := `
		SELECT rule, epsilon_cm, noise_clip_sigmas, seed, horizons, stuck_threshold
		FROM simulation_config WHERE id = 1
	`

	var data SimulationData
	var rule, horizons sql.NullString
	var epsilon, clipSigmas, threshold sql.NullFloat64
	var seed sql.NullInt64

	err := s.db.QueryRow(query).Scan(&rule, &epsilon, &clipSigmas, &seed, &horizons, &threshold)
	if err == sql.ErrNoRows {
		return &SimulationData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query simulation config: %w", err)
	}

	data.Rule = rule.String
	data.EpsilonCM = epsilon.Float64
	data.NoiseClipSigmas = clipSigmas.Float64
	data.Seed = uint64(seed.Int64)
	data.StuckThreshold = threshold.Float64
	if horizons.Valid {
		data.Horizons, err = parseHorizons(horizons.String)
		if err != nil {
			return nil, fmt.Errorf("invalid horizons %q: %w", horizons.String, err)
		}
	}
	return &data, nil
}

// GetControllers returns controller configurations from the database
func (s *SQLiteProvider) GetControllers() ([]ControllerData, error) {
	query := `
		SELECT type, rest_cert, rest_key, rest_port, rest_listen_addr
		FROM controllers ORDER BY id
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query controllers: %w", err)
	}
	defer rows.Close()

	var controllers []ControllerData
	for rows.Next() {
		var controller ControllerData
		var cert, key, listenAddr sql.NullString
		var port sql.NullInt64

		if err := rows.Scan(&controller.Type, &cert, &key, &port, &listenAddr); err != nil {
			return nil, fmt.Errorf("failed to scan controller: %w", err)
		}

		if controller.Type == "rest" {
			controller.RESTServer = &RESTServerData{
				Cert:       cert.String,
				Key:        key.String,
				Port:       int(port.Int64),
				ListenAddr: listenAddr.String,
			}
		}
		controllers = append(controllers, controller)
	}
	return controllers, rows.Err()
}

// SaveConfig writes a complete configuration, replacing any existing rows.
// Used by the config-convert tool to migrate YAML configurations.
func (s *SQLiteProvider) SaveConfig(config *ConfigData) error {
	if err := s.EnsureSchema(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"database_config", "model_config", "simulation_config", "controllers"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	_, err = tx.Exec(`INSERT INTO database_config (id, connection_string) VALUES (1, ?)`,
		config.Database.ConnectionString)
	if err != nil {
		return fmt.Errorf("failed to save database config: %w", err)
	}

	var sigma interface{}
	if config.Model.Sigma != nil {
		sigma = *config.Model.Sigma
	}
	_, err = tx.Exec(`
		INSERT INTO model_config (
			id, bundle_path, min_samples, bin_width_cm, trim_fraction, tail_start_quantile,
			boost_rounds, boost_max_depth, boost_learning_rate, boost_subsample,
			boost_reg_alpha, boost_reg_lambda, boost_min_samples_leaf, boost_seed, default_sigma
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		config.Model.BundlePath,
		config.Model.Fit.MinSamples, config.Model.Fit.BinWidthCM,
		config.Model.Fit.TrimFraction, config.Model.Fit.TailStartQuantile,
		config.Model.Boost.Rounds, config.Model.Boost.MaxDepth,
		config.Model.Boost.LearningRate, config.Model.Boost.Subsample,
		config.Model.Boost.RegAlpha, config.Model.Boost.RegLambda,
		config.Model.Boost.MinSamplesLeaf, int64(config.Model.Boost.Seed),
		sigma,
	)
	if err != nil {
		return fmt.Errorf("failed to save model config: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO simulation_config (id, rule, epsilon_cm, noise_clip_sigmas, seed, horizons, stuck_threshold)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		config.Simulation.Rule, config.Simulation.EpsilonCM, config.Simulation.NoiseClipSigmas,
		int64(config.Simulation.Seed), formatHorizons(config.Simulation.Horizons),
		config.Simulation.StuckThreshold,
	)
	if err != nil {
		return fmt.Errorf("failed to save simulation config: %w", err)
	}

	for _, controller := range config.Controllers {
		var cert, key, listenAddr string
		var port int
		if controller.RESTServer != nil {
			cert = controller.RESTServer.Cert
			key = controller.RESTServer.Key
			port = controller.RESTServer.Port
			listenAddr = controller.RESTServer.ListenAddr
		}
		_, err = tx.Exec(`
			INSERT INTO controllers (type, rest_cert, rest_key, rest_port, rest_listen_addr)
			VALUES (?, ?, ?, ?, ?)`,
			controller.Type, cert, key, port, listenAddr)
		if err != nil {
			return fmt.Errorf("failed to save controller: %w", err)
		}
	}

	return tx.Commit()
}

// IsReadOnly returns false since SQLite configurations can be modified
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}
