package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Database    DatabaseYAML     `yaml:"database,omitempty"`
		Model       ModelYAML        `yaml:"model,omitempty"`
		Simulation  SimulationYAML   `yaml:"simulation,omitempty"`
		Controllers []ControllerYAML `yaml:"controllers,omitempty"`
	}

	err = yaml.Unmarshal(cfgFile, &yamlConfig)
	if err != nil {
		return nil, err
	}

	// Convert to our internal format
	config := &ConfigData{
		Database: DatabaseData{
			ConnectionString: yamlConfig.Database.ConnectionString,
		},
		Model: ModelData{
			BundlePath: yamlConfig.Model.BundlePath,
			Fit: FitData{
				MinSamples:        yamlConfig.Model.Fit.MinSamples,
				BinWidthCM:        yamlConfig.Model.Fit.BinWidthCM,
				TrimFraction:      yamlConfig.Model.Fit.TrimFraction,
				TailStartQuantile: yamlConfig.Model.Fit.TailStartQuantile,
			},
			Boost: GBTData{
				Rounds:         yamlConfig.Model.Boost.Rounds,
				MaxDepth:       yamlConfig.Model.Boost.MaxDepth,
				LearningRate:   yamlConfig.Model.Boost.LearningRate,
				Subsample:      yamlConfig.Model.Boost.Subsample,
				RegAlpha:       yamlConfig.Model.Boost.RegAlpha,
				RegLambda:      yamlConfig.Model.Boost.RegLambda,
				MinSamplesLeaf: yamlConfig.Model.Boost.MinSamplesLeaf,
				Seed:           yamlConfig.Model.Boost.Seed,
			},
			Sigma: yamlConfig.Model.Sigma,
		},
		Simulation: SimulationData{
			Rule:            yamlConfig.Simulation.Rule,
			EpsilonCM:       yamlConfig.Simulation.EpsilonCM,
			NoiseClipSigmas: yamlConfig.Simulation.NoiseClipSigmas,
			Seed:            yamlConfig.Simulation.Seed,
			Horizons:        yamlConfig.Simulation.Horizons,
			StuckThreshold:  yamlConfig.Simulation.StuckThreshold,
		},
		Controllers: make([]ControllerData, len(yamlConfig.Controllers)),
	}

	// Convert controllers
	for i, controller := range yamlConfig.Controllers {
		config.Controllers[i] = ControllerData{
			Type: controller.Type,
		}

		if controller.RESTServer != nil {
			config.Controllers[i].RESTServer = &RESTServerData{
				Cert:       controller.RESTServer.Cert,
				Key:        controller.RESTServer.Key,
				Port:       controller.RESTServer.Port,
				ListenAddr: controller.RESTServer.ListenAddr,
			}
		}
	}

	y.config = config
	return config, nil
}

// GetDatabaseConfig returns the measurement database configuration
func (y *YAMLProvider) GetDatabaseConfig() (*DatabaseData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return &y.config.Database, nil
}

// GetModelConfig returns model fitting configuration
func (y *YAMLProvider) GetModelConfig() (*ModelData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return &y.config.Model, nil
}

// GetSimulationConfig returns default simulation parameters
func (y *YAMLProvider) GetSimulationConfig() (*SimulationData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return &y.config.Simulation, nil
}

// GetControllers returns controller configurations
func (y *YAMLProvider) GetControllers() ([]ControllerData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return y.config.Controllers, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with proper YAML tags
type DatabaseYAML struct {
	ConnectionString string `yaml:"connection-string"`
}

type ModelYAML struct {
	BundlePath string   `yaml:"bundle-path,omitempty"`
	Fit        FitYAML  `yaml:"fit,omitempty"`
	Boost      GBTYAML  `yaml:"boost,omitempty"`
	Sigma      *float64 `yaml:"default-sigma,omitempty"`
}

type FitYAML struct {
	MinSamples        int     `yaml:"min-samples,omitempty"`
	BinWidthCM        float64 `yaml:"bin-width-cm,omitempty"`
	TrimFraction      float64 `yaml:"trim-fraction,omitempty"`
	TailStartQuantile float64 `yaml:"tail-start-quantile,omitempty"`
}

type GBTYAML struct {
	Rounds         int     `yaml:"rounds,omitempty"`
	MaxDepth       int     `yaml:"max-depth,omitempty"`
	LearningRate   float64 `yaml:"learning-rate,omitempty"`
	Subsample      float64 `yaml:"subsample,omitempty"`
	RegAlpha       float64 `yaml:"reg-alpha,omitempty"`
	RegLambda      float64 `yaml:"reg-lambda,omitempty"`
	MinSamplesLeaf int     `yaml:"min-samples-leaf,omitempty"`
	Seed           uint64  `yaml:"seed,omitempty"`
}

type SimulationYAML struct {
	Rule            string  `yaml:"rule,omitempty"`
	EpsilonCM       float64 `yaml:"epsilon-cm,omitempty"`
	NoiseClipSigmas float64 `yaml:"noise-clip-sigmas,omitempty"`
	Seed            uint64  `yaml:"seed,omitempty"`
	Horizons        []int   `yaml:"horizons,omitempty"`
	StuckThreshold  float64 `yaml:"stuck-threshold,omitempty"`
}

type ControllerYAML struct {
	Type       string          `yaml:"type,omitempty"`
	RESTServer *RESTServerYAML `yaml:"rest,omitempty"`
}

type RESTServerYAML struct {
	Cert       string `yaml:"cert,omitempty"`
	Key        string `yaml:"key,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	ListenAddr string `yaml:"listen-addr,omitempty"`
}
