package config

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetDatabaseConfig() (*DatabaseData, error)
	GetModelConfig() (*ModelData, error)
	GetSimulationConfig() (*SimulationData, error)
	GetControllers() ([]ControllerData, error)

	// Configuration management
	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Database    DatabaseData     `json:"database,omitempty"`
	Model       ModelData        `json:"model,omitempty"`
	Simulation  SimulationData   `json:"simulation,omitempty"`
	Controllers []ControllerData `json:"controllers,omitempty"`
}

// DatabaseData holds the configuration for the measurement database
type DatabaseData struct {
	ConnectionString string `json:"connection_string"`
}

// ModelData holds fitting parameters and the bundle artifact location
type ModelData struct {
	BundlePath string   `json:"bundle_path,omitempty"`
	Fit        FitData  `json:"fit,omitempty"`
	Boost      GBTData  `json:"boost,omitempty"`
	Sigma      *float64 `json:"default_sigma,omitempty"`
}

// FitData holds baseline curve fitting parameters
type FitData struct {
	MinSamples        int     `json:"min_samples,omitempty"`
	BinWidthCM        float64 `json:"bin_width_cm,omitempty"`
	TrimFraction      float64 `json:"trim_fraction,omitempty"`
	TailStartQuantile float64 `json:"tail_start_quantile,omitempty"`
}

// GBTData holds residual model hyperparameters
type GBTData struct {
	Rounds         int     `json:"rounds,omitempty"`
	MaxDepth       int     `json:"max_depth,omitempty"`
	LearningRate   float64 `json:"learning_rate,omitempty"`
	Subsample      float64 `json:"subsample,omitempty"`
	RegAlpha       float64 `json:"reg_alpha,omitempty"`
	RegLambda      float64 `json:"reg_lambda,omitempty"`
	MinSamplesLeaf int     `json:"min_samples_leaf,omitempty"`
	Seed           uint64  `json:"seed,omitempty"`
}

// SimulationData holds default simulation run parameters
type SimulationData struct {
	Rule            string  `json:"rule,omitempty"`
	EpsilonCM       float64 `json:"epsilon_cm,omitempty"`
	NoiseClipSigmas float64 `json:"noise_clip_sigmas,omitempty"`
	Seed            uint64  `json:"seed,omitempty"`
	Horizons        []int   `json:"horizons,omitempty"`
	StuckThreshold  float64 `json:"stuck_threshold,omitempty"`
}

// ControllerData holds the configuration for controller backends
type ControllerData struct {
	Type       string          `json:"type,omitempty"`
	RESTServer *RESTServerData `json:"rest,omitempty"`
}

type RESTServerData struct {
	Cert       string `json:"cert,omitempty"`
	Key        string `json:"key,omitempty"`
	Port       int    `json:"port,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty"`
}
