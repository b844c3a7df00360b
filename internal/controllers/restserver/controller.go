package restserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/canopycarbon/forestsim/internal/database"
	"github.com/canopycarbon/forestsim/internal/growth"
	"github.com/canopycarbon/forestsim/internal/log"
	"github.com/canopycarbon/forestsim/internal/sim"
	"github.com/canopycarbon/forestsim/pkg/config"
)

// Controller represents the REST server controller
type Controller struct {
	ctx            context.Context
	wg             *sync.WaitGroup
	configProvider config.ConfigProvider
	restConfig     config.RESTServerData
	Server         http.Server
	DB             *database.Client
	DBEnabled      bool
	bundle         *growth.ModelBundle
	engine         *sim.Engine
	simDefaults    config.SimulationData
	logger         *zap.SugaredLogger
	handlers       *Handlers
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, rc config.RESTServerData, bundle *growth.ModelBundle, logger *zap.SugaredLogger) (*Controller, error) {
	ctrl := &Controller{
		ctx:            ctx,
		wg:             wg,
		configProvider: configProvider,
		restConfig:     rc,
		bundle:         bundle,
		logger:         logger,
	}

	// Load configuration
	cfgData, err := configProvider.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %v", err)
	}
	ctrl.simDefaults = cfgData.Simulation

	// The projection endpoints need a fitted model
	engine, err := sim.NewEngine(bundle, logger)
	if err != nil {
		return nil, fmt.Errorf("cannot build simulation engine: %w", err)
	}
	ctrl.engine = engine

	// If a listen address was not provided, listen on all interfaces
	if rc.ListenAddr == "" {
		logger.Info("rest.listen_addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		rc.ListenAddr = "0.0.0.0"
	}

	// Set default HTTP port if not specified
	if rc.Port == 0 {
		logger.Info("rest.port not provided; defaulting to 8080")
		rc.Port = 8080
	}
	ctrl.restConfig = rc

	// If an inventory database was configured, set up a client so that the
	// handlers can retrieve the base population
	if cfgData.Database.ConnectionString != "" {
		ctrl.DB = database.NewClient(cfgData.Database.ConnectionString, logger)
		if err := ctrl.DB.Connect(); err != nil {
			return nil, fmt.Errorf("REST server could not connect to database: %v", err)
		}
		ctrl.DBEnabled = true
	}

	// Create handlers
	ctrl.handlers = NewHandlers(ctrl)

	// Set up router
	router := ctrl.setupRouter()
	ctrl.Server.Addr = fmt.Sprintf("%v:%v", rc.ListenAddr, rc.Port)
	ctrl.Server.Handler = router

	return ctrl, nil
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	log.Info("Starting REST server controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		if c.restConfig.Cert != "" && c.restConfig.Key != "" {
			if err := c.Server.ListenAndServeTLS(c.restConfig.Cert, c.restConfig.Key); err != http.ErrServerClosed {
				log.Errorf("REST server error: %v", err)
			}
		} else {
			if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
				log.Errorf("REST server error: %v", err)
			}
		}
	}()

	go func() {
		<-c.ctx.Done()
		log.Info("Shutting down the REST server...")
		c.Server.Shutdown(context.Background())
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", c.handlers.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/summary", c.handlers.GetSummary).Methods(http.MethodGet)
	router.HandleFunc("/api/snapshots", c.handlers.GetSnapshots).Methods(http.MethodGet)
	router.HandleFunc("/api/snapshots/years", c.handlers.GetSnapshotYears).Methods(http.MethodGet)
	router.HandleFunc("/api/predict/tree", c.handlers.PredictTree).Methods(http.MethodPost)
	router.HandleFunc("/api/scenarios/planting", c.handlers.ComparePlantingScenarios).Methods(http.MethodPost)

	return router
}

// defaultRule resolves the configured default growth rule, falling back to
// the hybrid rule when the residual model is available and the baseline
// otherwise
func (c *Controller) defaultRule() sim.RuleType {
	if c.simDefaults.Rule != "" {
		if ruleType, err := sim.ParseRuleType(c.simDefaults.Rule); err == nil {
			return ruleType
		}
		c.logger.Warnf("configured rule %q is invalid; using fallback", c.simDefaults.Rule)
	}
	if c.bundle.HasResidualModel() {
		return sim.RuleHybrid
	}
	return sim.RuleBaseline
}

// defaultRuleParams resolves configured rule tunables over the built-in
// defaults
func (c *Controller) defaultRuleParams() sim.RuleParams {
	params := sim.DefaultRuleParams()
	if c.simDefaults.EpsilonCM > 0 {
		params.EpsilonCM = c.simDefaults.EpsilonCM
	}
	if c.simDefaults.NoiseClipSigmas > 0 {
		params.NoiseClipSigmas = c.simDefaults.NoiseClipSigmas
	}
	if c.simDefaults.Seed != 0 {
		params.Seed = c.simDefaults.Seed
	}
	return params
}

// defaultHorizons resolves the configured snapshot horizons
func (c *Controller) defaultHorizons() []int {
	if len(c.simDefaults.Horizons) > 0 {
		return c.simDefaults.Horizons
	}
	return []int{1, 5, 10, 20}
}
