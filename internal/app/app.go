package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/canopycarbon/forestsim/internal/controllers/restserver"
	"github.com/canopycarbon/forestsim/internal/growth"
	"github.com/canopycarbon/forestsim/internal/log"
	"github.com/canopycarbon/forestsim/pkg/config"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfgData, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	// The fitted model bundle is required for every projection endpoint;
	// refuse to start without it rather than serving errors
	if cfgData.Model.BundlePath == "" {
		return fmt.Errorf("model.bundle_path is not configured; fit a model with forest-fit first")
	}
	bundle, err := growth.LoadBundle(cfgData.Model.BundlePath)
	if err != nil {
		return fmt.Errorf("error loading model bundle: %w", err)
	}
	log.Infof("loaded model bundle from %s (fitted %s, residual model: %v)",
		cfgData.Model.BundlePath, bundle.FittedAt.Format("2006-01-02"), bundle.HasResidualModel())

	// Start the configured controllers
	started := 0
	for _, controller := range cfgData.Controllers {
		if controller.Type != "rest" || controller.RESTServer == nil {
			a.logger.Warnf("skipping unsupported controller type %q", controller.Type)
			continue
		}
		rest, err := restserver.NewController(ctx, &wg, a.configProvider, *controller.RESTServer, bundle, a.logger)
		if err != nil {
			return fmt.Errorf("error creating REST server controller: %w", err)
		}
		if err := rest.StartController(); err != nil {
			return fmt.Errorf("error starting REST server controller: %w", err)
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no controllers configured; nothing to serve")
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}
