package database

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/canopycarbon/forestsim/internal/growth"
	"github.com/canopycarbon/forestsim/internal/log"
	"github.com/canopycarbon/forestsim/internal/sim"
)

// Client holds the connection to the forest inventory database
type Client struct {
	connectionString string
	DB               *gorm.DB // Exported so it can be accessed from other packages
	logger           *zap.SugaredLogger

	migrateOnce sync.Once
	migrateErr  error
	migrate     func() error // overridable in tests
}

// NewClient creates a new database client
func NewClient(connectionString string, logger *zap.SugaredLogger) *Client {
	return &Client{
		connectionString: connectionString,
		logger:           logger,
	}
}

// Connect connects to the inventory database
func (c *Client) Connect() error {
	var err error
	c.DB, err = CreateConnection(c.connectionString)
	return err
}

// CreateConnection is a helper function to create a database connection with
// standard GORM configuration
func CreateConnection(connectionString string) (*gorm.DB, error) {
	// Create a logger for gorm
	dbLogger := logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	log.Info("connecting to inventory database...")
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{Logger: dbLogger})
	if err != nil {
		log.Warn("warning: unable to create an inventory database connection:", err)
		return nil, err
	}
	log.Info("inventory database connection successful")

	return db, nil
}

// ensureSchema runs Migrate once per client before the first write. The save
// paths own the tables, so a fresh database gets its schema on first use.
func (c *Client) ensureSchema() error {
	c.migrateOnce.Do(func() {
		fn := c.migrate
		if fn == nil {
			fn = c.Migrate
		}
		c.migrateErr = fn()
	})
	return c.migrateErr
}

// Migrate creates or updates the forest tables
func (c *Client) Migrate() error {
	return c.DB.AutoMigrate(
		&MeasurementRecord{},
		&PopulationTreeRecord{},
		&CurveBinRecord{},
		&SimulationRunRecord{},
		&SnapshotSummaryRecord{},
	)
}

// FetchMeasurements retrieves all historical measurements ordered by tree and
// year, converted to the model-building form. Null diameters become NaN.
func (c *Client) FetchMeasurements(ctx context.Context) ([]growth.Measurement, error) {
	var records []MeasurementRecord
	if err := c.DB.WithContext(ctx).Order("tree_id, year").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("error querying tree measurements: %w", err)
	}

	measurements := make([]growth.Measurement, 0, len(records))
	for _, rec := range records {
		plot, err := growth.ParsePlotGroup(rec.Plot)
		if err != nil {
			c.logger.Warnf("measurement %d for tree %s: %v; skipping", rec.ID, rec.TreeID, err)
			continue
		}
		dbh := math.NaN()
		if rec.DiameterCM != nil {
			dbh = *rec.DiameterCM
		}
		measurements = append(measurements, growth.Measurement{
			TreeID:     rec.TreeID,
			Species:    rec.Species,
			Plot:       plot,
			Year:       rec.Year,
			DiameterCM: dbh,
		})
	}
	return measurements, nil
}

// FetchPopulation retrieves the current base population for simulation. Null
// diameters become NaN and are excluded downstream by the engine.
func (c *Client) FetchPopulation(ctx context.Context) ([]sim.Tree, error) {
	var records []PopulationTreeRecord
	if err := c.DB.WithContext(ctx).Order("tree_id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("error querying population trees: %w", err)
	}

	trees := make([]sim.Tree, 0, len(records))
	for _, rec := range records {
		plot, err := growth.ParsePlotGroup(rec.Plot)
		if err != nil {
			c.logger.Warnf("population tree %s: %v; skipping", rec.TreeID, err)
			continue
		}
		dbh := math.NaN()
		if rec.DiameterCM != nil {
			dbh = *rec.DiameterCM
		}
		trees = append(trees, sim.Tree{
			ID:         rec.TreeID,
			Species:    rec.Species,
			Plot:       plot,
			DiameterCM: dbh,
		})
	}
	return trees, nil
}

// SaveCurveRows replaces the persisted baseline curve bins with the rows from
// a new fitting run
func (c *Client) SaveCurveRows(ctx context.Context, rows []growth.CurveBinRow, fittedAt time.Time) error {
	if err := c.ensureSchema(); err != nil {
		return fmt.Errorf("error migrating forest tables: %w", err)
	}

	records := make([]CurveBinRecord, len(rows))
	for i, row := range rows {
		records[i] = CurveBinRecord{
			GroupKey:      row.GroupKey,
			BinCenterCM:   row.BinCenterCM,
			DeltaEstimate: row.DeltaEstimate,
			FallbackLevel: string(row.FallbackLevel),
			SampleCount:   row.SampleCount,
			FittedAt:      fittedAt,
		}
	}

	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&CurveBinRecord{}).Error; err != nil {
			return fmt.Errorf("error clearing baseline curve bins: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("error saving baseline curve bins: %w", err)
		}
		return nil
	})
}

// SaveRun persists a simulation run summary and its per-horizon snapshot
// aggregates
func (c *Client) SaveRun(ctx context.Context, run *sim.RunResult, snapshots map[int]*sim.Snapshot) error {
	if err := c.ensureSchema(); err != nil {
		return fmt.Errorf("error migrating forest tables: %w", err)
	}

	record := SimulationRunRecord{
		RunID:     run.RunID,
		Rule:      string(run.Rule),
		Years:     run.Years,
		TreeCount: len(run.Final),
		CreatedAt: time.Now().UTC(),
	}
	if run.Plateaus != nil {
		record.FractionPlateaued = run.Plateaus.FractionPlateaued
	}

	summaries := make([]SnapshotSummaryRecord, 0, len(snapshots))
	for _, snap := range snapshots {
		summaries = append(summaries, SnapshotSummaryRecord{
			RunID:          run.RunID,
			YearsAhead:     snap.YearsAhead,
			TreeCount:      snap.TreeCount,
			MeanDiameterCM: snap.MeanDiameterCM,
			TotalCarbonKG:  snap.TotalCarbonKG,
		})
	}

	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("error saving simulation run: %w", err)
		}
		if len(summaries) == 0 {
			return nil
		}
		if err := tx.Create(&summaries).Error; err != nil {
			return fmt.Errorf("error saving snapshot summaries: %w", err)
		}
		return nil
	})
}
