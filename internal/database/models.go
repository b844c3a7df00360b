package database

import (
	"time"
)

// MeasurementRecord is one historical diameter measurement of a tree.
// DiameterCM is nullable: field crews record the visit even when the caliper
// reading is unusable.
type MeasurementRecord struct {
	ID         int64    `gorm:"primaryKey;autoIncrement;column:id"`
	TreeID     string   `gorm:"column:tree_id;not null;index:idx_measurements_tree"`
	Species    string   `gorm:"column:species;not null"`
	Plot       string   `gorm:"column:plot;not null"`
	Year       float64  `gorm:"column:year;not null"`
	DiameterCM *float64 `gorm:"column:diameter_cm"`
}

// TableName specifies the table name for MeasurementRecord
func (MeasurementRecord) TableName() string {
	return "tree_measurements"
}

// PopulationTreeRecord is one tree in the current simulation base population
type PopulationTreeRecord struct {
	TreeID     string   `gorm:"primaryKey;column:tree_id"`
	Species    string   `gorm:"column:species;not null"`
	Plot       string   `gorm:"column:plot;not null"`
	DiameterCM *float64 `gorm:"column:diameter_cm"`
}

// TableName specifies the table name for PopulationTreeRecord
func (PopulationTreeRecord) TableName() string {
	return "population_trees"
}

// CurveBinRecord is one persisted baseline curve bin from a fitting run
type CurveBinRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id"`
	GroupKey      string    `gorm:"column:group_key;not null;index:idx_curve_bins_group"`
	BinCenterCM   float64   `gorm:"column:bin_center_cm;not null"`
	DeltaEstimate float64   `gorm:"column:delta_estimate;not null"`
	FallbackLevel string    `gorm:"column:fallback_level;not null"`
	SampleCount   int       `gorm:"column:sample_count;not null"`
	FittedAt      time.Time `gorm:"column:fitted_at;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for CurveBinRecord
func (CurveBinRecord) TableName() string {
	return "baseline_curve_bins"
}

// SimulationRunRecord summarizes one completed simulation run
type SimulationRunRecord struct {
	RunID             string    `gorm:"primaryKey;column:run_id"`
	Rule              string    `gorm:"column:rule;not null"`
	Years             int       `gorm:"column:years;not null"`
	TreeCount         int       `gorm:"column:tree_count;not null"`
	FractionPlateaued float64   `gorm:"column:fraction_plateaued"`
	CreatedAt         time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for SimulationRunRecord
func (SimulationRunRecord) TableName() string {
	return "simulation_runs"
}

// SnapshotSummaryRecord is the per-horizon aggregate of a projection run
type SnapshotSummaryRecord struct {
	ID             int64   `gorm:"primaryKey;autoIncrement;column:id"`
	RunID          string  `gorm:"column:run_id;not null;index:idx_snapshots_run"`
	YearsAhead     int     `gorm:"column:years_ahead;not null"`
	TreeCount      int     `gorm:"column:tree_count;not null"`
	MeanDiameterCM float64 `gorm:"column:mean_diameter_cm"`
	TotalCarbonKG  float64 `gorm:"column:total_carbon_kg"`
}

// TableName specifies the table name for SnapshotSummaryRecord
func (SnapshotSummaryRecord) TableName() string {
	return "snapshot_summaries"
}
