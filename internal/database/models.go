package database

import (
	"time"
)

// Run is one pipeline execution. Every other result row carries its id.
type Run struct {
	ID        string    `gorm:"primaryKey;column:id"`
	StartedAt time.Time `gorm:"column:started_at;not null"`
	Bundle    string    `gorm:"column:bundle"`
	Regions   int       `gorm:"column:regions"`
}

// TableName specifies the table name for Run
func (Run) TableName() string {
	return "runs"
}

// Region is a detected reservoir with its fitted stage-storage model.
// Error is set when fitting failed and the model columns are zero.
type Region struct {
	RunID        string  `gorm:"column:run_id;not null"`
	RegionID     int     `gorm:"column:region_id;not null"`
	MinX         float64 `gorm:"column:min_x"`
	MinY         float64 `gorm:"column:min_y"`
	MaxX         float64 `gorm:"column:max_x"`
	MaxY         float64 `gorm:"column:max_y"`
	A            float64 `gorm:"column:a"`
	B            float64 `gorm:"column:b"`
	AreaOffset   float64 `gorm:"column:area_offset"`
	VolumeOffset float64 `gorm:"column:volume_offset"`
	RMSE         float64 `gorm:"column:rmse"`
	RSquared     float64 `gorm:"column:r_squared"`
	Points       int     `gorm:"column:points"`
	Degenerate   bool    `gorm:"column:degenerate"`
	Error        string  `gorm:"column:error"`
}

// TableName specifies the table name for Region
func (Region) TableName() string {
	return "regions"
}

// StorageChange is one monthly storage change of a region, in m³ and as
// the equivalent mean flow in m³/s.
type StorageChange struct {
	RunID     string  `gorm:"column:run_id;not null"`
	RegionID  int     `gorm:"column:region_id;not null"`
	Year      int     `gorm:"column:year"`
	Month     int     `gorm:"column:month"`
	Volume    float64 `gorm:"column:volume"`
	Discharge float64 `gorm:"column:discharge"`
}

// TableName specifies the table name for StorageChange
func (StorageChange) TableName() string {
	return "storage_changes"
}

// Outcome records how one reservoir was spliced into the network.
type Outcome struct {
	RunID       string  `gorm:"column:run_id;not null"`
	RegionID    int     `gorm:"column:region_id;not null"`
	OutletPixel int64   `gorm:"column:outlet_pixel"`
	Upstream    int     `gorm:"column:upstream_segment"`
	Downstream  int     `gorm:"column:downstream_segment"`
	Split       bool    `gorm:"column:split"`
	Requested   float64 `gorm:"column:requested"`
	Applied     float64 `gorm:"column:applied"`
	Rescaled    bool    `gorm:"column:rescaled"`
	Skipped     bool    `gorm:"column:skipped"`
	Reason      string  `gorm:"column:reason"`
}

// TableName specifies the table name for Outcome
func (Outcome) TableName() string {
	return "splice_outcomes"
}

// HydrographPoint is the discharge leaving the basin in one month.
type HydrographPoint struct {
	RunID     string    `gorm:"column:run_id;not null"`
	SegmentID int       `gorm:"column:segment_id"`
	Time      time.Time `gorm:"column:time;not null"`
	Discharge float64   `gorm:"column:discharge"`
}

// TableName specifies the table name for HydrographPoint
func (HydrographPoint) TableName() string {
	return "outlet_hydrograph"
}

// Observation is one water-extent reading written by the query service.
type Observation struct {
	RegionID int     `gorm:"column:region_id;not null"`
	Year     int     `gorm:"column:year"`
	Month    int     `gorm:"column:month"`
	Pixels   float64 `gorm:"column:pixels"`
}

// TableName specifies the table name for Observation
func (Observation) TableName() string {
	return "observations"
}
