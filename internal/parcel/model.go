// Package parcel maintains the derived land-parcel dataset: schema ledger,
// standardization views, the parcel derivation engine, and materialized
// snapshot refresh.
package parcel

import (
	"time"
)

// MethodRoadBlockVoronoiV1 tags parcels derived by nearest-footprint Voronoi
// partitioning clipped to road blocks.
const MethodRoadBlockVoronoiV1 = "road_block_voronoi_v1"

// Building is a source building footprint. At most one live row exists per
// (Source, SourceID); re-ingestion upserts on that key.
type Building struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	SourceID   string    `json:"source_id"`
	Region     string    `json:"region,omitempty"`
	Footprint  []byte    `json:"-"` // EWKB MultiPolygon, SRID 4326
	AreaM2     float64   `json:"area_m2"`
	ObservedAt time.Time `json:"observed_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoadBlock is a closed polygon bounded by road segments. Blocks are a
// partitioning input only; the pipeline never mutates them.
type RoadBlock struct {
	ID        int64     `json:"id"`
	BlockID   string    `json:"block_id"`
	Geom      []byte    `json:"-"` // EWKB Polygon, SRID 4326
	CreatedAt time.Time `json:"created_at"`
}

// InferredParcel is one derived parcel polygon. Rows are superseded, never
// mutated: re-derivation for a building replaces its rows atomically.
// (BuildingID, PartIndex) is unique.
type InferredParcel struct {
	ID              string    `json:"id"`
	BuildingID      int64     `json:"building_id"`
	PartIndex       int       `json:"part_index"`
	Geom            []byte    `json:"-"` // EWKB Polygon, SRID 4326
	AreaM2          float64   `json:"area_m2"`
	PerimeterM      float64   `json:"perimeter_m"`
	FootprintAreaM2 float64   `json:"footprint_area_m2"`
	Method          string    `json:"method"`
	RoadBlockID     *int64    `json:"road_block_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Standardized is one row of a proxy/standardization view: a fixed schema
// regardless of the source's native coordinate system, with measurements in
// meters computed in the configured projection.
type Standardized struct {
	ID           int64   `json:"id"`
	LanduseLabel string  `json:"landuse_label"`
	LanduseCode  string  `json:"landuse_code,omitempty"`
	Geometry     []byte  `json:"-"` // EWKB, SRID 4326
	AreaM2       float64 `json:"area_m2"`
	PerimeterM   float64 `json:"perimeter_m"`
}

// TableStats holds size and row count information for a pipeline table.
type TableStats struct {
	TableName  string `json:"table_name"`
	RowCount   int64  `json:"row_count"`
	TotalSize  string `json:"total_size"`
	IndexSize  string `json:"index_size"`
	HasSpatial bool   `json:"has_spatial"`
}
