package parcel

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/landbase/parcel-cli/internal/db"
)

// pipelineTables lists all tables maintenance commands operate on, across
// both managed schemas.
var pipelineTables = []string{
	"raw.footprints",
	"raw.road_network",
	"raw.landuse_osm",
	"raw.landuse_county",
	"raw.load_status",
	"parcel.buildings",
	"parcel.road_blocks",
	"parcel.inferred_parcels",
	"parcel.cost_indices",
	"parcel.cost_rates",
	"parcel.comparables",
}

// VacuumAnalyze runs VACUUM ANALYZE on all pipeline tables to update planner
// statistics and reclaim dead tuple space. Derivation churns
// parcel.inferred_parcels heavily, so this matters after large runs.
func VacuumAnalyze(ctx context.Context, pool db.Pool) error {
	for _, table := range pipelineTables {
		sql := fmt.Sprintf("VACUUM ANALYZE %s", table)
		zap.L().Info("parcel: vacuum analyze", zap.String("table", table))
		if _, err := pool.Exec(ctx, sql); err != nil {
			return eris.Wrapf(err, "parcel: vacuum analyze %s", table)
		}
	}
	return nil
}

// ClusterSpatialIndexes runs CLUSTER on spatial tables to physically reorder
// rows by their GIST index, improving spatial query performance.
func ClusterSpatialIndexes(ctx context.Context, pool db.Pool) error {
	spatialIndexes := map[string]string{
		"raw.footprints":          "idx_raw_footprints_geom",
		"raw.road_network":        "idx_raw_road_network_geom",
		"raw.landuse_osm":         "idx_raw_landuse_osm_geom",
		"raw.landuse_county":      "idx_raw_landuse_county_geom",
		"parcel.buildings":        "idx_parcel_buildings_geom",
		"parcel.road_blocks":      "idx_parcel_road_blocks_geom",
		"parcel.inferred_parcels": "idx_parcel_inferred_parcels_geom",
		"parcel.comparables":      "idx_parcel_comparables_geom",
	}
	for table, index := range spatialIndexes {
		sql := fmt.Sprintf("CLUSTER %s USING %s", table, index)
		zap.L().Info("parcel: cluster", zap.String("table", table), zap.String("index", index))
		if _, err := pool.Exec(ctx, sql); err != nil {
			return eris.Wrapf(err, "parcel: cluster %s using %s", table, index)
		}
	}
	return nil
}

// GetTableStats returns size and row count statistics for all tables in the
// managed schemas.
func GetTableStats(ctx context.Context, pool db.Pool) ([]TableStats, error) {
	sql := `
		SELECT
			schemaname || '.' || relname AS table_name,
			n_live_tup AS row_count,
			pg_size_pretty(pg_total_relation_size(schemaname || '.' || relname)) AS total_size,
			pg_size_pretty(pg_indexes_size(schemaname || '.' || relname)) AS index_size,
			EXISTS (
				SELECT 1 FROM pg_indexes
				WHERE schemaname = s.schemaname AND tablename = s.relname
				AND indexdef LIKE '%USING gist%'
			) AS has_spatial
		FROM pg_stat_user_tables s
		WHERE schemaname IN ('raw', 'parcel')
		ORDER BY pg_total_relation_size(schemaname || '.' || relname) DESC
	`
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "parcel: query table stats")
	}
	defer rows.Close()

	var stats []TableStats
	for rows.Next() {
		var s TableStats
		if err := rows.Scan(&s.TableName, &s.RowCount, &s.TotalSize, &s.IndexSize, &s.HasSpatial); err != nil {
			return nil, eris.Wrap(err, "parcel: scan table stats row")
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "parcel: iterate table stats rows")
	}
	return stats, nil
}

// ReindexSpatial rebuilds all indexes in the managed schemas.
func ReindexSpatial(ctx context.Context, pool db.Pool) error {
	for _, schema := range []string{"raw", "parcel"} {
		zap.L().Info("parcel: reindexing schema", zap.String("schema", schema))
		if _, err := pool.Exec(ctx, "REINDEX SCHEMA "+schema); err != nil {
			return eris.Wrapf(err, "parcel: reindex schema %s", schema)
		}
	}
	return nil
}
