package parcel

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/landbase/parcel-cli/internal/db"
)

// DeriveOptions configures a derivation run.
type DeriveOptions struct {
	// MeasurementSRID is the projected CRS all partitioning and measurement
	// happens in. Geographic degrees are not uniform; measuring in them
	// would corrupt both the Voronoi partition and the output areas.
	MeasurementSRID int

	// SeedSpacingM is the segmentize step (meters) for placing Voronoi seed
	// points along footprint boundaries.
	SeedSpacingM float64

	BatchSize   int // buildings per transaction
	Concurrency int // parallel batches (disjoint building sets)
}

func (o *DeriveOptions) defaults() {
	if o.MeasurementSRID == 0 {
		o.MeasurementSRID = 5070
	}
	if o.SeedSpacingM <= 0 {
		o.SeedSpacingM = 5.0
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// deriveSQL computes one parcel polygon per building footprint part:
// footprints are dumped into parts with a deterministic centroid-ordered
// part index, located in their enclosing road block, seeded along their
// projected boundaries, partitioned by a per-block Voronoi diagram, and the
// winning cells are unioned per part and clipped to the block.
//
// $1 building ids, $2 measurement SRID, $3 seed spacing (m), $4 method tag.
const deriveSQL = `
WITH parts AS (
    SELECT b.id AS building_id,
           (ROW_NUMBER() OVER (
               PARTITION BY b.id
               ORDER BY ST_X(ST_Centroid(d.geom)), ST_Y(ST_Centroid(d.geom)), d.path[1]
           ) - 1)::int AS part_index,
           d.geom AS part_geom,
           ST_Transform(d.geom, $2) AS part_proj
    FROM parcel.buildings b
    CROSS JOIN LATERAL ST_Dump(b.footprint) AS d
    WHERE b.id = ANY($1)
      AND ST_IsValid(d.geom)
),
located AS (
    SELECT p.building_id, p.part_index, p.part_proj,
           ST_Area(p.part_proj) AS part_area_m2,
           rb.id AS road_block_id,
           ST_Transform(rb.geom, $2) AS block_proj
    FROM parts p
    JOIN parcel.road_blocks rb ON ST_Contains(rb.geom, p.part_geom)
),
seeds AS (
    SELECT l.road_block_id, l.building_id, l.part_index,
           (ST_DumpPoints(ST_Segmentize(ST_Boundary(l.part_proj), $3))).geom AS seed
    FROM located l
),
cells AS (
    SELECT s.road_block_id,
           (ST_Dump(ST_VoronoiPolygons(ST_Collect(s.seed)))).geom AS cell
    FROM seeds s
    GROUP BY s.road_block_id
),
assigned AS (
    SELECT road_block_id, building_id, part_index, cell
    FROM (
        SELECT c.road_block_id, s.building_id, s.part_index, c.cell,
               ROW_NUMBER() OVER (
                   PARTITION BY c.road_block_id, c.cell
                   ORDER BY ST_Distance(c.cell, s.seed), s.building_id, s.part_index
               ) AS rn
        FROM cells c
        JOIN seeds s ON s.road_block_id = c.road_block_id
                    AND ST_DWithin(c.cell, s.seed, 0)
    ) ranked
    WHERE rn = 1
),
regions AS (
    SELECT a.building_id, a.part_index, a.road_block_id,
           l.part_area_m2,
           ST_CollectionExtract(ST_MakeValid(ST_Intersection(
               ST_Union(a.cell), l.block_proj
           )), 3) AS region_proj
    FROM assigned a
    JOIN located l ON l.building_id = a.building_id
                  AND l.part_index = a.part_index
                  AND l.road_block_id = a.road_block_id
    GROUP BY a.building_id, a.part_index, a.road_block_id, l.part_area_m2, l.block_proj
),
finals AS (
    SELECT building_id, part_index, road_block_id, part_area_m2, poly_proj
    FROM (
        SELECT r.building_id, r.part_index, r.road_block_id, r.part_area_m2,
               (ST_Dump(r.region_proj)).geom AS poly_proj,
               ROW_NUMBER() OVER (
                   PARTITION BY r.building_id, r.part_index
                   ORDER BY ST_Area((ST_Dump(r.region_proj)).geom) DESC
               ) AS rn
        FROM regions r
    ) pieces
    WHERE rn = 1
)
INSERT INTO parcel.inferred_parcels
    (id, building_id, part_index, geom, area_m2, perimeter_m, footprint_area_m2, method, road_block_id)
SELECT
    gen_random_uuid()::text,
    f.building_id,
    f.part_index,
    ST_Transform(f.poly_proj, 4326),
    ST_Area(f.poly_proj),
    ST_Perimeter(f.poly_proj),
    f.part_area_m2,
    $4,
    f.road_block_id
FROM finals f
WHERE ST_Area(f.poly_proj) > 0
`

// DeriveBatch derives parcels for the given buildings and replaces their
// prior rows in one transaction. A failure leaves the previous parcels
// untouched. Returns the number of parcels written.
//
// Re-running with unchanged inputs reproduces the same part indices and
// geometrically identical polygons: every stage of the derivation query is
// deterministic.
func DeriveBatch(ctx context.Context, pool db.Pool, ids []int64, opts DeriveOptions) (int64, error) {
	opts.defaults()

	if len(ids) == 0 {
		return 0, nil
	}

	log := zap.L().With(
		zap.String("component", "parcel.derive"),
		zap.Int("buildings", len(ids)),
	)

	// Invalid parts are skipped, not fatal: log which ones drop out.
	if err := logInvalidParts(ctx, pool, ids); err != nil {
		return 0, err
	}

	unblocked, err := countUnblockedParts(ctx, pool, ids)
	if err != nil {
		return 0, err
	}
	if unblocked > 0 {
		log.Info("footprint parts outside any road block yield no parcels",
			zap.Int64("parts", unblocked))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "parcel: derive: begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"DELETE FROM parcel.inferred_parcels WHERE building_id = ANY($1)", ids,
	); err != nil {
		return 0, eris.Wrap(err, "parcel: derive: delete prior parcels")
	}

	tag, err := tx.Exec(ctx, deriveSQL,
		ids, opts.MeasurementSRID, opts.SeedSpacingM, MethodRoadBlockVoronoiV1)
	if err != nil {
		return 0, eris.Wrap(err, "parcel: derive: insert parcels")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "parcel: derive: commit tx")
	}

	inserted := tag.RowsAffected()
	log.Info("parcels derived", zap.Int64("parcels", inserted))
	return inserted, nil
}

// DeriveAll derives parcels for every building (optionally one source),
// splitting the set into disjoint batches that run in parallel. Batches are
// independent transactions, so a failed batch leaves its buildings on their
// prior parcels while other batches proceed.
func DeriveAll(ctx context.Context, pool db.Pool, source string, opts DeriveOptions) (int64, error) {
	opts.defaults()

	ids, err := listBuildingIDs(ctx, pool, source)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var total atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for start := 0; start < len(ids); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(ids))
		batch := ids[start:end]
		g.Go(func() error {
			n, err := DeriveBatch(gCtx, pool, batch, opts)
			if err != nil {
				return err
			}
			total.Add(n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total.Load(), err
	}
	return total.Load(), nil
}

// logInvalidParts logs every footprint part in the batch that fails
// validity. Derivation excludes only the bad part; the building's
// remaining parts still derive.
func logInvalidParts(ctx context.Context, pool db.Pool, ids []int64) error {
	rows, err := pool.Query(ctx, `
		SELECT b.id, b.source, b.source_id, d.path[1], ST_IsValidReason(d.geom)
		FROM parcel.buildings b
		CROSS JOIN LATERAL ST_Dump(b.footprint) AS d
		WHERE b.id = ANY($1) AND NOT ST_IsValid(d.geom)`,
		ids,
	)
	if err != nil {
		return eris.Wrap(err, "parcel: derive: query invalid parts")
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var part int32
		var source, sourceID, reason string
		if err := rows.Scan(&id, &source, &sourceID, &part, &reason); err != nil {
			return eris.Wrap(err, "parcel: derive: scan invalid part row")
		}
		zap.L().Warn("skipping invalid footprint part",
			zap.Int64("building_id", id),
			zap.String("source", source),
			zap.String("source_id", sourceID),
			zap.Int32("part", part),
			zap.String("reason", reason),
			zap.Error(ErrInvalidGeometry),
		)
	}
	return eris.Wrap(rows.Err(), "parcel: derive: iterate invalid parts")
}

// countUnblockedParts counts footprint parts with no enclosing road block.
func countUnblockedParts(ctx context.Context, pool db.Pool, ids []int64) (int64, error) {
	var n int64
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM parcel.buildings b
		CROSS JOIN LATERAL ST_Dump(b.footprint) AS d
		WHERE b.id = ANY($1)
		  AND ST_IsValid(d.geom)
		  AND NOT EXISTS (
			SELECT 1 FROM parcel.road_blocks rb WHERE ST_Contains(rb.geom, d.geom)
		  )`,
		ids,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "parcel: derive: count unblocked parts")
	}
	return n, nil
}

// listBuildingIDs returns all building ids, optionally filtered by source,
// in a stable order so batch boundaries are reproducible.
func listBuildingIDs(ctx context.Context, pool db.Pool, source string) ([]int64, error) {
	sql := "SELECT id FROM parcel.buildings ORDER BY id"
	args := []any{}
	if source != "" {
		sql = "SELECT id FROM parcel.buildings WHERE source = $1 ORDER BY id"
		args = append(args, source)
	}

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "parcel: derive: list buildings")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "parcel: derive: scan building id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
