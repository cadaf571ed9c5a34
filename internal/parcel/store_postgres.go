package parcel

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/landbase/parcel-cli/internal/db"
)

// PostgresStore implements Store using a Postgres connection pool with PostGIS.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// UpsertBuilding implements Store.
func (s *PostgresStore) UpsertBuilding(ctx context.Context, b *Building) error {
	sql := `
		INSERT INTO parcel.buildings (source, source_id, region, footprint, area_m2, observed_at)
		VALUES ($1, $2, $3, ST_GeomFromEWKB($4), $5, $6)
		ON CONFLICT (source, source_id) DO UPDATE SET
			region = EXCLUDED.region,
			footprint = EXCLUDED.footprint,
			area_m2 = EXCLUDED.area_m2,
			observed_at = EXCLUDED.observed_at,
			updated_at = now()
	`
	_, err := s.pool.Exec(ctx, sql,
		b.Source, b.SourceID, b.Region, b.Footprint, b.AreaM2, b.ObservedAt,
	)
	return eris.Wrap(err, "parcel: upsert building")
}

// GetBuilding implements Store.
func (s *PostgresStore) GetBuilding(ctx context.Context, source, sourceID string) (*Building, error) {
	sql := `
		SELECT id, source, source_id, COALESCE(region, ''), ST_AsEWKB(footprint),
		       area_m2, observed_at, created_at, updated_at
		FROM parcel.buildings WHERE source = $1 AND source_id = $2
	`
	var b Building
	err := s.pool.QueryRow(ctx, sql, source, sourceID).Scan(
		&b.ID, &b.Source, &b.SourceID, &b.Region, &b.Footprint,
		&b.AreaM2, &b.ObservedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "parcel: get building")
	}
	return &b, nil
}

// BulkUpsertBuildings implements Store.
func (s *PostgresStore) BulkUpsertBuildings(ctx context.Context, buildings []Building) (int64, error) {
	rows := make([][]any, len(buildings))
	for i, b := range buildings {
		rows[i] = []any{
			b.Source, b.SourceID, b.Region, b.Footprint, b.AreaM2, b.ObservedAt,
		}
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "parcel.buildings",
		Columns:      []string{"source", "source_id", "region", "footprint", "area_m2", "observed_at"},
		ConflictKeys: []string{"source", "source_id"},
	}, rows)
}

// BulkUpsertRoadBlocks implements Store.
func (s *PostgresStore) BulkUpsertRoadBlocks(ctx context.Context, blocks []RoadBlock) (int64, error) {
	rows := make([][]any, len(blocks))
	for i, rb := range blocks {
		rows[i] = []any{rb.BlockID, rb.Geom}
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "parcel.road_blocks",
		Columns:      []string{"block_id", "geom"},
		ConflictKeys: []string{"block_id"},
	}, rows)
}

// ListParcelsByBuilding implements Store.
func (s *PostgresStore) ListParcelsByBuilding(ctx context.Context, buildingID int64) ([]InferredParcel, error) {
	sql := `
		SELECT id, building_id, part_index, ST_AsEWKB(geom),
		       area_m2, perimeter_m, footprint_area_m2, method, road_block_id, created_at
		FROM parcel.inferred_parcels
		WHERE building_id = $1 ORDER BY part_index
	`
	rows, err := s.pool.Query(ctx, sql, buildingID)
	if err != nil {
		return nil, eris.Wrap(err, "parcel: list parcels by building")
	}
	defer rows.Close()

	var parcels []InferredParcel
	for rows.Next() {
		var p InferredParcel
		if err := rows.Scan(
			&p.ID, &p.BuildingID, &p.PartIndex, &p.Geom,
			&p.AreaM2, &p.PerimeterM, &p.FootprintAreaM2, &p.Method, &p.RoadBlockID, &p.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "parcel: scan parcel row")
		}
		parcels = append(parcels, p)
	}
	return parcels, rows.Err()
}

// ListParcelsByBlock implements Store.
func (s *PostgresStore) ListParcelsByBlock(ctx context.Context, roadBlockID int64, limit, offset int) ([]InferredParcel, int, error) {
	countSQL := `SELECT COUNT(*) FROM parcel.inferred_parcels WHERE road_block_id = $1`
	var total int
	if err := s.pool.QueryRow(ctx, countSQL, roadBlockID).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "parcel: count parcels by block")
	}

	sql := `
		SELECT id, building_id, part_index, ST_AsEWKB(geom),
		       area_m2, perimeter_m, footprint_area_m2, method, road_block_id, created_at
		FROM parcel.inferred_parcels
		WHERE road_block_id = $1 ORDER BY building_id, part_index LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, sql, roadBlockID, limit, offset)
	if err != nil {
		return nil, 0, eris.Wrap(err, "parcel: list parcels by block")
	}
	defer rows.Close()

	var parcels []InferredParcel
	for rows.Next() {
		var p InferredParcel
		if err := rows.Scan(
			&p.ID, &p.BuildingID, &p.PartIndex, &p.Geom,
			&p.AreaM2, &p.PerimeterM, &p.FootprintAreaM2, &p.Method, &p.RoadBlockID, &p.CreatedAt,
		); err != nil {
			return nil, 0, eris.Wrap(err, "parcel: scan parcel row")
		}
		parcels = append(parcels, p)
	}
	return parcels, total, rows.Err()
}
