package parcel

import "context"

// Store defines persistence operations for pipeline entities in the
// parcel.* schema.
type Store interface {
	// UpsertBuilding inserts or updates a building by (source, source_id).
	UpsertBuilding(ctx context.Context, b *Building) error

	// GetBuilding retrieves a building by (source, source_id).
	GetBuilding(ctx context.Context, source, sourceID string) (*Building, error)

	// BulkUpsertBuildings upserts multiple buildings in a single transaction.
	BulkUpsertBuildings(ctx context.Context, buildings []Building) (int64, error)

	// BulkUpsertRoadBlocks upserts multiple road blocks by block_id.
	BulkUpsertRoadBlocks(ctx context.Context, blocks []RoadBlock) (int64, error)

	// ListParcelsByBuilding returns a building's current parcels ordered by
	// part index.
	ListParcelsByBuilding(ctx context.Context, buildingID int64) ([]InferredParcel, error)

	// ListParcelsByBlock returns parcels inside a road block with pagination.
	// Returns items, total count, and error.
	ListParcelsByBlock(ctx context.Context, roadBlockID int64, limit, offset int) ([]InferredParcel, int, error)
}

// Store is implemented by PostgresStore; pgxmock stands in for the pool
// in tests.
var _ Store = (*PostgresStore)(nil)
