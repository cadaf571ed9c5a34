package parcel

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertBuilding(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	observed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b := &Building{
		Source:     "osm",
		SourceID:   "way/4521",
		Region:     "hennepin",
		Footprint:  []byte{0x01, 0x06},
		AreaM2:     240.5,
		ObservedAt: observed,
	}

	mock.ExpectExec("INSERT INTO parcel.buildings").
		WithArgs("osm", "way/4521", "hennepin", []byte{0x01, 0x06}, 240.5, observed).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPostgresStore(mock)
	require.NoError(t, store.UpsertBuilding(context.Background(), b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBuilding(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "source", "source_id", "region", "footprint",
		"area_m2", "observed_at", "created_at", "updated_at",
	}).AddRow(int64(9), "osm", "way/4521", "hennepin", []byte{0x01},
		240.5, now, now, now)

	mock.ExpectQuery("FROM parcel.buildings").
		WithArgs("osm", "way/4521").
		WillReturnRows(rows)

	store := NewPostgresStore(mock)
	got, err := store.GetBuilding(context.Background(), "osm", "way/4521")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ID)
	assert.Equal(t, "hennepin", got.Region)
	assert.Equal(t, 240.5, got.AreaM2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBuilding_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM parcel.buildings").
		WithArgs("osm", "way/0").
		WillReturnError(pgx.ErrNoRows)

	store := NewPostgresStore(mock)
	_, err = store.GetBuilding(context.Background(), "osm", "way/0")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertBuildings(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"source", "source_id", "region", "footprint", "area_m2", "observed_at"}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_parcel_buildings"}, cols).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO \"parcel\".\"buildings\"").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	store := NewPostgresStore(mock)
	n, err := store.BulkUpsertBuildings(context.Background(), []Building{
		{Source: "osm", SourceID: "way/1", Footprint: []byte{1}, AreaM2: 80},
		{Source: "osm", SourceID: "way/2", Footprint: []byte{2}, AreaM2: 95},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertRoadBlocks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"block_id", "geom"}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_parcel_road_blocks"}, cols).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO \"parcel\".\"road_blocks\"").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	store := NewPostgresStore(mock)
	n, err := store.BulkUpsertRoadBlocks(context.Background(), []RoadBlock{
		{BlockID: "blk-001", Geom: []byte{3}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListParcelsByBuilding(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	blockID := int64(3)
	rows := pgxmock.NewRows([]string{
		"id", "building_id", "part_index", "geom",
		"area_m2", "perimeter_m", "footprint_area_m2", "method", "road_block_id", "created_at",
	}).
		AddRow("p-1", int64(7), 0, []byte{1}, 900.0, 120.0, 100.0, MethodRoadBlockVoronoiV1, &blockID, now).
		AddRow("p-2", int64(7), 1, []byte{2}, 450.0, 90.0, 60.0, MethodRoadBlockVoronoiV1, (*int64)(nil), now)

	mock.ExpectQuery("FROM parcel.inferred_parcels").
		WithArgs(int64(7)).
		WillReturnRows(rows)

	store := NewPostgresStore(mock)
	got, err := store.ListParcelsByBuilding(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 0, got[0].PartIndex)
	assert.Equal(t, MethodRoadBlockVoronoiV1, got[0].Method)
	require.NotNil(t, got[0].RoadBlockID)
	assert.Equal(t, int64(3), *got[0].RoadBlockID)

	assert.Equal(t, 1, got[1].PartIndex)
	assert.Nil(t, got[1].RoadBlockID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListParcelsByBlock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	blockID := int64(5)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(12))

	rows := pgxmock.NewRows([]string{
		"id", "building_id", "part_index", "geom",
		"area_m2", "perimeter_m", "footprint_area_m2", "method", "road_block_id", "created_at",
	}).AddRow("p-9", int64(2), 0, []byte{9}, 300.0, 70.0, 50.0, MethodRoadBlockVoronoiV1, &blockID, now)

	mock.ExpectQuery("FROM parcel.inferred_parcels").
		WithArgs(int64(5), 10, 0).
		WillReturnRows(rows)

	store := NewPostgresStore(mock)
	got, total, err := store.ListParcelsByBlock(context.Background(), 5, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, got, 1)
	assert.Equal(t, "p-9", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
