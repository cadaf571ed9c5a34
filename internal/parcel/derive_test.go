package parcel

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectDeriveBatch adds the full expectation sequence for one successful
// DeriveBatch call over the given buildings.
func expectDeriveBatch(mock pgxmock.PgxPoolIface, ids []int64, opts DeriveOptions, inserted int64) {
	mock.ExpectQuery("SELECT b.id, b.source, b.source_id, d.path").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "source_id", "part", "reason"}))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM parcel.inferred_parcels").
		WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO parcel.inferred_parcels").
		WithArgs(ids, opts.MeasurementSRID, opts.SeedSpacingM, MethodRoadBlockVoronoiV1).
		WillReturnResult(pgxmock.NewResult("INSERT", inserted))
	mock.ExpectCommit()
	mock.ExpectRollback()
}

func TestDeriveBatch_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ids := []int64{1, 2, 3}
	opts := DeriveOptions{MeasurementSRID: 5070, SeedSpacingM: 5.0}
	expectDeriveBatch(mock, ids, opts, 4)

	n, err := DeriveBatch(context.Background(), mock, ids, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveBatch_EmptyInput(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := DeriveBatch(context.Background(), mock, nil, DeriveOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveBatch_InvalidPartsAreSkipped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ids := []int64{1, 2}
	opts := DeriveOptions{MeasurementSRID: 5070, SeedSpacingM: 5.0}

	// Building 2 is a multipolygon whose second part self-intersects: only
	// that part is reported and excluded, and the batch still commits with
	// parcels for building 1 plus building 2's valid first part.
	mock.ExpectQuery("SELECT b.id, b.source, b.source_id, d.path").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "source_id", "part", "reason"}).
			AddRow(int64(2), "osm", "way/123", int32(2), "Self-intersection[0 0]"))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM parcel.inferred_parcels").
		WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO parcel.inferred_parcels").
		WithArgs(ids, opts.MeasurementSRID, opts.SeedSpacingM, MethodRoadBlockVoronoiV1).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := DeriveBatch(context.Background(), mock, ids, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveSQL_FiltersValidityPerPart(t *testing.T) {
	// A bad part must not drag a building's valid parts down with it, so
	// the dump output is filtered, not the whole footprint.
	assert.Contains(t, deriveSQL, "ST_IsValid(d.geom)")
	assert.NotContains(t, deriveSQL, "ST_IsValid(b.footprint)")
}

func TestDeriveBatch_DeleteErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ids := []int64{1}
	opts := DeriveOptions{MeasurementSRID: 5070, SeedSpacingM: 5.0}

	mock.ExpectQuery("SELECT b.id, b.source, b.source_id, d.path").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "source_id", "part", "reason"}))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM parcel.inferred_parcels").
		WithArgs(ids).
		WillReturnError(fmt.Errorf("deadlock detected"))
	mock.ExpectRollback()

	_, err = DeriveBatch(context.Background(), mock, ids, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete prior parcels")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveBatch_InsertErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ids := []int64{1}
	opts := DeriveOptions{MeasurementSRID: 5070, SeedSpacingM: 5.0}

	mock.ExpectQuery("SELECT b.id, b.source, b.source_id, d.path").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "source_id", "part", "reason"}))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM parcel.inferred_parcels").
		WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO parcel.inferred_parcels").
		WithArgs(ids, opts.MeasurementSRID, opts.SeedSpacingM, MethodRoadBlockVoronoiV1).
		WillReturnError(fmt.Errorf("voronoi topology exception"))
	mock.ExpectRollback()

	// The delete never commits: prior parcels for these buildings survive.
	_, err = DeriveBatch(context.Background(), mock, ids, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert parcels")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveAll_BatchesBySize(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	opts := DeriveOptions{MeasurementSRID: 5070, SeedSpacingM: 5.0, BatchSize: 2, Concurrency: 1}

	mock.ExpectQuery("SELECT id FROM parcel.buildings ORDER BY id").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).
			AddRow(int64(10)).AddRow(int64(11)).AddRow(int64(12)))

	expectDeriveBatch(mock, []int64{10, 11}, opts, 2)
	expectDeriveBatch(mock, []int64{12}, opts, 1)

	n, err := DeriveAll(context.Background(), mock, "", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveAll_SourceFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	opts := DeriveOptions{MeasurementSRID: 5070, SeedSpacingM: 5.0, BatchSize: 10, Concurrency: 1}

	mock.ExpectQuery("SELECT id FROM parcel.buildings WHERE source").
		WithArgs("osm").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	expectDeriveBatch(mock, []int64{7}, opts, 1)

	n, err := DeriveAll(context.Background(), mock, "osm", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveAll_NoBuildings(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id FROM parcel.buildings ORDER BY id").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	n, err := DeriveAll(context.Background(), mock, "", DeriveOptions{Concurrency: 1})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveOptions_Defaults(t *testing.T) {
	var opts DeriveOptions
	opts.defaults()
	assert.Equal(t, 5070, opts.MeasurementSRID)
	assert.Equal(t, 5.0, opts.SeedSpacingM)
	assert.Equal(t, 500, opts.BatchSize)
	assert.Equal(t, 4, opts.Concurrency)
}
