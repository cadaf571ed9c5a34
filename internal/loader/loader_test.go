package loader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductByName(t *testing.T) {
	p, ok := ProductByName("footprints")
	require.True(t, ok)
	assert.Equal(t, "raw.footprints", p.Table)
	assert.Equal(t, GeomPolygon, p.Geom)

	p, ok = ProductByName("roads")
	require.True(t, ok)
	assert.Equal(t, "raw.road_network", p.Table)
	assert.Equal(t, GeomLine, p.Geom)

	_, ok = ProductByName("hydrants")
	assert.False(t, ok)
}

func TestOptions_Defaults(t *testing.T) {
	opts := Options{}
	opts.defaults()
	assert.Equal(t, "/tmp/parcel-loader", opts.TempDir)
	assert.Equal(t, 10000, opts.BatchSize)
	assert.Equal(t, 3, opts.Concurrency)

	opts = Options{TempDir: "/data", BatchSize: 500, Concurrency: 8}
	opts.defaults()
	assert.Equal(t, "/data", opts.TempDir)
	assert.Equal(t, 500, opts.BatchSize)
	assert.Equal(t, 8, opts.Concurrency)
}

func TestLoad_UnknownProduct(t *testing.T) {
	_, err := Load(context.Background(), nil, nil, "hydrants", Options{Source: "osm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown product "hydrants"`)
}

func TestLoad_MissingSource(t *testing.T) {
	_, err := Load(context.Background(), nil, nil, "footprints", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source tag is required")
}

func TestLoad_MissingURLAndPath(t *testing.T) {
	_, err := Load(context.Background(), nil, nil, "footprints", Options{Source: "msbf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either url or path is required")
}

func TestLoad_FromPath(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Both shapefile records land in one upsert batch.
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_raw_footprints"}, []string{"source", "source_id", "region", "geom"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "raw"."footprints"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	mock.ExpectExec("INSERT INTO raw.load_status").
		WithArgs("msbf", "footprints", "", "", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	loaded, err := Load(context.Background(), mock, nil, "footprints", Options{
		Source:      "msbf",
		Path:        writeTestShapefile(t),
		Concurrency: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// stubFetcher serves a local shapefile and a fixed ETag.
type stubFetcher struct {
	shpPath   string
	etag      string
	downloads int
}

func (s *stubFetcher) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, errTest
}

func (s *stubFetcher) DownloadToFile(_ context.Context, _ string, path string) (int64, error) {
	s.downloads++
	var total int64
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(strings.TrimSuffix(s.shpPath, ".shp") + ext)
		if err != nil {
			return 0, err
		}
		dest := strings.TrimSuffix(path, filepath.Ext(path)) + ext
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return 0, err
		}
		total += int64(len(data))
	}
	return total, nil
}

func (s *stubFetcher) HeadETag(context.Context, string) (string, error) {
	return s.etag, nil
}

func TestLoad_SkipsUnchangedArchive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COALESCE\\(etag, ''\\) FROM raw.load_status").
		WithArgs("msbf", "footprints").
		WillReturnRows(pgxmock.NewRows([]string{"etag"}).AddRow(`"v42"`))

	fetcher := &stubFetcher{etag: `"v42"`}
	loaded, err := Load(context.Background(), mock, fetcher, "footprints", Options{
		Source: "msbf",
		URL:    "https://example.com/footprints.shp",
	})
	require.NoError(t, err)
	assert.Zero(t, loaded)
	assert.Zero(t, fetcher.downloads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_ChangedETagDownloads(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COALESCE\\(etag, ''\\) FROM raw.load_status").
		WithArgs("msbf", "footprints").
		WillReturnRows(pgxmock.NewRows([]string{"etag"}).AddRow(`"v41"`))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_raw_footprints"}, []string{"source", "source_id", "region", "geom"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "raw"."footprints"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	mock.ExpectExec("INSERT INTO raw.load_status").
		WithArgs("msbf", "footprints", "https://example.com/footprints.shp", `"v42"`, 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	fetcher := &stubFetcher{shpPath: writeTestShapefile(t), etag: `"v42"`}
	loaded, err := Load(context.Background(), mock, fetcher, "footprints", Options{
		Source:      "msbf",
		URL:         "https://example.com/footprints.shp",
		TempDir:     t.TempDir(),
		Concurrency: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded)
	assert.Equal(t, 1, fetcher.downloads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRows_Batches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	product, ok := ProductByName("roads")
	require.True(t, ok)

	rows := [][]any{
		{"osm", "way/1", "residential", []byte{0x01}},
		{"osm", "way/2", "residential", []byte{0x02}},
		{"osm", "way/3", "primary", []byte{0x03}},
	}

	// BatchSize 2 splits three rows into two sequential transactions.
	for _, n := range []int64{2, 1} {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TEMP TABLE").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_raw_road_network"}, product.Columns).
			WillReturnResult(n)
		mock.ExpectExec(`INSERT INTO "raw"."road_network"`).
			WillReturnResult(pgxmock.NewResult("INSERT", n))
		mock.ExpectCommit()
		mock.ExpectRollback()
	}

	total, err := upsertRows(context.Background(), mock, product, rows, Options{BatchSize: 2, Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRows_Empty(t *testing.T) {
	product, ok := ProductByName("roads")
	require.True(t, ok)

	total, err := upsertRows(context.Background(), nil, product, nil, Options{BatchSize: 2, Concurrency: 1})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRecordLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO raw.load_status").
		WithArgs("osm", "roads", "https://example.com/roads.zip", `"v7"`, 1200, 4500).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = recordLoad(context.Background(), mock, "osm", "roads", "https://example.com/roads.zip", `"v7"`, 1200, 4500)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	loadedAt := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"source", "product", "url", "etag", "row_count", "loaded_at", "duration_ms"}).
		AddRow("msbf", "footprints", "", "", 84000, loadedAt, 91000).
		AddRow("osm", "roads", "https://example.com/roads.zip", `"v7"`, 1200, loadedAt, 4500)

	mock.ExpectQuery("FROM raw.load_status").WillReturnRows(rows)

	status, err := LoadStatus(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, "msbf", status[0].Source)
	assert.Equal(t, 84000, status[0].RowCount)
	assert.Equal(t, "https://example.com/roads.zip", status[1].URL)
	assert.Equal(t, `"v7"`, status[1].ETag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteFootprints(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO parcel.buildings").
		WithArgs("msbf").
		WillReturnResult(pgxmock.NewResult("INSERT", 84000))

	n, err := PromoteFootprints(context.Background(), mock, "msbf", 5070)
	require.NoError(t, err)
	assert.Equal(t, int64(84000), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildRoadBlocks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM parcel.road_blocks").
		WillReturnResult(pgxmock.NewResult("DELETE", 310))
	mock.ExpectExec("INSERT INTO parcel.road_blocks").
		WillReturnResult(pgxmock.NewResult("INSERT", 324))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BuildRoadBlocks(context.Background(), mock)
	require.NoError(t, err)
	assert.Equal(t, int64(324), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildRoadBlocks_PolygonizeError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM parcel.road_blocks").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO parcel.road_blocks").
		WillReturnError(errTest)
	mock.ExpectRollback()

	_, err = BuildRoadBlocks(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polygonize road network")
	assert.NoError(t, mock.ExpectationsWereMet())
}
