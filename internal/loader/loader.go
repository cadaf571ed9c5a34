// Package loader fills the raw.* source tables from shapefile archives and
// promotes them into the pipeline's input tables.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/landbase/parcel-cli/internal/db"
	"github.com/landbase/parcel-cli/internal/fetch"
)

// GeomKind selects the shapefile geometry a product expects.
type GeomKind int

const (
	GeomPolygon GeomKind = iota
	GeomLine
)

// Product describes one loadable source archive and its destination table.
type Product struct {
	Name      string   // product name ("footprints", "roads")
	Table     string   // destination table, schema-qualified
	Columns   []string // COPY columns, order matches ParseShapefile rows
	IDField   string   // DBF field used as source_id; record number fallback
	AttrField string   // optional DBF attribute field
	Geom      GeomKind
}

// Products lists the loadable source products.
var Products = []Product{
	{
		Name:      "footprints",
		Table:     "raw.footprints",
		Columns:   []string{"source", "source_id", "region", "geom"},
		IDField:   "bld_id",
		AttrField: "region",
		Geom:      GeomPolygon,
	},
	{
		Name:      "roads",
		Table:     "raw.road_network",
		Columns:   []string{"source", "source_id", "road_class", "geom"},
		IDField:   "osm_id",
		AttrField: "fclass",
		Geom:      GeomLine,
	},
}

// ProductByName returns the product with the given name.
func ProductByName(name string) (Product, bool) {
	for _, p := range Products {
		if p.Name == name {
			return p, true
		}
	}
	return Product{}, false
}

// Options configures a load run.
type Options struct {
	Source      string // tag recorded on every row ("osm", "msfp", county id)
	URL         string // archive URL (http, https, or ftp); empty = use Path
	Path        string // local .shp path when the archive is already on disk
	TempDir     string // download/extract directory
	BatchSize   int    // rows per upsert transaction
	Concurrency int    // parallel upsert batches
}

func (o *Options) defaults() {
	if o.TempDir == "" {
		o.TempDir = "/tmp/parcel-loader"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10000
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
}

// StatusRow is one row of raw.load_status.
type StatusRow struct {
	Source     string
	Product    string
	URL        string
	ETag       string
	RowCount   int
	LoadedAt   time.Time
	DurationMs int
}

// Load downloads (if needed), parses, and upserts one product. Rows land in
// the product's raw table keyed on (source, source_id), so reloading the
// same archive is idempotent.
func Load(ctx context.Context, pool db.Pool, fetcher fetch.Fetcher, productName string, opts Options) (int64, error) {
	opts.defaults()

	product, ok := ProductByName(productName)
	if !ok {
		return 0, eris.Errorf("loader: unknown product %q", productName)
	}
	if opts.Source == "" {
		return 0, eris.New("loader: source tag is required")
	}

	log := zap.L().With(
		zap.String("component", "loader"),
		zap.String("product", product.Name),
		zap.String("source", opts.Source),
	)

	start := time.Now()

	shpPath := opts.Path
	var etag string
	if shpPath == "" {
		if opts.URL == "" {
			return 0, eris.New("loader: either url or path is required")
		}

		etag = remoteETag(ctx, fetcher, opts.URL, log)
		if etag != "" {
			prior, err := lastETag(ctx, pool, opts.Source, product.Name)
			if err != nil {
				return 0, err
			}
			if etag == prior {
				log.Info("archive unchanged, skipping", zap.String("etag", etag))
				return 0, nil
			}
		}

		var err error
		shpPath, err = fetchArchive(ctx, fetcher, opts.URL, opts.TempDir, product.Name)
		if err != nil {
			return 0, err
		}
		log.Info("archive fetched", zap.String("shp", shpPath))
	}

	rows, err := ParseShapefile(shpPath, opts.Source, product)
	if err != nil {
		return 0, err
	}
	log.Info("shapefile parsed", zap.Int("rows", len(rows)))

	loaded, err := upsertRows(ctx, pool, product, rows, opts)
	if err != nil {
		return loaded, err
	}

	duration := time.Since(start)
	if err := recordLoad(ctx, pool, opts.Source, product.Name, opts.URL, etag, int(loaded), int(duration.Milliseconds())); err != nil {
		log.Warn("failed to record load status", zap.Error(err))
	}

	log.Info("product loaded",
		zap.Int64("rows", loaded),
		zap.Duration("duration", duration),
	)
	return loaded, nil
}

// fetchArchive downloads the archive, extracts it, and locates the .shp.
// A bare .shp URL is downloaded as-is.
func fetchArchive(ctx context.Context, fetcher fetch.Fetcher, url, tempDir, name string) (string, error) {
	destDir := filepath.Join(tempDir, name)

	parts := strings.Split(url, "/")
	fileName := parts[len(parts)-1]
	dest := filepath.Join(destDir, fileName)

	if err := ensureDir(destDir); err != nil {
		return "", err
	}

	if _, err := fetcher.DownloadToFile(ctx, url, dest); err != nil {
		return "", eris.Wrapf(err, "loader: download %s", url)
	}

	if !strings.HasSuffix(strings.ToLower(fileName), ".zip") {
		return dest, nil
	}

	if _, err := fetch.ExtractZIP(dest, destDir); err != nil {
		return "", eris.Wrapf(err, "loader: extract %s", dest)
	}
	shpPath, err := fetch.FindByExt(destDir, ".shp")
	if err != nil {
		return "", err
	}
	return shpPath, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "loader: create dir %s", dir)
	}
	return nil
}

// upsertRows writes parsed rows through db.BulkUpsert in parallel batches.
func upsertRows(ctx context.Context, pool db.Pool, product Product, rows [][]any, opts Options) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	cfg := db.UpsertConfig{
		Table:        product.Table,
		Columns:      product.Columns,
		ConflictKeys: []string{"source", "source_id"},
	}

	var total int64
	results := make([]int64, (len(rows)+opts.BatchSize-1)/opts.BatchSize)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, start := 0, 0; start < len(rows); i, start = i+1, start+opts.BatchSize {
		end := min(start+opts.BatchSize, len(rows))
		batch := rows[start:end]
		slot := i
		g.Go(func() error {
			n, err := db.BulkUpsert(gCtx, pool, cfg, batch)
			if err != nil {
				return eris.Wrapf(err, "loader: upsert batch into %s", product.Table)
			}
			results[slot] = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	for _, n := range results {
		total += n
	}
	return total, nil
}

// remoteETag asks the fetcher for the archive's ETag when its transport
// supports it. Failures degrade to a full download, never a failed load.
func remoteETag(ctx context.Context, fetcher fetch.Fetcher, url string, log *zap.Logger) string {
	e, ok := fetcher.(fetch.ETagger)
	if !ok {
		return ""
	}
	etag, err := e.HeadETag(ctx, url)
	if err != nil {
		log.Warn("ETag probe failed, downloading anyway", zap.Error(err))
		return ""
	}
	return etag
}

// lastETag returns the ETag recorded by the previous load, empty when the
// product has never loaded.
func lastETag(ctx context.Context, pool db.Pool, source, product string) (string, error) {
	var etag string
	err := pool.QueryRow(ctx, `
		SELECT COALESCE(etag, '') FROM raw.load_status
		WHERE source = $1 AND product = $2`,
		source, product,
	).Scan(&etag)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrap(err, "loader: query last etag")
	}
	return etag, nil
}

// recordLoad upserts the load_status record for a completed load.
func recordLoad(ctx context.Context, pool db.Pool, source, product, url, etag string, rowCount, durationMs int) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO raw.load_status (source, product, url, etag, row_count, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, product) DO UPDATE SET
			url = EXCLUDED.url,
			etag = EXCLUDED.etag,
			row_count = EXCLUDED.row_count,
			loaded_at = now(),
			duration_ms = EXCLUDED.duration_ms`,
		source, product, url, etag, rowCount, durationMs,
	)
	if err != nil {
		return eris.Wrap(err, "loader: record load status")
	}
	return nil
}

// LoadStatus returns the current load status rows.
func LoadStatus(ctx context.Context, pool db.Pool) ([]StatusRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT source, product, COALESCE(url, ''), COALESCE(etag, ''), row_count, loaded_at, COALESCE(duration_ms, 0)
		FROM raw.load_status
		ORDER BY source, product`)
	if err != nil {
		return nil, eris.Wrap(err, "loader: query load status")
	}
	defer rows.Close()

	var status []StatusRow
	for rows.Next() {
		var sr StatusRow
		if err := rows.Scan(&sr.Source, &sr.Product, &sr.URL, &sr.ETag, &sr.RowCount, &sr.LoadedAt, &sr.DurationMs); err != nil {
			return nil, eris.Wrap(err, "loader: scan load status row")
		}
		status = append(status, sr)
	}
	return status, rows.Err()
}

// PromoteFootprints copies raw footprints for a source into
// parcel.buildings, computing each footprint's area in the measurement
// projection. Existing buildings are updated in place on (source, source_id).
func PromoteFootprints(ctx context.Context, pool db.Pool, source string, measurementSRID int) (int64, error) {
	sql := fmt.Sprintf(`
		INSERT INTO parcel.buildings (source, source_id, region, footprint, area_m2, observed_at)
		SELECT f.source, f.source_id, f.region, f.geom,
		       ST_Area(ST_Transform(f.geom, %d)),
		       COALESCE(f.observed_at, f.loaded_at)
		FROM raw.footprints f
		WHERE f.source = $1 AND ST_IsValid(f.geom)
		ON CONFLICT (source, source_id) DO UPDATE SET
			region = EXCLUDED.region,
			footprint = EXCLUDED.footprint,
			area_m2 = EXCLUDED.area_m2,
			observed_at = EXCLUDED.observed_at,
			updated_at = now()`, measurementSRID)

	tag, err := pool.Exec(ctx, sql, source)
	if err != nil {
		return 0, eris.Wrap(err, "loader: promote footprints")
	}

	zap.L().Info("footprints promoted",
		zap.String("source", source),
		zap.Int64("buildings", tag.RowsAffected()),
	)
	return tag.RowsAffected(), nil
}

// BuildRoadBlocks polygonizes the road network into closed blocks and
// replaces parcel.road_blocks with the result. The whole swap runs in one
// transaction so readers never see a partial block set.
func BuildRoadBlocks(ctx context.Context, pool db.Pool) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "loader: begin block rebuild tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM parcel.road_blocks"); err != nil {
		return 0, eris.Wrap(err, "loader: clear road blocks")
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO parcel.road_blocks (block_id, geom)
		SELECT 'blk-' || ROW_NUMBER() OVER (ORDER BY ST_X(ST_Centroid(g)), ST_Y(ST_Centroid(g))),
		       g
		FROM (
			SELECT (ST_Dump(ST_Polygonize(ST_Node(ST_Collect(geom))))).geom AS g
			FROM raw.road_network
		) blocks
		WHERE ST_Area(g) > 0`)
	if err != nil {
		return 0, eris.Wrap(err, "loader: polygonize road network")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "loader: commit block rebuild tx")
	}

	zap.L().Info("road blocks rebuilt", zap.Int64("blocks", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}
