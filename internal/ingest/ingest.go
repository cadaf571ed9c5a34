package ingest

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/landbase/parcel-cli/internal/db"
)

// record is a header-keyed view of one data row.
type record map[string]string

// Dataset describes one ingestable file kind and its destination table.
type Dataset struct {
	Name         string
	Table        string
	Columns      []string
	ConflictKeys []string
	Required     []string // header columns that must be present
	convert      func(record) ([]any, error)
}

// Datasets lists the supported ingest targets.
var Datasets = []Dataset{
	{
		Name:         "indices",
		Table:        "parcel.cost_indices",
		Columns:      []string{"region", "year", "index_value"},
		ConflictKeys: []string{"region", "year"},
		Required:     []string{"region", "year", "index_value"},
		convert:      convertIndex,
	},
	{
		Name:         "rates",
		Table:        "parcel.cost_rates",
		Columns:      []string{"rate_code", "region", "usd_per_m2"},
		ConflictKeys: []string{"rate_code", "region"},
		Required:     []string{"rate_code", "region", "usd_per_m2"},
		convert:      convertRate,
	},
	{
		Name:         "comparables",
		Table:        "parcel.comparables",
		Columns:      []string{"id", "sale_date", "sale_usd", "area_m2", "region", "geom"},
		ConflictKeys: []string{"id"},
		Required:     []string{"sale_usd", "lon", "lat"},
		convert:      convertComparable,
	},
}

// DatasetByName returns the dataset with the given name.
func DatasetByName(name string) (Dataset, bool) {
	for _, d := range Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}

// Ingest parses a CSV or XLSX file and upserts its rows into the dataset's
// table. Malformed rows are skipped and counted; the file fails only when no
// row converts.
func Ingest(ctx context.Context, pool db.Pool, datasetName, path string) (int64, error) {
	dataset, ok := DatasetByName(datasetName)
	if !ok {
		return 0, eris.Errorf("ingest: unknown dataset %q", datasetName)
	}

	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("dataset", dataset.Name),
		zap.String("file", path),
	)

	header, raw, err := readFile(path)
	if err != nil {
		return 0, err
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.ToLower(name)] = i
	}
	for _, req := range dataset.Required {
		if _, ok := colIdx[req]; !ok {
			return 0, eris.Errorf("ingest: %s is missing required column %q", path, req)
		}
	}

	var rows [][]any
	var skipped int
	for _, cells := range raw {
		rec := make(record, len(colIdx))
		for name, idx := range colIdx {
			if idx < len(cells) {
				rec[name] = cells[idx]
			}
		}

		row, err := dataset.convert(rec)
		if err != nil {
			skipped++
			log.Debug("skipping malformed row", zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return 0, eris.Errorf("ingest: no valid rows in %s (%d skipped)", path, skipped)
	}
	if skipped > 0 {
		log.Warn("skipped malformed rows", zap.Int("skipped", skipped))
	}

	n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        dataset.Table,
		Columns:      dataset.Columns,
		ConflictKeys: dataset.ConflictKeys,
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: upsert into %s", dataset.Table)
	}

	log.Info("dataset ingested", zap.Int64("rows", n), zap.Int("skipped", skipped))
	return n, nil
}

func convertIndex(rec record) ([]any, error) {
	region := rec["region"]
	if region == "" {
		return nil, eris.New("ingest: empty region")
	}
	year, err := strconv.Atoi(rec["year"])
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: year %q", rec["year"])
	}
	value, err := strconv.ParseFloat(rec["index_value"], 64)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: index_value %q", rec["index_value"])
	}
	return []any{region, year, value}, nil
}

func convertRate(rec record) ([]any, error) {
	code := rec["rate_code"]
	region := rec["region"]
	if code == "" || region == "" {
		return nil, eris.New("ingest: empty rate_code or region")
	}
	rate, err := strconv.ParseFloat(rec["usd_per_m2"], 64)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: usd_per_m2 %q", rec["usd_per_m2"])
	}
	return []any{code, region, rate}, nil
}

func convertComparable(rec record) ([]any, error) {
	saleUSD, err := strconv.ParseFloat(rec["sale_usd"], 64)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: sale_usd %q", rec["sale_usd"])
	}

	lon, err := strconv.ParseFloat(rec["lon"], 64)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: lon %q", rec["lon"])
	}
	lat, err := strconv.ParseFloat(rec["lat"], 64)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: lat %q", rec["lat"])
	}
	point := geom.NewPointFlat(geom.XY, []float64{lon, lat})
	point.SetSRID(4326)
	geomBytes, err := ewkb.Marshal(point, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: encode comparable point")
	}

	id := rec["id"]
	if id == "" {
		id = uuid.NewString()
	}

	var saleDate any
	if rec["sale_date"] != "" {
		parsed, err := time.Parse("2006-01-02", rec["sale_date"])
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: sale_date %q", rec["sale_date"])
		}
		saleDate = parsed
	}

	var areaM2 any
	if rec["area_m2"] != "" {
		area, err := strconv.ParseFloat(rec["area_m2"], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: area_m2 %q", rec["area_m2"])
		}
		areaM2 = area
	}

	var region any
	if rec["region"] != "" {
		region = rec["region"]
	}

	return []any{id, saleDate, saleUSD, areaM2, region, geomBytes}, nil
}
