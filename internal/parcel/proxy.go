package parcel

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/landbase/parcel-cli/internal/db"
)

// sourceViews maps a source name to its standardization view. View names are
// interpolated into SQL, so lookups must go through this allowlist.
var sourceViews = map[string]string{
	"osm":    "parcel.v_src_osm",
	"county": "parcel.v_src_county",
}

// Sources returns the known standardization source names, sorted.
func Sources() []string {
	names := make([]string, 0, len(sourceViews))
	for name := range sourceViews {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QueryStandardized reads a page of standardized rows from a source's proxy
// view. Every source yields the same shape: geographic geometry plus
// measurements in meters, whatever the source's native coordinate system.
func QueryStandardized(ctx context.Context, pool db.Pool, source string, limit, offset int) ([]Standardized, error) {
	view, ok := sourceViews[source]
	if !ok {
		return nil, eris.Errorf("parcel: unknown standardization source %q", source)
	}
	if limit <= 0 {
		limit = 100
	}

	sql := fmt.Sprintf(`
		SELECT id, landuse_label, landuse_code, ST_AsEWKB(geometry), area_m2, perimeter_m
		FROM %s
		ORDER BY id
		LIMIT $1 OFFSET $2`, view)

	rows, err := pool.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, eris.Wrapf(err, "parcel: query standardized view %s", view)
	}
	defer rows.Close()

	var out []Standardized
	for rows.Next() {
		var s Standardized
		var code *string
		if err := rows.Scan(&s.ID, &s.LanduseLabel, &code, &s.Geometry, &s.AreaM2, &s.PerimeterM); err != nil {
			return nil, eris.Wrapf(err, "parcel: scan standardized row from %s", view)
		}
		if code != nil {
			s.LanduseCode = *code
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "parcel: iterate standardized rows from %s", view)
	}
	return out, nil
}

// CountStandardized returns the row count a source's proxy view exposes.
func CountStandardized(ctx context.Context, pool db.Pool, source string) (int64, error) {
	view, ok := sourceViews[source]
	if !ok {
		return 0, eris.Errorf("parcel: unknown standardization source %q", source)
	}
	var n int64
	if err := pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", view)).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "parcel: count standardized view %s", view)
	}
	return n, nil
}
