// Package proforma produces rough per-parcel cost and value estimates by
// joining inferred parcels with ingested construction rates, cost indices,
// and sale comparables.
package proforma

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/landbase/parcel-cli/internal/db"
)

// Estimate is one parcel's pro-forma line.
type Estimate struct {
	ParcelID        string
	BuildingID      int64
	RoadBlockID     *int64
	Region          string
	ParcelAreaM2    float64
	FootprintAreaM2 float64
	BuildCostUSD    float64 // footprint area * regional rate * latest index
	ParcelValueUSD  float64 // parcel area * comparable sale price per m2
	MarginUSD       float64
}

// Options filters and parameterizes a pro-forma run.
type Options struct {
	RateCode    string // construction rate to apply; default "base"
	RoadBlockID int64  // restrict to one road block; 0 = all
	Limit       int    // max rows; default 200
}

func (o *Options) defaults() {
	if o.RateCode == "" {
		o.RateCode = "base"
	}
	if o.Limit <= 0 {
		o.Limit = 200
	}
}

// estimateSQL prices every parcel whose building's region has a matching
// construction rate. The latest cost index scales build cost; regions
// without comparables get a zero value estimate rather than being dropped.
const estimateSQL = `
	WITH latest_index AS (
		SELECT DISTINCT ON (region) region, index_value
		FROM parcel.cost_indices
		ORDER BY region, year DESC
	),
	comp_value AS (
		SELECT region, AVG(sale_usd / NULLIF(area_m2, 0)) AS usd_per_m2
		FROM parcel.comparables
		WHERE area_m2 > 0
		GROUP BY region
	)
	SELECT p.id,
	       p.building_id,
	       p.road_block_id,
	       COALESCE(b.region, ''),
	       p.area_m2,
	       p.footprint_area_m2,
	       p.footprint_area_m2 * r.usd_per_m2 * COALESCE(li.index_value, 1.0),
	       p.area_m2 * COALESCE(cv.usd_per_m2, 0)
	FROM parcel.inferred_parcels p
	JOIN parcel.buildings b ON b.id = p.building_id
	JOIN parcel.cost_rates r ON r.region = b.region AND r.rate_code = $1
	LEFT JOIN latest_index li ON li.region = b.region
	LEFT JOIN comp_value cv ON cv.region = b.region
	WHERE ($2::bigint = 0 OR p.road_block_id = $2)
	ORDER BY p.id
	LIMIT $3`

// Run computes pro-forma estimates for inferred parcels.
func Run(ctx context.Context, pool db.Pool, opts Options) ([]Estimate, error) {
	opts.defaults()

	rows, err := pool.Query(ctx, estimateSQL, opts.RateCode, opts.RoadBlockID, opts.Limit)
	if err != nil {
		return nil, eris.Wrap(err, "proforma: query estimates")
	}
	defer rows.Close()

	var estimates []Estimate
	for rows.Next() {
		var e Estimate
		if err := rows.Scan(&e.ParcelID, &e.BuildingID, &e.RoadBlockID, &e.Region,
			&e.ParcelAreaM2, &e.FootprintAreaM2, &e.BuildCostUSD, &e.ParcelValueUSD); err != nil {
			return nil, eris.Wrap(err, "proforma: scan estimate row")
		}
		e.MarginUSD = e.ParcelValueUSD - e.BuildCostUSD
		estimates = append(estimates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "proforma: iterate estimates")
	}

	zap.L().Debug("proforma computed",
		zap.String("rate_code", opts.RateCode),
		zap.Int64("road_block_id", opts.RoadBlockID),
		zap.Int("parcels", len(estimates)),
	)
	return estimates, nil
}
