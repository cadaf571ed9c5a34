package loader

import (
	"fmt"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ParseShapefile reads a shapefile and returns rows shaped for the product's
// COPY columns: (source, source_id, attr, geom). Records whose geometry is
// empty or of the wrong type are skipped, not fatal; source archives always
// contain a few.
func ParseShapefile(shpPath, source string, product Product) ([][]any, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	attribute := func(name string) string {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return ""
		}
		val := strings.TrimRight(reader.Attribute(idx), "\x00")
		return strings.TrimSpace(val)
	}

	var rows [][]any
	var skipped int
	recNo := 0

	for reader.Next() {
		_, shape := reader.Shape()
		recNo++

		var geomBytes []byte
		var encErr error
		switch product.Geom {
		case GeomPolygon:
			poly, ok := shape.(*shp.Polygon)
			if !ok {
				skipped++
				continue
			}
			geomBytes, encErr = EncodeFootprint(poly)
		case GeomLine:
			line, ok := shape.(*shp.PolyLine)
			if !ok {
				skipped++
				continue
			}
			geomBytes, encErr = EncodeRoad(line)
		}
		if encErr != nil || geomBytes == nil {
			skipped++
			continue
		}

		sourceID := attribute(product.IDField)
		if sourceID == "" {
			sourceID = fmt.Sprintf("rec/%d", recNo)
		}

		var attr any
		if product.AttrField != "" {
			if v := attribute(product.AttrField); v != "" {
				attr = v
			}
		}

		rows = append(rows, []any{source, sourceID, attr, geomBytes})
	}

	if skipped > 0 {
		zap.L().Debug("loader: skipped shapefile records",
			zap.String("product", product.Name),
			zap.Int("skipped", skipped),
		)
	}

	return rows, nil
}
