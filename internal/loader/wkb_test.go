package loader

import (
	"errors"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

var errTest = errors.New("test error")

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func squarePolygon() *shp.Polygon {
	return &shp.Polygon{
		NumParts:  1,
		NumPoints: 5, // serialized verbatim by shp.Writer; zero would truncate reads
		Parts:     []int32{0},
		Points: []shp.Point{
			{X: -93.30, Y: 44.95},
			{X: -93.30, Y: 44.96},
			{X: -93.29, Y: 44.96},
			{X: -93.29, Y: 44.95},
			{X: -93.30, Y: 44.95}, // closed ring
		},
	}
}

func TestEncodeFootprint_RoundTrip(t *testing.T) {
	data, err := EncodeFootprint(squarePolygon())
	require.NoError(t, err)
	require.NotNil(t, data)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)

	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok, "expected MultiPolygon, got %T", g)
	assert.Equal(t, 4326, mp.SRID())
	assert.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 5, mp.Polygon(0).LinearRing(0).NumCoords())
}

func TestEncodeFootprint_MultiPart(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 2,
		Parts:    []int32{0, 5},
		Points: []shp.Point{
			{X: -93.30, Y: 44.95},
			{X: -93.30, Y: 44.96},
			{X: -93.29, Y: 44.96},
			{X: -93.29, Y: 44.95},
			{X: -93.30, Y: 44.95},
			{X: -93.28, Y: 44.95},
			{X: -93.28, Y: 44.96},
			{X: -93.27, Y: 44.96},
			{X: -93.27, Y: 44.95},
			{X: -93.28, Y: 44.95},
		},
	}

	data, err := EncodeFootprint(poly)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 2, g.(*geom.MultiPolygon).NumPolygons())
}

func TestEncodeFootprint_Empty(t *testing.T) {
	data, err := EncodeFootprint(&shp.Polygon{})
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = EncodeFootprint(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestEncodeRoad_RoundTrip(t *testing.T) {
	pl := &shp.PolyLine{
		NumParts: 1,
		Parts:    []int32{0},
		Points: []shp.Point{
			{X: -93.30, Y: 44.95},
			{X: -93.29, Y: 44.95},
			{X: -93.28, Y: 44.96},
		},
	}

	data, err := EncodeRoad(pl)
	require.NoError(t, err)
	require.NotNil(t, data)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)

	mls, ok := g.(*geom.MultiLineString)
	require.True(t, ok, "expected MultiLineString, got %T", g)
	assert.Equal(t, 4326, mls.SRID())
	assert.Equal(t, 1, mls.NumLineStrings())
	assert.Equal(t, 3, mls.LineString(0).NumCoords())
}

func TestEncodeRoad_Empty(t *testing.T) {
	data, err := EncodeRoad(&shp.PolyLine{})
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = EncodeRoad(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}
