package chips

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
)

// Chip is the footprint of one tile in WGS84 and its grid position.
type Chip struct {
	Geometry orb.Polygon
	X        int
	Y        int
}

func (c Chip) Filename(basename, kind string) string {
	return fmt.Sprintf("%s_%d_%d.%s", basename, c.X, c.Y, kind)
}

// WriteChipsGeoJSON writes a FeatureCollection with one feature per chip.
// Nothing is written when chips is empty.
func WriteChipsGeoJSON(path string, chips []Chip, kind, basename string) error {
	if len(chips) == 0 {
		logrus.Warn("No chips to save")
		return nil
	}
	logrus.Info("Write chips geojson")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	fc := geojson.NewFeatureCollection()
	for i, chip := range chips {
		feature := geojson.NewFeature(chip.Geometry)
		feature.Properties["id"] = i
		feature.Properties["x"] = chip.X
		feature.Properties["y"] = chip.Y
		feature.Properties["filename"] = chip.Filename(basename, kind)
		fc.Append(feature)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode chips: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// footprints converts pixel windows into WGS84 polygons.
type footprints struct {
	gt [6]float64
	tr *godal.Transform
}

func newFootprints(ds *godal.Dataset) (*footprints, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("failed to get GeoTransform: %w", err)
	}
	f := &footprints{gt: gt}
	wkt := ds.Projection()
	if wkt == "" {
		return f, nil
	}
	srcSR, err := godal.NewSpatialRefFromWKT(wkt)
	if err != nil {
		return nil, err
	}
	defer srcSR.Close()
	dstSR, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return nil, err
	}
	defer dstSR.Close()
	if srcSR.IsSame(dstSR) {
		return f, nil
	}
	if f.tr, err = godal.NewTransform(srcSR, dstSR); err != nil {
		return nil, fmt.Errorf("failed to build transform: %w", err)
	}
	return f, nil
}

func (f *footprints) close() {
	if f.tr != nil {
		f.tr.Close()
	}
}

func (f *footprints) polygon(win Window) (orb.Polygon, error) {
	corners := [][2]int{
		{win.Col, win.Row},
		{win.Col + win.Width, win.Row},
		{win.Col + win.Width, win.Row + win.Height},
		{win.Col, win.Row + win.Height},
		{win.Col, win.Row},
	}
	xs := make([]float64, len(corners))
	ys := make([]float64, len(corners))
	for i, c := range corners {
		x, y := float64(c[0]), float64(c[1])
		xs[i] = f.gt[0] + f.gt[1]*x + f.gt[2]*y
		ys[i] = f.gt[3] + f.gt[4]*x + f.gt[5]*y
	}
	if f.tr != nil {
		if err := f.tr.TransformEx(xs, ys, nil, nil); err != nil {
			return nil, fmt.Errorf("transform error: %w", err)
		}
	}
	ring := make(orb.Ring, len(corners))
	for i := range corners {
		ring[i] = orb.Point{xs[i], ys[i]}
	}
	return orb.Polygon{ring}, nil
}
