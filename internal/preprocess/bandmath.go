package preprocess

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
)

// Expression combines the values of one pixel across the input rasters.
type Expression func(px []float64) float64

func NDVI(px []float64) float64 {
	nir, red := px[0], px[1]
	return (nir - red) / (nir + red)
}

func EVI(px []float64) float64 {
	nir, red := px[0], px[1]
	return 2.4 * (nir - red) / (nir + red + 1.0)
}

type sources struct {
	paths         []string
	datasets      []*godal.Dataset
	width, height int
}

func quietOpen(path string) (*godal.Dataset, error) {
	return godal.Open(path, godal.ErrLogger(func(ec godal.ErrorCategory, code int, msg string) error {
		if ec == godal.CE_Warning {
			logrus.Debugf("GDAL warning on %s: %s", path, msg)
			return nil
		}
		return fmt.Errorf("GDAL error %d: %s", code, msg)
	}))
}

func openSources(paths []string) (*sources, error) {
	s := &sources{}
	for _, p := range paths {
		ds, err := quietOpen(p)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to open %s: %w", p, err)
		}
		st := ds.Structure()
		if len(s.datasets) == 0 {
			s.width, s.height = st.SizeX, st.SizeY
		} else if st.SizeX != s.width || st.SizeY != s.height {
			ds.Close()
			s.close()
			return nil, fmt.Errorf("%s is %dx%d, expected %dx%d", p, st.SizeX, st.SizeY, s.width, s.height)
		}
		s.paths = append(s.paths, p)
		s.datasets = append(s.datasets, ds)
	}
	return s, nil
}

func (s *sources) close() {
	for _, ds := range s.datasets {
		ds.Close()
	}
}

// create makes a Float32 GeoTIFF georeferenced like the first source.
func (s *sources) create(dst string, nBands int) (*godal.Dataset, error) {
	out, err := godal.Create(godal.GTiff, dst, nBands, godal.Float32, s.width, s.height,
		godal.CreationOption("TILED=YES", "COMPRESS=DEFLATE"))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	ref := s.datasets[0]
	if gt, err := ref.GeoTransform(); err == nil {
		if err := out.SetGeoTransform(gt); err != nil {
			out.Close()
			return nil, err
		}
	}
	if sr := ref.SpatialRef(); sr != nil {
		if err := out.SetSpatialRef(sr); err != nil {
			out.Close()
			return nil, err
		}
	}
	return out, nil
}

// BandMath evaluates exp over the first band of every source and writes the
// result as a single band Float32 GeoTIFF.
func BandMath(src []string, dst string, exp Expression) error {
	s, err := openSources(src)
	if err != nil {
		return err
	}
	defer s.close()
	return commit(dst, func(tmp string) error {
		return s.bandMath(tmp, exp)
	})
}

func (s *sources) bandMath(dst string, exp Expression) error {
	out, err := s.create(dst, 1)
	if err != nil {
		return err
	}

	inputs := make([][]float64, len(s.datasets))
	result := make([]float64, s.width*stripRows)
	px := make([]float64, len(s.datasets))
	for y := 0; y < s.height; y += stripRows {
		rows := min(stripRows, s.height-y)
		n := s.width * rows
		for i, ds := range s.datasets {
			if inputs[i] == nil {
				inputs[i] = make([]float64, s.width*stripRows)
			}
			if err := ds.Bands()[0].Read(0, y, inputs[i][:n], s.width, rows); err != nil {
				out.Close()
				return fmt.Errorf("failed to read %s: %w", s.paths[i], err)
			}
		}
		for p := 0; p < n; p++ {
			for i := range inputs {
				px[i] = inputs[i][p]
			}
			result[p] = exp(px)
		}
		if err := out.Bands()[0].Write(0, y, result[:n], s.width, rows); err != nil {
			out.Close()
			return fmt.Errorf("failed to write %s: %w", dst, err)
		}
	}
	return out.Close()
}

// Concatenate stacks the first band of every source into a multiband
// Float32 GeoTIFF, in order.
func Concatenate(src []string, dst string) error {
	s, err := openSources(src)
	if err != nil {
		return err
	}
	defer s.close()
	if err := commit(dst, s.concatenate); err != nil {
		return err
	}
	logrus.Infof("%s written with %d bands", dst, len(src))
	return nil
}

func (s *sources) concatenate(dst string) error {
	out, err := s.create(dst, len(s.datasets))
	if err != nil {
		return err
	}

	buf := make([]float64, s.width*stripRows)
	outBands := out.Bands()
	for i, ds := range s.datasets {
		for y := 0; y < s.height; y += stripRows {
			rows := min(stripRows, s.height-y)
			n := s.width * rows
			if err := ds.Bands()[0].Read(0, y, buf[:n], s.width, rows); err != nil {
				out.Close()
				return fmt.Errorf("failed to read %s: %w", s.paths[i], err)
			}
			if err := outBands[i].Write(0, y, buf[:n], s.width, rows); err != nil {
				out.Close()
				return fmt.Errorf("failed to write %s: %w", dst, err)
			}
		}
	}
	return out.Close()
}
