package modis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
)

const viGrid = "MODIS_Grid_16DAY_250m_500m_VI"

var subdatasets = []struct {
	name   string
	suffix string
}{
	{name: "250m 16 days NDVI", suffix: "_ndvi.tif"},
	{name: "250m 16 days pixel reliability", suffix: "_pixelrel.tif"},
}

func subdatasetName(src, name string) string {
	return fmt.Sprintf(`HDF4_EOS:EOS_GRID:"%s":%s:"%s"`, src, viGrid, name)
}

// ExtractSubdatasetsAsGTiffs writes the NDVI and pixel reliability layers
// of every granule into tifDir as {name}_ndvi.tif and {name}_pixelrel.tif.
// Outputs that already exist are left untouched.
func ExtractSubdatasetsAsGTiffs(files []string, tifDir string) ([]string, error) {
	godal.RegisterAll()
	if err := os.MkdirAll(tifDir, 0755); err != nil {
		return nil, err
	}
	logrus.Info("Extract subdatasets as GeoTIFFs")

	var outputs []string
	for _, src := range files {
		name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		dst := filepath.Join(tifDir, name)
		for _, sd := range subdatasets {
			out := dst + sd.suffix
			outputs = append(outputs, out)
			if _, err := os.Stat(out); err == nil {
				continue
			}
			if err := translate(subdatasetName(src, sd.name), out); err != nil {
				return outputs, err
			}
		}
	}
	return outputs, nil
}

func translate(src, dst string) error {
	ds, err := godal.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer ds.Close()
	out, err := ds.Translate(dst, nil, godal.GTiff)
	if err != nil {
		return fmt.Errorf("failed to translate %s: %w", src, err)
	}
	return out.Close()
}
