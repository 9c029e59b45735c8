// Package preprocess turns Sentinel-2 L2A products into the 10 m and 20 m
// multiband stacks used for training and prediction.
package preprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	NDVIName  = "s2_10m_nvdi.tif"
	EVIName   = "s2_10m_evi.tif"
	Stack10m  = "s2_10m.tif"
	Stack20m  = "s2_20m.tif"
	stripRows = 256
)

var (
	bands10m = []string{"B04", "B03", "B02", "B08"}
	bands20m = []string{"B05", "B06", "B07", "B8A", "B11", "B12"}
)

type Options struct {
	// AOI is a vector file used as cutline for the final mosaics.
	AOI string
	// Workers bounds the scenes processed at once.
	Workers int
}

// Scene holds the band files of one product.
type Scene struct {
	Name  string
	Bands map[string]string
}

func findBand(dir, band string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_"+band+"_*.jp2"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("band %s not found in %s", band, dir)
	}
	return matches[0], nil
}

func resolutionDir(safeDir, res string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(safeDir, "GRANULE", "*", "IMG_DATA", res))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%s directory not found in %s", res, safeDir)
	}
	return matches[0], nil
}

// LoadScene locates the R10m and R20m bands of a .SAFE product.
func LoadScene(safeDir string) (Scene, error) {
	scene := Scene{
		Name:  strings.TrimSuffix(filepath.Base(safeDir), filepath.Ext(safeDir)),
		Bands: make(map[string]string),
	}
	for res, bands := range map[string][]string{"R10m": bands10m, "R20m": bands20m} {
		dir, err := resolutionDir(safeDir, res)
		if err != nil {
			return scene, err
		}
		for _, band := range bands {
			path, err := findBand(dir, band)
			if err != nil {
				return scene, err
			}
			scene.Bands[band] = path
		}
	}
	return scene, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// partPath is the name an output is written under until it is complete.
func partPath(dst string) string {
	ext := filepath.Ext(dst)
	return strings.TrimSuffix(dst, ext) + ".part" + ext
}

// commit runs write against the part path of dst and renames the result to
// dst once write succeeds. On failure the part file is removed and dst is
// left untouched.
func commit(dst string, write func(tmp string) error) error {
	tmp := partPath(dst)
	if err := write(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	return nil
}

// ProcessScene writes the vegetation indices and band stacks of scene into
// outDir. Outputs already on disk are kept; each output only appears once it
// has been written completely.
func ProcessScene(scene Scene, outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	nir, red := scene.Bands["B08"], scene.Bands["B04"]

	ndvi := filepath.Join(outDir, NDVIName)
	if !exists(ndvi) {
		logrus.Infof("%s: computing NDVI", scene.Name)
		if err := BandMath([]string{nir, red}, ndvi, NDVI); err != nil {
			return err
		}
	}
	evi := filepath.Join(outDir, EVIName)
	if !exists(evi) {
		logrus.Infof("%s: computing EVI", scene.Name)
		if err := BandMath([]string{nir, red}, evi, EVI); err != nil {
			return err
		}
	}

	stack20 := filepath.Join(outDir, Stack20m)
	if !exists(stack20) {
		var src []string
		for _, b := range bands20m {
			src = append(src, scene.Bands[b])
		}
		if err := Concatenate(src, stack20); err != nil {
			return err
		}
	}
	stack10 := filepath.Join(outDir, Stack10m)
	if !exists(stack10) {
		var src []string
		for _, b := range bands10m {
			src = append(src, scene.Bands[b])
		}
		if err := Concatenate(append(src, ndvi, evi), stack10); err != nil {
			return err
		}
	}
	return nil
}

// Run preprocesses every *.SAFE product in inputDir, then mosaics each
// stack across scenes and clips it to the AOI.
func Run(ctx context.Context, inputDir, outputDir string, opts Options) error {
	godal.RegisterAll()
	safes, err := filepath.Glob(filepath.Join(inputDir, "*.SAFE"))
	if err != nil {
		return err
	}
	if len(safes) == 0 {
		return fmt.Errorf("no .SAFE products found in %s", inputDir)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for _, safe := range safes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scene, err := LoadScene(safe)
			if err != nil {
				return err
			}
			if err := ProcessScene(scene, filepath.Join(outputDir, scene.Name)); err != nil {
				return fmt.Errorf("error processing %s: %w", scene.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, name := range []string{Stack20m, Stack10m} {
		if err := Mosaic(outputDir, name, opts.AOI); err != nil {
			return err
		}
	}
	return nil
}

// Mosaic builds {stem}.vrt from the per-scene copies of name and clips it
// into outputDir/name.
func Mosaic(outputDir, name, aoi string) error {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	vrt := filepath.Join(outputDir, stem+".vrt")
	if !exists(vrt) {
		files, err := filepath.Glob(filepath.Join(outputDir, "*", name))
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no %s found under %s", name, outputDir)
		}
		err = commit(vrt, func(tmp string) error {
			ds, err := godal.BuildVRT(tmp, files, nil)
			if err != nil {
				return fmt.Errorf("failed to build %s: %w", vrt, err)
			}
			return ds.Close()
		})
		if err != nil {
			return err
		}
	}

	dst := filepath.Join(outputDir, name)
	if exists(dst) {
		return nil
	}
	return Clip(vrt, dst, aoi)
}

// Clip warps src into a GeoTIFF cropped to the aoi cutline. Without an aoi
// the mosaic is copied as is.
func Clip(src, dst, aoi string) error {
	ds, err := godal.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer ds.Close()

	switches := []string{"-of", "GTiff"}
	if aoi != "" {
		switches = append(switches, "-cutline", aoi, "-crop_to_cutline")
	}
	err = commit(dst, func(tmp string) error {
		out, err := ds.Warp(tmp, switches)
		if err != nil {
			return fmt.Errorf("failed to clip %s: %w", src, err)
		}
		return out.Close()
	})
	if err != nil {
		return err
	}
	logrus.Infof("%s written", dst)
	return nil
}
