package chips

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type ExtractOptions struct {
	Size  Size
	Step  Size
	Whole bool
	// RescaleMode is RescalePercentiles or RescaleValues. Percentiles are
	// computed once over the whole raster.
	RescaleMode  string
	RescaleRange [][2]float64
	// SkipEmpty drops windows without a single valid pixel.
	SkipEmpty bool
	Seed      uint64
}

func (o ExtractOptions) withDefaults() ExtractOptions {
	if o.Size.Width <= 0 || o.Size.Height <= 0 {
		o.Size = Size{Width: 256, Height: 256}
	}
	if o.Step.Width <= 0 || o.Step.Height <= 0 {
		o.Step = o.Size
	}
	if o.RescaleMode == "" {
		o.RescaleMode = RescalePercentiles
	}
	if len(o.RescaleRange) == 0 && o.RescaleMode == RescalePercentiles {
		o.RescaleRange = [][2]float64{{2, 98}}
	}
	return o
}

// Extract cuts raster into byte GeoTIFF chips named {basename}_{x}_{y}.tif
// inside outDir and returns their footprints.
func Extract(raster, outDir string, opts ExtractOptions) ([]Chip, error) {
	opts = opts.withDefaults()
	godal.RegisterAll()

	ranges := opts.RescaleRange
	if opts.RescaleMode == RescalePercentiles {
		if len(ranges) != 1 {
			return nil, fmt.Errorf("percentiles mode takes one (lower, upper) pair, got %d", len(ranges))
		}
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
		var err error
		ranges, err = CalculateRasterPercentiles(raster, ranges[0][0], ranges[0][1], 128, 2048, rng)
		if err != nil {
			return nil, err
		}
	}

	ds, err := godal.Open(raster)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", raster, err)
	}
	defer ds.Close()
	fp, err := newFootprints(ds)
	if err != nil {
		return nil, err
	}
	defer fp.close()

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}
	basename := strings.TrimSuffix(filepath.Base(raster), filepath.Ext(raster))
	st := ds.Structure()
	bands := ds.Bands()

	writer := newChipWriter(ds)

	var chips []Chip
	windows := SlidingWindows(opts.Size, opts.Step, st.SizeX, st.SizeY, opts.Whole)
	for _, batch := range Grouper(windows, chipBatchSize, Placed{}) {
		pending := make([]pendingChip, 0, len(batch))
		for _, placed := range batch {
			win := placed.Window
			if win.Width == 0 || win.Height == 0 {
				continue
			}
			img, valid, err := readWindow(bands, win)
			if err != nil {
				return chips, err
			}
			if opts.SkipEmpty && !valid {
				continue
			}
			scaled, err := RescaleIntensity(img, RescaleValues, ranges)
			if err != nil {
				return chips, err
			}
			chip := Chip{X: placed.Col, Y: placed.Row}
			if chip.Geometry, err = fp.polygon(win); err != nil {
				return chips, err
			}
			pending = append(pending, pendingChip{chip: chip, win: win, bands: scaled})
		}

		var g errgroup.Group
		g.SetLimit(runtime.NumCPU())
		for _, p := range pending {
			g.Go(func() error {
				return writer.write(filepath.Join(outDir, p.chip.Filename(basename, "tif")), p.win, p.bands)
			})
		}
		if err := g.Wait(); err != nil {
			return chips, err
		}
		for _, p := range pending {
			chips = append(chips, p.chip)
		}
	}
	logrus.Infof("%d chips written to %s", len(chips), outDir)
	return chips, nil
}

const chipBatchSize = 32

type pendingChip struct {
	chip  Chip
	win   Window
	bands [][]uint8
}

// readWindow reads every band of win, turning nodata into NaN. valid
// reports whether any pixel holds data.
func readWindow(bands []godal.Band, win Window) ([][]float64, bool, error) {
	img := make([][]float64, len(bands))
	valid := false
	for b, band := range bands {
		buf := make([]float64, win.Width*win.Height)
		if err := band.Read(win.Col, win.Row, buf, win.Width, win.Height); err != nil {
			return nil, false, fmt.Errorf("failed to read window %v: %w", win, err)
		}
		nodata, hasNodata := band.NoData()
		for i, v := range buf {
			if hasNodata && v == nodata {
				buf[i] = math.NaN()
			} else if !math.IsNaN(v) {
				valid = true
			}
		}
		img[b] = buf
	}
	return img, valid, nil
}

// chipWriter holds the georeferencing of the source raster so chips can be
// written concurrently without touching the source dataset.
type chipWriter struct {
	gt    [6]float64
	hasGT bool
	wkt   string
}

func newChipWriter(src *godal.Dataset) chipWriter {
	w := chipWriter{wkt: src.Projection()}
	if gt, err := src.GeoTransform(); err == nil {
		w.gt, w.hasGT = gt, true
	}
	return w
}

func (w chipWriter) write(path string, win Window, bands [][]uint8) error {
	out, err := godal.Create(godal.GTiff, path, len(bands), godal.Byte, win.Width, win.Height)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if w.hasGT {
		gt := w.gt
		x, y := float64(win.Col), float64(win.Row)
		gt[0], gt[3] = gt[0]+gt[1]*x+gt[2]*y, gt[3]+gt[4]*x+gt[5]*y
		if err := out.SetGeoTransform(gt); err != nil {
			out.Close()
			return err
		}
	}
	if w.wkt != "" {
		if err := out.SetProjection(w.wkt); err != nil {
			out.Close()
			return err
		}
	}
	for b, band := range out.Bands() {
		if err := band.Write(0, 0, bands[b], win.Width, win.Height); err != nil {
			out.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return out.Close()
}
