package chips

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/airbusgeo/godal"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

const (
	RescalePercentiles = "percentiles"
	RescaleValues      = "values"
)

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func validSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// RescaleIntensity maps every band into 1..255. In percentiles mode ranges
// holds a single (lower, upper) percentile pair evaluated per band. In values
// mode it holds either one input range shared by all bands or one per band.
// NaN pixels become 0.
func RescaleIntensity(bands [][]float64, mode string, ranges [][2]float64) ([][]uint8, error) {
	inRanges := make([][2]float64, len(bands))
	switch mode {
	case RescalePercentiles:
		if len(ranges) != 1 {
			return nil, fmt.Errorf("percentiles mode takes one (lower, upper) pair, got %d", len(ranges))
		}
		for i, band := range bands {
			sorted := validSorted(band)
			inRanges[i] = [2]float64{percentile(sorted, ranges[0][0]), percentile(sorted, ranges[0][1])}
		}
	case RescaleValues:
		switch len(ranges) {
		case 1:
			for i := range inRanges {
				inRanges[i] = ranges[0]
			}
		case len(bands):
			copy(inRanges, ranges)
		default:
			return nil, fmt.Errorf("values mode takes 1 or %d ranges, got %d", len(bands), len(ranges))
		}
	default:
		return nil, fmt.Errorf("unknown rescale mode %q", mode)
	}

	out := make([][]uint8, len(bands))
	for i, band := range bands {
		out[i] = rescaleBand(band, inRanges[i][0], inRanges[i][1])
	}
	return out, nil
}

func rescaleBand(band []float64, lo, hi float64) []uint8 {
	const outMin, outMax = 1.0, 255.0
	out := make([]uint8, len(band))
	for i, v := range band {
		if math.IsNaN(v) {
			continue
		}
		if hi <= lo {
			out[i] = uint8(outMin)
			continue
		}
		v = math.Min(math.Max(v, lo), hi)
		out[i] = uint8((v-lo)/(hi-lo)*(outMax-outMin) + outMin)
	}
	return out
}

// CalculateRasterPercentiles estimates the lower and upper percentiles of
// every band from sampleSize random pixels per window. Windows with no valid
// pixel are ignored.
func CalculateRasterPercentiles(path string, lower, upper float64, sampleSize, windowSize int, rng *rand.Rand) ([][2]float64, error) {
	godal.RegisterAll()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer ds.Close()

	st := ds.Structure()
	size := Size{Width: windowSize, Height: windowSize}
	windows := SlidingWindows(size, size, st.SizeX, st.SizeY, false)
	logrus.Infof("Windows: %d, sample size: %d", len(windows), sampleSize)

	bands := ds.Bands()
	samples := make([][]float64, len(bands))
	bar := progressbar.Default(int64(len(windows)), "Sampling "+path)
	for _, placed := range windows {
		bar.Add(1)
		win := placed.Window
		img := make([][]float64, len(bands))
		allNaN := true
		for b, band := range bands {
			buf := make([]float64, win.Width*win.Height)
			if err := band.Read(win.Col, win.Row, buf, win.Width, win.Height); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			if nodata, ok := band.NoData(); ok {
				for i, v := range buf {
					if v == nodata {
						buf[i] = math.NaN()
					}
				}
			}
			for _, v := range buf {
				if !math.IsNaN(v) {
					allNaN = false
					break
				}
			}
			img[b] = buf
		}
		if allNaN {
			continue
		}
		for b, values := range img {
			n := min(sampleSize, len(values))
			for _, idx := range rng.Perm(len(values))[:n] {
				samples[b] = append(samples[b], values[idx])
			}
		}
	}

	res := make([][2]float64, len(bands))
	for b, values := range samples {
		sorted := validSorted(values)
		res[b] = [2]float64{percentile(sorted, lower), percentile(sorted, upper)}
	}
	logrus.Infof("Percentiles: %v", res)
	return res, nil
}
