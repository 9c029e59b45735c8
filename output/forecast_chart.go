package output

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/sirupsen/logrus"
)

type ChartOptions struct {
	Width  int
	Height int
	Title  string
	// Unit labels the y axis.
	Unit string
}

func (o ChartOptions) withDefaults() ChartOptions {
	if o.Width <= 0 {
		o.Width = 800
	}
	if o.Height <= 0 {
		o.Height = 400
	}
	return o
}

const margin = 50.0

func normalize(value, min, max float64) float64 {
	if max == min {
		return 0.5
	}
	return (value - min) / (max - min)
}

func valueRange(series ...[]float64) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, v := range s {
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi, !math.IsInf(lo, 1)
}

// RenderForecastChart draws history in grey followed by the forecast in red
// and saves the chart as a PNG.
func RenderForecastChart(path string, history, forecast []float64, opts ChartOptions) error {
	opts = opts.withDefaults()
	lo, hi, ok := valueRange(history, forecast)
	if !ok {
		return fmt.Errorf("nothing to plot")
	}
	pad := (hi - lo) * 0.05
	lo, hi = lo-pad, hi+pad

	w, h := float64(opts.Width), float64(opts.Height)
	total := len(history) + len(forecast)
	x := func(i int) float64 {
		if total == 1 {
			return margin + (w-2*margin)/2
		}
		return margin + float64(i)/float64(total-1)*(w-2*margin)
	}
	y := func(v float64) float64 {
		return h - margin - normalize(v, lo, hi)*(h-2*margin)
	}

	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	// Grid and y labels
	dc.SetLineWidth(1)
	for i := 0; i <= 4; i++ {
		v := lo + (hi-lo)*float64(i)/4
		dc.SetRGB(0.9, 0.9, 0.9)
		dc.DrawLine(margin, y(v), w-margin, y(v))
		dc.Stroke()
		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(fmt.Sprintf("%.2f", v), margin-5, y(v), 1, 0.5)
	}
	dc.SetRGB(0, 0, 0)
	dc.DrawLine(margin, h-margin, w-margin, h-margin)
	dc.DrawLine(margin, margin, margin, h-margin)
	dc.Stroke()

	drawSeries := func(from int, values []float64, prev *float64) {
		started := false
		if prev != nil {
			dc.MoveTo(x(from-1), y(*prev))
			started = true
		}
		for i, v := range values {
			if math.IsNaN(v) {
				started = false
				continue
			}
			if started {
				dc.LineTo(x(from+i), y(v))
			} else {
				dc.MoveTo(x(from+i), y(v))
				started = true
			}
		}
		dc.Stroke()
		for i, v := range values {
			if !math.IsNaN(v) {
				dc.DrawCircle(x(from+i), y(v), 2.5)
				dc.Fill()
			}
		}
	}

	dc.SetLineWidth(2)
	dc.SetRGB(0.55, 0.55, 0.55)
	drawSeries(0, history, nil)

	var last *float64
	if n := len(history); n > 0 && !math.IsNaN(history[n-1]) {
		last = &history[n-1]
	}
	dc.SetRGB(0.85, 0.1, 0.1)
	drawSeries(len(history), forecast, last)

	// Legend
	dc.SetRGB(0.55, 0.55, 0.55)
	dc.DrawRectangle(w-margin-110, margin-35, 10, 10)
	dc.Fill()
	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored("history", w-margin-95, margin-30, 0, 0.5)
	dc.SetRGB(0.85, 0.1, 0.1)
	dc.DrawRectangle(w-margin-45, margin-35, 10, 10)
	dc.Fill()
	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored("forecast", w-margin-30, margin-30, 0, 0.5)

	if opts.Title != "" {
		dc.DrawStringAnchored(opts.Title, margin, margin-30, 0, 0.5)
	}
	if opts.Unit != "" {
		dc.DrawStringAnchored(opts.Unit, margin, h-margin/2, 0, 0.5)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("failed to save chart: %w", err)
	}
	logrus.Infof("forecast chart saved to %s", path)
	return nil
}
