package output

import (
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, path string) image.Image {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	img, err := png.Decode(file)
	require.NoError(t, err)
	return img
}

func countReddish(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r>>8 > 180 && g>>8 < 80 && bl>>8 < 80 {
				n++
			}
		}
	}
	return n
}

func TestRenderForecastChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts", "forecast.png")
	history := []float64{21.5, 22, math.NaN(), 23.1, 22.8}
	forecast := []float64{22.5, 22.1, 21.9}

	require.NoError(t, RenderForecastChart(path, history, forecast, ChartOptions{Width: 400, Height: 200, Title: "A620 temp"}))

	img := decode(t, path)
	assert.Equal(t, image.Rect(0, 0, 400, 200), img.Bounds())
	assert.Positive(t, countReddish(img))
}

func TestRenderForecastChartDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecast.png")
	require.NoError(t, RenderForecastChart(path, nil, []float64{5}, ChartOptions{}))
	assert.Equal(t, image.Rect(0, 0, 800, 400), decode(t, path).Bounds())
}

func TestRenderForecastChartEmpty(t *testing.T) {
	err := RenderForecastChart(filepath.Join(t.TempDir(), "x.png"), []float64{math.NaN()}, nil, ChartOptions{})
	assert.ErrorContains(t, err, "nothing to plot")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.5, normalize(3, 3, 3))
	assert.Equal(t, 0.25, normalize(1, 0, 4))
}
