package chips

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

type manifestRow struct {
	Filename string  `csv:"filename"`
	X        int     `csv:"x"`
	Y        int     `csv:"y"`
	MinX     float64 `csv:"min_x"`
	MinY     float64 `csv:"min_y"`
	MaxX     float64 `csv:"max_x"`
	MaxY     float64 `csv:"max_y"`
}

// WriteManifest writes one CSV row per chip with its file name and
// footprint bounds.
func WriteManifest(path string, chips []Chip, kind, basename string) error {
	rows := make([]manifestRow, len(chips))
	for i, c := range chips {
		b := c.Geometry.Bound()
		rows[i] = manifestRow{
			Filename: c.Filename(basename, kind),
			X:        c.X,
			Y:        c.Y,
			MinX:     b.Min.X(),
			MinY:     b.Min.Y(),
			MaxX:     b.Max.X(),
			MaxY:     b.Max.Y(),
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer file.Close()
	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
