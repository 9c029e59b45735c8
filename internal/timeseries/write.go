package timeseries

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// WriteObservations writes obs in the layout ReadObservations reads back.
func WriteObservations(w io.Writer, obs []Observation, cols Columns, dateLayout string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{cols.Date, cols.Hour, cols.Value, cols.Sensor}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, o := range obs {
		value := ""
		if !math.IsNaN(o.Value) {
			value = strconv.FormatFloat(o.Value, 'f', -1, 64)
		}
		if err := writer.Write([]string{o.Date.Format(dateLayout), strconv.Itoa(o.Hour), value, o.Sensor}); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func WriteObservationsFile(path string, obs []Observation, cols Columns, dateLayout string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create time series file: %w", err)
	}
	if err := WriteObservations(file, obs, cols, dateLayout); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
