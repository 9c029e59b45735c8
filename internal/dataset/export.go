// Package dataset writes prepared training datasets for use outside the
// trainer.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"
)

// SampleRow is one windowed sample of a split.
type SampleRow struct {
	Split  string    `parquet:"split"`
	Index  int64     `parquet:"index"`
	Window []float64 `parquet:"window"`
	Target float64   `parquet:"target"`
}

func splitRows(name string, set timeseries.Set) []SampleRow {
	rows := make([]SampleRow, set.Len())
	for i, window := range set.X {
		var flat []float64
		for _, step := range window {
			flat = append(flat, step...)
		}
		rows[i] = SampleRow{Split: name, Index: int64(i), Window: flat, Target: set.Y[i]}
	}
	return rows
}

// ExportSplitsParquet writes train, val and test samples to a single
// snappy compressed Parquet file.
func ExportSplitsParquet(path string, splits timeseries.Splits) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer func() {
		if err := output.Close(); err != nil {
			logrus.Error(err)
		}
	}()

	writer := parquet.NewGenericWriter[SampleRow](output, parquet.Compression(&parquet.Snappy))
	for _, part := range []struct {
		name string
		set  timeseries.Set
	}{
		{"train", splits.Train},
		{"val", splits.Val},
		{"test", splits.Test},
	} {
		rows := splitRows(part.name, part.set)
		if _, err := writer.Write(rows); err != nil {
			return fmt.Errorf("failed to write %s split: %w", part.name, err)
		}
		logrus.Infof("wrote %d %s samples", len(rows), part.name)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// WriteFrameCSV writes frame with a header row. Missing values are left
// empty.
func WriteFrameCSV(w io.Writer, frame timeseries.Frame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(frame.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, frame.Width())
	for _, row := range frame.Rows {
		for i, v := range row {
			if math.IsNaN(v) {
				record[i] = ""
				continue
			}
			record[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
