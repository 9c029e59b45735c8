// Package timeseries turns station measurements into supervised learning
// datasets: reading, feature extraction, scaling, windowing and splitting.
package timeseries

import (
	"errors"
	"math"
)

var ErrNotEnoughRows = errors.New("not enough rows")

// Frame is a row-major table of float columns. Missing values are NaN.
type Frame struct {
	Columns []string
	Rows    [][]float64
}

func NewFrame(columns ...string) Frame {
	return Frame{Columns: columns}
}

func (f Frame) Len() int {
	return len(f.Rows)
}

func (f Frame) Width() int {
	return len(f.Columns)
}

// ColumnIndex returns -1 when the column does not exist.
func (f Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func (f Frame) Column(name string) ([]float64, bool) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	values := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		values[i] = row[idx]
	}
	return values, true
}

// Slice returns rows [from, to) sharing the underlying row slices.
func (f Frame) Slice(from, to int) Frame {
	return Frame{Columns: f.Columns, Rows: f.Rows[from:to]}
}

func (f *Frame) Append(row ...float64) {
	f.Rows = append(f.Rows, row)
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
