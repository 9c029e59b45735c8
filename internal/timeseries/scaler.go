package timeseries

import (
	"errors"
	"fmt"
	"math"
)

var errNotFitted = errors.New("scaler is not fitted")

// MinMaxScaler maps every column linearly into [0, 1] using the minimum and
// maximum seen during Fit. NaN values are ignored when fitting and pass
// through unchanged.
type MinMaxScaler struct {
	Columns []string  `json:"columns"`
	Min     []float64 `json:"data_min"`
	Max     []float64 `json:"data_max"`
}

func (s *MinMaxScaler) Fit(frame Frame) error {
	if frame.Width() == 0 {
		return errors.New("cannot fit scaler on a frame without columns")
	}
	s.Columns = append([]string(nil), frame.Columns...)
	s.Min = make([]float64, frame.Width())
	s.Max = make([]float64, frame.Width())
	for c := range s.Min {
		s.Min[c] = math.NaN()
		s.Max[c] = math.NaN()
	}
	for _, row := range frame.Rows {
		for c, v := range row {
			if math.IsNaN(v) {
				continue
			}
			if math.IsNaN(s.Min[c]) || v < s.Min[c] {
				s.Min[c] = v
			}
			if math.IsNaN(s.Max[c]) || v > s.Max[c] {
				s.Max[c] = v
			}
		}
	}
	return nil
}

func (s *MinMaxScaler) Transform(frame Frame) (Frame, error) {
	if err := s.check(frame.Width()); err != nil {
		return Frame{}, err
	}
	out := Frame{Columns: frame.Columns, Rows: make([][]float64, len(frame.Rows))}
	for r, row := range frame.Rows {
		scaled := make([]float64, len(row))
		for c, v := range row {
			scaled[c] = s.scale(c, v)
		}
		out.Rows[r] = scaled
	}
	return out, nil
}

func (s *MinMaxScaler) FitTransform(frame Frame) (Frame, error) {
	if err := s.Fit(frame); err != nil {
		return Frame{}, err
	}
	return s.Transform(frame)
}

func (s *MinMaxScaler) InverseTransform(frame Frame) (Frame, error) {
	if err := s.check(frame.Width()); err != nil {
		return Frame{}, err
	}
	out := Frame{Columns: frame.Columns, Rows: make([][]float64, len(frame.Rows))}
	for r, row := range frame.Rows {
		restored := make([]float64, len(row))
		for c, v := range row {
			restored[c] = s.InverseTransformColumn(c, v)
		}
		out.Rows[r] = restored
	}
	return out, nil
}

// ScaleColumn scales a single value of column c.
func (s *MinMaxScaler) ScaleColumn(c int, v float64) float64 {
	return s.scale(c, v)
}

// InverseTransformColumn maps a scaled value of column c back to original
// units.
func (s *MinMaxScaler) InverseTransformColumn(c int, v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return v*s.span(c) + s.Min[c]
}

func (s *MinMaxScaler) scale(c int, v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return (v - s.Min[c]) / s.span(c)
}

// span is 1 for constant columns so they map to 0.
func (s *MinMaxScaler) span(c int) float64 {
	d := s.Max[c] - s.Min[c]
	if d == 0 || math.IsNaN(d) {
		return 1
	}
	return d
}

func (s *MinMaxScaler) check(width int) error {
	if len(s.Min) == 0 {
		return errNotFitted
	}
	if width != len(s.Min) {
		return fmt.Errorf("scaler fitted on %d columns, got %d", len(s.Min), width)
	}
	return nil
}
