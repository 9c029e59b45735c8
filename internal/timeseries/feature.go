package timeseries

import (
	"fmt"
	"math"
)

// InterestVariable keeps the rows of targetSensor and forward-fills missing
// values. Leading gaps stay NaN.
func InterestVariable(observations []Observation, targetSensor, varName string) Frame {
	frame := NewFrame(varName)
	last := math.NaN()
	for _, o := range observations {
		if o.Sensor != targetSensor {
			continue
		}
		v := o.Value
		if math.IsNaN(v) {
			v = last
		} else {
			last = v
		}
		frame.Append(v)
	}
	return frame
}

// SeriesToSupervised reframes frame as a supervised learning table. For each
// lag i in nIn..1 it adds the columns shifted down by i, named "{var}_t-{i}",
// then for each lead i in 0..nOut-1 the columns shifted up by i, named
// "{var}_t" or "{var}_t+{i}".
func SeriesToSupervised(frame Frame, nIn, nOut int, dropNaN bool) Frame {
	nVars := frame.Width()
	n := frame.Len()

	var columns []string
	var shifts []int
	for i := nIn; i > 0; i-- {
		for _, c := range frame.Columns {
			columns = append(columns, fmt.Sprintf("%s_t-%d", c, i))
		}
		shifts = append(shifts, i)
	}
	for i := 0; i < nOut; i++ {
		for _, c := range frame.Columns {
			if i == 0 {
				columns = append(columns, c+"_t")
			} else {
				columns = append(columns, fmt.Sprintf("%s_t+%d", c, i))
			}
		}
		shifts = append(shifts, -i)
	}

	out := NewFrame(columns...)
	for r := 0; r < n; r++ {
		row := make([]float64, 0, len(columns))
		for _, s := range shifts {
			src := r - s
			for v := 0; v < nVars; v++ {
				if src < 0 || src >= n {
					row = append(row, math.NaN())
					continue
				}
				row = append(row, frame.Rows[src][v])
			}
		}
		if dropNaN && hasNaN(row) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// DatasetFromSeries scales frame into (0, 1) and reframes it with nSteps lags
// and a single target step.
func DatasetFromSeries(frame Frame, nSteps int) (Frame, *MinMaxScaler, error) {
	if nSteps < 1 {
		return Frame{}, nil, fmt.Errorf("n_steps must be at least 1, got %d", nSteps)
	}
	if frame.Len() <= nSteps {
		return Frame{}, nil, fmt.Errorf("%w: %d rows for %d steps", ErrNotEnoughRows, frame.Len(), nSteps)
	}

	scaler := &MinMaxScaler{}
	scaled, err := scaler.FitTransform(frame)
	if err != nil {
		return Frame{}, nil, err
	}
	reframed := SeriesToSupervised(scaled, nSteps, 1, true)
	if reframed.Len() == 0 {
		return Frame{}, nil, fmt.Errorf("%w: no complete window after dropping missing values", ErrNotEnoughRows)
	}
	return reframed, scaler, nil
}
