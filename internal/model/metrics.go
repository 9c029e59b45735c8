package model

import (
	"context"
	"fmt"
	"math"

	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"gonum.org/v1/gonum/stat"
)

// Measure scores predictions against ground truth.
type Measure func(yTrue, yPred []float64) float64

func MeanSquaredError(yTrue, yPred []float64) float64 {
	var sum float64
	for i := range yTrue {
		d := yPred[i] - yTrue[i]
		sum += d * d
	}
	return sum / float64(len(yTrue))
}

func MeanAbsoluteError(yTrue, yPred []float64) float64 {
	var sum float64
	for i := range yTrue {
		sum += math.Abs(yPred[i] - yTrue[i])
	}
	return sum / float64(len(yTrue))
}

func MaxError(yTrue, yPred []float64) float64 {
	var worst float64
	for i := range yTrue {
		worst = math.Max(worst, math.Abs(yPred[i]-yTrue[i]))
	}
	return worst
}

// R2 is the coefficient of determination of yPred with respect to yTrue.
func R2(yTrue, yPred []float64) float64 {
	return stat.RSquaredFrom(yPred, yTrue, nil)
}

// MeasureByName resolves the loss names used in training configurations.
func MeasureByName(name string) (Measure, error) {
	switch name {
	case "", "mean_squared_error", "mse":
		return MeanSquaredError, nil
	case "mean_absolute_error", "mae":
		return MeanAbsoluteError, nil
	case "max_error":
		return MaxError, nil
	case "r2":
		return R2, nil
	}
	return nil, fmt.Errorf("unknown measure %q", name)
}

// EvalRegressionPerformance predicts every sample of set and scores the
// predictions in original units. targetCol is the scaler column of the
// target variable.
func EvalRegressionPerformance(ctx context.Context, set timeseries.Set, predictor Predictor, scaler *timeseries.MinMaxScaler, targetCol int, measure Measure) (float64, error) {
	if set.Len() == 0 {
		return math.NaN(), nil
	}
	yTrue := make([]float64, set.Len())
	yPred := make([]float64, set.Len())
	for i, window := range set.X {
		p, err := predictor.Predict(ctx, window)
		if err != nil {
			return 0, fmt.Errorf("failed to predict sample %d: %w", i, err)
		}
		yPred[i] = scaler.InverseTransformColumn(targetCol, p)
		yTrue[i] = scaler.InverseTransformColumn(targetCol, set.Y[i])
	}
	return measure(yTrue, yPred), nil
}
