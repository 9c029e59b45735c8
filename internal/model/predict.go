package model

import (
	"context"
	"fmt"
)

// PredictOneStep predicts the next value from a scaled window and returns it
// both scaled and in original units.
func PredictOneStep(ctx context.Context, window [][]float64, pkg *Package) (scaled, value float64, err error) {
	predictor, err := pkg.Predictor()
	if err != nil {
		return 0, 0, err
	}
	scaled, err = predictor.Predict(ctx, window)
	if err != nil {
		return 0, 0, err
	}
	return scaled, pkg.Scaler.InverseTransformColumn(pkg.TargetColumn, scaled), nil
}

// PredictWithModel forecasts futureSteps values after datapoint, a flat run
// of steps*features values in original units ordered step-major. Each
// further step shifts the first feature left and appends the last scaled
// prediction. It also returns the test MAE stored in the package.
func PredictWithModel(ctx context.Context, datapoint []float64, pkg *Package, futureSteps int) ([]float64, float64, error) {
	return predictWithModel(ctx, datapoint, pkg, futureSteps, true)
}

// PredictScaledWithModel is PredictWithModel for a datapoint already in
// scaled units. Predictions are still returned in original units.
func PredictScaledWithModel(ctx context.Context, datapoint []float64, pkg *Package, futureSteps int) ([]float64, float64, error) {
	return predictWithModel(ctx, datapoint, pkg, futureSteps, false)
}

func predictWithModel(ctx context.Context, datapoint []float64, pkg *Package, futureSteps int, scale bool) ([]float64, float64, error) {
	if len(datapoint) != pkg.Steps*pkg.Features {
		return nil, 0, fmt.Errorf("%w: got %d values, want %d steps of %d features",
			ErrShapeMismatch, len(datapoint), pkg.Steps, pkg.Features)
	}
	if futureSteps < 1 {
		futureSteps = 1
	}

	window := make([][]float64, pkg.Steps)
	for s := range window {
		window[s] = make([]float64, pkg.Features)
		for f := range window[s] {
			v := datapoint[s*pkg.Features+f]
			if scale {
				v = pkg.Scaler.ScaleColumn(f, v)
			}
			window[s][f] = v
		}
	}

	scaled, value, err := PredictOneStep(ctx, window, pkg)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to predict first step: %w", err)
	}
	predictions := []float64{value}

	for i := 1; i < futureSteps; i++ {
		for s := 0; s < pkg.Steps-1; s++ {
			window[s][0] = window[s+1][0]
		}
		window[pkg.Steps-1][0] = scaled

		scaled, value, err = PredictOneStep(ctx, window, pkg)
		if err != nil {
			return predictions, pkg.TestMAE, fmt.Errorf("failed to predict step %d: %w", i+1, err)
		}
		predictions = append(predictions, value)
	}
	return predictions, pkg.TestMAE, nil
}
