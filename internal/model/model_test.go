package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dymaxionlabs/satlomas/internal/config"
	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearSet(n int) timeseries.Set {
	var set timeseries.Set
	for i := 0; i < n; i++ {
		a := float64(i%7) / 7
		b := float64(i%5) / 5
		set.X = append(set.X, [][]float64{{a}, {b}})
		set.Y = append(set.Y, 0.5*a+0.3*b+0.1)
	}
	return set
}

func TestMetrics(t *testing.T) {
	yTrue := []float64{1, 2, 3, 4}
	yPred := []float64{1, 3, 3, 2}

	assert.Equal(t, 0.75, MeanAbsoluteError(yTrue, yPred))
	assert.Equal(t, 2.0, MaxError(yTrue, yPred))
	assert.Equal(t, 1.25, MeanSquaredError(yTrue, yPred))
	assert.InDelta(t, 0.0, R2(yTrue, yPred), 1e-9)
	assert.InDelta(t, 1.0, R2(yTrue, yTrue), 1e-9)

	_, err := MeasureByName("huber")
	assert.Error(t, err)
}

func TestLinearRidgeRecoversCoefficients(t *testing.T) {
	l := NewLinear(2, 1)
	history, err := l.Fit(linearSet(60), linearSet(20), FitOptions{Optimizer: "ridge", Ridge: 1e-9})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, l.Weights[0], 1e-4)
	assert.InDelta(t, 0.3, l.Weights[1], 1e-4)
	assert.InDelta(t, 0.1, l.Bias, 1e-4)
	require.Len(t, history.Loss, 1)
	require.Len(t, history.ValLoss, 1)
	assert.Less(t, history.ValLoss[0], 1e-8)
}

func TestLinearGradientDescentReducesLoss(t *testing.T) {
	for _, optimizer := range []string{"sgd", "adam"} {
		t.Run(optimizer, func(t *testing.T) {
			l := NewLinear(2, 1)
			history, err := l.Fit(linearSet(200), linearSet(50), FitOptions{
				Epochs:       30,
				Patience:     30,
				Optimizer:    optimizer,
				LearningRate: 0.05,
			})
			require.NoError(t, err)
			require.NotEmpty(t, history.ValLoss)
			assert.Less(t, history.ValLoss[len(history.ValLoss)-1], history.ValLoss[0])
		})
	}
}

func TestLinearEarlyStoppingRestoresBest(t *testing.T) {
	l := NewLinear(2, 1)
	history, err := l.Fit(linearSet(100), linearSet(30), FitOptions{
		Epochs:       50,
		Patience:     0,
		Optimizer:    "sgd",
		LearningRate: 5,
		Loss:         "mean_absolute_error",
	})
	require.NoError(t, err)

	best := math.Inf(1)
	for _, v := range history.ValLoss {
		best = math.Min(best, v)
	}
	got := l.score(flatten(linearSet(30).X), linearSet(30).Y, MeanAbsoluteError)
	assert.InDelta(t, best, got, 1e-9)
}

func TestLinearFitErrors(t *testing.T) {
	l := NewLinear(2, 1)
	_, err := l.Fit(timeseries.Set{}, timeseries.Set{}, FitOptions{})
	assert.ErrorIs(t, err, timeseries.ErrNotEnoughRows)

	_, err = l.Fit(linearSet(10), timeseries.Set{}, FitOptions{Optimizer: "rmsprop"})
	assert.ErrorContains(t, err, "rmsprop")
}

func TestLinearPredictShape(t *testing.T) {
	l := NewLinear(2, 1)
	_, err := l.Predict(context.Background(), [][]float64{{1}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = l.Predict(context.Background(), [][]float64{{1, 2}, {3, 4}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func sumPackage() *Package {
	return &Package{
		Kind:     KindLinear,
		Linear:   &Linear{Steps: 2, Features: 1, Weights: []float64{1, 1}},
		Scaler:   &timeseries.MinMaxScaler{Columns: []string{"temp"}, Min: []float64{0}, Max: []float64{10}},
		Steps:    2,
		Features: 1,
		TestMAE:  0.42,
	}
}

func TestPredictWithModelRollsWindow(t *testing.T) {
	predictions, mae, err := PredictWithModel(context.Background(), []float64{1, 2}, sumPackage(), 3)
	require.NoError(t, err)

	require.Len(t, predictions, 3)
	assert.InDelta(t, 3, predictions[0], 1e-9)
	assert.InDelta(t, 5, predictions[1], 1e-9)
	assert.InDelta(t, 8, predictions[2], 1e-9)
	assert.Equal(t, 0.42, mae)
}

func TestPredictScaledWithModelSkipsScaling(t *testing.T) {
	predictions, mae, err := PredictScaledWithModel(context.Background(), []float64{0.1, 0.2}, sumPackage(), 2)
	require.NoError(t, err)

	unscaled, _, err := PredictWithModel(context.Background(), []float64{1, 2}, sumPackage(), 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, unscaled, predictions, 1e-9)
	assert.Equal(t, 0.42, mae)

	_, _, err = PredictScaledWithModel(context.Background(), []float64{0.1}, sumPackage(), 1)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPredictWithModelEdgeCases(t *testing.T) {
	predictions, _, err := PredictWithModel(context.Background(), []float64{1, 2}, sumPackage(), 0)
	require.NoError(t, err)
	assert.Len(t, predictions, 1)

	_, _, err = PredictWithModel(context.Background(), []float64{1, 2, 3}, sumPackage(), 1)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	pkg := sumPackage()
	pkg.Kind = KindRemote
	_, _, err = PredictWithModel(context.Background(), []float64{1, 2}, pkg, 1)
	assert.ErrorContains(t, err, "not connected")
}

type failingPredictor struct{}

func (failingPredictor) Predict(context.Context, [][]float64) (float64, error) {
	return 0, errors.New("unavailable")
}

func (failingPredictor) InputShape() (int, int) { return 2, 1 }

func TestPredictWithModelRemoteFailure(t *testing.T) {
	pkg := sumPackage()
	pkg.Kind = KindRemote
	pkg.Attach(failingPredictor{})
	_, _, err := PredictWithModel(context.Background(), []float64{1, 2}, pkg, 2)
	assert.ErrorContains(t, err, "unavailable")
}

func TestPackageSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.json")
	require.NoError(t, SavePackage(path, sumPackage()))

	pkg, err := LoadPackage(path)
	require.NoError(t, err)
	assert.Equal(t, KindLinear, pkg.Kind)
	assert.Equal(t, []float64{1, 1}, pkg.Linear.Weights)
	assert.Equal(t, 10.0, pkg.Scaler.Max[0])

	bad := sumPackage()
	bad.Scaler = nil
	assert.Error(t, SavePackage(path, bad))
}

func TestLoadPackageRejectsInconsistentShapes(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"features wider than scaler": `{"kind":"linear","steps":2,"features":2,"target_column":0,
			"linear":{"steps":2,"features":2,"weights":[1,1,1,1]},
			"scaler":{"columns":["temp"],"data_min":[0],"data_max":[10]}}`,
		"linear shape": `{"kind":"linear","steps":2,"features":1,"target_column":0,
			"linear":{"steps":3,"features":1,"weights":[1,1,1]},
			"scaler":{"columns":["temp"],"data_min":[0],"data_max":[10]}}`,
		"weight count": `{"kind":"linear","steps":2,"features":1,"target_column":0,
			"linear":{"steps":2,"features":1,"weights":[1]},
			"scaler":{"columns":["temp"],"data_min":[0],"data_max":[10]}}`,
		"scaler bounds": `{"kind":"linear","steps":2,"features":1,"target_column":0,
			"linear":{"steps":2,"features":1,"weights":[1,1]},
			"scaler":{"columns":["temp"],"data_min":[0],"data_max":[]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := LoadPackage(path)
			assert.Error(t, err)
		})
	}

	bad := sumPackage()
	bad.Features = 2
	bad.Linear = NewLinear(2, 2)
	assert.ErrorContains(t, SavePackage(filepath.Join(dir, "wide.json"), bad), "scaler covers 1 columns")
}

func writeStationCSV(t *testing.T, dir string, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("inme,date,hr,temp\n")
	for i := 0; i < rows; i++ {
		day := 1 + i/24
		hour := i % 24
		temp := 20 + 5*math.Sin(float64(i)/4)
		fmt.Fprintf(&b, "A620,2007-11-%02d,%d,%.3f\n", day, hour, temp)
		fmt.Fprintf(&b, "A601,2007-11-%02d,%d,%.3f\n", day, hour, temp+3)
	}
	path := filepath.Join(dir, "station.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func TestTrainWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultLSTMTrainingConfig()
	cfg.InputCSV = writeStationCSV(t, dir, 120)
	cfg.OutputModelsPath = filepath.Join(dir, "models")
	cfg.OutputResultsPath = filepath.Join(dir, "results")
	cfg.Optimizer = "ridge"
	cfg.ModelLoss = "mean_squared_error"
	cfg.NPastSteps = 4

	run, err := Train(context.Background(), cfg, false)
	require.NoError(t, err)

	for _, path := range []string{run.ScalerPath, run.HistoryPath, run.ResultsPath, run.PackagePath} {
		assert.FileExists(t, path)
		assert.Contains(t, filepath.Base(path), cfg.String())
		assert.NotContains(t, filepath.Base(path), " ")
	}

	results, err := os.ReadFile(run.ResultsPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(results), "run_id,sensor,target_variable"))

	pkg, err := LoadPackage(run.PackagePath)
	require.NoError(t, err)
	assert.Equal(t, 4, pkg.Steps)
	assert.Equal(t, run.Results.TestMAE, pkg.TestMAE)
	assert.Less(t, run.Results.TestMAE, 1.0)
	assert.Equal(t, "A620", run.Results.Sensor)

	scaler, err := LoadScaler(run.ScalerPath)
	require.NoError(t, err)
	assert.Equal(t, pkg.Scaler.Min, scaler.Min)
	assert.Equal(t, pkg.Scaler.Max, scaler.Max)
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	_, err := Train(context.Background(), config.DefaultLSTMTrainingConfig(), false)
	assert.ErrorContains(t, err, "input_csv")
}
