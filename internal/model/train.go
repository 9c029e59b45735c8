package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/config"
	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const TimestampLayout = "2006-01-02_15:04:05"

// Results is the row written to the results CSV of a training run.
type Results struct {
	RunID             string  `csv:"run_id"`
	Sensor            string  `csv:"sensor"`
	TargetVariable    string  `csv:"target_variable"`
	BaseNNetConfig    string  `csv:"base_nnet_config"`
	MidLayersConfig   string  `csv:"mid_layers_config"`
	ModelLoss         string  `csv:"model_loss"`
	Optimizer         string  `csv:"optimizer"`
	EarlyStopPatience int     `csv:"early_stop_patience"`
	Epochs            int     `csv:"epochs"`
	TrainMAE          float64 `csv:"train_mae"`
	TestMAE           float64 `csv:"test_mae"`
	TrainR2           float64 `csv:"train_r2"`
	TestR2            float64 `csv:"test_r2"`
	TrainTime         float64 `csv:"train_time"`
	TrainEvalTime     float64 `csv:"train_eval_time"`
	TestEvalTime      float64 `csv:"test_eval_time"`
	TrainsetSize      int     `csv:"trainset_size"`
}

// Run describes the files produced by Train.
type Run struct {
	Results     Results
	ScalerPath  string
	HistoryPath string
	ResultsPath string
	PackagePath string
	Package     *Package
}

// Prepared holds the dataset of a configuration ready for fitting.
type Prepared struct {
	Reframed timeseries.Frame
	Splits   timeseries.Splits
	Scaler   *timeseries.MinMaxScaler
	Features int
}

// Prepare reads the input CSV of cfg and builds the scaled, split dataset.
func Prepare(cfg config.LSTMTrainingConfig) (Prepared, error) {
	cols := timeseries.Columns{Date: cfg.DateCol, Hour: cfg.HrCol, Value: cfg.NumericVar, Sensor: cfg.SensorVar}
	observations, err := timeseries.ReadObservationsFile(cfg.InputCSV, cols, cfg.DateLayout)
	if err != nil {
		return Prepared{}, err
	}
	logrus.Debugf("dataset of %d rows read", len(observations))

	series := timeseries.InterestVariable(observations, cfg.TargetSensor, cfg.NumericVar)
	logrus.Debugf("got time series of %d rows with columns %v", series.Len(), series.Columns)

	reframed, scaler, err := timeseries.DatasetFromSeries(series, cfg.NPastSteps)
	if err != nil {
		return Prepared{}, err
	}
	logrus.Debugf("got supervised dataset of %d rows with columns %v", reframed.Len(), reframed.Columns)

	splits, err := timeseries.TrainValTestSplit(reframed, cfg.NPastSteps, series.Width(), cfg.NumericVar, cfg.AscendingSampling)
	if err != nil {
		return Prepared{}, err
	}
	logrus.Debugf("split sizes train %d val %d test %d", splits.Train.Len(), splits.Val.Len(), splits.Test.Len())
	return Prepared{Reframed: reframed, Splits: splits, Scaler: scaler, Features: series.Width()}, nil
}

// Train runs the full training pipeline for cfg and writes the scaler,
// history, results and model package next to each other.
func Train(ctx context.Context, cfg config.LSTMTrainingConfig, progress bool) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training config: %w", err)
	}
	for _, dir := range []string{cfg.OutputModelsPath, cfg.OutputResultsPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	stamp := time.Now().Format(TimestampLayout)
	name := cfg.String()
	modelFile := func(kind, ext string) string {
		return filepath.Join(cfg.OutputModelsPath, fmt.Sprintf("%s_%s_%s.%s", name, kind, stamp, ext))
	}
	run := &Run{
		ScalerPath:  modelFile("scaler", "json"),
		HistoryPath: modelFile("history", "json"),
		PackagePath: modelFile("model_package", "json"),
		ResultsPath: filepath.Join(cfg.OutputResultsPath, fmt.Sprintf("%s_results_%s.csv", name, stamp)),
	}

	prepared, err := Prepare(cfg)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(run.ScalerPath, prepared.Scaler); err != nil {
		return nil, err
	}

	splits := prepared.Splits
	if splits.Train.Len() == 0 || splits.Test.Len() == 0 {
		return nil, fmt.Errorf("%w: train %d test %d samples", timeseries.ErrNotEnoughRows, splits.Train.Len(), splits.Test.Len())
	}
	linear := NewLinear(cfg.NPastSteps, prepared.Features)
	tic := time.Now()
	history, err := linear.Fit(splits.Train, splits.Val, FitOptions{
		Epochs:       cfg.Epochs,
		Patience:     cfg.EarlyStopPatience,
		Loss:         cfg.ModelLoss,
		Optimizer:    cfg.Optimizer,
		LearningRate: cfg.LearningRate,
		Progress:     progress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}
	trainTime := time.Since(tic)
	logrus.Debugf("trained model took %s for %d datapoints", trainTime, splits.Train.Len())
	if err := writeJSON(run.HistoryPath, history); err != nil {
		return nil, err
	}

	const target = 0
	eval := func(set timeseries.Set, measure Measure) (float64, time.Duration, error) {
		tic := time.Now()
		v, err := EvalRegressionPerformance(ctx, set, linear, prepared.Scaler, target, measure)
		return v, time.Since(tic), err
	}
	trainMAE, trainEvalTime, err := eval(splits.Train, MeanAbsoluteError)
	if err != nil {
		return nil, err
	}
	testMAE, testEvalTime, err := eval(splits.Test, MeanAbsoluteError)
	if err != nil {
		return nil, err
	}
	trainR2, _, err := eval(splits.Train, R2)
	if err != nil {
		return nil, err
	}
	testR2, _, err := eval(splits.Test, R2)
	if err != nil {
		return nil, err
	}
	logrus.Infof("train MAE %.4f test MAE %.4f train R2 %.4f test R2 %.4f", trainMAE, testMAE, trainR2, testR2)

	run.Results = Results{
		RunID:             uuid.NewString(),
		Sensor:            cfg.TargetSensor,
		TargetVariable:    cfg.NumericVar,
		BaseNNetConfig:    cfg.BaseConfig.String(),
		MidLayersConfig:   cfg.MidLayersConfig.String(),
		ModelLoss:         cfg.ModelLoss,
		Optimizer:         cfg.Optimizer,
		EarlyStopPatience: cfg.EarlyStopPatience,
		Epochs:            cfg.Epochs,
		TrainMAE:          trainMAE,
		TestMAE:           testMAE,
		TrainR2:           trainR2,
		TestR2:            testR2,
		TrainTime:         trainTime.Seconds(),
		TrainEvalTime:     trainEvalTime.Seconds(),
		TestEvalTime:      testEvalTime.Seconds(),
		TrainsetSize:      splits.Train.Len(),
	}
	if err := writeResults(run.ResultsPath, run.Results); err != nil {
		return nil, err
	}

	run.Package = &Package{
		Kind:         KindLinear,
		Linear:       linear,
		Scaler:       prepared.Scaler,
		TargetColumn: target,
		Steps:        cfg.NPastSteps,
		Features:     prepared.Features,
		TestMAE:      testMAE,
		CreatedAt:    time.Now().UTC(),
	}
	if err := SavePackage(run.PackagePath, run.Package); err != nil {
		return nil, err
	}
	return run, nil
}

func writeResults(path string, results Results) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()
	if err := gocsv.MarshalFile(&[]Results{results}, file); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
