// Package config loads training run configurations from JSON files.
//
// The key names follow the configuration files used by the training
// scripts, so existing files load unchanged:
//
//	{
//	  "input_csv": "data/sudeste.csv",
//	  "output_log_file": "training.log",
//	  "output_models_path": "models/",
//	  "output_results_path": "results/",
//	  "early_stop_patience": 10,
//	  "epochs": 5,
//	  "model_loss": "mean_squared_error",
//	  "optimizer": "adam",
//	  "n_past_steps": 5,
//	  ...
//	}
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type TrainingConfig struct {
	ConfigFilePath    string `mapstructure:"-"`
	InputCSV          string `mapstructure:"input_csv"`
	OutputLogFile     string `mapstructure:"output_log_file"`
	OutputModelsPath  string `mapstructure:"output_models_path"`
	OutputResultsPath string `mapstructure:"output_results_path"`
	EarlyStopPatience int    `mapstructure:"early_stop_patience"`
	Epochs            int    `mapstructure:"epochs"`
	ModelLoss         string `mapstructure:"model_loss"`
	Optimizer         string `mapstructure:"optimizer"`
}

type LayerConfig struct {
	Mult        int     `mapstructure:"mult"`
	DropoutRate float64 `mapstructure:"dropout_rate"`
}

func (l LayerConfig) String() string {
	return fmt.Sprintf("m%d-d%g", l.Mult, l.DropoutRate)
}

type BaseConfig struct {
	FirstLayer LayerConfig `mapstructure:"first_layer"`
	LastLayer  LayerConfig `mapstructure:"last_layer"`
}

func (b BaseConfig) String() string {
	return fmt.Sprintf("%s-%s", b.FirstLayer, b.LastLayer)
}

type MidLayersConfig struct {
	NLayers     int     `mapstructure:"n_layers"`
	Mult        int     `mapstructure:"mult"`
	DropoutRate float64 `mapstructure:"dropout_rate"`
}

func (m MidLayersConfig) String() string {
	return fmt.Sprintf("n%d-m%d-d%g", m.NLayers, m.Mult, m.DropoutRate)
}

type LSTMTrainingConfig struct {
	TrainingConfig    `mapstructure:",squash"`
	NPastSteps        int             `mapstructure:"n_past_steps"`
	DateCol           string          `mapstructure:"date_col"`
	HrCol             string          `mapstructure:"hr_col"`
	NumericVar        string          `mapstructure:"numeric_var"`
	SensorVar         string          `mapstructure:"sensor_var"`
	TargetSensor      string          `mapstructure:"target_sensor"`
	BaseConfig        BaseConfig      `mapstructure:"base_config"`
	MidLayersConfig   MidLayersConfig `mapstructure:"mid_layers_config"`
	DateLayout        string          `mapstructure:"date_layout"`
	AscendingSampling bool            `mapstructure:"ascending_sampling"`
	LearningRate      float64         `mapstructure:"learning_rate"`
}

type HyperoptPars struct {
	MidLayers        []int     `mapstructure:"mid_layers"`
	Mults            []int     `mapstructure:"mults"`
	DropoutRateRange []float64 `mapstructure:"dropout_rate_range"`
	MaxEvals         int       `mapstructure:"max_evals"`
}

type LSTMHyperoptTrainingConfig struct {
	LSTMTrainingConfig `mapstructure:",squash"`
	HyperoptPars       HyperoptPars `mapstructure:"hyperopt_pars"`
}

func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		OutputLogFile:     "training.log",
		OutputModelsPath:  "models/",
		OutputResultsPath: "results/",
		EarlyStopPatience: 10,
		Epochs:            5,
	}
}

func DefaultLSTMTrainingConfig() LSTMTrainingConfig {
	return LSTMTrainingConfig{
		TrainingConfig: DefaultTrainingConfig(),
		NPastSteps:     5,
		DateCol:        "date",
		HrCol:          "hr",
		NumericVar:     "temp",
		SensorVar:      "inme",
		TargetSensor:   "A620",
		DateLayout:     "2006-01-02",
		LearningRate:   0.01,
	}
}

func DefaultLSTMHyperoptTrainingConfig() LSTMHyperoptTrainingConfig {
	return LSTMHyperoptTrainingConfig{LSTMTrainingConfig: DefaultLSTMTrainingConfig()}
}

// LoadTrainingConfig reads the common training keys. An empty path returns
// the defaults.
func LoadTrainingConfig(path string) (TrainingConfig, error) {
	cfg := DefaultTrainingConfig()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigFilePath = path
	return cfg, nil
}

func LoadLSTMTrainingConfig(path string) (LSTMTrainingConfig, error) {
	cfg := DefaultLSTMTrainingConfig()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigFilePath = path
	return cfg, nil
}

func LoadLSTMHyperoptTrainingConfig(path string) (LSTMHyperoptTrainingConfig, error) {
	cfg := DefaultLSTMHyperoptTrainingConfig()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigFilePath = path
	return cfg, nil
}

// load decodes the JSON file at path over out, which already holds the
// defaults. Keys missing from the file keep their default value.
func load(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

func (c TrainingConfig) String() string {
	return fmt.Sprintf("esp:%d_eps:%d_loss:%s_opt:%s",
		c.EarlyStopPatience,
		c.Epochs,
		c.ModelLoss,
		c.Optimizer,
	)
}

func (c TrainingConfig) Validate() error {
	var errs []error
	if c.InputCSV == "" {
		errs = append(errs, errors.New("input_csv is required"))
	}
	if c.Epochs < 1 {
		errs = append(errs, fmt.Errorf("epochs must be at least 1, got %d", c.Epochs))
	}
	if c.EarlyStopPatience < 0 {
		errs = append(errs, fmt.Errorf("early_stop_patience must not be negative, got %d", c.EarlyStopPatience))
	}
	return errors.Join(errs...)
}

func (c LSTMTrainingConfig) String() string {
	return fmt.Sprintf("%s_pstps:%d_sensor:%s_var:%s_basenet:%s_midnet:%s",
		c.TrainingConfig.String(),
		c.NPastSteps,
		c.TargetSensor,
		c.NumericVar,
		c.BaseConfig,
		c.MidLayersConfig,
	)
}

func (c LSTMTrainingConfig) Validate() error {
	err := c.TrainingConfig.Validate()
	if c.NPastSteps < 1 {
		err = errors.Join(err, fmt.Errorf("n_past_steps must be at least 1, got %d", c.NPastSteps))
	}
	if c.NumericVar == "" {
		err = errors.Join(err, errors.New("numeric_var is required"))
	}
	return err
}

func (c LSTMHyperoptTrainingConfig) String() string {
	p := c.HyperoptPars
	return fmt.Sprintf("%s_hyperoptpars:%s_%s_%s_%d",
		c.LSTMTrainingConfig.String(),
		joinValues(p.MidLayers),
		joinValues(p.Mults),
		joinValues(p.DropoutRateRange),
		p.MaxEvals,
	)
}

// joinValues renders values dash separated so they can be part of a file name.
func joinValues[T int | float64](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "-")
}
