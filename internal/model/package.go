package model

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/timeseries"
)

type Kind string

const (
	KindLinear Kind = "linear"
	// KindRemote models are served by a forecaster service at Package.Remote.
	KindRemote Kind = "remote"
)

// Package bundles a trained model with the scaler used to prepare its
// inputs and the test error measured after training.
type Package struct {
	Kind         Kind                     `json:"kind"`
	Linear       *Linear                  `json:"linear,omitempty"`
	Remote       string                   `json:"remote,omitempty"`
	Scaler       *timeseries.MinMaxScaler `json:"scaler"`
	TargetColumn int                      `json:"target_column"`
	Steps        int                      `json:"steps"`
	Features     int                      `json:"features"`
	TestMAE      float64                  `json:"test_mae"`
	CreatedAt    time.Time                `json:"created_at"`

	remote Predictor
}

// Attach sets the predictor used for remote packages.
func (p *Package) Attach(predictor Predictor) {
	p.remote = predictor
}

func (p *Package) Predictor() (Predictor, error) {
	switch p.Kind {
	case KindLinear:
		if p.Linear == nil {
			return nil, fmt.Errorf("linear package without model")
		}
		return p.Linear, nil
	case KindRemote:
		if p.remote == nil {
			return nil, fmt.Errorf("remote package %s is not connected", p.Remote)
		}
		return p.remote, nil
	}
	return nil, fmt.Errorf("unknown package kind %q", p.Kind)
}

// Validate checks that the package shapes agree with each other and with the
// scaler.
func (p *Package) Validate() error {
	if p.Scaler == nil || len(p.Scaler.Min) == 0 {
		return fmt.Errorf("package has no fitted scaler")
	}
	if p.Steps < 1 || p.Features < 1 {
		return fmt.Errorf("package has invalid input shape (%d, %d)", p.Steps, p.Features)
	}
	if len(p.Scaler.Max) != len(p.Scaler.Min) {
		return fmt.Errorf("package scaler has %d minimums and %d maximums", len(p.Scaler.Min), len(p.Scaler.Max))
	}
	if p.Features > len(p.Scaler.Min) {
		return fmt.Errorf("package has %d features but its scaler covers %d columns", p.Features, len(p.Scaler.Min))
	}
	if p.TargetColumn < 0 || p.TargetColumn >= len(p.Scaler.Min) {
		return fmt.Errorf("package target column %d out of range", p.TargetColumn)
	}
	if p.Kind == KindLinear && p.Linear != nil {
		if p.Linear.Steps != p.Steps || p.Linear.Features != p.Features {
			return fmt.Errorf("linear model shape (%d, %d) does not match package shape (%d, %d)",
				p.Linear.Steps, p.Linear.Features, p.Steps, p.Features)
		}
		if len(p.Linear.Weights) != p.Steps*p.Features {
			return fmt.Errorf("linear model has %d weights, want %d", len(p.Linear.Weights), p.Steps*p.Features)
		}
	}
	return nil
}

func SavePackage(path string, pkg *Package) error {
	if err := pkg.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model package: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model package: %w", err)
	}
	return nil
}

func LoadPackage(path string) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model package: %w", err)
	}
	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to decode model package %s: %w", path, err)
	}
	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model package %s: %w", path, err)
	}
	return &pkg, nil
}

// LoadScaler reads a scaler written next to a trained package.
func LoadScaler(path string) (*timeseries.MinMaxScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler: %w", err)
	}
	var scaler timeseries.MinMaxScaler
	if err := json.Unmarshal(data, &scaler); err != nil {
		return nil, fmt.Errorf("failed to decode scaler %s: %w", path, err)
	}
	if len(scaler.Min) == 0 || len(scaler.Min) != len(scaler.Max) {
		return nil, fmt.Errorf("scaler %s is not fitted", path)
	}
	return &scaler, nil
}
