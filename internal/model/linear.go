package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var ErrShapeMismatch = errors.New("input shape mismatch")

// Predictor produces the next value of a series from a window shaped
// [steps][features]. Inputs and outputs are in scaled units.
type Predictor interface {
	Predict(ctx context.Context, window [][]float64) (float64, error)
	InputShape() (steps, features int)
}

// Linear is an autoregressive model over the flattened window.
type Linear struct {
	Steps    int       `json:"steps"`
	Features int       `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
}

func NewLinear(steps, features int) *Linear {
	return &Linear{
		Steps:    steps,
		Features: features,
		Weights:  make([]float64, steps*features),
	}
}

func (l *Linear) InputShape() (int, int) {
	return l.Steps, l.Features
}

func (l *Linear) Predict(_ context.Context, window [][]float64) (float64, error) {
	if len(window) != l.Steps {
		return 0, fmt.Errorf("%w: got %d steps, want %d", ErrShapeMismatch, len(window), l.Steps)
	}
	y := l.Bias
	for s, step := range window {
		if len(step) != l.Features {
			return 0, fmt.Errorf("%w: got %d features, want %d", ErrShapeMismatch, len(step), l.Features)
		}
		for f, v := range step {
			y += l.Weights[s*l.Features+f] * v
		}
	}
	return y, nil
}

func (l *Linear) predictFlat(x []float64) float64 {
	y := l.Bias
	for i, v := range x {
		y += l.Weights[i] * v
	}
	return y
}

type FitOptions struct {
	Epochs       int
	Patience     int
	Loss         string
	Optimizer    string
	LearningRate float64
	BatchSize    int
	// Ridge is the L2 penalty of the closed form solver.
	Ridge    float64
	Progress bool
}

type History struct {
	Loss    []float64 `json:"loss"`
	ValLoss []float64 `json:"val_loss"`
}

const (
	defaultBatchSize = 32
	defaultRidge     = 1e-3
	adamBeta1        = 0.9
	adamBeta2        = 0.999
	adamEpsilon      = 1e-7
)

// Fit trains the model on train, monitoring val for early stopping. The
// best weights seen are restored at the end.
func (l *Linear) Fit(train, val timeseries.Set, opts FitOptions) (History, error) {
	if train.Len() == 0 {
		return History{}, fmt.Errorf("%w: empty training set", timeseries.ErrNotEnoughRows)
	}
	measure, err := MeasureByName(opts.Loss)
	if err != nil {
		return History{}, err
	}
	if opts.Optimizer == "ridge" {
		return l.fitRidge(train, val, measure, opts)
	}

	step, err := newOptimizer(opts.Optimizer, len(l.Weights)+1, opts.LearningRate)
	if err != nil {
		return History{}, err
	}
	if opts.Epochs < 1 {
		opts.Epochs = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultBatchSize
	}
	// MAE has a usable subgradient, max_error does not and trains as MSE.
	absGrad := opts.Loss == "mean_absolute_error" || opts.Loss == "mae"

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(opts.Epochs), "training")
	}

	xTrain := flatten(train.X)
	var history History
	best := math.Inf(1)
	bestWeights := l.snapshot()
	wait := 0
	grad := make([]float64, len(l.Weights)+1)

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for start := 0; start < len(xTrain); start += opts.BatchSize {
			end := min(start+opts.BatchSize, len(xTrain))
			clear(grad)
			for i := start; i < end; i++ {
				diff := l.predictFlat(xTrain[i]) - train.Y[i]
				g := 2 * diff
				if absGrad {
					g = sign(diff)
				}
				for j, v := range xTrain[i] {
					grad[j] += g * v
				}
				grad[len(grad)-1] += g
			}
			n := float64(end - start)
			for j := range grad {
				grad[j] /= n
			}
			step(l, grad)
		}

		loss := l.score(xTrain, train.Y, measure)
		history.Loss = append(history.Loss, loss)
		monitored := loss
		if val.Len() > 0 {
			monitored = l.score(flatten(val.X), val.Y, measure)
			history.ValLoss = append(history.ValLoss, monitored)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
		logrus.Debugf("epoch %d: loss %.6f monitored %.6f", epoch+1, loss, monitored)

		if monitored < best {
			best = monitored
			bestWeights = l.snapshot()
			wait = 0
			continue
		}
		wait++
		if wait >= opts.Patience {
			logrus.Infof("early stopping at epoch %d", epoch+1)
			break
		}
	}
	l.restore(bestWeights)
	return history, nil
}

// fitRidge solves (XᵀX + λI)w = Xᵀy with an unpenalised bias column.
func (l *Linear) fitRidge(train, val timeseries.Set, measure Measure, opts FitOptions) (History, error) {
	lambda := opts.Ridge
	if lambda <= 0 {
		lambda = defaultRidge
	}
	xTrain := flatten(train.X)
	d := len(l.Weights)
	n := len(xTrain)

	x := mat.NewDense(n, d+1, nil)
	for i, row := range xTrain {
		for j, v := range row {
			x.Set(i, j, v)
		}
		x.Set(i, d, 1)
	}
	y := mat.NewVecDense(n, append([]float64(nil), train.Y...))

	var a mat.Dense
	a.Mul(x.T(), x)
	for j := 0; j < d; j++ {
		a.Set(j, j, a.At(j, j)+lambda)
	}
	var b mat.VecDense
	b.MulVec(x.T(), y)

	var w mat.VecDense
	if err := w.SolveVec(&a, &b); err != nil {
		return History{}, fmt.Errorf("failed to solve least squares: %w", err)
	}
	for j := 0; j < d; j++ {
		l.Weights[j] = w.AtVec(j)
	}
	l.Bias = w.AtVec(d)

	history := History{Loss: []float64{l.score(xTrain, train.Y, measure)}}
	if val.Len() > 0 {
		history.ValLoss = []float64{l.score(flatten(val.X), val.Y, measure)}
	}
	return history, nil
}

func (l *Linear) score(x [][]float64, y []float64, measure Measure) float64 {
	pred := make([]float64, len(x))
	for i, row := range x {
		pred[i] = l.predictFlat(row)
	}
	return measure(y, pred)
}

func (l *Linear) snapshot() []float64 {
	return append(append([]float64(nil), l.Weights...), l.Bias)
}

func (l *Linear) restore(params []float64) {
	copy(l.Weights, params[:len(l.Weights)])
	l.Bias = params[len(l.Weights)]
}

// updateFunc applies one gradient step. The last gradient entry is the bias.
type updateFunc func(l *Linear, grad []float64)

func newOptimizer(name string, size int, lr float64) (updateFunc, error) {
	if lr <= 0 {
		lr = 0.01
	}
	switch name {
	case "sgd":
		return func(l *Linear, grad []float64) {
			for j := range l.Weights {
				l.Weights[j] -= lr * grad[j]
			}
			l.Bias -= lr * grad[size-1]
		}, nil
	case "", "adam":
		m := make([]float64, size)
		v := make([]float64, size)
		t := 0
		return func(l *Linear, grad []float64) {
			t++
			c1 := 1 - math.Pow(adamBeta1, float64(t))
			c2 := 1 - math.Pow(adamBeta2, float64(t))
			for j, g := range grad {
				m[j] = adamBeta1*m[j] + (1-adamBeta1)*g
				v[j] = adamBeta2*v[j] + (1-adamBeta2)*g*g
				delta := lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + adamEpsilon)
				if j == size-1 {
					l.Bias -= delta
				} else {
					l.Weights[j] -= delta
				}
			}
		}, nil
	}
	return nil, fmt.Errorf("unknown optimizer %q", name)
}

func flatten(windows [][][]float64) [][]float64 {
	out := make([][]float64, len(windows))
	for i, w := range windows {
		var row []float64
		for _, step := range w {
			row = append(row, step...)
		}
		out[i] = row
	}
	return out
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
