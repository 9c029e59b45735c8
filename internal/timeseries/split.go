package timeseries

import "fmt"

// Set holds model inputs shaped [samples][steps][features] and their targets.
type Set struct {
	X [][][]float64
	Y []float64
}

func (s Set) Len() int {
	return len(s.Y)
}

type Splits struct {
	Train Set
	Val   Set
	Test  Set
}

// TrainValTestSplit cuts reframed into 60/20/20 train, validation and test
// sets. With ascending the train set is the oldest block, otherwise it is
// the most recent one, followed back in time by validation and test.
func TrainValTestSplit(reframed Frame, nSteps, nFeatures int, targetVar string, ascending bool) (Splits, error) {
	if nSteps < 1 || nFeatures < 1 {
		return Splits{}, fmt.Errorf("invalid input shape (%d, %d)", nSteps, nFeatures)
	}
	nObs := nSteps * nFeatures
	if reframed.Width() < nObs {
		return Splits{}, fmt.Errorf("frame has %d columns, need at least %d", reframed.Width(), nObs)
	}
	target := reframed.ColumnIndex(targetVar + "_t")
	if target < 0 {
		return Splits{}, fmt.Errorf("target column %s_t not found", targetVar)
	}

	n := reframed.Len()
	nTrain := int(float64(n) * 0.6)
	nVal := int(float64(n) * 0.2)

	var train, val, test Frame
	if ascending {
		train = reframed.Slice(0, nTrain)
		val = reframed.Slice(nTrain, nTrain+nVal)
		test = reframed.Slice(nTrain+nVal, n)
	} else {
		train = reframed.Slice(n-nTrain, n)
		val = reframed.Slice(n-nTrain-nVal, n-nTrain)
		test = reframed.Slice(0, n-nTrain-nVal)
	}

	return Splits{
		Train: toSet(train, nSteps, nFeatures, target),
		Val:   toSet(val, nSteps, nFeatures, target),
		Test:  toSet(test, nSteps, nFeatures, target),
	}, nil
}

func toSet(frame Frame, nSteps, nFeatures, target int) Set {
	set := Set{
		X: make([][][]float64, frame.Len()),
		Y: make([]float64, frame.Len()),
	}
	for i, row := range frame.Rows {
		window := make([][]float64, nSteps)
		for s := range window {
			window[s] = append([]float64(nil), row[s*nFeatures:(s+1)*nFeatures]...)
		}
		set.X[i] = window
		set.Y[i] = row[target]
	}
	return set
}
