package src

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// CBM is a conditional Bernoulli mixture: a gating classifier choosing one of
// K components and, per component, one binary classifier for every label.
type CBM struct {
	NumComponents int
	NumLabels     int
	NumFeatures   int
	// Binary is indexed [component][label]. A slot is only ever replaced as a
	// whole.
	Binary  [][]BinaryClassifier
	Gating  GatingClassifier
	version int
}

func NewCBM(numComponents, numLabels, numFeatures int) (*CBM, error) {
	if numComponents < 1 {
		return nil, errors.Wrapf(ErrConfiguration, "number of components %d < 1", numComponents)
	}
	if numLabels < 1 {
		return nil, errors.Wrapf(ErrConfiguration, "number of labels %d < 1", numLabels)
	}
	c := &CBM{
		NumComponents: numComponents,
		NumLabels:     numLabels,
		NumFeatures:   numFeatures,
		Binary:        make([][]BinaryClassifier, numComponents),
		Gating:        UniformGating{K: numComponents},
	}
	half := NewPriorProbClassifier([2]float64{0.5, 0.5})
	for k := range c.Binary {
		c.Binary[k] = make([]BinaryClassifier, numLabels)
		for l := range c.Binary[k] {
			c.Binary[k][l] = half
		}
	}
	return c, nil
}

// Version counts completed M-steps.
func (c *CBM) Version() int {
	return c.version
}

// PosteriorMembership writes P(k | x, y) for every component into dst.
// Components with zero gating prior are skipped. It fails with
// ErrNumericalDegeneracy when the joint likelihood vanishes for every
// component.
func (c *CBM) PosteriorMembership(x []float64, y *MultiLabel, dst []float64) error {
	logPrior := c.Gating.PredictLogClassProbs(x)
	for k := 0; k < c.NumComponents; k++ {
		if math.IsInf(logPrior[k], -1) {
			dst[k] = math.Inf(-1)
			continue
		}
		logJoint := logPrior[k]
		for l := 0; l < c.NumLabels; l++ {
			lp := c.Binary[k][l].PredictLogClassProbs(x)
			if y.Match(l) {
				logJoint += lp[1]
			} else {
				logJoint += lp[0]
			}
		}
		dst[k] = logJoint
	}
	best := floats.Max(dst)
	if math.IsInf(best, -1) || math.IsNaN(best) {
		return errors.Wrap(ErrNumericalDegeneracy, "all component likelihoods are zero")
	}
	lse := floats.LogSumExp(dst)
	for k := range dst {
		dst[k] = math.Exp(dst[k] - lse)
	}
	if floats.HasNaN(dst) {
		return errors.Wrap(ErrNumericalDegeneracy, "NaN posterior")
	}
	return nil
}

// PredictMarginals returns P(y_l = 1 | x) for every label, mixing the
// components with the gating prior.
func (c *CBM) PredictMarginals(x []float64) []float64 {
	logPrior := c.Gating.PredictLogClassProbs(x)
	out := make([]float64, c.NumLabels)
	for k := 0; k < c.NumComponents; k++ {
		prior := math.Exp(logPrior[k])
		if prior == 0 {
			continue
		}
		for l := 0; l < c.NumLabels; l++ {
			out[l] += prior * math.Exp(c.Binary[k][l].PredictLogClassProbs(x)[1])
		}
	}
	return out
}
