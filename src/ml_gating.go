package src

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// GatingClassifier returns the log prior over the K mixture components for a
// feature vector.
type GatingClassifier interface {
	PredictLogClassProbs(x []float64) []float64
}

// GatingTrainer fits a gating classifier to soft targets: row n of targets
// is the membership distribution of instance n.
type GatingTrainer interface {
	TrainGating(x *mat.Dense, targets *mat.Dense, prev GatingClassifier) (GatingClassifier, error)
}

// UniformGating puts 1/K on every component.
type UniformGating struct {
	K int
}

func (g UniformGating) PredictLogClassProbs(x []float64) []float64 {
	out := make([]float64, g.K)
	for k := range out {
		out[k] = -math.Log(float64(g.K))
	}
	return out
}

// SoftmaxClassifier is a multinomial logistic regression.
type SoftmaxClassifier struct {
	Coef      [][]float64
	Intercept []float64
}

func (c *SoftmaxClassifier) PredictLogClassProbs(x []float64) []float64 {
	logits := make([]float64, len(c.Coef))
	for k := range c.Coef {
		logits[k] = floats.Dot(c.Coef[k], x) + c.Intercept[k]
	}
	lse := floats.LogSumExp(logits)
	for k := range logits {
		logits[k] -= lse
	}
	return logits
}

// SoftmaxTrainer fits a SoftmaxClassifier by minimising the cross entropy to
// the soft targets with L-BFGS.
type SoftmaxTrainer struct {
	L2      float64
	MaxIter int
	GradTol float64
}

func NewSoftmaxTrainer(l2 float64, maxIter int) *SoftmaxTrainer {
	return &SoftmaxTrainer{L2: l2, MaxIter: maxIter, GradTol: 1e-6}
}

func (t *SoftmaxTrainer) TrainGating(x *mat.Dense, targets *mat.Dense, prev GatingClassifier) (GatingClassifier, error) {
	nRow, nFea := x.Dims()
	tRow, nComp := targets.Dims()
	if tRow != nRow {
		return nil, errors.Errorf("softmax: %d feature rows, %d target rows", nRow, tRow)
	}
	if nComp == 1 {
		return UniformGating{K: 1}, nil
	}
	stride := nFea + 1
	theta := make([]float64, nComp*stride)
	if p, ok := prev.(*SoftmaxClassifier); ok && len(p.Coef) == nComp && len(p.Coef[0]) == nFea {
		for k := 0; k < nComp; k++ {
			copy(theta[k*stride:], p.Coef[k])
			theta[k*stride+nFea] = p.Intercept[k]
		}
	} else {
		jitter := distuv.Uniform{Min: -0.0001, Max: 0.0001}
		for i := range theta {
			theta[i] = jitter.Rand()
		}
	}

	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			return t.loss(x, targets, w, nil)
		},
		Grad: func(grad, w []float64) {
			t.loss(x, targets, w, grad)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: t.GradTol,
		MajorIterations:   t.MaxIter,
	}
	result, err := optimize.Minimize(problem, theta, settings, &optimize.LBFGS{})
	if result == nil {
		return nil, errors.Wrap(err, "softmax")
	}
	if floats.HasNaN(result.X) {
		return nil, errors.Wrap(ErrNumericalDegeneracy, "softmax: NaN coefficients")
	}
	c := &SoftmaxClassifier{
		Coef:      make([][]float64, nComp),
		Intercept: make([]float64, nComp),
	}
	for k := 0; k < nComp; k++ {
		c.Coef[k] = make([]float64, nFea)
		copy(c.Coef[k], result.X[k*stride:k*stride+nFea])
		c.Intercept[k] = result.X[k*stride+nFea]
	}
	return c, nil
}

func (t *SoftmaxTrainer) loss(x *mat.Dense, targets *mat.Dense, theta, grad []float64) float64 {
	nRow, nFea := x.Dims()
	_, nComp := targets.Dims()
	stride := nFea + 1
	if grad != nil {
		for i := range grad {
			grad[i] = 0
		}
	}
	scale := 1.0 / float64(nRow)
	logits := make([]float64, nComp)
	f := 0.0
	for n := 0; n < nRow; n++ {
		row := x.RawRowView(n)
		target := targets.RawRowView(n)
		for k := 0; k < nComp; k++ {
			logits[k] = floats.Dot(theta[k*stride:k*stride+nFea], row) + theta[k*stride+nFea]
		}
		lse := floats.LogSumExp(logits)
		for k := 0; k < nComp; k++ {
			logp := logits[k] - lse
			if target[k] > 0 {
				f -= scale * target[k] * logp
			}
			if grad != nil {
				d := scale * (math.Exp(logp) - target[k])
				floats.AddScaled(grad[k*stride:k*stride+nFea], d, row)
				grad[k*stride+nFea] += d
			}
		}
	}
	for k := 0; k < nComp; k++ {
		for j := 0; j < nFea; j++ {
			w := theta[k*stride+j]
			f += 0.5 * t.L2 * w * w
			if grad != nil {
				grad[k*stride+j] += t.L2 * w
			}
		}
	}
	return f
}
