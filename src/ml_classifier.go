package src

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// BinaryClassifier predicts [log P(y=0|x), log P(y=1|x)].
type BinaryClassifier interface {
	PredictLogClassProbs(x []float64) [2]float64
}

// WeightedSet is the input of a binary trainer: the active rows of one
// component, their 0/1 targets for one label and their membership weights.
type WeightedSet struct {
	X       *mat.Dense
	Y       []float64
	Weights []float64
}

// BinaryTrainer fits a binary classifier on weighted data. prev is the
// classifier currently in the slot and may be used as a warm start.
type BinaryTrainer interface {
	TrainBinary(data WeightedSet, prev BinaryClassifier) (BinaryClassifier, error)
}

// PriorProbClassifier ignores its input and always returns the same class
// distribution.
type PriorProbClassifier struct {
	probs    [2]float64
	logProbs [2]float64
}

func NewPriorProbClassifier(probs [2]float64) *PriorProbClassifier {
	return &PriorProbClassifier{
		probs:    probs,
		logProbs: [2]float64{math.Log(probs[0]), math.Log(probs[1])},
	}
}

func (c *PriorProbClassifier) Probs() [2]float64 {
	return c.probs
}

func (c *PriorProbClassifier) PredictLogClassProbs(x []float64) [2]float64 {
	return c.logProbs
}

// LogisticClassifier is a linear model with a sigmoid link.
type LogisticClassifier struct {
	Coef      []float64
	Intercept float64
}

func (c *LogisticClassifier) PredictLogClassProbs(x []float64) [2]float64 {
	z := floats.Dot(c.Coef, x) + c.Intercept
	return [2]float64{-softplus(z), -softplus(-z)}
}

// LogisticTrainer fits an L2 regularized, instance weighted logistic
// regression with L-BFGS.
type LogisticTrainer struct {
	L2      float64
	MaxIter int
	GradTol float64
}

func NewLogisticTrainer(l2 float64, maxIter int) *LogisticTrainer {
	return &LogisticTrainer{L2: l2, MaxIter: maxIter, GradTol: 1e-6}
}

func (t *LogisticTrainer) TrainBinary(data WeightedSet, prev BinaryClassifier) (BinaryClassifier, error) {
	nRow, nFea := data.X.Dims()
	if nRow == 0 || len(data.Y) != nRow || len(data.Weights) != nRow {
		return nil, errors.Errorf("logistic: %d rows, %d targets, %d weights", nRow, len(data.Y), len(data.Weights))
	}
	totalWeight := floats.Sum(data.Weights)
	if totalWeight <= 0 {
		return nil, errors.New("logistic: zero total weight")
	}

	theta := make([]float64, nFea+1)
	if p, ok := prev.(*LogisticClassifier); ok && len(p.Coef) == nFea {
		copy(theta, p.Coef)
		theta[nFea] = p.Intercept
	} else {
		jitter := distuv.Uniform{Min: -0.0001, Max: 0.0001}
		for j := 0; j < nFea; j++ {
			theta[j] = jitter.Rand()
		}
		rate := clampProb(stat.Mean(data.Y, data.Weights))
		theta[nFea] = math.Log(rate / (1 - rate))
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return t.loss(data, totalWeight, x, nil)
		},
		Grad: func(grad, x []float64) {
			t.loss(data, totalWeight, x, grad)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: t.GradTol,
		MajorIterations:   t.MaxIter,
	}
	result, err := optimize.Minimize(problem, theta, settings, &optimize.LBFGS{})
	// hitting the iteration budget is the normal exit for warm started updates
	if result == nil {
		return nil, errors.Wrap(err, "logistic")
	}
	if floats.HasNaN(result.X) {
		return nil, errors.Wrap(ErrNumericalDegeneracy, "logistic: NaN coefficients")
	}
	coef := make([]float64, nFea)
	copy(coef, result.X[:nFea])
	return &LogisticClassifier{Coef: coef, Intercept: result.X[nFea]}, nil
}

// loss is the weight-normalised negative log-likelihood plus the L2 penalty
// on the coefficients. The gradient is written to grad when it is non-nil.
func (t *LogisticTrainer) loss(data WeightedSet, totalWeight float64, theta, grad []float64) float64 {
	nRow, nFea := data.X.Dims()
	coef := theta[:nFea]
	if grad != nil {
		for j := range grad {
			grad[j] = 0
		}
	}
	f := 0.0
	for i := 0; i < nRow; i++ {
		w := data.Weights[i] / totalWeight
		if w == 0 {
			continue
		}
		x := data.X.RawRowView(i)
		z := floats.Dot(coef, x) + theta[nFea]
		f += w * (softplus(z) - data.Y[i]*z)
		if grad != nil {
			d := w * (sigmoid(z) - data.Y[i])
			floats.AddScaled(grad[:nFea], d, x)
			grad[nFea] += d
		}
	}
	for j := 0; j < nFea; j++ {
		f += 0.5 * t.L2 * coef[j] * coef[j]
		if grad != nil {
			grad[j] += t.L2 * coef[j]
		}
	}
	return f
}

// softplus computes log(1+exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func clampProb(p float64) float64 {
	const eps = 1e-6
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}
