package src

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSoftplus(t *testing.T) {
	for _, z := range []float64{-30, -1, 0, 0.5, 20} {
		want := math.Log1p(math.Exp(z))
		if got := softplus(z); math.Abs(got-want) > 1e-12 {
			t.Errorf("softplus(%g) = %g, want %g", z, got, want)
		}
	}
	if got := softplus(1000); got != 1000 {
		t.Errorf("softplus(1000) = %g", got)
	}
	if got := softplus(-1000); got != 0 {
		t.Errorf("softplus(-1000) = %g", got)
	}
}

func TestPriorProbClassifier(t *testing.T) {
	c := NewPriorProbClassifier([2]float64{0.75, 0.25})
	lp := c.PredictLogClassProbs([]float64{1, 2})
	if math.Abs(lp[0]-math.Log(0.75)) > 1e-12 || math.Abs(lp[1]-math.Log(0.25)) > 1e-12 {
		t.Errorf("log probs = %v", lp)
	}
	if c.Probs() != [2]float64{0.75, 0.25} {
		t.Errorf("probs = %v", c.Probs())
	}
}

func TestLogisticTrainer(t *testing.T) {
	set := WeightedSet{
		X:       mat.NewDense(5, 1, []float64{-2, -1, 1, 2, 1.5}),
		Y:       []float64{0, 0, 1, 1, 0},
		Weights: []float64{1, 1, 1, 1, 0},
	}
	clf, err := NewLogisticTrainer(1e-4, 100).TrainBinary(set, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p := math.Exp(clf.PredictLogClassProbs([]float64{2})[1]); p < 0.9 {
		t.Errorf("P(1|2) = %g, want > 0.9", p)
	}
	if p := math.Exp(clf.PredictLogClassProbs([]float64{-2})[1]); p > 0.1 {
		t.Errorf("P(1|-2) = %g, want < 0.1", p)
	}
	lp := clf.PredictLogClassProbs([]float64{0.3})
	if s := math.Exp(lp[0]) + math.Exp(lp[1]); math.Abs(s-1) > 1e-12 {
		t.Errorf("probabilities sum to %g", s)
	}

	// a warm started fit keeps the model
	again, err := NewLogisticTrainer(1e-4, 5).TrainBinary(set, clf)
	if err != nil {
		t.Fatal(err)
	}
	if p := math.Exp(again.PredictLogClassProbs([]float64{2})[1]); p < 0.9 {
		t.Errorf("warm start P(1|2) = %g, want > 0.9", p)
	}
}

func TestLogisticTrainerErrors(t *testing.T) {
	x := mat.NewDense(2, 1, []float64{0, 1})
	if _, err := NewLogisticTrainer(0, 10).TrainBinary(WeightedSet{X: x, Y: []float64{0}, Weights: []float64{1, 1}}, nil); err == nil {
		t.Error("expected error for mismatched targets")
	}
	if _, err := NewLogisticTrainer(0, 10).TrainBinary(WeightedSet{X: x, Y: []float64{0, 1}, Weights: []float64{0, 0}}, nil); err == nil {
		t.Error("expected error for zero weight")
	}
}

func TestSoftmaxTrainer(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{-2, -1, 1, 2})
	targets := mat.NewDense(4, 2, []float64{
		0.9, 0.1,
		0.8, 0.2,
		0.2, 0.8,
		0.1, 0.9,
	})
	g, err := NewSoftmaxTrainer(1e-4, 100).TrainGating(x, targets, nil)
	if err != nil {
		t.Fatal(err)
	}
	left := g.PredictLogClassProbs([]float64{-2})
	right := g.PredictLogClassProbs([]float64{2})
	if left[0] <= left[1] || right[1] <= right[0] {
		t.Errorf("left = %v, right = %v", left, right)
	}
	if s := math.Exp(left[0]) + math.Exp(left[1]); math.Abs(s-1) > 1e-12 {
		t.Errorf("probabilities sum to %g", s)
	}

	one, err := NewSoftmaxTrainer(1e-4, 100).TrainGating(x, mat.NewDense(4, 1, []float64{1, 1, 1, 1}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if lp := one.PredictLogClassProbs([]float64{0}); len(lp) != 1 || lp[0] != 0 {
		t.Errorf("single component log prior = %v", lp)
	}
}
