package src

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestComputeAupr(t *testing.T) {
	cases := []struct {
		name string
		y    []float64
		yh   []float64
		want float64
	}{
		{"perfect", []float64{1, 1, 0, 0}, []float64{0.9, 0.8, 0.1, 0.2}, 1},
		{"no positive", []float64{0, 0, 0}, []float64{0.9, 0.8, 0.1}, 0},
		// precision 1/2 at recall 1
		{"second", []float64{0, 1}, []float64{0.9, 0.1}, 0.75},
		{"nan ranked last", []float64{0, 1}, []float64{math.NaN(), 0.5}, 1},
	}
	for _, c := range cases {
		if got := ComputeAupr(c.y, c.yh); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("%s: aupr = %g, want %g", c.name, got, c.want)
		}
	}
}

func TestLabelAupr(t *testing.T) {
	y := mat.NewDense(3, 2, []float64{1, 0, 0, 0, 1, 0})
	yh := mat.NewDense(3, 2, []float64{0.9, 0.2, 0.1, 0.3, 0.8, 0.1})
	labels, aupr := LabelAupr(y, yh)
	if len(labels) != 1 || labels[0] != 0 || math.Abs(aupr[0]-1) > 1e-12 {
		t.Errorf("labels = %v, aupr = %v", labels, aupr)
	}
}

func TestNanFilter(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, math.NaN(), math.Inf(1), 0.5})
	if !NanFilter(m) {
		t.Fatal("NaN not detected")
	}
	if !mat.Equal(m, mat.NewDense(2, 2, []float64{1, 0, 0, 0.5})) {
		t.Errorf("filtered = %v", mat.Formatted(m))
	}
	if NanFilter(m) {
		t.Error("clean matrix reported NaN")
	}
}

func TestSummarizeMembership(t *testing.T) {
	gamma := mat.NewDense(4, 2, []float64{
		1, 0,
		0.75, 0.25,
		0.5, 0.5,
		0.25, 0.75,
	})
	s := SummarizeMembership(gamma)
	if s.Mass[0] != 2.5 || s.Mass[1] != 1.5 {
		t.Errorf("mass = %v", s.Mass)
	}
	if s.NonEmpty() != 2 {
		t.Errorf("non-empty = %d", s.NonEmpty())
	}
	q, err := s.Quantiles(50, 100)
	if err != nil {
		t.Fatal(err)
	}
	if q[0] != 0.75 || q[1] != 1 {
		t.Errorf("quantiles = %v", q)
	}
}
