package src

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NanFilter replaces NaN and Inf cells with 0 and reports whether any was
// found.
func NanFilter(data *mat.Dense) (detectNanInf bool) {
	nRow, nCol := data.Dims()
	for r := 0; r < nRow; r++ {
		for c := 0; c < nCol; c++ {
			ele := data.At(r, c)
			if math.IsInf(ele, 0) || math.IsNaN(ele) {
				data.Set(r, c, 0.0)
				detectNanInf = true
			}
		}
	}
	return detectNanInf
}

// ComputeAupr is the area under the precision recall curve of the scores yh
// against the 0/1 truth y, with NaN scores ranked as 0. It is 0 when y has no
// positive.
func ComputeAupr(y []float64, yh []float64) (aupr float64) {
	type kv struct {
		Key   int
		Value float64
	}
	total := 0.0
	sortYh := make([]kv, len(y))
	for i := range y {
		if y[i] > 0.5 {
			total++
		}
		ele := yh[i]
		if math.IsNaN(ele) {
			ele = 0.0
		}
		sortYh[i] = kv{i, ele}
	}
	if total == 0 {
		return 0.0
	}
	sort.SliceStable(sortYh, func(i, j int) bool {
		return sortYh[i].Value > sortYh[j].Value
	})

	tp := 0.0
	p := 0.0
	prevRe := 0.0
	prevPr := 1.0
	for _, e := range sortYh {
		p += 1.0
		if y[e.Key] <= 0.5 {
			continue
		}
		tp += 1.0
		pr := tp / p
		re := tp / total
		//trapezoid between consecutive positives
		aupr += (pr + prevPr) * (re - prevRe) / 2
		prevPr, prevRe = pr, re
	}
	return aupr
}

// LabelAupr scores every label column of yh against the same column of y.
// Labels without positives are left out.
func LabelAupr(y mat.Matrix, yh mat.Matrix) (labels []int, aupr []float64) {
	_, nLabel := y.Dims()
	for l := 0; l < nLabel; l++ {
		yCol := mat.Col(nil, l, y)
		if floats.Max(yCol) <= 0.5 {
			continue
		}
		labels = append(labels, l)
		aupr = append(aupr, ComputeAupr(yCol, mat.Col(nil, l, yh)))
	}
	return labels, aupr
}

// MembershipSummary describes an N x K membership matrix: the total mass of
// every component and the maximal membership of every instance.
type MembershipSummary struct {
	Mass          []float64
	MaxMembership []float64
}

func SummarizeMembership(gamma mat.Matrix) MembershipSummary {
	nRow, nComp := gamma.Dims()
	s := MembershipSummary{
		Mass:          make([]float64, nComp),
		MaxMembership: make([]float64, nRow),
	}
	for k := 0; k < nComp; k++ {
		s.Mass[k] = floats.Sum(mat.Col(nil, k, gamma))
	}
	row := make([]float64, nComp)
	for n := 0; n < nRow; n++ {
		mat.Row(row, n, gamma)
		s.MaxMembership[n] = floats.Max(row)
	}
	return s
}

// Quantiles returns the given percentiles of the maximal memberships.
func (s MembershipSummary) Quantiles(percents ...float64) ([]float64, error) {
	q := make([]float64, len(percents))
	for i, p := range percents {
		v, err := stats.Percentile(s.MaxMembership, p)
		if err != nil {
			return nil, err
		}
		q[i] = v
	}
	return q, nil
}

// NonEmpty counts the components holding at least one instance worth of
// membership.
func (s MembershipSummary) NonEmpty() int {
	c := 0
	for _, m := range s.Mass {
		if m >= 1 {
			c++
		}
	}
	return c
}
