package src

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Seeder produces the initial N x K membership matrix from the observed
// label sets.
type Seeder func(numLabels int, labels []MultiLabel, numComponents int) (*mat.Dense, error)

// UniformSeeder gives every instance 1/K membership in every component.
func UniformSeeder(numLabels int, labels []MultiLabel, numComponents int) (*mat.Dense, error) {
	return uniformMemberships(len(labels), numComponents), nil
}

func uniformMemberships(nData, nComp int) *mat.Dense {
	gamma := mat.NewDense(nData, nComp, nil)
	average := 1.0 / float64(nComp)
	for n := 0; n < nData; n++ {
		for k := 0; k < nComp; k++ {
			gamma.Set(n, k, average)
		}
	}
	return gamma
}

// BMSelector clusters label sets with a Bernoulli mixture fitted by EM.
// Centers are seeded k-means++ style on the Hamming distance; the run with the
// highest log-likelihood wins.
type BMSelector struct {
	Runs       int
	Iterations int
	// Smoothing is the pseudo count added to every Bernoulli mean and
	// mixing weight.
	Smoothing float64
	Seed      int64
}

func DefaultBMSelector(seed int64) BMSelector {
	return BMSelector{Runs: 5, Iterations: 20, Smoothing: 0.1, Seed: seed}
}

func (s BMSelector) SelectGammas(numLabels int, labels []MultiLabel, numComponents int) (*mat.Dense, error) {
	nData := len(labels)
	if nData == 0 {
		return nil, ErrEmptyDataSet
	}
	if numComponents < 1 {
		return nil, errors.Wrapf(ErrConfiguration, "number of components %d < 1", numComponents)
	}
	if numComponents == 1 {
		return uniformMemberships(nData, 1), nil
	}
	runs := s.Runs
	if runs < 1 {
		runs = 1
	}
	rng := rand.New(rand.NewSource(s.Seed))
	var best *mat.Dense
	bestLL := math.Inf(-1)
	for run := 0; run < runs; run++ {
		gamma, ll := s.fit(numLabels, labels, numComponents, rng)
		if best == nil || ll > bestLL {
			best, bestLL = gamma, ll
		}
	}
	return best, nil
}

func (s BMSelector) fit(numLabels int, labels []MultiLabel, nComp int, rng *rand.Rand) (*mat.Dense, float64) {
	nData := len(labels)
	a := s.Smoothing
	gamma := mat.NewDense(nData, nComp, nil)

	//hard assignment to the nearest seed
	centers := seedCenters(labels, nComp, rng)
	for n := 0; n < nData; n++ {
		nearest, dist := 0, math.MaxInt32
		for k, c := range centers {
			if d := hamming(&labels[n], &labels[c]); d < dist {
				nearest, dist = k, d
			}
		}
		gamma.Set(n, nearest, 1.0)
	}

	logPi := make([]float64, nComp)
	base := make([]float64, nComp)
	logOdds := make([][]float64, nComp)
	for k := range logOdds {
		logOdds[k] = make([]float64, numLabels)
	}
	nk := make([]float64, nComp)
	positives := make([][]float64, nComp)
	for k := range positives {
		positives[k] = make([]float64, numLabels)
	}

	ll := math.Inf(-1)
	for it := 0; it < s.Iterations; it++ {
		//M step
		for k := 0; k < nComp; k++ {
			nk[k] = 0
			for l := range positives[k] {
				positives[k][l] = 0
			}
		}
		for n := 0; n < nData; n++ {
			row := gamma.RawRowView(n)
			for k, r := range row {
				nk[k] += r
				for _, l := range labels[n].Labels() {
					positives[k][l] += r
				}
			}
		}
		for k := 0; k < nComp; k++ {
			logPi[k] = math.Log((nk[k] + a) / (float64(nData) + float64(nComp)*a))
			base[k] = 0
			for l := 0; l < numLabels; l++ {
				mu := (positives[k][l] + a) / (nk[k] + 2*a)
				base[k] += math.Log1p(-mu)
				logOdds[k][l] = math.Log(mu) - math.Log1p(-mu)
			}
		}

		//E step
		newLL := 0.0
		for n := 0; n < nData; n++ {
			row := gamma.RawRowView(n)
			for k := 0; k < nComp; k++ {
				v := logPi[k] + base[k]
				for _, l := range labels[n].Labels() {
					v += logOdds[k][l]
				}
				row[k] = v
			}
			lse := floats.LogSumExp(row)
			newLL += lse
			for k := range row {
				row[k] = math.Exp(row[k] - lse)
			}
		}
		converged := math.Abs(newLL-ll) <= 1e-8*math.Abs(newLL)
		ll = newLL
		if converged {
			break
		}
	}
	return gamma, ll
}

// seedCenters picks nComp instance indices, each new one with probability
// proportional to its squared Hamming distance to the closest chosen center.
func seedCenters(labels []MultiLabel, nComp int, rng *rand.Rand) []int {
	nData := len(labels)
	centers := []int{rng.Intn(nData)}
	d := make([]float64, nData)
	for len(centers) < nComp {
		sum := 0.0
		for n := 0; n < nData; n++ {
			closest := math.MaxInt32
			for _, c := range centers {
				if h := hamming(&labels[n], &labels[c]); h < closest {
					closest = h
				}
			}
			d[n] = float64(closest * closest)
			sum += d[n]
		}
		if sum == 0 {
			centers = append(centers, rng.Intn(nData))
			continue
		}
		t := rng.Float64() * sum
		next := 0
		for acc := d[0]; acc < t && next < nData-1; acc += d[next] {
			next++
		}
		centers = append(centers, next)
	}
	return centers
}

// hamming counts the labels matched by exactly one of a and b.
func hamming(a, b *MultiLabel) int {
	x, y := a.Labels(), b.Labels()
	i, j, d := 0, 0, 0
	for i < len(x) && j < len(y) {
		switch {
		case x[i] == y[j]:
			i++
			j++
		case x[i] < y[j]:
			d++
			i++
		default:
			d++
			j++
		}
	}
	return d + len(x) - i + len(y) - j
}
