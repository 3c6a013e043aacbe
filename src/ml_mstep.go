package src

import (
	"log"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// components whose total membership is below this carry no data at all
const emptyComponentWeight = 1e-12

// MStepReport summarises one M-step.
type MStepReport struct {
	Skipped         int
	Trained         int
	EmptyComponents []int
}

// activeSet holds the instances a component trains its binary classifiers on.
type activeSet struct {
	indices []int
	weights []float64
	x       *mat.Dense
	// totalWeight sums the membership of all instances, thresholded or not,
	// so that the smoothed rates are not biased by the threshold.
	totalWeight  float64
	activeWeight float64
}

// labelStatistics reads weighted label counts off the working ground truth.
type labelStatistics struct {
	truth *GroundTruth
	gamma *Membership
}

// effectivePositives sums the membership in component k of the instances
// whose working label l is set.
func (s labelStatistics) effectivePositives(k, l int) float64 {
	sum := 0.0
	for _, n := range s.truth.Column(l) {
		sum += s.gamma.At(n, k)
	}
	return sum
}

func (s labelStatistics) globalPositiveRate(l int) float64 {
	return float64(s.truth.PositiveCount(l)) / float64(s.truth.NumData())
}

// smoothedPositiveRate blends the component positive rate with the global
// positive count. The result is clamped to at most 1; clamped reports whether
// that happened.
func smoothedPositiveRate(effectivePositives, totalWeight, alpha, globalPositives float64, numData int) (rate float64, clamped bool) {
	rate = (effectivePositives + alpha*globalPositives) / (totalWeight + alpha*float64(numData))
	if rate >= 1 {
		return 1, rate > 1
	}
	return rate, false
}

func (o *RecoverOptimizer) mStep() (MStepReport, error) {
	o.debugf("start M step")
	report, err := o.updateBinaryClassifiers()
	if err != nil {
		return report, err
	}
	if err := o.updateGatingClassifier(); err != nil {
		return report, err
	}
	o.cbm.version++
	o.debugf("finish M step")
	return report, nil
}

func (o *RecoverOptimizer) updateBinaryClassifiers() (MStepReport, error) {
	o.debugf("start updateBinaryClassifiers")
	nComp, nLabel := o.cbm.NumComponents, o.cbm.NumLabels
	actives := make([]*activeSet, nComp)
	err := parallelRange(nComp, o.config.Threads, func(lo, hi int) error {
		for k := lo; k < hi; k++ {
			actives[k] = o.activeSet(k)
		}
		return nil
	})
	if err != nil {
		return MStepReport{}, err
	}

	var report MStepReport
	for k, as := range actives {
		if as.totalWeight < emptyComponentWeight {
			report.EmptyComponents = append(report.EmptyComponents, k)
			log.Printf("component %d is empty (total weight %g), using global label priors", k, as.totalWeight)
		}
	}

	// one slot per (component, label) pair; each task owns its slot
	skipped := make([]bool, nComp*nLabel)
	err = parallelRange(nComp*nLabel, o.config.Threads, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			k, l := i/nLabel, i%nLabel
			skip, err := o.skipOrUpdateBinaryClassifier(k, l, actives[k])
			if err != nil {
				return errors.Wrapf(err, "component %d, label %d", k, l)
			}
			skipped[i] = skip
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	for _, s := range skipped {
		if s {
			report.Skipped++
		} else {
			report.Trained++
		}
	}
	o.debugf("finish updateBinaryClassifiers")
	return report, nil
}

// activeSet collects the instances whose membership in component k reaches
// the skip-data threshold, always including the instance of maximal
// membership.
func (o *RecoverOptimizer) activeSet(k int) *activeSet {
	nData := o.truth.NumData()
	column := mat.Col(nil, k, o.gamma.gamma)
	maxIndex := floats.MaxIdx(column)

	as := &activeSet{}
	for n, v := range column {
		as.totalWeight += v
		if v >= o.config.SkipDataThreshold || n == maxIndex {
			as.indices = append(as.indices, n)
			as.weights = append(as.weights, v)
			as.activeWeight += v
		}
	}
	as.x = mat.NewDense(len(as.indices), o.data.NumFeatures(), nil)
	for i, n := range as.indices {
		as.x.SetRow(i, o.data.Row(n))
	}
	o.debugf("component %d: number of active data = %d/%d, total weight = %g, total weight of active data = %g",
		k, len(as.indices), nData, as.totalWeight, as.activeWeight)
	return as
}

// skipOrUpdateBinaryClassifier installs a constant classifier for label l of
// component k when the label is (nearly) constant inside the component and
// trains one on the active set otherwise. It reports whether training was
// skipped.
func (o *RecoverOptimizer) skipOrUpdateBinaryClassifier(k, l int, as *activeSet) (bool, error) {
	start := time.Now()
	stats := labelStatistics{truth: o.truth, gamma: o.gamma}

	if as.totalWeight < emptyComponentWeight {
		p := stats.globalPositiveRate(l)
		o.cbm.Binary[k][l] = NewPriorProbClassifier([2]float64{1 - p, p})
		return true, nil
	}

	effectivePositives := stats.effectivePositives(k, l)
	rawRate := effectivePositives / as.totalWeight
	positiveCount := float64(o.truth.PositiveCount(l))
	smoothed, clamped := smoothedPositiveRate(effectivePositives, as.totalWeight, o.config.SmoothingStrength, positiveCount, o.truth.NumData())
	if clamped {
		log.Printf("component %d, label %d: smoothed positive fraction above 1, clamped", k, l)
	}

	t := o.config.SkipLabelThreshold
	if rawRate < t || rawRate > 1-t {
		o.cbm.Binary[k][l] = NewPriorProbClassifier([2]float64{1 - smoothed, smoothed})
		o.debugf("for component %d, label %d, weighted positives = %g, non-smoothed positive fraction = %g, global positive fraction = %g, smoothed positive fraction = %g, skip, use prior = %g, time spent = %s",
			k, l, effectivePositives, rawRate, stats.globalPositiveRate(l), smoothed, smoothed, time.Since(start))
		return true, nil
	}
	o.debugf("for component %d, label %d, weighted positives = %g, non-smoothed positive fraction = %g, global positive fraction = %g, smoothed positive fraction = %g",
		k, l, effectivePositives, rawRate, stats.globalPositiveRate(l), smoothed)

	y := make([]float64, len(as.indices))
	for i, n := range as.indices {
		if o.truth.Match(n, l) {
			y[i] = 1
		}
	}
	clf, err := o.binaryTrainer.TrainBinary(WeightedSet{X: as.x, Y: y, Weights: as.weights}, o.cbm.Binary[k][l])
	if err != nil {
		return false, err
	}
	o.cbm.Binary[k][l] = clf
	return false, nil
}

func (o *RecoverOptimizer) updateGatingClassifier() error {
	if o.cbm.NumComponents == 1 {
		return nil
	}
	o.debugf("start updateMultiClassClassifier")
	gating, err := o.gatingTrainer.TrainGating(o.data.X, o.gamma.gamma, o.cbm.Gating)
	if err != nil {
		return errors.Wrap(err, "gating classifier")
	}
	o.cbm.Gating = gating
	o.debugf("finish updateMultiClassClassifier")
	return nil
}
