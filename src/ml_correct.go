package src

import (
	"log"
	"math"
	"sort"

	"github.com/wangjohn/quickselect"
)

// Change is the effect of flipping one label bit, evaluated against the
// model and memberships at the start of a correction round.
type Change struct {
	Instance           int
	Label              int
	TotalChange        float64
	ChangeInLikelihood float64
	ChangeInPenalty    float64
}

// CorrectionResult describes one correction round.
type CorrectionResult struct {
	// Evaluated is the number of candidate bits scored.
	Evaluated int
	// Applied lists the flips in the order they were made.
	Applied []Change
	// Flipped is the signed flip count after the round.
	Flipped int
}

type changeList []Change

func (c changeList) Len() int      { return len(c) }
func (c changeList) Swap(i, j int) { c[i], c[j] = c[j], c[i] }
func (c changeList) Less(i, j int) bool {
	if c[i].TotalChange != c[j].TotalChange {
		return c[i].TotalChange < c[j].TotalChange
	}
	if c[i].Instance != c[j].Instance {
		return c[i].Instance < c[j].Instance
	}
	return c[i].Label < c[j].Label
}

// labelCorrector greedily flips label bits that lower the penalized
// objective. All candidates of a round are scored on the same snapshot, so a
// flip applied early in the round does not rescore the later ones.
type labelCorrector struct {
	cbm     *CBM
	data    *DataSet
	truth   *GroundTruth
	gamma   *Membership
	lambda  float64
	threads int
	verbose bool
}

func (o *RecoverOptimizer) corrector() *labelCorrector {
	return &labelCorrector{
		cbm:     o.cbm,
		data:    o.data,
		truth:   o.truth,
		gamma:   o.gamma,
		lambda:  o.config.Lambda,
		threads: o.config.Threads,
		verbose: o.config.Verbose,
	}
}

func (c *labelCorrector) correct() (CorrectionResult, error) {
	ranked, err := c.rank()
	if err != nil {
		return CorrectionResult{}, err
	}
	res := CorrectionResult{Evaluated: len(ranked)}
	for _, change := range ranked {
		if !(change.TotalChange < 0) {
			if c.verbose {
				log.Printf("break at data %d class %d, total change = %g", change.Instance, change.Label, change.TotalChange)
			}
			break
		}
		v := c.truth.Flip(change.Instance, change.Label)
		if c.verbose {
			log.Printf("set label %d for data %d from %d to %d. #flips = %d", change.Label, change.Instance, 1-v, v, c.truth.Flipped())
		}
		res.Applied = append(res.Applied, change)
	}
	res.Flipped = c.truth.Flipped()
	return res, nil
}

// rank scores every bit unset in the observed labels and returns the
// candidates with the improving ones first, in ascending order of total
// change. The order of the non-improving tail is unspecified.
func (c *labelCorrector) rank() ([]Change, error) {
	perData := make([][]Change, c.truth.NumData())
	err := parallelRange(len(perData), c.threads, func(lo, hi int) error {
		for n := lo; n < hi; n++ {
			perData[n] = c.instanceChanges(n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var all changeList
	for _, changes := range perData {
		all = append(all, changes...)
	}

	improving := 0
	for _, change := range all {
		if change.TotalChange < 0 {
			improving++
		}
	}
	if improving > 0 && improving < len(all) {
		if err := quickselect.QuickSelect(all, improving); err != nil {
			return nil, err
		}
	}
	sort.Sort(all[:improving])
	return all, nil
}

func (c *labelCorrector) instanceChanges(n int) []Change {
	x := c.data.Row(n)
	gamma := c.gamma.Row(n)
	var changes []Change
	for l := 0; l < c.cbm.NumLabels; l++ {
		if c.truth.Observed(n, l) {
			continue
		}
		change, ok := c.lossChange(n, l, x, gamma)
		if !ok {
			log.Printf("data %d class %d: undefined change in likelihood, skipped", n, l)
			continue
		}
		changes = append(changes, change)
	}
	return changes
}

// lossChange scores flipping the working value of cell (n, l). ok is false
// when the change is not a number.
func (c *labelCorrector) lossChange(n, l int, x, gamma []float64) (change Change, ok bool) {
	current := 0
	if c.truth.Match(n, l) {
		current = 1
	}
	flipped := 1 - current

	currentNll, newNll := 0.0, 0.0
	for k, g := range gamma {
		if g == 0 {
			continue
		}
		lp := c.cbm.Binary[k][l].PredictLogClassProbs(x)
		currentNll -= g * lp[current]
		newNll -= g * lp[flipped]
	}

	change = Change{Instance: n, Label: l, ChangeInLikelihood: newNll - currentNll}
	if flipped == 1 {
		change.ChangeInPenalty = c.lambda
	} else {
		change.ChangeInPenalty = -c.lambda
	}
	change.TotalChange = change.ChangeInLikelihood + change.ChangeInPenalty
	return change, !math.IsNaN(change.TotalChange)
}
