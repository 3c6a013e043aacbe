package src

import (
	"log"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// OptimizerConfig holds the knobs of RecoverOptimizer.
type OptimizerConfig struct {
	// SkipLabelThreshold: if the in-component positive fraction of a label is
	// below it, or above 1 minus it, the label gets a constant classifier.
	// The comparison is strict, so 0 never skips, not even a constant label.
	SkipLabelThreshold float64
	// SkipDataThreshold: instances whose membership in a component is below it
	// are left out of that component's binary training. 0 keeps all.
	SkipDataThreshold float64
	// SmoothingStrength is the pseudo count alpha blending the component
	// positive rate with the global one.
	SmoothingStrength float64
	// Lambda is the penalty paid for every 0->1 label flip.
	Lambda               float64
	BinaryUpdatesPerIter int
	GatingUpdatesPerIter int
	L2                   float64
	Threads              int
	Seed                 int64
	Verbose              bool
}

func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		SkipLabelThreshold:   1e-5,
		SkipDataThreshold:    1e-5,
		SmoothingStrength:    0.0001,
		Lambda:               0,
		BinaryUpdatesPerIter: 10,
		GatingUpdatesPerIter: 10,
		L2:                   1e-4,
		Threads:              4,
		Seed:                 1,
	}
}

func (c OptimizerConfig) Validate() error {
	if c.SkipLabelThreshold < 0 || c.SkipLabelThreshold > 1 {
		return errors.Wrapf(ErrConfiguration, "skip label threshold %g outside [0,1]", c.SkipLabelThreshold)
	}
	if c.SkipDataThreshold < 0 || c.SkipDataThreshold > 1 {
		return errors.Wrapf(ErrConfiguration, "skip data threshold %g outside [0,1]", c.SkipDataThreshold)
	}
	if c.SmoothingStrength < 0 {
		return errors.Wrapf(ErrConfiguration, "negative smoothing strength %g", c.SmoothingStrength)
	}
	if c.Lambda < 0 {
		return errors.Wrapf(ErrConfiguration, "negative lambda %g", c.Lambda)
	}
	if c.L2 < 0 {
		return errors.Wrapf(ErrConfiguration, "negative l2 %g", c.L2)
	}
	if c.BinaryUpdatesPerIter < 1 || c.GatingUpdatesPerIter < 1 {
		return errors.Wrapf(ErrConfiguration, "updates per iteration must be positive, got %d/%d", c.BinaryUpdatesPerIter, c.GatingUpdatesPerIter)
	}
	return nil
}

// State of a RecoverOptimizer.
type State int

const (
	StateUninitialized State = iota
	StateWarmStarted
	StateEStep
	StateMStep
	StateCorrecting
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateWarmStarted:
		return "WARM_STARTED"
	case StateEStep:
		return "E_STEP"
	case StateMStep:
		return "M_STEP"
	case StateCorrecting:
		return "CORRECTING"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Membership is the N x K matrix of posterior component memberships. Only the
// E-step writes it.
type Membership struct {
	gamma   *mat.Dense
	version int
}

func (m *Membership) At(n, k int) float64 {
	return m.gamma.At(n, k)
}

// Row returns a view of the memberships of instance n.
func (m *Membership) Row(n int) []float64 {
	return m.gamma.RawRowView(n)
}

// Matrix returns a copy of the memberships.
func (m *Membership) Matrix() *mat.Dense {
	return mat.DenseCopyOf(m.gamma)
}

// Version counts rewrites of the matrix.
func (m *Membership) Version() int {
	return m.version
}

// Option customises the collaborators of a RecoverOptimizer.
type Option func(*RecoverOptimizer)

func WithBinaryTrainer(t BinaryTrainer) Option {
	return func(o *RecoverOptimizer) { o.binaryTrainer = t }
}

func WithGatingTrainer(t GatingTrainer) Option {
	return func(o *RecoverOptimizer) { o.gatingTrainer = t }
}

func WithSeeder(s Seeder) Option {
	return func(o *RecoverOptimizer) { o.seeder = s }
}

// RecoverOptimizer fits a CBM with EM while correcting missing positive labels
// of the training set.
type RecoverOptimizer struct {
	cbm    *CBM
	data   *DataSet
	truth  *GroundTruth
	gamma  *Membership
	config OptimizerConfig

	binaryTrainer BinaryTrainer
	gatingTrainer GatingTrainer
	seeder        Seeder

	state State
	err   error
}

func NewRecoverOptimizer(cbm *CBM, data *DataSet, config OptimizerConfig, opts ...Option) (*RecoverOptimizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if cbm == nil || data == nil {
		return nil, errors.Wrap(ErrConfiguration, "nil model or data set")
	}
	if data.NumData() == 0 {
		return nil, ErrEmptyDataSet
	}
	if cbm.NumLabels != data.NumLabels || cbm.NumFeatures != data.NumFeatures() {
		return nil, errors.Wrapf(ErrConfiguration, "model is %d labels x %d features, data is %d x %d",
			cbm.NumLabels, cbm.NumFeatures, data.NumLabels, data.NumFeatures())
	}
	o := &RecoverOptimizer{
		cbm:           cbm,
		data:          data,
		truth:         NewGroundTruth(data),
		gamma:         &Membership{gamma: uniformMemberships(data.NumData(), cbm.NumComponents)},
		config:        config,
		binaryTrainer: NewLogisticTrainer(config.L2, config.BinaryUpdatesPerIter),
		gatingTrainer: NewSoftmaxTrainer(config.L2, config.GatingUpdatesPerIter),
		seeder:        DefaultBMSelector(config.Seed).SelectGammas,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *RecoverOptimizer) State() State {
	return o.state
}

// Err returns the fatal error that moved the optimizer to StateFailed.
func (o *RecoverOptimizer) Err() error {
	return o.err
}

func (o *RecoverOptimizer) Model() *CBM {
	return o.cbm
}

func (o *RecoverOptimizer) DataSet() *DataSet {
	return o.data
}

func (o *RecoverOptimizer) Membership() *Membership {
	return o.gamma
}

func (o *RecoverOptimizer) GroundTruth() *GroundTruth {
	return o.truth
}

// Initialize seeds the memberships (clustering of the label sets when K>1,
// uniform otherwise) and runs one M-step on the seed.
func (o *RecoverOptimizer) Initialize() (MStepReport, error) {
	if o.state == StateFailed {
		return MStepReport{}, &failedError{cause: o.err}
	}
	if o.state != StateUninitialized {
		return MStepReport{}, errors.Errorf("initialize called in state %s", o.state)
	}
	nComp := o.cbm.NumComponents
	if nComp > 1 {
		seed, err := o.seeder(o.data.NumLabels, o.data.Labels, nComp)
		if err != nil {
			return MStepReport{}, o.fail(errors.Wrap(err, "seeding memberships"))
		}
		if r, c := seed.Dims(); r != o.data.NumData() || c != nComp {
			return MStepReport{}, o.fail(errors.Wrapf(ErrConfiguration, "seed is %dx%d, want %dx%d", r, c, o.data.NumData(), nComp))
		}
		o.gamma.gamma.Copy(seed)
		o.gamma.version++
		if err := o.checkGamma(); err != nil {
			return MStepReport{}, o.fail(err)
		}
		o.debugf("performing M step")
	}
	report, err := o.mStep()
	if err != nil {
		return report, o.fail(err)
	}
	o.state = StateWarmStarted
	return report, nil
}

// Iterate runs one E-step followed by one M-step.
func (o *RecoverOptimizer) Iterate() (MStepReport, error) {
	if err := o.ready(); err != nil {
		return MStepReport{}, err
	}
	o.state = StateEStep
	if err := o.eStep(); err != nil {
		return MStepReport{}, o.fail(err)
	}
	o.state = StateMStep
	report, err := o.mStep()
	if err != nil {
		return report, o.fail(err)
	}
	return report, nil
}

// UpdateGroundTruth runs one label correction round.
func (o *RecoverOptimizer) UpdateGroundTruth() (CorrectionResult, error) {
	if err := o.ready(); err != nil {
		return CorrectionResult{}, err
	}
	o.state = StateCorrecting
	res, err := o.corrector().correct()
	if err != nil {
		return res, o.fail(err)
	}
	return res, nil
}

// Stop marks the run as finished; later calls are rejected.
func (o *RecoverOptimizer) Stop() {
	if o.state != StateFailed {
		o.state = StateStopped
	}
}

func (o *RecoverOptimizer) ready() error {
	switch o.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateFailed:
		return &failedError{cause: o.err}
	case StateStopped:
		return errors.New("optimizer is stopped")
	}
	return nil
}

func (o *RecoverOptimizer) fail(err error) error {
	o.state = StateFailed
	o.err = err
	log.Print("optimizer failed: ", err)
	return err
}

func (o *RecoverOptimizer) eStep() error {
	o.debugf("start E step")
	nComp := o.cbm.NumComponents
	err := parallelRange(o.truth.NumData(), o.config.Threads, func(lo, hi int) error {
		for n := lo; n < hi; n++ {
			row := o.gamma.gamma.RawRowView(n)
			if err := o.cbm.PosteriorMembership(o.data.Row(n), o.truth.Row(n), row[:nComp]); err != nil {
				return errors.Wrapf(err, "instance %d", n)
			}
		}
		return nil
	})
	o.gamma.version++
	if err != nil {
		return err
	}
	if err := o.checkGamma(); err != nil {
		return err
	}
	o.debugf("finish E step")
	return nil
}

func (o *RecoverOptimizer) checkGamma() error {
	nRow, _ := o.gamma.gamma.Dims()
	for n := 0; n < nRow; n++ {
		row := o.gamma.gamma.RawRowView(n)
		if floats.HasNaN(row) {
			return errors.Wrapf(ErrNumericalDegeneracy, "gamma row %d is NaN", n)
		}
	}
	return nil
}

// Objective is the negative expected complete log-likelihood of the
// working ground truth plus the flip penalty.
func (o *RecoverOptimizer) Objective() float64 {
	return o.gatingObjective() + o.PenalizedLabelObjective()
}

// PenalizedLabelObjective is the part of Objective that label correction can
// change: the expected binary negative log-likelihood plus lambda times the
// signed flip count.
func (o *RecoverOptimizer) PenalizedLabelObjective() float64 {
	return o.binaryObjective() + o.config.Lambda*float64(o.truth.Flipped())
}

func (o *RecoverOptimizer) gatingObjective() float64 {
	perData := make([]float64, o.data.NumData())
	// the body never fails
	_ = parallelRange(len(perData), o.config.Threads, func(lo, hi int) error {
		for n := lo; n < hi; n++ {
			lp := o.cbm.Gating.PredictLogClassProbs(o.data.Row(n))
			for k, g := range o.gamma.Row(n) {
				if g > 0 {
					perData[n] -= g * lp[k]
				}
			}
		}
		return nil
	})
	return floats.Sum(perData)
}

func (o *RecoverOptimizer) binaryObjective() float64 {
	perData := make([]float64, o.data.NumData())
	// the body never fails
	_ = parallelRange(len(perData), o.config.Threads, func(lo, hi int) error {
		for n := lo; n < hi; n++ {
			x := o.data.Row(n)
			y := o.truth.Row(n)
			for k, g := range o.gamma.Row(n) {
				if g == 0 {
					continue
				}
				for l := 0; l < o.cbm.NumLabels; l++ {
					lp := o.cbm.Binary[k][l].PredictLogClassProbs(x)
					if y.Match(l) {
						perData[n] -= g * lp[1]
					} else {
						perData[n] -= g * lp[0]
					}
				}
			}
		}
		return nil
	})
	return floats.Sum(perData)
}

func (o *RecoverOptimizer) debugf(format string, v ...interface{}) {
	if o.config.Verbose {
		log.Printf(format, v...)
	}
}
