package src

import (
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// testDataSet has two groups of instances, separated on the first feature,
// carrying mostly disjoint labels with some positives missing.
func testDataSet(t *testing.T) *DataSet {
	t.Helper()
	x := mat.NewDense(8, 2, []float64{
		-2, 0.1,
		-1.5, -0.3,
		-1, 0.2,
		-1.2, 0,
		1, 0.3,
		1.5, -0.1,
		2, 0,
		1.2, 0.2,
	})
	labels := []MultiLabel{
		NewMultiLabel(0, 1),
		NewMultiLabel(0, 1),
		NewMultiLabel(0),
		NewMultiLabel(0, 1),
		NewMultiLabel(2),
		NewMultiLabel(2),
		NewMultiLabel(),
		NewMultiLabel(2),
	}
	data, err := NewDataSet(x, labels, 3)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func testConfig() OptimizerConfig {
	config := DefaultOptimizerConfig()
	config.Threads = 2
	return config
}

// countingTrainer returns a fixed logistic classifier and counts its calls.
type countingTrainer struct {
	mu    sync.Mutex
	calls []WeightedSet
}

func (c *countingTrainer) TrainBinary(data WeightedSet, prev BinaryClassifier) (BinaryClassifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, data)
	return &LogisticClassifier{Coef: make([]float64, data.X.RawMatrix().Cols)}, nil
}

func checkMemberships(t *testing.T, gamma *mat.Dense) {
	t.Helper()
	nRow, _ := gamma.Dims()
	for n := 0; n < nRow; n++ {
		row := gamma.RawRowView(n)
		if floats.HasNaN(row) || math.Abs(floats.Sum(row)-1) > 1e-9 {
			t.Errorf("membership row %d = %v", n, row)
		}
		if floats.Min(row) < 0 {
			t.Errorf("negative membership in row %d: %v", n, row)
		}
	}
}

func TestOptimizerConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*OptimizerConfig)
	}{
		{"skip label above 1", func(c *OptimizerConfig) { c.SkipLabelThreshold = 1.5 }},
		{"negative skip data", func(c *OptimizerConfig) { c.SkipDataThreshold = -0.1 }},
		{"negative smoothing", func(c *OptimizerConfig) { c.SmoothingStrength = -1 }},
		{"negative lambda", func(c *OptimizerConfig) { c.Lambda = -1 }},
		{"negative l2", func(c *OptimizerConfig) { c.L2 = -1 }},
		{"zero binary updates", func(c *OptimizerConfig) { c.BinaryUpdatesPerIter = 0 }},
	}
	for _, c := range cases {
		config := DefaultOptimizerConfig()
		c.modify(&config)
		if err := config.Validate(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: err = %v", c.name, err)
		}
	}
	if err := DefaultOptimizerConfig().Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
}

func TestNewRecoverOptimizerErrors(t *testing.T) {
	data := testDataSet(t)
	cbm, _ := NewCBM(2, 2, 2)
	if _, err := NewRecoverOptimizer(cbm, data, testConfig()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("label mismatch: err = %v", err)
	}
	cbm, _ = NewCBM(2, 3, 2)
	config := testConfig()
	config.SkipLabelThreshold = 2
	if _, err := NewRecoverOptimizer(cbm, data, config); !errors.Is(err, ErrConfiguration) {
		t.Errorf("bad config: err = %v", err)
	}
}

func TestNotInitialized(t *testing.T) {
	cbm, _ := NewCBM(2, 3, 2)
	o, err := NewRecoverOptimizer(cbm, testDataSet(t), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Iterate(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Iterate: err = %v", err)
	}
	if _, err := o.UpdateGroundTruth(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("UpdateGroundTruth: err = %v", err)
	}
	if o.State() != StateUninitialized {
		t.Errorf("state = %s", o.State())
	}
}

func TestRecoverOptimizer(t *testing.T) {
	data := testDataSet(t)
	cbm, err := NewCBM(2, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	config := testConfig()
	config.Lambda = 0.5
	o, err := NewRecoverOptimizer(cbm, data, config)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Initialize(); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateWarmStarted {
		t.Errorf("state = %s, want WARM_STARTED", o.State())
	}
	if _, err := o.Initialize(); err == nil {
		t.Error("second Initialize should fail")
	}
	checkMemberships(t, o.Membership().Matrix())

	for it := 0; it < 3; it++ {
		report, err := o.Iterate()
		if err != nil {
			t.Fatal(err)
		}
		if report.Skipped+report.Trained != 2*3 {
			t.Errorf("iteration %d: report = %+v", it, report)
		}
		if o.State() != StateMStep {
			t.Errorf("state = %s, want M_STEP", o.State())
		}
		checkMemberships(t, o.Membership().Matrix())
	}
	if cbm.Version() != 4 {
		t.Errorf("model version = %d, want 4", cbm.Version())
	}
	if o.Membership().Version() != 4 {
		t.Errorf("membership version = %d, want 4", o.Membership().Version())
	}

	before := o.PenalizedLabelObjective()
	res, err := o.UpdateGroundTruth()
	if err != nil {
		t.Fatal(err)
	}
	if after := o.PenalizedLabelObjective(); after > before+1e-9 {
		t.Errorf("correction raised the objective from %g to %g", before, after)
	}
	if res.Flipped != o.GroundTruth().Flipped() || res.Flipped != len(res.Applied) {
		t.Errorf("result = %+v, ground truth flipped = %d", res, o.GroundTruth().Flipped())
	}
	if math.IsNaN(o.Objective()) {
		t.Error("NaN objective")
	}

	o.Stop()
	if o.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", o.State())
	}
	if _, err := o.Iterate(); err == nil {
		t.Error("Iterate after Stop should fail")
	}
}

func TestRecoverOptimizerUniformSeed(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		-1, 0.5,
		-0.5, -0.5,
		0.5, 0.5,
		1, -0.5,
	})
	labels := []MultiLabel{NewMultiLabel(0), NewMultiLabel(0, 1), NewMultiLabel(1), {}}
	data, err := NewDataSet(x, labels, 2)
	if err != nil {
		t.Fatal(err)
	}
	cbm, err := NewCBM(2, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	o, err := NewRecoverOptimizer(cbm, data, testConfig(), WithSeeder(UniformSeeder))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Initialize(); err != nil {
		t.Fatal(err)
	}
	for it := 0; it < 3; it++ {
		if _, err := o.Iterate(); err != nil {
			t.Fatal(err)
		}
		checkMemberships(t, o.Membership().Matrix())
	}
	if math.IsNaN(o.Objective()) {
		t.Error("NaN objective")
	}
}

func TestEStepIdempotent(t *testing.T) {
	cbm, _ := NewCBM(2, 3, 2)
	o, err := NewRecoverOptimizer(cbm, testDataSet(t), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := o.eStep(); err != nil {
		t.Fatal(err)
	}
	first := o.Membership().Matrix()
	if err := o.eStep(); err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(first, o.Membership().Matrix(), 1e-12) {
		t.Error("repeated E-step changed the memberships")
	}
}

func TestNumericalDegeneracy(t *testing.T) {
	cbm, _ := NewCBM(2, 3, 2)
	o, err := NewRecoverOptimizer(cbm, testDataSet(t), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Initialize(); err != nil {
		t.Fatal(err)
	}
	// label 0 is observed but impossible in every component
	for k := 0; k < cbm.NumComponents; k++ {
		cbm.Binary[k][0] = NewPriorProbClassifier([2]float64{1, 0})
	}
	if _, err := o.Iterate(); !errors.Is(err, ErrNumericalDegeneracy) {
		t.Fatalf("err = %v, want ErrNumericalDegeneracy", err)
	}
	if o.State() != StateFailed || o.Err() == nil {
		t.Errorf("state = %s, err = %v", o.State(), o.Err())
	}
	_, err = o.Iterate()
	if !errors.Is(err, ErrOptimizerFailed) {
		t.Errorf("err = %v, want ErrOptimizerFailed", err)
	}
	// the cause is still reachable after the failure
	if !errors.Is(err, ErrNumericalDegeneracy) {
		t.Errorf("err = %v, want ErrNumericalDegeneracy in its chain", err)
	}
	if _, err := o.UpdateGroundTruth(); !errors.Is(err, ErrOptimizerFailed) {
		t.Errorf("err = %v, want ErrOptimizerFailed", err)
	}
	o.Stop()
	if o.State() != StateFailed {
		t.Errorf("Stop left FAILED for %s", o.State())
	}
}

func TestSeederShape(t *testing.T) {
	cbm, _ := NewCBM(2, 3, 2)
	bad := func(numLabels int, labels []MultiLabel, numComponents int) (*mat.Dense, error) {
		return mat.NewDense(len(labels), 3, nil), nil
	}
	o, err := NewRecoverOptimizer(cbm, testDataSet(t), testConfig(), WithSeeder(bad))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Initialize(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
	if o.State() != StateFailed {
		t.Errorf("state = %s", o.State())
	}
}
