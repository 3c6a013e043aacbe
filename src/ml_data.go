package src

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MultiLabel is a sorted set of indices. It holds the matched labels of one
// instance, and is reused for the positive instances of one label column.
type MultiLabel struct {
	labels []int
}

func NewMultiLabel(labels ...int) MultiLabel {
	m := MultiLabel{labels: make([]int, 0, len(labels))}
	for _, l := range labels {
		m.Add(l)
	}
	return m
}

func (m *MultiLabel) Match(l int) bool {
	i := sort.SearchInts(m.labels, l)
	return i < len(m.labels) && m.labels[i] == l
}

// Add inserts l and reports whether it was missing.
func (m *MultiLabel) Add(l int) bool {
	i := sort.SearchInts(m.labels, l)
	if i < len(m.labels) && m.labels[i] == l {
		return false
	}
	m.labels = append(m.labels, 0)
	copy(m.labels[i+1:], m.labels[i:])
	m.labels[i] = l
	return true
}

// Remove deletes l and reports whether it was present.
func (m *MultiLabel) Remove(l int) bool {
	i := sort.SearchInts(m.labels, l)
	if i >= len(m.labels) || m.labels[i] != l {
		return false
	}
	m.labels = append(m.labels[:i], m.labels[i+1:]...)
	return true
}

// Flip toggles l and returns true when l is matched afterwards.
func (m *MultiLabel) Flip(l int) bool {
	if m.Remove(l) {
		return false
	}
	m.Add(l)
	return true
}

// Labels returns the matched indices in increasing order. The slice must not
// be modified.
func (m *MultiLabel) Labels() []int {
	return m.labels
}

func (m *MultiLabel) Len() int {
	return len(m.labels)
}

func (m *MultiLabel) clone() MultiLabel {
	c := MultiLabel{labels: make([]int, len(m.labels))}
	copy(c.labels, m.labels)
	return c
}

// DataSet is the fixed training input: an N x D feature matrix and the
// observed label set of every row.
type DataSet struct {
	X         *mat.Dense
	Labels    []MultiLabel
	NumLabels int
}

func NewDataSet(x *mat.Dense, labels []MultiLabel, numLabels int) (*DataSet, error) {
	if x == nil {
		return nil, errors.Wrap(ErrEmptyDataSet, "nil feature matrix")
	}
	nRow, _ := x.Dims()
	if nRow == 0 || numLabels < 1 {
		return nil, errors.Wrapf(ErrEmptyDataSet, "%d instances, %d labels", nRow, numLabels)
	}
	if len(labels) != nRow {
		return nil, errors.Wrapf(ErrConfiguration, "%d label sets for %d feature rows", len(labels), nRow)
	}
	for i := range labels {
		for _, l := range labels[i].Labels() {
			if l < 0 || l >= numLabels {
				return nil, errors.Wrapf(ErrConfiguration, "label %d of instance %d out of range [0,%d)", l, i, numLabels)
			}
		}
	}
	return &DataSet{X: x, Labels: labels, NumLabels: numLabels}, nil
}

func (d *DataSet) NumData() int {
	r, _ := d.X.Dims()
	return r
}

func (d *DataSet) NumFeatures() int {
	_, c := d.X.Dims()
	return c
}

// Row returns a view of the feature row of instance n.
func (d *DataSet) Row(n int) []float64 {
	return d.X.RawRowView(n)
}

// GroundTruth is the working label matrix. Every cell lives both in the row
// set of its instance and in the column set of its label; Flip keeps the two
// in sync.
type GroundTruth struct {
	numLabels int
	observed  []MultiLabel
	rows      []MultiLabel
	cols      []MultiLabel
	flipped   int
	version   int
}

func NewGroundTruth(data *DataSet) *GroundTruth {
	g := &GroundTruth{
		numLabels: data.NumLabels,
		observed:  make([]MultiLabel, len(data.Labels)),
		rows:      make([]MultiLabel, len(data.Labels)),
		cols:      make([]MultiLabel, data.NumLabels),
	}
	for n := range data.Labels {
		g.observed[n] = data.Labels[n].clone()
		g.rows[n] = data.Labels[n].clone()
		for _, l := range data.Labels[n].Labels() {
			g.cols[l].Add(n)
		}
	}
	return g
}

func (g *GroundTruth) NumData() int {
	return len(g.rows)
}

func (g *GroundTruth) NumLabels() int {
	return g.numLabels
}

func (g *GroundTruth) Match(n, l int) bool {
	return g.rows[n].Match(l)
}

// Observed reports the originally observed value of cell (n, l).
func (g *GroundTruth) Observed(n, l int) bool {
	return g.observed[n].Match(l)
}

// Row returns the working label set of instance n. Read only.
func (g *GroundTruth) Row(n int) *MultiLabel {
	return &g.rows[n]
}

// Column returns the instances whose working label l is set, in increasing
// order. Read only.
func (g *GroundTruth) Column(l int) []int {
	return g.cols[l].Labels()
}

func (g *GroundTruth) PositiveCount(l int) int {
	return g.cols[l].Len()
}

// Flip toggles cell (n, l) in both representations and returns its new value.
func (g *GroundTruth) Flip(n, l int) int {
	if g.rows[n].Flip(l) {
		g.cols[l].Add(n)
		g.flipped++
		g.version++
		return 1
	}
	g.cols[l].Remove(n)
	g.flipped--
	g.version++
	return 0
}

// Flipped is the signed flip count: +1 for every 0->1 flip, -1 for every
// reversion.
func (g *GroundTruth) Flipped() int {
	return g.flipped
}

func (g *GroundTruth) Version() int {
	return g.version
}

// Cell is one entry of the working ground truth that differs from the
// observed labels.
type Cell struct {
	Instance int
	Label    int
	Value    int
}

func (g *GroundTruth) Diff() []Cell {
	var cells []Cell
	for n := range g.rows {
		for _, l := range g.rows[n].Labels() {
			if !g.observed[n].Match(l) {
				cells = append(cells, Cell{Instance: n, Label: l, Value: 1})
			}
		}
		for _, l := range g.observed[n].Labels() {
			if !g.rows[n].Match(l) {
				cells = append(cells, Cell{Instance: n, Label: l, Value: 0})
			}
		}
	}
	return cells
}

// Matrix returns the working labels as a dense N x L 0/1 matrix.
func (g *GroundTruth) Matrix() *mat.Dense {
	m := mat.NewDense(len(g.rows), g.numLabels, nil)
	for n := range g.rows {
		for _, l := range g.rows[n].Labels() {
			m.Set(n, l, 1.0)
		}
	}
	return m
}
