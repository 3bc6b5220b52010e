package anomaly

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const eulerGamma = 0.5772156649

// ForestOptions configures an isolation forest.
type ForestOptions struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// DefaultForestOptions matches the detector defaults: 100 trees, 256 samples per tree.
func DefaultForestOptions() ForestOptions {
	return ForestOptions{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.05,
		Seed:          42,
	}
}

// Node is a flattened isolation tree node. Leaves have Left == -1.
type Node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int     `json:"l"`
	Right   int     `json:"r"`
	Size    int     `json:"n"`
}

// Tree is one isolation tree stored as a node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is an isolation forest whose threshold is calibrated so that the
// Contamination fraction of the training set falls on the outlier side.
type Forest struct {
	Options    ForestOptions `json:"options"`
	Features   int           `json:"features"`
	SampleSize int           `json:"sample_size"`
	Threshold  float64       `json:"threshold"`
	Trees      []Tree        `json:"trees"`
}

// NewForest returns an unfitted forest.
func NewForest(opts ForestOptions) *Forest {
	if opts.Trees <= 0 {
		opts.Trees = DefaultForestOptions().Trees
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultForestOptions().SampleSize
	}
	return &Forest{Options: opts}
}

// FitForest builds and calibrates a forest on data.
func FitForest(data [][]float64, opts ForestOptions) (*Forest, error) {
	f := NewForest(opts)
	if err := f.Fit(data); err != nil {
		return nil, err
	}
	return f, nil
}

// Fit grows the trees on random subsamples and sets the decision threshold.
func (f *Forest) Fit(data [][]float64) error {
	w, err := width(data)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(f.Options.Seed)) // #nosec G404 - reproducible model, not security
	psi := min(f.Options.SampleSize, len(data))
	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f.Features = w
	f.SampleSize = psi
	f.Trees = make([]Tree, f.Options.Trees)
	for t := range f.Trees {
		idx := rng.Perm(len(data))[:psi]
		b := &treeBuilder{data: data, rng: rng, limit: limit, width: w}
		b.grow(idx, 0)
		f.Trees[t] = Tree{Nodes: b.nodes}
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = f.score(row)
	}
	sort.Float64s(scores)
	f.Threshold = stat.Quantile(1-f.Options.Contamination, stat.LinInterp, scores, nil)
	return nil
}

// Score returns the anomaly score in (0,1]; values near 1 are isolated quickly.
func (f *Forest) Score(sample []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, ErrNotFitted
	}
	if len(sample) != f.Features {
		return 0, ErrDimensionMismatch
	}
	return f.score(sample), nil
}

// Decision returns threshold minus score. Negative values are outliers.
func (f *Forest) Decision(sample []float64) (float64, error) {
	s, err := f.Score(sample)
	if err != nil {
		return 0, err
	}
	return f.Threshold - s, nil
}

// Predict labels each row Inlier or Outlier.
func (f *Forest) Predict(data [][]float64) ([]int, error) {
	out := make([]int, len(data))
	for i, row := range data {
		d, err := f.Decision(row)
		if err != nil {
			return nil, err
		}
		if d < 0 {
			out[i] = Outlier
		} else {
			out[i] = Inlier
		}
	}
	return out, nil
}

// Save serializes the forest as JSON.
func (f *Forest) Save() ([]byte, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	return json.Marshal(f)
}

// Load restores a forest written by Save.
func (f *Forest) Load(data []byte) error {
	if err := json.Unmarshal(data, f); err != nil {
		return err
	}
	if len(f.Trees) == 0 {
		return ErrNotFitted
	}
	return nil
}

func (f *Forest) score(sample []float64) float64 {
	var total float64
	for _, t := range f.Trees {
		total += t.pathLength(sample)
	}
	mean := total / float64(len(f.Trees))
	return math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

func (t Tree) pathLength(sample []float64) float64 {
	i, depth := 0, 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return float64(depth) + averagePathLength(n.Size)
		}
		if sample[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength is the expected path length of an unsuccessful search in a
// binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

type treeBuilder struct {
	data  [][]float64
	rng   *rand.Rand
	limit int
	width int
	nodes []Node
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: len(idx)})
	if depth >= b.limit || len(idx) <= 1 {
		return self
	}

	feature, lo, hi, ok := b.pickFeature(idx)
	if !ok {
		return self
	}
	split := lo + b.rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if b.data[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self].Feature = feature
	b.nodes[self].Split = split
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

// pickFeature draws features in random order until one is not constant on idx.
func (b *treeBuilder) pickFeature(idx []int) (feature int, lo, hi float64, ok bool) {
	for _, j := range b.rng.Perm(b.width) {
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.data[i][j]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi > lo {
			return j, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

var _ Detector = (*Forest)(nil)
