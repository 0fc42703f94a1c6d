package anomaly

import (
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649015329

// node is one isolation-tree node. Leaves have Left == -1 and record how
// many training points reached them.
type node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int     `json:"l"`
	Right   int     `json:"r"`
	Size    int     `json:"n"`
}

// Forest is an isolation forest: an ensemble of random trees in which
// outliers are isolated in fewer splits than typical points.
type Forest struct {
	Trees      [][]node `json:"trees"`
	SampleSize int      `json:"sample_size"`
	// Threshold is the training-score quantile above which a point is
	// reported as anomalous.
	Threshold float64 `json:"threshold"`
}

// ForestOptions control forest construction.
type ForestOptions struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// fitForest builds a forest over rows and calibrates the anomaly threshold
// so that roughly contamination of the training rows score above it.
func fitForest(rows [][]float64, opts ForestOptions) *Forest {
	rng := rand.New(rand.NewSource(opts.Seed))
	sampleSize := opts.MaxSamples
	if sampleSize <= 0 || sampleSize > len(rows) {
		sampleSize = len(rows)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	f := &Forest{SampleSize: sampleSize, Trees: make([][]node, opts.Trees)}
	for t := range f.Trees {
		perm := rng.Perm(len(rows))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for i, idx := range perm {
			sample[i] = rows[idx]
		}
		var nodes []node
		buildTree(&nodes, sample, 0, heightLimit, rng)
		f.Trees[t] = nodes
	}

	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.score(row)
	}
	sort.Float64s(scores)
	idx := int(math.Ceil((1-opts.Contamination)*float64(len(scores)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	f.Threshold = scores[idx]
	return f
}

// buildTree appends the subtree for rows to nodes and returns its index.
func buildTree(nodes *[]node, rows [][]float64, depth, limit int, rng *rand.Rand) int {
	self := len(*nodes)
	*nodes = append(*nodes, node{Left: -1, Right: -1, Size: len(rows)})
	if depth >= limit || len(rows) <= 1 {
		return self
	}

	width := len(rows[0])
	for _, feature := range rng.Perm(width) {
		lo, hi := rows[0][feature], rows[0][feature]
		for _, r := range rows[1:] {
			lo = math.Min(lo, r[feature])
			hi = math.Max(hi, r[feature])
		}
		if hi <= lo {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, r := range rows {
			if r[feature] < split {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		l := buildTree(nodes, left, depth+1, limit, rng)
		r := buildTree(nodes, right, depth+1, limit, rng)
		(*nodes)[self] = node{Feature: feature, Split: split, Left: l, Right: r, Size: len(rows)}
		return self
	}
	return self
}

// score returns the isolation score in (0,1]: values near 1 are easy to
// isolate, values well below 0.5 are typical.
func (f *Forest) score(row []float64) float64 {
	if len(f.Trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, tree := range f.Trees {
		total += pathLength(tree, row)
	}
	mean := total / float64(len(f.Trees))
	c := averagePathLength(f.SampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}

func pathLength(tree []node, row []float64) float64 {
	i, depth := 0, 0
	for tree[i].Left >= 0 {
		if row[tree[i].Feature] < tree[i].Split {
			i = tree[i].Left
		} else {
			i = tree[i].Right
		}
		depth++
	}
	return float64(depth) + averagePathLength(tree[i].Size)
}

// averagePathLength is the expected path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func (f *Forest) valid(width int) bool {
	if len(f.Trees) == 0 || f.SampleSize < 1 {
		return false
	}
	for _, tree := range f.Trees {
		if len(tree) == 0 {
			return false
		}
		for i, n := range tree {
			if n.Left < 0 {
				continue
			}
			// Children always follow their parent, which rules out cycles.
			if n.Left <= i || n.Right <= i || n.Left >= len(tree) || n.Right >= len(tree) {
				return false
			}
			if n.Feature < 0 || n.Feature >= width {
				return false
			}
		}
	}
	return true
}
