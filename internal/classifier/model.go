package classifier

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/invisible-tech/threatcore/internal/features"
	"github.com/invisible-tech/threatcore/internal/types"
)

// Model is a fitted multinomial logistic regression together with the
// scaler and label encoder it was trained with. The three are always
// persisted and swapped as one value.
type Model struct {
	Scaler   features.Scaler  `json:"scaler"`
	Labels   []types.Priority `json:"labels"`
	Weights  [][]float64      `json:"weights"`
	Bias     []float64        `json:"bias"`
	Accuracy float64          `json:"accuracy"`
	Samples  int              `json:"samples"`
}

// validate checks that the model matches the scoring feature layout.
func (m *Model) validate() error {
	if len(m.Labels) == 0 || len(m.Weights) != len(m.Labels) || len(m.Bias) != len(m.Labels) {
		return fmt.Errorf("model has %d labels, %d weight rows, %d biases", len(m.Labels), len(m.Weights), len(m.Bias))
	}
	if m.Scaler.Width() != features.ScoringCount || len(m.Scaler.Scale) != features.ScoringCount {
		return fmt.Errorf("scaler width %d, want %d", m.Scaler.Width(), features.ScoringCount)
	}
	for _, row := range m.Weights {
		if len(row) != features.ScoringCount {
			return fmt.Errorf("weight row width %d, want %d", len(row), features.ScoringCount)
		}
	}
	for _, l := range m.Labels {
		if !l.Valid() {
			return fmt.Errorf("unknown label %q", l)
		}
	}
	return nil
}

// Probabilities returns the class probabilities for a scoring vector, in
// label order.
func (m *Model) Probabilities(v features.ScoringVector) []float64 {
	x := m.Scaler.Transform(v[:])
	return softmax(m.logits(x))
}

// Predict returns the most probable label and its probability.
func (m *Model) Predict(v features.ScoringVector) (types.Priority, float64) {
	probs := m.Probabilities(v)
	best := 0
	for k := range probs {
		if probs[k] > probs[best] {
			best = k
		}
	}
	return m.Labels[best], probs[best]
}

func (m *Model) logits(x []float64) []float64 {
	z := make([]float64, len(m.Labels))
	for k := range z {
		z[k] = m.Bias[k]
		for j, xj := range x {
			z[k] += m.Weights[k][j] * xj
		}
	}
	return z
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		maxZ = math.Max(maxZ, v)
	}
	out := make([]float64, len(z))
	sum := 0.0
	for k, v := range z {
		out[k] = math.Exp(v - maxZ)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

// Options tune gradient-descent training.
type Options struct {
	Epochs       int
	LearningRate float64
	L2           float64
	TestFraction float64
	Seed         int64
}

// DefaultOptions returns the training parameters used by the service.
func DefaultOptions() Options {
	return Options{
		Epochs:       400,
		LearningRate: 0.5,
		L2:           1e-3,
		TestFraction: 0.2,
		Seed:         42,
	}
}

// Result summarizes a training run.
type Result struct {
	Samples  int              `json:"samples"`
	Train    int              `json:"train_samples"`
	Test     int              `json:"test_samples"`
	Accuracy float64          `json:"accuracy"`
	Labels   []types.Priority `json:"labels"`
}

// Fit trains a model on the given samples. Labels that are not one of the
// five priorities are rejected.
func Fit(samples []types.LabeledSample, opts Options) (*Model, Result, error) {
	if len(samples) < MinSamples {
		return nil, Result{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(samples), MinSamples)
	}

	rows := make([][]float64, len(samples))
	seen := map[types.Priority]bool{}
	for i := range samples {
		p := samples[i].Priority
		if !p.Valid() {
			return nil, Result{}, fmt.Errorf("sample %d: unknown priority %q", i, p)
		}
		seen[p] = true
		v := features.Scoring(&samples[i].Event, samples[i].Context)
		rows[i] = append([]float64(nil), v[:]...)
	}

	labels := make([]types.Priority, 0, len(seen))
	for p := range seen {
		labels = append(labels, p)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	index := make(map[types.Priority]int, len(labels))
	for k, p := range labels {
		index[p] = k
	}

	scaler := features.FitScaler(rows)
	x := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, row := range rows {
		x[i] = scaler.Transform(row)
		y[i] = index[samples[i].Priority]
	}

	order := rand.New(rand.NewSource(opts.Seed)).Perm(len(x))
	nTest := int(math.Ceil(opts.TestFraction * float64(len(x))))
	if nTest >= len(x) {
		nTest = len(x) - 1
	}
	testIdx, trainIdx := order[:nTest], order[nTest:]

	m := &Model{
		Scaler:  scaler,
		Labels:  labels,
		Weights: make([][]float64, len(labels)),
		Bias:    make([]float64, len(labels)),
		Samples: len(samples),
	}
	for k := range m.Weights {
		m.Weights[k] = make([]float64, features.ScoringCount)
	}
	if len(labels) > 1 {
		gradientDescent(m, x, y, trainIdx, opts)
	}

	correct := 0
	for _, i := range testIdx {
		probs := softmax(m.logits(x[i]))
		best := 0
		for k := range probs {
			if probs[k] > probs[best] {
				best = k
			}
		}
		if best == y[i] {
			correct++
		}
	}
	if nTest > 0 {
		m.Accuracy = float64(correct) / float64(nTest)
	}

	return m, Result{
		Samples:  len(samples),
		Train:    len(trainIdx),
		Test:     nTest,
		Accuracy: m.Accuracy,
		Labels:   labels,
	}, nil
}

func gradientDescent(m *Model, x [][]float64, y []int, idx []int, opts Options) {
	classes, width := len(m.Labels), features.ScoringCount
	n := float64(len(idx))
	gradW := make([][]float64, classes)
	for k := range gradW {
		gradW[k] = make([]float64, width)
	}
	gradB := make([]float64, classes)

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for k := range gradW {
			for j := range gradW[k] {
				gradW[k][j] = 0
			}
			gradB[k] = 0
		}
		for _, i := range idx {
			probs := softmax(m.logits(x[i]))
			for k := 0; k < classes; k++ {
				d := probs[k]
				if k == y[i] {
					d -= 1
				}
				gradB[k] += d / n
				for j, xj := range x[i] {
					gradW[k][j] += d * xj / n
				}
			}
		}
		for k := 0; k < classes; k++ {
			m.Bias[k] -= opts.LearningRate * gradB[k]
			for j := 0; j < width; j++ {
				m.Weights[k][j] -= opts.LearningRate * (gradW[k][j] + opts.L2*m.Weights[k][j])
			}
		}
	}
}
