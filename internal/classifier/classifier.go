// Package classifier is the optional supervised priority model. It is trained
// on labeled historical events and, once trained, predicts a priority with a
// confidence from the scoring feature vector.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/features"
	"github.com/invisible-tech/threatcore/internal/modelio"
	"github.com/invisible-tech/threatcore/internal/types"
)

// MinSamples is the smallest training set accepted.
const MinSamples = 10

// ConfidenceFloor is the lowest confidence reported for a prediction.
const ConfidenceFloor = 0.6

// BundleKind tags classifier bundles on disk.
const BundleKind = "priority_classifier"

var (
	// ErrInsufficientData is returned when fewer than MinSamples samples are
	// supplied. The current model is left untouched.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrNotTrained is returned by Predict when no model is loaded.
	ErrNotTrained = errors.New("classifier not trained")
)

// Classifier holds the current model. Trained models are swapped in as a
// whole, so concurrent predictions see either the old or the new bundle.
type Classifier struct {
	model atomic.Pointer[Model]
	opts  Options
	log   *logrus.Logger
}

// New creates an untrained classifier.
func New(log *logrus.Logger) *Classifier {
	return &Classifier{opts: DefaultOptions(), log: log}
}

// Trained reports whether a model is loaded.
func (c *Classifier) Trained() bool {
	return c.model.Load() != nil
}

// Model returns the current model, or nil when untrained.
func (c *Classifier) Model() *Model {
	return c.model.Load()
}

// Predict returns the predicted priority and its confidence, floored at
// ConfidenceFloor.
func (c *Classifier) Predict(ev *types.Event, ctx types.Context) (p types.Priority, confidence float64, err error) {
	m := c.model.Load()
	if m == nil {
		return "", 0, ErrNotTrained
	}
	defer func() {
		if r := recover(); r != nil {
			p, confidence, err = "", 0, fmt.Errorf("classifier inference: %v", r)
		}
	}()
	p, prob := m.Predict(features.Scoring(ev, ctx))
	if math.IsNaN(prob) {
		return "", 0, fmt.Errorf("classifier inference produced NaN")
	}
	return p, math.Max(prob, ConfidenceFloor), nil
}

// Train fits a new model and swaps it in. On any error the current model is
// kept.
func (c *Classifier) Train(samples []types.LabeledSample) (Result, error) {
	m, res, err := Fit(samples, c.opts)
	if err != nil {
		if errors.Is(err, ErrInsufficientData) {
			c.log.WithField("samples", len(samples)).Info("Not enough labeled samples to train priority classifier")
		}
		return Result{}, err
	}
	c.model.Store(m)
	c.log.WithFields(logrus.Fields{
		"samples":  res.Samples,
		"accuracy": res.Accuracy,
		"labels":   res.Labels,
	}).Info("Priority classifier trained")
	return res, nil
}

// Reset drops the current model.
func (c *Classifier) Reset() {
	c.model.Store(nil)
}

// Save writes the current model bundle to path.
func (c *Classifier) Save(path string) error {
	m := c.model.Load()
	if m == nil {
		return ErrNotTrained
	}
	if err := modelio.Save(path, BundleKind, features.ScoringNames[:], m); err != nil {
		return fmt.Errorf("save classifier: %w", err)
	}
	return nil
}

// Load reads a bundle from path and swaps it in. A bundle whose shape does
// not match the scoring features is rejected with modelio.ErrIncompatible.
func (c *Classifier) Load(path string) error {
	var m Model
	if _, err := modelio.Load(path, BundleKind, features.ScoringNames[:], &m); err != nil {
		return fmt.Errorf("load classifier: %w", err)
	}
	if err := m.validate(); err != nil {
		return fmt.Errorf("load classifier: %w: %v", modelio.ErrIncompatible, err)
	}
	c.model.Store(&m)
	c.log.WithFields(logrus.Fields{
		"path":   path,
		"labels": m.Labels,
	}).Info("Priority classifier loaded")
	return nil
}
