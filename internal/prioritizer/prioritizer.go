// Package prioritizer decides the priority and score of an event. A trained
// classifier is preferred; the intelligent scorer is used whenever the
// classifier is absent or fails.
package prioritizer

import (
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/classifier"
	"github.com/invisible-tech/threatcore/internal/scoring"
	"github.com/invisible-tech/threatcore/internal/types"
)

// Scoring methods reported with each result.
const (
	MethodModel       = "model"
	MethodIntelligent = "intelligent"
)

// Predictor is the subset of the classifier used for prioritization.
type Predictor interface {
	Trained() bool
	Predict(ev *types.Event, ctx types.Context) (types.Priority, float64, error)
}

// Result is the prioritizer's verdict.
type Result struct {
	Priority types.Priority
	Score    float64
	Method   string
}

// Prioritizer chooses between the trained classifier and the scorer.
type Prioritizer struct {
	model Predictor
	log   *logrus.Logger
}

// New creates a prioritizer. model may be nil.
func New(model Predictor, log *logrus.Logger) *Prioritizer {
	return &Prioritizer{model: model, log: log}
}

// NewWithClassifier is a convenience wrapper for the concrete classifier.
func NewWithClassifier(c *classifier.Classifier, log *logrus.Logger) *Prioritizer {
	if c == nil {
		return New(nil, log)
	}
	return New(c, log)
}

// Prioritize never fails: classifier errors are logged and the intelligent
// score is returned instead.
func (p *Prioritizer) Prioritize(ev *types.Event, ctx types.Context) Result {
	if p.model != nil && p.model.Trained() {
		priority, confidence, err := p.model.Predict(ev, ctx)
		if err == nil && priority.Valid() {
			return Result{Priority: priority, Score: confidence, Method: MethodModel}
		}
		entry := p.log.WithField("event_id", ev.ID)
		if err != nil {
			entry = entry.WithError(err)
		} else {
			entry = entry.WithField("priority", priority)
		}
		entry.Warn("Classifier prediction failed, using intelligent scoring")
	}
	score := scoring.ScoreEvent(ev, ctx)
	return Result{Priority: scoring.PriorityFor(score), Score: score, Method: MethodIntelligent}
}
