package prioritizer

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/classifier"
	"github.com/invisible-tech/threatcore/internal/scoring"
	"github.com/invisible-tech/threatcore/internal/types"
)

type stubPredictor struct {
	trained  bool
	priority types.Priority
	conf     float64
	err      error
	calls    int
}

func (s *stubPredictor) Trained() bool { return s.trained }

func (s *stubPredictor) Predict(*types.Event, types.Context) (types.Priority, float64, error) {
	s.calls++
	return s.priority, s.conf, s.err
}

var ransomware = &types.Event{
	ID: "ev-1", Type: types.EventMalwareDetected, Source: types.SourceEndpoint,
	Severity: "9.5", Description: "Ransomware encrypted files", Timestamp: "2024-03-12T14:30:00Z",
}

func TestPrioritize_NoModelUsesScorer(t *testing.T) {
	p := New(nil, logrus.New())
	res := p.Prioritize(ransomware, types.Context{SourceIPCount: 15})
	if res.Method != MethodIntelligent {
		t.Errorf("method = %s", res.Method)
	}
	if want := scoring.ScoreEvent(ransomware, types.Context{SourceIPCount: 15}); res.Score != want {
		t.Errorf("score = %v, want %v", res.Score, want)
	}
	if res.Priority != types.PriorityCritical {
		t.Errorf("priority = %s", res.Priority)
	}
}

func TestPrioritize_UntrainedClassifierNotCalled(t *testing.T) {
	stub := &stubPredictor{}
	res := New(stub, logrus.New()).Prioritize(ransomware, types.Context{})
	if stub.calls != 0 {
		t.Errorf("untrained model was called %d times", stub.calls)
	}
	if res.Method != MethodIntelligent {
		t.Errorf("method = %s", res.Method)
	}
}

func TestPrioritize_ModelResult(t *testing.T) {
	stub := &stubPredictor{trained: true, priority: types.PriorityHigh, conf: 0.77}
	res := New(stub, logrus.New()).Prioritize(ransomware, types.Context{})
	if res != (Result{Priority: types.PriorityHigh, Score: 0.77, Method: MethodModel}) {
		t.Errorf("result = %+v", res)
	}
}

func TestPrioritize_ModelErrorFallsBack(t *testing.T) {
	cases := map[string]*stubPredictor{
		"error":         {trained: true, err: errors.New("boom")},
		"invalid label": {trained: true, priority: "bogus", conf: 0.9},
	}
	for name, stub := range cases {
		t.Run(name, func(t *testing.T) {
			res := New(stub, logrus.New()).Prioritize(ransomware, types.Context{})
			if res.Method != MethodIntelligent {
				t.Errorf("method = %s, want fallback", res.Method)
			}
			if !res.Priority.Valid() {
				t.Errorf("priority %q invalid", res.Priority)
			}
		})
	}
}

func TestNewWithClassifier_Nil(t *testing.T) {
	res := NewWithClassifier(nil, logrus.New()).Prioritize(&types.Event{Type: types.EventOther}, types.Context{})
	if res.Method != MethodIntelligent {
		t.Errorf("method = %s", res.Method)
	}
	res = NewWithClassifier(classifier.New(logrus.New()), logrus.New()).Prioritize(&types.Event{}, types.Context{})
	if res.Method != MethodIntelligent {
		t.Errorf("method = %s", res.Method)
	}
}
