// Package anomaly flags events that are statistical outliers relative to
// recent history. Until a model has been fitted it falls back to a fixed
// heuristic; after fitting it uses an isolation forest over standardized
// anomaly features.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/features"
	"github.com/invisible-tech/threatcore/internal/modelio"
	"github.com/invisible-tech/threatcore/internal/types"
	"github.com/invisible-tech/threatcore/internal/window"
)

// MinSamples is the smallest batch a model is fitted on.
const MinSamples = 10

// HeuristicScore is reported whenever the heuristic decides: it means
// "uncalibrated".
const HeuristicScore = 0.5

// BundleKind tags anomaly bundles on disk.
const BundleKind = "anomaly_detector"

// Detection methods.
const (
	MethodModel     = "model"
	MethodHeuristic = "heuristic"
)

// squashSteepness controls how quickly the normalized score moves away from
// 0.5 around the calibrated threshold.
const squashSteepness = 20.0

// ErrInsufficientData is returned when fitting is requested on fewer than
// MinSamples vectors.
var ErrInsufficientData = errors.New("insufficient data to fit anomaly model")

var criticalTypes = map[types.EventType]bool{
	types.EventMalwareDetected:    true,
	types.EventUnauthorizedAccess: true,
	types.EventDataExfiltration:   true,
}

// Config holds detector parameters.
type Config struct {
	// Contamination is the expected anomaly rate, in (0, 0.5].
	Contamination   float64
	HistoryCapacity int
	Trees           int
	MaxSamples      int
	Seed            int64
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		Contamination:   0.1,
		HistoryCapacity: 1000,
		Trees:           100,
		MaxSamples:      256,
		Seed:            42,
	}
}

// Result is one detection verdict. Score is in [0,1]; lower is more
// anomalous.
type Result struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"anomaly_score"`
	Method    string  `json:"method"`
}

// Bundle is the fitted model and the scaler it was trained with.
type Bundle struct {
	Scaler    features.Scaler `json:"scaler"`
	Forest    *Forest         `json:"forest"`
	Trained   bool            `json:"trained"`
	Samples   int             `json:"samples"`
	TrainedAt time.Time       `json:"trained_at"`
}

// Detector is safe for concurrent use. Fitting runs on a private copy and
// the finished bundle is swapped in atomically.
type Detector struct {
	cfg     Config
	history *window.Window[features.AnomalyVector]
	bundle  atomic.Pointer[Bundle]
	fitMu   sync.Mutex
	log     *logrus.Logger
}

// New creates an untrained detector.
func New(cfg Config, log *logrus.Logger) *Detector {
	def := DefaultConfig()
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 || math.IsNaN(cfg.Contamination) {
		cfg.Contamination = def.Contamination
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	return &Detector{
		cfg:     cfg,
		history: window.New[features.AnomalyVector](cfg.HistoryCapacity),
		log:     log,
	}
}

// Trained reports whether a fitted model is in use.
func (d *Detector) Trained() bool {
	b := d.bundle.Load()
	return b != nil && b.Trained
}

// HistoryLen returns the number of feature vectors held for retraining.
func (d *Detector) HistoryLen() int {
	return d.history.Len()
}

// Contamination returns the configured anomaly rate.
func (d *Detector) Contamination() float64 {
	return d.cfg.Contamination
}

// Detect scores one event. It records the feature vector in the history and
// never fails: any model problem falls back to the heuristic.
func (d *Detector) Detect(ev *types.Event, ctx types.Context) Result {
	v := features.Anomaly(ev, ctx)
	d.history.Push(v)

	b := d.bundle.Load()
	if b == nil || !b.Trained {
		return Result{IsAnomaly: Heuristic(ev, ctx), Score: HeuristicScore, Method: MethodHeuristic}
	}
	res, err := b.evaluate(v)
	if err != nil {
		d.log.WithError(err).WithField("event_id", ev.ID).Warn("Anomaly model inference failed, using heuristic")
		return Result{IsAnomaly: Heuristic(ev, ctx), Score: HeuristicScore, Method: MethodHeuristic}
	}
	return res
}

func (b *Bundle) evaluate(v features.AnomalyVector) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("anomaly inference: %v", r)
		}
	}()
	x := b.Scaler.Transform(v[:])
	s := b.Forest.score(x)
	if math.IsNaN(s) {
		return Result{}, fmt.Errorf("anomaly inference produced NaN")
	}
	normalized := 1.0 / (1.0 + math.Exp(squashSteepness*(s-b.Forest.Threshold)))
	return Result{IsAnomaly: s > b.Forest.Threshold, Score: normalized, Method: MethodModel}, nil
}

// Heuristic is the pre-training rule: raw severity of at least 7.0, more
// than 10 recent events from the source IP, or a critical event type.
func Heuristic(ev *types.Event, ctx types.Context) bool {
	if sev, ok := ev.Severity.Float(); ok && sev >= 7.0 {
		return true
	}
	if ctx.SourceIPCount > 10 {
		return true
	}
	return criticalTypes[ev.Type]
}

// Update fits a new model on the given observations and adds them to the
// history. Fewer than MinSamples observations leaves the model untouched.
func (d *Detector) Update(obs []types.Observation) (int, error) {
	if len(obs) < MinSamples {
		d.log.WithField("samples", len(obs)).Info("Not enough events to fit anomaly model")
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(obs), MinSamples)
	}
	rows := make([][]float64, len(obs))
	for i := range obs {
		v := features.Anomaly(&obs[i].Event, obs[i].Context)
		d.history.Push(v)
		rows[i] = append([]float64(nil), v[:]...)
	}
	return d.fit(rows)
}

// RetrainFromHistory fits a new model on the buffered history.
func (d *Detector) RetrainFromHistory() (int, error) {
	snapshot := d.history.Snapshot()
	if len(snapshot) < MinSamples {
		d.log.WithField("samples", len(snapshot)).Info("Not enough history to fit anomaly model")
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(snapshot), MinSamples)
	}
	rows := make([][]float64, len(snapshot))
	for i, v := range snapshot {
		rows[i] = append([]float64(nil), v[:]...)
	}
	return d.fit(rows)
}

func (d *Detector) fit(rows [][]float64) (int, error) {
	d.fitMu.Lock()
	defer d.fitMu.Unlock()

	scaler := features.FitScaler(rows)
	scaled := make([][]float64, len(rows))
	for i, r := range rows {
		scaled[i] = scaler.Transform(r)
	}
	forest := fitForest(scaled, ForestOptions{
		Trees:         d.cfg.Trees,
		MaxSamples:    d.cfg.MaxSamples,
		Contamination: d.cfg.Contamination,
		Seed:          d.cfg.Seed,
	})
	d.bundle.Store(&Bundle{
		Scaler:    scaler,
		Forest:    forest,
		Trained:   true,
		Samples:   len(rows),
		TrainedAt: time.Now().UTC(),
	})
	d.log.WithFields(logrus.Fields{
		"samples":   len(rows),
		"trees":     len(forest.Trees),
		"threshold": forest.Threshold,
	}).Info("Anomaly model updated")
	return len(rows), nil
}

// Reset drops the fitted model and the history.
func (d *Detector) Reset() {
	d.bundle.Store(nil)
	d.history.Reset()
}

// Save writes the current bundle. An untrained detector is saved as an
// untrained bundle, which loads back into the heuristic state.
func (d *Detector) Save(path string) error {
	b := d.bundle.Load()
	if b == nil {
		b = &Bundle{}
	}
	if err := modelio.Save(path, BundleKind, features.AnomalyNames[:], b); err != nil {
		return fmt.Errorf("save anomaly model: %w", err)
	}
	return nil
}

// Load reads a bundle and swaps it in.
func (d *Detector) Load(path string) error {
	var b Bundle
	if _, err := modelio.Load(path, BundleKind, features.AnomalyNames[:], &b); err != nil {
		return fmt.Errorf("load anomaly model: %w", err)
	}
	if b.Trained {
		if b.Forest == nil || b.Scaler.Width() != features.AnomalyCount || len(b.Scaler.Scale) != features.AnomalyCount || !b.Forest.valid(features.AnomalyCount) {
			return fmt.Errorf("load anomaly model: %w: malformed forest or scaler", modelio.ErrIncompatible)
		}
		d.bundle.Store(&b)
	} else {
		d.bundle.Store(nil)
	}
	d.log.WithFields(logrus.Fields{"path": path, "trained": b.Trained}).Info("Anomaly model loaded")
	return nil
}
