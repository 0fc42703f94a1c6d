// Package detection classifies security events against a catalog of named
// attack patterns and extracts indicators of compromise.
package detection

import (
	"strings"
	"sync/atomic"

	"github.com/invisible-tech/threatcore/internal/types"
)

// Classification categories.
const (
	CategoryAttack  = "attack"
	CategoryUnknown = "unknown"
)

// Tags attached to classifications.
const (
	TagAutomated     = "automated_detection"
	TagHighFrequency = "high_frequency"
	TagRecurring     = "recurring_pattern"
)

const (
	eventTypeWeight = 0.4
	keywordWeight   = 0.6
	// acceptScore is the score a pattern must exceed to be reported.
	acceptScore = 0.3
)

// Engine evaluates events against the pattern catalog. The catalog can be
// replaced at runtime; each classification sees one consistent catalog.
type Engine struct {
	catalog atomic.Pointer[Catalog]
}

// NewEngine creates an engine over catalog, or the default catalog when nil.
func NewEngine(catalog *Catalog) *Engine {
	e := &Engine{}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e.catalog.Store(catalog)
	return e
}

// SetCatalog swaps in a new catalog.
func (e *Engine) SetCatalog(c *Catalog) {
	if c != nil {
		e.catalog.Store(c)
	}
}

// Catalog returns the active catalog (read-only).
func (e *Engine) Catalog() *Catalog {
	return e.catalog.Load()
}

// Match is the best-scoring pattern for an event.
type Match struct {
	Pattern *Pattern
	Score   float64
}

// BestMatch scores every pattern and returns the highest one, or a zero
// Match when nothing scores above zero.
func (e *Engine) BestMatch(ev *types.Event) Match {
	text := ev.Text()
	var best Match
	catalog := e.catalog.Load()
	for i := range catalog.Patterns {
		p := &catalog.Patterns[i]
		score := patternScore(p, ev.Type, text)
		if score > best.Score {
			best = Match{Pattern: p, Score: score}
		}
	}
	return best
}

// Classify matches the event against the catalog, tags it and extracts
// IOCs. It never fails.
func (e *Engine) Classify(ev *types.Event, ctx types.Context) types.Classification {
	c := types.Classification{
		Category: CategoryUnknown,
		Tags:     []string{},
	}

	if m := e.BestMatch(ev); m.Pattern != nil && m.Score > acceptScore {
		c.Category = CategoryAttack
		c.AttackType = m.Pattern.Name
		c.Confidence = min(1.0, m.Score)
		c.Tags = append(c.Tags, m.Pattern.Name, TagAutomated)
		c.RecommendedPriority = m.Pattern.Priority
	}

	c.IOCs = ExtractIOCs(ev)

	if ctx.SourceIPCount > 10 {
		c.Tags = append(c.Tags, TagHighFrequency)
	}
	if ctx.SimilarEventsCount > 5 {
		c.Tags = append(c.Tags, TagRecurring)
	}
	return c
}

func patternScore(p *Pattern, et types.EventType, text string) float64 {
	score := 0.0
	for _, t := range p.EventTypes {
		if t == et {
			score += eventTypeWeight
			break
		}
	}
	if len(p.Keywords) == 0 {
		return score
	}
	matched := 0
	for _, kw := range p.Keywords {
		if containsFold(text, kw) {
			matched++
		}
	}
	return score + keywordWeight*float64(matched)/float64(len(p.Keywords))
}

// containsFold reports whether the lower-cased text contains kw,
// case-insensitively.
func containsFold(lowerText, kw string) bool {
	return strings.Contains(lowerText, strings.ToLower(kw))
}
