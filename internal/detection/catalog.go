package detection

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/invisible-tech/threatcore/internal/types"
)

// Pattern is one named attack pattern.
type Pattern struct {
	Name       string            `yaml:"name" json:"name"`
	Keywords   []string          `yaml:"keywords" json:"keywords"`
	EventTypes []types.EventType `yaml:"event_types" json:"event_types"`
	Priority   types.Priority    `yaml:"priority" json:"priority"`
}

// Catalog is an ordered set of patterns. Order breaks ties between equally
// scored patterns: the earlier one wins.
type Catalog struct {
	Patterns []Pattern `yaml:"patterns" json:"patterns"`
}

// DefaultCatalog returns the built-in pattern set.
func DefaultCatalog() *Catalog {
	return &Catalog{Patterns: []Pattern{
		{
			Name:       "ransomware",
			Keywords:   []string{"ransomware", "encrypt", "decrypt", "bitcoin", "payment"},
			EventTypes: []types.EventType{types.EventMalwareDetected},
			Priority:   types.PriorityCritical,
		},
		{
			Name:       "brute_force",
			Keywords:   []string{"failed", "login", "attempt", "password", "authentication"},
			EventTypes: []types.EventType{types.EventBruteForce, types.EventLoginFailure},
			Priority:   types.PriorityHigh,
		},
		{
			Name:       "data_exfiltration",
			Keywords:   []string{"exfiltrat", "data", "transfer", "large", "volume"},
			EventTypes: []types.EventType{types.EventDataExfiltration},
			Priority:   types.PriorityCritical,
		},
		{
			Name:       "ddos",
			Keywords:   []string{"ddos", "flood", "overload", "traffic", "bandwidth"},
			EventTypes: []types.EventType{types.EventDDoS},
			Priority:   types.PriorityHigh,
		},
		{
			Name:       "phishing",
			Keywords:   []string{"phish", "email", "suspicious", "link", "attachment"},
			EventTypes: []types.EventType{types.EventPhishing},
			Priority:   types.PriorityMedium,
		},
		{
			Name:       "privilege_escalation",
			Keywords:   []string{"privilege", "escalation", "sudo", "admin", "root", "elevated"},
			EventTypes: []types.EventType{types.EventUnauthorizedAccess},
			Priority:   types.PriorityCritical,
		},
	}}
}

// ParseCatalog decodes and validates a YAML catalog. Keywords are
// lower-cased so matching is case-insensitive.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse pattern catalog: %w", err)
	}
	for i := range c.Patterns {
		p := &c.Patterns[i]
		p.Name = strings.TrimSpace(p.Name)
		for j, kw := range p.Keywords {
			p.Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Validate checks that every pattern is usable and that names are unique.
func (c *Catalog) Validate() error {
	if len(c.Patterns) == 0 {
		return errors.New("pattern catalog is empty")
	}
	seen := make(map[string]bool, len(c.Patterns))
	var errs []error
	for i, p := range c.Patterns {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("pattern %d: name is required", i))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("pattern %q: duplicate name", p.Name))
		}
		seen[p.Name] = true
		if len(p.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("pattern %q: at least one keyword is required", p.Name))
		}
		for _, kw := range p.Keywords {
			if kw == "" {
				errs = append(errs, fmt.Errorf("pattern %q: empty keyword", p.Name))
				break
			}
		}
		if !p.Priority.Valid() {
			errs = append(errs, fmt.Errorf("pattern %q: unknown priority %q", p.Name, p.Priority))
		}
	}
	return errors.Join(errs...)
}

// Names returns the pattern names in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.Patterns))
	for i, p := range c.Patterns {
		out[i] = p.Name
	}
	return out
}
