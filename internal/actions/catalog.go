package actions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// #region types

// Action is one micro-intervention the recommender can choose.
type Action struct {
	Index    int
	Label    string // e.g. "breathing:3"
	Category string // label with the trailing ordinal stripped
	Variant  int
}

// Catalog is the ordered, immutable set of actions. Index i of the catalog is the
// bandit arm i.
type Catalog struct {
	actions []Action
	byLabel map[string]int
}

// ErrEmptyCatalog is returned when no actions are configured.
var ErrEmptyCatalog = errors.New("action catalog is empty")

// #endregion types

// #region defaults

// DefaultLabels is the catalog used by the field deployment.
var DefaultLabels = []string{
	"timeout:1", "timeout:2", "timeout:3", "timeout:4", "timeout:5", "timeout:6", "timeout:7", "timeout:8", "timeout:9",
	"breathing:1", "breathing:2", "breathing:3", "breathing:4", "breathing:5", "breathing:6", "breathing:7", "breathing:8",
	"bodyscan:1", "bodyscan:2",
	"enjoyable:1", "enjoyable:2", "enjoyable:3", "enjoyable:4", "enjoyable:5", "enjoyable:6", "enjoyable:7", "enjoyable:8",
}

// DefaultCatalog returns the catalog built from DefaultLabels.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultLabels)
	if err != nil {
		panic(err)
	}
	return c
}

// #endregion defaults

// #region constructor

// NewCatalog parses labels in order. Labels must be unique.
func NewCatalog(labels []string) (*Catalog, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		actions: make([]Action, 0, len(labels)),
		byLabel: make(map[string]int, len(labels)),
	}
	for i, raw := range labels {
		label := strings.TrimSpace(raw)
		if label == "" {
			return nil, fmt.Errorf("action %d: empty label", i)
		}
		if _, dup := c.byLabel[label]; dup {
			return nil, fmt.Errorf("action %d: duplicate label %q", i, label)
		}
		category, variant := splitLabel(label)
		c.actions = append(c.actions, Action{
			Index:    i,
			Label:    label,
			Category: category,
			Variant:  variant,
		})
		c.byLabel[label] = i
	}
	return c, nil
}

// splitLabel strips the trailing ordinal. "breathing:3" -> ("breathing", 3);
// labels without an ordinal get variant 0.
func splitLabel(label string) (string, int) {
	end := len(label)
	for end > 0 && label[end-1] >= '0' && label[end-1] <= '9' {
		end--
	}
	variant := 0
	if end < len(label) {
		variant, _ = strconv.Atoi(label[end:])
	}
	category := strings.TrimRight(label[:end], ":")
	if category == "" {
		category = label
	}
	return category, variant
}

// #endregion constructor

// #region accessors

// Len returns the number of actions.
func (c *Catalog) Len() int { return len(c.actions) }

// At returns the action at index i. Panics when i is out of range.
func (c *Catalog) At(i int) Action {
	return c.actions[i]
}

// Lookup finds an action by label.
func (c *Catalog) Lookup(label string) (Action, bool) {
	i, ok := c.byLabel[label]
	if !ok {
		return Action{}, false
	}
	return c.actions[i], true
}

// Labels returns the labels in index order.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.actions))
	for i, a := range c.actions {
		out[i] = a.Label
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range c.actions {
		if !seen[a.Category] {
			seen[a.Category] = true
			out = append(out, a.Category)
		}
	}
	return out
}

// #endregion accessors
