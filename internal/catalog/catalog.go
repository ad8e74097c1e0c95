// Package catalog holds the static registry of action descriptors. The
// catalog is populated at startup, sealed before the first run, and read-only
// from then on.
package catalog

import (
	"fmt"

	"github.com/dermalens/conductor/internal/core/domain"
)

// Catalog is a registry of action descriptors, looked up by id. Registration
// order is preserved so that planning over the catalog is deterministic.
type Catalog struct {
	ordered []domain.Descriptor
	byID    map[domain.ActionID]domain.Descriptor
	sealed  bool
}

// New returns an empty, unsealed catalog.
func New() *Catalog {
	return &Catalog{byID: make(map[domain.ActionID]domain.Descriptor)}
}

// Register adds a descriptor. It fails on empty ids, duplicate ids, negative
// costs, or a sealed catalog.
func (c *Catalog) Register(d domain.Descriptor) error {
	if c.sealed {
		return fmt.Errorf("catalog is sealed, cannot register %q", d.ID)
	}
	if d.ID == "" {
		return fmt.Errorf("action id must not be empty")
	}
	if d.Cost < 0 {
		return fmt.Errorf("action %q has negative cost %v", d.ID, d.Cost)
	}
	if _, exists := c.byID[d.ID]; exists {
		return fmt.Errorf("action %q already registered", d.ID)
	}
	c.byID[d.ID] = d
	c.ordered = append(c.ordered, d)
	return nil
}

// Seal freezes the catalog. Further Register calls fail.
func (c *Catalog) Seal() {
	c.sealed = true
}

// Lookup returns the descriptor for id.
func (c *Catalog) Lookup(id domain.ActionID) (domain.Descriptor, error) {
	d, ok := c.byID[id]
	if !ok {
		return domain.Descriptor{}, &domain.UnknownActionError{ID: id}
	}
	return d, nil
}

// MustLookup returns the descriptor for id and panics when it is missing.
// For wiring paths where the id is a package constant.
func (c *Catalog) MustLookup(id domain.ActionID) domain.Descriptor {
	d, err := c.Lookup(id)
	if err != nil {
		panic(err)
	}
	return d
}

// Has reports whether id is registered.
func (c *Catalog) Has(id domain.ActionID) bool {
	_, ok := c.byID[id]
	return ok
}

// All returns the descriptors in registration order.
func (c *Catalog) All() []domain.Descriptor {
	out := make([]domain.Descriptor, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// IDs returns the registered action ids in registration order.
func (c *Catalog) IDs() []domain.ActionID {
	ids := make([]domain.ActionID, len(c.ordered))
	for i, d := range c.ordered {
		ids[i] = d.ID
	}
	return ids
}

// Len returns the number of registered actions.
func (c *Catalog) Len() int {
	return len(c.ordered)
}
