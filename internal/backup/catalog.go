package backup

import (
	"fmt"
)

// Reference is a foreign key from a child collection field to a parent
// collection's primary key.
type Reference struct {
	Field  string `json:"field" yaml:"field"`
	Parent string `json:"parent" yaml:"parent"`
}

// CollectionSpec describes one entity collection.
type CollectionSpec struct {
	Name string `json:"name" yaml:"name"`
	// ScopeField is the field matched against a scope key. Empty means the
	// collection is global and always fetched unfiltered.
	ScopeField string      `json:"scopeField,omitempty" yaml:"scope_field"`
	Refs       []Reference `json:"refs,omitempty" yaml:"refs"`
}

// Scoped reports whether the collection can be filtered by scope.
func (c CollectionSpec) Scoped() bool {
	return c.ScopeField != ""
}

// Catalog is the fixed, ordered set of collections a snapshot covers.
type Catalog struct {
	specs        []CollectionSpec
	byName       map[string]int
	restoreOrder []string
}

// NewCatalog validates specs and computes the restore order.
func NewCatalog(specs []CollectionSpec) (*Catalog, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("catalog must contain at least one collection")
	}

	c := &Catalog{
		specs:  make([]CollectionSpec, len(specs)),
		byName: make(map[string]int, len(specs)),
	}
	copy(c.specs, specs)

	for i, s := range c.specs {
		if s.Name == "" {
			return nil, fmt.Errorf("collection %d has no name", i)
		}
		switch s.Name {
		case fieldCreatedAt, fieldFormatVersion, fieldMetadata:
			return nil, fmt.Errorf("collection name %q is reserved", s.Name)
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate collection %q", s.Name)
		}
		c.byName[s.Name] = i
	}
	for _, s := range c.specs {
		for _, ref := range s.Refs {
			if _, ok := c.byName[ref.Parent]; !ok {
				return nil, fmt.Errorf("collection %q references unknown parent %q", s.Name, ref.Parent)
			}
		}
	}

	order, err := c.topoSort()
	if err != nil {
		return nil, err
	}
	c.restoreOrder = order
	return c, nil
}

// MustCatalog is NewCatalog for static definitions.
func MustCatalog(specs []CollectionSpec) *Catalog {
	c, err := NewCatalog(specs)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog returns the property-management collections.
func DefaultCatalog() *Catalog {
	return MustCatalog([]CollectionSpec{
		{Name: "properties", ScopeField: "id"},
		{Name: "rooms", ScopeField: "property_id", Refs: []Reference{
			{Field: "property_id", Parent: "properties"},
		}},
		{Name: "guests"},
		{Name: "reservations", ScopeField: "property_id", Refs: []Reference{
			{Field: "property_id", Parent: "properties"},
			{Field: "room_id", Parent: "rooms"},
			{Field: "guest_id", Parent: "guests"},
		}},
		{Name: "payments", Refs: []Reference{
			{Field: "reservation_id", Parent: "reservations"},
		}},
		{Name: "housekeeping_tasks", ScopeField: "property_id", Refs: []Reference{
			{Field: "room_id", Parent: "rooms"},
		}},
		{Name: "maintenance_requests", ScopeField: "property_id", Refs: []Reference{
			{Field: "room_id", Parent: "rooms"},
		}},
	})
}

// Specs returns the collections in declared order.
func (c *Catalog) Specs() []CollectionSpec {
	out := make([]CollectionSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Names returns the collection names in declared order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.specs))
	for i, s := range c.specs {
		names[i] = s.Name
	}
	return names
}

// Lookup returns the spec of a named collection.
func (c *Catalog) Lookup(name string) (CollectionSpec, bool) {
	i, ok := c.byName[name]
	if !ok {
		return CollectionSpec{}, false
	}
	return c.specs[i], true
}

// RestoreOrder returns collection names with every parent before its children.
func (c *Catalog) RestoreOrder() []string {
	out := make([]string, len(c.restoreOrder))
	copy(out, c.restoreOrder)
	return out
}

// topoSort is Kahn's algorithm; among ready collections the earliest
// declared one is emitted first.
func (c *Catalog) topoSort() ([]string, error) {
	n := len(c.specs)
	indegree := make([]int, n)
	children := make([][]int, n)

	for i, s := range c.specs {
		seen := make(map[int]bool)
		for _, ref := range s.Refs {
			p := c.byName[ref.Parent]
			if p == i {
				// Self references (e.g. parent rooms) do not constrain order.
				continue
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			indegree[i]++
			children[p] = append(children[p], i)
		}
	}

	done := make([]bool, n)
	order := make([]string, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("collection references form a cycle")
		}
		done[next] = true
		order = append(order, c.specs[next].Name)
		for _, child := range children[next] {
			indegree[child]--
		}
	}
	return order, nil
}
