package domain

import (
	"iter"
	"strings"
)

// Registry holds the groups of one server keyed by name. Groups are kept in
// insertion order and their pointers stay valid for the registry's lifetime.
type Registry struct {
	order  []*Group
	byName map[string]*Group
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Group)}
}

// Lookup returns the named group, if known.
func (r *Registry) Lookup(name string) (*Group, bool) {
	g, ok := r.byName[name]
	return g, ok
}

// FindOrCreate returns the named group, creating it on first reference.
func (r *Registry) FindOrCreate(name string) (*Group, error) {
	if !ValidGroupName(name) {
		return nil, ErrInvalidGroupName
	}
	if g, ok := r.byName[name]; ok {
		return g, nil
	}
	g := &Group{Name: name}
	r.byName[name] = g
	r.order = append(r.order, g)
	return g, nil
}

// All iterates groups in insertion order.
func (r *Registry) All() iter.Seq[*Group] {
	return func(yield func(*Group) bool) {
		for _, g := range r.order {
			if !yield(g) {
				return
			}
		}
	}
}

// Names returns the group names in insertion order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, g := range r.order {
		names[i] = g.Name
	}
	return names
}

// Len returns the number of known groups
func (r *Registry) Len() int {
	return len(r.order)
}

// ValidGroupName rejects names that cannot appear in a newsrc line.
func ValidGroupName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.ContainsAny(name, ":! \t\r\n,/")
}
