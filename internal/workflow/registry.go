package workflow

import (
	"fmt"
	"sort"
)

// Registry maps workflow labels to trees. It is filled once at startup
// and only read afterwards.
type Registry struct {
	trees map[string]*Tree
}

// NewRegistry indexes trees by label. Duplicate or empty labels are an error.
func NewRegistry(trees ...*Tree) (*Registry, error) {
	r := &Registry{trees: make(map[string]*Tree, len(trees))}
	for _, t := range trees {
		if t == nil || t.Label == "" {
			return nil, fmt.Errorf("workflow registry: %w: tree without label", ErrInvalid)
		}
		if _, ok := r.trees[t.Label]; ok {
			return nil, fmt.Errorf("workflow registry: %w: duplicate label %q", ErrInvalid, t.Label)
		}
		r.trees[t.Label] = t
	}
	return r, nil
}

// Get returns the tree registered under label.
func (r *Registry) Get(label string) (*Tree, bool) {
	t, ok := r.trees[label]
	return t, ok
}

// Labels returns all registered labels, sorted.
func (r *Registry) Labels() []string {
	labels := make([]string, 0, len(r.trees))
	for l := range r.trees {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Len returns the number of registered workflows.
func (r *Registry) Len() int { return len(r.trees) }
