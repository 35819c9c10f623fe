package chart

import (
	"sort"
	"sync"
)

// Widget is the live chart of one register. It is created once and then
// updated in place: each Apply replaces its labels and datasets and bumps
// the revision.
type Widget struct {
	Spec     Spec   `json:"spec"`
	Revision uint64 `json:"revision"`
	Created  uint64 `json:"created"`
}

// Registry holds the widgets of one view.
type Registry struct {
	mu      sync.RWMutex
	widgets map[string]*Widget
	seq     uint64
	creates int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{widgets: make(map[string]*Widget)}
}

// Apply updates the widget for spec.RegisterID in place, creating it on
// first use. It returns the new revision and whether the widget was created.
func (r *Registry) Apply(spec Spec) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	w, ok := r.widgets[spec.RegisterID]
	if !ok {
		w = &Widget{Created: r.seq}
		r.widgets[spec.RegisterID] = w
		r.creates++
	}
	w.Spec = spec
	w.Revision = r.seq
	return w.Revision, !ok
}

// Get returns a copy of a widget.
func (r *Registry) Get(registerID string) (Widget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.widgets[registerID]
	if !ok {
		return Widget{}, false
	}
	return *w, true
}

// IDs returns the register ids with a widget, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.widgets))
	for id := range r.widgets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Widgets returns copies of every widget, sorted by register id.
func (r *Registry) Widgets() []Widget {
	ids := r.IDs()
	out := make([]Widget, 0, len(ids))
	for _, id := range ids {
		if w, ok := r.Get(id); ok {
			out = append(out, w)
		}
	}
	return out
}

// Creates returns how many widgets were ever created.
func (r *Registry) Creates() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creates
}

// Remove drops one widget.
func (r *Registry) Remove(registerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.widgets[registerID]; !ok {
		return false
	}
	delete(r.widgets, registerID)
	return true
}

// Reset drops every widget, on view teardown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.widgets = make(map[string]*Widget)
}
