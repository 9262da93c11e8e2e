package panel

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"clinical-scribe-service/internal/service/capture"
)

// Registry tracks the open panels of this process.
type Registry struct {
	deps Deps

	mu     sync.RWMutex
	panels map[string]*Controller
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, panels: make(map[string]*Controller)}
}

// Open creates a panel recording from device and opens it. Closed panels
// remove themselves.
func (r *Registry) Open(ctx context.Context, req OpenRequest, device capture.Device) (*Controller, error) {
	c := New(uuid.NewString(), device, r.deps)
	c.onClosed = r.remove

	r.mu.Lock()
	r.panels[c.id] = c
	r.mu.Unlock()

	if err := c.Open(ctx, req); err != nil {
		r.remove(c.id)
		return nil, err
	}
	return c, nil
}

func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.panels[id]
	return c, ok
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.panels, id)
}

// List returns the open panels ordered by id.
func (r *Registry) List() []*Controller {
	r.mu.RLock()
	out := make([]*Controller, 0, len(r.panels))
	for _, c := range r.panels {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.panels)
}

// UnmountAll unmounts every open panel, keeping their drafts.
func (r *Registry) UnmountAll(ctx context.Context) error {
	var merr *multierror.Error
	for _, c := range r.List() {
		if err := c.Unmount(ctx); err != nil {
			merr = multierror.Append(merr, err)
		}
		// Panels that never reached Active do not call back.
		r.remove(c.id)
	}
	return merr.ErrorOrNil()
}
