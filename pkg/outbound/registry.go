package outbound

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry holds the integrations of one process by name.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.Name()]; ok {
		return invalidConfig("integration %q registered twice", c.Name())
	}
	r.clients[c.Name()] = c
	return nil
}

func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return c, nil
}

// Names lists registered integrations in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) all() []Client {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(names))
	for _, name := range names {
		out = append(out, r.clients[name])
	}
	return out
}

// Start starts every integration in name order and stops at the first failure.
func (r *Registry) Start(ctx context.Context) error {
	for _, c := range r.all() {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
	}
	return nil
}

// Close closes every integration concurrently and returns the first error.
func (r *Registry) Close(ctx context.Context) error {
	var g errgroup.Group
	for _, c := range r.all() {
		g.Go(func() error {
			if err := c.Close(ctx); err != nil {
				return fmt.Errorf("close %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
