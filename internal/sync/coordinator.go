package sync

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrBusy means a pass is already in flight for the repository.
	ErrBusy = errors.New("sync already in progress for repository")

	// ErrSuperseded means the pass finished after the repository's
	// generation advanced (e.g. the active repository changed); its
	// result was discarded.
	ErrSuperseded = errors.New("sync pass superseded")
)

// Coordinator serializes sync passes per repository identifier and
// tracks a monotonically increasing generation per repository. A pass
// captures the generation at start; if the generation advanced by the
// time the pass completes, the result is stale and discarded. It is an
// explicit registry with a reset lifecycle, not ambient global state.
type Coordinator struct {
	mu      sync.Mutex
	gens    map[string]uint64
	running map[string]bool
}

// NewCoordinator creates an empty registry.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		gens:    make(map[string]uint64),
		running: make(map[string]bool),
	}
}

// Begin claims the repository for one pass and returns the generation
// captured at request start.
func (c *Coordinator) Begin(repoID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[repoID] {
		return 0, ErrBusy
	}
	c.running[repoID] = true
	c.gens[repoID]++
	return c.gens[repoID], nil
}

// End releases the repository.
func (c *Coordinator) End(repoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, repoID)
}

// Stale reports whether a pass begun at gen has been superseded.
func (c *Coordinator) Stale(repoID string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen < c.gens[repoID]
}

// Invalidate advances the repository's generation so any in-flight pass
// discards its result. Call when switching the active repository.
func (c *Coordinator) Invalidate(repoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[repoID]++
}

// Reset drops all state for a repository.
func (c *Coordinator) Reset(repoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.gens, repoID)
	delete(c.running, repoID)
}

// Sync runs one pass of the engine under the coordinator's guarantees:
// no overlap per repository, stale results discarded.
func (c *Coordinator) Sync(ctx context.Context, engine *Engine, repoID string) (Summary, error) {
	gen, err := c.Begin(repoID)
	if err != nil {
		return Summary{}, err
	}
	defer c.End(repoID)

	sum, err := engine.Sync(ctx)
	if c.Stale(repoID, gen) {
		return Summary{}, ErrSuperseded
	}
	return sum, err
}
