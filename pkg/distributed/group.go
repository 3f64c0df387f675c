package distributed

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Group is an in-process data-parallel group. Each rank runs in its own goroutine and the
// collectives block until every rank has arrived.
type Group struct {
	world int

	mu         sync.Mutex
	cond       *sync.Cond
	arrived    int
	generation int
	sum        [][]float64
	result     [][]float64
	err        error
}

// NewGroup creates a group of world ranks. A world below one is treated as one.
func NewGroup(world int) *Group {
	if world < 1 {
		world = 1
	}
	g := &Group{world: world}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Size is the number of ranks.
func (g *Group) Size() int {
	return g.world
}

// Run starts fn once per rank and waits for all of them. The first error aborts the group so
// that ranks blocked in a collective return instead of waiting forever.
func (g *Group) Run(ctx context.Context, fn func(ctx context.Context, rank int) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < g.world; rank++ {
		rank := rank
		eg.Go(func() error {
			if err := fn(ctx, rank); err != nil {
				g.abort(fmt.Errorf("rank %d: %w", rank, err))
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}

// AllReduceMean replaces every tensor in grads with its mean across ranks.
// All ranks must pass tensors of the same shapes.
func (g *Group) AllReduceMean(grads [][]float64) error {
	if g.world == 1 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}

	if g.arrived == 0 {
		g.sum = make([][]float64, len(grads))
		for i, t := range grads {
			g.sum[i] = make([]float64, len(t))
		}
	}
	if len(g.sum) != len(grads) {
		err := fmt.Errorf("all-reduce shape mismatch: %d tensors, want %d", len(grads), len(g.sum))
		g.abortLocked(err)
		return err
	}
	for i, t := range grads {
		for j, v := range t {
			g.sum[i][j] += v
		}
	}
	g.arrived++

	gen := g.generation
	if g.arrived == g.world {
		scale := 1.0 / float64(g.world)
		for _, t := range g.sum {
			for j := range t {
				t[j] *= scale
			}
		}
		g.result, g.sum = g.sum, nil
		g.arrived = 0
		g.generation++
		g.cond.Broadcast()
	} else {
		for gen == g.generation && g.err == nil {
			g.cond.Wait()
		}
		if gen == g.generation {
			return g.err
		}
	}

	for i, t := range grads {
		copy(t, g.result[i])
	}
	return nil
}

func (g *Group) abort(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.abortLocked(err)
}

func (g *Group) abortLocked(err error) {
	if g.err == nil {
		g.err = err
		log.Error().Err(err).Msg("Aborting data-parallel group")
	}
	g.cond.Broadcast()
}
