// Package comm runs a process-parallel computation as a group of in-process
// ranks. Rank 0 is the coordinator; collective operations block until every
// rank of the group has arrived.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mfkiwl/abacus-develop/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const CoordinatorID = 0

var (
	ErrGroupSize      = errors.New("rank group size must be positive")
	ErrLengthMismatch = errors.New("ranks contributed buffers of different length")
)

// Group is a fixed-size set of ranks executing the same function
type Group struct {
	size   int
	logger *zap.Logger
}

type Option func(*Group)

func WithLogger(l *zap.Logger) Option {
	return func(g *Group) { g.logger = utils.OrNop(l) }
}

func NewGroup(size int, opts ...Option) (*Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrGroupSize, size)
	}
	g := &Group{size: size, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Group) Size() int { return g.size }

// Run starts fn once per rank and waits for all of them. The first error
// cancels the context seen by the remaining ranks, releasing any of them
// blocked in a collective.
func (g *Group) Run(ctx context.Context, fn func(r *Rank) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	red := newReducer(g.size)
	for id := 0; id < g.size; id++ {
		r := &Rank{id: id, size: g.size, red: red, logger: g.logger.With(zap.Int("rank", id))}
		eg.Go(func() error {
			if err := fn(r.withContext(ctx)); err != nil {
				return fmt.Errorf("rank %d: %w", r.id, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Rank is one member of a running Group
type Rank struct {
	id     int
	size   int
	red    *reducer
	ctx    context.Context
	logger *zap.Logger
}

func (r *Rank) withContext(ctx context.Context) *Rank {
	r.ctx = ctx
	return r
}

func (r *Rank) ID() int   { return r.id }
func (r *Rank) Size() int { return r.size }

// IsCoordinator is true for the single rank that performs work which must
// not be duplicated across the group
func (r *Rank) IsCoordinator() bool { return r.id == CoordinatorID }

// Context is the group context, cancelled when any rank fails
func (r *Rank) Context() context.Context { return r.ctx }

func (r *Rank) Logger() *zap.Logger { return r.logger }

// AllReduceSum replaces buf on every rank with the elementwise sum of the
// buffers contributed by all ranks
func (r *Rank) AllReduceSum(ctx context.Context, buf []float64) error {
	sum, err := r.red.contribute(ctx, buf)
	if err != nil {
		return err
	}
	copy(buf, sum)
	return nil
}

// Barrier blocks until every rank has reached it
func (r *Rank) Barrier(ctx context.Context) error {
	_, err := r.red.contribute(ctx, nil)
	return err
}

// round is one collective call; the last rank to arrive closes done
type round struct {
	sum     []float64
	width   int
	arrived int
	err     error
	done    chan struct{}
}

type reducer struct {
	mu   sync.Mutex
	size int
	cur  *round
}

func newReducer(size int) *reducer {
	return &reducer{size: size}
}

func (rd *reducer) contribute(ctx context.Context, buf []float64) ([]float64, error) {
	rd.mu.Lock()
	if rd.cur == nil {
		rd.cur = &round{width: len(buf), sum: make([]float64, len(buf)), done: make(chan struct{})}
	}
	rnd := rd.cur
	if len(buf) != rnd.width {
		if rnd.err == nil {
			rnd.err = fmt.Errorf("%w: %d and %d", ErrLengthMismatch, rnd.width, len(buf))
		}
	} else {
		for i, v := range buf {
			rnd.sum[i] += v
		}
	}
	rnd.arrived++
	if rnd.arrived == rd.size {
		rd.cur = nil
		close(rnd.done)
	}
	rd.mu.Unlock()

	select {
	case <-rnd.done:
		return rnd.sum, rnd.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
