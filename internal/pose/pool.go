package pose

import (
	"context"
	"fmt"
)

// Pool shares a bounded set of estimator instances across sessions. An
// estimator is checked out for the duration of one frame and returned; it is
// never held across suspension points and never reaches two workers at once.
type Pool struct {
	estimators chan Estimator
	size       int
}

// NewPool builds size estimators with factory. On any construction failure
// the already-built instances are closed.
func NewPool(size int, factory func() (Estimator, error)) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size %d must be at least 1", size)
	}
	p := &Pool{
		estimators: make(chan Estimator, size),
		size:       size,
	}
	for i := 0; i < size; i++ {
		est, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("build estimator %d/%d: %w", i+1, size, err)
		}
		p.estimators <- est
	}
	return p, nil
}

// acquire blocks until an estimator is free or ctx is done.
func (p *Pool) acquire(ctx context.Context) (Estimator, error) {
	select {
	case est := <-p.estimators:
		return est, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns an estimator to the pool.
func (p *Pool) release(est Estimator) {
	select {
	case p.estimators <- est:
	default:
		// Pool full: a stray double-release. Close the extra instance
		// rather than blocking the worker.
		_ = est.Close()
	}
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// Close shuts down every estimator currently in the pool.
func (p *Pool) Close() error {
	var firstErr error
	for {
		select {
		case est := <-p.estimators:
			if err := est.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}
