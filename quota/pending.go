package quota

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pending tracks writes that continue after a usage decision was returned.
type Pending struct {
	done chan struct{}
	err  error
}

func startPending(fns ...func() error) *Pending {
	p := &Pending{done: make(chan struct{})}

	var g errgroup.Group
	for _, fn := range fns {
		g.Go(fn)
	}
	go func() {
		p.err = g.Wait()
		close(p.done)
	}()
	return p
}

func completedPending() *Pending {
	p := &Pending{done: make(chan struct{})}
	close(p.done)
	return p
}

// Wait blocks until every write finished or ctx is done and returns the first
// write error. A nil Pending is already complete.
func (p *Pending) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once every write finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the first write error, or nil while writes are still running.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
