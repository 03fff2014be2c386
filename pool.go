package utaformatix

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Pool hands out a fixed set of independent instances to concurrent
// callers. Each call borrows one instance for its duration, so up to size
// conversions run in parallel.
type Pool struct {
	instances chan *UtaFormatix
	all       []*UtaFormatix
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPool starts size instances configured with opts.
func NewPool(size int, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: pool size %d", ErrInvalidArgument, size)
	}
	p := &Pool{
		instances: make(chan *UtaFormatix, size),
		closed:    make(chan struct{}),
	}
	for i := range size {
		u, err := New(opts...)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating pool instance %d: %w", i, err)
		}
		p.all = append(p.all, u)
		p.instances <- u
	}
	return p, nil
}

// Size is the number of instances in the pool.
func (p *Pool) Size() int { return len(p.all) }

// get borrows an instance. Blocks until one is free, ctx is done, or the
// pool is closed.
func (p *Pool) get(ctx context.Context) (*UtaFormatix, error) {
	select {
	case <-p.closed:
		return nil, ErrClosed
	default:
	}
	select {
	case u := <-p.instances:
		return u, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) put(u *UtaFormatix) {
	select {
	case <-p.closed:
	case p.instances <- u:
	}
}

func withInstance[T any](ctx context.Context, p *Pool, fn func(*UtaFormatix) (T, error)) (T, error) {
	u, err := p.get(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer p.put(u)
	return fn(u)
}

// ListSupportedFormats is UtaFormatix.ListSupportedFormats on any instance.
func (p *Pool) ListSupportedFormats(ctx context.Context) ([]Format, error) {
	return withInstance(ctx, p, func(u *UtaFormatix) ([]Format, error) {
		return u.ListSupportedFormats(ctx)
	})
}

// DetectFormat is UtaFormatix.DetectFormat on a free instance.
func (p *Pool) DetectFormat(ctx context.Context, data []byte) (Format, error) {
	return withInstance(ctx, p, func(u *UtaFormatix) (Format, error) {
		return u.DetectFormat(ctx, data)
	})
}

// Convert is UtaFormatix.Convert on a free instance.
func (p *Pool) Convert(ctx context.Context, data []byte, src, dst Format, opts Options) ([]byte, error) {
	return withInstance(ctx, p, func(u *UtaFormatix) ([]byte, error) {
		return u.Convert(ctx, data, src, dst, opts)
	})
}

// ConvertAll is UtaFormatix.ConvertAll on a free instance.
func (p *Pool) ConvertAll(ctx context.Context, data []byte, src, dst Format, opts Options) ([][]byte, error) {
	return withInstance(ctx, p, func(u *UtaFormatix) ([][]byte, error) {
		return u.ConvertAll(ctx, data, src, dst, opts)
	})
}

// Parse is UtaFormatix.Parse on a free instance.
func (p *Pool) Parse(ctx context.Context, format Format, opts Options, files ...[]byte) (*UfData, error) {
	return withInstance(ctx, p, func(u *UtaFormatix) (*UfData, error) {
		return u.Parse(ctx, format, opts, files...)
	})
}

// Generate is UtaFormatix.Generate on a free instance.
func (p *Pool) Generate(ctx context.Context, format Format, data *UfData, opts Options) ([][]byte, error) {
	return withInstance(ctx, p, func(u *UtaFormatix) ([][]byte, error) {
		return u.Generate(ctx, format, data, opts)
	})
}

// Close closes every instance, interrupting calls still running on them.
// It is safe to call more than once.
func (p *Pool) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.closed)
		for _, u := range p.all {
			errs = append(errs, u.Close())
		}
	})
	return errors.Join(errs...)
}
