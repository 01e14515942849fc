package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anoncenomics/domain-indexer/internal/logger"
	"github.com/anoncenomics/domain-indexer/internal/tests/fakes"
	"github.com/anoncenomics/domain-indexer/pkg/clients/substrate"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func newFakeFactory() Factory {
	return func() (substrate.RPC, error) {
		return &fakes.FakeChain{Head: 100}, nil
	}
}

func Test_Pool(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	t.Run("Should establish the requested number of connections", func(t *testing.T) {
		p, err := NewPool(ctx, 3, newFakeFactory(), l)
		assert.Nil(t, err)
		assert.Equal(t, 3, p.Size())
		assert.Equal(t, 0, p.InUse())
	})

	t.Run("Should tolerate partial dial failures", func(t *testing.T) {
		calls := 0
		factory := func() (substrate.RPC, error) {
			calls++
			if calls%2 == 0 {
				return nil, errors.New("dial failed")
			}
			return &fakes.FakeChain{Head: 100}, nil
		}
		p, err := NewPool(ctx, 4, factory, l)
		assert.Nil(t, err)
		assert.Equal(t, 2, p.Size())
	})

	t.Run("Should fail when no connection can be established", func(t *testing.T) {
		factory := func() (substrate.RPC, error) {
			return nil, errors.New("dial failed")
		}
		_, err := NewPool(ctx, 2, factory, l)
		assert.ErrorIs(t, err, ErrNoConnections)
	})

	t.Run("Should reject connections that fail the health probe", func(t *testing.T) {
		factory := func() (substrate.RPC, error) {
			return &fakes.FakeChain{ProbeErr: errors.New("unreachable")}, nil
		}
		_, err := NewPool(ctx, 2, factory, l)
		assert.ErrorIs(t, err, ErrNoConnections)
	})

	t.Run("Should never hand a connection to two callers", func(t *testing.T) {
		p, err := NewPool(ctx, 2, newFakeFactory(), l)
		assert.Nil(t, err)

		a, err := p.Acquire(ctx)
		assert.Nil(t, err)
		b, err := p.Acquire(ctx)
		assert.Nil(t, err)
		assert.NotSame(t, a, b)
		assert.Equal(t, 2, p.InUse())

		// third caller blocks until a release
		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = p.Acquire(waitCtx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		p.Release(a)
		c, err := p.Acquire(ctx)
		assert.Nil(t, err)
		assert.Same(t, a, c)
	})

	t.Run("Should bound concurrency under contention", func(t *testing.T) {
		p, err := NewPool(ctx, 2, newFakeFactory(), l)
		assert.Nil(t, err)

		var mu sync.Mutex
		maxInUse := 0
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				conn, err := p.Acquire(ctx)
				assert.Nil(t, err)
				mu.Lock()
				if p.InUse() > maxInUse {
					maxInUse = p.InUse()
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				p.Release(conn)
			}()
		}
		wg.Wait()
		assert.LessOrEqual(t, maxInUse, 2)
	})

	t.Run("Should ignore a stray release", func(t *testing.T) {
		p, err := NewPool(ctx, 1, newFakeFactory(), l)
		assert.Nil(t, err)

		stray := &fakes.FakeChain{}
		p.Release(stray)
		assert.Equal(t, 1, p.Size())
	})

	t.Run("Should fence acquires after close", func(t *testing.T) {
		p, err := NewPool(ctx, 2, newFakeFactory(), l)
		assert.Nil(t, err)

		conn, err := p.Acquire(ctx)
		assert.Nil(t, err)

		p.Close()
		_, err = p.Acquire(ctx)
		assert.ErrorIs(t, err, ErrPoolClosed)

		// releasing after close drops the connection
		p.Release(conn)
		_, err = p.Acquire(ctx)
		assert.ErrorIs(t, err, ErrPoolClosed)
	})
}
