// Package pool owns a fixed number of live node connections and hands them
// out one caller at a time. It is a plain value owned by the orchestrator,
// never a process-wide singleton, so multiple domains/runs can coexist.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/anoncenomics/domain-indexer/pkg/clients/substrate"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Acquire once Close has begun.
var ErrPoolClosed = errors.New("connection pool is closed")

// ErrNoConnections is returned by NewPool when not a single connection could
// be established.
var ErrNoConnections = errors.New("no connections could be established")

const acquirePollInterval = 25 * time.Millisecond

type Factory func() (substrate.RPC, error)

type Pool struct {
	Logger *zap.Logger

	mu     sync.Mutex
	idle   []substrate.RPC
	inUse  map[substrate.RPC]bool
	closed bool
}

// NewPool establishes up to size connections. Fewer ready connections than
// requested is tolerated and logged; zero is an error.
func NewPool(ctx context.Context, size int, factory Factory, l *zap.Logger) (*Pool, error) {
	p := &Pool{
		Logger: l,
		idle:   make([]substrate.RPC, 0, size),
		inUse:  make(map[substrate.RPC]bool, size),
	}

	for i := 0; i < size; i++ {
		conn, err := factory()
		if err != nil {
			l.Sugar().Errorw("Failed to establish pool connection",
				zap.Int("slot", i),
				zap.Error(err),
			)
			continue
		}
		if err := conn.HealthProbe(ctx); err != nil {
			l.Sugar().Errorw("Pool connection failed health probe",
				zap.Int("slot", i),
				zap.Error(err),
			)
			continue
		}
		p.idle = append(p.idle, conn)
	}

	if len(p.idle) == 0 {
		return nil, ErrNoConnections
	}
	if len(p.idle) < size {
		l.Sugar().Warnw("Pool running with degraded capacity",
			zap.Int("requested", size),
			zap.Int("ready", len(p.idle)),
		)
	}
	return p, nil
}

// Size is the number of live connections the pool manages.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + len(p.inUse)
}

// InUse is the number of connections currently checked out.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// Acquire returns an idle connection, polling until one frees up. It never
// creates connections beyond the pool size and never hands the same
// connection to two callers.
func (p *Pool) Acquire(ctx context.Context) (substrate.RPC, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if len(p.idle) > 0 {
			conn := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.inUse[conn] = true
			p.mu.Unlock()
			return conn, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Release returns a connection to the idle set. Releasing a connection that
// is not checked out is a no-op.
func (p *Pool) Release(conn substrate.RPC) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse[conn] {
		return
	}
	delete(p.inUse, conn)
	if p.closed {
		return
	}
	p.idle = append(p.idle, conn)
}

// Close fences further acquires and drops all idle connections. Connections
// still checked out are dropped as they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.idle = nil
	p.Logger.Sugar().Debugw("Connection pool closed", zap.Int("inUse", len(p.inUse)))
}
