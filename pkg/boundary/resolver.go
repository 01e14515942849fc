// Package boundary locates the exact block at which a domain epoch begins.
// Epoch indexes increase monotonically with block height but at irregular
// block spacing, so the start block is found by binary search on the
// "epoch index at block N" primitive.
package boundary

import (
	"context"

	"github.com/anoncenomics/domain-indexer/pkg/clients/substrate"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrEpochNotReached marks a target epoch the chain has not produced yet.
var ErrEpochNotReached = errors.New("epoch not yet reached")

// ErrEpochStillOpen marks an epoch whose successor has not started, i.e. it
// cannot be processed yet.
var ErrEpochStillOpen = errors.New("epoch is still open")

type Resolver struct {
	client   substrate.RPC
	domainId uint32
	Logger   *zap.Logger
}

func NewResolver(client substrate.RPC, domainId uint32, l *zap.Logger) *Resolver {
	return &Resolver{
		client:   client,
		domainId: domainId,
		Logger:   l,
	}
}

// FindStartBlock returns the smallest block number at which the domain
// reports an epoch index >= targetEpoch.
func (r *Resolver) FindStartBlock(ctx context.Context, targetEpoch int64) (uint64, error) {
	head, err := r.client.GetHeadBlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read head block number")
	}
	return r.findStartBlock(ctx, targetEpoch, head)
}

func (r *Resolver) findStartBlock(ctx context.Context, targetEpoch int64, head uint64) (uint64, error) {
	headEpoch, ok, err := r.client.EpochIndexAt(ctx, r.domainId, head)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read epoch index at head block %d", head)
	}
	if !ok {
		return 0, errors.Wrapf(ErrEpochNotReached, "epoch %d (no staking state at head block %d)", targetEpoch, head)
	}
	if headEpoch < targetEpoch {
		return 0, errors.Wrapf(ErrEpochNotReached, "epoch %d (head epoch %d)", targetEpoch, headEpoch)
	}

	lo := uint64(1)
	hi := head
	for lo < hi {
		mid := lo + (hi-lo)/2
		epoch, ok, err := r.client.EpochIndexAt(ctx, r.domainId, mid)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to read epoch index at block %d", mid)
		}
		// no data at this height means the domain had not started yet
		if !ok || epoch < targetEpoch {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	epoch, ok, err := r.client.EpochIndexAt(ctx, r.domainId, lo)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to verify epoch index at block %d", lo)
	}
	if !ok || epoch != targetEpoch {
		return 0, errors.Errorf("boundary search postcondition failed: block %d reports epoch %d, want %d", lo, epoch, targetEpoch)
	}

	r.Logger.Sugar().Debugw("Resolved epoch start block",
		zap.Int64("epoch", targetEpoch),
		zap.Uint64("startBlock", lo),
	)
	return lo, nil
}

// FindEpochRange resolves the inclusive [start, end] block range of an
// epoch. The end block is startBlock(epoch+1) - 1; if epoch+1 has not
// started, the epoch is still open and ErrEpochStillOpen is returned. This
// is what prevents indexing of incomplete epochs.
func (r *Resolver) FindEpochRange(ctx context.Context, epoch int64) (uint64, uint64, error) {
	head, err := r.client.GetHeadBlockNumber(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to read head block number")
	}

	startBlock, err := r.findStartBlock(ctx, epoch, head)
	if err != nil {
		return 0, 0, err
	}

	nextStart, err := r.findStartBlock(ctx, epoch+1, head)
	if err != nil {
		if errors.Is(err, ErrEpochNotReached) {
			return 0, 0, errors.Wrapf(ErrEpochStillOpen, "epoch %d", epoch)
		}
		return 0, 0, err
	}

	return startBlock, nextStart - 1, nil
}

// HeadEpoch reports the epoch index observed at the current head block.
func (r *Resolver) HeadEpoch(ctx context.Context) (int64, error) {
	head, err := r.client.GetHeadBlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read head block number")
	}
	epoch, ok, err := r.client.EpochIndexAt(ctx, r.domainId, head)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("no staking state at head block")
	}
	return epoch, nil
}
