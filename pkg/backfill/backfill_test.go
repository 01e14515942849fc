package backfill

import (
	"context"
	"testing"

	"github.com/anoncenomics/domain-indexer/internal/config"
	"github.com/anoncenomics/domain-indexer/internal/logger"
	"github.com/anoncenomics/domain-indexer/internal/tests/fakes"
	"github.com/anoncenomics/domain-indexer/pkg/clients/substrate"
	"github.com/anoncenomics/domain-indexer/pkg/fetcher"
	"github.com/anoncenomics/domain-indexer/pkg/normalizer"
	"github.com/anoncenomics/domain-indexer/pkg/pipeline"
	"github.com/anoncenomics/domain-indexer/pkg/pool"
	"github.com/stretchr/testify/assert"
)

// newChain models domain 0 with epochs 10 through 14 closed and epoch 15
// still open at the head.
func newChain() *fakes.FakeChain {
	return &fakes.FakeChain{
		DomainId:    0,
		FirstEpoch:  10,
		EpochStarts: []uint64{100, 150, 200, 250, 300, 350},
		Head:        400,
		Scalars: map[string]string{
			"domains.domainStakingSummary":     `{"currentEpochIndex":"10","currentTotalStake":"3000"}`,
			"domains.accumulatedTreasuryFunds": `"7000"`,
			"timestamp.now":                    `"1724000000000"`,
		},
		FailStorageAt: map[string]bool{},
	}
}

func newBackfill(t *testing.T, chain *fakes.FakeChain, store *fakes.InMemoryEpochStore, cfg config.BackfillConfig) (*Backfill, func()) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	poolSize := cfg.Concurrency
	if poolSize <= 0 {
		poolSize = 2
	}
	p, err := pool.NewPool(context.Background(), poolSize, func() (substrate.RPC, error) {
		return chain, nil
	}, l)
	assert.Nil(t, err)

	pl := pipeline.NewPipeline(fetcher.NewFetcher(l), normalizer.NewNormalizer(l), store, cfg.DomainId, l, nil)

	globalCfg := &config.Config{BackfillConfig: cfg}
	return NewBackfill(p, pl, store, globalCfg, l, nil), p.Close
}

func Test_Backfill(t *testing.T) {
	ctx := context.Background()

	t.Run("Should process every epoch in the range", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:    0,
			FromEpoch:   10,
			ToEpoch:     "13",
			Concurrency: 2,
			BatchSize:   3,
		})
		defer closePool()

		result, err := bf.Run(ctx)
		assert.Nil(t, err)

		assert.Equal(t, []int64{10, 11, 12, 13}, result.Processed)
		assert.Equal(t, 0, len(result.Failed))
		assert.Equal(t, 0, len(result.Skipped))
		for epoch := int64(10); epoch <= 13; epoch++ {
			record := store.GetRecord(0, epoch)
			assert.NotNil(t, record)
			assert.Equal(t, epoch, record.Epoch.Epoch)
		}
	})

	t.Run("Should resolve the current head epoch as the upper bound", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:    0,
			FromEpoch:   13,
			ToEpoch:     config.ToEpochCurrent,
			Concurrency: 1,
			BatchSize:   2,
		})
		defer closePool()

		result, err := bf.Run(ctx)
		assert.Nil(t, err)

		// head is inside epoch 15, so the last closed epoch is 14
		assert.Equal(t, int64(14), result.ToEpoch)
		assert.Equal(t, []int64{13, 14}, result.Processed)
	})

	t.Run("Should contain per-epoch failures and keep going", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		store.FailEpochs[11] = true
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:    0,
			FromEpoch:   10,
			ToEpoch:     "12",
			Concurrency: 2,
			BatchSize:   2,
		})
		defer closePool()

		result, err := bf.Run(ctx)
		assert.Nil(t, err)

		assert.Equal(t, []int64{10, 12}, result.Processed)
		assert.Equal(t, 1, len(result.Failed))
		assert.NotNil(t, result.Failed[11])
		assert.Equal(t, pipeline.ErrorClassPersistence, pipeline.ClassOf(result.Failed[11]))
		assert.Nil(t, store.GetRecord(0, 11))
	})

	t.Run("Should resume after the last committed epoch", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:    0,
			FromEpoch:   10,
			ToEpoch:     "11",
			Concurrency: 1,
			BatchSize:   5,
		})
		first, err := bf.Run(ctx)
		closePool()
		assert.Nil(t, err)
		assert.Equal(t, []int64{10, 11}, first.Processed)

		bf, closePool = newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:    0,
			FromEpoch:   10,
			ToEpoch:     "13",
			Concurrency: 1,
			BatchSize:   5,
			Resume:      true,
		})
		defer closePool()

		second, err := bf.Run(ctx)
		assert.Nil(t, err)

		assert.Equal(t, int64(12), second.FromEpoch)
		assert.Equal(t, []int64{12, 13}, second.Processed)
		assert.Equal(t, 4, store.SaveCount)
	})

	t.Run("Should resume below the requested lower bound", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 10,
			ToEpoch:   "11",
			BatchSize: 5,
		})
		_, err := bf.Run(ctx)
		closePool()
		assert.Nil(t, err)

		// resume restarts at lastCommitted+1 even when --from asks for later
		bf, closePool = newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 13,
			ToEpoch:   "13",
			BatchSize: 5,
			Resume:    true,
		})
		defer closePool()
		result, err := bf.Run(ctx)
		assert.Nil(t, err)

		assert.Equal(t, int64(12), result.FromEpoch)
		assert.Equal(t, []int64{12, 13}, result.Processed)
	})

	t.Run("Should keep the requested lower bound when nothing was committed", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 12,
			ToEpoch:   "13",
			BatchSize: 5,
			Resume:    true,
		})
		defer closePool()

		result, err := bf.Run(ctx)
		assert.Nil(t, err)

		assert.Equal(t, int64(12), result.FromEpoch)
		assert.Equal(t, []int64{12, 13}, result.Processed)
	})

	t.Run("Should skip committed epochs even without resume", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		cfg := config.BackfillConfig{
			DomainId:    0,
			FromEpoch:   10,
			ToEpoch:     "11",
			Concurrency: 1,
			BatchSize:   5,
		}

		bf, closePool := newBackfill(t, chain, store, cfg)
		_, err := bf.Run(ctx)
		closePool()
		assert.Nil(t, err)

		bf, closePool = newBackfill(t, chain, store, cfg)
		defer closePool()
		result, err := bf.Run(ctx)
		assert.Nil(t, err)

		assert.Equal(t, 0, len(result.Processed))
		assert.Equal(t, []int64{10, 11}, result.Skipped)
		assert.Equal(t, 2, store.SaveCount)
	})

	t.Run("Should skip committed epochs inside a resumed range", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()

		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 11,
			ToEpoch:   "11",
			BatchSize: 5,
		})
		_, err := bf.Run(ctx)
		closePool()
		assert.Nil(t, err)

		// resume advances the lower bound past the last committed epoch,
		// even over the uncommitted gap at 10
		bf, closePool = newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 10,
			ToEpoch:   "13",
			BatchSize: 5,
			Resume:    true,
		})
		defer closePool()
		result, err := bf.Run(ctx)
		assert.Nil(t, err)

		// lastCommitted is 11, so resume starts at 12
		assert.Equal(t, int64(12), result.FromEpoch)
		assert.Equal(t, []int64{12, 13}, result.Processed)
	})

	t.Run("Should error on an epoch range beyond the chain", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 40,
			ToEpoch:   "41",
			BatchSize: 5,
		})
		defer closePool()

		result, err := bf.Run(ctx)
		assert.Nil(t, err)

		assert.Equal(t, 0, len(result.Processed))
		assert.Equal(t, 2, len(result.Failed))
		assert.Equal(t, pipeline.ErrorClassBoundary, pipeline.ClassOf(result.Failed[40]))
	})

	t.Run("Should bound in-flight work by the concurrency limit", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:    0,
			FromEpoch:   10,
			ToEpoch:     "14",
			Concurrency: 2,
			BatchSize:   5,
		})
		defer closePool()

		_, err := bf.Run(ctx)
		assert.Nil(t, err)
		processed, err := store.GetProcessedEpochs(0, 10, 14)
		assert.Nil(t, err)
		assert.Equal(t, 5, len(processed))
	})

	t.Run("Should stop between batches when the context is cancelled", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 10,
			ToEpoch:   "14",
			BatchSize: 2,
		})
		defer closePool()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		result, err := bf.Run(cancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, len(result.Processed))
	})

	t.Run("Should finish in-flight epochs on a requested stop", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 10,
			ToEpoch:   "14",
			BatchSize: 2,
		})
		defer closePool()

		// a stop requested before the first batch drops the whole range, but
		// Run still returns its tallies without an error
		bf.Stop()
		result, err := bf.Run(ctx)
		assert.Nil(t, err)
		assert.NotNil(t, result)
		assert.Equal(t, 0, len(result.Processed))
		assert.Equal(t, 0, len(result.Failed))
	})

	t.Run("Should fail fatally when the pool is closed", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 10,
			ToEpoch:   "10",
			BatchSize: 2,
		})
		closePool()

		_, err := bf.Run(ctx)
		assert.NotNil(t, err)
		assert.True(t, pipeline.IsFatal(err))
		assert.Equal(t, pipeline.ErrorClassFatal, pipeline.ClassOf(err))
	})

	t.Run("Should do nothing when the range is empty", func(t *testing.T) {
		chain := newChain()
		store := fakes.NewInMemoryEpochStore()
		bf, closePool := newBackfill(t, chain, store, config.BackfillConfig{
			DomainId:  0,
			FromEpoch: 13,
			ToEpoch:   "12",
			BatchSize: 5,
		})
		defer closePool()

		result, err := bf.Run(ctx)
		assert.Nil(t, err)
		assert.Equal(t, 0, len(result.Processed))
		assert.Equal(t, 0, store.SaveCount)
	})
}
