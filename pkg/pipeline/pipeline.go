// Package pipeline runs the per-epoch processing sequence: resolve the
// epoch's block range, fetch the raw snapshot, normalize it, and commit it
// through the sink.
package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/anoncenomics/domain-indexer/internal/metrics"
	"github.com/anoncenomics/domain-indexer/internal/metrics/metricsTypes"
	"github.com/anoncenomics/domain-indexer/pkg/boundary"
	"github.com/anoncenomics/domain-indexer/pkg/clients/substrate"
	"github.com/anoncenomics/domain-indexer/pkg/fetcher"
	"github.com/anoncenomics/domain-indexer/pkg/normalizer"
	"github.com/anoncenomics/domain-indexer/pkg/storage"
	"go.uber.org/zap"
)

type Pipeline struct {
	Fetcher    *fetcher.Fetcher
	Normalizer *normalizer.Normalizer
	Store      storage.EpochStore
	DomainId   uint32
	Logger     *zap.Logger

	metricsSink *metrics.MetricsSink
}

func NewPipeline(
	f *fetcher.Fetcher,
	n *normalizer.Normalizer,
	store storage.EpochStore,
	domainId uint32,
	l *zap.Logger,
	sink *metrics.MetricsSink,
) *Pipeline {
	return &Pipeline{
		Fetcher:     f,
		Normalizer:  n,
		Store:       store,
		DomainId:    domainId,
		Logger:      l,
		metricsSink: sink,
	}
}

// ProcessEpoch runs the full sequence for one epoch on the given
// connection. Every returned error carries an ErrorClass so the caller can
// decide between containment and abort.
func (p *Pipeline) ProcessEpoch(ctx context.Context, client substrate.RPC, epoch int64) error {
	p.Logger.Sugar().Debugw("Processing epoch",
		zap.Uint32("domainId", p.DomainId),
		zap.Int64("epoch", epoch),
	)

	totalRunTime := time.Now()
	stepTime := time.Now()

	resolver := boundary.NewResolver(client, p.DomainId, p.Logger)
	startBlock, endBlock, err := resolver.FindEpochRange(ctx, epoch)
	if err != nil {
		p.Logger.Sugar().Errorw("Failed to resolve epoch range",
			zap.Int64("epoch", epoch),
			zap.Error(err),
		)
		return NewBoundaryError(epoch, err)
	}
	p.Logger.Sugar().Debugw("Resolved epoch range",
		zap.Int64("epoch", epoch),
		zap.Uint64("startBlock", startBlock),
		zap.Uint64("endBlock", endBlock),
		zap.Int64("resolveTime", time.Since(stepTime).Milliseconds()),
	)
	stepTime = time.Now()

	hashes, err := client.GetBlockHashes(ctx, []uint64{startBlock, endBlock})
	if err != nil {
		return NewConnectionError(epoch, err)
	}

	bounds := fetcher.EpochBounds{
		DomainId:   p.DomainId,
		Epoch:      epoch,
		StartBlock: startBlock,
		StartHash:  hashes[0],
		EndBlock:   endBlock,
		EndHash:    hashes[1],
	}

	snapshot, err := p.Fetcher.FetchEpoch(ctx, client, bounds)
	if err != nil {
		p.Logger.Sugar().Errorw("Failed to fetch epoch snapshot",
			zap.Int64("epoch", epoch),
			zap.Error(err),
		)
		return NewQueryError(epoch, err)
	}
	p.Logger.Sugar().Debugw("Fetched epoch snapshot",
		zap.Int64("epoch", epoch),
		zap.Int("failedQueries", len(snapshot.Failed)),
		zap.Int64("fetchTime", time.Since(stepTime).Milliseconds()),
	)
	stepTime = time.Now()

	record, err := p.Normalizer.Shape(snapshot)
	if err != nil {
		p.Logger.Sugar().Errorw("Failed to normalize epoch snapshot",
			zap.Int64("epoch", epoch),
			zap.Error(err),
		)
		return NewQueryError(epoch, err)
	}
	p.Logger.Sugar().Debugw("Normalized epoch snapshot",
		zap.Int64("epoch", epoch),
		zap.Int("operatorSnapshots", len(record.OperatorSnapshots)),
		zap.Int("collectionEntries", len(record.CollectionEntries)),
		zap.Int64("normalizeTime", time.Since(stepTime).Milliseconds()),
	)
	stepTime = time.Now()

	if err := p.Store.SaveEpoch(record); err != nil {
		p.Logger.Sugar().Errorw("Failed to persist epoch",
			zap.Int64("epoch", epoch),
			zap.Error(err),
		)
		return NewPersistenceError(epoch, err)
	}
	p.Logger.Sugar().Debugw("Persisted epoch",
		zap.Int64("epoch", epoch),
		zap.Int64("persistTime", time.Since(stepTime).Milliseconds()),
	)

	p.emitEpochMetrics(time.Since(totalRunTime))

	p.Logger.Sugar().Debugw("Finished processing epoch",
		zap.Int64("epoch", epoch),
		zap.Int64("totalRunTime", time.Since(totalRunTime).Milliseconds()),
	)
	return nil
}

func (p *Pipeline) emitEpochMetrics(duration time.Duration) {
	if p.metricsSink == nil {
		return
	}
	labels := []metricsTypes.MetricsLabel{
		{Name: "domainId", Value: strconv.FormatUint(uint64(p.DomainId), 10)},
	}
	_ = p.metricsSink.Incr(metricsTypes.Metric_Incr_EpochProcessed, labels, 1)
	_ = p.metricsSink.Timing(metricsTypes.Metric_Timing_EpochProcessDuration, duration, labels)
}
