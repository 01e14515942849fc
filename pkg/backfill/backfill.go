// Package backfill orchestrates a bounded, resumable backfill of epoch
// records. Epochs are processed in batches over a pool of chain
// connections; a failure in one epoch never blocks the others.
package backfill

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anoncenomics/domain-indexer/internal/config"
	"github.com/anoncenomics/domain-indexer/internal/metrics"
	"github.com/anoncenomics/domain-indexer/internal/metrics/metricsTypes"
	"github.com/anoncenomics/domain-indexer/pkg/boundary"
	"github.com/anoncenomics/domain-indexer/pkg/pipeline"
	"github.com/anoncenomics/domain-indexer/pkg/pool"
	"github.com/anoncenomics/domain-indexer/pkg/storage"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

const (
	defaultConcurrency = 4
	defaultBatchSize   = 10
)

type Backfill struct {
	Pool     *pool.Pool
	Pipeline *pipeline.Pipeline
	Store    storage.EpochStore
	Config   *config.Config
	Logger   *zap.Logger

	metricsSink *metrics.MetricsSink
	stopped     atomic.Bool
}

func NewBackfill(
	p *pool.Pool,
	pl *pipeline.Pipeline,
	store storage.EpochStore,
	cfg *config.Config,
	l *zap.Logger,
	sink *metrics.MetricsSink,
) *Backfill {
	return &Backfill{
		Pool:        p,
		Pipeline:    pl,
		Store:       store,
		Config:      cfg,
		Logger:      l,
		metricsSink: sink,
	}
}

// Result tallies the run. Failed holds the contained per-epoch errors; the
// run itself only errors on a fatal condition or cancellation.
type Result struct {
	FromEpoch int64
	ToEpoch   int64
	Processed []int64
	Skipped   []int64
	Failed    map[int64]error
}

func (b *Backfill) Run(ctx context.Context) (*Result, error) {
	cfg := b.Config.BackfillConfig

	fromEpoch, toEpoch, err := b.resolveRange(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		FromEpoch: fromEpoch,
		ToEpoch:   toEpoch,
		Processed: make([]int64, 0),
		Skipped:   make([]int64, 0),
		Failed:    make(map[int64]error),
	}

	if fromEpoch > toEpoch {
		b.Logger.Sugar().Infow("Nothing to backfill",
			zap.Int64("fromEpoch", fromEpoch),
			zap.Int64("toEpoch", toEpoch),
		)
		return result, nil
	}

	epochs, skipped, err := b.planEpochs(fromEpoch, toEpoch)
	if err != nil {
		return nil, err
	}
	result.Skipped = skipped

	b.Logger.Sugar().Infow("Starting backfill",
		zap.Uint32("domainId", cfg.DomainId),
		zap.Int64("fromEpoch", fromEpoch),
		zap.Int64("toEpoch", toEpoch),
		zap.Int("epochs", len(epochs)),
		zap.Int("skipped", len(skipped)),
		zap.Int("concurrency", b.concurrency()),
		zap.Int("batchSize", b.batchSize()),
	)

	runStart := time.Now()
	bar := progressbar.Default(int64(len(epochs)), "backfilling epochs")

	batchSize := b.batchSize()
	for start := 0; start < len(epochs); start += batchSize {
		// a requested stop lets in-flight epochs finish and drops the rest
		if b.stopped.Load() {
			b.Logger.Sugar().Infow("Backfill stopped",
				zap.Int("processed", len(result.Processed)),
				zap.Int("remaining", len(epochs)-start),
			)
			sort.Slice(result.Processed, func(i, j int) bool { return result.Processed[i] < result.Processed[j] })
			return result, nil
		}
		if ctx.Err() != nil {
			b.Logger.Sugar().Infow("Backfill interrupted",
				zap.Int("processed", len(result.Processed)),
				zap.Int("remaining", len(epochs)-start),
			)
			return result, ctx.Err()
		}

		end := start + batchSize
		if end > len(epochs) {
			end = len(epochs)
		}
		batch := epochs[start:end]

		fatalErr := b.runBatch(ctx, batch, result, bar)
		if fatalErr != nil {
			return result, fatalErr
		}

		b.logProgress(result, len(epochs), runStart)
	}

	sort.Slice(result.Processed, func(i, j int) bool { return result.Processed[i] < result.Processed[j] })

	b.Logger.Sugar().Infow("Backfill complete",
		zap.Int64("fromEpoch", fromEpoch),
		zap.Int64("toEpoch", toEpoch),
		zap.Int("processed", len(result.Processed)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
		zap.Int64("totalRunTime", time.Since(runStart).Milliseconds()),
	)

	b.emitRunMetrics(result, time.Since(runStart))

	return result, nil
}

// Stop requests a graceful stop: the current batch finishes, remaining
// epochs are dropped, and Run returns its tallies without an error.
func (b *Backfill) Stop() {
	b.stopped.Store(true)
}

// resolveRange applies resume and the "current" upper bound. The head epoch
// is resolved once at startup; epochs that open mid-run are out of scope.
func (b *Backfill) resolveRange(ctx context.Context) (int64, int64, error) {
	cfg := b.Config.BackfillConfig

	fromEpoch := cfg.FromEpoch
	if cfg.Resume {
		lastCommitted, err := b.Store.GetLastCommittedEpoch(cfg.DomainId)
		if err != nil {
			return 0, 0, errors.Wrap(err, "failed to read last committed epoch")
		}
		// resume overrides the requested lower bound in both directions
		if lastCommitted >= 0 {
			b.Logger.Sugar().Infow("Resuming after last committed epoch",
				zap.Int64("lastCommitted", lastCommitted),
				zap.Int64("requestedFromEpoch", cfg.FromEpoch),
			)
			fromEpoch = lastCommitted + 1
		}
	}

	var toEpoch int64
	if cfg.ToEpoch == config.ToEpochCurrent {
		conn, err := b.Pool.Acquire(ctx)
		if err != nil {
			return 0, 0, errors.Wrap(err, "failed to acquire connection for head epoch")
		}
		resolver := boundary.NewResolver(conn, cfg.DomainId, b.Logger)
		head, err := resolver.HeadEpoch(ctx)
		b.Pool.Release(conn)
		if err != nil {
			return 0, 0, errors.Wrap(err, "failed to resolve head epoch")
		}
		// the head epoch is still open; the last closed one is its
		// predecessor
		toEpoch = head - 1
		if b.metricsSink != nil {
			_ = b.metricsSink.Gauge(metricsTypes.Metric_Gauge_HeadEpoch, float64(head), []metricsTypes.MetricsLabel{
				{Name: "domainId", Value: strconv.FormatUint(uint64(cfg.DomainId), 10)},
			})
		}
	} else {
		parsed, err := strconv.ParseInt(cfg.ToEpoch, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid to epoch '%s'", cfg.ToEpoch)
		}
		toEpoch = parsed
	}

	if fromEpoch < 0 {
		return 0, 0, fmt.Errorf("from epoch must not be negative, got %d", fromEpoch)
	}
	return fromEpoch, toEpoch, nil
}

// planEpochs lists the epochs to process in ascending order, dropping the
// ones already committed.
func (b *Backfill) planEpochs(fromEpoch int64, toEpoch int64) ([]int64, []int64, error) {
	cfg := b.Config.BackfillConfig

	processed, err := b.Store.GetProcessedEpochs(cfg.DomainId, fromEpoch, toEpoch)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read processed epochs")
	}

	epochs := make([]int64, 0, toEpoch-fromEpoch+1)
	skipped := make([]int64, 0)
	for epoch := fromEpoch; epoch <= toEpoch; epoch++ {
		if processed[epoch] {
			b.Logger.Sugar().Infow("Skipping already committed epoch", zap.Int64("epoch", epoch))
			skipped = append(skipped, epoch)
			continue
		}
		epochs = append(epochs, epoch)
	}
	return epochs, skipped, nil
}

// runBatch processes one batch with bounded concurrency. Per-epoch errors
// are recorded and contained; a fatal error aborts the run.
func (b *Backfill) runBatch(ctx context.Context, batch []int64, result *Result, bar *progressbar.ProgressBar) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatalErr error

	sem := make(chan struct{}, b.concurrency())

	for _, epoch := range batch {
		wg.Add(1)
		sem <- struct{}{}

		go func(epoch int64) {
			defer wg.Done()
			defer func() { <-sem }()

			err := b.processOne(ctx, epoch)

			mu.Lock()
			defer mu.Unlock()
			_ = bar.Add(1)
			if err != nil {
				b.Logger.Sugar().Errorw(fmt.Sprintf("[epoch.%d] ❌ failed", epoch),
					zap.String("class", string(pipeline.ClassOf(err))),
					zap.Error(err),
				)
				result.Failed[epoch] = err
				if pipeline.IsFatal(err) && fatalErr == nil {
					fatalErr = err
				}
				return
			}
			b.Logger.Sugar().Infof("[epoch.%d] ✅ committed", epoch)
			result.Processed = append(result.Processed, epoch)
		}(epoch)
	}

	wg.Wait()
	return fatalErr
}

func (b *Backfill) processOne(ctx context.Context, epoch int64) error {
	conn, err := b.Pool.Acquire(ctx)
	if err != nil {
		// a closed or empty pool can never hand out a connection, so no
		// later epoch can succeed either
		if errors.Is(err, pool.ErrPoolClosed) || errors.Is(err, pool.ErrNoConnections) {
			return pipeline.NewFatalError(epoch, err)
		}
		return pipeline.NewConnectionError(epoch, err)
	}
	defer b.Pool.Release(conn)

	return b.Pipeline.ProcessEpoch(ctx, conn, epoch)
}

func (b *Backfill) logProgress(result *Result, total int, runStart time.Time) {
	done := len(result.Processed) + len(result.Failed)
	if done == 0 {
		return
	}
	elapsed := time.Since(runStart)
	rate := float64(done) / elapsed.Seconds()
	remaining := total - done
	eta := time.Duration(0)
	if rate > 0 {
		eta = time.Duration(float64(remaining)/rate) * time.Second
	}
	b.Logger.Sugar().Infow("Backfill progress",
		zap.Int("done", done),
		zap.Int("total", total),
		zap.Int("failed", len(result.Failed)),
		zap.String("rate", fmt.Sprintf("%.2f epochs/s", rate)),
		zap.String("eta", eta.String()),
	)
}

func (b *Backfill) emitRunMetrics(result *Result, duration time.Duration) {
	if b.metricsSink == nil {
		return
	}
	labels := []metricsTypes.MetricsLabel{
		{Name: "domainId", Value: strconv.FormatUint(uint64(b.Config.BackfillConfig.DomainId), 10)},
	}
	for range result.Failed {
		_ = b.metricsSink.Incr(metricsTypes.Metric_Incr_EpochFailed, labels, 1)
	}
	if len(result.Processed) > 0 {
		last := result.Processed[len(result.Processed)-1]
		_ = b.metricsSink.Gauge(metricsTypes.Metric_Gauge_LastCommittedEpoch, float64(last), labels)
	}
	_ = b.metricsSink.Timing(metricsTypes.Metric_Timing_BackfillDuration, duration, labels)
}

func (b *Backfill) concurrency() int {
	c := b.Config.BackfillConfig.Concurrency
	if c <= 0 {
		return defaultConcurrency
	}
	return c
}

func (b *Backfill) batchSize() int {
	s := b.Config.BackfillConfig.BatchSize
	if s <= 0 {
		return defaultBatchSize
	}
	return s
}
