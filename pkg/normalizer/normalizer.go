// Package normalizer reconciles the extractor's raw snapshot (codec
// objects, human-readable projections, hex-encoded composite keys) into the
// stable relational row shapes of the storage package.
package normalizer

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/anoncenomics/domain-indexer/pkg/fetcher"
	"github.com/anoncenomics/domain-indexer/pkg/rawvalue"
	"github.com/anoncenomics/domain-indexer/pkg/storage"
	"go.uber.org/zap"
)

const keySeparator = "/"

type Normalizer struct {
	Logger *zap.Logger
}

func NewNormalizer(l *zap.Logger) *Normalizer {
	return &Normalizer{
		Logger: l,
	}
}

// Shape converts a raw epoch snapshot into the bundle of rows the sink
// commits atomically. Fields whose source query failed stay nil; they are
// never zero-filled.
func (n *Normalizer) Shape(snapshot *fetcher.RawSnapshot) (*storage.EpochRecord, error) {
	bounds := snapshot.Bounds

	record := &storage.EpochRecord{
		Epoch: &storage.Epoch{
			DomainId:   bounds.DomainId,
			Epoch:      bounds.Epoch,
			StartBlock: bounds.StartBlock,
			StartHash:  bounds.StartHash,
			EndBlock:   bounds.EndBlock,
			EndHash:    bounds.EndHash,
			Timestamp:  snapshot.Timestamp,
		},
	}

	record.StakingSummary = n.shapeStakingSummary(snapshot)
	record.FinancialMetrics = n.shapeFinancialMetrics(snapshot)
	record.OperatorSnapshots = n.shapeOperatorSnapshots(snapshot)
	record.CollectionEntries = n.shapeCollectionEntries(snapshot)
	record.SharePricePositions = n.shapeSharePricePositions(snapshot)

	return record, nil
}

func (n *Normalizer) shapeStakingSummary(snapshot *fetcher.RawSnapshot) *storage.EpochStakingSummary {
	summary := &storage.EpochStakingSummary{
		DomainId: snapshot.Bounds.DomainId,
		Epoch:    snapshot.Bounds.Epoch,
	}

	if raw, ok := snapshot.Scalar(fetcher.QueryStakingSummary); ok && raw.HasValue() {
		if epochField, ok := raw.Field("currentEpochIndex", "current_epoch_index"); ok {
			if s, err := epochField.AsDecimalString(); err == nil {
				if idx, err := strconv.ParseInt(s, 10, 64); err == nil {
					summary.CurrentEpochIndex = &idx
				}
			}
		}
		if stakeField, ok := raw.Field("currentTotalStake", "current_total_stake"); ok {
			if s, err := stakeField.AsDecimalString(); err == nil {
				summary.TotalStake = &s
			}
		}
		summary.CurrentOperatorCount = countField(raw, "currentOperators", "current_operators")
		summary.NextOperatorCount = countField(raw, "nextOperators", "next_operators")
	}

	if snapshot.Aggregates != nil {
		if summary.TotalStake == nil {
			stake := snapshot.Aggregates.TotalStake
			summary.TotalStake = &stake
		}
		shares := snapshot.Aggregates.TotalShares
		summary.TotalShares = &shares
	}

	return summary
}

func (n *Normalizer) shapeFinancialMetrics(snapshot *fetcher.RawSnapshot) *storage.EpochFinancialMetrics {
	metrics := &storage.EpochFinancialMetrics{
		DomainId: snapshot.Bounds.DomainId,
		Epoch:    snapshot.Bounds.Epoch,
	}

	metrics.TreasuryFunds = scalarDecimal(snapshot, fetcher.QueryTreasuryFunds)
	metrics.ChainRewards = scalarDecimal(snapshot, fetcher.QueryChainRewards)

	if snapshot.Aggregates != nil {
		stake := snapshot.Aggregates.TotalStake
		shares := snapshot.Aggregates.TotalShares
		deposit := snapshot.Aggregates.TotalStorageFeeDeposit
		metrics.TotalStake = &stake
		metrics.TotalShares = &shares
		metrics.TotalStorageFeeDeposit = &deposit
	}

	if snapshot.Start != nil && snapshot.Start.Aggregates != nil {
		startStake := snapshot.Start.Aggregates.TotalStake
		startShares := snapshot.Start.Aggregates.TotalShares
		metrics.StartTotalStake = &startStake
		metrics.StartTotalShares = &startShares
	}

	return metrics
}

func (n *Normalizer) shapeOperatorSnapshots(snapshot *fetcher.RawSnapshot) []*storage.OperatorSnapshot {
	rows := make([]*storage.OperatorSnapshot, 0, len(snapshot.Operators))
	for _, op := range snapshot.Operators {
		rows = append(rows, operatorRow(snapshot, op, storage.SnapshotEnd))
	}
	if snapshot.Start != nil {
		for _, op := range snapshot.Start.Operators {
			rows = append(rows, operatorRow(snapshot, op, storage.SnapshotStart))
		}
	}
	return rows
}

func operatorRow(snapshot *fetcher.RawSnapshot, op *fetcher.ParsedOperator, point storage.SnapshotPoint) *storage.OperatorSnapshot {
	return &storage.OperatorSnapshot{
		DomainId:          snapshot.Bounds.DomainId,
		Epoch:             snapshot.Bounds.Epoch,
		OperatorId:        op.OperatorId,
		Snapshot:          point.String(),
		Stake:             op.Stake,
		Shares:            op.Shares,
		SharePrice:        op.SharePrice,
		Rewards:           op.Rewards,
		StorageFeeDeposit: op.StorageFeeDeposit,
	}
}

// shapeCollectionEntries emits the generic row shape for every enumerated
// collection. The operators and operatorEpochSharePrice collections are
// special-cased into their own tables and skipped here.
func (n *Normalizer) shapeCollectionEntries(snapshot *fetcher.RawSnapshot) []*storage.CollectionEntry {
	rows := make([]*storage.CollectionEntry, 0)
	for name, entries := range snapshot.Collections {
		if name == fetcher.CollectionOperators || name == fetcher.CollectionSharePrice {
			continue
		}
		for _, entry := range entries {
			rows = append(rows, &storage.CollectionEntry{
				DomainId:   snapshot.Bounds.DomainId,
				Epoch:      snapshot.Bounds.Epoch,
				Collection: name,
				Key:        strings.Join(entry.KeyArgs, keySeparator),
				Value:      normalizeValue(entry.Value),
			})
		}
	}
	return rows
}

// shapeSharePricePositions parses the epoch-level share-price map. Entries
// may encode the payload as "<hexData>,<decimalSharePrice>"; the substring
// after the last comma is the scaled price and the hex prefix is kept as
// opaque position identity. Whether the numeric id denotes an operator or a
// per-delegator position is contested upstream, so it stays a PositionId.
func (n *Normalizer) shapeSharePricePositions(snapshot *fetcher.RawSnapshot) []*storage.SharePricePosition {
	entries, ok := snapshot.Collections[fetcher.CollectionSharePrice]
	if !ok {
		return nil
	}

	rows := make([]*storage.SharePricePosition, 0, len(entries))
	for _, entry := range entries {
		if len(entry.KeyArgs) == 0 {
			n.Logger.Sugar().Errorw("Share price entry has no key arguments",
				zap.Int64("epoch", snapshot.Bounds.Epoch),
			)
			continue
		}
		positionId := entry.KeyArgs[0]

		payload, err := entry.Value.AsString()
		if err != nil {
			n.Logger.Sugar().Errorw("Share price entry has no payload",
				zap.Int64("epoch", snapshot.Bounds.Epoch),
				zap.String("positionId", positionId),
				zap.Error(err),
			)
			continue
		}

		hexPrefix := ""
		pricePart := payload
		if idx := strings.LastIndex(payload, ","); idx >= 0 {
			hexPrefix = payload[:idx]
			pricePart = payload[idx+1:]
		}

		price, err := rawvalue.FromString(pricePart).AsDecimalString()
		if err != nil {
			n.Logger.Sugar().Errorw("Share price entry has invalid price",
				zap.Int64("epoch", snapshot.Bounds.Epoch),
				zap.String("positionId", positionId),
				zap.String("payload", payload),
				zap.Error(err),
			)
			continue
		}

		rows = append(rows, &storage.SharePricePosition{
			DomainId:         snapshot.Bounds.DomainId,
			Epoch:            snapshot.Bounds.Epoch,
			PositionId:       positionId,
			CompositeKeyHex:  hexPrefix,
			SharePriceScaled: price,
		})
	}
	return rows
}

// normalizeValue stores scalar stringifications as decimal strings and
// structured payloads as their JSON text.
func normalizeValue(v rawvalue.Value) string {
	if s, err := v.AsDecimalString(); err == nil {
		return s
	}
	if s, err := v.AsString(); err == nil {
		return s
	}
	return string(v.Raw())
}

func scalarDecimal(snapshot *fetcher.RawSnapshot, name string) *string {
	raw, ok := snapshot.Scalar(name)
	if !ok || !raw.HasValue() {
		return nil
	}
	s, err := raw.AsDecimalString()
	if err != nil {
		return nil
	}
	return &s
}

// countField returns the element count of a list- or map-shaped field.
func countField(v rawvalue.Value, names ...string) *int64 {
	field, ok := v.Field(names...)
	if !ok {
		return nil
	}
	if structured, err := field.AsStructured(); err == nil {
		count := int64(len(structured))
		return &count
	}
	var list []json.RawMessage
	if err := json.Unmarshal(field.Raw(), &list); err == nil {
		count := int64(len(list))
		return &count
	}
	return nil
}
