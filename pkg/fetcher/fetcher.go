package fetcher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/anoncenomics/domain-indexer/pkg/clients/substrate"
	"github.com/anoncenomics/domain-indexer/pkg/rawvalue"
	"go.uber.org/zap"
)

const domainsPallet = "domains"

type Fetcher struct {
	Logger *zap.Logger
}

func NewFetcher(l *zap.Logger) *Fetcher {
	return &Fetcher{
		Logger: l,
	}
}

type storageQuery struct {
	Name       string
	Pallet     string
	Item       string
	Args       []string
	Collection bool
}

type queryResult struct {
	query   storageQuery
	value   rawvalue.Value
	entries []rawvalue.Entry
	err     error
}

func scalarQueries(domainArg string) []storageQuery {
	return []storageQuery{
		{Name: QueryStakingSummary, Pallet: domainsPallet, Item: "domainStakingSummary", Args: []string{domainArg}},
		{Name: QueryDomainRegistry, Pallet: domainsPallet, Item: "domainRegistry", Args: []string{domainArg}},
		{Name: QueryTreasuryFunds, Pallet: domainsPallet, Item: "accumulatedTreasuryFunds", Args: nil},
		{Name: QueryChainRewards, Pallet: domainsPallet, Item: "domainChainRewards", Args: []string{domainArg}},
		{Name: QueryPendingStakingOps, Pallet: domainsPallet, Item: "pendingStakingOperationCount", Args: []string{domainArg}},
		{Name: QueryHeadReceiptNumber, Pallet: domainsPallet, Item: "headReceiptNumber", Args: []string{domainArg}},
		{Name: QueryHeadDomainNumber, Pallet: domainsPallet, Item: "headDomainNumber", Args: []string{domainArg}},
		{Name: QueryTimestamp, Pallet: "timestamp", Item: "now", Args: nil},
	}
}

func collectionQueries(domainArg string) []storageQuery {
	// Operator-keyed maps are enumerated unscoped; domain-keyed maps are
	// scoped by the domain id prefix.
	return []storageQuery{
		{Name: CollectionDeposits, Pallet: domainsPallet, Item: "deposits", Collection: true},
		{Name: CollectionWithdrawals, Pallet: domainsPallet, Item: "withdrawals", Collection: true},
		{Name: CollectionDepositOnHold, Pallet: domainsPallet, Item: "depositOnHold", Collection: true},
		{Name: CollectionSuccessfulBundles, Pallet: domainsPallet, Item: "successfulBundles", Args: []string{domainArg}, Collection: true},
		{Name: CollectionSharePrice, Pallet: domainsPallet, Item: "operatorEpochSharePrice", Collection: true},
		{Name: CollectionOperatorHighestSlot, Pallet: domainsPallet, Item: "operatorHighestSlot", Collection: true},
		{Name: CollectionOperatorBundleSlot, Pallet: domainsPallet, Item: "operatorBundleSlot", Collection: true},
		{Name: CollectionPendingSlashes, Pallet: domainsPallet, Item: "pendingSlashes", Args: []string{domainArg}, Collection: true},
		{Name: CollectionLastDistribution, Pallet: domainsPallet, Item: "lastEpochStakingDistribution", Collection: true},
		{Name: CollectionInvalidBundles, Pallet: domainsPallet, Item: "invalidBundleAuthors", Collection: true},
		{Name: CollectionExecutionReceipts, Pallet: domainsPallet, Item: "executionReceipts", Args: []string{domainArg}, Collection: true},
		{Name: CollectionOperators, Pallet: domainsPallet, Item: "operators", Collection: true},
	}
}

// FetchEpoch issues the full battery of storage queries at the epoch's end
// block, plus the reduced start-block battery, all concurrently. A single
// query's failure does not abort the others: it is recorded in the
// snapshot's Failed map and its field stays absent.
func (f *Fetcher) FetchEpoch(ctx context.Context, client substrate.RPC, bounds EpochBounds) (*RawSnapshot, error) {
	domainArg := domainIdArg(bounds.DomainId)

	queries := scalarQueries(domainArg)
	queries = append(queries, collectionQueries(domainArg)...)

	fetchStart := time.Now()
	results := f.runQueries(ctx, client, queries, bounds.EndHash)

	snapshot := &RawSnapshot{
		Bounds:      bounds,
		Scalars:     map[string]rawvalue.Value{},
		Collections: map[string][]rawvalue.Entry{},
		Failed:      map[string]string{},
	}

	for _, res := range results {
		if res.err != nil {
			f.Logger.Sugar().Errorw("Storage query failed",
				zap.Int64("epoch", bounds.Epoch),
				zap.String("query", res.query.Name),
				zap.Error(res.err),
			)
			snapshot.Failed[res.query.Name] = res.err.Error()
			continue
		}
		if res.query.Collection {
			snapshot.Collections[res.query.Name] = res.entries
		} else {
			snapshot.Scalars[res.query.Name] = res.value
		}
	}

	f.parseTimestamp(snapshot)
	f.parseOperators(snapshot)
	f.fetchStartState(ctx, client, snapshot)

	f.Logger.Sugar().Debugw("Fetched epoch snapshot",
		zap.Int64("epoch", bounds.Epoch),
		zap.Uint64("endBlock", bounds.EndBlock),
		zap.Int("failedQueries", len(snapshot.Failed)),
		zap.Int64("fetchTime", time.Since(fetchStart).Milliseconds()),
	)
	return snapshot, nil
}

func (f *Fetcher) runQueries(ctx context.Context, client substrate.RPC, queries []storageQuery, blockHash string) []queryResult {
	resultsChan := make(chan queryResult, len(queries))
	wg := sync.WaitGroup{}
	for _, q := range queries {
		wg.Add(1)
		go func(q storageQuery) {
			defer wg.Done()
			if q.Collection {
				entries, err := client.StorageEntriesAt(ctx, q.Pallet, q.Item, q.Args, blockHash)
				resultsChan <- queryResult{query: q, entries: entries, err: err}
				return
			}
			value, err := client.StorageAt(ctx, q.Pallet, q.Item, q.Args, blockHash)
			resultsChan <- queryResult{query: q, value: value, err: err}
		}(q)
	}
	wg.Wait()
	close(resultsChan)

	results := make([]queryResult, 0, len(queries))
	for res := range resultsChan {
		results = append(results, res)
	}
	return results
}

func (f *Fetcher) parseTimestamp(snapshot *RawSnapshot) {
	ts, ok := snapshot.Scalars[QueryTimestamp]
	if !ok {
		return
	}
	msStr, err := ts.AsDecimalString()
	if err != nil {
		snapshot.Failed[QueryTimestamp] = err.Error()
		delete(snapshot.Scalars, QueryTimestamp)
		return
	}
	ms, err := parseInt64(msStr)
	if err != nil {
		snapshot.Failed[QueryTimestamp] = err.Error()
		delete(snapshot.Scalars, QueryTimestamp)
		return
	}
	t := time.UnixMilli(ms).UTC()
	snapshot.Timestamp = &t
}

func (f *Fetcher) parseOperators(snapshot *RawSnapshot) {
	entries, ok := snapshot.Collections[CollectionOperators]
	if !ok {
		return
	}
	operators := make([]*ParsedOperator, 0, len(entries))
	for _, entry := range entries {
		op, err := ParseOperatorEntry(entry)
		if err != nil {
			f.Logger.Sugar().Errorw("Failed to parse operator entry",
				zap.Int64("epoch", snapshot.Bounds.Epoch),
				zap.Strings("keyArgs", entry.KeyArgs),
				zap.Error(err),
			)
			snapshot.Failed[CollectionOperators] = err.Error()
			return
		}
		operators = append(operators, op)
	}
	snapshot.Operators = operators

	aggregates, err := aggregateOperators(operators)
	if err != nil {
		snapshot.Failed[CollectionOperators] = err.Error()
		snapshot.Operators = nil
		return
	}
	snapshot.Aggregates = aggregates
}

// fetchStartState reads the reduced battery at the epoch's first block. A
// failure here degrades to absent start fields rather than failing the
// epoch.
func (f *Fetcher) fetchStartState(ctx context.Context, client substrate.RPC, snapshot *RawSnapshot) {
	domainArg := domainIdArg(snapshot.Bounds.DomainId)
	start := &StartState{}

	summary, err := client.StorageAt(ctx, domainsPallet, "domainStakingSummary", []string{domainArg}, snapshot.Bounds.StartHash)
	if err != nil {
		snapshot.Failed[StartQueryStakingSummary] = err.Error()
	} else if summary.HasValue() {
		start.StakingSummary = &summary
	}

	entries, err := client.StorageEntriesAt(ctx, domainsPallet, "operators", nil, snapshot.Bounds.StartHash)
	if err != nil {
		snapshot.Failed[StartQueryOperators] = err.Error()
	} else {
		operators := make([]*ParsedOperator, 0, len(entries))
		parseFailed := false
		for _, entry := range entries {
			op, parseErr := ParseOperatorEntry(entry)
			if parseErr != nil {
				snapshot.Failed[StartQueryOperators] = parseErr.Error()
				parseFailed = true
				break
			}
			operators = append(operators, op)
		}
		if !parseFailed {
			start.Operators = operators
			if aggregates, aggErr := aggregateOperators(operators); aggErr == nil {
				start.Aggregates = aggregates
			} else {
				snapshot.Failed[StartQueryOperators] = aggErr.Error()
				start.Operators = nil
			}
		}
	}

	snapshot.Start = start
}

func domainIdArg(domainId uint32) string {
	return strconv.FormatUint(uint64(domainId), 10)
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
