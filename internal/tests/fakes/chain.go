// Package fakes provides in-memory doubles for the chain client and the
// epoch store, used by tests that exercise boundary resolution and the
// backfill orchestrator without a node or a database.
package fakes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anoncenomics/domain-indexer/pkg/rawvalue"
)

// FakeChain models a chain whose epoch transitions for one domain happen at
// known block heights. EpochStarts[i] is the first block of epoch
// FirstEpoch+i; blocks before EpochStarts[0] have no staking summary.
type FakeChain struct {
	DomainId    uint32
	FirstEpoch  int64
	EpochStarts []uint64
	Head        uint64

	// Scalars maps "<pallet>.<item>" to the JSON payload returned by
	// StorageAt for any block hash. Entries maps the same key to the
	// collection returned by StorageEntriesAt.
	Scalars map[string]string
	Entries map[string][]rawvalue.Entry

	// FailStorageAt marks "<pallet>.<item>" queries that return an error.
	FailStorageAt map[string]bool

	mu             sync.Mutex
	inFlight       int
	MaxInFlight    int
	ProbeErr       error
	epochIndexCall int
}

func (f *FakeChain) track() func() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.MaxInFlight {
		f.MaxInFlight = f.inFlight
	}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}
}

func (f *FakeChain) GetHeadBlockNumber(ctx context.Context) (uint64, error) {
	defer f.track()()
	return f.Head, nil
}

func (f *FakeChain) GetBlockHash(ctx context.Context, blockNumber uint64) (string, error) {
	defer f.track()()
	if blockNumber > f.Head {
		return "", fmt.Errorf("block %d beyond head %d", blockNumber, f.Head)
	}
	return fmt.Sprintf("0xhash%d", blockNumber), nil
}

func (f *FakeChain) GetBlockHashes(ctx context.Context, blockNumbers []uint64) ([]string, error) {
	hashes := make([]string, 0, len(blockNumbers))
	for _, blockNumber := range blockNumbers {
		hash, err := f.GetBlockHash(ctx, blockNumber)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// EpochIndexAt returns the epoch open at the given block, or ok=false when
// the domain has no staking summary yet.
func (f *FakeChain) EpochIndexAt(ctx context.Context, domainId uint32, blockNumber uint64) (int64, bool, error) {
	defer f.track()()
	f.mu.Lock()
	f.epochIndexCall++
	f.mu.Unlock()

	if domainId != f.DomainId {
		return 0, false, nil
	}
	if len(f.EpochStarts) == 0 || blockNumber < f.EpochStarts[0] {
		return 0, false, nil
	}
	epoch := f.FirstEpoch
	for i := 1; i < len(f.EpochStarts); i++ {
		if blockNumber < f.EpochStarts[i] {
			break
		}
		epoch = f.FirstEpoch + int64(i)
	}
	return epoch, true, nil
}

func (f *FakeChain) StorageAt(ctx context.Context, pallet string, item string, args []string, blockHash string) (rawvalue.Value, error) {
	defer f.track()()
	key := pallet + "." + item
	if f.FailStorageAt[key] {
		return rawvalue.Value{}, fmt.Errorf("storage query %s failed", key)
	}
	payload, ok := f.Scalars[key]
	if !ok {
		return rawvalue.FromJSON(json.RawMessage("null")), nil
	}
	return rawvalue.FromJSON(json.RawMessage(payload)), nil
}

func (f *FakeChain) StorageEntriesAt(ctx context.Context, pallet string, item string, args []string, blockHash string) ([]rawvalue.Entry, error) {
	defer f.track()()
	key := pallet + "." + item
	if f.FailStorageAt[key] {
		return nil, fmt.Errorf("storage query %s failed", key)
	}
	return f.Entries[key], nil
}

func (f *FakeChain) HealthProbe(ctx context.Context) error {
	return f.ProbeErr
}

func (f *FakeChain) EpochIndexCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epochIndexCall
}
