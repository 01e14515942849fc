package fakes

import (
	"fmt"
	"sort"
	"sync"

	"github.com/anoncenomics/domain-indexer/pkg/storage"
)

// InMemoryEpochStore keeps committed epoch records in a map. SaveEpoch
// replaces the whole record, matching the upsert semantics of the postgres
// sink.
type InMemoryEpochStore struct {
	mu      sync.Mutex
	records map[uint32]map[int64]*storage.EpochRecord

	// FailEpochs triggers a persistence error for the listed epochs.
	FailEpochs map[int64]bool

	SaveCount int
}

func NewInMemoryEpochStore() *InMemoryEpochStore {
	return &InMemoryEpochStore{
		records:    make(map[uint32]map[int64]*storage.EpochRecord),
		FailEpochs: make(map[int64]bool),
	}
}

func (s *InMemoryEpochStore) SaveEpoch(record *storage.EpochRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record == nil || record.Epoch == nil {
		return fmt.Errorf("epoch record is missing the epoch row")
	}
	if s.FailEpochs[record.Epoch.Epoch] {
		return fmt.Errorf("injected persistence failure for epoch %d", record.Epoch.Epoch)
	}

	domain := record.Epoch.DomainId
	if s.records[domain] == nil {
		s.records[domain] = make(map[int64]*storage.EpochRecord)
	}
	s.records[domain][record.Epoch.Epoch] = record
	s.SaveCount++
	return nil
}

func (s *InMemoryEpochStore) GetLastCommittedEpoch(domainId uint32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := int64(-1)
	for epoch := range s.records[domainId] {
		if epoch > last {
			last = epoch
		}
	}
	return last, nil
}

func (s *InMemoryEpochStore) GetProcessedEpochs(domainId uint32, fromEpoch int64, toEpoch int64) (map[int64]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	processed := make(map[int64]bool)
	for epoch := range s.records[domainId] {
		if epoch >= fromEpoch && epoch <= toEpoch {
			processed[epoch] = true
		}
	}
	return processed, nil
}

func (s *InMemoryEpochStore) GetEpochByNumber(domainId uint32, epoch int64) (*storage.Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[domainId][epoch]
	if !ok {
		return nil, nil
	}
	return record.Epoch, nil
}

func (s *InMemoryEpochStore) ListEpochMetrics(domainId uint32) ([]*storage.EpochMetricsRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]*storage.EpochMetricsRow, 0, len(s.records[domainId]))
	for _, record := range s.records[domainId] {
		row := &storage.EpochMetricsRow{
			DomainId:   record.Epoch.DomainId,
			Epoch:      record.Epoch.Epoch,
			StartBlock: record.Epoch.StartBlock,
			EndBlock:   record.Epoch.EndBlock,
			EndHash:    record.Epoch.EndHash,
			Timestamp:  record.Epoch.Timestamp,
		}
		if record.StakingSummary != nil {
			row.TotalStake = record.StakingSummary.TotalStake
			row.TotalShares = record.StakingSummary.TotalShares
		}
		if record.FinancialMetrics != nil {
			row.TreasuryFunds = record.FinancialMetrics.TreasuryFunds
			row.ChainRewards = record.FinancialMetrics.ChainRewards
			row.StartTotalStake = record.FinancialMetrics.StartTotalStake
			row.StartTotalShares = record.FinancialMetrics.StartTotalShares
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Epoch < rows[j].Epoch })
	return rows, nil
}

func (s *InMemoryEpochStore) GetRecord(domainId uint32, epoch int64) *storage.EpochRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[domainId][epoch]
}
