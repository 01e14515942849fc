package storage

import (
	"time"
)

// SnapshotPoint distinguishes operator rows captured at the epoch's first
// block from rows captured at its last block.
type SnapshotPoint string

var (
	SnapshotStart SnapshotPoint = "start"
	SnapshotEnd   SnapshotPoint = "end"
)

func (s SnapshotPoint) String() string {
	return string(s)
}

// EpochStore is the persistence sink the orchestrator drives. SaveEpoch must
// be atomic per epoch and idempotent on re-runs (upsert, never duplicate
// rows).
type EpochStore interface {
	SaveEpoch(record *EpochRecord) error
	// GetLastCommittedEpoch returns -1 when no epoch has been committed for
	// the domain.
	GetLastCommittedEpoch(domainId uint32) (int64, error)
	GetProcessedEpochs(domainId uint32, fromEpoch int64, toEpoch int64) (map[int64]bool, error)
	GetEpochByNumber(domainId uint32, epoch int64) (*Epoch, error)
	ListEpochMetrics(domainId uint32) ([]*EpochMetricsRow, error)
}

// EpochRecord bundles every row derived from one epoch so the sink can
// commit them in a single transaction.
type EpochRecord struct {
	Epoch               *Epoch
	StakingSummary      *EpochStakingSummary
	FinancialMetrics    *EpochFinancialMetrics
	OperatorSnapshots   []*OperatorSnapshot
	CollectionEntries   []*CollectionEntry
	SharePricePositions []*SharePricePosition
}

// Tables. Big-integer quantities are decimal-string integers stored in
// numeric columns; pointer fields are NULL when the source query failed.
type Epoch struct {
	DomainId   uint32 `gorm:"primaryKey"`
	Epoch      int64  `gorm:"primaryKey"`
	StartBlock uint64
	StartHash  string
	EndBlock   uint64
	EndHash    string
	Timestamp  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Epoch) TableName() string {
	return "epochs"
}

type EpochStakingSummary struct {
	DomainId             uint32 `gorm:"primaryKey"`
	Epoch                int64  `gorm:"primaryKey"`
	CurrentEpochIndex    *int64
	TotalStake           *string
	TotalShares          *string
	CurrentOperatorCount *int64
	NextOperatorCount    *int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (EpochStakingSummary) TableName() string {
	return "epoch_staking_summaries"
}

type EpochFinancialMetrics struct {
	DomainId               uint32 `gorm:"primaryKey"`
	Epoch                  int64  `gorm:"primaryKey"`
	TreasuryFunds          *string
	ChainRewards           *string
	TotalStorageFeeDeposit *string
	TotalStake             *string
	TotalShares            *string
	StartTotalStake        *string
	StartTotalShares       *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (EpochFinancialMetrics) TableName() string {
	return "epoch_financial_metrics"
}

type OperatorSnapshot struct {
	DomainId          uint32 `gorm:"primaryKey"`
	Epoch             int64  `gorm:"primaryKey"`
	OperatorId        string `gorm:"primaryKey"`
	Snapshot          string `gorm:"primaryKey"`
	Stake             string
	Shares            string
	SharePrice        string
	Rewards           string
	StorageFeeDeposit string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (OperatorSnapshot) TableName() string {
	return "operator_snapshots"
}

// CollectionEntry is the generic normalized row for every on-chain map
// collection. Key is the ordered key-argument tuple joined with "/".
type CollectionEntry struct {
	DomainId   uint32 `gorm:"primaryKey"`
	Epoch      int64  `gorm:"primaryKey"`
	Collection string `gorm:"primaryKey"`
	Key        string `gorm:"primaryKey"`
	Value      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (CollectionEntry) TableName() string {
	return "collection_entries"
}

// SharePricePosition is one entry of the epoch-level share-price map. The
// position id is an opaque identifier: whether it denotes a protocol
// operator or a per-delegator position is not determinable from its
// structure, so no reclassification happens here.
type SharePricePosition struct {
	DomainId         uint32 `gorm:"primaryKey"`
	Epoch            int64  `gorm:"primaryKey"`
	PositionId       string `gorm:"primaryKey"`
	CompositeKeyHex  string `gorm:"primaryKey"`
	SharePriceScaled string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (SharePricePosition) TableName() string {
	return "share_price_positions"
}

// Not a table: flat joined row backing the CSV export.
type EpochMetricsRow struct {
	DomainId         uint32
	Epoch            int64
	StartBlock       uint64
	EndBlock         uint64
	EndHash          string
	Timestamp        *time.Time
	TotalStake       *string
	TotalShares      *string
	TreasuryFunds    *string
	ChainRewards     *string
	StartTotalStake  *string
	StartTotalShares *string
}
