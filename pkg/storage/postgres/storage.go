package postgres

import (
	"errors"
	"fmt"

	"github.com/anoncenomics/domain-indexer/internal/config"
	"github.com/anoncenomics/domain-indexer/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 1000

type PostgresEpochStore struct {
	Db           *gorm.DB
	Logger       *zap.Logger
	GlobalConfig *config.Config
}

func NewPostgresEpochStore(db *gorm.DB, l *zap.Logger, cfg *config.Config) *PostgresEpochStore {
	es := &PostgresEpochStore{
		Db:           db,
		Logger:       l,
		GlobalConfig: cfg,
	}
	return es
}

// SaveEpoch commits every row of the epoch in one transaction. All writes
// are upserts keyed on the table primary keys, so re-running an epoch
// replaces its rows rather than duplicating them.
func (s *PostgresEpochStore) SaveEpoch(record *storage.EpochRecord) error {
	if record == nil || record.Epoch == nil {
		return fmt.Errorf("epoch record is missing the epoch row")
	}

	return s.Db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&storage.Epoch{}).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "domain_id"}, {Name: "epoch"}},
			UpdateAll: true,
		}).Create(record.Epoch)
		if res.Error != nil {
			return fmt.Errorf("Failed to upsert epoch '%d': %w", record.Epoch.Epoch, res.Error)
		}

		if record.StakingSummary != nil {
			res = tx.Model(&storage.EpochStakingSummary{}).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "domain_id"}, {Name: "epoch"}},
				UpdateAll: true,
			}).Create(record.StakingSummary)
			if res.Error != nil {
				return fmt.Errorf("Failed to upsert staking summary for epoch '%d': %w", record.Epoch.Epoch, res.Error)
			}
		}

		if record.FinancialMetrics != nil {
			res = tx.Model(&storage.EpochFinancialMetrics{}).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "domain_id"}, {Name: "epoch"}},
				UpdateAll: true,
			}).Create(record.FinancialMetrics)
			if res.Error != nil {
				return fmt.Errorf("Failed to upsert financial metrics for epoch '%d': %w", record.Epoch.Epoch, res.Error)
			}
		}

		if len(record.OperatorSnapshots) > 0 {
			res = tx.Model(&storage.OperatorSnapshot{}).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "domain_id"}, {Name: "epoch"}, {Name: "operator_id"}, {Name: "snapshot"}},
				UpdateAll: true,
			}).CreateInBatches(&record.OperatorSnapshots, insertBatchSize)
			if res.Error != nil {
				return fmt.Errorf("Failed to upsert operator snapshots for epoch '%d': %w", record.Epoch.Epoch, res.Error)
			}
		}

		if len(record.CollectionEntries) > 0 {
			res = tx.Model(&storage.CollectionEntry{}).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "domain_id"}, {Name: "epoch"}, {Name: "collection"}, {Name: "key"}},
				UpdateAll: true,
			}).CreateInBatches(&record.CollectionEntries, insertBatchSize)
			if res.Error != nil {
				return fmt.Errorf("Failed to upsert collection entries for epoch '%d': %w", record.Epoch.Epoch, res.Error)
			}
		}

		if len(record.SharePricePositions) > 0 {
			res = tx.Model(&storage.SharePricePosition{}).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "domain_id"}, {Name: "epoch"}, {Name: "position_id"}, {Name: "composite_key_hex"}},
				UpdateAll: true,
			}).CreateInBatches(&record.SharePricePositions, insertBatchSize)
			if res.Error != nil {
				return fmt.Errorf("Failed to upsert share price positions for epoch '%d': %w", record.Epoch.Epoch, res.Error)
			}
		}

		return nil
	})
}

func (s *PostgresEpochStore) GetLastCommittedEpoch(domainId uint32) (int64, error) {
	epoch := &storage.Epoch{}

	result := s.Db.Model(&storage.Epoch{}).
		Where("domain_id = ?", domainId).
		Order("epoch desc").
		First(&epoch)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return -1, nil
		}
		return -1, fmt.Errorf("Failed to get last committed epoch: %w", result.Error)
	}
	return epoch.Epoch, nil
}

func (s *PostgresEpochStore) GetProcessedEpochs(domainId uint32, fromEpoch int64, toEpoch int64) (map[int64]bool, error) {
	epochs := make([]int64, 0)

	result := s.Db.Model(&storage.Epoch{}).
		Where("domain_id = ? and epoch between ? and ?", domainId, fromEpoch, toEpoch).
		Pluck("epoch", &epochs)
	if result.Error != nil {
		return nil, fmt.Errorf("Failed to get processed epochs: %w", result.Error)
	}

	processed := make(map[int64]bool, len(epochs))
	for _, e := range epochs {
		processed[e] = true
	}
	return processed, nil
}

func (s *PostgresEpochStore) GetEpochByNumber(domainId uint32, epoch int64) (*storage.Epoch, error) {
	row := &storage.Epoch{}

	result := s.Db.Model(row).Where("domain_id = ? and epoch = ?", domainId, epoch).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return row, nil
}

func (s *PostgresEpochStore) ListEpochMetrics(domainId uint32) ([]*storage.EpochMetricsRow, error) {
	rows := make([]*storage.EpochMetricsRow, 0)
	query := `
		SELECT
			e.domain_id,
			e.epoch,
			e.start_block,
			e.end_block,
			e.end_hash,
			e.timestamp,
			ss.total_stake,
			ss.total_shares,
			fm.treasury_funds,
			fm.chain_rewards,
			fm.start_total_stake,
			fm.start_total_shares
		FROM epochs AS e
		LEFT JOIN epoch_staking_summaries AS ss
			ON ss.domain_id = e.domain_id AND ss.epoch = e.epoch
		LEFT JOIN epoch_financial_metrics AS fm
			ON fm.domain_id = e.domain_id AND fm.epoch = e.epoch
		WHERE e.domain_id = ?
		ORDER BY e.epoch ASC;
	`
	result := s.Db.Raw(query, domainId).Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("Failed to list epoch metrics: %w", result.Error)
	}
	return rows, nil
}
