package _202508220915_epochLookupIndexes

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`create index if not exists idx_operator_snapshots_operator on operator_snapshots (operator_id, domain_id, epoch);`,
		`create index if not exists idx_collection_entries_collection on collection_entries (domain_id, collection, epoch);`,
		`create index if not exists idx_share_price_positions_position on share_price_positions (position_id, domain_id, epoch);`,
	}

	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			fmt.Printf("Failed to execute query: %s\n", query)
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202508220915_epochLookupIndexes"
}
