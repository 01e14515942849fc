package _202508181102_coreEpochTables

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`create table if not exists epochs (
			domain_id bigint not null,
			epoch bigint not null,
			start_block bigint not null,
			start_hash varchar not null,
			end_block bigint not null,
			end_hash varchar not null,
			timestamp timestamp with time zone,
			created_at timestamp with time zone default current_timestamp,
			updated_at timestamp with time zone default current_timestamp,
			primary key (domain_id, epoch)
		);
		`,
		`create table if not exists epoch_staking_summaries (
			domain_id bigint not null,
			epoch bigint not null,
			current_epoch_index bigint,
			total_stake numeric(78,0),
			total_shares numeric(78,0),
			current_operator_count bigint,
			next_operator_count bigint,
			created_at timestamp with time zone default current_timestamp,
			updated_at timestamp with time zone default current_timestamp,
			primary key (domain_id, epoch)
		);
		`,
		`create table if not exists epoch_financial_metrics (
			domain_id bigint not null,
			epoch bigint not null,
			treasury_funds numeric(78,0),
			chain_rewards numeric(78,0),
			total_storage_fee_deposit numeric(78,0),
			total_stake numeric(78,0),
			total_shares numeric(78,0),
			start_total_stake numeric(78,0),
			start_total_shares numeric(78,0),
			created_at timestamp with time zone default current_timestamp,
			updated_at timestamp with time zone default current_timestamp,
			primary key (domain_id, epoch)
		);
		`,
		`create table if not exists operator_snapshots (
			domain_id bigint not null,
			epoch bigint not null,
			operator_id varchar not null,
			snapshot varchar not null,
			stake numeric(78,0) not null,
			shares numeric(78,0) not null,
			share_price numeric(78,0) not null,
			rewards numeric(78,0) not null,
			storage_fee_deposit numeric(78,0) not null,
			created_at timestamp with time zone default current_timestamp,
			updated_at timestamp with time zone default current_timestamp,
			primary key (domain_id, epoch, operator_id, snapshot)
		);
		`,
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
	return "202508181102_coreEpochTables"
}
