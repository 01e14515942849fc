package _202508181431_collectionsAndSharePrices

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`create table if not exists collection_entries (
			domain_id bigint not null,
			epoch bigint not null,
			collection varchar not null,
			key varchar not null,
			value text not null,
			created_at timestamp with time zone default current_timestamp,
			updated_at timestamp with time zone default current_timestamp,
			primary key (domain_id, epoch, collection, key)
		);
		`,
		`create table if not exists share_price_positions (
			domain_id bigint not null,
			epoch bigint not null,
			position_id varchar not null,
			composite_key_hex varchar not null,
			share_price_scaled numeric(78,0) not null,
			created_at timestamp with time zone default current_timestamp,
			updated_at timestamp with time zone default current_timestamp,
			primary key (domain_id, epoch, position_id, composite_key_hex)
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
	return "202508181431_collectionsAndSharePrices"
}
