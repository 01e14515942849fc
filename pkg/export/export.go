// Package export writes the per-epoch metrics view to CSV for offline
// analysis.
package export

import (
	"os"
	"time"

	"github.com/anoncenomics/domain-indexer/pkg/storage"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

type Exporter struct {
	Store  storage.EpochStore
	Logger *zap.Logger
}

func NewExporter(store storage.EpochStore, l *zap.Logger) *Exporter {
	return &Exporter{
		Store:  store,
		Logger: l,
	}
}

// csvRow flattens the nullable metrics into empty-string cells.
type csvRow struct {
	DomainId         uint32 `csv:"domain_id"`
	Epoch            int64  `csv:"epoch"`
	StartBlock       uint64 `csv:"start_block"`
	EndBlock         uint64 `csv:"end_block"`
	EndHash          string `csv:"end_hash"`
	Timestamp        string `csv:"timestamp"`
	TotalStake       string `csv:"total_stake"`
	TotalShares      string `csv:"total_shares"`
	TreasuryFunds    string `csv:"treasury_funds"`
	ChainRewards     string `csv:"chain_rewards"`
	StartTotalStake  string `csv:"start_total_stake"`
	StartTotalShares string `csv:"start_total_shares"`
}

func (e *Exporter) ExportEpochMetrics(domainId uint32, outputFile string) (int, error) {
	rows, err := e.Store.ListEpochMetrics(domainId)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list epoch metrics")
	}

	e.Logger.Sugar().Infow("Exporting epoch metrics",
		zap.Uint32("domainId", domainId),
		zap.Int("epochs", len(rows)),
		zap.String("outputFile", outputFile),
	)

	bar := progressbar.Default(int64(len(rows)), "exporting epochs")
	csvRows := make([]*csvRow, 0, len(rows))
	for _, row := range rows {
		csvRows = append(csvRows, toCsvRow(row))
		_ = bar.Add(1)
	}

	file, err := os.OpenFile(outputFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open output file")
	}
	defer file.Close()

	if err := gocsv.MarshalFile(&csvRows, file); err != nil {
		return 0, errors.Wrap(err, "failed to write csv")
	}
	return len(csvRows), nil
}

func toCsvRow(row *storage.EpochMetricsRow) *csvRow {
	out := &csvRow{
		DomainId:   row.DomainId,
		Epoch:      row.Epoch,
		StartBlock: row.StartBlock,
		EndBlock:   row.EndBlock,
		EndHash:    row.EndHash,
	}
	if row.Timestamp != nil {
		out.Timestamp = row.Timestamp.UTC().Format(time.RFC3339)
	}
	out.TotalStake = stringOrEmpty(row.TotalStake)
	out.TotalShares = stringOrEmpty(row.TotalShares)
	out.TreasuryFunds = stringOrEmpty(row.TreasuryFunds)
	out.ChainRewards = stringOrEmpty(row.ChainRewards)
	out.StartTotalStake = stringOrEmpty(row.StartTotalStake)
	out.StartTotalShares = stringOrEmpty(row.StartTotalShares)
	return out
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
