package fetcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/anoncenomics/domain-indexer/internal/logger"
	"github.com/anoncenomics/domain-indexer/internal/tests/fakes"
	"github.com/anoncenomics/domain-indexer/pkg/rawvalue"
	"github.com/stretchr/testify/assert"
)

func testBounds() EpochBounds {
	return EpochBounds{
		DomainId:   0,
		Epoch:      10,
		StartBlock: 100,
		StartHash:  "0xhash100",
		EndBlock:   149,
		EndHash:    "0xhash149",
	}
}

func operatorEntry(id string, stake string, shares string) rawvalue.Entry {
	payload := `{"currentTotalStake":"` + stake + `","currentTotalShares":"` + shares + `","totalStorageFeeDeposit":"10","currentEpochRewards":"5"}`
	return rawvalue.Entry{
		KeyArgs: []string{id},
		Value:   rawvalue.FromJSON(json.RawMessage(payload)),
	}
}

func newChain() *fakes.FakeChain {
	return &fakes.FakeChain{
		DomainId:    0,
		FirstEpoch:  10,
		EpochStarts: []uint64{100, 150},
		Head:        200,
		Scalars: map[string]string{
			"domains.domainStakingSummary":     `{"currentEpochIndex":"10","currentTotalStake":"3000","currentOperators":{"1":"2000","2":"1000"},"nextOperators":["1","2"]}`,
			"domains.accumulatedTreasuryFunds": `"7,000"`,
			"domains.domainChainRewards":       `"150"`,
			"timestamp.now":                    `"1,724,000,000,000"`,
		},
		Entries: map[string][]rawvalue.Entry{
			"domains.operators": {
				operatorEntry("1", "2000000000000000000000", "1000000000000000000000"),
				operatorEntry("2", "1000000000000000000000", "1000000000000000000000"),
			},
			"domains.deposits": {
				{KeyArgs: []string{"1", "acct"}, Value: rawvalue.FromJSON(json.RawMessage(`{"known":{"shares":"100"}}`))},
			},
		},
		FailStorageAt: map[string]bool{},
	}
}

func Test_Fetcher(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	f := NewFetcher(l)
	ctx := context.Background()

	t.Run("Should collect scalars, collections and operators", func(t *testing.T) {
		chain := newChain()
		snapshot, err := f.FetchEpoch(ctx, chain, testBounds())
		assert.Nil(t, err)

		treasury, ok := snapshot.Scalar(QueryTreasuryFunds)
		assert.True(t, ok)
		s, err := treasury.AsDecimalString()
		assert.Nil(t, err)
		assert.Equal(t, "7000", s)

		assert.Equal(t, 2, len(snapshot.Operators))
		assert.Equal(t, "1", snapshot.Operators[0].OperatorId)
		assert.Equal(t, "2000000000000000000000", snapshot.Operators[0].Stake)
		// derived floor(stake * 10^18 / shares)
		assert.Equal(t, "2000000000000000000", snapshot.Operators[0].SharePrice)

		assert.NotNil(t, snapshot.Aggregates)
		assert.Equal(t, "3000000000000000000000", snapshot.Aggregates.TotalStake)
		assert.Equal(t, "2000000000000000000000", snapshot.Aggregates.TotalShares)
		assert.Equal(t, "20", snapshot.Aggregates.TotalStorageFeeDeposit)

		assert.Equal(t, 1, len(snapshot.Collections[CollectionDeposits]))
	})

	t.Run("Should parse the end block timestamp", func(t *testing.T) {
		chain := newChain()
		snapshot, err := f.FetchEpoch(ctx, chain, testBounds())
		assert.Nil(t, err)

		assert.NotNil(t, snapshot.Timestamp)
		assert.Equal(t, time.UnixMilli(1724000000000).UTC(), *snapshot.Timestamp)
	})

	t.Run("Should fetch the reduced start-block battery", func(t *testing.T) {
		chain := newChain()
		snapshot, err := f.FetchEpoch(ctx, chain, testBounds())
		assert.Nil(t, err)

		assert.NotNil(t, snapshot.Start)
		assert.NotNil(t, snapshot.Start.StakingSummary)
		assert.Equal(t, 2, len(snapshot.Start.Operators))
		assert.NotNil(t, snapshot.Start.Aggregates)
	})

	t.Run("Should contain a single query failure", func(t *testing.T) {
		chain := newChain()
		chain.FailStorageAt["domains.accumulatedTreasuryFunds"] = true

		snapshot, err := f.FetchEpoch(ctx, chain, testBounds())
		assert.Nil(t, err)

		_, ok := snapshot.Scalar(QueryTreasuryFunds)
		assert.False(t, ok)
		assert.Contains(t, snapshot.Failed, QueryTreasuryFunds)

		// the rest of the battery is unaffected
		assert.Equal(t, 2, len(snapshot.Operators))
		assert.NotNil(t, snapshot.Timestamp)
	})

	t.Run("Should degrade to absent operators when the collection fails", func(t *testing.T) {
		chain := newChain()
		chain.FailStorageAt["domains.operators"] = true

		snapshot, err := f.FetchEpoch(ctx, chain, testBounds())
		assert.Nil(t, err)

		assert.Nil(t, snapshot.Operators)
		assert.Nil(t, snapshot.Aggregates)
		assert.Contains(t, snapshot.Failed, CollectionOperators)
		assert.Contains(t, snapshot.Failed, StartQueryOperators)
	})

	t.Run("Should mark an absent timestamp instead of zero-filling", func(t *testing.T) {
		chain := newChain()
		chain.Scalars["timestamp.now"] = `"not a number"`

		snapshot, err := f.FetchEpoch(ctx, chain, testBounds())
		assert.Nil(t, err)

		assert.Nil(t, snapshot.Timestamp)
		assert.Contains(t, snapshot.Failed, QueryTimestamp)
	})
}

func Test_ParseOperatorEntry(t *testing.T) {
	t.Run("Should prefer a reported share price", func(t *testing.T) {
		entry := rawvalue.Entry{
			KeyArgs: []string{"5"},
			Value: rawvalue.FromJSON(json.RawMessage(
				`{"currentTotalStake":"100","currentTotalShares":"100","sharePrice":"1230000000000000000"}`,
			)),
		}
		op, err := ParseOperatorEntry(entry)
		assert.Nil(t, err)
		assert.Equal(t, "5", op.OperatorId)
		assert.Equal(t, "1230000000000000000", op.SharePrice)
	})

	t.Run("Should default deposit and rewards to zero", func(t *testing.T) {
		entry := rawvalue.Entry{
			KeyArgs: []string{"5"},
			Value: rawvalue.FromJSON(json.RawMessage(
				`{"currentTotalShares":"100","currentTotalStake":"100"}`,
			)),
		}
		op, err := ParseOperatorEntry(entry)
		assert.Nil(t, err)
		assert.Equal(t, "0", op.StorageFeeDeposit)
		assert.Equal(t, "0", op.Rewards)
	})

	t.Run("Should use the last key argument as the operator id", func(t *testing.T) {
		entry := rawvalue.Entry{
			KeyArgs: []string{"0", "7"},
			Value: rawvalue.FromJSON(json.RawMessage(
				`{"currentTotalStake":"100","currentTotalShares":"100"}`,
			)),
		}
		op, err := ParseOperatorEntry(entry)
		assert.Nil(t, err)
		assert.Equal(t, "7", op.OperatorId)
	})

	t.Run("Should reject a payload without stake", func(t *testing.T) {
		entry := rawvalue.Entry{
			KeyArgs: []string{"5"},
			Value:   rawvalue.FromJSON(json.RawMessage(`{"currentTotalShares":"100"}`)),
		}
		_, err := ParseOperatorEntry(entry)
		assert.NotNil(t, err)
	})

	t.Run("Should reject an entry without key arguments", func(t *testing.T) {
		entry := rawvalue.Entry{Value: rawvalue.FromJSON(json.RawMessage(`{}`))}
		_, err := ParseOperatorEntry(entry)
		assert.NotNil(t, err)
	})
}
