package fetcher

import (
	"time"

	"github.com/anoncenomics/domain-indexer/pkg/rawvalue"
	"github.com/anoncenomics/domain-indexer/pkg/types/numbers"
	"github.com/pkg/errors"
)

// Scalar storage queries issued at the epoch end block.
const (
	QueryStakingSummary    = "domainStakingSummary"
	QueryDomainRegistry    = "domainRegistry"
	QueryTreasuryFunds     = "accumulatedTreasuryFunds"
	QueryChainRewards      = "domainChainRewards"
	QueryPendingStakingOps = "pendingStakingOperationCount"
	QueryHeadReceiptNumber = "headReceiptNumber"
	QueryHeadDomainNumber  = "headDomainNumber"
	QueryTimestamp         = "timestamp.now"
)

// Collections enumerated in full at the epoch end block.
const (
	CollectionDeposits            = "deposits"
	CollectionWithdrawals         = "withdrawals"
	CollectionDepositOnHold       = "depositOnHold"
	CollectionSuccessfulBundles   = "successfulBundles"
	CollectionSharePrice          = "operatorEpochSharePrice"
	CollectionOperatorHighestSlot = "operatorHighestSlot"
	CollectionOperatorBundleSlot  = "operatorBundleSlot"
	CollectionPendingSlashes      = "pendingSlashes"
	CollectionLastDistribution    = "lastEpochStakingDistribution"
	CollectionInvalidBundles      = "invalidBundleAuthors"
	CollectionExecutionReceipts   = "executionReceipts"
	CollectionOperators           = "operators"
)

// Queries issued at the epoch start block (reduced battery for delta
// analysis).
const (
	StartQueryStakingSummary = "start." + QueryStakingSummary
	StartQueryOperators      = "start." + CollectionOperators
)

// EpochBounds is the resolved block range of a closed epoch.
type EpochBounds struct {
	DomainId   uint32
	Epoch      int64
	StartBlock uint64
	StartHash  string
	EndBlock   uint64
	EndHash    string
}

// ParsedOperator is one operator's staking state extracted from the raw
// operators collection. All quantities are decimal-string integers.
type ParsedOperator struct {
	OperatorId        string
	Stake             string
	Shares            string
	StorageFeeDeposit string
	Rewards           string
	// SharePrice is the reported on-chain value when present, otherwise
	// floor(stake * 10^18 / shares).
	SharePrice string
}

// OperatorAggregates are domain-wide totals summed from the operators
// collection.
type OperatorAggregates struct {
	TotalStake             string
	TotalShares            string
	TotalStorageFeeDeposit string
}

// StartState captures the reduced start-of-epoch battery. Fields are nil
// when the corresponding query failed (recorded in RawSnapshot.Failed).
type StartState struct {
	StakingSummary *rawvalue.Value
	Operators      []*ParsedOperator
	Aggregates     *OperatorAggregates
}

// RawSnapshot is the extractor's output: everything read at the epoch
// boundary blocks, before normalization. Failed queries appear in Failed
// and are absent (nil / missing key) from the data maps, never zeroed.
type RawSnapshot struct {
	Bounds EpochBounds

	// Timestamp of the epoch end block; nil when the timestamp query failed.
	Timestamp *time.Time

	Scalars     map[string]rawvalue.Value
	Collections map[string][]rawvalue.Entry

	// Operators is the parsed form of Collections[CollectionOperators].
	Operators  []*ParsedOperator
	Aggregates *OperatorAggregates

	Start *StartState

	// Failed maps query name to the error that marked it absent.
	Failed map[string]string
}

func (s *RawSnapshot) Scalar(name string) (rawvalue.Value, bool) {
	v, ok := s.Scalars[name]
	return v, ok
}

// ParseOperatorEntry extracts the structured operator payload (current
// stake, current shares, storage-fee deposit and optional reported share
// price) from one entry of the operators collection. The operator id is the
// last key argument.
func ParseOperatorEntry(entry rawvalue.Entry) (*ParsedOperator, error) {
	if len(entry.KeyArgs) == 0 {
		return nil, errors.New("operator entry has no key arguments")
	}
	operatorId := entry.KeyArgs[len(entry.KeyArgs)-1]

	stakeField, ok := entry.Value.Field("currentTotalStake", "current_total_stake")
	if !ok {
		return nil, errors.Errorf("operator %s payload has no currentTotalStake", operatorId)
	}
	stake, err := stakeField.AsDecimalString()
	if err != nil {
		return nil, errors.Wrapf(err, "operator %s stake", operatorId)
	}

	sharesField, ok := entry.Value.Field("currentTotalShares", "current_total_shares")
	if !ok {
		return nil, errors.Errorf("operator %s payload has no currentTotalShares", operatorId)
	}
	shares, err := sharesField.AsDecimalString()
	if err != nil {
		return nil, errors.Wrapf(err, "operator %s shares", operatorId)
	}

	deposit := "0"
	if depositField, ok := entry.Value.Field("totalStorageFeeDeposit", "total_storage_fee_deposit"); ok {
		if deposit, err = depositField.AsDecimalString(); err != nil {
			return nil, errors.Wrapf(err, "operator %s storage fee deposit", operatorId)
		}
	}

	rewards := "0"
	if rewardsField, ok := entry.Value.Field("currentEpochRewards", "current_epoch_rewards"); ok {
		if rewards, err = rewardsField.AsDecimalString(); err != nil {
			return nil, errors.Wrapf(err, "operator %s rewards", operatorId)
		}
	}

	sharePrice := ""
	if priceField, ok := entry.Value.Field("sharePrice", "share_price"); ok {
		if sharePrice, err = priceField.AsDecimalString(); err != nil {
			return nil, errors.Wrapf(err, "operator %s share price", operatorId)
		}
	}
	if sharePrice == "" {
		if sharePrice, err = numbers.SharePrice(stake, shares); err != nil {
			return nil, errors.Wrapf(err, "operator %s derived share price", operatorId)
		}
	}

	return &ParsedOperator{
		OperatorId:        operatorId,
		Stake:             stake,
		Shares:            shares,
		StorageFeeDeposit: deposit,
		Rewards:           rewards,
		SharePrice:        sharePrice,
	}, nil
}

func aggregateOperators(operators []*ParsedOperator) (*OperatorAggregates, error) {
	stakes := make([]string, 0, len(operators))
	shares := make([]string, 0, len(operators))
	deposits := make([]string, 0, len(operators))
	for _, op := range operators {
		stakes = append(stakes, op.Stake)
		shares = append(shares, op.Shares)
		deposits = append(deposits, op.StorageFeeDeposit)
	}

	totalStake, err := numbers.SumDecimalStrings(stakes...)
	if err != nil {
		return nil, err
	}
	totalShares, err := numbers.SumDecimalStrings(shares...)
	if err != nil {
		return nil, err
	}
	totalDeposit, err := numbers.SumDecimalStrings(deposits...)
	if err != nil {
		return nil, err
	}
	return &OperatorAggregates{
		TotalStake:             totalStake,
		TotalShares:            totalShares,
		TotalStorageFeeDeposit: totalDeposit,
	}, nil
}
