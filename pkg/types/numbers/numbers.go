package numbers

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ShareScaleDecimals is the fixed-point scale used for share prices across
// the whole schema. All share prices are integers scaled by 10^18.
const ShareScaleDecimals = 18

// ShareScale returns a fresh 10^18 big.Int.
func ShareScale() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(ShareScaleDecimals), nil)
}

// ShareScaleString is "1000000000000000000", the floor share price when an
// operator has zero shares (price of exactly 1.0).
func ShareScaleString() string {
	return ShareScale().String()
}

func parseBigInt(s string) (*big.Int, error) {
	// decimal tolerates exponent notation and validates the input; the
	// schema only ever stores integers so reject anything fractional.
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid numeric string '%s'", s)
	}
	if d.Exponent() < 0 && !d.Equal(d.Truncate(0)) {
		return nil, errors.Errorf("expected integer value, got '%s'", s)
	}
	return d.BigInt(), nil
}

// SharePrice computes floor(stake * 10^18 / shares) on decimal-string
// integers. Zero shares yields the 1.0 floor price.
func SharePrice(stake string, shares string) (string, error) {
	stakeInt, err := parseBigInt(stake)
	if err != nil {
		return "", err
	}
	sharesInt, err := parseBigInt(shares)
	if err != nil {
		return "", err
	}
	if sharesInt.Sign() == 0 {
		return ShareScaleString(), nil
	}
	scaled := new(big.Int).Mul(stakeInt, ShareScale())
	return scaled.Quo(scaled, sharesInt).String(), nil
}

// SumDecimalStrings adds decimal-string integers without precision loss.
func SumDecimalStrings(values ...string) (string, error) {
	total := new(big.Int)
	for _, v := range values {
		n, err := parseBigInt(v)
		if err != nil {
			return "", err
		}
		total.Add(total, n)
	}
	return total.String(), nil
}
