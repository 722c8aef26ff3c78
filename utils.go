package wyvernmarket

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	MaxDecimals = 36

	// maxUint256Digits is the number of decimal digits in the largest uint256.
	maxUint256Digits = 78
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PriceToBaseUnits converts a display-unit decimal price to the token's base units.
// Negative, non-numeric or over-precise prices are rejected.
func PriceToBaseUnits(price string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, &InvalidParamError{Message: fmt.Sprintf("decimals must be between 0 and %d, got: %d", MaxDecimals, decimals)}
	}

	price = strings.TrimSpace(price)
	if price == "" {
		return nil, &InvalidParamError{Message: "price is required"}
	}

	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, &InvalidParamError{Message: fmt.Sprintf("price is not a number: %q", price)}
	}
	if d.IsNegative() {
		return nil, &InvalidParamError{Message: fmt.Sprintf("price must not be negative, got: %s", price)}
	}
	if d.IsZero() {
		return new(big.Int), nil
	}
	if err := checkPriceScale(d, price, decimals, decimals); err != nil {
		return nil, err
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, &InvalidParamError{Message: fmt.Sprintf("price %s has more than %d decimal places", price, decimals)}
	}

	result := scaled.BigInt()
	if result.Cmp(maxUint256) > 0 {
		return nil, &InvalidParamError{Message: fmt.Sprintf("price too large for uint256: %s", price)}
	}
	return result, nil
}

// checkPriceScale bounds the magnitude of a non-zero price shifted by between
// minDecimals and maxDecimals places, using only its coefficient length and exponent.
func checkPriceScale(d decimal.Decimal, price string, minDecimals, maxDecimals int) error {
	if d.IsZero() {
		return nil
	}
	digits := int64(len(new(big.Int).Abs(d.Coefficient()).String()))
	magnitude := digits + int64(d.Exponent())
	if magnitude+int64(minDecimals) > maxUint256Digits {
		return &InvalidParamError{Message: fmt.Sprintf("price too large for uint256: %s", price)}
	}
	if magnitude+int64(maxDecimals) <= 0 {
		return &InvalidParamError{Message: fmt.Sprintf("price %s has more than %d decimal places", price, maxDecimals)}
	}
	return nil
}

// FormatBaseUnits renders base units in display units.
func FormatBaseUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).String()
}

// ValidateExpiration checks a Unix expiration timestamp. Zero means never expires.
func ValidateExpiration(expiration int64, now time.Time) error {
	if expiration < 0 {
		return &InvalidParamError{Message: fmt.Sprintf("expiration time must not be negative, got: %d", expiration)}
	}
	if expiration != 0 && expiration <= now.Unix() {
		return &InvalidParamError{Message: fmt.Sprintf("expiration time %d is not in the future", expiration)}
	}
	return nil
}

func isHexAddress(addr string) bool {
	return common.IsHexAddress(addr)
}
