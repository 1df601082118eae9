package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ParseAmountWithDecimals parses a decimal amount string and converts to big.Int with specified decimals.
// Amounts finer than the smallest unit are rejected rather than truncated.
func ParseAmountWithDecimals(amount string, decimals int32) (*big.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}

	result := dec.Shift(decimals)
	if !result.Equal(result.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}

	return result.BigInt(), nil
}

// FormatAmountFromBigInt formats a big.Int amount to decimal string with specified decimals
func FormatAmountFromBigInt(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ValidateAddress checks for a 0x-prefixed 20-byte hex address.
func ValidateAddress(address string) (common.Address, error) {
	if address == "" {
		return common.Address{}, fmt.Errorf("address cannot be empty")
	}
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("invalid address: %s", address)
	}
	return common.HexToAddress(address), nil
}

// ValidateTransactionHash checks for a 0x-prefixed 32-byte hex hash.
func ValidateTransactionHash(hash string) (common.Hash, error) {
	if hash == "" {
		return common.Hash{}, fmt.Errorf("transaction hash cannot be empty")
	}
	if !strings.HasPrefix(hash, "0x") {
		return common.Hash{}, fmt.Errorf("transaction hash must start with 0x")
	}
	if len(hash) != 66 {
		return common.Hash{}, fmt.Errorf("transaction hash must be 66 characters long")
	}
	b, err := hexutil.Decode(hash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transaction hash must be valid hex")
	}
	return common.BytesToHash(b), nil
}

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatFileSize renders a byte count the way the upload form shows it, e.g. "1.5 MB".
func FormatFileSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}

	d := decimal.NewFromInt(n)
	k := decimal.NewFromInt(1024)
	i := 0
	for d.GreaterThanOrEqual(k) && i < len(sizeUnits)-1 {
		d = d.Div(k)
		i++
	}
	return d.Round(2).String() + " " + sizeUnits[i]
}
