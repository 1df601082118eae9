package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmountWithDecimals(t *testing.T) {
	wei, err := ParseAmountWithDecimals("0.001", 18)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", wei.String())

	wei, err = ParseAmountWithDecimals("0.0005", 18)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000", wei.String())

	_, err = ParseAmountWithDecimals("0.0000001", 6)
	require.Error(t, err)

	_, err = ParseAmountWithDecimals("-1", 18)
	require.Error(t, err)

	_, err = ParseAmountWithDecimals("abc", 18)
	require.Error(t, err)
}

func TestFormatAmountFromBigInt(t *testing.T) {
	assert.Equal(t, "0.001", FormatAmountFromBigInt(big.NewInt(1e15), 18))
	assert.Equal(t, "1.5", FormatAmountFromBigInt(big.NewInt(1500000), 6))
	assert.Equal(t, "0", FormatAmountFromBigInt(nil, 18))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatFileSize(0))
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
	assert.Equal(t, "2 MB", FormatFileSize(2*1024*1024))
}

func TestValidateAddress(t *testing.T) {
	addr, err := ValidateAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	require.NoError(t, err)
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", addr.Hex())

	_, err = ValidateAddress("70997970C51812dc3A010C7d01b50e0d17dc79C8")
	require.Error(t, err)
	_, err = ValidateAddress("0x1234")
	require.Error(t, err)
}

func TestValidateTransactionHash(t *testing.T) {
	_, err := ValidateTransactionHash("0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)

	_, err = ValidateTransactionHash("0xzz00000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
	_, err = ValidateTransactionHash("")
	require.Error(t, err)
}
