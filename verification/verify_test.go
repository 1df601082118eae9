package verification

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/types"
)

var (
	deployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	payer    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	fee      = big.NewInt(1e15)
)

type countingFetcher struct {
	inner LogFetcher
	calls int
	err   error
}

func (c *countingFetcher) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.FilterLogs(ctx, q)
}

func pay(t *testing.T, chain *clients.SimulatedChain, contract common.Address, value *big.Int) types.CorrelationID {
	t.Helper()
	id, err := types.NewCorrelationID()
	require.NoError(t, err)
	data, err := ledger.PackPayForUpload(id)
	require.NoError(t, err)
	_, err = chain.Send(payer, clients.TxRequest{From: payer, To: contract, Value: value, Data: data})
	require.NoError(t, err)
	return id
}

func setup(t *testing.T) (*clients.SimulatedChain, common.Address) {
	chain := clients.NewSimulatedChain(31)
	chain.Fund(payer, big.NewInt(1e18))
	contract, _ := chain.Deploy(deployer, fee)
	return chain, contract
}

func TestVerify_PaidID(t *testing.T) {
	chain, contract := setup(t)
	id := pay(t, chain, contract, fee)
	pay(t, chain, contract, fee)

	fetcher := &countingFetcher{inner: chain}
	svc, err := NewVerificationService(fetcher, contract, fee)
	require.NoError(t, err)

	rec, err := svc.Verify(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.CorrelationID)
	assert.Equal(t, payer, rec.Payer)

	// cached
	_, err = svc.Verify(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
}

func TestVerify_Unpaid(t *testing.T) {
	chain, contract := setup(t)
	pay(t, chain, contract, fee)

	fetcher := &countingFetcher{inner: chain}
	svc, err := NewVerificationService(fetcher, contract, fee)
	require.NoError(t, err)

	unknown := types.CorrelationID{9}
	_, err = svc.Verify(context.Background(), unknown)
	require.ErrorIs(t, err, types.ErrorPaymentRequired)

	// misses are not cached
	_, err = svc.Verify(context.Background(), unknown)
	require.ErrorIs(t, err, types.ErrorPaymentRequired)
	assert.Equal(t, 2, fetcher.calls)
}

func TestVerify_RevertedPaymentIsNotProof(t *testing.T) {
	chain, contract := setup(t)
	id := pay(t, chain, contract, big.NewInt(5e14))

	svc, err := NewVerificationService(chain, contract, fee)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), id)
	require.ErrorIs(t, err, types.ErrorPaymentRequired)
}

func TestVerify_OtherContractIgnored(t *testing.T) {
	chain, contract := setup(t)
	other, _ := chain.Deploy(deployer, fee)
	id := pay(t, chain, other, fee)

	svc, err := NewVerificationService(chain, contract, fee)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), id)
	require.ErrorIs(t, err, types.ErrorPaymentRequired)
}

func TestVerify_BelowRelayMinimum(t *testing.T) {
	chain, contract := setup(t)
	id := pay(t, chain, contract, fee)

	svc, err := NewVerificationService(chain, contract, big.NewInt(2e15))
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), id)
	require.ErrorIs(t, err, types.ErrorPaymentRequired)
}

func TestVerify_FetchError(t *testing.T) {
	_, contract := setup(t)
	svc, err := NewVerificationService(&countingFetcher{err: errors.New("rpc down")}, contract, fee, WithCacheSize(0))
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), types.CorrelationID{1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrorPaymentRequired)
	assert.Contains(t, err.Error(), "rpc down")
}

func TestNewVerificationService_Invalid(t *testing.T) {
	_, err := NewVerificationService(nil, common.Address{}, fee)
	require.ErrorIs(t, err, types.ErrorConfigurationError)

	chain, contract := setup(t)
	_, err = NewVerificationService(chain, contract, nil)
	require.ErrorIs(t, err, types.ErrorConfigurationError)
}
