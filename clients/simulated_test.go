package clients

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/types"
)

var (
	deployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	payer    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	stranger = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func ether(milli int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(milli), big.NewInt(1e15))
}

func deployLedger(t *testing.T) (*SimulatedChain, common.Address) {
	t.Helper()
	chain := NewSimulatedChain(31)
	chain.Fund(deployer, ether(1000))
	chain.Fund(payer, ether(1000))
	addr, _ := chain.Deploy(deployer, ether(1))
	return chain, addr
}

func payCall(t *testing.T, id types.CorrelationID) []byte {
	t.Helper()
	data, err := ledger.PackPayForUpload(id)
	require.NoError(t, err)
	return data
}

func TestSimulatedChain_PayForUpload(t *testing.T) {
	chain, contract := deployLedger(t)
	id, err := types.NewCorrelationID()
	require.NoError(t, err)

	hash, err := chain.Send(payer, TxRequest{From: payer, To: contract, Value: ether(1), Data: payCall(t, id)})
	require.NoError(t, err)

	receipt, err := chain.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)
	require.Len(t, receipt.Logs, 1)

	rec, err := ledger.DecodePaidLog(*receipt.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, payer, rec.Payer)
	assert.Zero(t, ether(1).Cmp(rec.Amount))
	assert.Equal(t, id, rec.CorrelationID)
	assert.Equal(t, hash, rec.TxHash)

	assert.Zero(t, ether(1).Cmp(chain.BalanceAt(contract)))

	spent := new(big.Int).Add(ether(1), chain.GasCost(true))
	assert.Zero(t, new(big.Int).Sub(ether(1000), spent).Cmp(chain.BalanceAt(payer)))
}

func TestSimulatedChain_Underpayment(t *testing.T) {
	chain, contract := deployLedger(t)
	id, _ := types.NewCorrelationID()

	hash, err := chain.Send(payer, TxRequest{From: payer, To: contract, Value: big.NewInt(5e14), Data: payCall(t, id)})
	require.NoError(t, err)

	receipt, err := chain.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, ethtypes.ReceiptStatusFailed, receipt.Status)
	assert.Empty(t, receipt.Logs)
	assert.ErrorIs(t, chain.RevertReason(hash), ledger.ErrInsufficientPayment)

	// only gas is charged on revert
	assert.Zero(t, new(big.Int).Sub(ether(1000), chain.GasCost(true)).Cmp(chain.BalanceAt(payer)))
	assert.Zero(t, chain.BalanceAt(contract).Sign())
}

func TestSimulatedChain_InsufficientFunds(t *testing.T) {
	chain, contract := deployLedger(t)
	id, _ := types.NewCorrelationID()

	_, err := chain.Send(stranger, TxRequest{From: stranger, To: contract, Value: ether(1), Data: payCall(t, id)})
	require.ErrorIs(t, err, ErrInsufficientFundsForGas)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestSimulatedChain_PendingUntilCommit(t *testing.T) {
	chain, contract := deployLedger(t)
	chain.SetAutoMine(false)
	id, _ := types.NewCorrelationID()

	hash, err := chain.Send(payer, TxRequest{From: payer, To: contract, Value: ether(1), Data: payCall(t, id)})
	require.NoError(t, err)
	assert.Equal(t, 1, chain.PendingCount())

	_, err = chain.TransactionReceipt(context.Background(), hash)
	require.ErrorIs(t, err, ethereum.NotFound)

	chain.Commit()
	assert.Equal(t, 0, chain.PendingCount())

	receipt, err := chain.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.BlockNumber.Uint64())
}

func TestSimulatedChain_Withdraw(t *testing.T) {
	chain, contract := deployLedger(t)
	for i := 0; i < 3; i++ {
		id, _ := types.NewCorrelationID()
		_, err := chain.Send(payer, TxRequest{From: payer, To: contract, Value: ether(1), Data: payCall(t, id)})
		require.NoError(t, err)
	}
	require.Zero(t, ether(3).Cmp(chain.BalanceAt(contract)))

	data, err := ledger.PackWithdraw()
	require.NoError(t, err)

	// non-owner
	before := chain.BalanceAt(payer)
	hash, err := chain.Send(payer, TxRequest{From: payer, To: contract, Data: data})
	require.NoError(t, err)
	receipt, _ := chain.TransactionReceipt(context.Background(), hash)
	assert.Equal(t, ethtypes.ReceiptStatusFailed, receipt.Status)
	assert.ErrorIs(t, chain.RevertReason(hash), ledger.ErrUnauthorized)
	assert.Zero(t, ether(3).Cmp(chain.BalanceAt(contract)))
	assert.Zero(t, new(big.Int).Sub(before, chain.GasCost(true)).Cmp(chain.BalanceAt(payer)))

	// owner
	before = chain.BalanceAt(deployer)
	hash, err = chain.Send(deployer, TxRequest{From: deployer, To: contract, Data: data})
	require.NoError(t, err)
	receipt, _ = chain.TransactionReceipt(context.Background(), hash)
	assert.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)
	assert.Zero(t, chain.BalanceAt(contract).Sign())

	want := new(big.Int).Add(before, ether(3))
	want.Sub(want, chain.GasCost(true))
	assert.Zero(t, want.Cmp(chain.BalanceAt(deployer)))
}

func TestSimulatedChain_FilterLogs(t *testing.T) {
	chain, contract := deployLedger(t)
	ids := make([]types.CorrelationID, 3)
	for i := range ids {
		ids[i], _ = types.NewCorrelationID()
		_, err := chain.Send(payer, TxRequest{From: payer, To: contract, Value: ether(int64(i + 1)), Data: payCall(t, ids[i])})
		require.NoError(t, err)
	}

	logs, err := chain.FilterLogs(context.Background(), ethereum.FilterQuery{
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{ledger.PaidTopic}, {common.Hash(ids[1])}},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	rec, err := ledger.DecodePaidLog(logs[0])
	require.NoError(t, err)
	assert.Equal(t, ids[1], rec.CorrelationID)
	assert.Zero(t, ether(2).Cmp(rec.Amount))

	all, err := chain.FilterLogs(context.Background(), ethereum.FilterQuery{Addresses: []common.Address{contract}})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	later, err := chain.FilterLogs(context.Background(), ethereum.FilterQuery{FromBlock: big.NewInt(3)})
	require.NoError(t, err)
	assert.Len(t, later, 1)

	none, err := chain.FilterLogs(context.Background(), ethereum.FilterQuery{Addresses: []common.Address{stranger}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedgerClient_Views(t *testing.T) {
	chain, contract := deployLedger(t)
	wallet := NewSimulatedWallet(chain, deployer)
	lc := NewLedgerClient(contract, chain, wallet)

	owner, err := lc.Owner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deployer, owner)

	fee, err := lc.UploadFee(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ether(1).Cmp(fee))

	missing := NewLedgerClient(stranger, chain, wallet)
	_, err = missing.UploadFee(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no contract code")
}

func TestLedgerClient_Withdraw(t *testing.T) {
	chain, contract := deployLedger(t)
	id, _ := types.NewCorrelationID()
	_, err := chain.Send(payer, TxRequest{From: payer, To: contract, Value: ether(2), Data: payCall(t, id)})
	require.NoError(t, err)

	lc := NewLedgerClient(contract, chain, NewSimulatedWallet(chain, deployer))
	hash, err := lc.Withdraw(context.Background(), deployer)
	require.NoError(t, err)

	receipt, err := chain.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)
	assert.Zero(t, chain.BalanceAt(contract).Sign())
}

func TestSimulatedChain_ReceiptIsCopy(t *testing.T) {
	chain, contract := deployLedger(t)
	id, err := types.NewCorrelationID()
	require.NoError(t, err)

	hash, err := chain.Send(payer, TxRequest{From: payer, To: contract, Value: ether(1), Data: payCall(t, id)})
	require.NoError(t, err)

	first, err := chain.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	first.Status = ethtypes.ReceiptStatusFailed
	first.BlockNumber.SetUint64(999)
	first.Logs[0].Topics[1] = common.Hash{}
	first.Logs = nil

	again, err := chain.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, ethtypes.ReceiptStatusSuccessful, again.Status)
	assert.Equal(t, uint64(1), again.BlockNumber.Uint64())
	require.Len(t, again.Logs, 1)

	rec, err := ledger.DecodePaidLog(*again.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, id, rec.CorrelationID)
}
