package clients

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/vitwit/paygate/ledger"
)

const (
	SimulatedTransferGas uint64 = 21000
	SimulatedCallGas     uint64 = 60000
)

// ErrInsufficientFundsForGas matches the node error for an unaffordable transaction.
var ErrInsufficientFundsForGas = errors.New("insufficient funds for gas * price + value")

type simTx struct {
	hash  common.Hash
	from  common.Address
	req   TxRequest
	nonce uint64
}

// SimulatedChain is an in-memory chain executing PaymentLedger contracts.
// With auto-mining off, transactions stay pending until Commit.
type SimulatedChain struct {
	mu        sync.Mutex
	chainID   *big.Int
	gasPrice  *uint256.Int
	balances  map[common.Address]*uint256.Int
	nonces    map[common.Address]uint64
	contracts map[common.Address]*ledger.Ledger
	pending   []simTx
	receipts  map[common.Hash]*ethtypes.Receipt
	reverts   map[common.Hash]error
	logs      []ethtypes.Log
	block     uint64
	autoMine  bool
	now       func() time.Time
}

// NewSimulatedChain creates an empty chain that mines every transaction immediately.
func NewSimulatedChain(chainID uint64) *SimulatedChain {
	return &SimulatedChain{
		chainID:   new(big.Int).SetUint64(chainID),
		gasPrice:  uint256.NewInt(1_000_000_000),
		balances:  make(map[common.Address]*uint256.Int),
		nonces:    make(map[common.Address]uint64),
		contracts: make(map[common.Address]*ledger.Ledger),
		receipts:  make(map[common.Hash]*ethtypes.Receipt),
		reverts:   make(map[common.Hash]error),
		autoMine:  true,
		now:       time.Now,
	}
}

func (c *SimulatedChain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// SetAutoMine toggles immediate mining. When off, transactions wait for Commit.
func (c *SimulatedChain) SetAutoMine(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoMine = on
}

// SetClock sets the source of block timestamps.
func (c *SimulatedChain) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// GasCost is the fee charged for a transaction of the given kind.
func (c *SimulatedChain) GasCost(contractCall bool) *big.Int {
	gas := SimulatedTransferGas
	if contractCall {
		gas = SimulatedCallGas
	}
	return new(uint256.Int).Mul(c.gasPrice, uint256.NewInt(gas)).ToBig()
}

// Fund credits wei to an account.
func (c *SimulatedChain) Fund(account common.Address, wei *big.Int) {
	amount, _ := uint256.FromBig(wei)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceLocked(account).Add(c.balanceLocked(account), amount)
}

// Deploy creates a ledger owned by deployer and returns its address.
func (c *SimulatedChain) Deploy(deployer common.Address, fee *big.Int) (common.Address, *ledger.Ledger) {
	f, _ := uint256.FromBig(fee)

	c.mu.Lock()
	defer c.mu.Unlock()

	addr := crypto.CreateAddress(deployer, c.nonces[deployer])
	c.nonces[deployer]++
	l := ledger.New(deployer, f)
	c.contracts[addr] = l
	return addr, l
}

// BalanceAt returns the account balance in wei.
func (c *SimulatedChain) BalanceAt(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.contracts[account]; ok {
		return l.Balance().ToBig()
	}
	return c.balanceLocked(account).ToBig()
}

func (c *SimulatedChain) balanceLocked(account common.Address) *uint256.Int {
	b, ok := c.balances[account]
	if !ok {
		b = new(uint256.Int)
		c.balances[account] = b
	}
	return b
}

func (c *SimulatedChain) gasFor(to common.Address) uint64 {
	if _, ok := c.contracts[to]; ok {
		return SimulatedCallGas
	}
	return SimulatedTransferGas
}

// Send queues a transaction from an unlocked account.
func (c *SimulatedChain) Send(from common.Address, req TxRequest) (common.Hash, error) {
	value, overflow := uint256.FromBig(valueOrZero(req.Value))
	if overflow {
		return common.Hash{}, fmt.Errorf("value overflows uint256")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cost := new(uint256.Int).Mul(c.gasPrice, uint256.NewInt(c.gasFor(req.To)))
	cost.Add(cost, value)
	if c.balanceLocked(from).Lt(cost) {
		return common.Hash{}, ErrInsufficientFundsForGas
	}

	nonce := c.nonces[from]
	c.nonces[from]++

	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	hash := crypto.Keccak256Hash(from.Bytes(), nb[:], req.To.Bytes(), value.Bytes(), req.Data)

	c.pending = append(c.pending, simTx{hash: hash, from: from, req: req, nonce: nonce})
	if c.autoMine {
		c.mineLocked()
	}
	return hash, nil
}

// Commit mines all pending transactions into one block.
func (c *SimulatedChain) Commit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mineLocked()
}

// PendingCount is the number of transactions awaiting Commit.
func (c *SimulatedChain) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *SimulatedChain) mineLocked() {
	if len(c.pending) == 0 {
		return
	}

	c.block++
	var bn [8]byte
	binary.BigEndian.PutUint64(bn[:], c.block)
	blockHash := crypto.Keccak256Hash(c.chainID.Bytes(), bn[:])
	ts := uint64(c.now().Unix())

	for i, tx := range c.pending {
		receipt := c.executeLocked(tx, ts)
		receipt.BlockNumber = new(big.Int).SetUint64(c.block)
		receipt.BlockHash = blockHash
		receipt.TransactionIndex = uint(i)
		for _, l := range receipt.Logs {
			l.BlockNumber = c.block
			l.BlockHash = blockHash
			l.TxIndex = uint(i)
			l.Index = uint(len(c.logs))
			c.logs = append(c.logs, *l)
		}
		c.receipts[tx.hash] = receipt
	}
	c.pending = nil
}

func (c *SimulatedChain) executeLocked(tx simTx, ts uint64) *ethtypes.Receipt {
	gas := c.gasFor(tx.req.To)
	receipt := &ethtypes.Receipt{
		Type:              ethtypes.LegacyTxType,
		Status:            ethtypes.ReceiptStatusFailed,
		TxHash:            tx.hash,
		GasUsed:           gas,
		CumulativeGasUsed: gas,
		EffectiveGasPrice: c.gasPrice.ToBig(),
		Logs:              []*ethtypes.Log{},
	}

	from := c.balanceLocked(tx.from)
	gasCost := new(uint256.Int).Mul(c.gasPrice, uint256.NewInt(gas))
	if from.Lt(gasCost) {
		from.Clear()
		c.reverts[tx.hash] = ErrInsufficientFundsForGas
		return receipt
	}
	from.Sub(from, gasCost)

	value, _ := uint256.FromBig(valueOrZero(tx.req.Value))
	if from.Lt(value) {
		c.reverts[tx.hash] = ErrInsufficientFundsForGas
		return receipt
	}

	l, isContract := c.contracts[tx.req.To]
	if !isContract {
		from.Sub(from, value)
		to := c.balanceLocked(tx.req.To)
		to.Add(to, value)
		receipt.Status = ethtypes.ReceiptStatusSuccessful
		return receipt
	}

	res, err := l.Execute(ledger.Message{Sender: tx.from, Value: value, Time: ts}, tx.req.Data)
	if err != nil {
		c.reverts[tx.hash] = err
		return receipt
	}

	// value moves into the contract only on success
	from.Sub(from, value)
	if res.Payout != nil {
		from.Add(from, res.Payout)
	}
	if res.Event != nil {
		log, err := ledger.EncodePaidLog(tx.req.To, *res.Event)
		if err != nil {
			c.reverts[tx.hash] = err
			from.Add(from, value)
			return receipt
		}
		log.TxHash = tx.hash
		receipt.Logs = append(receipt.Logs, log)
	}
	receipt.Status = ethtypes.ReceiptStatusSuccessful
	return receipt
}

// TransactionReceipt returns ethereum.NotFound for pending or unknown transactions.
func (c *SimulatedChain) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return copyReceipt(r), nil
}

func copyReceipt(r *ethtypes.Receipt) *ethtypes.Receipt {
	out := *r
	if r.BlockNumber != nil {
		out.BlockNumber = new(big.Int).Set(r.BlockNumber)
	}
	if r.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = new(big.Int).Set(r.EffectiveGasPrice)
	}
	out.Logs = make([]*ethtypes.Log, len(r.Logs))
	for i, l := range r.Logs {
		cp := *l
		cp.Topics = append([]common.Hash(nil), l.Topics...)
		cp.Data = append([]byte(nil), l.Data...)
		out.Logs[i] = &cp
	}
	return &out
}

// RevertReason is the contract error that made a transaction fail, if any.
func (c *SimulatedChain) RevertReason(hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reverts[hash]
}

// CallContract executes a view method. State-changing calls are refused.
func (c *SimulatedChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil {
		return nil, errors.New("contract creation calls are not supported")
	}

	c.mu.Lock()
	l, ok := c.contracts[*msg.To]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	if len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	parsed := ledger.ABI()
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, errors.New("execution reverted")
	}
	if !method.IsConstant() {
		return nil, fmt.Errorf("simulated call to non-view method %s", method.Name)
	}

	res, err := l.Execute(ledger.Message{Sender: msg.From}, msg.Data)
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}
	return res.Return, nil
}

// FilterLogs matches addresses, positional topics and block range.
func (c *SimulatedChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ethtypes.Log
	for _, l := range c.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if !matchTopics(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alts := range filter {
		if len(alts) == 0 {
			continue
		}
		found := false
		for _, t := range alts {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
