// Package ledger models the PayForUpload contract: a fixed upload fee, a Paid event per
// payment and owner-only withdrawal of the collected balance.
package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/paygate/types"
)

var (
	ErrInsufficientPayment = types.NewError(types.ErrInsufficientPayment, "insufficient payment", nil)
	ErrUnauthorized        = types.NewError(types.ErrUnauthorized, "only owner", nil)
	ErrNonPayable          = types.NewError(types.ErrTransactionReverted, "function is not payable", nil)
	ErrUnknownMethod       = types.NewError(types.ErrTransactionReverted, "unknown method selector", nil)
	ErrBalanceOverflow     = types.NewError(types.ErrTransactionReverted, "balance overflow", nil)
)

// Message is the call context: msg.sender, msg.value and block.timestamp.
type Message struct {
	Sender common.Address
	Value  *uint256.Int
	Time   uint64
}

func (m Message) value() *uint256.Int {
	if m.Value == nil {
		return new(uint256.Int)
	}
	return m.Value
}

// Ledger holds the contract state. Owner and fee are fixed at construction.
type Ledger struct {
	mu      sync.Mutex
	owner   common.Address
	fee     *uint256.Int
	balance *uint256.Int
	events  []PaidEvent
}

// New deploys a ledger owned by deployer.
func New(deployer common.Address, fee *uint256.Int) *Ledger {
	if fee == nil {
		fee = new(uint256.Int)
	}
	return &Ledger{
		owner:   deployer,
		fee:     new(uint256.Int).Set(fee),
		balance: new(uint256.Int),
	}
}

func (l *Ledger) Owner() common.Address {
	return l.owner
}

func (l *Ledger) UploadFee() *uint256.Int {
	return new(uint256.Int).Set(l.fee)
}

// Balance is the value held by the contract.
func (l *Ledger) Balance() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.balance)
}

// Events returns a copy of the event log.
func (l *Ledger) Events() []PaidEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PaidEvent, len(l.events))
	copy(out, l.events)
	return out
}

// PayForUpload accepts msg.Value >= fee and emits one Paid event. Overpayment is kept.
func (l *Ledger) PayForUpload(msg Message, id types.CorrelationID) (*PaidEvent, error) {
	value := msg.value()

	l.mu.Lock()
	defer l.mu.Unlock()

	if value.Lt(l.fee) {
		return nil, ErrInsufficientPayment
	}

	next, overflow := new(uint256.Int).AddOverflow(l.balance, value)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	l.balance = next

	ev := PaidEvent{
		Payer:         msg.Sender,
		Amount:        value.ToBig(),
		CorrelationID: id,
		Timestamp:     msg.Time,
	}
	l.events = append(l.events, ev)

	return &ev, nil
}

// Withdraw empties the contract and returns the amount owed to the owner.
func (l *Ledger) Withdraw(msg Message) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.Sender != l.owner {
		return nil, ErrUnauthorized
	}
	if !msg.value().IsZero() {
		return nil, ErrNonPayable
	}

	amount := l.balance
	l.balance = new(uint256.Int)
	return amount, nil
}

func (l *Ledger) String() string {
	return fmt.Sprintf("ledger(owner=%s fee=%s)", l.owner.Hex(), l.fee.Dec())
}
