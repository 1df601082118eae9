package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// EventKind enumerates wallet notifications.
type EventKind int

const (
	AccountsChanged EventKind = iota
	ChainChanged
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case AccountsChanged:
		return "accountsChanged"
	case ChainChanged:
		return "chainChanged"
	case Disconnected:
		return "disconnect"
	}
	return "unknown"
}

// Event is an inbound wallet notification.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  *big.Int
}

// TxRequest is a transaction the wallet is asked to sign and submit.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Provider is the wallet capability injected into a session.
//
// TransactionReceipt returns ethereum.NotFound while the transaction is pending.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	Subscribe(fn func(Event)) (unsubscribe func())
	Close()
}

// listeners is the subscription list shared by provider implementations.
type listeners struct {
	next int
	fns  map[int]func(Event)
}

func (l *listeners) add(fn func(Event)) int {
	if l.fns == nil {
		l.fns = make(map[int]func(Event))
	}
	l.next++
	l.fns[l.next] = fn
	return l.next
}

func (l *listeners) remove(id int) {
	delete(l.fns, id)
}

func (l *listeners) snapshot() []func(Event) {
	out := make([]func(Event), 0, len(l.fns))
	for _, fn := range l.fns {
		out = append(out, fn)
	}
	return out
}
