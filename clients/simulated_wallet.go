package clients

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

var _ Provider = (*SimulatedWallet)(nil)

// SimulatedWallet is a Provider over one or more simulated chains. Tests drive the
// user side (approvals, account and chain changes) through its setters.
type SimulatedWallet struct {
	mu       sync.Mutex
	chains   map[uint64]*SimulatedChain
	current  *SimulatedChain
	accounts []common.Address
	decline  bool
	approve  func(TxRequest) bool
	subs     listeners
}

// NewSimulatedWallet creates a wallet on chain exposing accounts.
func NewSimulatedWallet(chain *SimulatedChain, accounts ...common.Address) *SimulatedWallet {
	return &SimulatedWallet{
		chains:   map[uint64]*SimulatedChain{chain.ChainID().Uint64(): chain},
		current:  chain,
		accounts: append([]common.Address(nil), accounts...),
	}
}

// AddChain makes a chain known so SwitchChain can select it.
func (w *SimulatedWallet) AddChain(chain *SimulatedChain) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chains[chain.ChainID().Uint64()] = chain
}

// Chain returns the selected chain.
func (w *SimulatedWallet) Chain() *SimulatedChain {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// DeclineAccountRequests makes RequestAccounts fail as if the user closed the prompt.
func (w *SimulatedWallet) DeclineAccountRequests(decline bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.decline = decline
}

// SetApproval installs the signing decision. nil approves everything.
func (w *SimulatedWallet) SetApproval(fn func(TxRequest) bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.approve = fn
}

// SetAccounts replaces the exposed accounts and notifies subscribers.
func (w *SimulatedWallet) SetAccounts(accounts ...common.Address) {
	w.mu.Lock()
	w.accounts = append([]common.Address(nil), accounts...)
	fns := w.subs.snapshot()
	w.mu.Unlock()

	ev := Event{Kind: AccountsChanged, Accounts: append([]common.Address(nil), accounts...)}
	for _, fn := range fns {
		fn(ev)
	}
}

// SelectChain switches chains from the wallet UI, outside any dapp request.
func (w *SimulatedWallet) SelectChain(chainID uint64) error {
	return w.SwitchChain(context.Background(), new(big.Int).SetUint64(chainID))
}

// Disconnect notifies subscribers that the wallet went away.
func (w *SimulatedWallet) Disconnect() {
	w.mu.Lock()
	fns := w.subs.snapshot()
	w.mu.Unlock()

	for _, fn := range fns {
		fn(Event{Kind: Disconnected})
	}
}

func (w *SimulatedWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.decline {
		return nil, ErrUserRejected
	}
	return append([]common.Address(nil), w.accounts...), nil
}

func (w *SimulatedWallet) ChainID(context.Context) (*big.Int, error) {
	return w.Chain().ChainID(), nil
}

func (w *SimulatedWallet) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	return w.Chain().BalanceAt(account), nil
}

func (w *SimulatedWallet) SwitchChain(_ context.Context, chainID *big.Int) error {
	w.mu.Lock()
	chain, ok := w.chains[chainID.Uint64()]
	if !ok {
		w.mu.Unlock()
		return UnrecognizedChainError(chainID)
	}
	if chain == w.current {
		w.mu.Unlock()
		return nil
	}
	w.current = chain
	fns := w.subs.snapshot()
	w.mu.Unlock()

	ev := Event{Kind: ChainChanged, ChainID: chain.ChainID()}
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// SendTransaction submits req from one of the wallet accounts after approval.
func (w *SimulatedWallet) SendTransaction(_ context.Context, req TxRequest) (common.Hash, error) {
	w.mu.Lock()
	managed := containsAddress(w.accounts, req.From)
	approve := w.approve
	chain := w.current
	w.mu.Unlock()

	if !managed {
		return common.Hash{}, &ProviderError{
			Code:    CodeUnauthorized,
			Message: fmt.Sprintf("account %s is not authorized", req.From.Hex()),
		}
	}
	if approve != nil && !approve(req) {
		return common.Hash{}, ErrUserRejected
	}
	return chain.Send(req.From, req)
}

func (w *SimulatedWallet) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	return w.Chain().TransactionReceipt(ctx, hash)
}

func (w *SimulatedWallet) Subscribe(fn func(Event)) func() {
	w.mu.Lock()
	id := w.subs.add(fn)
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		w.subs.remove(id)
		w.mu.Unlock()
	}
}

func (w *SimulatedWallet) Close() {}
