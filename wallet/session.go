// Package wallet tracks the connected account, its chain and its balance.
//
// A Session is either disconnected (no state) or connected (address, chain id and
// balance all present). Any account or chain change reported by the provider
// resets the session and synchronously notifies OnReset listeners so that
// payment and upload state bound to the previous account is torn down.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/types"
)

// ResetReason says why a session was reset.
type ResetReason string

const (
	ResetAccountsChanged ResetReason = "accounts_changed"
	ResetChainChanged    ResetReason = "chain_changed"
	ResetDisconnected    ResetReason = "disconnected"
	ResetReconnected     ResetReason = "reconnected"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for connection and reset events.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		s.log = logger.OrNoop(l)
	}
}

// Session is the connection to one wallet provider.
type Session struct {
	mu       sync.Mutex
	provider clients.Provider
	log      logger.Logger

	state *types.WalletState

	nextID    int
	listeners map[int]func(ResetReason)

	// chain id requested by an in-flight SwitchNetwork; its own ChainChanged
	// notification is not an external change
	switching *big.Int

	unsubscribe func()
}

// NewSession binds a session to provider. A nil provider yields a session whose
// Connect always fails with WalletUnavailable.
func NewSession(provider clients.Provider, opts ...Option) *Session {
	s := &Session{
		provider:  provider,
		log:       logger.NoopLogger{},
		listeners: make(map[int]func(ResetReason)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if provider != nil {
		s.unsubscribe = provider.Subscribe(s.handleEvent)
	}
	return s
}

// State returns a copy of the connected state. ok is false when disconnected.
func (s *Session) State() (types.WalletState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return types.WalletState{}, false
	}
	return copyState(s.state), true
}

// OnReset registers fn to run synchronously whenever the session is reset.
func (s *Session) OnReset(fn func(ResetReason)) (remove func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Connect requests account access and loads chain id and balance.
func (s *Session) Connect(ctx context.Context) (types.WalletState, error) {
	if s.provider == nil {
		return types.WalletState{}, types.NewError(types.ErrWalletUnavailable, "no wallet provider available", nil)
	}

	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		if clients.ProviderCode(err) == clients.CodeUserRejected {
			return types.WalletState{}, types.NewError(types.ErrNoAccountSelected, "account request declined", err)
		}
		return types.WalletState{}, fmt.Errorf("account request failed: %w", err)
	}
	if len(accounts) == 0 {
		return types.WalletState{}, types.NewError(types.ErrNoAccountSelected, "no account selected", clients.ErrNoAccounts)
	}

	st, err := s.load(ctx, accounts[0])
	if err != nil {
		return types.WalletState{}, err
	}

	s.mu.Lock()
	prev := s.state
	s.state = &st
	s.mu.Unlock()

	// a fresh connect invalidates anything pending from an earlier connection
	if prev != nil {
		s.notify(ResetReconnected)
	}

	s.log.Info("wallet connected", map[string]any{
		"address": st.Address.Hex(),
		"chainId": st.ChainID.String(),
	})
	return copyState(&st), nil
}

// SwitchNetwork asks the provider to move to target and re-reads chain id and balance.
func (s *Session) SwitchNetwork(ctx context.Context, target *big.Int) (types.WalletState, error) {
	if s.provider == nil {
		return types.WalletState{}, types.NewError(types.ErrWalletUnavailable, "no wallet provider available", nil)
	}

	s.mu.Lock()
	s.switching = new(big.Int).Set(target)
	s.mu.Unlock()

	err := s.provider.SwitchChain(ctx, target)

	s.mu.Lock()
	s.switching = nil
	cur := s.state
	s.mu.Unlock()

	if err != nil {
		if clients.ProviderCode(err) == clients.CodeUnrecognizedChain {
			return types.WalletState{}, types.NewError(types.ErrNetworkSwitchUnsupported,
				fmt.Sprintf("wallet does not know chain %s", target), err)
		}
		if clients.ProviderCode(err) == clients.CodeUserRejected {
			return types.WalletState{}, types.NewError(types.ErrTransactionRejected, "network switch rejected", err)
		}
		return types.WalletState{}, fmt.Errorf("network switch failed: %w", err)
	}

	if cur == nil {
		// switched before connecting; Connect will read the new chain
		return types.WalletState{}, nil
	}
	return s.reload(ctx, cur)
}

// RefreshNetwork re-reads chain id and balance for the connected account.
func (s *Session) RefreshNetwork(ctx context.Context) (types.WalletState, error) {
	s.mu.Lock()
	cur := s.state
	s.mu.Unlock()

	if cur == nil {
		return types.WalletState{}, types.NewError(types.ErrWalletNotConnected, "wallet not connected", nil)
	}
	return s.reload(ctx, cur)
}

func (s *Session) reload(ctx context.Context, cur *types.WalletState) (types.WalletState, error) {
	st, err := s.load(ctx, cur.Address)
	if err != nil {
		return types.WalletState{}, err
	}

	s.mu.Lock()
	if s.state != cur {
		// reset or reconnected while we were reading
		s.mu.Unlock()
		return types.WalletState{}, types.NewError(types.ErrSessionReset, "wallet session changed", nil)
	}
	changed := cur.ChainID.Cmp(st.ChainID) != 0
	s.state = &st
	s.mu.Unlock()

	if changed {
		s.log.Info("wallet network changed", map[string]any{
			"from": cur.ChainID.String(),
			"to":   st.ChainID.String(),
		})
		s.notify(ResetChainChanged)
	}
	return copyState(&st), nil
}

func (s *Session) load(ctx context.Context, addr common.Address) (types.WalletState, error) {
	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return types.WalletState{}, fmt.Errorf("chain id request failed: %w", err)
	}
	balance, err := s.provider.BalanceAt(ctx, addr)
	if err != nil {
		return types.WalletState{}, fmt.Errorf("balance request failed: %w", err)
	}
	return types.WalletState{Address: addr, ChainID: chainID, Balance: balance}, nil
}

// Disconnect clears the session and notifies listeners.
func (s *Session) Disconnect() {
	s.reset(ResetDisconnected)
}

// Close unsubscribes from provider notifications.
func (s *Session) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Session) handleEvent(ev clients.Event) {
	switch ev.Kind {
	case clients.AccountsChanged:
		s.reset(ResetAccountsChanged)
	case clients.ChainChanged:
		s.mu.Lock()
		own := s.switching != nil && ev.ChainID != nil && s.switching.Cmp(ev.ChainID) == 0
		s.mu.Unlock()
		if own {
			return
		}
		s.reset(ResetChainChanged)
	case clients.Disconnected:
		s.reset(ResetDisconnected)
	}
}

func (s *Session) reset(reason ResetReason) {
	s.mu.Lock()
	was := s.state != nil
	s.state = nil
	s.mu.Unlock()

	s.log.Info("wallet session reset", map[string]any{
		"reason":    string(reason),
		"connected": was,
	})
	s.notify(reason)
}

func (s *Session) notify(reason ResetReason) {
	s.mu.Lock()
	fns := make([]func(ResetReason), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(reason)
	}
}

func copyState(st *types.WalletState) types.WalletState {
	out := types.WalletState{Address: st.Address}
	if st.ChainID != nil {
		out.ChainID = new(big.Int).Set(st.ChainID)
	}
	if st.Balance != nil {
		out.Balance = new(big.Int).Set(st.Balance)
	}
	return out
}

// IsResetError reports whether err came from a session reset racing an operation.
func IsResetError(err error) bool {
	return errors.Is(err, types.ErrorSessionReset)
}
