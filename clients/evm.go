package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var _ Provider = (*RPCProvider)(nil)

// RPCProvider is a wallet backed by a local private key and a JSON-RPC node.
type RPCProvider struct {
	mu       sync.Mutex
	networks map[uint64]string
	client   *ethclient.Client
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	address  common.Address
	approve  func(TxRequest) bool
	subs     listeners
}

// RPCOption configures an RPCProvider.
type RPCOption func(*RPCProvider)

// WithNetwork registers an RPC endpoint the provider may switch to.
func WithNetwork(chainID uint64, rpcURL string) RPCOption {
	return func(p *RPCProvider) {
		p.networks[chainID] = rpcURL
	}
}

// WithApproval installs the signing prompt. Returning false rejects the transaction.
func WithApproval(fn func(TxRequest) bool) RPCOption {
	return func(p *RPCProvider) {
		p.approve = fn
	}
}

// NewRPCProvider creates a provider signing with privHex against the node at rpcURL.
func NewRPCProvider(ctx context.Context, rpcURL string, privHex string, opts ...RPCOption) (*RPCProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id fetch failed: %w", err)
	}

	p := &RPCProvider{
		networks: map[uint64]string{chainID.Uint64(): rpcURL},
		client:   client,
		chainID:  chainID,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *RPCProvider) eth() *ethclient.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// RequestAccounts returns the key's address. A key wallet has exactly one account.
func (p *RPCProvider) RequestAccounts(context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *RPCProvider) ChainID(context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.chainID), nil
}

func (p *RPCProvider) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return p.eth().BalanceAt(ctx, account, nil)
}

// SwitchChain dials the endpoint registered for chainID.
func (p *RPCProvider) SwitchChain(ctx context.Context, chainID *big.Int) error {
	p.mu.Lock()
	url, ok := p.networks[chainID.Uint64()]
	same := p.chainID.Cmp(chainID) == 0
	p.mu.Unlock()

	if !ok {
		return UnrecognizedChainError(chainID)
	}
	if same {
		return nil
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return &ProviderError{Code: CodeChainDisconnected, Message: err.Error()}
	}
	got, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return &ProviderError{Code: CodeChainDisconnected, Message: err.Error()}
	}
	if got.Cmp(chainID) != 0 {
		client.Close()
		return &ProviderError{
			Code:    CodeChainDisconnected,
			Message: fmt.Sprintf("endpoint %s serves chain %s, not %s", url, got, chainID),
		}
	}

	p.mu.Lock()
	old := p.client
	p.client = client
	p.chainID = got
	fns := p.subs.snapshot()
	p.mu.Unlock()

	old.Close()

	for _, fn := range fns {
		fn(Event{Kind: ChainChanged, ChainID: new(big.Int).Set(got)})
	}
	return nil
}

// SendTransaction signs req with the local key and broadcasts it.
func (p *RPCProvider) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	if req.From != p.address {
		return common.Hash{}, &ProviderError{
			Code:    CodeUnauthorized,
			Message: fmt.Sprintf("account %s is not managed by this wallet", req.From.Hex()),
		}
	}
	if p.approve != nil && !p.approve(req) {
		return common.Hash{}, ErrUserRejected
	}

	client := p.eth()
	chainID, _ := p.ChainID(ctx)

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := client.PendingNonceAt(ctx, p.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce fetch failed: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price fetch failed: %w", err)
	}

	to := req.To
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  p.address,
		To:    &to,
		Value: value,
		Data:  req.Data,
	})
	if err != nil {
		// revert reasons ("execution reverted") and balance errors surface here
		return common.Hash{}, fmt.Errorf("gas estimation failed: %w", err)
	}
	gas = gas * 12 / 10

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     req.Data,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return signed.Hash(), nil
}

// TransactionReceipt returns ethereum.NotFound while the transaction is pending.
func (p *RPCProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	return p.eth().TransactionReceipt(ctx, hash)
}

// CallContract implements ethereum.ContractCaller against the current chain.
func (p *RPCProvider) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return p.eth().CallContract(ctx, msg, block)
}

// FilterLogs queries logs on the current chain.
func (p *RPCProvider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return p.eth().FilterLogs(ctx, q)
}

// Subscribe registers fn for chain change events raised by SwitchChain.
func (p *RPCProvider) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	id := p.subs.add(fn)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		p.subs.remove(id)
		p.mu.Unlock()
	}
}

// Close closes the RPC connection.
func (p *RPCProvider) Close() {
	p.eth().Close()
}
