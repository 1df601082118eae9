package clients

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/paygate/ledger"
)

// LedgerClient reads the deployed payment ledger and sends owner transactions.
type LedgerClient struct {
	address  common.Address
	caller   ethereum.ContractCaller
	provider Provider
}

// NewLedgerClient creates a client for the ledger at address. provider may be nil
// when only view calls are needed.
func NewLedgerClient(address common.Address, caller ethereum.ContractCaller, provider Provider) *LedgerClient {
	return &LedgerClient{
		address:  address,
		caller:   caller,
		provider: provider,
	}
}

func (c *LedgerClient) Address() common.Address {
	return c.address
}

func (c *LedgerClient) call(ctx context.Context, data []byte) ([]byte, error) {
	to := c.address
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no contract code at %s", c.address.Hex())
	}
	return out, nil
}

// Owner calls owner().
func (c *LedgerClient) Owner(ctx context.Context) (common.Address, error) {
	data, err := ledger.PackOwner()
	if err != nil {
		return common.Address{}, err
	}
	out, err := c.call(ctx, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("owner() call failed: %w", err)
	}
	return ledger.UnpackOwner(out)
}

// UploadFee calls uploadFee(), in wei.
func (c *LedgerClient) UploadFee(ctx context.Context) (*big.Int, error) {
	data, err := ledger.PackUploadFee()
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("uploadFee() call failed: %w", err)
	}
	return ledger.UnpackUploadFee(out)
}

// Withdraw asks the wallet to send withdraw() from the given account.
func (c *LedgerClient) Withdraw(ctx context.Context, from common.Address) (common.Hash, error) {
	if c.provider == nil {
		return common.Hash{}, fmt.Errorf("no wallet provider configured")
	}
	data, err := ledger.PackWithdraw()
	if err != nil {
		return common.Hash{}, err
	}
	return c.provider.SendTransaction(ctx, TxRequest{
		From:  from,
		To:    c.address,
		Value: new(big.Int),
		Data:  data,
	})
}
