// Package paygate gates file uploads behind an on-chain micropayment.
//
// A PayGate wires a wallet session, the payment orchestrator and the upload
// coordinator together: connect a wallet, pay the upload fee under a fresh
// correlation id, then upload the file to the relay carrying that id.
package paygate

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/payment"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/upload"
	"github.com/vitwit/paygate/utils"
	"github.com/vitwit/paygate/wallet"
)

// PayGate is one user's pay-then-upload flow: a wallet session, its payment
// orchestrator and the upload coordinator gated by that orchestrator.
type PayGate struct {
	network  types.Network
	session  *wallet.Session
	orch     *payment.Orchestrator
	coord    *upload.Coordinator
	provider clients.Provider

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
	pollMin time.Duration
	pollMax time.Duration

	mu      sync.Mutex
	file    *types.File
	lastErr error
}

// New builds a PayGate for cfg. A nil relay means an HTTP client for
// cfg.APIBaseURL. A missing fee or contract address is reported when a payment
// is submitted; malformed values fail here.
func New(provider clients.Provider, relay upload.Relay, cfg *types.Config, opts ...Option) (*PayGate, error) {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}

	var fee *big.Int
	if cfg.UploadFee != "" {
		f, err := utils.FeeWei(cfg)
		if err != nil {
			return nil, err
		}
		fee = f
	}

	var contract common.Address
	if cfg.ContractAddress != "" {
		a, err := utils.ContractAddress(cfg)
		if err != nil {
			return nil, err
		}
		contract = a
	}

	p := &PayGate{
		network:  types.LookupNetwork(cfg.ChainID),
		provider: provider,
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		timeout:  cfg.RequestTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	if relay == nil {
		if cfg.APIBaseURL == "" {
			return nil, types.NewError(types.ErrConfigurationError, "api base url not configured", nil)
		}
		relay = clients.NewRelayClient(cfg.APIBaseURL, p.timeout)
	}

	p.session = wallet.NewSession(provider, wallet.WithLogger(p.logger))
	p.orch = payment.New(p.session, provider, payment.Config{
		Contract:       contract,
		Fee:            fee,
		Network:        p.network,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollMin:        p.pollMin,
		PollMax:        p.pollMax,
	}, payment.WithLogger(p.logger), payment.WithMetrics(p.metrics),
		payment.WithBusyCheck(func() bool { return p.coord.Busy() }),
	)
	p.coord = upload.New(p.orch, relay,
		upload.WithLogger(p.logger),
		upload.WithMetrics(p.metrics),
		upload.WithMaxFileSize(cfg.Relay.MaxFileSize),
	)
	return p, nil
}

// Network is the network payments are made on.
func (p *PayGate) Network() types.Network {
	return p.network
}

// Session returns the wallet session.
func (p *PayGate) Session() *wallet.Session {
	return p.session
}

// Payments returns the payment orchestrator.
func (p *PayGate) Payments() *payment.Orchestrator {
	return p.orch
}

// Uploads returns the upload coordinator.
func (p *PayGate) Uploads() *upload.Coordinator {
	return p.coord
}

// Connect requests wallet access and loads the account, chain and balance.
func (p *PayGate) Connect(ctx context.Context) (types.WalletState, error) {
	st, err := p.session.Connect(ctx)
	return st, p.track(err)
}

// SwitchNetwork moves the wallet to the supported network.
func (p *PayGate) SwitchNetwork(ctx context.Context) (types.WalletState, error) {
	st, err := p.session.SwitchNetwork(ctx, p.network.ChainIDBig())
	return st, p.track(err)
}

// WalletState returns the connected account's state; ok is false when disconnected.
func (p *PayGate) WalletState() (types.WalletState, bool) {
	return p.session.State()
}

// SelectFile sets the file for the next attempt. Oversized files are refused here.
func (p *PayGate) SelectFile(f *types.File) error {
	if err := types.ValidateFile(f, types.MaxFileSize); err != nil {
		return p.track(err)
	}
	p.mu.Lock()
	p.file = f
	p.lastErr = nil
	p.mu.Unlock()
	return nil
}

func (p *PayGate) selected() *types.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file
}

// SubmitPayment pays for the selected file.
func (p *PayGate) SubmitPayment(ctx context.Context) (*types.PaymentRecord, error) {
	rec, err := p.orch.SubmitPayment(ctx, p.selected())
	return rec, p.track(err)
}

// SubmitUpload uploads file under id. id must be the confirmed payment's.
func (p *PayGate) SubmitUpload(ctx context.Context, file *types.File, id types.CorrelationID) (*types.UploadResult, error) {
	res, err := p.coord.SubmitUpload(ctx, file, id)
	return res, p.track(err)
}

// Upload sends the selected file with the currently authorized correlation id.
func (p *PayGate) Upload(ctx context.Context) (*types.UploadResult, error) {
	id, ok := p.orch.AuthorizedID()
	if !ok {
		return nil, p.track(types.NewError(types.ErrPaymentRequired, "no confirmed payment", nil))
	}
	return p.SubmitUpload(ctx, p.selected(), id)
}

// PayAndUpload runs a full cycle for file. When the upload fails the payment
// stays confirmed and Upload can be retried.
func (p *PayGate) PayAndUpload(ctx context.Context, file *types.File) (*types.PaymentRecord, *types.UploadResult, error) {
	if err := p.SelectFile(file); err != nil {
		return nil, nil, err
	}
	rec, err := p.SubmitPayment(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := p.SubmitUpload(ctx, file, rec.CorrelationID)
	if err != nil {
		return rec, nil, fmt.Errorf("payment %s confirmed but upload failed: %w", rec.TxHash.Hex(), err)
	}
	return rec, res, nil
}

// Attempt is the observable state of the current payment and upload.
func (p *PayGate) Attempt() types.UploadAttempt {
	snap := p.orch.Snapshot()

	a := types.UploadAttempt{
		File:             snap.File,
		CorrelationID:    snap.CorrelationID,
		PaymentConfirmed: snap.State == payment.Confirmed,
		TxHash:           snap.TxHash,
	}
	if a.File == nil {
		a.File = p.selected()
	}
	if res, ok := p.coord.Result(); ok {
		a.ContentID = res.CID
		a.URL = res.URL
	}
	return a
}

// LastError is the current error and its display category: the failure of the
// most recent wallet, payment or upload call, cleared when a call succeeds.
func (p *PayGate) LastError() (types.ErrorCode, error) {
	p.mu.Lock()
	err := p.lastErr
	p.mu.Unlock()

	if err == nil {
		return "", nil
	}
	return utils.NormalizeError(err), err
}

func (p *PayGate) track(err error) error {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()

	if wallet.IsResetError(err) {
		p.logger.Info("operation superseded by a wallet session reset", map[string]any{"error": err})
	}
	return err
}

// Close releases the session's provider subscription and the coordinator's
// payment subscription.
func (p *PayGate) Close() {
	p.coord.Close()
	p.session.Close()
}
