// Package payment drives one payForUpload transaction per upload attempt.
//
// The orchestrator moves through Idle, AwaitingSignature, AwaitingConfirmation and
// finally Confirmed or Failed. Only a Confirmed attempt authorizes an upload, and
// only for the correlation id generated for that attempt. Every new cycle and every
// wallet session reset bumps a generation counter; results that arrive for an older
// generation are dropped.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/jpillora/backoff"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
	"github.com/vitwit/paygate/wallet"
)

// State is the phase of the current payment attempt.
type State int

const (
	Idle State = iota
	AwaitingSignature
	AwaitingConfirmation
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingSignature:
		return "awaiting_signature"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// InFlight is true while a transaction is being signed or mined.
func (s State) InFlight() bool {
	return s == AwaitingSignature || s == AwaitingConfirmation
}

// Config holds the ledger, fee and network every payment is made against.
// Zero timeouts take the defaults applied by New.
type Config struct {
	Contract common.Address
	Fee      *big.Int
	Network  types.Network

	ConfirmTimeout time.Duration
	PollMin        time.Duration
	PollMax        time.Duration
}

// Snapshot is a consistent copy of the orchestrator's observable state.
type Snapshot struct {
	State         State
	File          *types.File
	CorrelationID *types.CorrelationID
	TxHash        *common.Hash
	ExplorerURL   string
	Record        *types.PaymentRecord
	Err           error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger for payment transitions.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		o.log = logger.OrNoop(l)
	}
}

// WithMetrics sets the recorder for payment counters and confirmation latency.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics.OrNoop(r)
	}
}

// WithIDSource replaces the correlation id generator.
func WithIDSource(fn func() (types.CorrelationID, error)) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithBusyCheck blocks new payments while busy reports true, e.g. while an
// upload for the current payment is outstanding.
func WithBusyCheck(busy func() bool) Option {
	return func(o *Orchestrator) {
		o.busy = busy
	}
}

// Orchestrator runs one payment attempt at a time for a wallet session.
type Orchestrator struct {
	mu       sync.Mutex
	session  *wallet.Session
	provider clients.Provider
	cfg      Config
	log      logger.Logger
	metrics  metrics.Recorder
	newID    func() (types.CorrelationID, error)
	busy     func() bool

	gen    uint64
	state  State
	file   *types.File
	id     *types.CorrelationID
	txHash *common.Hash
	record *types.PaymentRecord
	err    error

	nextListener int
	onChange     map[int]func(Snapshot)
	onDiscard    map[int]func()
}

// New creates an orchestrator and registers it for the session's resets.
func New(session *wallet.Session, provider clients.Provider, cfg Config, opts ...Option) *Orchestrator {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}
	if cfg.PollMin <= 0 {
		cfg.PollMin = 500 * time.Millisecond
	}
	if cfg.PollMax < cfg.PollMin {
		cfg.PollMax = 8 * cfg.PollMin
	}

	o := &Orchestrator{
		session:   session,
		provider:  provider,
		cfg:       cfg,
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		newID:     types.NewCorrelationID,
		onChange:  make(map[int]func(Snapshot)),
		onDiscard: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(o)
	}

	if session != nil {
		session.OnReset(func(reason wallet.ResetReason) {
			o.Reset(string(reason))
		})
	}
	return o
}

func (o *Orchestrator) labels() map[string]string {
	return map[string]string{"network": o.cfg.Network.Name}
}

// SubmitPayment pays the configured fee for file under a fresh correlation id
// and blocks until the transaction is mined, rejected or times out.
func (o *Orchestrator) SubmitPayment(ctx context.Context, file *types.File) (*types.PaymentRecord, error) {
	o.mu.Lock()
	err := o.checkIdleLocked()
	o.mu.Unlock()
	if err != nil {
		return nil, o.reject(err)
	}

	if err := types.ValidateFile(file, types.MaxFileSize); err != nil {
		return nil, o.reject(err)
	}

	st, ok := o.walletState()
	if !ok {
		return nil, o.reject(types.NewError(types.ErrWalletNotConnected, "wallet not connected", nil))
	}
	if st.ChainID == nil || st.ChainID.Uint64() != o.cfg.Network.ChainID {
		return nil, o.reject(types.NewError(types.ErrWrongNetwork,
			fmt.Sprintf("wallet is on chain %v, payments require chain %d (%s)",
				st.ChainID, o.cfg.Network.ChainID, o.cfg.Network.Name), nil))
	}
	if o.cfg.Fee == nil || o.cfg.Fee.Sign() <= 0 {
		return nil, o.reject(types.NewError(types.ErrConfigurationError, "upload fee not configured", nil))
	}
	if o.cfg.Contract == (common.Address{}) {
		return nil, o.reject(types.NewError(types.ErrConfigurationError, "contract address not configured", nil))
	}

	id, err := o.newID()
	if err != nil {
		return nil, o.reject(types.NewError(types.ErrUnknown, "correlation id unavailable", err))
	}
	data, err := ledger.PackPayForUpload(id)
	if err != nil {
		return nil, o.reject(types.NewError(types.ErrUnknown, "failed to encode payment", err))
	}

	gen, err := o.begin(file, id)
	if err != nil {
		return nil, o.reject(err)
	}

	o.metrics.IncCounter(metrics.PaymentSubmitted, o.labels())
	o.log.Info("payment requested", map[string]any{
		"correlationId": id.Hex(),
		"payer":         st.Address.Hex(),
		"fee":           o.cfg.Fee.String(),
	})

	start := time.Now()
	hash, err := o.provider.SendTransaction(ctx, clients.TxRequest{
		From:  st.Address,
		To:    o.cfg.Contract,
		Value: new(big.Int).Set(o.cfg.Fee),
		Data:  data,
	})
	if err != nil {
		return nil, o.fail(gen, classifySendError(err))
	}

	if !o.apply(gen, func() {
		o.state = AwaitingConfirmation
		o.txHash = &hash
	}) {
		return nil, staleError()
	}
	o.log.Info("payment submitted", map[string]any{
		"correlationId": id.Hex(),
		"txHash":        hash.Hex(),
	})

	receipt, err := o.waitReceipt(ctx, gen, hash)
	if err != nil {
		return nil, o.fail(gen, err)
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, o.fail(gen, types.NewError(types.ErrTransactionReverted,
			fmt.Sprintf("transaction %s reverted", hash.Hex()), nil))
	}

	record, err := o.findPayment(receipt, id)
	if err != nil {
		return nil, o.fail(gen, err)
	}

	if !o.apply(gen, func() {
		o.state = Confirmed
		o.record = record
	}) {
		return nil, staleError()
	}

	o.metrics.IncCounter(metrics.PaymentConfirmed, o.labels())
	o.metrics.ObserveLatency(metrics.PaymentConfirmation, time.Since(start), o.labels())
	o.log.Info("payment confirmed", map[string]any{
		"correlationId": id.Hex(),
		"txHash":        hash.Hex(),
		"block":         record.BlockNumber,
		"amount":        record.Amount.String(),
	})

	if o.session != nil {
		if _, err := o.session.RefreshNetwork(ctx); err != nil {
			o.log.Warn("balance refresh failed", map[string]any{"error": err})
		}
	}

	out := *record
	return &out, nil
}

func (o *Orchestrator) walletState() (types.WalletState, bool) {
	if o.session == nil || o.provider == nil {
		return types.WalletState{}, false
	}
	return o.session.State()
}

// begin discards the previous attempt and enters AwaitingSignature.
func (o *Orchestrator) begin(file *types.File, id types.CorrelationID) (uint64, error) {
	o.mu.Lock()
	if err := o.checkIdleLocked(); err != nil {
		o.mu.Unlock()
		return 0, err
	}
	discarded := o.clearLocked()
	o.state = AwaitingSignature
	o.file = file
	o.id = &id
	gen := o.gen
	snap := o.snapshotLocked()
	discard, change := o.listenersLocked()
	o.mu.Unlock()

	if discarded {
		for _, fn := range discard {
			fn()
		}
	}
	for _, fn := range change {
		fn(snap)
	}
	return gen, nil
}

// checkIdleLocked refuses a new attempt while a payment or a dependent
// operation is in flight.
func (o *Orchestrator) checkIdleLocked() error {
	if o.state.InFlight() {
		return types.NewError(types.ErrOperationInProgress, "a payment is already in progress", nil)
	}
	if o.busy != nil && o.busy() {
		return types.NewError(types.ErrOperationInProgress, "an upload for the current payment is in progress", nil)
	}
	return nil
}

// apply runs fn under the lock if gen is still current and notifies observers.
func (o *Orchestrator) apply(gen uint64, fn func()) bool {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return false
	}
	fn()
	snap := o.snapshotLocked()
	_, change := o.listenersLocked()
	o.mu.Unlock()

	for _, fn := range change {
		fn(snap)
	}
	return true
}

func (o *Orchestrator) fail(gen uint64, err error) error {
	if !o.apply(gen, func() {
		o.state = Failed
		o.err = err
	}) {
		o.log.Debug("dropping result of superseded payment", map[string]any{"error": err})
		return staleError()
	}

	o.metrics.IncCounter(metrics.PaymentFailed, o.labels())
	o.log.Warn("payment failed", map[string]any{
		"error":    err,
		"category": string(utils.NormalizeError(err)),
	})
	return err
}

// reject records a precondition failure without touching the attempt.
func (o *Orchestrator) reject(err error) error {
	o.mu.Lock()
	o.err = err
	snap := o.snapshotLocked()
	_, change := o.listenersLocked()
	o.mu.Unlock()

	for _, fn := range change {
		fn(snap)
	}
	o.log.Debug("payment precondition failed", map[string]any{"error": err})
	return err
}

func staleError() error {
	return types.NewError(types.ErrSessionReset, "payment attempt superseded", nil)
}

func classifySendError(err error) error {
	if clients.ProviderCode(err) == clients.CodeUserRejected {
		return types.NewError(types.ErrTransactionRejected, "transaction rejected in wallet", err)
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.NewError(utils.NormalizeError(err), "payment submission failed", err)
}

func (o *Orchestrator) waitReceipt(ctx context.Context, gen uint64, hash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()

	b := &backoff.Backoff{
		Min:    o.cfg.PollMin,
		Max:    o.cfg.PollMax,
		Factor: 2,
	}

	for {
		if !o.current(gen) {
			return nil, staleError()
		}

		receipt, err := o.provider.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			o.log.Warn("receipt lookup failed", map[string]any{
				"txHash":  hash.Hex(),
				"attempt": b.Attempt(),
				"error":   err,
			})
		}

		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, types.NewError(types.ErrConfirmationTimeout,
					fmt.Sprintf("transaction %s not mined within %s", hash.Hex(), o.cfg.ConfirmTimeout), ctx.Err())
			}
			return nil, types.NewError(types.ErrUnknown, "confirmation wait cancelled", ctx.Err())
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen == gen
}

// findPayment returns the Paid event for id emitted by the configured contract.
func (o *Orchestrator) findPayment(receipt *ethtypes.Receipt, id types.CorrelationID) (*types.PaymentRecord, error) {
	for _, l := range receipt.Logs {
		if l == nil || l.Address != o.cfg.Contract {
			continue
		}
		rec, err := ledger.DecodePaidLog(*l)
		if err != nil {
			continue
		}
		if rec.CorrelationID != id {
			continue
		}
		if rec.TxHash == (common.Hash{}) {
			rec.TxHash = receipt.TxHash
		}
		if rec.BlockNumber == 0 && receipt.BlockNumber != nil {
			rec.BlockNumber = receipt.BlockNumber.Uint64()
		}
		return rec, nil
	}
	return nil, types.NewError(types.ErrConfigurationError,
		fmt.Sprintf("transaction %s emitted no Paid event from %s", receipt.TxHash.Hex(), o.cfg.Contract.Hex()), nil)
}

// Reset discards the current attempt, including a confirmed one.
func (o *Orchestrator) Reset(reason string) {
	o.mu.Lock()
	discarded := o.clearLocked()
	o.err = nil
	snap := o.snapshotLocked()
	discard, change := o.listenersLocked()
	o.mu.Unlock()

	if discarded {
		o.log.Info("payment attempt discarded", map[string]any{"reason": reason})
		for _, fn := range discard {
			fn()
		}
	}
	for _, fn := range change {
		fn(snap)
	}
}

// clearLocked bumps the generation and returns to Idle. It reports whether an
// attempt existed.
func (o *Orchestrator) clearLocked() bool {
	had := o.state != Idle || o.id != nil
	o.gen++
	o.state = Idle
	o.file = nil
	o.id = nil
	o.txHash = nil
	o.record = nil
	o.err = nil
	return had
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{State: o.state, File: o.file, Err: o.err}
	if o.id != nil {
		id := *o.id
		s.CorrelationID = &id
	}
	if o.txHash != nil {
		h := *o.txHash
		s.TxHash = &h
		s.ExplorerURL = o.cfg.Network.TxURL(h)
	}
	if o.record != nil {
		r := *o.record
		s.Record = &r
	}
	return s
}

func (o *Orchestrator) listenersLocked() ([]func(), []func(Snapshot)) {
	discard := make([]func(), 0, len(o.onDiscard))
	for _, fn := range o.onDiscard {
		discard = append(discard, fn)
	}
	change := make([]func(Snapshot), 0, len(o.onChange))
	for _, fn := range o.onChange {
		change = append(change, fn)
	}
	return discard, change
}

// Snapshot returns a copy of the current attempt.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// AuthorizedID is the correlation id an upload may carry. ok is false unless Confirmed.
func (o *Orchestrator) AuthorizedID() (types.CorrelationID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != Confirmed || o.id == nil {
		return types.CorrelationID{}, false
	}
	return *o.id, true
}

// OnChange registers fn to receive a snapshot after every transition.
func (o *Orchestrator) OnChange(fn func(Snapshot)) (remove func()) {
	o.mu.Lock()
	o.nextListener++
	id := o.nextListener
	o.onChange[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.onChange, id)
		o.mu.Unlock()
	}
}

// OnDiscard registers fn to run whenever an attempt is discarded.
func (o *Orchestrator) OnDiscard(fn func()) (remove func()) {
	o.mu.Lock()
	o.nextListener++
	id := o.nextListener
	o.onDiscard[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.onDiscard, id)
		o.mu.Unlock()
	}
}
