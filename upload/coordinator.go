// Package upload sends paid files to the storage relay.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
)

// PaymentGate exposes the confirmed payment an upload must carry.
type PaymentGate interface {
	AuthorizedID() (types.CorrelationID, bool)
	OnDiscard(fn func()) (remove func())
}

// Relay stores a file under a correlation id.
type Relay interface {
	Upload(ctx context.Context, file *types.File, id types.CorrelationID) (*types.UploadResult, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for upload progress.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		c.log = logger.OrNoop(l)
	}
}

// WithMetrics sets the recorder for upload counters and latency.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Coordinator) {
		c.metrics = metrics.OrNoop(r)
	}
}

// WithMaxFileSize sets the client-side size ceiling. It should match the relay's.
func WithMaxFileSize(n int64) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// Coordinator runs at most one relay upload at a time, and only for the
// correlation id of the gate's confirmed payment. Its result belongs to that
// payment and is cleared when the payment is discarded.
type Coordinator struct {
	mu      sync.Mutex
	gate    PaymentGate
	relay   Relay
	log     logger.Logger
	metrics metrics.Recorder
	maxSize int64

	busy   bool
	gen    uint64
	result *types.UploadResult
	err    error

	removeDiscard func()
}

// New creates a coordinator gated by gate and subscribes to its discards.
func New(gate PaymentGate, relay Relay, opts ...Option) *Coordinator {
	c := &Coordinator{
		gate:    gate,
		relay:   relay,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		maxSize: types.MaxFileSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.removeDiscard = gate.OnDiscard(c.discard)
	return c
}

// SubmitUpload sends file to the relay tagged with id. id must be the gate's
// currently authorized correlation id; otherwise the relay is never called.
func (c *Coordinator) SubmitUpload(ctx context.Context, file *types.File, id types.CorrelationID) (*types.UploadResult, error) {
	// gen is read before the authorization check so a discard landing after
	// the check is seen below.
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	authorized, ok := c.gate.AuthorizedID()
	if !ok || authorized != id {
		return nil, c.record(paymentRequired())
	}

	if err := types.ValidateFile(file, c.maxSize); err != nil {
		return nil, c.record(err)
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, types.NewError(types.ErrOperationInProgress, "an upload is already in progress", nil)
	}
	if c.gen != gen {
		c.mu.Unlock()
		c.log.Info("payment discarded before upload started", map[string]any{"correlationId": id.Hex()})
		return nil, c.record(paymentRequired())
	}
	c.busy = true
	c.err = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	// Once busy is visible the gate refuses new payments, so an id still
	// authorized here stays authorized unless the session resets.
	if authorized, ok := c.gate.AuthorizedID(); !ok || authorized != id {
		return nil, c.record(paymentRequired())
	}

	c.metrics.IncCounter(metrics.UploadSubmitted, nil)
	c.log.Info("uploading file", map[string]any{
		"correlationId": id.Hex(),
		"name":          file.Name,
		"size":          file.Size(),
	})

	start := time.Now()
	res, err := c.relay.Upload(ctx, file, id)
	c.metrics.ObserveLatency(metrics.UploadLatency, time.Since(start), nil)
	if err != nil {
		c.metrics.IncCounter(metrics.UploadFailed, nil)
		uerr := uploadError(err)
		c.log.Warn("upload failed", map[string]any{
			"correlationId": id.Hex(),
			"retryable":     types.IsRetryable(err),
			"error":         err,
		})
		c.mu.Lock()
		if c.gen == gen {
			c.err = uerr
		}
		c.mu.Unlock()
		return nil, uerr
	}

	c.metrics.IncCounter(metrics.UploadSucceeded, nil)
	c.log.Info("file uploaded", map[string]any{
		"correlationId": id.Hex(),
		"cid":           res.CID,
		"url":           res.URL,
	})

	c.mu.Lock()
	if c.gen == gen {
		out := *res
		c.result = &out
	}
	c.mu.Unlock()
	return res, nil
}

func paymentRequired() error {
	return types.NewError(types.ErrPaymentRequired,
		"upload requires a confirmed payment for this correlation id", nil)
}

func uploadError(err error) error {
	var re *clients.RelayError
	if errors.As(err, &re) {
		kind := "server"
		switch {
		case re.StatusCode == 0:
			kind = "network"
		case re.ClientError():
			kind = "client"
		}
		return types.NewError(types.ErrUploadFailed, fmt.Sprintf("upload failed (%s error)", kind), err)
	}
	return types.NewError(types.ErrUploadFailed, "upload failed", err)
}

func (c *Coordinator) record(err error) error {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	return err
}

func (c *Coordinator) discard() {
	c.mu.Lock()
	c.gen++
	c.result = nil
	c.err = nil
	c.mu.Unlock()
}

// Result is the last successful upload of the current attempt.
func (c *Coordinator) Result() (*types.UploadResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.result == nil {
		return nil, false
	}
	out := *c.result
	return &out, true
}

// Err is the last upload failure of the current attempt.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Busy reports whether a relay upload is outstanding.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Close unsubscribes from the gate.
func (c *Coordinator) Close() {
	if c.removeDiscard != nil {
		c.removeDiscard()
	}
}
