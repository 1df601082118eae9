package verification

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
)

// Verifier checks that a correlation id was paid for on-chain.
type Verifier interface {
	Verify(ctx context.Context, id types.CorrelationID) (*types.PaymentRecord, error)
}

// LogFetcher is the subset of ethclient used to look up Paid events.
type LogFetcher interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
}

// Option configures a VerificationService.
type Option func(*VerificationService)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *VerificationService) {
		s.log = logger.OrNoop(l)
	}
}

// WithMetrics sets the recorder for hits and misses.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *VerificationService) {
		s.metrics = metrics.OrNoop(r)
	}
}

// WithFromBlock starts log searches at the ledger's deployment block.
func WithFromBlock(n uint64) Option {
	return func(s *VerificationService) {
		s.fromBlock = n
	}
}

// WithCacheSize bounds the cache of verified ids. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(s *VerificationService) {
		s.cacheSize = n
	}
}

// WithTimeout bounds each log query.
func WithTimeout(d time.Duration) Option {
	return func(s *VerificationService) {
		s.timeout = d
	}
}

// VerificationService looks up Paid events of one ledger contract. Confirmed
// payments are immutable, so hits are cached; misses are not.
type VerificationService struct {
	logs      LogFetcher
	contract  common.Address
	minFee    *big.Int
	fromBlock uint64
	timeout   time.Duration
	cacheSize int
	cache     *lru.Cache[types.CorrelationID, types.PaymentRecord]
	log       logger.Logger
	metrics   metrics.Recorder
}

// NewVerificationService creates a new verification service
func NewVerificationService(logs LogFetcher, contract common.Address, minFee *big.Int, opts ...Option) (*VerificationService, error) {
	if logs == nil {
		return nil, types.NewError(types.ErrConfigurationError, "verification requires a chain client", nil)
	}
	if minFee == nil || minFee.Sign() <= 0 {
		return nil, types.NewError(types.ErrConfigurationError, "verification requires a positive fee", nil)
	}

	s := &VerificationService{
		logs:      logs,
		contract:  contract,
		minFee:    new(big.Int).Set(minFee),
		timeout:   10 * time.Second,
		cacheSize: 1024,
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cacheSize > 0 {
		cache, err := lru.New[types.CorrelationID, types.PaymentRecord](s.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create verification cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Verify returns the Paid record for id, or a PaymentRequired error when no
// qualifying payment exists.
func (s *VerificationService) Verify(ctx context.Context, id types.CorrelationID) (*types.PaymentRecord, error) {
	if s.cache != nil {
		if rec, ok := s.cache.Get(id); ok {
			s.metrics.IncCounter(metrics.VerifyHit, nil)
			return &rec, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logs, err := s.logs.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(s.fromBlock),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{ledger.PaidTopic}, {common.Hash(id)}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query payment logs: %w", err)
	}

	for _, l := range logs {
		if l.Removed {
			continue
		}
		rec, err := ledger.DecodePaidLog(l)
		if err != nil {
			s.log.Warn("skipping undecodable Paid log", map[string]any{
				"txHash": l.TxHash.Hex(),
				"error":  err,
			})
			continue
		}
		if rec.CorrelationID != id || rec.Amount.Cmp(s.minFee) < 0 {
			continue
		}

		if s.cache != nil {
			s.cache.Add(id, *rec)
		}
		s.metrics.IncCounter(metrics.VerifyHit, nil)
		return rec, nil
	}

	s.metrics.IncCounter(metrics.VerifyMiss, nil)
	return nil, types.NewError(types.ErrPaymentRequired,
		fmt.Sprintf("no payment found for %s", id.Hex()), nil)
}
