package types

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MaxFileSize is the largest file the relay accepts (2 MiB).
const MaxFileSize = 2 * 1024 * 1024

// CorrelationID binds one payment to one upload attempt.
type CorrelationID [32]byte

// NewCorrelationID returns a fresh identifier read from a cryptographically secure source.
func NewCorrelationID() (CorrelationID, error) {
	var id CorrelationID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("failed to generate correlation id: %w", err)
	}
	return id, nil
}

// ParseCorrelationID decodes a 32-byte hex string, with or without 0x prefix.
func ParseCorrelationID(s string) (CorrelationID, error) {
	var id CorrelationID

	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}

	b, err := hexutil.Decode(s)
	if err != nil {
		return id, fmt.Errorf("invalid correlation id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid correlation id length: %d", len(b))
	}

	copy(id[:], b)
	return id, nil
}

// Hex returns the 0x-prefixed lowercase encoding used in the relay uploadId field.
func (c CorrelationID) Hex() string {
	return hexutil.Encode(c[:])
}

func (c CorrelationID) String() string {
	return c.Hex()
}

// IsZero reports whether c is the all-zero id.
func (c CorrelationID) IsZero() bool {
	return c == CorrelationID{}
}

// PaymentRecord is the decoded form of one Paid event.
type PaymentRecord struct {
	Payer         common.Address `json:"payer"`
	Amount        *big.Int       `json:"amount"`
	CorrelationID CorrelationID  `json:"correlationId"`
	Timestamp     uint64         `json:"timestamp"`
	TxHash        common.Hash    `json:"txHash,omitempty"`
	BlockNumber   uint64         `json:"blockNumber,omitempty"`
}

// WalletState is the connected half of a wallet session. A disconnected session has none.
type WalletState struct {
	Address common.Address `json:"address"`
	ChainID *big.Int       `json:"chainId"`
	Balance *big.Int       `json:"balance"`
}

// File is a selected file held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

func (f *File) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Data))
}

// ValidateFile rejects missing and oversized files before any network call.
func ValidateFile(f *File, limit int64) error {
	if f == nil || len(f.Data) == 0 {
		return NewError(ErrNoFileSelected, "no file selected", nil)
	}
	if limit <= 0 {
		limit = MaxFileSize
	}
	if f.Size() > limit {
		return NewError(ErrFileTooLarge,
			fmt.Sprintf("file too large: %d bytes exceeds limit of %d bytes", f.Size(), limit), nil)
	}
	return nil
}

// UploadResult mirrors the relay response body.
type UploadResult struct {
	CID  string `json:"cid"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// UploadAttempt is the observable state of one (payment, upload) cycle.
type UploadAttempt struct {
	File             *File          `json:"-"`
	CorrelationID    *CorrelationID `json:"correlationId,omitempty"`
	PaymentConfirmed bool           `json:"paymentConfirmed"`
	TxHash           *common.Hash   `json:"transactionHash,omitempty"`
	ContentID        string         `json:"contentId,omitempty"`
	URL              string         `json:"url,omitempty"`
}

// ErrorResponse is the relay error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
