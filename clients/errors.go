package clients

import (
	"errors"
	"fmt"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
)

// ProviderError is a wallet-level failure with an EIP-1193 code.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// ProviderCode returns the EIP-1193 code in err's chain, or 0.
func ProviderCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

var (
	ErrUserRejected = &ProviderError{Code: CodeUserRejected, Message: "user rejected the request"}
	ErrNoAccounts   = errors.New("no accounts available")
)

// UnrecognizedChainError reports a chain the wallet has not been configured for.
func UnrecognizedChainError(chainID fmt.Stringer) error {
	return &ProviderError{
		Code:    CodeUnrecognizedChain,
		Message: fmt.Sprintf("unrecognized chain id %s", chainID),
	}
}

// RelayError is a failed relay call. StatusCode is 0 when no response was received.
type RelayError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RelayError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("relay unreachable: %v", e.Err)
		}
		return "relay unreachable"
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// Temporary is true for transport failures and 5xx responses.
func (e *RelayError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// ClientError is true for 4xx responses caused by the request itself.
func (e *RelayError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
