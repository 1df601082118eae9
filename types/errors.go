package types

import "errors"

// ErrorCode classifies every failure surfaced by paygate.
type ErrorCode string

// User-facing categories.
const (
	ErrWalletUnavailable        ErrorCode = "WALLET_UNAVAILABLE"
	ErrNoAccountSelected        ErrorCode = "NO_ACCOUNT_SELECTED"
	ErrNetworkSwitchUnsupported ErrorCode = "NETWORK_SWITCH_UNSUPPORTED"
	ErrWrongNetwork             ErrorCode = "WRONG_NETWORK"
	ErrTransactionRejected      ErrorCode = "TRANSACTION_REJECTED"
	ErrTransactionReverted      ErrorCode = "TRANSACTION_REVERTED"
	ErrInsufficientFunds        ErrorCode = "INSUFFICIENT_FUNDS"
	ErrPaymentRequired          ErrorCode = "PAYMENT_REQUIRED"
	ErrConfigurationError       ErrorCode = "CONFIGURATION_ERROR"
	ErrFileTooLarge             ErrorCode = "FILE_TOO_LARGE"
	ErrUploadFailed             ErrorCode = "UPLOAD_FAILED"
	ErrUnknown                  ErrorCode = "UNKNOWN"
)

// Operational codes, folded into the categories above for display.
const (
	ErrWalletNotConnected  ErrorCode = "WALLET_NOT_CONNECTED"
	ErrOperationInProgress ErrorCode = "OPERATION_IN_PROGRESS"
	ErrNoFileSelected      ErrorCode = "NO_FILE_SELECTED"
	ErrInsufficientPayment ErrorCode = "INSUFFICIENT_PAYMENT"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrSessionReset        ErrorCode = "SESSION_RESET"
	ErrConfirmationTimeout ErrorCode = "CONFIRMATION_TIMEOUT"
)

// Categories is the closed set of user-facing categories.
var Categories = []ErrorCode{
	ErrWalletUnavailable,
	ErrNoAccountSelected,
	ErrNetworkSwitchUnsupported,
	ErrWrongNetwork,
	ErrTransactionRejected,
	ErrTransactionReverted,
	ErrInsufficientFunds,
	ErrPaymentRequired,
	ErrConfigurationError,
	ErrFileTooLarge,
	ErrUploadFailed,
	ErrUnknown,
}

// Error carries a code alongside the message and the underlying cause.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Err     error       `json:"-"`
}

// NewError creates an Error with the given code.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrorWalletUnavailable        = &Error{Code: ErrWalletUnavailable}
	ErrorNoAccountSelected        = &Error{Code: ErrNoAccountSelected}
	ErrorNetworkSwitchUnsupported = &Error{Code: ErrNetworkSwitchUnsupported}
	ErrorWrongNetwork             = &Error{Code: ErrWrongNetwork}
	ErrorTransactionRejected      = &Error{Code: ErrTransactionRejected}
	ErrorTransactionReverted      = &Error{Code: ErrTransactionReverted}
	ErrorInsufficientFunds        = &Error{Code: ErrInsufficientFunds}
	ErrorPaymentRequired          = &Error{Code: ErrPaymentRequired}
	ErrorConfigurationError       = &Error{Code: ErrConfigurationError}
	ErrorFileTooLarge             = &Error{Code: ErrFileTooLarge}
	ErrorUploadFailed             = &Error{Code: ErrUploadFailed}
	ErrorWalletNotConnected       = &Error{Code: ErrWalletNotConnected}
	ErrorOperationInProgress      = &Error{Code: ErrOperationInProgress}
	ErrorNoFileSelected           = &Error{Code: ErrNoFileSelected}
	ErrorSessionReset             = &Error{Code: ErrSessionReset}
	ErrorConfirmationTimeout      = &Error{Code: ErrConfirmationTimeout}
)

// CodeOf returns the code of the first *Error in the chain, or ErrUnknown.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// Temporary is implemented by transport errors that are safe to retry.
type Temporary interface {
	Temporary() bool
}

// IsRetryable reports whether retrying the failed call may succeed.
func IsRetryable(err error) bool {
	var t Temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
