package utils

import (
	"errors"
	"strings"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/types"
)

// NormalizeError maps a raw failure to one of the user-facing categories.
// The result is for display only.
func NormalizeError(err error) types.ErrorCode {
	if err == nil {
		return ""
	}

	if code, ok := foldCode(types.CodeOf(err)); ok {
		return code
	}

	switch clients.ProviderCode(err) {
	case clients.CodeUserRejected:
		return types.ErrTransactionRejected
	case clients.CodeUnrecognizedChain:
		return types.ErrNetworkSwitchUnsupported
	}

	var re *clients.RelayError
	if errors.As(err, &re) {
		return types.ErrUploadFailed
	}

	return matchKeywords(strings.ToLower(err.Error()))
}

func foldCode(code types.ErrorCode) (types.ErrorCode, bool) {
	for _, c := range types.Categories {
		if c == code && code != types.ErrUnknown {
			return code, true
		}
	}

	switch code {
	case types.ErrInsufficientPayment, types.ErrUnauthorized:
		return types.ErrTransactionReverted, true
	case types.ErrWalletNotConnected:
		return types.ErrNoAccountSelected, true
	case types.ErrOperationInProgress, types.ErrNoFileSelected,
		types.ErrSessionReset, types.ErrConfirmationTimeout:
		return types.ErrUnknown, true
	}
	return "", false
}

type keywordRule struct {
	code     types.ErrorCode
	keywords []string
}

// Most specific first.
var keywordRules = []keywordRule{
	{types.ErrInsufficientFunds, []string{"insufficient funds", "insufficient balance"}},
	{types.ErrTransactionRejected, []string{"user rejected", "user denied", "rejected", "denied"}},
	{types.ErrNetworkSwitchUnsupported, []string{"unrecognized chain", "unknown chain", "4902"}},
	{types.ErrWalletUnavailable, []string{"no provider", "wallet not found", "no wallet", "not installed"}},
	{types.ErrNoAccountSelected, []string{"no account", "no accounts", "not connected"}},
	{types.ErrWrongNetwork, []string{"wrong network", "chain mismatch", "unsupported network"}},
	{types.ErrTransactionReverted, []string{"execution reverted", "revert", "insufficientpayment", "insufficient payment"}},
	{types.ErrFileTooLarge, []string{"too large", "file size", "payload too large"}},
	{types.ErrPaymentRequired, []string{"payment required"}},
	{types.ErrConfigurationError, []string{"config", "missing fee", "contract address"}},
	{types.ErrUploadFailed, []string{"upload", "relay"}},
}

func matchKeywords(msg string) types.ErrorCode {
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.code
			}
		}
	}
	return types.ErrUnknown
}

var displayMessages = map[types.ErrorCode]string{
	types.ErrWalletUnavailable:        "No wallet found. Install a browser wallet and try again.",
	types.ErrNoAccountSelected:        "Connect a wallet account to continue.",
	types.ErrNetworkSwitchUnsupported: "Your wallet does not know this network. Add it manually and retry.",
	types.ErrWrongNetwork:             "Switch your wallet to the supported network.",
	types.ErrTransactionRejected:      "Transaction was rejected in the wallet.",
	types.ErrTransactionReverted:      "Transaction failed on-chain. Check the fee and your balance.",
	types.ErrInsufficientFunds:        "Insufficient funds to pay the upload fee and gas.",
	types.ErrPaymentRequired:          "Pay the upload fee before uploading.",
	types.ErrConfigurationError:       "The application is misconfigured.",
	types.ErrFileTooLarge:             "File is too large. The limit is 2 MB.",
	types.ErrUploadFailed:             "Upload failed. You can retry without paying again.",
	types.ErrUnknown:                  "Something went wrong.",
}

// DisplayMessage is the user-facing text for a category.
func DisplayMessage(code types.ErrorCode) string {
	if msg, ok := displayMessages[code]; ok {
		return msg
	}
	return displayMessages[types.ErrUnknown]
}
