package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/vitwit/paygate/types"
)

// Result is the outcome of one contract call.
type Result struct {
	Return []byte

	// Event is set when payForUpload succeeded.
	Event *PaidEvent

	// Payout is the amount the host must credit to the caller (withdraw).
	Payout *uint256.Int
}

// Execute routes calldata to the matching entry point.
func (l *Ledger) Execute(msg Message, calldata []byte) (*Result, error) {
	if len(calldata) < 4 {
		return nil, ErrUnknownMethod
	}

	method, err := parsedABI.MethodById(calldata[:4])
	if err != nil {
		return nil, ErrUnknownMethod
	}

	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, types.NewError(types.ErrTransactionReverted, "invalid calldata", err)
	}

	if !method.IsPayable() && !msg.value().IsZero() {
		return nil, ErrNonPayable
	}

	switch method.Name {
	case MethodPayForUpload:
		raw, ok := args[0].([32]byte)
		if !ok {
			return nil, types.NewError(types.ErrTransactionReverted,
				fmt.Sprintf("unexpected uploadId type %T", args[0]), nil)
		}
		ev, err := l.PayForUpload(msg, types.CorrelationID(raw))
		if err != nil {
			return nil, err
		}
		return &Result{Event: ev}, nil

	case MethodWithdraw:
		amount, err := l.Withdraw(msg)
		if err != nil {
			return nil, err
		}
		return &Result{Payout: amount}, nil

	case MethodOwner:
		out, err := method.Outputs.Pack(l.Owner())
		if err != nil {
			return nil, err
		}
		return &Result{Return: out}, nil

	case MethodUploadFee:
		out, err := method.Outputs.Pack(l.UploadFee().ToBig())
		if err != nil {
			return nil, err
		}
		return &Result{Return: out}, nil
	}

	return nil, ErrUnknownMethod
}
