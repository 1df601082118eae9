package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/paygate/types"
)

// PaymentLedgerABI is the interface of the deployed PayForUpload contract.
const PaymentLedgerABI = `
[
  {
    "type": "constructor",
    "stateMutability": "nonpayable",
    "inputs": [ { "name": "_uploadFee", "type": "uint256" } ]
  },
  {
    "type": "function",
    "name": "payForUpload",
    "stateMutability": "payable",
    "inputs": [ { "name": "uploadId", "type": "bytes32" } ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "withdraw",
    "stateMutability": "nonpayable",
    "inputs": [],
    "outputs": []
  },
  {
    "type": "function",
    "name": "owner",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [ { "name": "", "type": "address" } ]
  },
  {
    "type": "function",
    "name": "uploadFee",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [ { "name": "", "type": "uint256" } ]
  },
  {
    "type": "event",
    "name": "Paid",
    "anonymous": false,
    "inputs": [
      { "name": "payer", "type": "address", "indexed": false },
      { "name": "amount", "type": "uint256", "indexed": false },
      { "name": "correlationId", "type": "bytes32", "indexed": true },
      { "name": "timestamp", "type": "uint256", "indexed": false }
    ]
  },
  { "type": "error", "name": "InsufficientPayment", "inputs": [] },
  { "type": "error", "name": "Unauthorized", "inputs": [] }
]
`

const (
	MethodPayForUpload = "payForUpload"
	MethodWithdraw     = "withdraw"
	MethodOwner        = "owner"
	MethodUploadFee    = "uploadFee"
	EventPaid          = "Paid"
)

var parsedABI = mustParseABI()

// PaidTopic is topic[0] of every Paid log.
var PaidTopic = parsedABI.Events[EventPaid].ID

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(PaymentLedgerABI))
	if err != nil {
		panic(fmt.Sprintf("ledger: invalid ABI: %v", err))
	}
	return parsed
}

// ABI returns the parsed contract interface.
func ABI() abi.ABI {
	return parsedABI
}

// PackPayForUpload encodes calldata for payForUpload(id).
func PackPayForUpload(id types.CorrelationID) ([]byte, error) {
	return parsedABI.Pack(MethodPayForUpload, [32]byte(id))
}

func PackWithdraw() ([]byte, error) {
	return parsedABI.Pack(MethodWithdraw)
}

func PackOwner() ([]byte, error) {
	return parsedABI.Pack(MethodOwner)
}

func PackUploadFee() ([]byte, error) {
	return parsedABI.Pack(MethodUploadFee)
}

// UnpackOwner decodes the output of owner().
func UnpackOwner(data []byte) (common.Address, error) {
	out, err := parsedABI.Unpack(MethodOwner, data)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected owner() output %T", out[0])
	}
	return addr, nil
}

// UnpackUploadFee decodes the output of uploadFee().
func UnpackUploadFee(data []byte) (*big.Int, error) {
	out, err := parsedABI.Unpack(MethodUploadFee, data)
	if err != nil {
		return nil, err
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected uploadFee() output %T", out[0])
	}
	return fee, nil
}

// PaidEvent is one emitted Paid event.
type PaidEvent struct {
	Payer         common.Address
	Amount        *big.Int
	CorrelationID types.CorrelationID
	Timestamp     uint64
}

// Record converts the event into a PaymentRecord.
func (e PaidEvent) Record() types.PaymentRecord {
	return types.PaymentRecord{
		Payer:         e.Payer,
		Amount:        new(big.Int).Set(e.Amount),
		CorrelationID: e.CorrelationID,
		Timestamp:     e.Timestamp,
	}
}

// EncodePaidLog builds the log the contract at address emits for ev.
func EncodePaidLog(address common.Address, ev PaidEvent) (*ethtypes.Log, error) {
	event := parsedABI.Events[EventPaid]

	data, err := event.Inputs.NonIndexed().Pack(
		ev.Payer,
		ev.Amount,
		new(big.Int).SetUint64(ev.Timestamp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack Paid event: %w", err)
	}

	return &ethtypes.Log{
		Address: address,
		Topics:  []common.Hash{event.ID, common.Hash(ev.CorrelationID)},
		Data:    data,
	}, nil
}

// ErrNotPaidLog is returned by DecodePaidLog for any other log.
var ErrNotPaidLog = errors.New("log is not a Paid event")

// DecodePaidLog parses a Paid log into a PaymentRecord.
func DecodePaidLog(log ethtypes.Log) (*types.PaymentRecord, error) {
	if len(log.Topics) != 2 || log.Topics[0] != PaidTopic {
		return nil, ErrNotPaidLog
	}

	values, err := parsedABI.Events[EventPaid].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack Paid event: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected Paid field count %d", len(values))
	}

	payer, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected payer type %T", values[0])
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount type %T", values[1])
	}
	ts, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected timestamp type %T", values[2])
	}

	return &types.PaymentRecord{
		Payer:         payer,
		Amount:        amount,
		CorrelationID: types.CorrelationID(log.Topics[1]),
		Timestamp:     ts.Uint64(),
		TxHash:        log.TxHash,
		BlockNumber:   log.BlockNumber,
	}, nil
}

// RevertSelector returns the 4-byte selector of a custom contract error.
func RevertSelector(name string) []byte {
	e, ok := parsedABI.Errors[name]
	if !ok {
		return nil
	}
	return e.ID.Bytes()[:4]
}
