package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/paygate/types"
)

var (
	owner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	user  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func milli(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e15))
}

func newID(t *testing.T) types.CorrelationID {
	t.Helper()
	id, err := types.NewCorrelationID()
	require.NoError(t, err)
	return id
}

func TestLedger_Deploy(t *testing.T) {
	l := New(owner, milli(1))

	assert.Equal(t, owner, l.Owner())
	assert.Equal(t, milli(1), l.UploadFee())
	assert.True(t, l.Balance().IsZero())
}

func TestLedger_PayForUpload_InsufficientPayment(t *testing.T) {
	fees := []*uint256.Int{uint256.NewInt(1), milli(1), milli(250)}

	for _, fee := range fees {
		l := New(owner, fee)
		below := []*uint256.Int{
			nil,
			new(uint256.Int),
			new(uint256.Int).Sub(fee, uint256.NewInt(1)),
			new(uint256.Int).Div(fee, uint256.NewInt(2)),
		}
		for _, v := range below {
			ev, err := l.PayForUpload(Message{Sender: user, Value: v, Time: 100}, newID(t))
			require.ErrorIs(t, err, ErrInsufficientPayment)
			assert.Nil(t, ev)
		}
		assert.Empty(t, l.Events())
		assert.True(t, l.Balance().IsZero())
	}
}

func TestLedger_PayForUpload_EmitsExactlyOneEvent(t *testing.T) {
	l := New(owner, milli(1))

	values := []*uint256.Int{milli(1), milli(2), new(uint256.Int).Add(milli(1), uint256.NewInt(1))}
	total := new(uint256.Int)

	for i, v := range values {
		id := newID(t)
		ev, err := l.PayForUpload(Message{Sender: user, Value: v, Time: uint64(1000 + i)}, id)
		require.NoError(t, err)

		require.Len(t, l.Events(), i+1)
		assert.Equal(t, user, ev.Payer)
		assert.Equal(t, v.ToBig(), ev.Amount)
		assert.Equal(t, id, ev.CorrelationID)
		assert.Equal(t, uint64(1000+i), ev.Timestamp)

		total.Add(total, v)
	}

	// overpayment is kept, not refunded
	assert.Equal(t, total, l.Balance())
}

func TestLedger_Withdraw_NonOwner(t *testing.T) {
	l := New(owner, milli(1))
	_, err := l.PayForUpload(Message{Sender: user, Value: milli(3)}, newID(t))
	require.NoError(t, err)

	for _, caller := range []common.Address{user, {}, common.HexToAddress("0x01")} {
		amount, err := l.Withdraw(Message{Sender: caller})
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Nil(t, amount)
		assert.Equal(t, milli(3), l.Balance())
	}
}

func TestLedger_Withdraw_Owner(t *testing.T) {
	l := New(owner, milli(1))
	_, err := l.PayForUpload(Message{Sender: user, Value: milli(1)}, newID(t))
	require.NoError(t, err)
	_, err = l.PayForUpload(Message{Sender: user, Value: milli(4)}, newID(t))
	require.NoError(t, err)

	amount, err := l.Withdraw(Message{Sender: owner})
	require.NoError(t, err)
	assert.Equal(t, milli(5), amount)
	assert.True(t, l.Balance().IsZero())

	// a second withdraw pays nothing
	amount, err = l.Withdraw(Message{Sender: owner})
	require.NoError(t, err)
	assert.True(t, amount.IsZero())
}

func TestLedger_Execute(t *testing.T) {
	l := New(owner, milli(1))
	id := newID(t)

	data, err := PackPayForUpload(id)
	require.NoError(t, err)

	res, err := l.Execute(Message{Sender: user, Value: milli(1), Time: 42}, data)
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	assert.Equal(t, id, res.Event.CorrelationID)

	_, err = l.Execute(Message{Sender: user, Value: uint256.NewInt(5)}, data)
	assert.ErrorIs(t, err, ErrInsufficientPayment)

	data, err = PackWithdraw()
	require.NoError(t, err)
	_, err = l.Execute(Message{Sender: owner, Value: uint256.NewInt(1)}, data)
	assert.ErrorIs(t, err, ErrNonPayable)

	data, err = PackOwner()
	require.NoError(t, err)
	res, err = l.Execute(Message{Sender: user}, data)
	require.NoError(t, err)
	got, err := UnpackOwner(res.Return)
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	data, err = PackUploadFee()
	require.NoError(t, err)
	res, err = l.Execute(Message{Sender: user}, data)
	require.NoError(t, err)
	fee, err := UnpackUploadFee(res.Return)
	require.NoError(t, err)
	assert.Zero(t, milli(1).ToBig().Cmp(fee))

	_, err = l.Execute(Message{Sender: user}, []byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestPaidLog(t *testing.T) {
	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	ev := PaidEvent{
		Payer:         user,
		Amount:        big.NewInt(1e15),
		CorrelationID: newID(t),
		Timestamp:     1763450282,
	}

	log, err := EncodePaidLog(contract, ev)
	require.NoError(t, err)
	assert.Equal(t, contract, log.Address)
	require.Len(t, log.Topics, 2)
	assert.Equal(t, PaidTopic, log.Topics[0])

	rec, err := DecodePaidLog(*log)
	require.NoError(t, err)
	assert.Equal(t, ev.Payer, rec.Payer)
	assert.Equal(t, 0, ev.Amount.Cmp(rec.Amount))
	assert.Equal(t, ev.CorrelationID, rec.CorrelationID)
	assert.Equal(t, ev.Timestamp, rec.Timestamp)

	log.Topics[0] = common.Hash{}
	_, err = DecodePaidLog(*log)
	assert.True(t, errors.Is(err, ErrNotPaidLog))
}

func TestRevertSelector(t *testing.T) {
	assert.Len(t, RevertSelector("InsufficientPayment"), 4)
	assert.Len(t, RevertSelector("Unauthorized"), 4)
	assert.Nil(t, RevertSelector("Missing"))
}
