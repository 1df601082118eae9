package upload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/types"
)

type fakeGate struct {
	mu      sync.Mutex
	id      types.CorrelationID
	ok      bool
	discard []func()

	// afterCheck runs once, after AuthorizedID has read its answer.
	afterCheck func()
}

func (g *fakeGate) AuthorizedID() (types.CorrelationID, bool) {
	g.mu.Lock()
	id, ok, hook := g.id, g.ok, g.afterCheck
	g.afterCheck = nil
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return id, ok
}

func (g *fakeGate) OnDiscard(fn func()) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.discard = append(g.discard, fn)
	return func() {}
}

func (g *fakeGate) confirm(id types.CorrelationID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.id, g.ok = id, true
}

func (g *fakeGate) reset() {
	g.mu.Lock()
	g.id, g.ok = types.CorrelationID{}, false
	fns := append([]func(){}, g.discard...)
	g.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeRelay struct {
	mu    sync.Mutex
	calls []types.CorrelationID
	err   error
	block chan struct{}
}

func (r *fakeRelay) Upload(ctx context.Context, file *types.File, id types.CorrelationID) (*types.UploadResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	err, block := r.err, r.block
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &types.UploadResult{
		CID:  "bafkrei" + id.Hex()[2:10],
		Name: file.Name,
		Size: file.Size(),
		Type: file.ContentType,
		URL:  "https://gateway.example/ipfs/bafkrei" + id.Hex()[2:10],
	}, nil
}

func (r *fakeRelay) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func pngFile() *types.File {
	return &types.File{Name: "cat.png", ContentType: "image/png", Data: []byte("\x89PNG\r\n\x1a\n")}
}

func TestSubmitUpload_RequiresConfirmedPayment(t *testing.T) {
	gate := &fakeGate{}
	relay := &fakeRelay{}
	c := New(gate, relay)

	ids := []types.CorrelationID{{}, {1}, {0xff}}
	for _, id := range ids {
		_, err := c.SubmitUpload(context.Background(), pngFile(), id)
		require.ErrorIs(t, err, types.ErrorPaymentRequired)
	}

	// confirmed, but for a different id
	gate.confirm(types.CorrelationID{2})
	_, err := c.SubmitUpload(context.Background(), pngFile(), types.CorrelationID{1})
	require.ErrorIs(t, err, types.ErrorPaymentRequired)

	assert.Equal(t, 0, relay.callCount())
	assert.ErrorIs(t, c.Err(), types.ErrorPaymentRequired)
}

func TestSubmitUpload_PaymentCheckedBeforeFile(t *testing.T) {
	c := New(&fakeGate{}, &fakeRelay{})

	_, err := c.SubmitUpload(context.Background(), nil, types.CorrelationID{1})
	require.ErrorIs(t, err, types.ErrorPaymentRequired)
}

func TestSubmitUpload_Success(t *testing.T) {
	gate := &fakeGate{}
	relay := &fakeRelay{}
	c := New(gate, relay)

	id := types.CorrelationID{0xc1}
	gate.confirm(id)

	res, err := c.SubmitUpload(context.Background(), pngFile(), id)
	require.NoError(t, err)
	assert.Equal(t, "cat.png", res.Name)
	assert.NotEmpty(t, res.CID)
	assert.Equal(t, []types.CorrelationID{id}, relay.calls)

	got, ok := c.Result()
	require.True(t, ok)
	assert.Equal(t, res.CID, got.CID)
	assert.NoError(t, c.Err())

	// discarding the payment clears the result
	gate.reset()
	_, ok = c.Result()
	assert.False(t, ok)

	_, err = c.SubmitUpload(context.Background(), pngFile(), id)
	require.ErrorIs(t, err, types.ErrorPaymentRequired)
	assert.Equal(t, 1, relay.callCount())
}

func TestSubmitUpload_FileChecks(t *testing.T) {
	gate := &fakeGate{}
	relay := &fakeRelay{}
	c := New(gate, relay, WithMaxFileSize(16))
	id := types.CorrelationID{3}
	gate.confirm(id)

	_, err := c.SubmitUpload(context.Background(), nil, id)
	require.ErrorIs(t, err, types.ErrorNoFileSelected)

	_, err = c.SubmitUpload(context.Background(), &types.File{Name: "x.pdf", Data: make([]byte, 17)}, id)
	require.ErrorIs(t, err, types.ErrorFileTooLarge)

	assert.Equal(t, 0, relay.callCount())
}

func TestSubmitUpload_RelayFailureKeepsPayment(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
	}{
		{&clients.RelayError{StatusCode: 502, Message: "bad gateway"}, true},
		{&clients.RelayError{StatusCode: 415, Message: "Unsupported file type"}, false},
		{&clients.RelayError{Err: context.DeadlineExceeded}, true},
	}

	for _, tc := range cases {
		gate := &fakeGate{}
		relay := &fakeRelay{err: tc.err}
		c := New(gate, relay)
		id := types.CorrelationID{4}
		gate.confirm(id)

		_, err := c.SubmitUpload(context.Background(), pngFile(), id)
		require.ErrorIs(t, err, types.ErrorUploadFailed)
		assert.Equal(t, tc.retryable, types.IsRetryable(err))

		var re *clients.RelayError
		require.ErrorAs(t, err, &re)

		// payment untouched, retry reaches the relay again
		authorized, ok := gate.AuthorizedID()
		require.True(t, ok)
		assert.Equal(t, id, authorized)

		relay.mu.Lock()
		relay.err = nil
		relay.mu.Unlock()

		_, err = c.SubmitUpload(context.Background(), pngFile(), id)
		require.NoError(t, err)
		assert.Equal(t, 2, relay.callCount())
	}
}

func TestSubmitUpload_SingleFlight(t *testing.T) {
	gate := &fakeGate{}
	relay := &fakeRelay{block: make(chan struct{})}
	c := New(gate, relay)
	id := types.CorrelationID{5}
	gate.confirm(id)

	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitUpload(context.Background(), pngFile(), id)
		done <- err
	}()

	require.Eventually(t, func() bool { return relay.callCount() == 1 }, time.Second, time.Millisecond)

	_, err := c.SubmitUpload(context.Background(), pngFile(), id)
	require.ErrorIs(t, err, types.ErrorOperationInProgress)

	close(relay.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, relay.callCount())
}

func TestSubmitUpload_DiscardDuringUpload(t *testing.T) {
	gate := &fakeGate{}
	relay := &fakeRelay{block: make(chan struct{})}
	c := New(gate, relay)
	id := types.CorrelationID{6}
	gate.confirm(id)

	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitUpload(context.Background(), pngFile(), id)
		done <- err
	}()
	require.Eventually(t, func() bool { return relay.callCount() == 1 }, time.Second, time.Millisecond)

	gate.reset()
	close(relay.block)
	require.NoError(t, <-done)

	// result of the discarded attempt is not kept
	_, ok := c.Result()
	assert.False(t, ok)
}

func TestSubmitUpload_ResetAfterAuthorization(t *testing.T) {
	gate := &fakeGate{}
	relay := &fakeRelay{}
	c := New(gate, relay)
	id := types.CorrelationID{7}
	gate.confirm(id)

	// the session resets between the authorization check and the relay call
	gate.afterCheck = gate.reset

	_, err := c.SubmitUpload(context.Background(), pngFile(), id)
	require.ErrorIs(t, err, types.ErrorPaymentRequired)
	assert.Equal(t, 0, relay.callCount())
	assert.False(t, c.Busy())

	_, ok := c.Result()
	assert.False(t, ok)
	assert.ErrorIs(t, c.Err(), types.ErrorPaymentRequired)
}

func TestSubmitUpload_ClearedBeforeDiscardDelivered(t *testing.T) {
	gate := &fakeGate{}
	relay := &fakeRelay{}
	c := New(gate, relay)
	id := types.CorrelationID{9}
	gate.confirm(id)

	// the gate drops the id but its discard listeners have not run yet
	gate.afterCheck = func() {
		gate.mu.Lock()
		gate.id, gate.ok = types.CorrelationID{}, false
		gate.mu.Unlock()
	}

	_, err := c.SubmitUpload(context.Background(), pngFile(), id)
	require.ErrorIs(t, err, types.ErrorPaymentRequired)
	assert.Equal(t, 0, relay.callCount())
	assert.False(t, c.Busy())
}

func TestCoordinator_Busy(t *testing.T) {
	gate := &fakeGate{}
	relay := &fakeRelay{block: make(chan struct{})}
	c := New(gate, relay)
	id := types.CorrelationID{8}
	gate.confirm(id)
	assert.False(t, c.Busy())

	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitUpload(context.Background(), pngFile(), id)
		done <- err
	}()
	require.Eventually(t, func() bool { return relay.callCount() == 1 }, time.Second, time.Millisecond)
	assert.True(t, c.Busy())

	close(relay.block)
	require.NoError(t, <-done)
	assert.False(t, c.Busy())
}
