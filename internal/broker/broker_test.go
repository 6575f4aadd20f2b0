// internal/broker/broker_test.go
package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/api/schemas"
	"github.com/voxstay/browsergate/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBroker() *Broker {
	return NewBroker(config.NewDefaultConfig(), zap.NewNop())
}

func TestParseAction(t *testing.T) {
	t.Run("search is known", func(t *testing.T) {
		a, err := ParseAction("search")
		require.NoError(t, err)
		assert.Equal(t, ActionSearch, a)
	})

	t.Run("anything else is rejected", func(t *testing.T) {
		for _, name := range []string{"", "Search", "navigate", "drop_tables"} {
			_, err := ParseAction(name)
			assert.ErrorIs(t, err, ErrUnknownAction, "name %q", name)
		}
	})
}

func TestExecuteUnknownActionDoesNotTouchSession(t *testing.T) {
	b := newTestBroker()
	defer b.Shutdown()

	resp := b.Execute(context.Background(), schemas.ExecuteRequest{
		Action:    "teleport",
		RequestID: "req-1",
	})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown action")
	assert.False(t, b.SessionAlive(), "rejected requests must not start a session")
}

func TestExecuteSearchWithoutLiveSession(t *testing.T) {
	b := newTestBroker()
	defer b.Shutdown()

	// The session slot can be emptied between the start check and the search
	// itself. A nil handle must come back as a failed response.
	var resp schemas.ExecuteResponse
	assert.NotPanics(t, func() {
		resp = b.executeSearch(context.Background(), schemas.ExecuteRequest{
			Action:    "search",
			RequestID: "req-gone",
			Params:    map[string]any{"destination": "Paris"},
		}, zap.NewNop())
	})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no live browser session")
}

func TestRefreshBoundedAppliesDeadline(t *testing.T) {
	b := newTestBroker()
	defer b.Shutdown()

	captured := []byte("frame")
	b.cache.Bind(func(ctx context.Context) ([]byte, error) {
		if _, ok := ctx.Deadline(); !ok {
			return nil, context.DeadlineExceeded
		}
		return captured, nil
	})

	data, err := b.refreshBounded(context.Background())
	require.NoError(t, err, "capture ran without a deadline")
	assert.Equal(t, captured, data)
}

func TestSendInputWithoutSession(t *testing.T) {
	b := newTestBroker()
	defer b.Shutdown()

	ok := b.SendInput(schemas.InputEvent{Type: schemas.InputClick, X: 10, Y: 10})
	assert.False(t, ok)
}

func TestLatestSnapshotWithoutSession(t *testing.T) {
	b := newTestBroker()
	defer b.Shutdown()

	data, ok := b.LatestSnapshot(context.Background())
	assert.Nil(t, data)
	assert.False(t, ok)
}

func TestShutdownIsIdempotent(t *testing.T) {
	b := newTestBroker()

	assert.NotPanics(t, func() {
		b.Shutdown()
		b.Shutdown()
	})
}

func TestEnsureStartedAfterShutdown(t *testing.T) {
	b := newTestBroker()
	b.Shutdown()

	err := b.EnsureStarted(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestExecuteAfterShutdown(t *testing.T) {
	b := newTestBroker()
	b.Shutdown()

	resp := b.Execute(context.Background(), schemas.ExecuteRequest{
		Action: "search",
		Params: map[string]any{"destination": "Paris"},
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "shut down")
}

func TestSubscribeUnsubscribeWithoutSession(t *testing.T) {
	b := newTestBroker()
	defer b.Shutdown()

	id := b.Subscribe(func([]byte) {})
	assert.NotZero(t, id)
	b.Unsubscribe(id)
}

func TestStopPollWithoutStart(t *testing.T) {
	b := newTestBroker()
	defer b.Shutdown()

	assert.NotPanics(t, func() { b.stopPoll() })
}

func TestParseSearchParams(t *testing.T) {
	t.Run("full map", func(t *testing.T) {
		got := parseSearchParams(map[string]any{
			"destination":   "Paris",
			"checkin_date":  "2025-06-01",
			"checkout_date": "2025-06-04",
			"adults":        float64(3),
		})
		assert.Equal(t, schemas.SearchParams{
			Destination:  "Paris",
			CheckinDate:  "2025-06-01",
			CheckoutDate: "2025-06-04",
			Adults:       3,
		}, got)
	})

	t.Run("adults as string", func(t *testing.T) {
		got := parseSearchParams(map[string]any{"destination": "Oslo", "adults": "4"})
		assert.Equal(t, 4, got.Adults)
	})

	t.Run("adults defaults to two", func(t *testing.T) {
		got := parseSearchParams(map[string]any{"destination": "Oslo"})
		assert.Equal(t, 2, got.Adults)
	})

	t.Run("nil map", func(t *testing.T) {
		got := parseSearchParams(nil)
		assert.Empty(t, got.Destination)
		assert.Equal(t, 2, got.Adults)
	})
}
