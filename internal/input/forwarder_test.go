// internal/input/forwarder_test.go
package input

import (
	"context"
	"errors"
	"sync"
	"testing"

	cdpinput "github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/api/schemas"
)

// mockDispatcher records dispatched events for inspection.
type mockDispatcher struct {
	mu          sync.Mutex
	mouseEvents []*cdpinput.DispatchMouseEventParams
	keyEvents   []*cdpinput.DispatchKeyEventParams
	returnErr   error
}

func (m *mockDispatcher) DispatchMouseEvent(ctx context.Context, p *cdpinput.DispatchMouseEventParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.returnErr != nil {
		return m.returnErr
	}
	m.mouseEvents = append(m.mouseEvents, p)
	return nil
}

func (m *mockDispatcher) DispatchKeyEvent(ctx context.Context, p *cdpinput.DispatchKeyEventParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.returnErr != nil {
		return m.returnErr
	}
	m.keyEvents = append(m.keyEvents, p)
	return nil
}

func liveSource() SessionSource {
	return func() context.Context { return context.Background() }
}

func deadSource() SessionSource {
	return func() context.Context { return nil }
}

func newTestForwarder(source SessionSource) (*Forwarder, *mockDispatcher) {
	d := &mockDispatcher{}
	return NewForwarderWithDispatcher(source, d, zap.NewNop()), d
}

func TestForwarderNoLiveSession(t *testing.T) {
	f, d := newTestForwarder(deadSource())

	assert.False(t, f.Click(10, 20))
	assert.False(t, f.Move(1, 2))
	assert.False(t, f.Scroll(0, 0, 0, -120))
	assert.False(t, f.Key("Enter"))
	assert.False(t, f.Text("hi"))
	assert.Empty(t, d.mouseEvents, "dropped events must have no side effects")
	assert.Empty(t, d.keyEvents)
}

func TestForwarderClickDispatchesPressRelease(t *testing.T) {
	f, d := newTestForwarder(liveSource())

	require.True(t, f.Click(100, 250))
	require.Len(t, d.mouseEvents, 2)

	press, release := d.mouseEvents[0], d.mouseEvents[1]
	assert.Equal(t, cdpinput.MousePressed, press.Type)
	assert.Equal(t, cdpinput.MouseReleased, release.Type)
	assert.Equal(t, float64(100), press.X)
	assert.Equal(t, float64(250), press.Y)
	assert.Equal(t, cdpinput.Left, press.Button)
	assert.Equal(t, int64(1), press.ClickCount)
}

func TestForwarderScrollCarriesDeltas(t *testing.T) {
	f, d := newTestForwarder(liveSource())

	require.True(t, f.Scroll(50, 60, 0, -240))
	require.Len(t, d.mouseEvents, 1)

	wheel := d.mouseEvents[0]
	assert.Equal(t, cdpinput.MouseWheel, wheel.Type)
	assert.Equal(t, float64(0), wheel.DeltaX)
	assert.Equal(t, float64(-240), wheel.DeltaY)
}

func TestForwarderKeyMapping(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		wantText string
	}{
		{"enter maps to carriage return", "Enter", "\r"},
		{"tab maps to tab", "Tab", "\t"},
		{"backspace maps to backspace", "Backspace", "\b"},
		{"escape maps to escape", "Escape", "\x1b"},
		{"delete maps to del", "Delete", "\x7f"},
		{"unknown key sends empty payload", "F13", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, d := newTestForwarder(liveSource())

			require.True(t, f.Key(tt.key))
			require.Len(t, d.keyEvents, 2, "expected a down/up pair")
			assert.Equal(t, cdpinput.KeyDown, d.keyEvents[0].Type)
			assert.Equal(t, tt.wantText, d.keyEvents[0].Text)
			assert.Equal(t, cdpinput.KeyUp, d.keyEvents[1].Type)
		})
	}
}

func TestForwarderTextTypesPerCharacter(t *testing.T) {
	f, d := newTestForwarder(liveSource())

	require.True(t, f.Text("abc"))
	require.Len(t, d.keyEvents, 6, "one down/up pair per character")

	assert.Equal(t, "a", d.keyEvents[0].Text)
	assert.Equal(t, cdpinput.KeyDown, d.keyEvents[0].Type)
	assert.Equal(t, cdpinput.KeyUp, d.keyEvents[1].Type)
	assert.Equal(t, "b", d.keyEvents[2].Text)
	assert.Equal(t, "c", d.keyEvents[4].Text)
}

func TestForwarderDispatchErrorReturnsFalse(t *testing.T) {
	d := &mockDispatcher{returnErr: errors.New("transport lost")}
	f := NewForwarderWithDispatcher(liveSource(), d, zap.NewNop())

	assert.False(t, f.Click(1, 1))
	assert.False(t, f.Key("Enter"))
	assert.False(t, f.Text("x"))
}

func TestForwarderForwardRoutesByType(t *testing.T) {
	f, d := newTestForwarder(liveSource())

	assert.True(t, f.Forward(schemas.InputEvent{Type: schemas.InputClick, X: 5, Y: 5}))
	assert.True(t, f.Forward(schemas.InputEvent{Type: schemas.InputMove, X: 9, Y: 9}))
	assert.True(t, f.Forward(schemas.InputEvent{Type: schemas.InputScroll, DeltaY: -10}))
	assert.True(t, f.Forward(schemas.InputEvent{Type: schemas.InputKeypress, Key: "Enter"}))
	assert.True(t, f.Forward(schemas.InputEvent{Type: schemas.InputText, Text: "ok"}))
	assert.False(t, f.Forward(schemas.InputEvent{Type: "pinch"}))

	assert.Len(t, d.mouseEvents, 4) // press, release, move, wheel
	assert.Len(t, d.keyEvents, 6)   // Enter pair + "ok" pairs
}
