// internal/input/forwarder.go
package input

import (
	"context"

	cdpinput "github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/api/schemas"
)

// keyText maps the supported named keys to the control-character text payload
// the browser engine expects. Unmapped names dispatch with an empty payload.
var keyText = map[string]string{
	"Enter":     "\r",
	"Tab":       "\t",
	"Backspace": "\b",
	"Escape":    "\x1b",
	"Delete":    "\x7f",
}

// Dispatcher sends low-level input events to the browser engine. The
// production implementation wraps CDP; tests substitute a mock.
type Dispatcher interface {
	DispatchMouseEvent(ctx context.Context, p *cdpinput.DispatchMouseEventParams) error
	DispatchKeyEvent(ctx context.Context, p *cdpinput.DispatchKeyEventParams) error
}

// CDPDispatcher is the production Dispatcher backed by chromedp.
type CDPDispatcher struct{}

func (CDPDispatcher) DispatchMouseEvent(ctx context.Context, p *cdpinput.DispatchMouseEventParams) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return p.Do(c)
	}))
}

func (CDPDispatcher) DispatchKeyEvent(ctx context.Context, p *cdpinput.DispatchKeyEventParams) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return p.Do(c)
	}))
}

// SessionSource yields the live page's tab context, or nil when no live
// session exists.
type SessionSource func() context.Context

// Forwarder translates abstract observer input events into low-level input
// dispatch calls on the current page. Every method is fire-and-forget from
// the caller's perspective: it returns success as a boolean and never
// propagates an error. Events arriving with no live session are dropped
// silently (logged, not surfaced).
type Forwarder struct {
	logger     *zap.Logger
	dispatcher Dispatcher
	source     SessionSource
}

// NewForwarder creates a production forwarder bound to a session source.
func NewForwarder(source SessionSource, logger *zap.Logger) *Forwarder {
	return NewForwarderWithDispatcher(source, CDPDispatcher{}, logger)
}

// NewForwarderWithDispatcher allows injecting the dispatcher, for tests.
func NewForwarderWithDispatcher(source SessionSource, d Dispatcher, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		logger:     logger.Named("input"),
		dispatcher: d,
		source:     source,
	}
}

// Forward routes one observer event to the matching primitive.
func (f *Forwarder) Forward(ev schemas.InputEvent) bool {
	switch ev.Type {
	case schemas.InputClick:
		return f.Click(ev.X, ev.Y)
	case schemas.InputMove:
		return f.Move(ev.X, ev.Y)
	case schemas.InputScroll:
		return f.Scroll(ev.X, ev.Y, ev.DeltaX, ev.DeltaY)
	case schemas.InputKeypress:
		return f.Key(ev.Key)
	case schemas.InputText:
		return f.Text(ev.Text)
	default:
		f.logger.Debug("Dropping input event of unknown type", zap.String("type", string(ev.Type)))
		return false
	}
}

// Click dispatches a synthetic press-then-release pair at the given coordinates.
func (f *Forwarder) Click(x, y int64) bool {
	ctx := f.liveContext()
	if ctx == nil {
		return false
	}
	fx, fy := float64(x), float64(y)

	press := cdpinput.DispatchMouseEvent(cdpinput.MousePressed, fx, fy).
		WithButton(cdpinput.Left).
		WithClickCount(1)
	if err := f.dispatcher.DispatchMouseEvent(ctx, press); err != nil {
		f.logger.Warn("Click press dispatch failed; event dropped", zap.Error(err))
		return false
	}

	release := cdpinput.DispatchMouseEvent(cdpinput.MouseReleased, fx, fy).
		WithButton(cdpinput.Left).
		WithClickCount(1)
	if err := f.dispatcher.DispatchMouseEvent(ctx, release); err != nil {
		f.logger.Warn("Click release dispatch failed; event dropped", zap.Error(err))
		return false
	}
	return true
}

// Move dispatches a pointer move to the given coordinates.
func (f *Forwarder) Move(x, y int64) bool {
	ctx := f.liveContext()
	if ctx == nil {
		return false
	}
	move := cdpinput.DispatchMouseEvent(cdpinput.MouseMoved, float64(x), float64(y))
	if err := f.dispatcher.DispatchMouseEvent(ctx, move); err != nil {
		f.logger.Warn("Move dispatch failed; event dropped", zap.Error(err))
		return false
	}
	return true
}

// Scroll dispatches a wheel event with explicit deltas at the given position.
func (f *Forwarder) Scroll(x, y, deltaX, deltaY int64) bool {
	ctx := f.liveContext()
	if ctx == nil {
		return false
	}
	wheel := cdpinput.DispatchMouseEvent(cdpinput.MouseWheel, float64(x), float64(y)).
		WithDeltaX(float64(deltaX)).
		WithDeltaY(float64(deltaY))
	if err := f.dispatcher.DispatchMouseEvent(ctx, wheel); err != nil {
		f.logger.Warn("Scroll dispatch failed; event dropped", zap.Error(err))
		return false
	}
	return true
}

// Key dispatches one named key press as a down/up pair. Known names carry
// their control-character text payload; unknown names go out best-effort with
// an empty payload.
func (f *Forwarder) Key(name string) bool {
	ctx := f.liveContext()
	if ctx == nil {
		return false
	}
	return f.pressKey(ctx, name, keyText[name])
}

// Text dispatches one key-down/key-up pair per character, preserving input
// ordering. Characters are never coalesced.
func (f *Forwarder) Text(text string) bool {
	ctx := f.liveContext()
	if ctx == nil {
		return false
	}
	for _, r := range text {
		ch := string(r)
		if !f.pressKey(ctx, ch, ch) {
			return false
		}
	}
	return true
}

// pressKey issues the down/up pair for one logical key.
func (f *Forwarder) pressKey(ctx context.Context, key, text string) bool {
	down := cdpinput.DispatchKeyEvent(cdpinput.KeyDown).
		WithKey(key).
		WithText(text)
	if err := f.dispatcher.DispatchKeyEvent(ctx, down); err != nil {
		f.logger.Warn("Key down dispatch failed; event dropped",
			zap.String("key", key), zap.Error(err))
		return false
	}

	up := cdpinput.DispatchKeyEvent(cdpinput.KeyUp).WithKey(key)
	if err := f.dispatcher.DispatchKeyEvent(ctx, up); err != nil {
		f.logger.Warn("Key up dispatch failed; event dropped",
			zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// liveContext returns a usable tab context, or nil when the event must be
// dropped (no session, or session torn down).
func (f *Forwarder) liveContext() context.Context {
	if f.source == nil {
		return nil
	}
	ctx := f.source()
	if ctx == nil || ctx.Err() != nil {
		f.logger.Debug("Input event dropped: no live session")
		return nil
	}
	return ctx
}
