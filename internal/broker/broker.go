// internal/broker/broker.go
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voxstay/browsergate/api/schemas"
	"github.com/voxstay/browsergate/internal/browser"
	"github.com/voxstay/browsergate/internal/config"
	"github.com/voxstay/browsergate/internal/extract"
	"github.com/voxstay/browsergate/internal/input"
	"github.com/voxstay/browsergate/internal/stream"
)

var (
	// ErrUnknownAction is returned for action names outside the supported
	// set. The session is never touched in that case.
	ErrUnknownAction = errors.New("unknown action")

	// ErrShutdown is returned when the broker has already been shut down.
	ErrShutdown = errors.New("broker is shut down")
)

// Action is the closed set of operations the broker executes. Using a typed
// constant keeps dispatch a compile-time concern instead of a runtime string
// compare scattered across handlers.
type Action int

const (
	// ActionSearch runs the destination-search workflow.
	ActionSearch Action = iota
)

// ParseAction maps a wire-level action name onto the closed set.
func ParseAction(name string) (Action, error) {
	switch name {
	case "search":
		return ActionSearch, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}

// Broker coordinates the session handle, frame producer, snapshot cache,
// input forwarder and extraction engine. It enforces at-most-one live
// session and owns all teardown ordering. Construct one per process and
// inject it; there is no ambient global instance.
type Broker struct {
	cfg    *config.Config
	logger *zap.Logger

	cache     *stream.SnapshotCache
	producer  *stream.Producer
	forwarder *input.Forwarder

	mu      sync.Mutex
	session *browser.Session

	// Background frame-cache poll task for the in-flight execute call.
	// Cancelled and awaited before the call returns.
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	closed bool
}

// NewBroker wires the component graph. The forwarder and producer observe
// the current session through the broker, so session replacement is
// transparent to them.
func NewBroker(cfg *config.Config, logger *zap.Logger) *Broker {
	b := &Broker{
		cfg:    cfg,
		logger: logger.Named("broker"),
	}
	b.cache = stream.NewSnapshotCache(cfg.Snapshot.MinInterval, logger)
	b.producer = stream.NewProducer(cfg.Stream, b.cache, logger)
	b.forwarder = input.NewForwarder(b.sessionContext, logger)
	return b
}

// sessionContext yields the live tab context for input forwarding, or nil.
func (b *Broker) sessionContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil || !b.session.IsAlive() {
		return nil
	}
	return b.session.Context()
}

// EnsureStarted lazily brings up a live session. Safe to call repeatedly;
// an already-live session is left untouched. Used both by Execute and by
// the service layer's pre-warm path.
func (b *Broker) EnsureStarted(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensureStartedLocked(ctx)
}

func (b *Broker) ensureStartedLocked(ctx context.Context) error {
	if b.closed {
		return ErrShutdown
	}
	if b.session != nil && b.session.IsAlive() {
		return nil
	}

	// Two-phase replacement: detach producers from the dying session
	// before its teardown, then install the new one.
	b.detachSessionLocked()

	sess := browser.NewSession(b.cfg.Browser, b.logger)
	if err := sess.Start(ctx); err != nil {
		return err
	}

	b.session = sess
	b.cache.Reset()
	b.cache.Bind(sess.CaptureScreenshot)
	b.producer.Bind(sess.Context())
	b.logger.Info("Browser session is live", zap.String("session_id", sess.ID()))
	return nil
}

// detachSessionLocked unbinds producers and tears down the current session.
// Teardown is best-effort; each step swallows its own errors.
func (b *Broker) detachSessionLocked() {
	b.stopPollLocked()
	b.producer.Unbind()
	b.cache.Reset()
	if b.session != nil {
		b.session.Stop()
		b.session = nil
	}
}

// Execute runs one action request end-to-end. Unknown actions fail fast
// without touching the session. The session deliberately stays live after a
// successful run so observers can keep interacting with the page.
func (b *Broker) Execute(ctx context.Context, req schemas.ExecuteRequest) schemas.ExecuteResponse {
	log := b.logger.With(zap.String("request_id", req.RequestID), zap.String("action", req.Action))

	action, err := ParseAction(req.Action)
	if err != nil {
		log.Warn("Rejecting request", zap.Error(err))
		return schemas.ExecuteResponse{Success: false, Error: err.Error()}
	}

	if err := b.EnsureStarted(ctx); err != nil {
		log.Error("Could not obtain a browser session", zap.Error(err))
		return schemas.ExecuteResponse{Success: false, Error: err.Error()}
	}

	// Keep the snapshot cache warm for observers while automation runs.
	// The task is scoped to this call: cancelled and awaited on every exit
	// path so it never races a later session teardown.
	b.startPoll()
	defer b.stopPoll()

	switch action {
	case ActionSearch:
		return b.executeSearch(ctx, req, log)
	default:
		return schemas.ExecuteResponse{Success: false, Error: ErrUnknownAction.Error()}
	}
}

func (b *Broker) executeSearch(ctx context.Context, req schemas.ExecuteRequest, log *zap.Logger) schemas.ExecuteResponse {
	params := parseSearchParams(req.Params)
	if params.Destination == "" {
		return schemas.ExecuteResponse{Success: false, Error: "search requires a destination"}
	}

	// The session can be replaced or shut down between EnsureStarted and
	// this point; a dead handle here is an error response, not a crash.
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()
	if sess == nil || !sess.IsAlive() {
		log.Warn("Session disappeared before the search could run")
		return schemas.ExecuteResponse{Success: false, Error: "no live browser session"}
	}

	engine := extract.NewEngine(extract.NewCDPDriver(sess.Run), b.cfg.Search, b.logger)
	result, err := engine.Search(ctx, params)
	if err != nil {
		log.Error("Search flow failed", zap.Error(err))
		b.captureDiagnostic(log)
		return schemas.ExecuteResponse{Success: false, Error: err.Error()}
	}

	log.Info("Search flow finished", zap.String("outcome", result.Outcome.String()))
	return schemas.ExecuteResponse{Success: true, Result: result.Summary}
}

// snapshotTimeout caps any single on-demand capture so a hung tab cannot
// hold a request handler past its own timeout.
const snapshotTimeout = 5 * time.Second

// captureDiagnostic grabs one snapshot before a failure is surfaced, so the
// page state at the moment of failure lands in the cache for inspection.
func (b *Broker) captureDiagnostic(log *zap.Logger) {
	if _, err := b.refreshBounded(context.Background()); err != nil {
		log.Debug("Diagnostic capture failed", zap.Error(err))
	}
}

// refreshBounded wraps one cache refresh in the capture deadline.
func (b *Broker) refreshBounded(ctx context.Context) ([]byte, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	return b.cache.Refresh(refreshCtx)
}

// startPoll launches the fallback frame-cache poll. While the screencast is
// streaming the poll only paces itself; it captures when no stream is up.
// The session context is captured once at launch: the loop never touches
// the broker mutex, so stopping the poll under that mutex cannot deadlock.
func (b *Broker) startPoll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopPollLocked()

	if b.session == nil || !b.session.IsAlive() {
		return
	}
	sessCtx := b.session.Context()

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.pollCancel = cancel
	b.pollDone = done

	go b.pollLoop(pollCtx, sessCtx, done)
}

func (b *Broker) pollLoop(ctx, sessCtx context.Context, done chan<- struct{}) {
	defer close(done)

	limiter := rate.NewLimiter(rate.Every(b.cfg.Stream.FallbackInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if sessCtx.Err() != nil {
			return
		}
		if b.producer.Streaming() {
			continue
		}
		if _, err := b.cache.Refresh(sessCtx); err != nil {
			b.logger.Debug("Fallback snapshot poll failed", zap.Error(err))
		}
	}
}

// stopPoll cancels the poll task and waits for it to finish.
func (b *Broker) stopPoll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopPollLocked()
}

func (b *Broker) stopPollLocked() {
	if b.pollCancel == nil {
		return
	}
	b.pollCancel()
	<-b.pollDone
	b.pollCancel = nil
	b.pollDone = nil
}

// LatestSnapshot returns the freshest cached page image, honoring the
// debounce window. The boolean is false when nothing has been captured yet.
func (b *Broker) LatestSnapshot(ctx context.Context) ([]byte, bool) {
	sessCtx := b.sessionContext()
	if sessCtx == nil {
		return b.cache.Latest()
	}
	data, err := b.refreshBounded(sessCtx)
	if err != nil {
		return b.cache.Latest()
	}
	return data, true
}

// Subscribe registers a frame callback and returns its handle.
func (b *Broker) Subscribe(fn stream.FrameFunc) uint64 {
	return b.producer.Subscribe(fn)
}

// Unsubscribe removes a frame callback by handle.
func (b *Broker) Unsubscribe(id uint64) {
	b.producer.Unsubscribe(id)
}

// SendInput forwards one observer event onto the live page. Best-effort:
// returns false when there is no live session or dispatch fails.
func (b *Broker) SendInput(ev schemas.InputEvent) bool {
	return b.forwarder.Forward(ev)
}

// SessionAlive reports whether a live session currently exists.
func (b *Broker) SessionAlive() bool {
	return b.sessionContext() != nil
}

// Shutdown tears everything down. Idempotent, and safe to call even if the
// broker never started a session.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.detachSessionLocked()
	b.logger.Info("Broker shut down")
}

// parseSearchParams pulls the typed search parameters out of the loose wire
// map. Adults tolerates both numeric and string encodings since upstream
// tool callers are inconsistent about it.
func parseSearchParams(params map[string]any) schemas.SearchParams {
	out := schemas.SearchParams{Adults: 2}
	if v, ok := params["destination"].(string); ok {
		out.Destination = v
	}
	if v, ok := params["checkin_date"].(string); ok {
		out.CheckinDate = v
	}
	if v, ok := params["checkout_date"].(string); ok {
		out.CheckoutDate = v
	}
	switch v := params["adults"].(type) {
	case float64:
		out.Adults = int(v)
	case int:
		out.Adults = v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			out.Adults = n
		}
	}
	return out
}
