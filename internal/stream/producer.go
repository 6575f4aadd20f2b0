// internal/stream/producer.go
package stream

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/internal/config"
)

// FrameFunc receives one encoded frame. Implementations must not retain the
// slice past the call.
type FrameFunc func(frame []byte)

// Producer mirrors the live page to remote observers via the browser's native
// screencast. It acknowledges every delivered frame (the source withholds the
// next frame until the current one is acked), republishes frames to zero or
// more subscribers, and opportunistically feeds the snapshot cache so still
// reads stay fresh while streaming.
//
// At most one underlying screencast is open per session; fan-out is a
// forwarding callback, not a stream per subscriber.
type Producer struct {
	cfg    config.StreamConfig
	logger *zap.Logger
	cache  *SnapshotCache

	mu         sync.Mutex
	sessionCtx context.Context
	listenStop context.CancelFunc
	running    bool
	subs       map[uint64]FrameFunc
	nextSub    uint64
}

// NewProducer creates a producer that publishes into the given cache.
func NewProducer(cfg config.StreamConfig, cache *SnapshotCache, logger *zap.Logger) *Producer {
	return &Producer{
		cfg:    cfg,
		logger: logger.Named("producer"),
		cache:  cache,
		subs:   make(map[uint64]FrameFunc),
	}
}

// Bind attaches the producer to a live session's tab context. If subscribers
// are already waiting, streaming starts immediately.
func (p *Producer) Bind(sessionCtx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionCtx = sessionCtx
	if len(p.subs) > 0 && !p.running {
		p.startLocked()
	}
}

// Unbind detaches from the current session, stopping any open screencast.
// Detach errors are swallowed; the goal is best-effort resource release.
func (p *Producer) Unbind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.sessionCtx = nil
}

// Subscribe registers a frame callback and returns its handle. The first
// subscriber opens the screencast if a session is bound.
func (p *Producer) Subscribe(fn FrameFunc) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	if !p.running && p.sessionCtx != nil {
		p.startLocked()
	}
	return id
}

// Unsubscribe removes a subscriber; the last departure closes the screencast.
func (p *Producer) Unsubscribe(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
	if len(p.subs) == 0 {
		p.stopLocked()
	}
}

// SubscriberCount reports the number of active subscribers.
func (p *Producer) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Streaming reports whether a screencast is currently open.
func (p *Producer) Streaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// startLocked opens the screencast. Caller holds p.mu.
func (p *Producer) startLocked() {
	sessionCtx := p.sessionCtx
	if sessionCtx == nil || sessionCtx.Err() != nil {
		return
	}

	listenCtx, cancel := context.WithCancel(sessionCtx)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		p.handleFrame(sessionCtx, frame)
	})

	start := page.StartScreencast().
		WithFormat(page.ScreencastFormatJpeg).
		WithQuality(p.cfg.Quality).
		WithMaxWidth(p.cfg.MaxWidth).
		WithMaxHeight(p.cfg.MaxHeight).
		WithEveryNthFrame(p.cfg.EveryNthFrame)

	if err := chromedp.Run(sessionCtx, start); err != nil {
		p.logger.Warn("Failed to start screencast", zap.Error(err))
		cancel()
		return
	}

	p.listenStop = cancel
	p.running = true
	p.logger.Info("Screencast started",
		zap.Int64("quality", p.cfg.Quality),
		zap.Int64("max_width", p.cfg.MaxWidth),
		zap.Int64("max_height", p.cfg.MaxHeight),
	)
}

// stopLocked closes the screencast best-effort. Caller holds p.mu.
func (p *Producer) stopLocked() {
	if !p.running {
		return
	}
	p.running = false
	if p.listenStop != nil {
		p.listenStop()
		p.listenStop = nil
	}
	if p.sessionCtx != nil && p.sessionCtx.Err() == nil {
		if err := chromedp.Run(p.sessionCtx, page.StopScreencast()); err != nil {
			p.logger.Debug("Screencast stop returned error (ignored)", zap.Error(err))
		}
	}
	p.logger.Info("Screencast stopped")
}

// handleFrame runs on the CDP event dispatch path: it must acknowledge
// promptly (the source stalls otherwise) and must never block the listener.
func (p *Producer) handleFrame(sessionCtx context.Context, frame *page.EventScreencastFrame) {
	// Ack first. An ack failure stalls the feed but must not kill the session.
	go func() {
		if err := chromedp.Run(sessionCtx, page.ScreencastFrameAck(frame.SessionID)); err != nil {
			p.logger.Debug("Screencast frame ack failed (ignored)", zap.Error(err))
		}
	}()

	decoded, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		p.logger.Debug("Dropping undecodable screencast frame", zap.Error(err))
		return
	}

	// Keep the still-image fallback slot fresh while streaming.
	p.cache.StoreFrame(decoded)

	p.Publish(decoded)
}

// Publish forwards one encoded frame to every subscriber. A failing
// subscriber is isolated per frame rather than blocking the others.
func (p *Producer) Publish(frame []byte) {
	p.mu.Lock()
	targets := make([]FrameFunc, 0, len(p.subs))
	for _, fn := range p.subs {
		targets = append(targets, fn)
	}
	p.mu.Unlock()

	for _, fn := range targets {
		p.deliver(fn, frame)
	}
}

func (p *Producer) deliver(fn FrameFunc, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("Frame subscriber panicked; frame dropped for that subscriber",
				zap.Any("panic", r))
		}
	}()
	fn(frame)
}
