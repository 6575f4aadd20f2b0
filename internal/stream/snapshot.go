// internal/stream/snapshot.go
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoCapture indicates the cache has no capture function bound (no live page)
// and nothing cached to serve.
var ErrNoCapture = errors.New("no capture source available")

// CaptureFunc produces a still image of the current page content.
type CaptureFunc func(ctx context.Context) ([]byte, error)

// SnapshotCache is the on-demand, debounced still-image path used when no
// screencast subscriber exists. A new capture is taken at most once per
// minimum interval; reads inside the window return the previously cached
// bytes unchanged.
type SnapshotCache struct {
	logger      *zap.Logger
	minInterval time.Duration

	// now is swappable so the debounce window is testable.
	now func() time.Time

	group singleflight.Group

	mu         sync.RWMutex
	capture    CaptureFunc
	data       []byte
	capturedAt time.Time
}

// NewSnapshotCache creates an empty cache with the given debounce interval.
func NewSnapshotCache(minInterval time.Duration, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		logger:      logger.Named("snapshot"),
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Bind installs the capture source for the current session. A nil fn detaches it.
func (c *SnapshotCache) Bind(fn CaptureFunc) {
	c.mu.Lock()
	c.capture = fn
	c.mu.Unlock()
}

// Reset clears the cached bytes, typically when a replacement session begins.
func (c *SnapshotCache) Reset() {
	c.mu.Lock()
	c.data = nil
	c.capturedAt = time.Time{}
	c.mu.Unlock()
}

// Latest returns the most recent snapshot bytes. The second return value is
// false when no page content has ever been captured; that is an expected
// "not yet available" signal, not an error.
func (c *SnapshotCache) Latest() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.data) == 0 {
		return nil, false
	}
	return c.data, true
}

// StoreFrame installs externally produced image bytes (typically decoded
// screencast frames) into the fallback slot so still reads stay fresh while
// streaming is active.
func (c *SnapshotCache) StoreFrame(data []byte) {
	if len(data) == 0 {
		return
	}
	c.mu.Lock()
	c.data = data
	c.capturedAt = c.now()
	c.mu.Unlock()
}

// Refresh returns snapshot bytes, re-capturing from the live page only when
// the debounce window has elapsed. Concurrent refreshes past the window
// collapse into a single capture.
func (c *SnapshotCache) Refresh(ctx context.Context) ([]byte, error) {
	if data, fresh := c.cached(); fresh {
		return data, nil
	}

	v, err, _ := c.group.Do("capture", func() (interface{}, error) {
		// Another caller may have completed a capture while we queued.
		if data, fresh := c.cached(); fresh {
			return data, nil
		}

		c.mu.RLock()
		capture := c.capture
		c.mu.RUnlock()
		if capture == nil {
			if data, ok := c.Latest(); ok {
				return data, nil
			}
			return nil, ErrNoCapture
		}

		data, err := capture(ctx)
		if err != nil {
			c.logger.Debug("Snapshot capture failed", zap.Error(err))
			// Serve stale bytes over nothing.
			if prev, ok := c.Latest(); ok {
				return prev, nil
			}
			return nil, err
		}

		c.StoreFrame(data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// cached reports the current bytes and whether they are still inside the
// debounce window.
func (c *SnapshotCache) cached() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.data) == 0 {
		return nil, false
	}
	return c.data, c.now().Sub(c.capturedAt) < c.minInterval
}
