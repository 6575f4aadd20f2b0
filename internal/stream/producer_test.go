// internal/stream/producer_test.go
package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/internal/config"
)

func newTestProducer() *Producer {
	cfg := config.StreamConfig{
		Quality:          60,
		MaxWidth:         1280,
		MaxHeight:        800,
		EveryNthFrame:    1,
		FallbackInterval: 400 * time.Millisecond,
	}
	cache := NewSnapshotCache(300*time.Millisecond, zap.NewNop())
	return NewProducer(cfg, cache, zap.NewNop())
}

func TestProducerSubscribeWithoutSession(t *testing.T) {
	p := newTestProducer()

	id := p.Subscribe(func([]byte) {})
	assert.Equal(t, 1, p.SubscriberCount())
	assert.False(t, p.Streaming(), "no session bound, so no screencast should open")

	p.Unsubscribe(id)
	assert.Equal(t, 0, p.SubscriberCount())
}

func TestProducerPublishFanOut(t *testing.T) {
	p := newTestProducer()

	var got1, got2 [][]byte
	id1 := p.Subscribe(func(f []byte) { got1 = append(got1, f) })
	id2 := p.Subscribe(func(f []byte) { got2 = append(got2, f) })
	defer p.Unsubscribe(id1)
	defer p.Unsubscribe(id2)

	p.Publish([]byte("frame-a"))
	p.Publish([]byte("frame-b"))

	assert.Len(t, got1, 2)
	assert.Len(t, got2, 2)
	assert.Equal(t, []byte("frame-a"), got1[0])
	assert.Equal(t, []byte("frame-b"), got2[1])
}

func TestProducerPublishIsolatesPanickingSubscriber(t *testing.T) {
	p := newTestProducer()

	var delivered int
	idBad := p.Subscribe(func([]byte) { panic("broken observer") })
	idGood := p.Subscribe(func([]byte) { delivered++ })
	defer p.Unsubscribe(idBad)
	defer p.Unsubscribe(idGood)

	assert.NotPanics(t, func() { p.Publish([]byte("frame")) })
	assert.Equal(t, 1, delivered, "one bad subscriber must not starve the rest")
}

func TestProducerUnsubscribeUnknownID(t *testing.T) {
	p := newTestProducer()
	assert.NotPanics(t, func() { p.Unsubscribe(42) })
}

func TestProducerUnbindWithoutBind(t *testing.T) {
	p := newTestProducer()
	assert.NotPanics(t, func() { p.Unbind() })
	assert.False(t, p.Streaming())
}
