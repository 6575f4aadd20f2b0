// internal/browser/session_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/internal/config"
)

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		Headless:       true,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) TestAgent/1.0",
		Platform:       "Win32",
		Languages:      []string{"en-US", "en"},
		ViewportWidth:  1280,
		ViewportHeight: 800,
	}
}

func TestNewSessionHandle(t *testing.T) {
	s := NewSession(testBrowserConfig(), zap.NewNop())
	require.NotNil(t, s)

	assert.NotEmpty(t, s.ID())
	assert.False(t, s.CreatedAt().IsZero())
	assert.False(t, s.IsAlive(), "a session is not alive before Start")
	assert.Nil(t, s.Context())
}

func TestNewSessionDistinctIDs(t *testing.T) {
	a := NewSession(testBrowserConfig(), zap.NewNop())
	b := NewSession(testBrowserConfig(), zap.NewNop())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestSessionPersonaFromConfig(t *testing.T) {
	cfg := testBrowserConfig()
	s := NewSession(cfg, zap.NewNop())

	p := s.Persona()
	assert.Equal(t, cfg.UserAgent, p.UserAgent)
	assert.Equal(t, cfg.Platform, p.Platform)
	assert.Equal(t, cfg.Languages, p.Languages)
	assert.Equal(t, cfg.ViewportWidth, p.Width)
	assert.Equal(t, cfg.ViewportHeight, p.Height)
}

func TestSessionPersonaFallback(t *testing.T) {
	cfg := testBrowserConfig()
	cfg.UserAgent = ""
	s := NewSession(cfg, zap.NewNop())

	assert.NotEmpty(t, s.Persona().UserAgent, "an empty user agent falls back to the default persona")
}

func TestSessionStopBeforeStart(t *testing.T) {
	s := NewSession(testBrowserConfig(), zap.NewNop())

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
	assert.False(t, s.IsAlive())
}

func TestSessionStopReturnsPromptly(t *testing.T) {
	s := NewSession(testBrowserConfig(), zap.NewNop())

	// A tab context without a live browser behind it makes the graceful
	// close fail immediately. Stop must surface that and finish, not sit
	// out the full close window.
	tabCtx, tabCancel := context.WithCancel(context.Background())
	s.tabCtx = tabCtx
	s.tabCancel = tabCancel

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly")
	}
	assert.False(t, s.IsAlive())
}

func TestSessionStartAfterStop(t *testing.T) {
	s := NewSession(testBrowserConfig(), zap.NewNop())
	s.Stop()

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionStart)
}

func TestSessionRunBeforeStart(t *testing.T) {
	s := NewSession(testBrowserConfig(), zap.NewNop())

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionCaptureScreenshotBeforeStart(t *testing.T) {
	s := NewSession(testBrowserConfig(), zap.NewNop())

	_, err := s.CaptureScreenshot(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestBuildAllocatorOptionsNotEmpty(t *testing.T) {
	opts := buildAllocatorOptions(testBrowserConfig(), NewSession(testBrowserConfig(), zap.NewNop()).Persona())
	assert.NotEmpty(t, opts)
}
