// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/api/schemas"
	"github.com/voxstay/browsergate/internal/browser/stealth"
	"github.com/voxstay/browsergate/internal/config"
)

// ErrSessionStart indicates the browser process could not be launched or did
// not become responsive. Fatal for that attempt; callers should retry with backoff.
var ErrSessionStart = errors.New("browser session start failed")

// ErrSessionClosed indicates an operation was issued against a torn-down session.
var ErrSessionClosed = errors.New("browser session is closed")

// Session owns exactly one headless browser process and one page (tab).
// It is the single shared mutable resource of the system; the broker is the
// sole authority for replacing or destroying it.
type Session struct {
	id        string
	createdAt time.Time
	cfg       config.BrowserConfig
	persona   schemas.Persona
	logger    *zap.Logger

	// allocCtx manages the browser process. The tab context derives from it.
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSession creates an unstarted session handle. Start must be called next.
func NewSession(cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.New().String()
	persona := schemas.Persona{
		UserAgent: cfg.UserAgent,
		Platform:  cfg.Platform,
		Languages: cfg.Languages,
		Width:     cfg.ViewportWidth,
		Height:    cfg.ViewportHeight,
	}
	if persona.UserAgent == "" {
		persona = schemas.DefaultPersona
	}
	return &Session{
		id:        id,
		createdAt: time.Now(),
		cfg:       cfg,
		persona:   persona,
		logger:    logger.Named("session").With(zap.String("session_id", id[:8])),
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Persona returns the fingerprint profile applied to this session.
func (s *Session) Persona() schemas.Persona { return s.persona }

// Context returns the tab context all page operations run against. It is nil
// before Start and cancelled after Stop.
func (s *Session) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabCtx
}

// IsAlive is a cheap check used by all other components to avoid operating on
// a torn-down session.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed && s.tabCtx != nil && s.tabCtx.Err() == nil
}

// Start launches the headless browser with a fixed viewport and a spoofed
// persona, verifies responsiveness, and applies anti-detection hardening
// before any navigation occurs.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("%w: session already started", ErrSessionStart)
	}
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: session already closed", ErrSessionStart)
	}

	opts := buildAllocatorOptions(s.cfg, s.persona)

	// The allocator is parented to Background deliberately: the session must
	// outlive the action-execution call that lazily created it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s.allocCtx = allocCtx
	s.allocCancel = allocCancel
	s.tabCtx = tabCtx
	s.tabCancel = tabCancel
	s.started = true
	s.mu.Unlock()

	startTimeout := s.cfg.StartTimeout
	if startTimeout <= 0 {
		startTimeout = 30 * time.Second
	}

	// Verify the browser starts and responds within the configured bound.
	verifyCtx, cancelVerify := context.WithTimeout(tabCtx, startTimeout)
	defer cancelVerify()
	if err := chromedp.Run(verifyCtx, chromedp.Navigate("about:blank")); err != nil {
		s.teardown()
		return fmt.Errorf("%w: browser failed to start or respond: %v", ErrSessionStart, err)
	}

	// Hardening must land before the first real navigation.
	if err := chromedp.Run(tabCtx, stealth.Apply(s.persona, s.logger)); err != nil {
		s.teardown()
		return fmt.Errorf("%w: failed to apply stealth persona: %v", ErrSessionStart, err)
	}

	s.logger.Info("Browser session started",
		zap.Int64("viewport_width", s.persona.Width),
		zap.Int64("viewport_height", s.persona.Height),
	)
	return nil
}

// Stop performs best-effort, order-independent teardown of the page and the
// browser process. Each teardown step is isolated so that failure of one does
// not prevent attempting the others. Safe to call repeatedly.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tabCancel := s.tabCancel
	tabCtx := s.tabCtx
	allocCancel := s.allocCancel
	s.mu.Unlock()

	if tabCtx != nil {
		// chromedp.Cancel waits for the browser to acknowledge the close;
		// give it a bounded window before forcing teardown.
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := chromedp.Cancel(tabCtx); err != nil {
				s.logger.Debug("Graceful tab close returned error (ignored)", zap.Error(err))
			}
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.logger.Warn("Graceful tab close timed out; forcing teardown")
		}
	}
	if tabCancel != nil {
		tabCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
	s.logger.Info("Browser session stopped")
}

// teardown is the Start failure path; it mirrors Stop without logging success.
func (s *Session) teardown() {
	s.mu.Lock()
	s.closed = true
	tabCancel := s.tabCancel
	allocCancel := s.allocCancel
	s.mu.Unlock()

	if tabCancel != nil {
		tabCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
}

// Run executes chromedp actions against the live page. The supplied ctx
// bounds the operation; the tab context bounds the session lifetime.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx := s.Context()
	if tabCtx == nil || tabCtx.Err() != nil {
		return ErrSessionClosed
	}

	runCtx := tabCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// CaptureScreenshot grabs a lossless PNG of the current viewport.
func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// buildAllocatorOptions assembles the flags for a stealthy headless instance,
// stripping the defaults that reveal automation.
func buildAllocatorOptions(cfg config.BrowserConfig, persona schemas.Persona) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		// The default option set advertises automation; switch it back off.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		// Disable the Blink feature behind navigator.webdriver detection.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.WindowSize(int(persona.Width), int(persona.Height)),
		chromedp.UserAgent(persona.UserAgent),
	)

	// Custom arguments from the config file.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers (e.g. Docker on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}
