// internal/extract/engine.go
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/api/schemas"
	"github.com/voxstay/browsergate/internal/config"
)

var (
	// ErrNavigationTimeout is returned when the destination site root does
	// not load within the configured bound.
	ErrNavigationTimeout = errors.New("navigation timed out")

	// ErrElementNotFound marks a selector lookup that came back empty. Most
	// lookups treat it as a recoverable value and fall through to the next
	// strategy.
	ErrElementNotFound = errors.New("element not found")

	// ErrExtractionExhausted marks a polling loop that ran out of attempts
	// without producing data. It never escapes Search; it only shows up in
	// logs.
	ErrExtractionExhausted = errors.New("extraction attempts exhausted")
)

// Selectors for the target site. Kept in one place since they are the part
// most likely to rot when the site ships a redesign.
const (
	selSearchField         = `input[name="ss"]`
	selSearchFieldFallback = `[aria-autocomplete="list"]`
	selAutocompleteItem    = `li[data-testid="autocomplete-result"]`
	selSubmitButton        = `button[type="submit"]`
	selResultCard          = `[data-testid="property-card"]`
)

// overlaySelectors are tried in order during interstitial dismissal. Absence
// is expected and non-fatal.
var overlaySelectors = []string{
	`#onetrust-accept-btn-handler`,
	`button[aria-label="Dismiss sign-in info"]`,
}

// hideOverlayJS is the last-resort dismissal path when clicking fails: hide
// the consent banner wholesale so it stops intercepting input.
const hideOverlayJS = `(() => {
	const banner = document.querySelector('#onetrust-banner-sdk');
	if (banner) { banner.style.display = 'none'; return true; }
	return false;
})()`

// setAdultsJS writes the requested occupancy into the search form's hidden
// group_adults field before submit. Best-effort: false when the form does
// not expose the field.
const setAdultsJS = `(n => {
	const el = document.querySelector('input[name="group_adults"]');
	if (!el) return false;
	el.value = String(n);
	return true;
})`

// extractCardsJS pulls structured records out of the rendered result cards.
// It tolerates partially rendered cards: entries without a title are dropped.
const extractCardsJS = `(max => {
	const cards = Array.from(document.querySelectorAll('[data-testid="property-card"]')).slice(0, max);
	return cards.map(card => {
		const pick = sel => {
			const el = card.querySelector(sel);
			return el ? el.textContent.trim() : '';
		};
		const score = card.querySelector('[data-testid="review-score"]');
		return {
			name: pick('[data-testid="title"]'),
			price: pick('[data-testid="price-and-discounted-price"]'),
			rating: score ? score.textContent.trim().split('\n')[0].trim() : '',
		};
	}).filter(c => c.name !== '');
})`

// extractTitlesJS is the looser fallback: any title element on the page.
const extractTitlesJS = `(max => {
	return Array.from(document.querySelectorAll('[data-testid="title"]'))
		.slice(0, max)
		.map(el => el.textContent.trim())
		.filter(t => t !== '');
})`

// PageDriver is the contract for the page operations the engine performs,
// allowing for mocking during tests.
type PageDriver interface {
	// Navigate loads a URL and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the selector matches a visible element.
	WaitVisible(ctx context.Context, sel string) error

	// Click clicks the first element matching the selector.
	Click(ctx context.Context, sel string) error

	// ClearField empties an input element's current value.
	ClearField(ctx context.Context, sel string) error

	// TypeText types into the matched element one character at a time with
	// the given inter-character delay.
	TypeText(ctx context.Context, sel, text string, delay time.Duration) error

	// PressEnter sends a return keystroke to the focused element.
	PressEnter(ctx context.Context) error

	// Evaluate runs a JavaScript expression and unmarshals its value.
	Evaluate(ctx context.Context, expr string, out any) error

	// PageInfo reports the current document title and location.
	PageInfo(ctx context.Context) (title, url string, err error)

	// Sleep pauses execution for a given duration (context-aware).
	Sleep(ctx context.Context, d time.Duration) error
}

// RunFunc executes chromedp actions against the live tab. The session handle
// provides one.
type RunFunc func(ctx context.Context, actions ...chromedp.Action) error

// CDPDriver is the production PageDriver backed by a live tab's run function.
type CDPDriver struct {
	run RunFunc
}

// NewCDPDriver wraps a session run function into a PageDriver.
func NewCDPDriver(run RunFunc) *CDPDriver {
	return &CDPDriver{run: run}
}

func (d *CDPDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *CDPDriver) WaitVisible(ctx context.Context, sel string) error {
	return d.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (d *CDPDriver) Click(ctx context.Context, sel string) error {
	return d.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
}

func (d *CDPDriver) ClearField(ctx context.Context, sel string) error {
	return d.run(ctx, chromedp.Clear(sel, chromedp.ByQuery))
}

func (d *CDPDriver) TypeText(ctx context.Context, sel, text string, delay time.Duration) error {
	tasks := make(chromedp.Tasks, 0, len(text)*2)
	for _, r := range text {
		tasks = append(tasks,
			chromedp.SendKeys(sel, string(r), chromedp.ByQuery),
			chromedp.Sleep(delay),
		)
	}
	return d.run(ctx, tasks)
}

func (d *CDPDriver) PressEnter(ctx context.Context) error {
	return d.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (d *CDPDriver) Evaluate(ctx context.Context, expr string, out any) error {
	return d.run(ctx, chromedp.Evaluate(expr, out))
}

func (d *CDPDriver) PageInfo(ctx context.Context) (string, string, error) {
	var title, url string
	err := d.run(ctx, chromedp.Title(&title), chromedp.Location(&url))
	return title, url, err
}

func (d *CDPDriver) Sleep(ctx context.Context, dur time.Duration) error {
	return d.run(ctx, chromedp.Sleep(dur))
}

// Engine drives the destination-search workflow on the target site. Steps
// run strictly sequentially; every step that can fail independently carries
// its own fallback so partial failures do not abort a run that can still
// plausibly succeed.
type Engine struct {
	cfg    config.SearchConfig
	driver PageDriver
	logger *zap.Logger
}

// NewEngine builds an engine against a page driver.
func NewEngine(driver PageDriver, cfg config.SearchConfig, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		driver: driver,
		logger: logger.Named("extract"),
	}
}

// Search runs the full workflow: navigate, dismiss interstitials, fill the
// destination field, submit, then poll for results. It returns a non-nil
// Result whenever the site responded at all; the error return is reserved
// for failures that make the rest of the flow meaningless, such as a
// navigation timeout.
func (e *Engine) Search(ctx context.Context, params schemas.SearchParams) (*Result, error) {
	log := e.logger.With(zap.String("destination", params.Destination))

	if err := e.navigate(ctx); err != nil {
		return nil, err
	}
	e.dismissOverlays(ctx, log)

	field, err := e.locateSearchField(ctx)
	if err != nil {
		return nil, fmt.Errorf("destination field: %w", err)
	}
	if err := e.fillDestination(ctx, field, params.Destination); err != nil {
		return nil, fmt.Errorf("filling destination: %w", err)
	}

	e.confirmAutocomplete(ctx, log)
	e.setDates(ctx, params, log)
	e.setOccupancy(ctx, params, log)
	e.submit(ctx, log)

	return e.pollResults(ctx, log), nil
}

func (e *Engine) navigate(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer cancel()

	if err := e.driver.Navigate(navCtx, e.cfg.BaseURL); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrNavigationTimeout, e.cfg.BaseURL, e.cfg.NavigationTimeout)
		}
		return fmt.Errorf("navigating to %s: %w", e.cfg.BaseURL, err)
	}
	return nil
}

// dismissOverlays walks the known consent and sign-in interstitials. Each
// attempt gets a short bounded wait; a missing banner is the common case.
func (e *Engine) dismissOverlays(ctx context.Context, log *zap.Logger) {
	for _, sel := range overlaySelectors {
		if e.tryClick(ctx, sel, e.cfg.OverlayTimeout) {
			log.Debug("Dismissed overlay", zap.String("selector", sel))
			continue
		}
		log.Debug("Overlay not present, skipping", zap.String("selector", sel))
	}

	var hidden bool
	evalCtx, cancel := context.WithTimeout(ctx, e.cfg.OverlayTimeout)
	defer cancel()
	if err := e.driver.Evaluate(evalCtx, hideOverlayJS, &hidden); err != nil {
		log.Debug("Overlay hide fallback failed", zap.Error(err))
	} else if hidden {
		log.Debug("Hid residual consent banner via DOM")
	}
}

// locateSearchField resolves the destination input, primary selector first.
func (e *Engine) locateSearchField(ctx context.Context) (string, error) {
	fieldCtx, cancel := context.WithTimeout(ctx, e.cfg.FieldTimeout)
	defer cancel()
	if err := e.driver.WaitVisible(fieldCtx, selSearchField); err == nil {
		return selSearchField, nil
	}

	fallbackCtx, cancel2 := context.WithTimeout(ctx, e.cfg.FieldTimeout)
	defer cancel2()
	if err := e.driver.WaitVisible(fallbackCtx, selSearchFieldFallback); err == nil {
		return selSearchFieldFallback, nil
	}
	return "", ErrElementNotFound
}

// fillDestination clears the field and types the destination one character
// at a time. Bulk-setting the value trips the site's bot heuristics. The
// whole step is bounded by the field timeout plus the typing time itself.
func (e *Engine) fillDestination(ctx context.Context, sel, destination string) error {
	bound := e.cfg.FieldTimeout + time.Duration(len(destination))*e.cfg.TypeDelay
	opCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	if err := e.driver.Click(opCtx, sel); err != nil {
		return err
	}
	if err := e.driver.ClearField(opCtx, sel); err != nil {
		return err
	}
	return e.driver.TypeText(opCtx, sel, destination, e.cfg.TypeDelay)
}

// confirmAutocomplete clicks the first suggestion if one renders in time,
// otherwise confirms with the keyboard. Both paths are valid; the dropdown's
// presence is not guaranteed.
func (e *Engine) confirmAutocomplete(ctx context.Context, log *zap.Logger) {
	if e.tryClick(ctx, selAutocompleteItem, e.cfg.AutocompleteTimeout) {
		log.Debug("Selected first autocomplete suggestion")
		return
	}
	log.Debug("Autocomplete suggestion not available, confirming with Enter")
	if err := e.pressEnterBounded(ctx); err != nil {
		log.Warn("Keyboard confirm after autocomplete failed", zap.Error(err))
	}
}

// setDates is best-effort. The calendar widget varies by experiment bucket,
// so failures here are warnings, never aborts.
func (e *Engine) setDates(ctx context.Context, params schemas.SearchParams, log *zap.Logger) {
	if params.CheckinDate == "" || params.CheckoutDate == "" {
		return
	}
	for _, date := range []string{params.CheckinDate, params.CheckoutDate} {
		sel := fmt.Sprintf(`[data-date=%q]`, date)
		if !e.tryClick(ctx, sel, e.cfg.OverlayTimeout) {
			log.Warn("Could not select date cell, continuing without it",
				zap.String("date", date))
		}
	}
}

func (e *Engine) submit(ctx context.Context, log *zap.Logger) {
	if e.tryClick(ctx, selSubmitButton, e.cfg.FieldTimeout) {
		log.Debug("Submitted search via button")
		return
	}
	log.Debug("Submit button not clickable, confirming with Enter")
	if err := e.pressEnterBounded(ctx); err != nil {
		log.Warn("Keyboard confirm on submit failed", zap.Error(err))
	}
}

func (e *Engine) pressEnterBounded(ctx context.Context) error {
	enterCtx, cancel := context.WithTimeout(ctx, e.cfg.FieldTimeout)
	defer cancel()
	return e.driver.PressEnter(enterCtx)
}

// setOccupancy pushes the adults count into the search form. Best-effort
// like the date step: the occupancy widget varies, so a miss is a warning.
func (e *Engine) setOccupancy(ctx context.Context, params schemas.SearchParams, log *zap.Logger) {
	if params.Adults <= 0 {
		return
	}
	evalCtx, cancel := context.WithTimeout(ctx, e.cfg.OverlayTimeout)
	defer cancel()

	var applied bool
	expr := fmt.Sprintf("%s(%d)", setAdultsJS, params.Adults)
	if err := e.driver.Evaluate(evalCtx, expr, &applied); err != nil {
		log.Warn("Could not apply occupancy, continuing without it",
			zap.Int("adults", params.Adults), zap.Error(err))
		return
	}
	if !applied {
		log.Warn("Occupancy field not present, continuing without it",
			zap.Int("adults", params.Adults))
	}
}

// pollResults waits for the results container and then re-reads the cards on
// a fixed cadence until data appears or attempts run out. It always returns
// a Result; exhaustion degrades rather than errors.
func (e *Engine) pollResults(ctx context.Context, log *zap.Logger) *Result {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ResultsTimeout)
	err := e.driver.WaitVisible(waitCtx, selResultCard)
	cancel()
	if err != nil {
		log.Warn("Results container did not become visible in time", zap.Error(err))
	}

	for attempt := 1; attempt <= e.cfg.PollAttempts; attempt++ {
		hotels, err := e.extractCards(ctx)
		if err != nil {
			log.Debug("Card extraction attempt failed",
				zap.Int("attempt", attempt), zap.Error(err))
		}
		if len(hotels) > 0 {
			log.Info("Structured extraction succeeded",
				zap.Int("attempt", attempt), zap.Int("results", len(hotels)))
			return &Result{
				Outcome: OutcomeSucceeded,
				Hotels:  hotels,
				Summary: formatHotels(hotels),
			}
		}
		if attempt < e.cfg.PollAttempts {
			if err := e.driver.Sleep(ctx, e.cfg.PollDelay); err != nil {
				break
			}
		}
	}
	log.Warn("Structured extraction gave up", zap.Error(ErrExtractionExhausted))

	if titles := e.extractTitles(ctx, log); len(titles) > 0 {
		log.Info("Falling back to titles-only extraction", zap.Int("results", len(titles)))
		return &Result{
			Outcome: OutcomeDegraded,
			Summary: formatTitles(titles),
		}
	}

	e.logPageState(ctx, log)
	return &Result{
		Outcome: OutcomeFailed,
		Summary: failedSummary,
	}
}

func (e *Engine) extractCards(ctx context.Context) ([]schemas.HotelResult, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.cfg.PollDelay)
	defer cancel()

	var hotels []schemas.HotelResult
	expr := fmt.Sprintf("%s(%d)", extractCardsJS, e.cfg.MaxResults)
	if err := e.driver.Evaluate(evalCtx, expr, &hotels); err != nil {
		return nil, err
	}
	return hotels, nil
}

func (e *Engine) extractTitles(ctx context.Context, log *zap.Logger) []string {
	evalCtx, cancel := context.WithTimeout(ctx, e.cfg.FieldTimeout)
	defer cancel()

	var titles []string
	expr := fmt.Sprintf("%s(%d)", extractTitlesJS, e.cfg.MaxResults)
	if err := e.driver.Evaluate(evalCtx, expr, &titles); err != nil {
		log.Debug("Titles-only extraction failed", zap.Error(err))
		return nil
	}
	return titles
}

// logPageState records where the page ended up so the failure can be
// diagnosed from logs alone.
func (e *Engine) logPageState(ctx context.Context, log *zap.Logger) {
	infoCtx, cancel := context.WithTimeout(ctx, e.cfg.FieldTimeout)
	defer cancel()

	title, url, err := e.driver.PageInfo(infoCtx)
	if err != nil {
		log.Warn("Could not read page state for diagnosis", zap.Error(err))
		return
	}
	log.Warn("Extraction yielded no data",
		zap.String("page_title", strings.TrimSpace(title)),
		zap.String("page_url", url))
}

// tryClick waits for the selector within the bound and clicks it. False
// means "not there", which callers treat as a recoverable value.
func (e *Engine) tryClick(ctx context.Context, sel string, timeout time.Duration) bool {
	clickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.driver.WaitVisible(clickCtx, sel); err != nil {
		return false
	}
	return e.driver.Click(clickCtx, sel) == nil
}
