package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/phonegoat/internal/config"
)

const (
	contactsButtonSelector = `[data-testid="contacts-button"]`
	phoneElementSelector   = `[data-testid="PhoneLink"], .phone-number`
	jsClick                = `(sel) => { const b = document.querySelector(sel); if (b) b.click(); }`
)

// ProxySource hands out the proxy to launch the browser behind.
type ProxySource interface {
	Next() *url.URL
}

// RodAutomator implements Automator with a fresh Chromium per call.
type RodAutomator struct {
	cfg     *config.BrowserConfig
	apiURL  string
	proxies ProxySource
	logger  *slog.Logger
}

// NewRodAutomator creates an automator that intercepts POSTs to apiURL.
// proxies may be nil.
func NewRodAutomator(cfg *config.BrowserConfig, apiURL string, proxies ProxySource, logger *slog.Logger) *RodAutomator {
	return &RodAutomator{
		cfg:     cfg,
		apiURL:  apiURL,
		proxies: proxies,
		logger:  logger.With("component", "rod_automator"),
	}
}

// launch starts a Chromium instance with appropriate flags.
func (a *RodAutomator) launch() (*launcher.Launcher, string, error) {
	l := launcher.New().
		Headless(a.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if a.cfg.BinPath != "" {
		l = l.Bin(a.cfg.BinPath)
	}
	if a.cfg.UserDataDir != "" {
		l = l.UserDataDir(a.cfg.UserDataDir)
	}
	if a.cfg.WindowSize != "" {
		l = l.Set("window-size", a.cfg.WindowSize)
	}
	if a.proxies != nil {
		if proxyURL := a.proxies.Next(); proxyURL != nil {
			l = l.Proxy(proxyURL.String())
		}
	}

	controlURL, err := l.Launch()
	return l, controlURL, err
}

// RevealPhone navigates to pageURL, clicks the contacts button and waits
// for the phone element. Independently of those waits, it listens for the
// phone API request until the capture window measured from DOM-ready closes.
func (a *RodAutomator) RevealPhone(ctx context.Context, pageURL string) (*Capture, error) {
	l, controlURL, err := a.launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	var page *rod.Page
	if a.cfg.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	captured := make(chan *Capture, 1)
	var once sync.Once

	router := page.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		if h.Request.Method() == "POST" && h.Request.URL().String() == a.apiURL {
			once.Do(func() {
				captured <- captureRequest(h.Request)
				a.logger.Debug("api request intercepted", "url", a.apiURL)
			})
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, fmt.Errorf("add hijack route: %w", err)
	}
	go router.Run()
	defer router.Stop()

	// Wait for DOMContentLoaded rather than full load.
	nav := page.Timeout(a.cfg.NavigationTimeout)
	waitDOM := nav.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := nav.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	waitDOM()
	captureDeadline := time.Now().Add(a.cfg.CaptureWindow)

	a.clickContacts(page)
	phone := a.readPhone(page)

	result := &Capture{Phone: phone}
	c, err := awaitCapture(ctx, captured, captureDeadline)
	if err != nil {
		return result, err
	}
	if c == nil {
		a.logger.Debug("no api request within capture window", "url", pageURL)
		return result, nil
	}
	result.Headers, result.Payload = c.Headers, c.Payload
	return result, nil
}

// awaitCapture returns the intercepted request if it arrives before
// deadline. A capture already received always wins over an expired deadline.
func awaitCapture(ctx context.Context, captured <-chan *Capture, deadline time.Time) (*Capture, error) {
	select {
	case c := <-captured:
		return c, nil
	default:
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case c := <-captured:
		return c, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// clickContacts clicks the contacts button, falling back to a scripted
// click when the element never becomes interactive.
func (a *RodAutomator) clickContacts(page *rod.Page) {
	p := page.Timeout(a.cfg.ButtonTimeout)
	el, err := p.Element(contactsButtonSelector)
	if err == nil {
		err = el.WaitVisible()
	}
	if err == nil {
		err = el.Click(proto.InputMouseButtonLeft, 1)
	}
	if err == nil {
		return
	}

	a.logger.Debug("contacts click failed, using script", "error", err)
	if _, err := page.Timeout(a.cfg.ButtonTimeout).Eval(jsClick, contactsButtonSelector); err != nil {
		a.logger.Debug("scripted click failed", "error", err)
	}
}

// readPhone waits for the phone element to attach and returns its text.
func (a *RodAutomator) readPhone(page *rod.Page) string {
	el, err := page.Timeout(a.cfg.PhoneTimeout).Element(phoneElementSelector)
	if err != nil {
		a.logger.Debug("phone element did not appear", "error", err)
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func captureRequest(req *rod.HijackRequest) *Capture {
	headers := make(map[string]string)
	for k, v := range req.Headers() {
		headers[k] = v.Str()
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(req.Body()), &payload); err != nil {
		payload = nil
	}
	return &Capture{Headers: headers, Payload: payload}
}
