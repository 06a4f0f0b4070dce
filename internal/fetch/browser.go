package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"pgharvest/internal/config"
)

// Fetcher retrieves the raw payload text for one URL. Implementations are
// not safe for concurrent use; each worker owns its own.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// Options configures a Browser fetcher.
type Options struct {
	Bin                string
	Proxy              config.ProxySpec
	ProxyMode          string
	UserAgent          string
	PageLoadTimeout    time.Duration
	ElementWaitTimeout time.Duration
}

// Browser drives a dedicated headless Chrome. The instance launches lazily
// on first Fetch and relaunches after Close, so a worker rotates proxies by
// closing the fetcher and building a new one.
type Browser struct {
	opts Options

	mu      sync.Mutex
	browser *rod.Browser
	launch  *launcher.Launcher
}

// NewBrowser returns an unstarted fetcher. Chrome launches on first use.
func NewBrowser(opts Options) *Browser {
	return &Browser{opts: opts}
}

var launchFlags = map[string]string{
	"disable-blink-features": "AutomationControlled",
	"no-first-run":           "",
	"disable-dev-shm-usage":  "",
}

func (b *Browser) startLocked(ctx context.Context) error {
	if b.browser != nil {
		return nil
	}

	launch := launcher.New().Headless(true)
	if b.opts.Bin != "" {
		launch = launch.Bin(b.opts.Bin)
	}
	for name, val := range launchFlags {
		if val != "" {
			launch = launch.Set(flags.Flag(name), val)
		} else {
			launch = launch.Set(flags.Flag(name))
		}
	}
	if b.opts.Proxy.Server != "" {
		launch = launch.Set(flags.ProxyServer, b.opts.Proxy.Server)
	}

	controlURL, err := launch.Launch()
	if err != nil {
		return &Error{Kind: KindTransport, Err: fmt.Errorf("launch chrome: %w", err)}
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		launch.Kill()
		return &Error{Kind: KindTransport, Err: fmt.Errorf("connect to chrome: %w", err)}
	}

	if b.opts.ProxyMode == config.ProxyModeUserpass && b.opts.Proxy.Username != "" {
		go func() {
			_ = browser.HandleAuth(b.opts.Proxy.Username, b.opts.Proxy.Password)()
		}()
	}

	b.browser = browser
	b.launch = launch
	return nil
}

// Fetch navigates to url in a fresh page and returns the text of the
// embedded data script. The text is guaranteed to start with "{".
func (b *Browser) Fetch(ctx context.Context, url string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.startLocked(ctx); err != nil {
		return "", err
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", &Error{Kind: KindTransport, URL: url, Err: err}
	}
	defer func() { _ = page.Close() }()

	if b.opts.UserAgent != "" {
		_ = (proto.NetworkSetUserAgentOverride{UserAgent: b.opts.UserAgent}).Call(page)
	}

	if err := page.Context(ctx).Timeout(b.opts.PageLoadTimeout).Navigate(url); err != nil {
		return "", &Error{Kind: classifyNav(err), URL: url, Err: err}
	}

	el, err := page.Context(ctx).Timeout(b.opts.ElementWaitTimeout).Element("script#__NEXT_DATA__")
	if err != nil {
		return "", &Error{Kind: classifyMissing(page), URL: url, Err: err}
	}

	text, err := el.Text()
	if err != nil {
		return "", &Error{Kind: KindTransport, URL: url, Err: err}
	}
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return "", &Error{Kind: KindMissingPayload, URL: url, Err: errors.New("data script is not a JSON object")}
	}
	return text, nil
}

// Close shuts down Chrome. The next Fetch relaunches with current options.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launch != nil {
		b.launch.Kill()
		b.launch = nil
	}
	return err
}

func classifyNav(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransport
}

// classifyMissing decides whether an absent data script means a block page
// or just a payload-free render. The page loaded, so even a wait deadline is
// a missing payload, not a timeout. The page HTML is consulted best-effort.
func classifyMissing(page *rod.Page) Kind {
	html, herr := page.HTML()
	return missingKind(html, herr)
}

func missingKind(html string, htmlErr error) Kind {
	if htmlErr == nil && looksBlocked(html) {
		return KindBlocked
	}
	return KindMissingPayload
}

var blockMarkers = []string{
	"captcha",
	"access denied",
	"unusual traffic",
	"are you a human",
	"cf-challenge",
}

func looksBlocked(html string) bool {
	low := strings.ToLower(html)
	for _, m := range blockMarkers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}
