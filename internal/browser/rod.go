package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gtalk/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// navigatorOverrides hides the usual automation fingerprints before any page script runs.
const navigatorOverrides = `() => {
	Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
	Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
	Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
}`

var deniedPermissions = []string{"geolocation", "notifications"}

// RodLauncher starts Chrome through Rod with the anti-automation profile.
type RodLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

func NewRodLauncher(cfg config.BrowserConfig, logger *zap.Logger) *RodLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodLauncher{cfg: cfg, logger: logger.Named("rod")}
}

// launchFlags returns the Chrome switches applied on every launch, in a stable order.
func (l *RodLauncher) launchFlags() [][2]string {
	out := [][2]string{
		{"no-sandbox", ""},
		{"disable-dev-shm-usage", ""},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-infobars", ""},
		{"disable-extensions", ""},
		{"disable-gpu", ""},
		{"lang", l.cfg.GetLocale()},
		{"window-size", fmt.Sprintf("%d,%d", l.cfg.GetViewportWidth(), l.cfg.GetViewportHeight())},
		{"user-agent", l.cfg.GetUserAgent()},
	}
	for _, raw := range l.cfg.ExtraFlags {
		name, val, _ := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name != "" {
			out = append(out, [2]string{name, val})
		}
	}
	return out
}

func (l *RodLauncher) Launch(ctx context.Context) (Driver, error) {
	bin := l.cfg.Bin
	if bin == "" {
		if found, ok := launcher.LookPath(); ok {
			bin = found
		}
	}

	// The launcher context only bounds the binary download and startup wait;
	// the Chrome process outlives it.
	launch := launcher.New().Context(ctx).Headless(l.cfg.IsHeadless())
	if bin != "" {
		launch = launch.Bin(bin)
	}
	for _, f := range l.launchFlags() {
		if f[1] != "" {
			launch = launch.Set(flags.Flag(f[0]), f[1])
		} else {
			launch = launch.Set(flags.Flag(f[0]))
		}
	}
	launch = launch.Delete("enable-automation")

	controlURL, err := launch.Launch()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	l.logger.Debug("chrome launched", zap.String("bin", bin), zap.String("control_url", controlURL))

	browser := rod.New().ControlURL(controlURL)
	if err := connectContext(ctx, browser.Connect, launch.Kill); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		launch.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	for _, name := range deniedPermissions {
		if err := (proto.BrowserSetPermission{
			Permission: &proto.BrowserPermissionDescriptor{Name: name},
			Setting:    proto.BrowserPermissionSettingDenied,
		}).Call(browser); err != nil {
			l.logger.Debug("permission override failed", zap.String("permission", name), zap.Error(err))
		}
	}

	drv := &rodDriver{
		browser:    browser,
		launch:     launch,
		navTimeout: l.cfg.GetNavigationTimeout(),
	}
	if drv.page, err = l.openPage(browser); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return drv, nil
}

// connectContext runs connect but returns as soon as ctx ends, calling abort
// first. ctx is not attached to the browser itself.
func connectContext(ctx context.Context, connect func() error, abort func()) error {
	done := make(chan error, 1)
	go func() { done <- connect() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		abort()
		return ctx.Err()
	}
}

func (l *RodLauncher) openPage(browser *rod.Browser) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if l.cfg.IsStealth() {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	if _, err := page.EvalOnNewDocument(navigatorOverrides); err != nil {
		return nil, fmt.Errorf("install navigator overrides: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      l.cfg.GetUserAgent(),
		AcceptLanguage: "en-US,en",
	}); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             l.cfg.GetViewportWidth(),
		Height:            l.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		l.logger.Debug("viewport override failed", zap.Error(err))
	}
	return page, nil
}

type rodDriver struct {
	browser    *rod.Browser
	page       *rod.Page
	launch     *launcher.Launcher
	navTimeout time.Duration
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	page := d.page.Context(ctx).Timeout(d.navTimeout)
	defer page.CancelTimeout()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (d *rodDriver) HTML(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read page source: %w", err)
	}
	return html, nil
}

func (d *rodDriver) WaitForSelector(ctx context.Context, selectors []string, timeout time.Duration) (bool, error) {
	if len(selectors) == 0 {
		return false, nil
	}
	page := d.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	if _, err := page.Element(strings.Join(selectors, ", ")); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *rodDriver) Close() error {
	var proc chromeProcess
	if d.launch != nil {
		proc = d.launch
	}
	return closeChrome(d.browser.Close, proc)
}

// chromeProcess is the part of *launcher.Launcher that owns the OS process.
type chromeProcess interface {
	PID() int
	Kill()
	Cleanup()
}

// closeChrome asks Chrome to exit, killing the process if it does not answer,
// then removes the temporary profile.
func closeChrome(closeBrowser func() error, proc chromeProcess) error {
	err := closeBrowser()
	if proc == nil || proc.PID() == 0 {
		return err
	}
	if err != nil {
		proc.Kill()
	}
	proc.Cleanup()
	return err
}
