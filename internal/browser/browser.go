// Package browser owns the Chromium instance the daemon drives.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"groupcast/internal/intercept"
	logx "groupcast/pkg/logx"
)

var ErrNotStarted = errors.New("browser not started")

type Config struct {
	// DebuggerURL connects to an already running browser instead of
	// launching one.
	DebuggerURL string
	Bin         string
	Headless    bool
	// UserDataDir keeps the profile, and so the platform login, across
	// restarts.
	UserDataDir string
	Flags       []string
}

type Browser struct {
	cfg Config
	log logx.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	launcher   *launcher.Launcher
	controlURL string
}

func New(cfg Config, log logx.Logger) *Browser {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Browser{cfg: cfg, log: log.With(logx.String("comp", "browser"))}
}

// Start launches or connects to the browser. Calling it on a live browser is
// a no-op; a dead connection is replaced.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return nil
		}
		b.log.Warn("stale browser connection, reconnecting")
		_ = b.browser.Close()
		b.browser = nil
	}

	controlURL := b.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(b.cfg.Headless)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		if b.cfg.UserDataDir != "" {
			l = l.UserDataDir(b.cfg.UserDataDir)
		}
		for _, raw := range b.cfg.Flags {
			name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		b.launcher = l
		controlURL = u
	}

	br := rod.New().ControlURL(controlURL).Context(ctx)
	if err := br.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	b.browser = br
	b.controlURL = controlURL
	b.log.Info("browser connected", logx.Bool("launched", b.launcher != nil))
	return nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
		b.launcher = nil
	}
	return err
}

func (b *Browser) rod() (*rod.Browser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.browser == nil {
		return nil, ErrNotStarted
	}
	return b.browser, nil
}

// OpenTab opens a blank tab, attaches ic to it (when non-nil) so no
// response is missed, then navigates to url. ctx bounds the opening only;
// capture bounds the network capture and should live as long as the
// collection on the tab.
func (b *Browser) OpenTab(ctx, capture context.Context, url string, ic *intercept.Interceptor) (*Tab, error) {
	br, err := b.rod()
	if err != nil {
		return nil, err
	}
	page, err := br.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}
	tab := &Tab{page: page, log: b.log.With(logx.String("url", url))}

	if ic != nil {
		if err := ic.Attach(capture, page); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("attach interceptor: %w", err)
		}
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("wait load: %w", err)
	}
	return tab, nil
}

// HasCookie reports whether the browser holds a non-empty cookie called
// name for a domain ending in domain.
func (b *Browser) HasCookie(ctx context.Context, domain, name string) (bool, error) {
	br, err := b.rod()
	if err != nil {
		return false, err
	}
	cookies, err := br.Context(ctx).GetCookies()
	if err != nil {
		return false, fmt.Errorf("read cookies: %w", err)
	}
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	for _, c := range cookies {
		if c.Name != name || c.Value == "" {
			continue
		}
		d := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		if d == domain || strings.HasSuffix(d, "."+domain) {
			return true, nil
		}
	}
	return false, nil
}
