package coordinator

import (
	"context"

	"groupcast/internal/browser"
	"groupcast/internal/intercept"
)

type rodBrowser struct {
	base context.Context
	b    *browser.Browser
}

// Rod adapts a *browser.Browser. The browser is (re)started on demand under
// base, which must outlive individual requests.
func Rod(base context.Context, b *browser.Browser) Browser { return rodBrowser{base: base, b: b} }

func (r rodBrowser) OpenTab(ctx, capture context.Context, url string, ic *intercept.Interceptor) (Tab, error) {
	if err := r.b.Start(r.base); err != nil {
		return nil, err
	}
	t, err := r.b.OpenTab(ctx, capture, url, ic)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r rodBrowser) HasCookie(ctx context.Context, domain, name string) (bool, error) {
	if err := r.b.Start(r.base); err != nil {
		return false, err
	}
	return r.b.HasCookie(ctx, domain, name)
}
