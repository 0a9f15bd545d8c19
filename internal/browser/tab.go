package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	logx "groupcast/pkg/logx"
)

var ErrNotReady = errors.New("page not ready")

// Tab is one open page. It implements the collector's Surface.
type Tab struct {
	page *rod.Page
	log  logx.Logger
}

// Page exposes the underlying page.
func (t *Tab) Page() *rod.Page { return t.page }

func (t *Tab) eval(ctx context.Context, js string) (*proto.RuntimeRemoteObject, error) {
	return t.page.Context(ctx).Evaluate(&rod.EvalOptions{JS: js, ByValue: true})
}

func (t *Tab) ScrollToBottom(ctx context.Context) error {
	_, err := t.eval(ctx, `() => { window.scrollTo(0, document.documentElement.scrollHeight); return true }`)
	return err
}

func (t *Tab) ScrollHeight(ctx context.Context) (int, error) {
	res, err := t.eval(ctx, `() => document.documentElement.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (t *Tab) HTML(ctx context.Context) (string, error) {
	return t.page.Context(ctx).HTML()
}

// Ready checks that the document has a body and finished parsing. The
// coordinator retries it while the page settles.
func (t *Tab) Ready(ctx context.Context) error {
	res, err := t.eval(ctx, `() => !!document.body && document.readyState !== "loading"`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if !res.Value.Bool() {
		return ErrNotReady
	}
	return nil
}

func (t *Tab) Close() error {
	if err := t.page.Close(); err != nil {
		t.log.Debug("tab close failed", logx.Err(err))
		return err
	}
	return nil
}
