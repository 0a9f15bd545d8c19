package intercept

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	logx "groupcast/pkg/logx"
)

// Attach starts observing page's network traffic until ctx is done.
//
// Response bodies are read through Network.getResponseBody after loading
// finishes, which returns a copy held by the browser; the page's own
// request and response streams are never modified.
func (i *Interceptor) Attach(ctx context.Context, page *rod.Page) error {
	p := page.Context(ctx)
	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}

	var (
		mu      sync.Mutex
		pending = map[proto.NetworkRequestID]string{}
	)
	wait := p.EachEvent(
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil || !i.Allow(ev.Response.URL) {
				return
			}
			mu.Lock()
			pending[ev.RequestID] = ev.Response.URL
			mu.Unlock()
		},
		func(ev *proto.NetworkLoadingFinished) {
			mu.Lock()
			url, ok := pending[ev.RequestID]
			delete(pending, ev.RequestID)
			mu.Unlock()
			if !ok {
				return
			}
			// CDP calls must not run on the event loop goroutine.
			go i.fetchBody(p, ev.RequestID, url)
		},
		func(ev *proto.NetworkLoadingFailed) {
			mu.Lock()
			delete(pending, ev.RequestID)
			mu.Unlock()
		},
	)
	go wait()
	return nil
}

func (i *Interceptor) fetchBody(p *rod.Page, id proto.NetworkRequestID, url string) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p)
	if err != nil {
		i.failed.Add(1)
		i.log.Debug("response body unavailable", logx.String("url", url), logx.Err(err))
		return
	}
	body := []byte(res.Body)
	if res.Base64Encoded {
		body, err = base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			i.failed.Add(1)
			return
		}
	}
	i.Observe(url, body)
}
