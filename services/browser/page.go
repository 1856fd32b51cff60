package browser

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/autowebkit/autowebkit/pkg/logger"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
)

// rodPage runs automation steps against a rod page.
type rodPage struct {
	page   *rod.Page
	bridge *PageEventBridge

	mu     sync.Mutex
	router *rod.HijackRouter
}

func newRodPage(page *rod.Page, bridge *PageEventBridge) *rodPage {
	return &rodPage{page: page, bridge: bridge}
}

func (p *rodPage) Load(ctx context.Context, url string) error {
	return p.navigate(ctx, url)
}

// LoadHTML shows html in the page. Without a base URL it is served as a data
// URL; with one, the request for baseURL is answered with html so relative
// references and the document's origin resolve against it.
func (p *rodPage) LoadHTML(ctx context.Context, html, baseURL string) error {
	if baseURL == "" {
		return p.navigate(ctx, dataURL(html))
	}

	p.mu.Lock()
	if p.router != nil {
		_ = p.router.Stop()
	}
	router := p.page.HijackRequests()
	var served atomic.Bool
	err := router.Add(baseURL, proto.NetworkResourceTypeDocument, func(h *rod.Hijack) {
		if served.Swap(true) {
			h.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}
		h.Response.SetHeader("Content-Type", "text/html; charset=utf-8")
		h.Response.SetBody(html)
	})
	if err != nil {
		p.mu.Unlock()
		return errors.Wrapf(err, "intercept %s", baseURL)
	}
	p.router = router
	p.mu.Unlock()

	go router.Run()
	return p.navigate(ctx, baseURL)
}

func (p *rodPage) navigate(ctx context.Context, url string) error {
	res, err := proto.PageNavigate{URL: url}.Call(p.page.Context(ctx))
	if err != nil {
		return errors.Wrapf(err, "navigate to %s", shorten(url))
	}
	if res.ErrorText != "" {
		return errors.Errorf("navigate to %s: %s", shorten(url), res.ErrorText)
	}
	// same-document navigations have no loader
	if res.LoaderID != "" && p.bridge != nil {
		if !p.bridge.waitCommitted(ctx, res.LoaderID) {
			logger.Warn(ctx, "Navigation to %s was not reported as committed", shorten(url))
		}
	}
	return nil
}

func (p *rodPage) Evaluate(ctx context.Context, script string) (any, error) {
	res, err := proto.RuntimeEvaluate{
		Expression:    script,
		ReturnByValue: true,
	}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "evaluate script")
	}
	if res.ExceptionDetails != nil {
		msg := res.ExceptionDetails.Text
		if res.ExceptionDetails.Exception != nil && res.ExceptionDetails.Exception.Description != "" {
			msg = res.ExceptionDetails.Exception.Description
		}
		return nil, errors.Errorf("script threw: %s", msg)
	}
	if res.Result == nil {
		return nil, nil
	}
	return res.Result.Value.Val(), nil
}

// close stops request interception set up by LoadHTML.
func (p *rodPage) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.router != nil {
		_ = p.router.Stop()
		p.router = nil
	}
}

func dataURL(html string) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(html))
}

func shorten(url string) string {
	if strings.HasPrefix(url, "data:") && len(url) > 64 {
		return url[:64] + "..."
	}
	return url
}
