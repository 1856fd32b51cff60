package browser

import (
	"context"
	_ "embed"
	"sync"
	"time"

	"github.com/autowebkit/autowebkit/automation"
	"github.com/autowebkit/autowebkit/pkg/logger"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
)

//go:embed scripts/onload.js
var onloadScript string

// contentReadyBinding is the runtime binding onload.js calls once the
// document's load event has fired.
const contentReadyBinding = "__autowebkitContentReady"

// commitWait bounds how long Load waits for its navigation to be reported.
const commitWait = 5 * time.Second

// NavigationSink receives page load progress. *automation.Scheduler
// implements it.
type NavigationSink interface {
	NavigationStarted(id automation.NavigationID)
	NavigationCommitted(id automation.NavigationID)
	NavigationEnded(id automation.NavigationID, err error)
	ContentReady()
}

// PageEventBridge forwards CDP events of one page's main frame to a sink.
type PageEventBridge struct {
	ctx     context.Context
	frameID proto.PageFrameID
	sink    NavigationSink

	mu        sync.Mutex
	committed proto.NetworkLoaderID // loader of the latest main-frame commit
	notify    chan struct{}

	cancel       context.CancelFunc
	stopped      chan struct{}
	removeScript func() error
}

func newBridge(ctx context.Context, frameID proto.PageFrameID, sink NavigationSink) *PageEventBridge {
	return &PageEventBridge{
		ctx:       ctx,
		frameID:   frameID,
		sink:      sink,
		notify:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// AttachBridge subscribes to page events and installs the content-ready
// bootstrap in every new document. Stop detaches it.
func AttachBridge(ctx context.Context, page *rod.Page, sink NavigationSink) (*PageEventBridge, error) {
	ctx, cancel := context.WithCancel(ctx)
	b := newBridge(ctx, page.FrameID, sink)
	b.cancel = cancel

	p := page.Context(ctx)
	if err := (proto.PageEnable{}).Call(p); err != nil {
		cancel()
		return nil, errors.Wrap(err, "enable page domain")
	}
	if err := (proto.RuntimeEnable{}).Call(p); err != nil {
		cancel()
		return nil, errors.Wrap(err, "enable runtime domain")
	}
	if err := (proto.RuntimeAddBinding{Name: contentReadyBinding}).Call(p); err != nil {
		cancel()
		return nil, errors.Wrap(err, "add content-ready binding")
	}
	remove, err := p.EvalOnNewDocument(onloadScript)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "install onload script")
	}
	b.removeScript = remove

	// subscribe before returning so no event between here and the first
	// navigation is missed
	wait := p.EachEvent(
		b.onStartedLoading,
		b.onNavigated,
		b.onStoppedLoading,
		b.onBindingCalled,
	)
	go func() {
		defer close(b.stopped)
		wait()
	}()

	return b, nil
}

func (b *PageEventBridge) onStartedLoading(e *proto.PageFrameStartedLoading) {
	if e.FrameID != b.frameID {
		return
	}
	logger.Debug(b.ctx, "Frame started loading: %s", e.FrameID)
	b.sink.NavigationStarted(automation.NavigationID(e.FrameID))
}

func (b *PageEventBridge) onNavigated(e *proto.PageFrameNavigated) {
	if e.Frame == nil || e.Frame.ID != b.frameID {
		return
	}
	logger.Debug(b.ctx, "Frame navigated: %s (loader %s)", e.Frame.URL, e.Frame.LoaderID)
	b.sink.NavigationCommitted(automation.NavigationID(e.Frame.ID))

	b.mu.Lock()
	b.committed = e.Frame.LoaderID
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

func (b *PageEventBridge) onStoppedLoading(e *proto.PageFrameStoppedLoading) {
	if e.FrameID != b.frameID {
		return
	}
	logger.Debug(b.ctx, "Frame stopped loading: %s", e.FrameID)
	b.sink.NavigationEnded(automation.NavigationID(e.FrameID), nil)
}

func (b *PageEventBridge) onBindingCalled(e *proto.RuntimeBindingCalled) {
	if e.Name != contentReadyBinding {
		return
	}
	logger.Debug(b.ctx, "Content ready: %s", e.Payload)
	b.sink.ContentReady()
}

// waitCommitted blocks until the navigation with loaderID has been forwarded
// as committed, so a load step never completes ahead of its own commit. Only
// the latest commit is remembered; a loader superseded before anyone waits
// for it times out.
func (b *PageEventBridge) waitCommitted(ctx context.Context, loaderID proto.NetworkLoaderID) bool {
	timer := time.NewTimer(commitWait)
	defer timer.Stop()
	for {
		b.mu.Lock()
		ok := loaderID != "" && b.committed == loaderID
		if ok {
			b.committed = ""
		}
		notify := b.notify
		b.mu.Unlock()
		if ok {
			return true
		}

		select {
		case <-notify:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		case <-b.stopped:
			return false
		}
	}
}

// Stop unsubscribes from the page and removes the bootstrap script.
func (b *PageEventBridge) Stop() {
	if b.removeScript != nil {
		if err := b.removeScript(); err != nil {
			logger.Debug(b.ctx, "Failed to remove onload script: %v", err)
		}
	}
	if b.cancel != nil {
		b.cancel()
		<-b.stopped
	}
}
