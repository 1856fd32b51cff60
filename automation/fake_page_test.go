package automation

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePage answers evaluations from a table and records what it was asked.
type fakePage struct {
	mu       sync.Mutex
	html     string
	results  map[string]any
	errs     map[string]error
	loads    []string
	scripts  []string
	onLoad   func(url string)
	onScript func(script string)
}

func newFakePage() *fakePage {
	return &fakePage{
		results: make(map[string]any),
		errs:    make(map[string]error),
	}
}

func (p *fakePage) Load(ctx context.Context, url string) error {
	p.mu.Lock()
	p.loads = append(p.loads, url)
	hook := p.onLoad
	p.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	return nil
}

func (p *fakePage) LoadHTML(ctx context.Context, html, baseURL string) error {
	p.mu.Lock()
	p.html = html
	p.loads = append(p.loads, "html:"+baseURL)
	hook := p.onLoad
	p.mu.Unlock()
	if hook != nil {
		hook(baseURL)
	}
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string) (any, error) {
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	hook := p.onScript
	err := p.errs[script]
	res, ok := p.results[script]
	html := p.html
	p.mu.Unlock()

	if hook != nil {
		hook(script)
	}
	if err != nil {
		return nil, err
	}
	if ok {
		return res, nil
	}
	if script == documentHTMLScript {
		return html, nil
	}
	return nil, nil
}

func (p *fakePage) evaluated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

func (p *fakePage) set(script string, result any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[script] = result
}

func (p *fakePage) fail(script string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[script] = err
}

// recorder is an Observer that keeps an ordered event log.
type recorder struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) WillBeginExecuting(script *Script) { r.add("begin") }

func (r *recorder) DidFinishExecuting(script *Script) { r.add("finish") }

func (r *recorder) WillExecuteStep(step Step) { r.add("will " + step.String()) }

func (r *recorder) DidCompleteStep(step Step, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.add("did " + step.String())
}

func (r *recorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, e := range r.log() {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// syncBuffer is a bytes.Buffer safe for the step goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	page  *fakePage
	obs   *recorder
	out   *syncBuffer
	sched *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{page: newFakePage(), obs: &recorder{}, out: &syncBuffer{}}
	h.sched = NewScheduler(h.page, WithObserver(h.obs), WithDebugWriter(h.out))
	t.Cleanup(func() { _ = h.sched.Close() })
	return h
}

func (h *harness) run(t *testing.T, script *Script, ec *ExecutionContext) {
	t.Helper()
	require.NoError(t, h.sched.Execute(script, ec))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))
}

func loaded(env map[string]string) *ExecutionContext {
	ec := NewExecutionContext(env)
	ec.HasLoaded = true
	return ec
}

func ptr(s string) *string { return &s }
