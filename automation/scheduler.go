package automation

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/autowebkit/autowebkit/pkg/logger"
	"github.com/pkg/errors"
)

var (
	// ErrBusy is returned by FetchRawContents while a step runs or the page loads.
	ErrBusy = errors.New("scheduler is running a step or the page is loading")
	// ErrClosed is returned once the scheduler has been closed.
	ErrClosed = errors.New("scheduler closed")
)

// State is the scheduler's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateAwaitingExternalEvent
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateAwaitingExternalEvent:
		return "awaiting_external_event"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver registers o for lifecycle notifications.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithDebugWriter sets where PrintMessage steps write. Defaults to stdout.
func WithDebugWriter(w io.Writer) Option {
	return func(s *Scheduler) { s.debug = w }
}

// WithLogContext sets the context used for log lines (trace id).
func WithLogContext(ctx context.Context) Option {
	return func(s *Scheduler) { s.logCtx = ctx }
}

// view is the part of the loop state readable from other goroutines.
type view struct {
	state   State
	running bool
	loading bool
	done    chan struct{}
	ec      *ExecutionContext
}

// Scheduler runs one script at a time against one page. All state below the
// mailbox is owned by the loop goroutine; every public method either posts to
// the loop or reads the published view.
type Scheduler struct {
	page     Page
	observer Observer
	debug    io.Writer
	logCtx   context.Context

	mail      *mailbox
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	stepCtx   context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup

	mu   sync.RWMutex
	view view

	// loop-owned
	script     *Script
	queue      []Step
	cursor     int
	running    bool
	began      bool
	finished   bool
	ec         *ExecutionContext
	done       chan struct{}
	cancelStep context.CancelFunc
	generation uint64
	loadEpoch  uint64
	// HasLoaded and loadEpoch as of the last dispatch.
	dispatchLoaded bool
	dispatchEpoch  uint64
}

// NewScheduler starts a scheduler for page. Close releases it.
func NewScheduler(page Page, opts ...Option) *Scheduler {
	stepCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		page:     page,
		observer: ObserverFuncs{},
		debug:    os.Stdout,
		logCtx:   context.Background(),
		mail:     newMailbox(),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		stepCtx:  stepCtx,
		cancel:   cancel,
		cursor:   -1,
		ec:       NewExecutionContext(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publish()
	go s.loop()
	return s
}

func (s *Scheduler) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.quit:
			return
		case <-s.mail.signal:
			for _, fn := range s.mail.drain() {
				fn()
			}
		}
	}
}

// call runs fn on the loop and waits for it.
func (s *Scheduler) call(fn func()) error {
	ack := make(chan struct{})
	s.mail.push(func() {
		fn()
		close(ack)
	})
	select {
	case <-ack:
		return nil
	case <-s.quit:
		return ErrClosed
	}
}

// Execute replaces the current script with script and starts scheduling it.
// initial seeds the environment and HasLoaded; it is copied, so later changes
// on either side are not shared. Navigations the page reported earlier stay
// in effect. A step still running from the previous script is cancelled and
// its completion ignored.
func (s *Scheduler) Execute(script *Script, initial *ExecutionContext) error {
	if script == nil {
		script = NewScript()
	}
	ec := initial.Clone()
	return s.call(func() {
		if s.done != nil && !s.finished {
			// Waiters of the replaced script are released.
			close(s.done)
		}
		if s.running {
			// The replaced script's step is abandoned; its completion is ignored.
			s.cancelStep()
			s.running = false
		}
		s.generation++
		s.loadEpoch++
		s.script = script
		s.queue = script.Steps()
		s.cursor = -1
		s.began = false
		s.finished = false
		s.done = make(chan struct{})

		ec.navigations = s.ec.navigations
		s.ec = ec

		logger.Info(s.logCtx, "Executing %s with %d steps", script.displayName(), len(s.queue))
		if len(s.queue) == 0 {
			s.finished = true
			close(s.done)
			s.publish()
			return
		}
		s.processNextStepIfPossible()
	})
}

// processNextStepIfPossible dispatches the next step when nothing blocks it.
// It is safe to call at any time; it is re-run after every state change.
func (s *Scheduler) processNextStepIfPossible() {
	defer s.publish()

	if s.script == nil || s.finished || s.running || s.ec.IsLoading() {
		return
	}
	next := s.cursor + 1
	if next >= len(s.queue) {
		return
	}
	candidate := s.queue[next]
	if candidate.RequiresLoaded() && !s.ec.HasLoaded {
		logger.Debug(s.logCtx, "Step %d (%s) waits for the page to finish loading", next, candidate)
		return
	}

	s.cursor = next
	s.running = true
	if !s.began {
		s.began = true
		s.observer.WillBeginExecuting(s.script)
	}
	s.observer.WillExecuteStep(candidate)
	s.dispatch(candidate)
}

func (s *Scheduler) dispatch(step Step) {
	gen := s.generation
	snapshot := s.ec.Clone()
	s.dispatchLoaded = snapshot.HasLoaded
	s.dispatchEpoch = s.loadEpoch
	rt := runtime{page: s.page, debug: s.debug}

	logger.Debug(s.logCtx, "Executing step %d: %s", s.cursor, step)

	stepCtx, cancel := context.WithCancel(s.stepCtx)
	s.cancelStep = cancel

	var once sync.Once
	report := func(out outcome) {
		once.Do(func() {
			s.mail.push(func() { s.complete(gen, step, out) })
		})
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		perform(stepCtx, rt, step, snapshot, report)
	}()
}

func (s *Scheduler) complete(gen uint64, step Step, out outcome) {
	if gen != s.generation {
		return
	}
	s.cancelStep()

	if out.err != nil {
		logger.Warn(s.logCtx, "Step %d (%s) failed (continuing with subsequent steps): %v", s.cursor, step, out.err)
	}
	if len(out.inserted) > 0 {
		s.queue = insertSteps(s.queue, s.cursor+1, out.inserted)
	}
	s.ec = s.merge(out.ec)
	s.running = false
	s.observer.DidCompleteStep(step, out.err)

	if s.cursor+1 >= len(s.queue) {
		s.finish()
		return
	}
	s.processNextStepIfPossible()
}

// merge adopts the step's environment. Navigations always come from the live
// context. HasLoaded comes from the step only when the step changed it and
// no page event changed it while the step ran.
func (s *Scheduler) merge(next *ExecutionContext) *ExecutionContext {
	merged := &ExecutionContext{
		Environment: s.ec.Environment,
		HasLoaded:   s.ec.HasLoaded,
		navigations: s.ec.navigations,
	}
	if next == nil {
		return merged
	}
	merged.Environment = next.Clone().Environment
	if next.HasLoaded != s.dispatchLoaded && s.loadEpoch == s.dispatchEpoch {
		merged.HasLoaded = next.HasLoaded
	}
	return merged
}

func (s *Scheduler) finish() {
	s.finished = true
	logger.Info(s.logCtx, "Finished executing %s", s.script.displayName())
	s.observer.DidFinishExecuting(s.script)
	close(s.done)
	s.publish()
}

// NavigationStarted records a navigation the page began.
func (s *Scheduler) NavigationStarted(id NavigationID) {
	s.mail.push(func() {
		s.ec.addNavigation(id)
		s.processNextStepIfPossible()
	})
}

// NavigationCommitted marks the arrival of a new document, which has not
// loaded yet.
func (s *Scheduler) NavigationCommitted(id NavigationID) {
	s.mail.push(func() {
		s.ec.HasLoaded = false
		s.loadEpoch++
		s.processNextStepIfPossible()
	})
}

// NavigationEnded removes a navigation, whether it succeeded or failed.
func (s *Scheduler) NavigationEnded(id NavigationID, err error) {
	s.mail.push(func() {
		if err != nil {
			logger.Warn(s.logCtx, "Navigation %s failed: %v", id, err)
		}
		s.ec.removeNavigation(id)
		s.processNextStepIfPossible()
	})
}

// ContentReady records that the current document finished loading.
func (s *Scheduler) ContentReady() {
	s.mail.push(func() {
		s.ec.HasLoaded = true
		s.loadEpoch++
		s.processNextStepIfPossible()
	})
}

func (s *Scheduler) publish() {
	v := view{
		running: s.running,
		loading: s.ec.IsLoading(),
		done:    s.done,
		ec:      s.ec.Clone(),
	}
	switch {
	case s.script == nil:
		v.state = StateIdle
	case s.finished:
		v.state = StateFinished
	case s.running:
		v.state = StateRunning
	default:
		v.state = StateAwaitingExternalEvent
	}
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
}

func (s *Scheduler) snapshot() view {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return s.snapshot().state
}

// IsFinished reports whether every step of the current script has completed.
func (s *Scheduler) IsFinished() bool {
	return s.snapshot().state == StateFinished
}

// Context returns a copy of the current execution context.
func (s *Scheduler) Context() *ExecutionContext {
	return s.snapshot().ec.Clone()
}

// Done is closed when the current script finishes or is replaced. It is nil
// before the first Execute.
func (s *Scheduler) Done() <-chan struct{} {
	return s.snapshot().done
}

// Wait blocks until the current script finishes or ctx ends. A script that
// waits on a page that never loads never finishes, so callers should pass a
// deadline.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := s.Done()
	if done == nil {
		return errors.New("no script has been executed")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for script (state %s)", s.State())
	case <-s.quit:
		return ErrClosed
	}
}

// FetchRawContents returns the serialized document. It refuses with ErrBusy
// while a step runs or a navigation is in flight.
func (s *Scheduler) FetchRawContents(ctx context.Context) (string, error) {
	select {
	case <-s.quit:
		return "", ErrClosed
	default:
	}
	v := s.snapshot()
	if v.running || v.loading {
		return "", ErrBusy
	}
	val, err := s.page.Evaluate(ctx, documentHTMLScript)
	if err != nil {
		return "", errors.Wrap(err, "fetch raw contents")
	}
	return stringValue(val), nil
}

// Close stops the scheduler and cancels the running step. Waiting callbacks
// are never resumed.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.cancel()
		<-s.stopped
		s.inflight.Wait()
	})
	return nil
}

// mailbox is an unbounded FIFO of loop work. push never blocks, so page
// events and observers can post from any goroutine, including the loop.
type mailbox struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(fn func()) {
	m.mu.Lock()
	m.items = append(m.items, fn)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
