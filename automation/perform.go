package automation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// outcome is what a finished step hands back to the scheduler.
type outcome struct {
	ec       *ExecutionContext
	err      error
	inserted []Step
}

// runtime is what a step needs from its scheduler while it runs.
type runtime struct {
	page  Page
	debug io.Writer
}

// onceResume turns done into a Resume that ignores all calls after the first.
func onceResume(ec *ExecutionContext, done func(outcome)) Resume {
	var once sync.Once
	return func(next *ExecutionContext, err error) {
		once.Do(func() {
			if next == nil {
				next = ec
			}
			done(outcome{ec: next, err: err})
		})
	}
}

// perform executes step against rt with its own copy of the context and
// reports through done exactly once. Callback steps may call done from
// another goroutine after perform returns.
func perform(ctx context.Context, rt runtime, step Step, ec *ExecutionContext, done func(outcome)) {
	switch st := step.(type) {
	case *LoadStep:
		err := rt.page.Load(ctx, st.URL)
		done(outcome{ec: ec, err: errors.Wrapf(err, "load %s", st.URL)})

	case *LoadHTMLStep:
		err := rt.page.LoadHTML(ctx, st.HTML, st.BaseURL)
		done(outcome{ec: ec, err: errors.Wrap(err, "load html")})

	case *WaitStep:
		timer := time.NewTimer(st.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
			done(outcome{ec: ec})
		case <-ctx.Done():
			done(outcome{ec: ec, err: ctx.Err()})
		}

	case *WaitUntilLoadedStep:
		if st.Callback == nil {
			done(outcome{ec: ec})
			return
		}
		st.Callback(ec, onceResume(ec, done))

	case *SetAttributeStep:
		_, err := rt.page.Evaluate(ctx, setAttributeScript(st.Name, st.Value, st.Selector))
		done(outcome{ec: ec, err: errors.Wrapf(err, "set attribute %s on %s", st.Name, st.Selector)})

	case *SetAttributeFromContextStep:
		var value *string
		if v, ok := ec.Get(st.ContextKey); ok {
			value = &v
		}
		_, err := rt.page.Evaluate(ctx, setAttributeScript(st.Name, value, st.Selector))
		done(outcome{ec: ec, err: errors.Wrapf(err, "set attribute %s on %s", st.Name, st.Selector)})

	case *SubmitStep:
		if st.ShouldBlock {
			ec.HasLoaded = false
		}
		_, err := rt.page.Evaluate(ctx, submitScript(st.Selector))
		done(outcome{ec: ec, err: errors.Wrapf(err, "submit %s", st.Selector)})

	case *ClickStep:
		_, err := rt.page.Evaluate(ctx, clickScript(st.Selector))
		done(outcome{ec: ec, err: errors.Wrapf(err, "click %s", st.Selector)})

	case *GetHTMLStep:
		v, err := rt.page.Evaluate(ctx, documentHTMLScript)
		deliverHTML(stringValue(v), errors.Wrap(err, "get html"), ec, st.Callback, done)

	case *GetHTMLByElementStep:
		v, err := rt.page.Evaluate(ctx, elementHTMLScript(st.Selector))
		deliverHTML(stringValue(v), errors.Wrapf(err, "get html of %s", st.Selector), ec, st.Callback, done)

	case *ExtractStep:
		v, err := rt.page.Evaluate(ctx, extractScript(st.Mode, st.Selector, st.Attribute))
		if err == nil && v != nil {
			ec.Set(st.Key, stringValue(v))
		}
		done(outcome{ec: ec, err: errors.Wrapf(err, "extract %s", st.Key)})

	case *IfPresentStep:
		next := st.Failure
		if _, ok := ec.Get(st.Key); ok {
			next = st.Success
		}
		done(outcome{ec: ec, inserted: next})

	case *IfEqualsStep:
		next := st.Failure
		if v, ok := ec.Get(st.Key); ok && v == st.Value {
			next = st.Success
		}
		done(outcome{ec: ec, inserted: next})

	case *PrintMessageStep:
		if rt.debug != nil {
			fmt.Fprintln(rt.debug, st.Message)
		}
		done(outcome{ec: ec})

	default:
		done(outcome{ec: ec, err: errors.Errorf("unsupported step %T", step)})
	}
}

func deliverHTML(html string, err error, ec *ExecutionContext, cb HTMLCallback, done func(outcome)) {
	if cb == nil {
		done(outcome{ec: ec, err: err})
		return
	}
	cb(html, ec, err, onceResume(ec, done))
}
