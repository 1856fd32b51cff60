package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSchedulerIdleBeforeExecute(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, StateIdle, h.sched.State())
	assert.False(t, h.sched.IsFinished())
	assert.Nil(t, h.sched.Done())
}

func TestEmptyScriptFinishesImmediately(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sched.Execute(NewScript(), nil))

	assert.True(t, h.sched.IsFinished())
	assert.Equal(t, StateFinished, h.sched.State())
	assert.Empty(t, h.obs.log(), "an empty script fires no callbacks")
	select {
	case <-h.sched.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestDebugStepsRunInOrder(t *testing.T) {
	h := newHarness(t)

	h.run(t, NewScript(PrintMessage("one"), PrintMessage("two")), nil)

	assert.Equal(t, "one\ntwo\n", h.out.String())
	assert.Equal(t, []string{
		"begin",
		`will printMessage("one")`,
		`did printMessage("one")`,
		`will printMessage("two")`,
		`did printMessage("two")`,
		"finish",
	}, h.obs.log())
	assert.True(t, h.sched.IsFinished())
}

func TestCallbackCountsArePaired(t *testing.T) {
	h := newHarness(t)
	h.page.fail(setAttributeScript("value", ptr("x"), "#missing"), errors.New("element is null"))

	script := NewScript(
		PrintMessage("start"),
		SetAttribute("value", ptr("x"), "#missing"),
		IfPresent("nope", nil, []Step{PrintMessage("fallback")}),
		Wait(5*time.Millisecond),
	)
	h.run(t, script, loaded(nil))

	assert.Equal(t, 1, h.obs.count("begin"))
	assert.Equal(t, 1, h.obs.count("finish"))
	assert.Equal(t, 5, h.obs.count("will "))
	assert.Equal(t, h.obs.count("will "), h.obs.count("did "))
	log := h.obs.log()
	assert.Equal(t, "begin", log[0])
	assert.Equal(t, "finish", log[len(log)-1])
}

func TestDomStepWaitsForContentReady(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sched.Execute(NewScript(WaitUntilLoaded(nil), PrintMessage("after")), nil))

	assert.Equal(t, StateAwaitingExternalEvent, h.sched.State())
	assert.Empty(t, h.obs.log())

	h.sched.ContentReady()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Wait(ctx))
	assert.Equal(t, "after\n", h.out.String())
	assert.True(t, h.sched.Context().HasLoaded)
}

func TestNavigationGatesEveryStep(t *testing.T) {
	h := newHarness(t)

	h.sched.NavigationStarted("nav-1")
	require.NoError(t, h.sched.Execute(NewScript(PrintMessage("go")), nil))

	assert.Equal(t, StateAwaitingExternalEvent, h.sched.State())
	assert.True(t, h.sched.Context().IsLoading())
	assert.Empty(t, h.out.String())

	h.sched.NavigationEnded("nav-1", errors.New("net::ERR_ABORTED"))

	require.Eventually(t, h.sched.IsFinished, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "go\n", h.out.String())
	assert.False(t, h.sched.Context().IsLoading())
}

func TestNavigationCommitResetsHasLoaded(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sched.Execute(NewScript(WaitUntilLoaded(nil)), loaded(nil)))
	require.Eventually(t, h.sched.IsFinished, 2*time.Second, 5*time.Millisecond)

	h.sched.NavigationStarted("main")
	h.sched.NavigationCommitted("main")

	require.Eventually(t, func() bool {
		ec := h.sched.Context()
		return ec.IsLoading() && !ec.HasLoaded
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoadHTMLThenFetchRawContents(t *testing.T) {
	h := newHarness(t)
	const html = `<html><head></head><body><form><input type="text" id="banana"></form></body></html>`
	h.page.onLoad = func(string) {
		h.sched.NavigationStarted("main")
		h.sched.NavigationCommitted("main")
		h.sched.ContentReady()
		h.sched.NavigationEnded("main", nil)
	}

	h.run(t, NewScript(LoadHTML(html, ""), WaitUntilLoaded(nil)), nil)

	raw, err := h.sched.FetchRawContents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, html, raw)
}

func TestFetchRawContentsIsGated(t *testing.T) {
	h := newHarness(t)
	h.page.html = "<html></html>"

	h.sched.NavigationStarted("main")
	require.Eventually(t, func() bool { return h.sched.Context().IsLoading() }, 2*time.Second, 5*time.Millisecond)

	_, err := h.sched.FetchRawContents(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	h.sched.NavigationEnded("main", nil)
	require.Eventually(t, func() bool { return !h.sched.Context().IsLoading() }, 2*time.Second, 5*time.Millisecond)

	raw, err := h.sched.FetchRawContents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", raw)
}

func TestBranchSplicesBeforeQueuedSteps(t *testing.T) {
	success := []Step{PrintMessage("a"), PrintMessage("b")}
	failure := []Step{PrintMessage("x")}

	tests := []struct {
		name   string
		branch Step
		env    map[string]string
		want   string
	}{
		{"present", IfPresent("flag", success, failure), map[string]string{"flag": ""}, "a\nb\nc\n"},
		{"absent", IfPresent("flag", success, failure), nil, "x\nc\n"},
		{"equal", IfEquals("mode", "fast", success, failure), map[string]string{"mode": "fast"}, "a\nb\nc\n"},
		{"not equal", IfEquals("mode", "fast", success, failure), map[string]string{"mode": "slow"}, "x\nc\n"},
		{"equals on absent key", IfEquals("mode", "", success, failure), nil, "x\nc\n"},
		{"no failure branch", IfPresent("flag", success, nil), nil, "c\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			h.run(t, NewScript(tt.branch, PrintMessage("c")), NewExecutionContext(tt.env))

			assert.Equal(t, tt.want, h.out.String())
			assert.Equal(t, h.obs.count("will "), h.obs.count("did "))
		})
	}
}

func TestNestedBranches(t *testing.T) {
	h := newHarness(t)

	script := NewScript(
		IfPresent("outer", []Step{
			IfEquals("inner", "1", []Step{PrintMessage("inner-1")}, []Step{PrintMessage("inner-other")}),
			PrintMessage("outer-tail"),
		}, nil),
		PrintMessage("end"),
	)
	h.run(t, script, NewExecutionContext(map[string]string{"outer": "y", "inner": "1"}))

	assert.Equal(t, "inner-1\nouter-tail\nend\n", h.out.String())
}

func TestSubmitBlockingClearsHasLoaded(t *testing.T) {
	t.Run("blocking", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.sched.Execute(NewScript(
			Submit("form", true),
			SetAttribute("value", ptr("1"), "#after"),
		), loaded(nil)))

		require.Eventually(t, func() bool {
			return h.sched.State() == StateAwaitingExternalEvent
		}, 2*time.Second, 5*time.Millisecond)
		assert.False(t, h.sched.Context().HasLoaded)
		assert.Equal(t, 1, h.obs.count("did "))
		assert.Equal(t, []string{submitScript("form")}, h.page.evaluated())

		h.sched.ContentReady()
		require.Eventually(t, h.sched.IsFinished, 2*time.Second, 5*time.Millisecond)
		assert.Len(t, h.page.evaluated(), 2)
	})

	t.Run("non blocking", func(t *testing.T) {
		h := newHarness(t)

		h.run(t, NewScript(Submit("form", false), SetAttribute("value", ptr("1"), "#after")), loaded(nil))

		assert.True(t, h.sched.Context().HasLoaded)
		assert.Len(t, h.page.evaluated(), 2)
	})
}

func TestSubmitClearsHasLoadedBeforeSubmitting(t *testing.T) {
	page := newFakePage()
	ec := loaded(nil)
	var loadedAtSubmit bool
	page.onScript = func(string) { loadedAtSubmit = ec.HasLoaded }

	var got outcome
	perform(context.Background(), runtime{page: page}, Submit("form", true), ec, func(out outcome) { got = out })

	assert.False(t, loadedAtSubmit)
	assert.False(t, got.ec.HasLoaded)
}

func TestContentReadyDuringBlockingSubmitIsKept(t *testing.T) {
	h := newHarness(t)
	h.page.onScript = func(script string) {
		if script == submitScript("form") {
			h.sched.NavigationStarted("main")
			h.sched.NavigationCommitted("main")
			h.sched.ContentReady()
			h.sched.NavigationEnded("main", nil)
		}
	}

	h.run(t, NewScript(Submit("form", true), ExtractText("h1", "title")), loaded(nil))

	assert.True(t, h.sched.Context().HasLoaded)
	assert.Len(t, h.page.evaluated(), 2)
}

func TestDomErrorsAreNotFatal(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("TypeError: element is null")
	h.page.fail(clickScript("#gone"), boom)

	h.run(t, NewScript(Click("#gone"), PrintMessage("still here")), loaded(nil))

	assert.Equal(t, "still here\n", h.out.String())
	require.Len(t, h.obs.errs, 2)
	assert.ErrorIs(t, h.obs.errs[0], boom)
	assert.NoError(t, h.obs.errs[1])
}

func TestGetHTMLByElementCallbackThreadsContext(t *testing.T) {
	h := newHarness(t)
	h.page.set(elementHTMLScript("#source"), "<b>hi</b>")

	initial := loaded(map[string]string{"seed": "1"})
	var seen string
	script := NewScript(
		GetHTMLByElement("#source", func(html string, ec *ExecutionContext, err error, resume Resume) {
			seen = html
			ec.Set("fragment", html)
			resume(ec, err)
		}),
		SetAttributeFromContext("value", "fragment", "#target"),
		WaitUntilLoaded(func(ec *ExecutionContext, resume Resume) {
			ec.Set("checked", ec.Environment["fragment"])
			resume(ec, nil)
		}),
	)
	h.run(t, script, initial)

	assert.Equal(t, "<b>hi</b>", seen)
	assert.Contains(t, h.page.evaluated(), setAttributeScript("value", ptr("<b>hi</b>"), "#target"))

	final := h.sched.Context()
	assert.Equal(t, "<b>hi</b>", final.Environment["checked"])
	assert.Equal(t, "1", final.Environment["seed"])

	_, leaked := initial.Get("fragment")
	assert.False(t, leaked, "the caller's context must not change")
}

func TestGetHTMLByElementMissingElementYieldsEmptyString(t *testing.T) {
	h := newHarness(t)

	var (
		seen    = "unset"
		seenErr error
	)
	h.run(t, NewScript(GetHTMLByElement("#nothing", func(html string, ec *ExecutionContext, err error, resume Resume) {
		seen, seenErr = html, err
		resume(ec, err)
	})), loaded(nil))

	assert.Equal(t, "", seen)
	assert.NoError(t, seenErr)
}

func TestResumeOnlyCountsOnce(t *testing.T) {
	h := newHarness(t)

	h.run(t, NewScript(
		WaitUntilLoaded(func(ec *ExecutionContext, resume Resume) {
			resume(ec, nil)
			resume(ec, errors.New("second call"))
		}),
		PrintMessage("next"),
	), loaded(nil))

	assert.Equal(t, 2, h.obs.count("did "))
	assert.NoError(t, h.obs.errs[0])
}

func TestExtractStoresOnlyPresentValues(t *testing.T) {
	h := newHarness(t)
	h.page.set(extractScript(ExtractTextMode, "h1", ""), "Welcome")
	h.page.set(extractScript(ExtractAttributeMode, "a", "href"), "/next")

	h.run(t, NewScript(
		ExtractText("h1", "title"),
		ExtractAttribute("a", "href", "link"),
		ExtractText("#absent", "missing"),
		IfPresent("missing", []Step{PrintMessage("found")}, []Step{PrintMessage("not found")}),
	), loaded(nil))

	env := h.sched.Context().Environment
	assert.Equal(t, "Welcome", env["title"])
	assert.Equal(t, "/next", env["link"])
	assert.NotContains(t, env, "missing")
	assert.Equal(t, "not found\n", h.out.String())
}

func TestWaitStepHonoursDuration(t *testing.T) {
	h := newHarness(t)

	start := time.Now()
	h.run(t, NewScript(Wait(60*time.Millisecond)), nil)

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestLoadStepCompletesWithoutWaiting(t *testing.T) {
	h := newHarness(t)

	h.run(t, NewScript(Load("https://example.com"), PrintMessage("loaded")), nil)

	assert.Equal(t, []string{"https://example.com"}, h.page.loads)
	assert.Equal(t, "loaded\n", h.out.String())
}

func TestExecuteReplacesStalledScript(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sched.Execute(NewScript(
		WaitUntilLoaded(func(ec *ExecutionContext, resume Resume) {}),
		PrintMessage("never"),
	), loaded(nil)))
	require.Eventually(t, func() bool { return h.obs.count("will ") == 1 }, 2*time.Second, 5*time.Millisecond)
	first := h.sched.Done()

	h.run(t, NewScript(PrintMessage("second")), nil)

	assert.Equal(t, "second\n", h.out.String())
	select {
	case <-first:
	default:
		t.Fatal("waiters of the replaced script should be released")
	}
}

func TestWaitHonoursContextDeadline(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Execute(NewScript(WaitUntilLoaded(nil)), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.sched.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, h.sched.IsFinished())
}

func TestCloseCancelsRunningStep(t *testing.T) {
	page := newFakePage()
	sched := NewScheduler(page, WithDebugWriter(&syncBuffer{}))

	require.NoError(t, sched.Execute(NewScript(Wait(time.Hour)), nil))
	require.Eventually(t, func() bool { return sched.State() == StateRunning }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sched.Close())
	require.NoError(t, sched.Close())

	assert.ErrorIs(t, sched.Execute(NewScript(), nil), ErrClosed)
	_, err := sched.FetchRawContents(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
