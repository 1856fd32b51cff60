package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserversFanOutInOrder(t *testing.T) {
	var calls []string
	first := ObserverFuncs{
		OnWillExecuteStep: func(step Step) { calls = append(calls, "first "+step.String()) },
	}
	second := &recorder{}

	obs := Observers(first, nil, second)
	step := PrintMessage("m")
	script := NewScript(step)
	obs.WillBeginExecuting(script)
	obs.WillExecuteStep(step)
	obs.DidCompleteStep(step, nil)
	obs.DidFinishExecuting(script)

	assert.Equal(t, []string{`first printMessage("m")`}, calls)
	assert.Equal(t, []string{"begin", `will printMessage("m")`, `did printMessage("m")`, "finish"}, second.log())
}

func TestSchedulerWithFuncObserver(t *testing.T) {
	var began, finished int
	sched := NewScheduler(newFakePage(), WithDebugWriter(&syncBuffer{}), WithObserver(ObserverFuncs{
		OnWillBeginExecuting: func(*Script) { began++ },
		OnDidFinishExecuting: func(*Script) { finished++ },
	}))
	defer sched.Close()

	assert.NoError(t, sched.Execute(NewScript(PrintMessage("x")), nil))
	<-sched.Done()

	assert.Equal(t, 1, began)
	assert.Equal(t, 1, finished)
}
