package automation

// Observer is notified as a script runs. Calls are made from the scheduler
// goroutine in order. Implementations must not call Execute on the same
// scheduler synchronously; post to another goroutine instead.
type Observer interface {
	WillBeginExecuting(script *Script)
	DidFinishExecuting(script *Script)
	WillExecuteStep(step Step)
	DidCompleteStep(step Step, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnWillBeginExecuting func(script *Script)
	OnDidFinishExecuting func(script *Script)
	OnWillExecuteStep    func(step Step)
	OnDidCompleteStep    func(step Step, err error)
}

func (o ObserverFuncs) WillBeginExecuting(script *Script) {
	if o.OnWillBeginExecuting != nil {
		o.OnWillBeginExecuting(script)
	}
}

func (o ObserverFuncs) DidFinishExecuting(script *Script) {
	if o.OnDidFinishExecuting != nil {
		o.OnDidFinishExecuting(script)
	}
}

func (o ObserverFuncs) WillExecuteStep(step Step) {
	if o.OnWillExecuteStep != nil {
		o.OnWillExecuteStep(step)
	}
}

func (o ObserverFuncs) DidCompleteStep(step Step, err error) {
	if o.OnDidCompleteStep != nil {
		o.OnDidCompleteStep(step, err)
	}
}

type multiObserver []Observer

// Observers fans every notification out to each of obs in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) WillBeginExecuting(script *Script) {
	for _, o := range m {
		o.WillBeginExecuting(script)
	}
}

func (m multiObserver) DidFinishExecuting(script *Script) {
	for _, o := range m {
		o.DidFinishExecuting(script)
	}
}

func (m multiObserver) WillExecuteStep(step Step) {
	for _, o := range m {
		o.WillExecuteStep(step)
	}
}

func (m multiObserver) DidCompleteStep(step Step, err error) {
	for _, o := range m {
		o.DidCompleteStep(step, err)
	}
}
