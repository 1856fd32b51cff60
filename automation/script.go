package automation

// Script is an ordered list of steps. The scheduler works on its own copy, so
// a Script can be executed more than once.
type Script struct {
	Name  string
	steps []Step
}

// NewScript builds an unnamed script.
func NewScript(steps ...Step) *Script {
	return &Script{steps: append([]Step(nil), steps...)}
}

// NewNamedScript builds a script that shows up in logs under name.
func NewNamedScript(name string, steps ...Step) *Script {
	s := NewScript(steps...)
	s.Name = name
	return s
}

// Append adds steps at the end.
func (s *Script) Append(steps ...Step) *Script {
	s.steps = append(s.steps, steps...)
	return s
}

// Len returns the number of top-level steps.
func (s *Script) Len() int {
	if s == nil {
		return 0
	}
	return len(s.steps)
}

// Steps returns a copy of the step list.
func (s *Script) Steps() []Step {
	if s == nil {
		return nil
	}
	return append([]Step(nil), s.steps...)
}

func (s *Script) displayName() string {
	if s == nil || s.Name == "" {
		return "script"
	}
	return s.Name
}

// insertSteps splices extra into steps at position at.
func insertSteps(steps []Step, at int, extra []Step) []Step {
	if len(extra) == 0 {
		return steps
	}
	if at > len(steps) {
		at = len(steps)
	}
	out := make([]Step, 0, len(steps)+len(extra))
	out = append(out, steps[:at]...)
	out = append(out, extra...)
	return append(out, steps[at:]...)
}
