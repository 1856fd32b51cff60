package automation

import (
	"fmt"
	"time"

	"github.com/autowebkit/autowebkit/models"
	"github.com/pkg/errors"
)

// Compile turns a stored definition into a runnable Script.
func Compile(def *models.ScriptDefinition) (*Script, error) {
	if def == nil {
		return nil, errors.New("script definition is nil")
	}
	steps, err := compileSteps(def.Steps, "steps")
	if err != nil {
		return nil, errors.Wrapf(err, "compile script %q", def.Name)
	}
	return NewNamedScript(def.Name, steps...), nil
}

// InitialContext builds the execution context a definition starts from.
func InitialContext(def *models.ScriptDefinition) *ExecutionContext {
	return NewExecutionContext(def.Environment)
}

func compileSteps(defs []models.StepDefinition, path string) ([]Step, error) {
	steps := make([]Step, 0, len(defs))
	for i, d := range defs {
		step, err := compileStep(d, errorsPath(path, i))
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func errorsPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func compileStep(d models.StepDefinition, path string) (Step, error) {
	switch d.Type {
	case models.StepLoad:
		if d.URL == "" {
			return nil, errors.Errorf("%s: load requires url", path)
		}
		return Load(d.URL), nil
	case models.StepLoadHTML:
		return LoadHTML(d.HTML, d.BaseURL), nil
	case models.StepWait:
		if d.Duration < 0 {
			return nil, errors.Errorf("%s: negative duration %d", path, d.Duration)
		}
		return Wait(time.Duration(d.Duration) * time.Millisecond), nil
	case models.StepWaitUntilLoaded:
		return WaitUntilLoaded(nil), nil
	case models.StepSetAttribute:
		return SetAttribute(d.Name, d.Value, d.Selector), nil
	case models.StepRemoveAttribute:
		return RemoveAttribute(d.Name, d.Selector), nil
	case models.StepSetAttributeFromContext:
		return SetAttributeFromContext(d.Name, d.ContextKey, d.Selector), nil
	case models.StepSubmit:
		return Submit(d.Selector, d.ShouldBlock), nil
	case models.StepClick:
		return Click(d.Selector), nil
	case models.StepExtractHTML:
		return ExtractHTML(d.Selector, d.Key), nil
	case models.StepExtractText:
		return ExtractText(d.Selector, d.Key), nil
	case models.StepExtractAttribute:
		return ExtractAttribute(d.Selector, d.Attribute, d.Key), nil
	case models.StepIfPresent, models.StepIfEquals:
		success, err := compileSteps(d.Success, path+".success")
		if err != nil {
			return nil, err
		}
		failure, err := compileSteps(d.Failure, path+".failure")
		if err != nil {
			return nil, err
		}
		if d.Type == models.StepIfPresent {
			return IfPresent(d.Key, success, failure), nil
		}
		value := ""
		if d.Value != nil {
			value = *d.Value
		}
		return IfEquals(d.Key, value, success, failure), nil
	case models.StepPrintMessage:
		return PrintMessage(d.Message), nil
	default:
		return nil, errors.Errorf("%s: unknown step type %q", path, d.Type)
	}
}
