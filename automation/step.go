package automation

import (
	"fmt"
	"time"
)

// Kind groups step variants by what they do to the page.
type Kind int

const (
	KindLoad Kind = iota
	KindWait
	KindDomMutate
	KindDomQuery
	KindBranch
	KindDebug
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindWait:
		return "wait"
	case KindDomMutate:
		return "dom_mutate"
	case KindDomQuery:
		return "dom_query"
	case KindBranch:
		return "branch"
	case KindDebug:
		return "debug"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Step is one unit of page interaction. The set of implementations is closed:
// the scheduler dispatches on the concrete type and new variants are added here.
type Step interface {
	Kind() Kind
	// RequiresLoaded reports whether the step may only run once the current
	// document signalled that it finished loading.
	RequiresLoaded() bool
	String() string

	isStep()
}

// Resume hands control back to the scheduler from a callback step. Only the
// first call has any effect.
type Resume func(ec *ExecutionContext, err error)

// WaitCallback runs once the page is loaded and must call resume.
type WaitCallback func(ec *ExecutionContext, resume Resume)

// HTMLCallback receives fetched markup, may change ec, and must call resume.
type HTMLCallback func(html string, ec *ExecutionContext, err error, resume Resume)

// LoadStep navigates the page to URL.
type LoadStep struct {
	URL string
}

// LoadHTMLStep replaces the page with inline markup. BaseURL, when set, is the
// document URL relative references resolve against.
type LoadHTMLStep struct {
	HTML    string
	BaseURL string
}

// WaitStep completes after Duration.
type WaitStep struct {
	Duration time.Duration
}

// WaitUntilLoadedStep gates the script on the content-ready signal and
// optionally hands control to Callback.
type WaitUntilLoadedStep struct {
	Callback WaitCallback
}

// SetAttributeStep sets Name on the element matching Selector. A nil Value
// removes the attribute.
type SetAttributeStep struct {
	Name     string
	Value    *string
	Selector string
}

// SetAttributeFromContextStep is SetAttributeStep with the value read from
// the environment when the step runs. A missing key removes the attribute.
type SetAttributeFromContextStep struct {
	Name       string
	ContextKey string
	Selector   string
}

// SubmitStep submits the element matching Selector. With ShouldBlock the
// step expects a navigation and clears HasLoaded before submitting.
type SubmitStep struct {
	Selector    string
	ShouldBlock bool
}

// ClickStep clicks the element matching Selector.
type ClickStep struct {
	Selector string
}

// GetHTMLStep fetches the serialized document.
type GetHTMLStep struct {
	Callback HTMLCallback
}

// GetHTMLByElementStep fetches the inner HTML of the element matching
// Selector. A missing element yields an empty string.
type GetHTMLByElementStep struct {
	Selector string
	Callback HTMLCallback
}

// ExtractMode selects what an ExtractStep reads from the element.
type ExtractMode int

const (
	ExtractHTMLMode ExtractMode = iota
	ExtractTextMode
	ExtractAttributeMode
)

// ExtractStep stores a piece of the page into the environment under Key.
// Nothing is stored when the element (or attribute) does not exist, so a
// following IfPresentStep can branch on it.
type ExtractStep struct {
	Mode      ExtractMode
	Selector  string
	Attribute string
	Key       string
}

// IfPresentStep splices Success after itself when Key is in the environment,
// Failure otherwise.
type IfPresentStep struct {
	Key     string
	Success []Step
	Failure []Step
}

// IfEqualsStep splices Success after itself when the environment maps Key to
// Value, Failure otherwise (including when Key is absent).
type IfEqualsStep struct {
	Key     string
	Value   string
	Success []Step
	Failure []Step
}

// PrintMessageStep writes Message to the scheduler's debug output.
type PrintMessageStep struct {
	Message string
}

func Load(url string) Step { return &LoadStep{URL: url} }

func LoadHTML(html, baseURL string) Step { return &LoadHTMLStep{HTML: html, BaseURL: baseURL} }

func Wait(d time.Duration) Step { return &WaitStep{Duration: d} }

func WaitUntilLoaded(cb WaitCallback) Step { return &WaitUntilLoadedStep{Callback: cb} }

func SetAttribute(name string, value *string, selector string) Step {
	return &SetAttributeStep{Name: name, Value: value, Selector: selector}
}

func RemoveAttribute(name, selector string) Step {
	return &SetAttributeStep{Name: name, Selector: selector}
}

func SetAttributeFromContext(name, contextKey, selector string) Step {
	return &SetAttributeFromContextStep{Name: name, ContextKey: contextKey, Selector: selector}
}

func Submit(selector string, shouldBlock bool) Step {
	return &SubmitStep{Selector: selector, ShouldBlock: shouldBlock}
}

func Click(selector string) Step { return &ClickStep{Selector: selector} }

func GetHTML(cb HTMLCallback) Step { return &GetHTMLStep{Callback: cb} }

func GetHTMLByElement(selector string, cb HTMLCallback) Step {
	return &GetHTMLByElementStep{Selector: selector, Callback: cb}
}

func ExtractHTML(selector, key string) Step {
	return &ExtractStep{Mode: ExtractHTMLMode, Selector: selector, Key: key}
}

func ExtractText(selector, key string) Step {
	return &ExtractStep{Mode: ExtractTextMode, Selector: selector, Key: key}
}

func ExtractAttribute(selector, name, key string) Step {
	return &ExtractStep{Mode: ExtractAttributeMode, Selector: selector, Attribute: name, Key: key}
}

func IfPresent(key string, success, failure []Step) Step {
	return &IfPresentStep{Key: key, Success: success, Failure: failure}
}

func IfEquals(key, value string, success, failure []Step) Step {
	return &IfEqualsStep{Key: key, Value: value, Success: success, Failure: failure}
}

func PrintMessage(message string) Step { return &PrintMessageStep{Message: message} }

func (*LoadStep) Kind() Kind                    { return KindLoad }
func (*LoadHTMLStep) Kind() Kind                { return KindLoad }
func (*WaitStep) Kind() Kind                    { return KindWait }
func (*WaitUntilLoadedStep) Kind() Kind         { return KindWait }
func (*SetAttributeStep) Kind() Kind            { return KindDomMutate }
func (*SetAttributeFromContextStep) Kind() Kind { return KindDomMutate }
func (*SubmitStep) Kind() Kind                  { return KindDomMutate }
func (*ClickStep) Kind() Kind                   { return KindDomMutate }
func (*GetHTMLStep) Kind() Kind                 { return KindDomQuery }
func (*GetHTMLByElementStep) Kind() Kind        { return KindDomQuery }
func (*ExtractStep) Kind() Kind                 { return KindDomQuery }
func (*IfPresentStep) Kind() Kind               { return KindBranch }
func (*IfEqualsStep) Kind() Kind                { return KindBranch }
func (*PrintMessageStep) Kind() Kind            { return KindDebug }

func (*LoadStep) RequiresLoaded() bool                    { return false }
func (*LoadHTMLStep) RequiresLoaded() bool                { return false }
func (*WaitStep) RequiresLoaded() bool                    { return false }
func (*WaitUntilLoadedStep) RequiresLoaded() bool         { return true }
func (*SetAttributeStep) RequiresLoaded() bool            { return true }
func (*SetAttributeFromContextStep) RequiresLoaded() bool { return true }
func (*SubmitStep) RequiresLoaded() bool                  { return true }
func (*ClickStep) RequiresLoaded() bool                   { return true }
func (*GetHTMLStep) RequiresLoaded() bool                 { return true }
func (*GetHTMLByElementStep) RequiresLoaded() bool        { return true }
func (*ExtractStep) RequiresLoaded() bool                 { return true }
func (*IfPresentStep) RequiresLoaded() bool               { return false }
func (*IfEqualsStep) RequiresLoaded() bool                { return false }
func (*PrintMessageStep) RequiresLoaded() bool            { return false }

func (s *LoadStep) String() string { return fmt.Sprintf("load(%s)", s.URL) }

func (s *LoadHTMLStep) String() string {
	return fmt.Sprintf("loadHtml(%d bytes, base=%q)", len(s.HTML), s.BaseURL)
}

func (s *WaitStep) String() string { return fmt.Sprintf("wait(%s)", s.Duration) }

func (s *WaitUntilLoadedStep) String() string { return "waitUntilLoaded" }

func (s *SetAttributeStep) String() string {
	if s.Value == nil {
		return fmt.Sprintf("removeAttribute(%s, %s)", s.Name, s.Selector)
	}
	return fmt.Sprintf("setAttribute(%s=%q, %s)", s.Name, *s.Value, s.Selector)
}

func (s *SetAttributeFromContextStep) String() string {
	return fmt.Sprintf("setAttribute(%s=${%s}, %s)", s.Name, s.ContextKey, s.Selector)
}

func (s *SubmitStep) String() string {
	return fmt.Sprintf("submit(%s, block=%t)", s.Selector, s.ShouldBlock)
}

func (s *ClickStep) String() string { return fmt.Sprintf("click(%s)", s.Selector) }

func (s *GetHTMLStep) String() string { return "getHtml" }

func (s *GetHTMLByElementStep) String() string { return fmt.Sprintf("getHtml(%s)", s.Selector) }

func (s *ExtractStep) String() string {
	switch s.Mode {
	case ExtractTextMode:
		return fmt.Sprintf("extractText(%s -> %s)", s.Selector, s.Key)
	case ExtractAttributeMode:
		return fmt.Sprintf("extractAttribute(%s[%s] -> %s)", s.Selector, s.Attribute, s.Key)
	default:
		return fmt.Sprintf("extractHtml(%s -> %s)", s.Selector, s.Key)
	}
}

func (s *IfPresentStep) String() string {
	return fmt.Sprintf("ifPresent(%s, %d/%d)", s.Key, len(s.Success), len(s.Failure))
}

func (s *IfEqualsStep) String() string {
	return fmt.Sprintf("ifEquals(%s==%q, %d/%d)", s.Key, s.Value, len(s.Success), len(s.Failure))
}

func (s *PrintMessageStep) String() string { return fmt.Sprintf("printMessage(%q)", s.Message) }

func (*LoadStep) isStep()                    {}
func (*LoadHTMLStep) isStep()                {}
func (*WaitStep) isStep()                    {}
func (*WaitUntilLoadedStep) isStep()         {}
func (*SetAttributeStep) isStep()            {}
func (*SetAttributeFromContextStep) isStep() {}
func (*SubmitStep) isStep()                  {}
func (*ClickStep) isStep()                   {}
func (*GetHTMLStep) isStep()                 {}
func (*GetHTMLByElementStep) isStep()        {}
func (*ExtractStep) isStep()                 {}
func (*IfPresentStep) isStep()               {}
func (*IfEqualsStep) isStep()                {}
func (*PrintMessageStep) isStep()            {}
