package models

import (
	"sort"
	"strings"
	"time"
)

// Step types understood by automation.Compile
const (
	StepLoad                    = "load"
	StepLoadHTML                = "load_html"
	StepWait                    = "wait"
	StepWaitUntilLoaded         = "wait_until_loaded"
	StepSetAttribute            = "set_attribute"
	StepRemoveAttribute         = "remove_attribute"
	StepSetAttributeFromContext = "set_attribute_from_context"
	StepSubmit                  = "submit"
	StepClick                   = "click"
	StepExtractHTML             = "extract_html"
	StepExtractText             = "extract_text"
	StepExtractAttribute        = "extract_attribute"
	StepIfPresent               = "if_present"
	StepIfEquals                = "if_equals"
	StepPrintMessage            = "print_message"
)

// StepDefinition one declarative script step
type StepDefinition struct {
	Type        string           `json:"type" yaml:"type" toml:"type"`
	URL         string           `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	HTML        string           `json:"html,omitempty" yaml:"html,omitempty" toml:"html,omitempty"`
	BaseURL     string           `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Duration    int              `json:"duration,omitempty" yaml:"duration,omitempty" toml:"duration,omitempty"` // milliseconds, for wait
	Selector    string           `json:"selector,omitempty" yaml:"selector,omitempty" toml:"selector,omitempty"`
	Name        string           `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"` // attribute name
	Value       *string          `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
	ContextKey  string           `json:"context_key,omitempty" yaml:"context_key,omitempty" toml:"context_key,omitempty"`
	ShouldBlock bool             `json:"should_block,omitempty" yaml:"should_block,omitempty" toml:"should_block,omitempty"`
	Key         string           `json:"key,omitempty" yaml:"key,omitempty" toml:"key,omitempty"` // environment key read by branches, written by extracts
	Attribute   string           `json:"attribute,omitempty" yaml:"attribute,omitempty" toml:"attribute,omitempty"`
	Message     string           `json:"message,omitempty" yaml:"message,omitempty" toml:"message,omitempty"`
	Success     []StepDefinition `json:"success,omitempty" yaml:"success,omitempty" toml:"success,omitempty"`
	Failure     []StepDefinition `json:"failure,omitempty" yaml:"failure,omitempty" toml:"failure,omitempty"`
}

// ScriptDefinition stored automation script
type ScriptDefinition struct {
	ID          string            `json:"id" yaml:"id" toml:"id"`
	Name        string            `json:"name" yaml:"name" toml:"name"`
	Description string            `json:"description" yaml:"description" toml:"description"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty" toml:"environment,omitempty"` // initial environment
	Steps       []StepDefinition  `json:"steps" yaml:"steps" toml:"steps"`
	Tags        []string          `json:"tags" yaml:"tags" toml:"tags"`
	Group       string            `json:"group" yaml:"group" toml:"group"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at,omitempty" toml:"created_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"updated_at,omitempty" toml:"updated_at,omitempty"`

	// MCP
	IsMCPCommand          bool                   `json:"is_mcp_command" yaml:"is_mcp_command" toml:"is_mcp_command"`
	MCPCommandName        string                 `json:"mcp_command_name" yaml:"mcp_command_name" toml:"mcp_command_name"`
	MCPCommandDescription string                 `json:"mcp_command_description" yaml:"mcp_command_description" toml:"mcp_command_description"`
	MCPInputSchema        map[string]interface{} `json:"mcp_input_schema" yaml:"mcp_input_schema" toml:"mcp_input_schema"` // JSON Schema of the tool input
}

func (s *ScriptDefinition) Copy() *ScriptDefinition {
	tags := make([]string, len(s.Tags))
	copy(tags, s.Tags)

	env := make(map[string]string, len(s.Environment))
	for k, v := range s.Environment {
		env[k] = v
	}

	return &ScriptDefinition{
		ID:                    s.ID,
		Name:                  s.Name,
		Description:           s.Description,
		Environment:           env,
		Steps:                 copySteps(s.Steps, nil),
		Tags:                  tags,
		Group:                 s.Group,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
		IsMCPCommand:          s.IsMCPCommand,
		MCPCommandName:        s.MCPCommandName,
		MCPCommandDescription: s.MCPCommandDescription,
		MCPInputSchema:        s.MCPInputSchema,
	}
}

// WithParams returns a copy with ${key} placeholders in step fields replaced
// and params merged over the initial environment.
func (s *ScriptDefinition) WithParams(params map[string]string) *ScriptDefinition {
	out := s.Copy()
	if len(params) == 0 {
		return out
	}
	for k, v := range params {
		out.Environment[k] = v
	}
	out.Steps = copySteps(s.Steps, params)
	return out
}

// StepCount counts steps including nested branch steps.
func (s *ScriptDefinition) StepCount() int {
	return countSteps(s.Steps)
}

func countSteps(steps []StepDefinition) int {
	n := 0
	for _, st := range steps {
		n += 1 + countSteps(st.Success) + countSteps(st.Failure)
	}
	return n
}

func copySteps(steps []StepDefinition, params map[string]string) []StepDefinition {
	if steps == nil {
		return nil
	}
	out := make([]StepDefinition, len(steps))
	for i, st := range steps {
		st.URL = ReplacePlaceholders(st.URL, params)
		st.HTML = ReplacePlaceholders(st.HTML, params)
		st.BaseURL = ReplacePlaceholders(st.BaseURL, params)
		st.Selector = ReplacePlaceholders(st.Selector, params)
		st.Message = ReplacePlaceholders(st.Message, params)
		st.Name = ReplacePlaceholders(st.Name, params)
		st.ContextKey = ReplacePlaceholders(st.ContextKey, params)
		st.Key = ReplacePlaceholders(st.Key, params)
		st.Attribute = ReplacePlaceholders(st.Attribute, params)
		if st.Value != nil {
			v := ReplacePlaceholders(*st.Value, params)
			st.Value = &v
		}
		st.Success = copySteps(st.Success, params)
		st.Failure = copySteps(st.Failure, params)
		out[i] = st
	}
	return out
}

// ReplacePlaceholders replaces ${key} in text with params[key] in a single
// pass. Substituted values are not expanded again and unknown keys are left
// as they are.
func ReplacePlaceholders(text string, params map[string]string) string {
	if text == "" || len(params) == 0 || !strings.Contains(text, "${") {
		return text
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, key := range keys {
		pairs = append(pairs, "${"+key+"}", params[key])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// ScriptExecution one run of a stored script
type ScriptExecution struct {
	ID           string            `json:"id"`
	ScriptID     string            `json:"script_id"`
	ScriptName   string            `json:"script_name"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Duration     int64             `json:"duration"`          // milliseconds
	TotalSteps   int               `json:"total_steps"`       // steps executed, including spliced branch steps
	SuccessSteps int               `json:"success_steps"`     // steps completed without error
	FailedSteps  int               `json:"failed_steps"`      // steps that logged an error and were skipped over
	Finished     bool              `json:"finished"`          // false when the run stalled until the timeout
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	ErrorMsg     string            `json:"error_msg,omitempty"`
	Errors       []string          `json:"errors,omitempty"`
	Environment  map[string]string `json:"environment"`       // final environment
	Content      string            `json:"content,omitempty"` // serialized document after the run
	CreatedAt    time.Time         `json:"created_at"`
}

// PlayResult result of playing a script
type PlayResult struct {
	ExecutionID string            `json:"execution_id"`
	Success     bool              `json:"success"`
	Finished    bool              `json:"finished"`
	Message     string            `json:"message"`
	Environment map[string]string `json:"environment"`
	Errors      []string          `json:"errors"`
}
