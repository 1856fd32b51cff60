package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplacePlaceholders(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		params map[string]string
		want   string
	}{
		{"plain", "q=${query}", map[string]string{"query": "go"}, "q=go"},
		{"repeated", "${a}-${a}", map[string]string{"a": "x"}, "x-x"},
		{"unknown key kept", "${a} ${missing}", map[string]string{"a": "x"}, "x ${missing}"},
		{"value naming another key", "${a}", map[string]string{"a": "${b}", "b": "x"}, "${b}"},
		{"chained both ways", "${a}|${b}", map[string]string{"a": "${b}", "b": "${a}"}, "${b}|${a}"},
		{"prefix keys", "${ab}${a}", map[string]string{"a": "1", "ab": "2"}, "21"},
		{"no params", "${a}", nil, "${a}"},
		{"no placeholder", "$a {a}", map[string]string{"a": "x"}, "$a {a}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				require.Equal(t, tt.want, ReplacePlaceholders(tt.text, tt.params))
			}
		})
	}
}

func TestWithParamsSubstitutesEveryStringField(t *testing.T) {
	value := "${v}"
	def := &ScriptDefinition{
		Name:        "params",
		Environment: map[string]string{"seed": "1"},
		Steps: []StepDefinition{
			{Type: StepIfPresent, Key: "${k}", Success: []StepDefinition{
				{Type: StepSetAttribute, Selector: "#${id}", Name: "${attr}", Value: &value},
			}},
			{Type: StepSetAttributeFromContext, Name: "${attr}", ContextKey: "${k}", Selector: "#${id}"},
			{Type: StepExtractAttribute, Selector: "a", Attribute: "${attr}", Key: "${k}_out"},
			{Type: StepLoad, URL: "https://example.com/${id}"},
		},
	}

	out := def.WithParams(map[string]string{"k": "user", "attr": "value", "id": "name", "v": "alice"})

	branch := out.Steps[0]
	assert.Equal(t, "user", branch.Key)
	require.Len(t, branch.Success, 1)
	assert.Equal(t, "#name", branch.Success[0].Selector)
	assert.Equal(t, "value", branch.Success[0].Name)
	require.NotNil(t, branch.Success[0].Value)
	assert.Equal(t, "alice", *branch.Success[0].Value)

	assert.Equal(t, "value", out.Steps[1].Name)
	assert.Equal(t, "user", out.Steps[1].ContextKey)
	assert.Equal(t, "value", out.Steps[2].Attribute)
	assert.Equal(t, "user_out", out.Steps[2].Key)
	assert.Equal(t, "https://example.com/name", out.Steps[3].URL)

	assert.Equal(t, "user", out.Environment["k"])
	assert.Equal(t, "1", out.Environment["seed"])

	// the stored definition is untouched
	assert.Equal(t, "${k}", def.Steps[0].Key)
	assert.Equal(t, "${v}", *def.Steps[0].Success[0].Value)
	assert.NotContains(t, def.Environment, "k")
}
