package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomScripts(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "set attribute",
			got:  setAttributeScript("value", ptr("dinosaur"), "[id='banana']"),
			want: `{ var element = document.querySelector("[id='banana']"); element.setAttribute("value", "dinosaur"); }`,
		},
		{
			name: "nil value removes",
			got:  setAttributeScript("disabled", nil, "#go"),
			want: `{ var element = document.querySelector("#go"); element.removeAttribute("disabled"); }`,
		},
		{
			name: "submit",
			got:  submitScript("form"),
			want: `{ var element = document.querySelector("form"); element.submit(); }`,
		},
		{
			name: "click",
			got:  clickScript("button.primary"),
			want: `{ var element = document.querySelector("button.primary"); element.click(); }`,
		},
		{
			name: "element html",
			got:  elementHTMLScript("#content"),
			want: `{ var element = document.querySelector("#content"); if (element != null) { element.innerHTML.toString(); } else { "".toString(); } }`,
		},
		{
			name: "extract text",
			got:  extractScript(ExtractTextMode, "h1", ""),
			want: `{ var element = document.querySelector("h1"); if (element != null) { element.textContent; } else { null; } }`,
		},
		{
			name: "extract attribute",
			got:  extractScript(ExtractAttributeMode, "a", "href"),
			want: `{ var element = document.querySelector("a"); if (element != null) { element.getAttribute("href"); } else { null; } }`,
		},
		{
			name: "extract whole document",
			got:  extractScript(ExtractHTMLMode, "", ""),
			want: documentHTMLScript,
		},
		{
			name: "quotes are escaped",
			got:  setAttributeScript("title", ptr(`say "hi"`), `input[name="q"]`),
			want: `{ var element = document.querySelector("input[name=\"q\"]"); element.setAttribute("title", "say \"hi\""); }`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestStringValue(t *testing.T) {
	assert.Equal(t, "", stringValue(nil))
	assert.Equal(t, "text", stringValue("text"))
	assert.Equal(t, "3", stringValue(float64(3)))
	assert.Equal(t, "true", stringValue(true))
	assert.Equal(t, `{"a":1}`, stringValue(map[string]any{"a": 1}))
}
