package automation

import (
	"encoding/json"
	"fmt"
)

// documentHTMLScript serializes the whole document.
const documentHTMLScript = `document.documentElement.outerHTML.toString()`

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// elementScript resolves selector into `element` and runs body. The block keeps
// successive evaluations from seeing each other's declarations.
func elementScript(selector, body string) string {
	return fmt.Sprintf("{ var element = document.querySelector(%s); %s }", jsString(selector), body)
}

func setAttributeScript(name string, value *string, selector string) string {
	if value == nil {
		return elementScript(selector, fmt.Sprintf("element.removeAttribute(%s);", jsString(name)))
	}
	return elementScript(selector, fmt.Sprintf("element.setAttribute(%s, %s);", jsString(name), jsString(*value)))
}

func submitScript(selector string) string {
	return elementScript(selector, "element.submit();")
}

func clickScript(selector string) string {
	return elementScript(selector, "element.click();")
}

func elementHTMLScript(selector string) string {
	return elementScript(selector, `if (element != null) { element.innerHTML.toString(); } else { "".toString(); }`)
}

// extractScript yields null when there is nothing to read so the caller can
// tell a missing element from an empty one.
func extractScript(mode ExtractMode, selector, attribute string) string {
	if selector == "" && mode == ExtractHTMLMode {
		return documentHTMLScript
	}
	var read string
	switch mode {
	case ExtractTextMode:
		read = "element.textContent"
	case ExtractAttributeMode:
		read = fmt.Sprintf("element.getAttribute(%s)", jsString(attribute))
	default:
		read = "element.innerHTML.toString()"
	}
	return elementScript(selector, fmt.Sprintf("if (element != null) { %s; } else { null; }", read))
}
