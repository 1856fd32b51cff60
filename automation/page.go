package automation

import (
	"context"
	"encoding/json"
	"fmt"
)

// Page is the browsing context steps act on. Navigation methods start the
// navigation and return; load progress reaches the scheduler separately through
// NavigationStarted, NavigationCommitted, NavigationEnded and ContentReady.
type Page interface {
	Load(ctx context.Context, url string) error
	LoadHTML(ctx context.Context, html, baseURL string) error
	// Evaluate runs script in the current document and returns the value of
	// its last expression decoded to Go (nil, string, float64, bool, map or slice).
	Evaluate(ctx context.Context, script string) (any, error)
}

// stringValue renders an evaluation result the way the page would print it.
func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64, bool:
		return fmt.Sprint(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
