// Package browser drives a headless browser to reveal a listing's phone and
// to observe the phone API request the page makes while doing so.
package browser

import "context"

// Capture is what one reveal produced. Headers and Payload are nil when the
// API request was not observed; Phone is empty when no phone element
// appeared.
type Capture struct {
	Headers map[string]string
	Payload map[string]any
	Phone   string
}

// Intercepted reports whether the API request was captured.
func (c *Capture) Intercepted() bool {
	return c != nil && len(c.Headers) > 0 && len(c.Payload) > 0
}

// Automator opens a listing page, clicks its contacts control and reports
// what it saw.
type Automator interface {
	RevealPhone(ctx context.Context, pageURL string) (*Capture, error)
}
