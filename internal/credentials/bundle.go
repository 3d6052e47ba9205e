// Package credentials holds the header set and payload template replayed
// against the phone API, and the harvester that refreshes them from a live
// browser session.
package credentials

import (
	"maps"
	"strings"
	"sync"
)

// Headers taken over from an intercepted request.
var harvestedHeaders = []string{"Cookie", "Referer", "Origin"}

// Payload keys taken over from an intercepted request.
var harvestedPayloadKeys = []string{"blockId", "platformType", "pageType", "placeType", "refererUrl", "utm"}

// Bundle is the credential state shared by all API calls of a session. It is
// written once by the harvester and read by every resolution afterwards.
type Bundle struct {
	mu      sync.RWMutex
	headers map[string]string
	payload map[string]any
}

// DefaultBundle returns the built-in credentials used when no live request
// could be intercepted.
func DefaultBundle(origin, userAgent string) *Bundle {
	return &Bundle{
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json, text/plain, */*",
			"User-Agent":   userAgent,
			"Cookie":       "",
			"Referer":      origin + "/",
			"Origin":       origin,
		},
		payload: map[string]any{
			"blockId":      0,
			"platformType": "webDesktop",
			"pageType":     "offerCard",
			"placeType":    "ContactsAside",
			"refererUrl":   "",
			"utm":          "",
		},
	}
}

// Merge overwrites the harvested headers and payload keys with the values
// found in a captured request. Header names are matched case-insensitively
// since browsers report them lower-cased. Keys absent from the capture keep
// their current value.
func (b *Bundle) Merge(headers map[string]string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range harvestedHeaders {
		if v, ok := lookupFold(headers, name); ok {
			b.headers[name] = v
		}
	}
	for _, key := range harvestedPayloadKeys {
		if v, ok := payload[key]; ok {
			b.payload[key] = v
		}
	}
}

// Request builds the headers and body for one API call. Empty values are
// dropped, then blockId, announcementId and locationUrl are set.
func (b *Bundle) Request(blockID, announcementID int64, locationURL string) (map[string]string, map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	headers := make(map[string]string, len(b.headers))
	for k, v := range b.headers {
		if v != "" {
			headers[k] = v
		}
	}

	payload := sanitize(b.payload)
	payload["blockId"] = blockID
	payload["announcementId"] = announcementID
	payload["locationUrl"] = locationURL

	return headers, payload
}

// Headers returns a copy of the current header set.
func (b *Bundle) Headers() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.headers)
}

// Payload returns a copy of the current payload template.
func (b *Bundle) Payload() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.payload)
}

// sanitize copies m without nil or empty-string values, recursing into
// nested objects.
func sanitize(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val == "" {
				continue
			}
		case map[string]any:
			v = sanitize(val)
		}
		out[k] = v
	}
	return out
}

func lookupFold(m map[string]string, name string) (string, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
