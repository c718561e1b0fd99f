// Package contentdrop holds the core domain types for the content-drop
// service: the persisted content record, the token generator, the gzip
// codec and the content hash shared by the store, cache and HTTP layers.
package contentdrop

import (
	"math"
	"time"
)

// DefaultMediaType is used when an upload carries no Content-Type header.
const DefaultMediaType = "text/plain"

// Content is a single stored record. The body is held in its stored
// form, which may be gzipped regardless of how the client supplied it.
type Content struct {
	Key       string
	MediaType string
	Expiry    int64 // milliseconds since epoch
	Body      []byte
}

// Empty returns the sentinel for "not present". It is a legal cache
// value but is never served to clients.
func Empty() *Content {
	return &Content{MediaType: DefaultMediaType, Expiry: math.MaxInt64}
}

// IsEmpty reports whether c is the empty sentinel.
func (c *Content) IsEmpty() bool {
	return c == nil || c.Key == ""
}

// Expired reports whether the record's expiry has passed at the given
// instant.
func (c *Content) Expired(now time.Time) bool {
	return c.Expiry < now.UnixMilli()
}

// ExpiryTime returns the expiry instant in UTC.
func (c *Content) ExpiryTime() time.Time {
	return time.UnixMilli(c.Expiry).UTC()
}

// Weight is the number of bytes the record contributes to the cache's
// capacity bound.
func (c *Content) Weight() int64 {
	return int64(len(c.Body))
}
