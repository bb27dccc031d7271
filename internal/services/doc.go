// Package services is the shared handle processes use to reach the
// engine's capabilities: embedding generation and search, free-text
// generation and secret scrubbing.
//
// Use NewRegistry() with the instances built at startup, then the
// accessor methods. Any accessor may return nil when the capability is
// not configured; processes that need it must check.
package services
