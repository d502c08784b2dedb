// Package core provides the domain model shared by the loaded handler
// packages: handler identity and settings, the job wrapper and its
// dispatch-facing projection, the event stream, and the retry-signaling
// error wrappers.
package core
