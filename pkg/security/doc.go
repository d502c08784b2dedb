// Package security provides validation, sanitization, and limits for the
// loaded handler packages.
package security
