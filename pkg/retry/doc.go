// Package retry provides exponential backoff for the handful of
// operations in the loaded handler that touch something outside the
// process, such as reading the compiled artifact folder through GetFile.
package retry
