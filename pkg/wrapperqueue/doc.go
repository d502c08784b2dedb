// Package wrapperqueue implements the three in-memory job containers a
// Handler owns: an available FIFO, a pending map keyed by JobID, and a
// finished FIFO, plus the two edge-triggered signals that wake the
// control loop.
package wrapperqueue
