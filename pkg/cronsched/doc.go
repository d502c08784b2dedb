// Package cronsched provides the optional cron-driven start scheduler:
// parse a cron expression once, then poll every 5 seconds for a due
// NextStartTime and invoke a start callback.
package cronsched
