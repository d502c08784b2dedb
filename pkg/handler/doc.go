// Package handler implements the Loaded Handler: the engine that owns
// the lifecycle and distribution of a single job stream. It wires
// together the three job queues (pkg/wrapperqueue), the Job Generator
// Adapter contract (pkg/generator), and the cron start scheduler
// (pkg/cronsched) behind the Dispatch API and state machine.
package handler
