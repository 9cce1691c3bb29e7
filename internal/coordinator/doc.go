// Package coordinator runs one monitoring loop per camera stream. Each loop
// pulls frames, runs detection, tracking and parking monitoring in strict
// order, and hands violations to the shared dispatcher. The coordinator
// also owns the worker pool lifecycle and publishes aggregated status.
package coordinator
