// Package dispatch carries violation candidates from the monitoring loops
// to the verification stage: a bounded task queue with a bounded-wait
// enqueue, and a fixed pool of workers that call the analysis service,
// retry failures and report confirmed violations.
package dispatch
