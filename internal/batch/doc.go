// Package batch runs a conversion over many image files with a bounded
// worker pool.
//
// Start spawns the run in the background and hands back a Controller for
// pause, resume and cancel. The scheduler keeps at most Settings.WorkerCount
// pipelines active, topping the pool up as each one finishes. Each pipeline
// encodes one job, applies smart-mode rules and the optional overlay, names
// the output by the job's input position, resolves duplicates and writes
// through a temporary file that is renamed into place.
//
// Cancellation drains: no new job is dispensed, jobs already converting run
// to completion, and jobs never dispensed stay queued. Pause only delays the
// next pickup. Outcomes are collected by an Aggregator and published to the
// caller as Events.
package batch
