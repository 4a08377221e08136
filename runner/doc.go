// Package runner runs a list of test units to completion in isolated child
// processes.
//
// The main components are:
//   - WorkQueue: a single-pass, cancelable, concurrency-safe iterator over units
//   - Worker: a loop that claims a unit, spawns one child process for it and
//     publishes the decoded Outcome
//   - Orchestrator: owns the workers, drains their results into an
//     Accumulator, prints progress and decides when the run is over
//
// Work flows Queue -> Worker -> child; results flow child -> Worker ->
// output channel -> Orchestrator. The orchestrator never touches a child
// process and never kills one: cancellation only stops further dispatch.
package runner
