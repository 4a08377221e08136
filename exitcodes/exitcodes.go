// Package exitcodes defines the exit codes used by op-multitest.
package exitcodes

// * Success (0): every unit passed or was skipped
// * TestFailure (1): one or more units failed
// * RuntimeErr (2): configuration problems, child errors and other failures
// * Interrupted (130): the run was interrupted before every unit ran
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
	Interrupted = 130
)
