package executor

import "time"

const (
	// Go test command arguments
	TestCommand  = "test"
	JSONFlag     = "-json"
	CountFlag    = "-count=1"
	VerboseFlag  = "-v"
	TimeoutFlag  = "-timeout"
	RunFlag      = "-run"
	FailFastFlag = "-failfast"

	// go test -json actions
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"

	// ResourceDeniedPrefix marks a skip caused by a missing resource.
	ResourceDeniedPrefix = "resource denied"

	// WatchdogGrace is added to the unit timeout before the child gives up
	// on go test, so go test's own -timeout panic fires first.
	WatchdogGrace = 30 * time.Second

	// ExitInvalidPayload is the child's exit code for an unusable payload.
	ExitInvalidPayload = 2
)
