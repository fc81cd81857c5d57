// Package exitcodes defines the exit codes used by op-teamcity.
package exitcodes

// Exit code constants used by op-teamcity:
//
// * Success (0): every reported test passed, was skipped or failed as expected
// * TestFailure (1): one or more tests failed or errored
// * RuntimeErr (2): the run itself could not be completed, e.g. bad flags or unreadable input
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)
