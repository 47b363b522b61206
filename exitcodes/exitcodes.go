// Package exitcodes defines the standard exit codes used by compute-acceptor.
package exitcodes

// Exit code constants used by compute-acceptor:
//
// * Success (0): every version in the matrix completed with a clean harness run
// * TestFailure (1): a readiness timeout or one or more failed extension suites
// * RuntimeErr (2): configuration errors, compose invocation failures, panics
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
