package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// testModeEnv makes the binaries return before dialing Postgres or Redis.
const testModeEnv = "TIMESHEET_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether binaries should skip connecting to Postgres and Redis.
// The environment is read once; see RefreshTestMode.
func InTestMode() bool {
	if on := testMode.Load(); on != nil {
		return *on
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new setting. Any value
// accepted by strconv.ParseBool is honoured; anything else means off.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(&on)
	return on
}
