package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(testModeEnv)))
	testModeFlag.Store(err == nil && on)
}

// InTestMode reports whether the server and worker binaries should exit before
// touching Postgres or Redis. Package tests set ODYSSEY_TEST_MODE via the
// testing helper package.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads ODYSSEY_TEST_MODE after the environment changed.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
