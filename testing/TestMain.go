package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if os.Getenv("DRE_DEFAULT_PERIOD") == "" {
			_ = os.Setenv("DRE_DEFAULT_PERIOD", "none")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain forces test mode before running the package tests.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
