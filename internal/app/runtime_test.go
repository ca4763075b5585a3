package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefreshTestMode(t *testing.T) {
	cases := map[string]bool{
		"1":     true,
		"true":  true,
		" TRUE": true,
		"0":     false,
		"false": false,
		"yes":   false,
		"":      false,
	}
	for value, want := range cases {
		t.Setenv(testModeEnv, value)
		RefreshTestMode()
		assert.Equal(t, want, InTestMode(), "value %q", value)
	}
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
}
