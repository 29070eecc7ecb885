package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupKnownKey(t *testing.T) {
	r := New(nil)
	lim, ok := r.Lookup("test-key-1")
	assert.True(t, ok)
	assert.Equal(t, Limits{RPM: 10000, InputTPM: 1000, OutputTPM: 1000}, lim)
}

func TestLookupUnknownKey(t *testing.T) {
	r := New(nil)
	_, ok := r.Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestLookupOrDefaultFallsBack(t *testing.T) {
	r := New(nil)
	assert.Equal(t, DefaultLimits, r.LookupOrDefault("does-not-exist"))
}

func TestNewAppliesOverrides(t *testing.T) {
	override := Limits{RPM: 1, InputTPM: 2, OutputTPM: 3}
	r := New(map[string]Limits{"test-key-1": override})

	lim, ok := r.Lookup("test-key-1")
	assert.True(t, ok)
	assert.Equal(t, override, lim)

	// Unoverridden built-ins remain intact.
	lim2, ok := r.Lookup("test-key-2")
	assert.True(t, ok)
	assert.Equal(t, Limits{RPM: 2000, InputTPM: 10000, OutputTPM: 10000}, lim2)
}
