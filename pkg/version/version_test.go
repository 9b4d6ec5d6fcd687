package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString_ContainsVersion(t *testing.T) {
	assert.Contains(t, String(), Version)
	assert.Contains(t, String(), "ragsearch")
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.NotEmpty(t, info.GoVersion)
}
