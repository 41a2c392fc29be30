package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPrefersLdflags(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	assert.Equal(t, "v1.2.3", Get())

	Version = ""
	assert.NotEmpty(t, Get())
	assert.NotEmpty(t, GetCommit())
	assert.NotEmpty(t, GetDate())
}
