package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	t.Run("Should render link-time values on one line", func(t *testing.T) {
		info := Info{Version: "v1.2.3", CommitHash: "abc123", BuildDate: "2026-01-01"}
		assert.Equal(t, "v1.2.3 (commit abc123, built 2026-01-01)", info.String())
	})
	t.Run("Should expose defaults for local builds", func(t *testing.T) {
		assert.Equal(t, "dev", Get().Version)
	})
}
