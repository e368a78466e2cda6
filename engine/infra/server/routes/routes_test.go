package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	t.Run("Should return the API version", func(t *testing.T) {
		version := Version()
		assert.NotEmpty(t, version)
		assert.Contains(t, version, "v")
	})
}

func TestBase(t *testing.T) {
	t.Run("Should return versioned API base path", func(t *testing.T) {
		assert.Equal(t, "/api/"+Version(), Base())
	})
}

func TestResourceRoutes(t *testing.T) {
	t.Run("Should mount every resource under the base path", func(t *testing.T) {
		assert.Equal(t, "/api/v0/ingest", Ingest())
		assert.Equal(t, "/api/v0/chat", Chat())
		assert.Equal(t, "/api/v0/search", Search())
		assert.Equal(t, "/api/v0/sources", Sources())
		assert.Equal(t, "/api/v0/sync", Sync())
	})
	t.Run("Should build a single source path", func(t *testing.T) {
		assert.Equal(t, "/api/v0/sources/abc", Source("abc"))
	})
	t.Run("Should keep the liveness probe unversioned", func(t *testing.T) {
		assert.Equal(t, "/healthz", Healthz())
	})
}
