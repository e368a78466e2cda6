package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compozy/kbchat/engine/infra/server/appstate"
	"github.com/compozy/kbchat/pkg/logger"
)

// Health endpoint
//
//	@Summary      Get server health
//	@Description  Reports liveness once dependencies are wired
//	@Tags         health
//	@Produce      json
//	@Success      200 {object} map[string]interface{} "Service is healthy"
//	@Failure      503 {object} map[string]interface{} "Service is not ready"
//	@Router       /healthz [get]
func healthHandler(c *gin.Context) {
	ctx := c.Request.Context()
	state, err := appstate.GetState(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": statusNotReady})
		return
	}
	failed := state.Probe(ctx)
	if len(failed) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": statusReady})
		return
	}
	checks := gin.H{}
	for name, checkErr := range failed {
		logger.FromContext(ctx).Warn("Health check failed", "check", name, "error", checkErr)
		checks[name] = checkErr.Error()
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": statusNotReady, "checks": checks})
}
