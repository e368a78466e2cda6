package server

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/compozy/kbchat/engine/infra/server/middleware/size"
	knowledgerouter "github.com/compozy/kbchat/engine/infra/server/router/knowledge"
	"github.com/compozy/kbchat/engine/infra/server/routes"
	"github.com/compozy/kbchat/pkg/config"
	"github.com/compozy/kbchat/pkg/logger"
)

// RegisterRoutes mounts the health probe and the versioned API.
func RegisterRoutes(ctx context.Context, r *gin.Engine, cfg *config.Config) {
	r.GET(routes.Healthz(), healthHandler)
	api := r.Group(routes.Base())
	if cfg.Server.MaxBodyBytes > 0 {
		api.Use(size.BodySizeLimiter(cfg.Server.MaxBodyBytes))
	}
	knowledgerouter.Register(api)
	logger.FromContext(ctx).Debug("Completed route registration", "base", routes.Base())
}
