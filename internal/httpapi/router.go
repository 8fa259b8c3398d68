package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/foodsafety-linebot/internal/common"
	"github.com/suPer8Hu/foodsafety-linebot/internal/config"
	"github.com/suPer8Hu/foodsafety-linebot/internal/httpapi/handlers"
	"github.com/suPer8Hu/foodsafety-linebot/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, svc handlers.ChatService) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(svc)

	r.GET("/ping", h.Ping)

	// LINE webhook
	r.POST("/callback", middleware.LineSignature(cfg.LineChannelSecret), h.Callback)

	// Admin (JWT required)
	admin := r.Group("/admin")
	admin.Use(middleware.AuthRequired(cfg.JWTSecret))
	admin.GET("/users/:user_id/messages", h.ListUserMessages)
	admin.GET("/jobs/:job_id", h.GetJob)
	return r
}
