package handler

import (
	"github.com/TIANLI0/StreetGen/config"
	"github.com/TIANLI0/StreetGen/middleware"
	"github.com/TIANLI0/StreetGen/service"
	"github.com/gin-gonic/gin"
)

// NewRouter 注册全部路由
func NewRouter(cfg *config.Config, inference *service.InferenceService, build BuildInfo) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.Server.CORSAllowOrigins))

	status := NewStatusHandler(inference, build)
	segment := NewSegmentHandler(cfg, inference)
	generate := NewGenerateHandler(cfg, inference)

	r.GET("/", status.Index)
	r.GET("/health", status.Health)
	r.GET("/ready", status.Ready)
	r.GET("/version", status.Version)

	r.POST("/segment", segment.Segment)
	r.POST("/generate", generate.Generate)

	return r
}
