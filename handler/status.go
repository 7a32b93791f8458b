package handler

import (
	"errors"
	"net/http"

	"github.com/TIANLI0/StreetGen/model"
	"github.com/TIANLI0/StreetGen/service"
	"github.com/gin-gonic/gin"
)

const banner = "Street View Generation API is running!"

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	BuildID   string `json:"build_id"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
}

type StatusHandler struct {
	inference *service.InferenceService
	build     BuildInfo
}

func NewStatusHandler(inference *service.InferenceService, build BuildInfo) *StatusHandler {
	return &StatusHandler{
		inference: inference,
		build:     build,
	}
}

func (h *StatusHandler) Index(c *gin.Context) {
	c.String(http.StatusOK, banner)
}

// Health 存活检查，与模型状态无关
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.StatusResponse{Status: "ok"})
}

// Ready 就绪检查，模型未加载时返回 503
func (h *StatusHandler) Ready(c *gin.Context) {
	ready, err := h.inference.Ready()
	if !ready {
		status := "degraded"
		if errors.Is(err, service.ErrLoading) {
			status = "loading"
		}
		c.JSON(http.StatusServiceUnavailable, model.StatusResponse{
			Status: status,
			Error:  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, model.StatusResponse{Status: "ready"})
}

func (h *StatusHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.build)
}
