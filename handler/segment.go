package handler

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/TIANLI0/StreetGen/config"
	"github.com/TIANLI0/StreetGen/middleware"
	"github.com/TIANLI0/StreetGen/model"
	"github.com/TIANLI0/StreetGen/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SegmentHandler struct {
	cfg       *config.Config
	inference *service.InferenceService
}

func NewSegmentHandler(cfg *config.Config, inference *service.InferenceService) *SegmentHandler {
	return &SegmentHandler{
		cfg:       cfg,
		inference: inference,
	}
}

// Segment 处理上传图片的语义分割
func (h *SegmentHandler) Segment(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		// 文件名为空的 part 会被当作普通表单字段解析
		if form := c.Request.MultipartForm; form != nil {
			if _, ok := form.Value["file"]; ok {
				badRequest(c, "No selected file")
				return
			}
		}
		middleware.LoggerFrom(c).Warn("failed to get uploaded file", zap.Error(err))
		badRequest(c, "No file part")
		return
	}

	if file.Filename == "" {
		badRequest(c, "No selected file")
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		badRequest(c, fmt.Sprintf("File exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)))
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		badRequest(c, "Unsupported file type, only JPEG/PNG/WebP are accepted")
		return
	}

	middleware.LoggerFrom(c).Info("processing file",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size),
		zap.String("content_type", contentType))

	src, err := file.Open()
	if err != nil {
		abortWithError(c, "failed to open uploaded file", err, h.cfg.Server.ExposeTraceback)
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		abortWithError(c, "failed to read uploaded file", err, h.cfg.Server.ExposeTraceback)
		return
	}

	result, err := h.inference.Segment(c.Request.Context(), data)
	if err != nil {
		abortWithError(c, "failed to segment image", err, h.cfg.Server.ExposeTraceback)
		return
	}

	c.JSON(http.StatusOK, model.SegmentResponse{SegmentedImage: result.DataURI})
}

func (h *SegmentHandler) isAllowedType(contentType string) bool {
	if contentType == "" {
		return true
	}
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
