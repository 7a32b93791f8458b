package handler

import (
	"image"
	"net/http"

	"github.com/TIANLI0/StreetGen/config"
	"github.com/TIANLI0/StreetGen/middleware"
	"github.com/TIANLI0/StreetGen/model"
	"github.com/TIANLI0/StreetGen/service"
	"github.com/TIANLI0/StreetGen/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type GenerateHandler struct {
	cfg       *config.Config
	inference *service.InferenceService
}

func NewGenerateHandler(cfg *config.Config, inference *service.InferenceService) *GenerateHandler {
	return &GenerateHandler{
		cfg:       cfg,
		inference: inference,
	}
}

// Generate 根据分割图和提示词生成街景
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req model.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.LoggerFrom(c).Warn("invalid generate request", zap.Error(err))
		badRequest(c, "Invalid request")
		return
	}

	if req.Prompt == "" || req.SegmentationImage == "" {
		badRequest(c, "Missing prompt or segmentation image")
		return
	}

	hasOriginal := req.OriginalImage != nil && *req.OriginalImage != ""
	if h.inference.Compositor().Name() == config.CompositorInpaint && !hasOriginal {
		badRequest(c, service.ErrOriginalRequired.Error())
		return
	}

	var segmentation, original image.Image
	var g errgroup.Group
	g.Go(func() error {
		img, err := utils.DecodeDataURIImage(req.SegmentationImage)
		segmentation = img
		return err
	})
	if hasOriginal && h.inference.NeedsOriginal(req.UseMask) {
		g.Go(func() error {
			img, err := utils.DecodeDataURIImage(*req.OriginalImage)
			original = img
			return err
		})
	}
	if err := g.Wait(); err != nil {
		abortWithError(c, "failed to decode request images", err, false)
		return
	}

	middleware.LoggerFrom(c).Info("generating image",
		zap.String("prompt", req.Prompt),
		zap.Bool("use_mask", req.UseMask),
		zap.Bool("has_original", original != nil))

	out, err := h.inference.Generate(c.Request.Context(), &service.GenerateInput{
		Prompt:       req.Prompt,
		Segmentation: segmentation,
		Original:     original,
		UseMask:      req.UseMask,
	})
	if err != nil {
		abortWithError(c, "failed to generate image", err, false)
		return
	}

	uri, err := utils.ImageToDataURI(out)
	if err != nil {
		abortWithError(c, "failed to encode generated image", err, false)
		return
	}

	c.JSON(http.StatusOK, model.GenerateResponse{GeneratedImage: uri})
}
