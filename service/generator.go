package service

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/TIANLI0/StreetGen/config"
	"github.com/TIANLI0/StreetGen/utils"
)

// GenerationParams 生成超参数
type GenerationParams struct {
	Strength          float64
	Steps             int
	GuidanceScale     float64
	ConditioningScale float64
	Width             int
	Height            int
}

// ParamsFromConfig 从配置构造超参数
func ParamsFromConfig(cfg *config.GenerationConfig) GenerationParams {
	return GenerationParams{
		Strength:          cfg.Strength,
		Steps:             cfg.Steps,
		GuidanceScale:     cfg.GuidanceScale,
		ConditioningScale: cfg.ConditioningScale,
		Width:             cfg.Width,
		Height:            cfg.Height,
	}
}

// GenerationRequest 一次条件生成调用
type GenerationRequest struct {
	Prompt  string
	Control image.Image // 着色后的分割图
	Image   image.Image // 修复时的原图
	Mask    *image.Gray // 修复掩码，白色区域重绘
	Params  GenerationParams
}

// Generator 条件图像生成模型
type Generator interface {
	Load(ctx context.Context) error
	Generate(ctx context.Context, req *GenerationRequest) (image.Image, error)
}

// HTTPGenerator 通过 HTTP 调用扩散模型后端
type HTTPGenerator struct {
	backend httpBackend
	models  config.ModelsConfig
}

type generatePayload struct {
	Prompt                      string  `json:"prompt"`
	Pipeline                    string  `json:"pipeline"`
	ControlNet                  string  `json:"controlnet"`
	VAE                         string  `json:"vae"`
	ControlImage                string  `json:"control_image"`
	Image                       string  `json:"image,omitempty"`
	MaskImage                   string  `json:"mask_image,omitempty"`
	Strength                    float64 `json:"strength"`
	NumInferenceSteps           int     `json:"num_inference_steps"`
	GuidanceScale               float64 `json:"guidance_scale"`
	ControlNetConditioningScale float64 `json:"controlnet_conditioning_scale"`
	Width                       int     `json:"width"`
	Height                      int     `json:"height"`
}

type generateResponse struct {
	Images []string `json:"images"`
}

func NewHTTPGenerator(baseURL string, models config.ModelsConfig, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		backend: newHTTPBackend("generator", baseURL, []string{models.ControlNet, models.VAE, models.Pipeline}, timeout),
		models:  models,
	}
}

func (g *HTTPGenerator) Load(ctx context.Context) error {
	return g.backend.load(ctx)
}

func (g *HTTPGenerator) Generate(ctx context.Context, req *GenerationRequest) (image.Image, error) {
	control, err := utils.ImageToDataURI(req.Control)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}

	payload := generatePayload{
		Prompt:                      req.Prompt,
		Pipeline:                    g.models.Pipeline,
		ControlNet:                  g.models.ControlNet,
		VAE:                         g.models.VAE,
		ControlImage:                control,
		Strength:                    req.Params.Strength,
		NumInferenceSteps:           req.Params.Steps,
		GuidanceScale:               req.Params.GuidanceScale,
		ControlNetConditioningScale: req.Params.ConditioningScale,
		Width:                       req.Params.Width,
		Height:                      req.Params.Height,
	}
	if req.Image != nil {
		if payload.Image, err = utils.ImageToDataURI(req.Image); err != nil {
			return nil, fmt.Errorf("generator: %w", err)
		}
	}
	if req.Mask != nil {
		if payload.MaskImage, err = EncodeMask(req.Mask); err != nil {
			return nil, fmt.Errorf("generator: %w", err)
		}
	}

	var resp generateResponse
	if err := g.backend.postJSON(ctx, "/generate", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("generator: %w", ErrEmptyOutput)
	}

	img, err := utils.DecodeDataURIImage(resp.Images[0])
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	return img, nil
}
