package service

import (
	"context"
	"fmt"
	"image"

	"github.com/TIANLI0/StreetGen/config"
	"github.com/TIANLI0/StreetGen/utils"
	"go.uber.org/zap"
)

// CompositeInput 已缩放到画布尺寸的生成输入
type CompositeInput struct {
	Prompt       string
	Segmentation *image.RGBA
	Original     *image.RGBA // 可为空
	UseMask      bool
	Params       GenerationParams
}

// Compositor 决定原图内容如何保留
type Compositor interface {
	Name() string
	Compose(ctx context.Context, gen Generator, in *CompositeInput) (image.Image, error)
}

// NewCompositor 按名称选择策略
func NewCompositor(name string) (Compositor, error) {
	switch name {
	case config.CompositorPixelCopy:
		return PixelCopyCompositor{}, nil
	case config.CompositorInpaint:
		return InpaintCompositor{}, nil
	default:
		return nil, fmt.Errorf("unknown compositor %q", name)
	}
}

// PixelCopyCompositor 先整图生成，再把保留区域的原图像素拷回
type PixelCopyCompositor struct{}

func (PixelCopyCompositor) Name() string { return config.CompositorPixelCopy }

func (PixelCopyCompositor) Compose(ctx context.Context, gen Generator, in *CompositeInput) (image.Image, error) {
	out, err := gen.Generate(ctx, &GenerationRequest{
		Prompt:  in.Prompt,
		Control: in.Segmentation,
		Params:  in.Params,
	})
	if err != nil {
		return nil, err
	}

	if !in.UseMask || in.Original == nil {
		return out, nil
	}

	canvas := Canvas{Width: in.Segmentation.Bounds().Dx(), Height: in.Segmentation.Bounds().Dy()}
	keep := DeriveKeepMask(in.Segmentation)
	utils.Logger.Debug("applying keep mask",
		zap.Int("kept_pixels", keep.Count()),
		zap.Float64("coverage", keep.Coverage()))

	return CompositeKeep(FitCanvas(out, canvas), in.Original, keep)
}

// InpaintCompositor 将原图、修复掩码和分割图一起交给修复模型
type InpaintCompositor struct{}

func (InpaintCompositor) Name() string { return config.CompositorInpaint }

func (InpaintCompositor) Compose(ctx context.Context, gen Generator, in *CompositeInput) (image.Image, error) {
	if in.Original == nil {
		return nil, ErrOriginalRequired
	}

	sb, ob := in.Segmentation.Bounds(), in.Original.Bounds()
	if sb.Dx() != ob.Dx() || sb.Dy() != ob.Dy() {
		return nil, fmt.Errorf("%w: segmentation %dx%d, original %dx%d", ErrDimensionMismatch,
			sb.Dx(), sb.Dy(), ob.Dx(), ob.Dy())
	}

	keep := DeriveKeepMask(in.Segmentation)
	utils.Logger.Debug("inpainting",
		zap.Int("kept_pixels", keep.Count()),
		zap.Float64("coverage", keep.Coverage()))

	return gen.Generate(ctx, &GenerationRequest{
		Prompt:  in.Prompt,
		Control: in.Segmentation,
		Image:   in.Original,
		Mask:    InpaintMask(keep),
		Params:  in.Params,
	})
}
