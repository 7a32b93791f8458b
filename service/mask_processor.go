package service

import (
	"fmt"
	"image"

	"github.com/TIANLI0/StreetGen/utils"
)

// KeepMask 为 true 的像素保留原图
type KeepMask struct {
	Width  int
	Height int
	Keep   []bool
}

func NewKeepMask(width, height int) *KeepMask {
	return &KeepMask{
		Width:  width,
		Height: height,
		Keep:   make([]bool, width*height),
	}
}

func (k *KeepMask) At(x, y int) bool {
	return k.Keep[y*k.Width+x]
}

// Count 返回保留的像素数
func (k *KeepMask) Count() int {
	n := 0
	for _, keep := range k.Keep {
		if keep {
			n++
		}
	}
	return n
}

// Coverage 返回保留像素占比
func (k *KeepMask) Coverage() float64 {
	if len(k.Keep) == 0 {
		return 0
	}
	return float64(k.Count()) / float64(len(k.Keep))
}

// DeriveKeepMask 精确匹配纯黑像素 (0,0,0)，不做阈值处理
func DeriveKeepMask(img image.Image) *KeepMask {
	rgba := asRGBA(img)
	b := rgba.Bounds()
	mask := NewKeepMask(b.Dx(), b.Dy())

	for y := 0; y < mask.Height; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < mask.Width; x++ {
			o := x * 4
			mask.Keep[y*mask.Width+x] = row[o] == 0 && row[o+1] == 0 && row[o+2] == 0
		}
	}
	return mask
}

// InpaintMask 生成修复掩码：需要重绘为 255，保留为 0
func InpaintMask(k *KeepMask) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, k.Width, k.Height))
	for i, keep := range k.Keep {
		if !keep {
			out.Pix[i] = 255
		}
	}
	return out
}

// EncodeMask 将修复掩码编码为 PNG data URI
func EncodeMask(mask *image.Gray) (string, error) {
	uri, err := utils.ImageToDataURI(mask)
	if err != nil {
		return "", fmt.Errorf("failed to encode mask: %w", err)
	}
	return uri, nil
}

// CompositeKeep 在保留区域用原图像素覆盖生成结果
func CompositeKeep(generated, original image.Image, keep *KeepMask) (*image.RGBA, error) {
	gen := asRGBA(generated)
	orig := asRGBA(original)

	gb, ob := gen.Bounds(), orig.Bounds()
	if gb.Dx() != ob.Dx() || gb.Dy() != ob.Dy() || gb.Dx() != keep.Width || gb.Dy() != keep.Height {
		return nil, fmt.Errorf("%w: generated %dx%d, original %dx%d, mask %dx%d", ErrDimensionMismatch,
			gb.Dx(), gb.Dy(), ob.Dx(), ob.Dy(), keep.Width, keep.Height)
	}

	out := image.NewRGBA(image.Rect(0, 0, keep.Width, keep.Height))
	copy(out.Pix, gen.Pix)
	for y := 0; y < keep.Height; y++ {
		for x := 0; x < keep.Width; x++ {
			if !keep.Keep[y*keep.Width+x] {
				continue
			}
			o := y*out.Stride + x*4
			copy(out.Pix[o:o+4], orig.Pix[y*orig.Stride+x*4:y*orig.Stride+x*4+4])
		}
	}
	return out, nil
}

// asRGBA 返回原点在 (0,0) 且步长紧凑的 RGBA
func asRGBA(img image.Image) *image.RGBA {
	return utils.ToRGBA(img)
}
