package service

import (
	"image"

	"github.com/nfnt/resize"
)

// Canvas 生成与掩码计算使用的固定画布
type Canvas struct {
	Width  int
	Height int
}

// DefaultCanvas 1024x512
var DefaultCanvas = Canvas{Width: 1024, Height: 512}

// FitCanvas 使用双线性插值缩放到画布尺寸，尺寸一致时原样返回副本
func FitCanvas(img image.Image, c Canvas) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == c.Width && b.Dy() == c.Height {
		out := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
		copy(out.Pix, asRGBA(img).Pix)
		return out
	}
	return resampleLinear(img, c.Width, c.Height)
}

// LimitSide 最长边超过 maxSide 时等比缩小，maxSide 为 0 表示不限制
func LimitSide(img image.Image, maxSide uint) image.Image {
	if maxSide == 0 {
		return img
	}
	b := img.Bounds()
	if uint(b.Dx()) <= maxSide && uint(b.Dy()) <= maxSide {
		return img
	}
	return resize.Thumbnail(maxSide, maxSide, img, resize.Lanczos3)
}
