//go:build gocv
// +build gocv

package service

import (
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// resampleLinear 使用 OpenCV INTER_LINEAR 缩放
func resampleLinear(img image.Image, width, height int) *image.RGBA {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return resampleFallback(img, width, height)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	out, err := dst.ToImage()
	if err != nil {
		return resampleFallback(img, width, height)
	}
	return asRGBA(out)
}

func resampleFallback(img image.Image, width, height int) *image.RGBA {
	return asRGBA(imaging.Resize(img, width, height, imaging.Linear))
}
