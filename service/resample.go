//go:build !gocv
// +build !gocv

package service

import (
	"image"

	"github.com/disintegration/imaging"
)

func resampleLinear(img image.Image, width, height int) *image.RGBA {
	resized := imaging.Resize(img, width, height, imaging.Linear)
	return asRGBA(resized)
}
