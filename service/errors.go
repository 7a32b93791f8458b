package service

import "errors"

var (
	ErrNotReady          = errors.New("models are not loaded")
	ErrLoading           = errors.New("models are loading")
	ErrKeepColorInUse    = errors.New("palette assigns the keep color (0,0,0) to a class")
	ErrQueueTimeout      = errors.New("processing queue is full, please retry later")
	ErrOriginalRequired  = errors.New("original image is required for inpainting")
	ErrDimensionMismatch = errors.New("image dimensions do not match")
	ErrClassOutOfRange   = errors.New("class index out of palette range")
	ErrEmptyOutput       = errors.New("backend returned no image")
)
