package model

// SegmentResponse 分割响应
type SegmentResponse struct {
	SegmentedImage string `json:"segmented_image"`
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	Prompt            string  `json:"prompt"`
	SegmentationImage string  `json:"segmentation_image"`
	OriginalImage     *string `json:"original_image"`
	UseMask           bool    `json:"use_mask"`
}

// GenerateResponse 生成响应
type GenerateResponse struct {
	GeneratedImage string `json:"generated_image"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback,omitempty"`
}

// StatusResponse 健康检查与就绪检查
type StatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
