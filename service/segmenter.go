package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/TIANLI0/StreetGen/utils"
)

// Segmenter 语义分割模型
type Segmenter interface {
	// Load 加载模型
	Load(ctx context.Context) error
	// Segment 返回与输入同尺寸的类别图
	Segment(ctx context.Context, img image.Image) (*ClassMap, error)
}

// HTTPSegmenter 通过 HTTP 调用分割后端
type HTTPSegmenter struct {
	backend httpBackend
	model   string
}

type segmentResponse struct {
	LabelMap string `json:"label_map"`
}

func NewHTTPSegmenter(baseURL, model string, timeout time.Duration) *HTTPSegmenter {
	return &HTTPSegmenter{
		backend: newHTTPBackend("segmenter", baseURL, []string{model}, timeout),
		model:   model,
	}
}

func (s *HTTPSegmenter) Load(ctx context.Context) error {
	return s.backend.load(ctx)
}

func (s *HTTPSegmenter) Segment(ctx context.Context, img image.Image) (*ClassMap, error) {
	data, err := utils.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", s.model); err != nil {
		return nil, fmt.Errorf("segmenter: failed to write model field: %w", err)
	}
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("segmenter: failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("segmenter: failed to write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("segmenter: failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.backend.baseURL+"/segment", body)
	if err != nil {
		return nil, fmt.Errorf("segmenter: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp segmentResponse
	if err := s.backend.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.LabelMap == "" {
		return nil, fmt.Errorf("segmenter: %w", ErrEmptyOutput)
	}

	raw, _, err := utils.ParseDataURI(resp.LabelMap)
	if err != nil {
		return nil, fmt.Errorf("segmenter: %w", err)
	}
	labels, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("segmenter: failed to decode label map: %w", err)
	}

	cm := ClassMapFromImage(labels)
	b := img.Bounds()
	if cm.Width != b.Dx() || cm.Height != b.Dy() {
		return nil, fmt.Errorf("segmenter: %w: label map %dx%d, input %dx%d", ErrDimensionMismatch,
			cm.Width, cm.Height, b.Dx(), b.Dy())
	}
	return cm, nil
}
