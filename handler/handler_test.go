package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/TIANLI0/StreetGen/config"
	"github.com/TIANLI0/StreetGen/model"
	"github.com/TIANLI0/StreetGen/service"
	"github.com/TIANLI0/StreetGen/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeSegmenter struct {
	loadErr error
	started chan struct{}
	release chan struct{}
}

func (f *fakeSegmenter) Load(ctx context.Context) error {
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return f.loadErr
}

func (f *fakeSegmenter) Segment(ctx context.Context, img image.Image) (*service.ClassMap, error) {
	b := img.Bounds()
	return service.NewClassMap(b.Dx(), b.Dy()), nil
}

type fakeGenerator struct {
	calls int
}

func (f *fakeGenerator) Load(ctx context.Context) error { return nil }

func (f *fakeGenerator) Generate(ctx context.Context, req *service.GenerationRequest) (image.Image, error) {
	f.calls++
	return image.NewRGBA(req.Control.Bounds()), nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, compositor string, seg *fakeSegmenter, gen *fakeGenerator) *gin.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Generation.Compositor = compositor
	cfg.Generation.Width = 32
	cfg.Generation.Height = 16

	comp, err := service.NewCompositor(compositor)
	require.NoError(t, err)
	inference := service.NewInferenceService(service.OptionsFromConfig(cfg), seg, gen, comp, nil)
	return NewRouter(cfg, inference, BuildInfo{Version: "test"})
}

func perform(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	data, err := utils.EncodePNG(img)
	require.NoError(t, err)
	return data
}

func testDataURI(t *testing.T, w, h int, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	uri, err := utils.ImageToDataURI(img)
	require.NoError(t, err)
	return uri
}

func TestIndexAndVersion(t *testing.T) {
	r := newTestRouter(t, config.CompositorPixelCopy, &fakeSegmenter{}, &fakeGenerator{})

	w := perform(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, banner, w.Body.String())
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = perform(r, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"version":"test"`)
}

func TestHealthAndReady(t *testing.T) {
	seg := &fakeSegmenter{loadErr: errors.New("weights missing")}
	r := newTestRouter(t, config.CompositorPixelCopy, seg, &fakeGenerator{})

	w := perform(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = perform(r, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var status model.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "degraded", status.Status)

	// 加载成功后就绪
	seg.loadErr = nil
	w = perform(r, jsonRequest(t, "/generate", model.GenerateRequest{
		Prompt:            "street",
		SegmentationImage: testDataURI(t, 8, 8, color.RGBA{R: 1, A: 255}),
	}))
	require.Equal(t, http.StatusOK, w.Code)

	w = perform(r, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ready"}`, w.Body.String())

	w = perform(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestReady_WhileLoading(t *testing.T) {
	seg := &fakeSegmenter{started: make(chan struct{}), release: make(chan struct{})}
	r := newTestRouter(t, config.CompositorPixelCopy, seg, &fakeGenerator{})

	req := jsonRequest(t, "/generate", model.GenerateRequest{
		Prompt:            "street",
		SegmentationImage: testDataURI(t, 8, 8, color.RGBA{R: 1, A: 255}),
	})
	done := make(chan int, 1)
	go func() { done <- perform(r, req).Code }()
	<-seg.started

	w := perform(r, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var status model.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "loading", status.Status)

	close(seg.release)
	require.Equal(t, http.StatusOK, <-done)
}

func TestSegment_NoFilePart(t *testing.T) {
	r := newTestRouter(t, config.CompositorPixelCopy, &fakeSegmenter{}, &fakeGenerator{})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/segment", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := perform(r, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"No file part"}`, w.Body.String())
}

func TestSegment_EmptyFilename(t *testing.T) {
	r := newTestRouter(t, config.CompositorPixelCopy, &fakeSegmenter{}, &fakeGenerator{})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename=""`)
	h.Set("Content-Type", "application/octet-stream")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte{})
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/segment", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := perform(r, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"No selected file"}`, w.Body.String())
}

func TestSegment_ValidPNG(t *testing.T) {
	r := newTestRouter(t, config.CompositorPixelCopy, &fakeSegmenter{}, &fakeGenerator{})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "street.png")
	require.NoError(t, err)
	_, err = part.Write(testPNG(t, 40, 20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/segment", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := perform(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.SegmentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.SegmentedImage, "data:image/png;base64,")

	img, err := utils.DecodeDataURIImage(resp.SegmentedImage)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 40, 20), img.Bounds())
	require.Equal(t, color.RGBA{R: 120, G: 120, B: 120, A: 255}, img.RGBAAt(0, 0))
}

func TestSegment_CorruptImageReturnsTraceback(t *testing.T) {
	r := newTestRouter(t, config.CompositorPixelCopy, &fakeSegmenter{}, &fakeGenerator{})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "broken.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("definitely not a png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/segment", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := perform(r, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Error)
	require.Contains(t, resp.Traceback, "failed to decode image")
	require.GreaterOrEqual(t, strings.Count(resp.Traceback, "\n"), 1)
}

func TestGenerate_MissingFields(t *testing.T) {
	gen := &fakeGenerator{}
	r := newTestRouter(t, config.CompositorPixelCopy, &fakeSegmenter{}, gen)

	w := perform(r, jsonRequest(t, "/generate", model.GenerateRequest{
		Prompt:            "",
		SegmentationImage: testDataURI(t, 4, 4, color.RGBA{A: 255}),
	}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"Missing prompt or segmentation image"}`, w.Body.String())

	w = perform(r, jsonRequest(t, "/generate", model.GenerateRequest{Prompt: "street"}))
	require.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w = perform(r, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"Invalid request"}`, w.Body.String())

	require.Zero(t, gen.calls)
}

func TestGenerate_PixelCopy(t *testing.T) {
	gen := &fakeGenerator{}
	r := newTestRouter(t, config.CompositorPixelCopy, &fakeSegmenter{}, gen)

	original := testDataURI(t, 10, 5, color.RGBA{G: 200, A: 255})
	w := perform(r, jsonRequest(t, "/generate", model.GenerateRequest{
		Prompt:            "autumn boulevard",
		SegmentationImage: testDataURI(t, 10, 5, color.RGBA{A: 255}),
		OriginalImage:     &original,
		UseMask:           true,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, 1, gen.calls)

	var resp model.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	img, err := utils.DecodeDataURIImage(resp.GeneratedImage)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
	// 全黑分割图，整图保留原图
	require.Equal(t, color.RGBA{G: 200, A: 255}, img.RGBAAt(5, 5))
}

func TestGenerate_InvalidImage(t *testing.T) {
	gen := &fakeGenerator{}
	r := newTestRouter(t, config.CompositorPixelCopy, &fakeSegmenter{}, gen)

	w := perform(r, jsonRequest(t, "/generate", model.GenerateRequest{
		Prompt:            "street",
		SegmentationImage: "data:image/png;base64,!!!",
	}))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Zero(t, gen.calls)
}

func TestGenerate_InpaintRequiresOriginal(t *testing.T) {
	gen := &fakeGenerator{}
	r := newTestRouter(t, config.CompositorInpaint, &fakeSegmenter{}, gen)

	w := perform(r, jsonRequest(t, "/generate", model.GenerateRequest{
		Prompt:            "street",
		SegmentationImage: testDataURI(t, 4, 4, color.RGBA{A: 255}),
	}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, gen.calls)

	original := testDataURI(t, 4, 4, color.RGBA{B: 9, A: 255})
	w = perform(r, jsonRequest(t, "/generate", model.GenerateRequest{
		Prompt:            "street",
		SegmentationImage: testDataURI(t, 4, 4, color.RGBA{A: 255}),
		OriginalImage:     &original,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, 1, gen.calls)
}

func TestErrorChain(t *testing.T) {
	base := errors.New("cuda out of memory")
	err := fmt.Errorf("segmentation failed: %w", fmt.Errorf("segmenter: %w", base))

	lines := strings.Split(errorChain(err), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "segmentation failed: segmenter: cuda out of memory")
	require.Contains(t, lines[1], "segmenter: cuda out of memory")
	require.Equal(t, "*errors.errorString: cuda out of memory", lines[2])

	joined := errorChain(errors.Join(errors.New("a"), errors.New("b")))
	require.Contains(t, joined, "\n  *errors.errorString: a")
	require.Contains(t, joined, "\n  *errors.errorString: b")
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusServiceUnavailable, statusFor(service.ErrNotReady))
	require.Equal(t, http.StatusServiceUnavailable, statusFor(service.ErrQueueTimeout))
	require.Equal(t, http.StatusServiceUnavailable, statusFor(service.ErrLoading))
	require.Equal(t, http.StatusBadRequest, statusFor(service.ErrOriginalRequired))
	require.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
