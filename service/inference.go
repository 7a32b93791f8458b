package service

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TIANLI0/StreetGen/config"
	"github.com/TIANLI0/StreetGen/utils"
	"go.uber.org/zap"
)

// InferenceService 持有模型句柄，启动时构造一次并注入到 handler
type InferenceService struct {
	segmenter    Segmenter
	generator    Generator
	compositor   Compositor
	cache        SegmentCache
	palette      *Palette
	canvas       Canvas
	params       GenerationParams
	maxSide      uint
	semaphore    chan struct{}
	queueTimeout time.Duration
	loadTimeout  time.Duration

	// loadMu 串行化 Load，errMu 只保护 loadErr，Ready 不会等待正在进行的加载
	loadMu  sync.Mutex
	errMu   sync.RWMutex
	loadErr error
	loading atomic.Bool
	ready   atomic.Bool
}

// InferenceOptions 推理服务参数
type InferenceOptions struct {
	Canvas        Canvas
	Params        GenerationParams
	MaxSide       uint
	MaxConcurrent int
	QueueTimeout  time.Duration
	LoadTimeout   time.Duration
}

// OptionsFromConfig 从配置构造推理参数
func OptionsFromConfig(cfg *config.Config) InferenceOptions {
	return InferenceOptions{
		Canvas:        Canvas{Width: cfg.Generation.Width, Height: cfg.Generation.Height},
		Params:        ParamsFromConfig(&cfg.Generation),
		MaxSide:       cfg.Upload.MaxSide,
		MaxConcurrent: cfg.Inference.MaxConcurrent,
		QueueTimeout:  cfg.Inference.QueueTimeout,
		LoadTimeout:   cfg.Inference.LoadTimeout,
	}
}

// SegmentResult 分割结果
type SegmentResult struct {
	DataURI string
	Width   int
	Height  int
	MD5     string
	Cached  bool
}

// GenerateInput 一次生成请求，图像尚未缩放
type GenerateInput struct {
	Prompt       string
	Segmentation image.Image
	Original     image.Image
	UseMask      bool
}

func NewInferenceService(opts InferenceOptions, segmenter Segmenter, generator Generator, compositor Compositor, cache SegmentCache) *InferenceService {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Canvas.Width <= 0 || opts.Canvas.Height <= 0 {
		opts.Canvas = DefaultCanvas
	}
	return &InferenceService{
		segmenter:    segmenter,
		generator:    generator,
		compositor:   compositor,
		cache:        cache,
		palette:      &ADE20K,
		canvas:       opts.Canvas,
		params:       opts.Params,
		maxSide:      opts.MaxSide,
		semaphore:    make(chan struct{}, opts.MaxConcurrent),
		queueTimeout: opts.QueueTimeout,
		loadTimeout:  opts.LoadTimeout,
	}
}

// Load 加载分割与生成模型，已就绪时直接返回
func (s *InferenceService) Load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.ready.Load() {
		return nil
	}

	s.loading.Store(true)
	defer s.loading.Store(false)

	if s.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.loadTimeout)
		defer cancel()
	}

	// 纯黑保留给掩码，调色板中出现会把该类别误当作保留区域
	if s.palette.Contains(RGB{}) {
		return s.setLoadErr(ErrKeepColorInUse)
	}

	startTime := time.Now()
	if err := s.segmenter.Load(ctx); err != nil {
		return s.setLoadErr(fmt.Errorf("load segmentation model: %w", err))
	}
	if err := s.generator.Load(ctx); err != nil {
		return s.setLoadErr(fmt.Errorf("load generation model: %w", err))
	}

	s.setLoadErr(nil)
	s.ready.Store(true)
	utils.Logger.Info("models loaded successfully", zap.Duration("duration", time.Since(startTime)))
	return nil
}

func (s *InferenceService) setLoadErr(err error) error {
	s.errMu.Lock()
	s.loadErr = err
	s.errMu.Unlock()
	return err
}

// Ready 返回就绪状态；加载中返回 ErrLoading，否则返回最近一次加载错误
func (s *InferenceService) Ready() (bool, error) {
	if s.ready.Load() {
		return true, nil
	}
	if s.loading.Load() {
		return false, ErrLoading
	}
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	if s.loadErr != nil {
		return false, s.loadErr
	}
	return false, ErrNotReady
}

// EnsureLoaded 所有接口共用的就绪检查，未就绪时尝试加载一次
func (s *InferenceService) EnsureLoaded(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	utils.Logger.Warn("models not loaded, loading now")
	if err := s.Load(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

// Compositor 当前使用的合成策略
func (s *InferenceService) Compositor() Compositor {
	return s.compositor
}

// NeedsOriginal 判断本次请求是否需要解码原图
func (s *InferenceService) NeedsOriginal(useMask bool) bool {
	if _, ok := s.compositor.(InpaintCompositor); ok {
		return true
	}
	return useMask
}

// acquire 并发控制，设备上同一时间只运行有限个推理
func (s *InferenceService) acquire(ctx context.Context) (func(), error) {
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		return func() { <-s.semaphore }, nil
	case <-ctx.Done():
		return nil, ErrQueueTimeout
	}
}

// Segment 分割上传的图片并返回着色结果
func (s *InferenceService) Segment(ctx context.Context, upload []byte) (*SegmentResult, error) {
	md5 := utils.BytesMD5(upload)
	cacheKey := md5 + ":" + strconv.FormatUint(uint64(s.maxSide), 10)

	if s.cache != nil {
		cached, err := s.cache.GetSegment(ctx, cacheKey)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil {
			utils.Logger.Info("cache hit", zap.String("cache_key", cacheKey))
			cached.Cached = true
			return cached, nil
		}
	}

	img, format, err := utils.DecodeImage(upload)
	if err != nil {
		return nil, err
	}
	utils.Logger.Info("image opened",
		zap.String("md5", md5),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	if err := s.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	input := LimitSide(img, s.maxSide)

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	startTime := time.Now()
	classMap, err := s.segmenter.Segment(ctx, input)
	release()
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}

	colored, err := Colorize(classMap, s.palette)
	if err != nil {
		return nil, fmt.Errorf("colorization failed: %w", err)
	}

	uri, err := utils.ImageToDataURI(colored)
	if err != nil {
		return nil, err
	}

	result := &SegmentResult{
		DataURI: uri,
		Width:   classMap.Width,
		Height:  classMap.Height,
		MD5:     md5,
	}

	utils.Logger.Info("segmentation completed successfully",
		zap.String("md5", md5),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
		zap.Duration("duration", time.Since(startTime)))

	if s.cache != nil {
		if err := s.cache.SetSegment(ctx, cacheKey, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	return result, nil
}

// Generate 按分割图和提示词生成街景
func (s *InferenceService) Generate(ctx context.Context, in *GenerateInput) (image.Image, error) {
	if err := s.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	composite := &CompositeInput{
		Prompt:       in.Prompt,
		Segmentation: FitCanvas(in.Segmentation, s.canvas),
		UseMask:      in.UseMask,
		Params:       s.params,
	}
	if in.Original != nil {
		composite.Original = FitCanvas(in.Original, s.canvas)
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	startTime := time.Now()
	out, err := s.compositor.Compose(ctx, s.generator, composite)
	if err != nil {
		return nil, err
	}

	utils.Logger.Info("image generated",
		zap.String("compositor", s.compositor.Name()),
		zap.Bool("use_mask", in.UseMask),
		zap.Bool("has_original", in.Original != nil),
		zap.Duration("duration", time.Since(startTime)))

	return out, nil
}
