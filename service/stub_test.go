package service

import (
	"context"
	"image"
	"image/color"
	"sync"
)

type stubSegmenter struct {
	loadErr error
	loads   int
	calls   int

	// 非空时 Load 先关闭 started，再等待 release
	started chan struct{}
	release chan struct{}
}

func (s *stubSegmenter) Load(ctx context.Context) error {
	s.loads++
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.loadErr
}

func (s *stubSegmenter) Segment(ctx context.Context, img image.Image) (*ClassMap, error) {
	s.calls++
	b := img.Bounds()
	cm := NewClassMap(b.Dx(), b.Dy())
	for y := 0; y < cm.Height; y++ {
		for x := 0; x < cm.Width; x++ {
			cm.Set(x, y, (x+y)%NumClasses)
		}
	}
	return cm, nil
}

type stubGenerator struct {
	loadErr error
	fill    color.RGBA
	out     image.Rectangle
	reqs    []*GenerationRequest
}

func (g *stubGenerator) Load(ctx context.Context) error {
	return g.loadErr
}

func (g *stubGenerator) Generate(ctx context.Context, req *GenerationRequest) (image.Image, error) {
	g.reqs = append(g.reqs, req)
	r := g.out
	if r.Empty() {
		r = req.Control.Bounds()
	}
	img := image.NewRGBA(r)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = g.fill.R, g.fill.G, g.fill.B, 255
	}
	return img, nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string]*SegmentResult
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]*SegmentResult)}
}

func (c *memCache) GetSegment(ctx context.Context, key string) (*SegmentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.data[key]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (c *memCache) SetSegment(ctx context.Context, key string, result *SegmentResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *result
	c.data[key] = &cp
	return nil
}
