package service

import (
	"fmt"
	"image"
	"image/color"
)

// ClassMap 逐像素的语义类别索引，行优先存储
type ClassMap struct {
	Width  int
	Height int
	Labels []uint8
}

func NewClassMap(width, height int) *ClassMap {
	return &ClassMap{
		Width:  width,
		Height: height,
		Labels: make([]uint8, width*height),
	}
}

func (m *ClassMap) At(x, y int) int {
	return int(m.Labels[y*m.Width+x])
}

func (m *ClassMap) Set(x, y, class int) {
	m.Labels[y*m.Width+x] = uint8(class)
}

// ClassMapFromImage 将单通道标签图（灰度值即类别）转换为 ClassMap
func ClassMapFromImage(img image.Image) *ClassMap {
	b := img.Bounds()
	m := NewClassMap(b.Dx(), b.Dy())

	if gray, ok := img.(*image.Gray); ok {
		for y := 0; y < m.Height; y++ {
			off := gray.PixOffset(b.Min.X, b.Min.Y+y)
			copy(m.Labels[y*m.Width:(y+1)*m.Width], gray.Pix[off:off+m.Width])
		}
		return m
	}

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Labels[y*m.Width+x] = g.Y
		}
	}
	return m
}

// Colorize 按调色板为类别图着色
func Colorize(m *ClassMap, p *Palette) (*image.RGBA, error) {
	if len(m.Labels) != m.Width*m.Height {
		return nil, fmt.Errorf("class map has %d labels, want %d", len(m.Labels), m.Width*m.Height)
	}

	out := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i, label := range m.Labels {
		if int(label) >= p.Len() {
			return nil, fmt.Errorf("%w: %d at (%d,%d)", ErrClassOutOfRange, label, i%m.Width, i/m.Width)
		}
		c := p[label]
		o := i * 4
		out.Pix[o] = c[0]
		out.Pix[o+1] = c[1]
		out.Pix[o+2] = c[2]
		out.Pix[o+3] = 0xff
	}
	return out, nil
}
