package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

const MimePNG = "image/png"

var ErrInvalidDataURI = errors.New("invalid data uri")

// DecodeImage 解码 PNG/JPEG/WebP 并统一转换为 RGBA
func DecodeImage(data []byte) (*image.RGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return ToRGBA(img), format, nil
}

// ToRGBA 将任意图像转换为原点为 (0,0) 的不透明 RGBA，丢弃 alpha 并保留原始 RGB 值
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == b.Dx()*4 && isOpaque(rgba) {
		return rgba
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			src := nrgba.Pix[nrgba.PixOffset(b.Min.X, b.Min.Y+y):]
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < b.Dx(); x++ {
				o := x * 4
				row[o], row[o+1], row[o+2], row[o+3] = src[o], src[o+1], src[o+2], 0xff
			}
		}
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}

func isOpaque(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return false
		}
	}
	return true
}

// EncodePNG 将图像编码为 PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ToDataURI 生成 data:<mime>;base64,<...>
func ToDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ImageToDataURI 编码为 PNG data URI
func ImageToDataURI(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return ToDataURI(MimePNG, data), nil
}

// ParseDataURI 解析 data URI，也接受不带前缀的 base64
func ParseDataURI(uri string) ([]byte, string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, "", fmt.Errorf("%w: empty", ErrInvalidDataURI)
	}

	mime := ""
	payload := uri
	if strings.HasPrefix(uri, "data:") {
		commaIndex := strings.Index(uri, ",")
		if commaIndex == -1 {
			return nil, "", fmt.Errorf("%w: missing comma", ErrInvalidDataURI)
		}
		prefix := uri[len("data:"):commaIndex]
		parts := strings.Split(prefix, ";")
		mime = parts[0]
		if len(parts) < 2 || parts[len(parts)-1] != "base64" {
			return nil, "", fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURI)
		}
		payload = uri[commaIndex+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// 部分客户端去掉了 padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
	}
	return data, mime, nil
}

// DecodeDataURIImage 解析 data URI 并解码图像
func DecodeDataURIImage(uri string) (*image.RGBA, error) {
	data, _, err := ParseDataURI(uri)
	if err != nil {
		return nil, err
	}
	img, _, err := DecodeImage(data)
	return img, err
}
