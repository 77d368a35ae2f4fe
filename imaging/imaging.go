// Package imaging 提供模型输入输出的图像格式转换：解码、PNG 编码、
// 短边缩放、尺寸规整，以及 RGBA 与模型使用的 BGR 字节序之间的互转。
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/BaSui01/imageflow/internal/pool"
)

// DefaultSize 默认生成尺寸与最大边界外的回退值
const DefaultSize = 512

// maxSize 超过该值的尺寸被视为无效
const maxSize = 8192

// ErrInvalidSize 尺寸字符串格式错误
var ErrInvalidSize = errors.New("invalid size")

// =============================================================================
// 📥 解码 / 编码
// =============================================================================

// Decode 解码 PNG / JPEG / GIF / WebP 图像
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// DecodeConfig 只读取图像头部，返回宽高
func DecodeConfig(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Load 从文件读取图像
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// EncodePNG 以 PNG 格式写出图像
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// SavePNG 将图像保存为 PNG 文件
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodePNG(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// PNGBase64 将图像编码为 base64 PNG
func PNGBase64(img image.Image) (string, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := EncodePNG(buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeBase64 解码 base64 编码的图像
func DecodeBase64(s string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return Decode(bytes.NewReader(raw))
}

// =============================================================================
// 📐 尺寸
// =============================================================================

// ReasonableSize 将尺寸向下取整为 8 的倍数；非正数或过大的值回退为 512
func ReasonableSize(n int) int {
	if n <= 0 || n >= maxSize {
		return DefaultSize
	}
	n -= n % 8
	if n < 8 {
		return 8
	}
	return n
}

// ParseSize 解析 "512x768" 形式的尺寸
func ParseSize(s string) (width, height int, err error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q (want WIDTHxHEIGHT)", ErrInvalidSize, s)
	}
	width, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return width, height, nil
}

// ResizeShortEdge 等比缩放，使短边等于 edge
func ResizeShortEdge(img image.Image, edge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || edge <= 0 {
		return img
	}
	var nw, nh int
	if w <= h {
		nw = edge
		nh = h * edge / w
	} else {
		nh = edge
		nw = w * edge / h
	}
	return Resize(img, nw, nh)
}

// Scale 按倍数缩放
func Scale(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	nw := int(float64(b.Dx())*factor + 0.5)
	nh := int(float64(b.Dy())*factor + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return Resize(img, nw, nh)
}

// Resize 使用 Catmull-Rom 插值缩放到指定尺寸
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// =============================================================================
// 🔄 通道顺序
// =============================================================================

// ToBGR 将图像打包为逐行的 BGR24 字节序列，丢弃 alpha
func ToBGR(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out = append(out, c.B, c.G, c.R)
		}
	}
	return out
}

// FromBGR 将 BGR24 字节序列还原为不透明 RGBA 图像
func FromBGR(width, height int, data []byte) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if len(data) != width*height*3 {
		return nil, fmt.Errorf("bgr buffer length %d does not match %dx%d", len(data), width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, p := 0, 0; i < len(data); i, p = i+3, p+4 {
		img.Pix[p] = data[i+2]
		img.Pix[p+1] = data[i+1]
		img.Pix[p+2] = data[i]
		img.Pix[p+3] = 0xff
	}
	return img, nil
}
