// Package fixtures 提供测试图像与配置样例。
package fixtures

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/imageflow/imaging"
)

// Gradient 生成 w×h 的确定性渐变图
func Gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(w, 1)),
				G: uint8(y * 255 / max(h, 1)),
				B: 0x80,
				A: 0xff,
			})
		}
	}
	return img
}

// PNG 编码为 PNG 字节
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.EncodePNG(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEG 编码为 JPEG 字节
func JPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// WritePNG 将图像写到 root 下的相对路径 rel，返回 rel
func WritePNG(t testing.TB, root, rel string, img image.Image) string {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, PNG(t, img), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return rel
}
