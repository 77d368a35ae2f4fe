package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 📁 文件布局
// =============================================================================

var (
	// ErrOutsideRoot 路径逃逸出存储根目录
	ErrOutsideRoot = errors.New("path is outside the storage root")
	// ErrNotExist 文件不存在
	ErrNotExist = errors.New("file does not exist")
	// ErrUnsupportedType 不支持的文件类型
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrNotManaged 路径不是输出或上传目录中的图像文件
	ErrNotManaged = errors.New("not an image in the output or uploads directory")
)

// Layout 存储目录布局。生成结果写入 OutputDir，上传文件写入 UploadsDir，
// 模型权重缓存在 CacheDir。OutputDir 与 UploadsDir 相对 Root。
type Layout struct {
	Root       string
	OutputDir  string
	UploadsDir string
	CacheDir   string

	logger *zap.Logger
}

// NewLayout 创建存储布局并确保目录存在
func NewLayout(root, outputDir, uploadsDir, cacheDir string, logger *zap.Logger) (*Layout, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	l := &Layout{
		Root:       absRoot,
		OutputDir:  outputDir,
		UploadsDir: uploadsDir,
		CacheDir:   cacheDir,
		logger:     logger.With(zap.String("component", "storage")),
	}
	for _, dir := range []string{l.OutputPath(), l.UploadsPath(), l.CacheDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return l, nil
}

// OutputPath 返回输出目录的绝对路径
func (l *Layout) OutputPath() string {
	return filepath.Join(l.Root, l.OutputDir)
}

// UploadsPath 返回上传目录的绝对路径
func (l *Layout) UploadsPath() string {
	return filepath.Join(l.Root, l.UploadsDir)
}

// =============================================================================
// 🔐 路径解析
// =============================================================================

// Resolve 将相对根目录的路径解析为绝对路径，拒绝绝对路径与目录逃逸
func (l *Layout) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	abs := filepath.Join(l.Root, filepath.FromSlash(rel))
	if abs != l.Root && !strings.HasPrefix(abs, l.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return abs, nil
}

// Rel 返回绝对路径相对根目录的 slash 路径，即目录条目中的 src
func (l *Layout) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(l.Root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, abs)
	}
	return filepath.ToSlash(rel), nil
}

// IsUpload 判断相对路径是否位于上传目录
func (l *Layout) IsUpload(rel string) bool {
	first, _, _ := strings.Cut(filepath.ToSlash(filepath.Clean(rel)), "/")
	return first == filepath.ToSlash(filepath.Clean(l.UploadsDir))
}

// =============================================================================
// 🏷️ 文件命名
// =============================================================================

const (
	maxNameRunes      = 80
	maxCreateAttempts = 16
)

// SanitizeName 将名称中的空格替换为下划线并去掉扩展名与路径分隔符
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if isImageExt(filepath.Ext(name)) {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	name = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_").Replace(name)
	if r := []rune(name); len(r) > maxNameRunes {
		name = string(r[:maxNameRunes])
	}
	return name
}

// UniquePNG 在 dir 中选择一个未被占用的 png 文件名：name.png、name_1.png、name_2.png...
func UniquePNG(dir, name string) string {
	base := SanitizeName(name)
	if base == "" {
		base = uuid.NewString()
	}
	return uniquePath(dir, base, ".png")
}

func uniquePath(dir, base, ext string) string {
	candidate := filepath.Join(dir, base+ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = filepath.Join(dir, base+"_"+strconv.Itoa(i)+ext)
	}
}

// =============================================================================
// 💾 文件操作
// =============================================================================

// SaveUpload 将上传内容保存到上传目录，返回相对路径
func (l *Layout) SaveUpload(name string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".png"
	}
	if !isImageExt(ext) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	base := SanitizeName(name)
	if base == "" {
		base = uuid.NewString()
	}
	path := uniquePath(l.UploadsPath(), base, ext)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}

	rel, err := l.Rel(path)
	if err != nil {
		return "", err
	}
	l.logger.Info("upload saved", zap.String("src", rel), zap.Int64("bytes", n))
	return rel, nil
}

// CreateOutput 在输出目录中独占创建一个未被占用的 png 文件，返回文件与相对路径。
// 并发调用不会拿到同一个文件名。
func (l *Layout) CreateOutput(name string) (*os.File, string, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		path := UniquePNG(l.OutputPath(), name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("create output: %w", err)
		}
		rel, err := l.Rel(path)
		if err != nil {
			f.Close()
			_ = os.Remove(path)
			return nil, "", err
		}
		return f, rel, nil
	}
	return nil, "", fmt.Errorf("create output: no free name for %q", name)
}

// Remove 删除输出或上传目录中的图像文件，其余路径（目录、数据库等）返回 ErrNotManaged
func (l *Layout) Remove(rel string) error {
	abs, err := l.Resolve(rel)
	if err != nil {
		return err
	}
	if !l.managed(abs) {
		return fmt.Errorf("%w: %s", ErrNotManaged, rel)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, rel)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotManaged, rel)
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, rel)
		}
		return err
	}
	l.logger.Info("file removed", zap.String("src", rel))
	return nil
}

// Exists 判断根目录下的文件是否存在
func (l *Layout) Exists(rel string) bool {
	abs, err := l.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// Walk 列出目录（相对根目录）下的所有图像文件，返回相对路径
func (l *Layout) Walk(dir string) ([]string, error) {
	abs, err := l.Resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isImageExt(filepath.Ext(path)) {
			return nil
		}
		rel, err := l.Rel(path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return out, err
}

// managed 绝对路径位于输出或上传目录之内且扩展名为图像
func (l *Layout) managed(abs string) bool {
	if !isImageExt(filepath.Ext(abs)) {
		return false
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(abs, l.OutputPath()+sep) || strings.HasPrefix(abs, l.UploadsPath()+sep)
}

func isImageExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return true
	}
	return false
}
