package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// ⚖️ 模型权重
// =============================================================================

// Weight 一个可下载的权重文件
type Weight struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Known weights
var (
	GFPGANv13 = Weight{
		Name: "GFPGANv1.3.pth",
		URL:  "https://github.com/TencentARC/GFPGAN/releases/download/v1.3.0/GFPGANv1.3.pth",
	}
	RealESRGANx4Plus = Weight{
		Name: "RealESRGAN_x4plus.pth",
		URL:  "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.1.0/RealESRGAN_x4plus.pth",
	}
	RealESRAnimeVideoV3 = Weight{
		Name: "realesr-animevideov3.pth",
		URL:  "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.2.5.0/realesr-animevideov3.pth",
	}
)

// FromURL 以 URL 路径的最后一段作为文件名构造 Weight
func FromURL(raw string) (Weight, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Weight{}, fmt.Errorf("parse weight url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Weight{}, fmt.Errorf("weight url %q: unsupported scheme", raw)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return Weight{}, fmt.Errorf("weight url %q has no file name", raw)
	}
	return Weight{Name: name, URL: raw}, nil
}

// Observer 接收下载事件
type Observer interface {
	RecordWeightDownload(name string, bytes int64, duration time.Duration, err error)
}

// Config 下载器配置
type Config struct {
	// 本地缓存目录
	Dir string
	// 单次请求超时
	Timeout time.Duration
	// 最大重试次数
	MaxRetries uint64
	// 重试初始间隔
	RetryInterval time.Duration
	// HuggingFace 访问令牌
	HFToken string
}

// Fetcher 确保权重文件存在于本地缓存目录，缺失时下载一次
type Fetcher struct {
	cfg      Config
	client   *http.Client
	group    singleflight.Group
	observer Observer
	logger   *zap.Logger
}

// NewFetcher 创建权重下载器
func NewFetcher(cfg Config, client *http.Client, observer Observer, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		client:   client,
		observer: observer,
		logger:   logger.With(zap.String("component", "weights")),
	}
}

// Path 返回权重文件的本地路径
func (f *Fetcher) Path(w Weight) string {
	return filepath.Join(f.cfg.Dir, w.Name)
}

// Fetch 返回权重的本地路径；文件已存在时直接返回，否则下载。
// 同名的并发请求共享同一次下载。
func (f *Fetcher) Fetch(ctx context.Context, w Weight) (string, error) {
	if w.Name == "" || strings.ContainsAny(w.Name, `/\`) || w.Name == "." || w.Name == ".." {
		return "", fmt.Errorf("invalid weight name %q", w.Name)
	}
	path := f.Path(w)
	ok, err := present(path)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}

	_, err, _ = f.group.Do(w.Name, func() (any, error) {
		// 另一个 goroutine 可能刚刚完成下载
		if ok, err := present(path); ok || err != nil {
			return nil, err
		}
		return nil, f.download(ctx, w, path)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// present 路径上已有普通文件时返回 true；被目录等非普通文件占用时返回错误
func present(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat weights: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("weight path %s is not a regular file", path)
	}
	return true, nil
}

func (f *Fetcher) download(ctx context.Context, w Weight, path string) error {
	if err := os.MkdirAll(f.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create weight dir: %w", err)
	}

	start := time.Now()
	f.logger.Info("downloading weights", zap.String("name", w.Name), zap.String("url", w.URL))

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.cfg.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, f.cfg.MaxRetries), ctx)

	size, err := backoff.RetryNotifyWithData(func() (int64, error) {
		return f.downloadOnce(ctx, w, path)
	}, policy, func(err error, next time.Duration) {
		f.logger.Warn("weight download failed, retrying",
			zap.String("name", w.Name),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})

	if f.observer != nil {
		f.observer.RecordWeightDownload(w.Name, size, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", w.Name, err)
	}

	f.logger.Info("weights downloaded",
		zap.String("name", w.Name),
		zap.String("size", humanize.Bytes(uint64(size))),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// downloadOnce 下载到同目录临时文件后原子重命名，失败时不会留下半个文件
func (f *Fetcher) downloadOnce(ctx context.Context, w Weight, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	if f.cfg.HFToken != "" && isHuggingFace(w.URL) {
		req.Header.Set("Authorization", "Bearer "+f.cfg.HFToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return 0, err
		}
		return 0, backoff.Permanent(err)
	}

	tmp, err := os.CreateTemp(f.cfg.Dir, "."+w.Name+".*.part")
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("short read: got %d of %d bytes", n, resp.ContentLength)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, backoff.Permanent(fmt.Errorf("move weights into place: %w", err))
	}
	return n, nil
}

func isHuggingFace(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "huggingface.co" || strings.HasSuffix(host, ".huggingface.co")
}
