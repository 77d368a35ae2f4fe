package fixtures

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/imageflow/config"
)

// Config 返回指向临时目录的配置：mock 推理后端、SQLite 文件数据库，
// 权重从 weightsBaseURL 下载。
func Config(t testing.TB, weightsBaseURL string) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = root
	cfg.Storage.CacheDir = filepath.Join(root, "cache")
	cfg.Database.Name = filepath.Join(root, "imageflow.db")
	cfg.Inference.Backend = "mock"
	cfg.Weights.RetryInterval = 10 * time.Millisecond
	cfg.Upscale.PhotoWeightURL = weightsBaseURL + "/RealESRGAN_x4plus.pth"
	cfg.Upscale.AnimeWeightURL = weightsBaseURL + "/realesr-animevideov3.pth"
	cfg.Restore.WeightURL = weightsBaseURL + "/GFPGANv1.3.pth"
	return cfg
}
