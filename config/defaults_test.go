package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/imageflow/internal/database"
	"github.com/BaSui01/imageflow/weights"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, StorageConfig{}, cfg.Storage)
	assert.NotEqual(t, InferenceConfig{}, cfg.Inference)
	assert.NotEqual(t, GenerationConfig{}, cfg.Generation)
	assert.NotEqual(t, UpscaleConfig{}, cfg.Upscale)
	assert.NotEqual(t, RestoreConfig{}, cfg.Restore)
	assert.NotEqual(t, WeightsConfig{}, cfg.Weights)
	assert.False(t, cfg.Prefetch)
	assert.False(t, cfg.JWT.Enabled())
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	assert.Empty(t, cfg.APIKeys)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "imageflow.db", cfg.Name)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, database.DefaultPoolConfig(), cfg.Pool)
}

func TestDefaultStorageConfig_CacheDir(t *testing.T) {
	t.Setenv("IMAGEFLOW_CACHE_DIR", "")
	assert.Equal(t, "/cache", DefaultStorageConfig().CacheDir)

	t.Setenv("IMAGEFLOW_CACHE_DIR", "/data/weights")
	cfg := DefaultStorageConfig()
	assert.Equal(t, "/data/weights", cfg.CacheDir)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, "uploads", cfg.UploadsDir)
}

func TestDefaultModelConfigs(t *testing.T) {
	gen := DefaultGenerationConfig()
	assert.Equal(t, "CompVis/stable-diffusion-v1-4", gen.Model)
	assert.Equal(t, "fp16", gen.Revision)

	up := DefaultUpscaleConfig()
	assert.Equal(t, 300, up.TileSize)
	assert.Equal(t, 20, up.TileBorder)
	assert.Equal(t, weights.RealESRGANx4Plus.URL, up.PhotoWeightURL)
	assert.Equal(t, weights.RealESRAnimeVideoV3.URL, up.AnimeWeightURL)

	assert.Equal(t, weights.GFPGANv13.URL, DefaultRestoreConfig().WeightURL)
}

func TestDefaultInferenceConfig(t *testing.T) {
	cfg := DefaultInferenceConfig()
	assert.Equal(t, "http", cfg.Backend)
	assert.Equal(t, "png", cfg.PixelFormat)
	assert.Equal(t, 1, cfg.MaxConcurrentRuns)
}
