// =============================================================================
// 📦 ImageFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"os"
	"time"

	"github.com/BaSui01/imageflow/internal/database"
	"github.com/BaSui01/imageflow/weights"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Storage:    DefaultStorageConfig(),
		Inference:  DefaultInferenceConfig(),
		Generation: DefaultGenerationConfig(),
		Upscale:    DefaultUpscaleConfig(),
		Restore:    DefaultRestoreConfig(),
		Weights:    DefaultWeightsConfig(),
		Catalog:    DefaultCatalogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
		MaxUploadBytes:  32 << 20,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置，本地 SQLite 文件
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:      "sqlite",
		Host:        "localhost",
		Port:        5432,
		User:        "imageflow",
		Name:        "imageflow.db",
		SSLMode:     "disable",
		Pool:        database.DefaultPoolConfig(),
		AutoMigrate: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "imageflow",
		SampleRate:   0.1,
	}
}

// DefaultStorageConfig 返回默认文件布局；权重目录取 $IMAGEFLOW_CACHE_DIR，缺省 /cache
func DefaultStorageConfig() StorageConfig {
	cacheDir := os.Getenv("IMAGEFLOW_CACHE_DIR")
	if cacheDir == "" {
		cacheDir = "/cache"
	}
	return StorageConfig{
		Root:       ".",
		OutputDir:  "output",
		UploadsDir: "uploads",
		CacheDir:   cacheDir,
	}
}

// DefaultInferenceConfig 返回默认推理配置
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		Backend:           "http",
		BaseURL:           "http://localhost:7860",
		Device:            "cuda",
		Timeout:           10 * time.Minute,
		PixelFormat:       "png",
		MaxConcurrentRuns: 1,
		QueueSize:         64,
	}
}

// DefaultGenerationConfig 返回默认扩散模型配置
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Enabled:  true,
		Model:    "CompVis/stable-diffusion-v1-4",
		Revision: "fp16",
		DType:    "float16",
	}
}

// DefaultUpscaleConfig 返回默认超分配置
func DefaultUpscaleConfig() UpscaleConfig {
	return UpscaleConfig{
		Enabled:        true,
		TileSize:       300,
		TileBorder:     20,
		PhotoWeightURL: weights.RealESRGANx4Plus.URL,
		AnimeWeightURL: weights.RealESRAnimeVideoV3.URL,
	}
}

// DefaultRestoreConfig 返回默认人脸修复配置
func DefaultRestoreConfig() RestoreConfig {
	return RestoreConfig{
		Enabled:   true,
		WeightURL: weights.GFPGANv13.URL,
	}
}

// DefaultWeightsConfig 返回默认权重下载配置
func DefaultWeightsConfig() WeightsConfig {
	return WeightsConfig{
		Timeout:       30 * time.Minute,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
}

// DefaultCatalogConfig 返回默认目录配置
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{ListTTL: time.Minute}
}
