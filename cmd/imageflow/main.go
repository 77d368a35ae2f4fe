// =============================================================================
// ImageFlow 主入口
// =============================================================================
// 完整服务入口点，包含 HTTP 服务、命令行变换、数据库迁移与健康检查
//
// 使用方法:
//
//	imageflow serve                          # 启动服务
//	imageflow serve --config config.yaml     # 指定配置文件
//	imageflow generate -p "a red fox"        # 文生图
//	imageflow upscale -i uploads/cat.png     # Real-ESRGAN 超分
//	imageflow fix-faces -i uploads/me.png    # GFPGAN 人脸修复
//	imageflow prefetch                       # 预热所有模型
//	imageflow import                         # 登记已有的图像文件
//	imageflow migrate up                     # 运行数据库迁移
//	imageflow health                         # 健康检查
//	imageflow version                        # 显示版本信息
// =============================================================================

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/imageflow/api"
	"github.com/BaSui01/imageflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func versionInfo() api.VersionInfo {
	return api.VersionInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}
}

// =============================================================================
// 🎯 主函数
// =============================================================================

// globalFlags 所有子命令共享的参数
type globalFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:               "imageflow",
		Short:             "Stable Diffusion, Real-ESRGAN and GFPGAN as a service",
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(flags.envFile)
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file (YAML)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Load environment variables from this file if it exists")

	root.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newGenerateCmd(flags),
		newUpscaleCmd(flags),
		newFixFacesCmd(flags),
		newPrefetchCmd(flags),
		newImportCmd(flags),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}

// loadEnvFile 加载 .env；文件不存在时忽略，已设置的环境变量不被覆盖
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig 加载并验证配置
func loadConfig(flags *globalFlags) (*config.Config, error) {
	loader := config.NewLoader()
	if flags.configPath != "" {
		loader = loader.WithConfigPath(flags.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ImageFlow %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
