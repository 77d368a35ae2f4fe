package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/catalog"
	"github.com/BaSui01/imageflow/imaging"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/internal/telemetry"
	"github.com/BaSui01/imageflow/internal/tlsutil"
	"github.com/BaSui01/imageflow/transform"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and metrics servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(parent context.Context, flags *globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting ImageFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	app, err := newApp(ctx, cfg, metrics.NewCollector("imageflow", logger), logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Prefetch {
		startPrefetch(ctx, app, logger)
	}

	if err := NewServer(ctx, app, logger).Run(ctx); err != nil {
		return err
	}
	logger.Info("ImageFlow stopped")
	return nil
}

// startPrefetch 将模型预热排入推理 worker 池，不阻塞服务启动。失败由池记录日志。
func startPrefetch(ctx context.Context, app *App, logger *zap.Logger) {
	err := app.workers.Submit(ctx, func(ctx context.Context) error {
		start := time.Now()
		if err := app.service.Prefetch(ctx); err != nil {
			return fmt.Errorf("model prefetch: %w", err)
		}
		logger.Info("model prefetch finished", zap.Duration("duration", time.Since(start)))
		return nil
	})
	if err != nil {
		logger.Warn("model prefetch not scheduled", zap.Error(err))
	}
}

// =============================================================================
// 🎨 变换命令
// =============================================================================

// withApp 为单次 CLI 运行组装 App，结束后释放
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, metrics.NewCollector("imageflow", logger), logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func newGenerateCmd(flags *globalFlags) *cobra.Command {
	var (
		req      transform.GenerateRequest
		size     string
		strength float64
		upscale  float64
	)
	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"stable-diffusion", "sd"},
		Short:   "Generate an image from a prompt with Stable Diffusion",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.Width, req.Height, err = imaging.ParseSize(size); err != nil {
				return err
			}
			if cmd.Flags().Changed("strength") {
				req.Strength = &strength
			}
			if cmd.Flags().Changed("upscale") {
				req.Upscale = &upscale
			}
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				img, err := app.service.Generate(ctx, req)
				if err != nil {
					return err
				}
				return printImage(cmd.OutOrStdout(), app, img)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Prompt, "prompt", "p", "", "Text prompt")
	f.StringVarP(&req.Img, "img", "i", "", "Initial image for img2img, relative to the storage root")
	f.StringVarP(&req.Mask, "mask", "m", "", "Inpainting mask, requires --img")
	f.StringVarP(&size, "size", "s", "512x512", "Output size for txt2img (WIDTHxHEIGHT)")
	f.IntVar(&req.Steps, "inference-steps", transform.DefaultSteps, "Number of denoising steps")
	f.Float64Var(&strength, "strength", transform.DefaultStrength, "How strongly the initial image is transformed (0-1)")
	f.Float64VarP(&req.Guidance, "guidance-scale", "g", transform.DefaultGuidance, "Classifier-free guidance scale")
	f.Float64Var(&upscale, "upscale", 0, "Upscale the result by this factor")
	f.BoolVar(&req.FixFaces, "fix-faces", false, "Run GFPGAN on the result")
	f.StringVarP(&req.Outfile, "out", "o", "", "Output file name without extension")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newUpscaleCmd(flags *globalFlags) *cobra.Command {
	var req transform.UpscaleRequest
	cmd := &cobra.Command{
		Use:     "upscale",
		Aliases: []string{"real-esrgan", "re"},
		Short:   "Upscale an image with Real-ESRGAN",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				img, err := app.service.Upscale(ctx, req)
				if err != nil {
					return err
				}
				return printImage(cmd.OutOrStdout(), app, img)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Img, "img", "i", "", "Input image, relative to the storage root")
	f.Float64Var(&req.Scale, "scale", transform.DefaultUpscale, "Upscaling factor")
	f.BoolVar(&req.ForAnime, "cartoon", false, "Use the anime model")
	f.StringVarP(&req.Outfile, "out", "o", "", "Output file name without extension")
	_ = cmd.MarkFlagRequired("img")
	return cmd
}

func newFixFacesCmd(flags *globalFlags) *cobra.Command {
	var req transform.RestoreRequest
	cmd := &cobra.Command{
		Use:     "fix-faces",
		Aliases: []string{"gfpgan", "gfp"},
		Short:   "Restore faces in an image with GFPGAN",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				img, err := app.service.RestoreFaces(ctx, req)
				if err != nil {
					return err
				}
				return printImage(cmd.OutOrStdout(), app, img)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Img, "img", "i", "", "Input image, relative to the storage root")
	f.Float64Var(&req.Scale, "scale", 1, "Final upscaling factor; values other than 1 also upscale the background")
	f.BoolVar(&req.OnlyCenterFace, "only-center-face", false, "Only restore the face closest to the center")
	f.BoolVar(&req.Aligned, "prealigned-face", false, "Input is an already aligned face crop")
	f.StringVarP(&req.Outfile, "out", "o", "", "Output file name without extension")
	_ = cmd.MarkFlagRequired("img")
	return cmd
}

// printImage 打印结果路径、尺寸与文件大小
func printImage(w io.Writer, app *App, img *catalog.Image) error {
	abs, err := app.layout.Resolve(img.Src)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s  %dx%d  %s\n", img.Src, img.Width, img.Height, humanize.Bytes(uint64(info.Size())))
	return err
}

// =============================================================================
// 🔥 prefetch / import
// =============================================================================

func newPrefetchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prefetch",
		Short: "Download weights and load every enabled model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				start := time.Now()
				if err := app.service.Prefetch(ctx); err != nil {
					return err
				}
				loaded := app.service.Loaded()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Loaded in %s\n", time.Since(start).Round(time.Millisecond))
				fmt.Fprintf(out, "  generation: %s\n", strings.Join(loaded.Generation, ", "))
				fmt.Fprintf(out, "  upscale:    %s\n", strings.Join(loaded.Upscale, ", "))
				fmt.Fprintf(out, "  restore:    %v\n", loaded.Restore)
				return nil
			})
		},
	}
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	var alt string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Catalog image files already present in the output and uploads directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				n, total, err := importExisting(ctx, app, alt)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s of %s files\n", humanize.Comma(int64(n)), humanize.Comma(int64(total)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&alt, "alt", "", "Alt text for imported images")
	return cmd
}

// importExisting 登记 output 与 uploads 下尚未入目录的图像
func importExisting(ctx context.Context, app *App, alt string) (imported, total int, err error) {
	var rels []string
	for _, dir := range []string{app.cfg.Storage.OutputDir, app.cfg.Storage.UploadsDir} {
		found, err := app.layout.Walk(dir)
		if err != nil {
			return 0, 0, fmt.Errorf("scan %s: %w", dir, err)
		}
		rels = append(rels, found...)
	}
	imported, err = app.catalog.Import(ctx, rels, alt)
	return imported, len(rels), err
}

// =============================================================================
// 🏥 health 命令
// =============================================================================

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		ready   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/health"
			if ready {
				path = "/ready"
			}
			if err := checkHealth(cmd.Context(), tlsutil.ClientFor(addr, timeout), strings.TrimRight(addr, "/")+path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Server address")
	cmd.Flags().BoolVar(&ready, "ready", false, "Run readiness checks instead of liveness")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func checkHealth(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("health check failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
