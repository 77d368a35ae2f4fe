package transform

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/inference"
	"github.com/BaSui01/imageflow/internal/ctxkeys"
	"github.com/BaSui01/imageflow/internal/pool"
)

// 推理操作名，用于指标与 span
const (
	OpGenerate = "generate"
	OpUpscale  = "upscale"
	OpRestore  = "restore"
)

// RunObserver 接收推理事件，由 metrics.Collector 实现
type RunObserver interface {
	RecordInference(operation string, duration time.Duration, err error)
}

// Runner 在有界 worker 池中执行推理调用
type Runner struct {
	backend  inference.Backend
	pool     *pool.GoroutinePool
	observer RunObserver
	logger   *zap.Logger
}

// NewRunner 创建 Runner。workers 为 nil 时直接在调用方 goroutine 中执行。
func NewRunner(backend inference.Backend, workers *pool.GoroutinePool, observer RunObserver, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		backend:  backend,
		pool:     workers,
		observer: observer,
		logger:   logger.With(zap.String("component", "runner")),
	}
}

// Backend 返回底层推理后端
func (r *Runner) Backend() inference.Backend {
	return r.backend
}

// Run 执行一次推理
func (r *Runner) Run(ctx context.Context, op string, sess *inference.Session, req inference.RunRequest) (image.Image, error) {
	ctx = ctxkeys.WithOperation(ctx, op)
	ctx, span := otel.Tracer("imageflow/transform").Start(ctx, "transform."+op)
	span.SetAttributes(
		attribute.String("backend", r.backend.Name()),
		attribute.String("session", sess.ID),
		attribute.String("family", string(sess.Spec.Family)),
	)
	defer span.End()

	start := time.Now()
	var result *inference.RunResult
	call := func(ctx context.Context) error {
		var err error
		result, err = r.backend.Run(ctx, sess, req)
		if err == nil && (result == nil || result.Image == nil) {
			err = fmt.Errorf("%s backend returned no image", r.backend.Name())
		}
		return err
	}

	var err error
	if r.pool != nil {
		err = r.pool.SubmitWait(ctx, call)
	} else {
		err = call(ctx)
	}
	elapsed := time.Since(start)

	if r.observer != nil {
		r.observer.RecordInference(op, elapsed, err)
	}
	logger := r.logger.With(zap.String("operation", op), zap.String("session", sess.ID))
	if id, ok := ctxkeys.RequestID(ctx); ok {
		logger = logger.With(zap.String("request_id", id))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("inference failed", zap.Duration("duration", elapsed), zap.Error(err))
		return nil, err
	}
	b := result.Image.Bounds()
	logger.Info("inference finished",
		zap.Duration("duration", elapsed),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()),
	)
	return result.Image, nil
}
