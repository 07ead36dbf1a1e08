package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/stocktake/internal/config"
	obscontext "github.com/smallbiznis/stocktake/internal/observability/context"
	obslogger "github.com/smallbiznis/stocktake/internal/observability/logger"
	jobdomain "github.com/smallbiznis/stocktake/internal/ocrrerun/domain"
	"github.com/smallbiznis/stocktake/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Service jobdomain.Service
	Config  *config.StockTakeConfigHolder `optional:"true"`
}

// Worker drains queued and orphaned rerun jobs one at a time.
type Worker struct {
	id      string
	log     *zap.Logger
	service jobdomain.Service
	config  *config.StockTakeConfigHolder
}

func New(p Params) *Worker {
	id := newWorkerID()
	return &Worker{
		id:      id,
		log:     p.Log.Named("ocrrerun.worker").With(zap.String("worker_id", id)),
		service: p.Service,
		config:  p.Config,
	}
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) RunForever(ctx context.Context) {
	for {
		ran, err := w.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("ocr rerun poll failed", zap.Error(err))
		}
		if ran {
			continue
		}

		timer := time.NewTimer(w.config.Get().Rerun.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was picked up.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	job, err := w.service.ClaimNext(ctx, w.id)
	if err != nil || job == nil {
		return false, err
	}

	ctx, _ = correlation.ForJob(ctx, "ocr_rerun", job.ID.String())
	ctx = obscontext.WithSessionID(ctx, job.SessionID.String())
	log := obslogger.WithContext(ctx, w.log)

	log.Info("ocr rerun claimed",
		zap.String("job_id", job.ID.String()),
		zap.Int("current", job.Current),
		zap.Int("total", job.Total),
	)
	if _, err := w.service.RunJob(ctx, job.ID); err != nil {
		if errors.Is(err, jobdomain.ErrSessionLocked) {
			return false, nil
		}
		return true, err
	}
	return true, nil
}

func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + ":" + uuid.NewString()
}
