package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stocktake/internal/audit/domain"
	"github.com/smallbiznis/stocktake/internal/clock"
	"github.com/smallbiznis/stocktake/internal/config"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/internal/distlock"
	obslogger "github.com/smallbiznis/stocktake/internal/observability/logger"
	"github.com/smallbiznis/stocktake/internal/observability/metrics"
	jobdomain "github.com/smallbiznis/stocktake/internal/ocrrerun/domain"
	"github.com/smallbiznis/stocktake/internal/providers/imaging"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"github.com/smallbiznis/stocktake/internal/providers/storage"
	"github.com/smallbiznis/stocktake/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const listJobsLimit = 50

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         jobdomain.Repository
	Rolls        rolldomain.Repository
	Sessions     sessiondomain.Service
	Audit        auditdomain.Service
	Engine       ocr.Engine
	Store        storage.Store
	Locker       distlock.Locker
	Config       *config.StockTakeConfigHolder `optional:"true"`
	Metrics      *metrics.Metrics              `optional:"true"`
	RerunMetrics *metrics.RerunMetrics         `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         jobdomain.Repository
	rolls        rolldomain.Repository
	sessions     sessiondomain.Service
	audit        auditdomain.Service
	engine       ocr.Engine
	store        storage.Store
	locker       distlock.Locker
	config       *config.StockTakeConfigHolder
	metrics      *metrics.Metrics
	rerunMetrics *metrics.RerunMetrics
}

func New(p Params) jobdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("ocrrerun.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		rolls:        p.Rolls,
		sessions:     p.Sessions,
		audit:        p.Audit,
		engine:       p.Engine,
		store:        p.Store,
		locker:       p.Locker,
		config:       p.Config,
		metrics:      p.Metrics,
		rerunMetrics: p.RerunMetrics,
	}
}

// StartSessionRerun snapshots every low, medium or unclassified roll of the session into a queued job.
func (s *Service) StartSessionRerun(ctx context.Context, sessionID snowflake.ID, requestedBy string) (*jobdomain.Job, error) {
	requestedBy = strings.TrimSpace(requestedBy)
	if requestedBy == "" {
		return nil, jobdomain.ErrInvalidActor
	}

	var job *jobdomain.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.sessions.Lookup(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !session.Status.AcceptsReview() {
			return sessiondomain.ErrInvalidState
		}

		active, err := s.repo.FindActiveBySession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if active != nil {
			return jobdomain.ErrJobAlreadyRunning
		}

		ids, err := s.rolls.ListRerunCandidates(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		rollIDs := make([]string, 0, len(ids))
		for _, id := range ids {
			rollIDs = append(rollIDs, id.String())
		}

		now := s.clock.Now().UTC()
		job = &jobdomain.Job{
			ID:          s.genID.Generate(),
			SessionID:   sessionID,
			Status:      jobdomain.JobStatusQueued,
			RequestedBy: requestedBy,
			RollIDs:     datatypes.JSONSlice[string](rollIDs),
			Total:       len(rollIDs),
			Failures:    datatypes.JSONSlice[jobdomain.Failure]{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if job.Total == 0 {
			job.Status = jobdomain.JobStatusCompleted
			job.StartedAt = &now
			job.FinishedAt = &now
		}

		if err := s.repo.Insert(ctx, tx, job); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return jobdomain.ErrJobAlreadyRunning
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ocr rerun queued",
		zap.String("session_id", sessionID.String()),
		zap.String("job_id", job.ID.String()),
		zap.Int("total", job.Total),
	)
	s.audit.Record(ctx, auditdomain.Entry{
		SessionID:  &sessionID,
		ActorType:  auditdomain.ActorTypeReviewer,
		ActorID:    requestedBy,
		Action:     "ocr_rerun.start",
		TargetType: auditdomain.TargetTypeRerunJob,
		TargetID:   job.ID.String(),
		Metadata:   map[string]any{"total": job.Total},
	})
	return job, nil
}

func (s *Service) ClaimNext(ctx context.Context, workerID string) (*jobdomain.Job, error) {
	now := s.clock.Now().UTC()
	staleBefore := now.Add(-2 * s.config.Get().Rerun.ItemTimeout)

	candidate, err := s.repo.NextClaimable(ctx, s.db, staleBefore)
	if err != nil || candidate == nil {
		return nil, err
	}
	rows, err := s.repo.Claim(ctx, s.db, candidate.ID, workerID, now, staleBefore)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, nil
	}
	if candidate.Status == jobdomain.JobStatusRunning {
		s.log.Warn("resuming orphaned ocr rerun",
			zap.String("job_id", candidate.ID.String()),
			zap.Int("current", candidate.Current),
		)
	}
	return s.repo.FindByID(ctx, s.db, candidate.ID)
}

// RunJob processes rolls one at a time in capture order, persisting progress after each.
// Cancellation is honoured between rolls only.
func (s *Service) RunJob(ctx context.Context, jobID snowflake.ID) (*jobdomain.Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	cfg := s.config.Get().Rerun
	workerID := "inline:" + jobID.String()
	if job.Status == jobdomain.JobStatusQueued {
		now := s.clock.Now().UTC()
		rows, err := s.repo.Claim(ctx, s.db, jobID, workerID, now, now.Add(-2*cfg.ItemTimeout))
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			return nil, jobdomain.ErrJobAlreadyRunning
		}
	} else if job.ClaimedBy != nil {
		workerID = *job.ClaimedBy
	}

	lockKey := distlock.SessionKey(job.SessionID.String())
	token, ok, err := s.locker.TryLock(ctx, lockKey, cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.rerunMetrics.IncLockSkipped()
		if _, err := s.repo.Requeue(ctx, s.db, jobID, workerID, s.clock.Now().UTC()); err != nil {
			s.log.Warn("requeue after lock miss failed", zap.Error(err))
		}
		return nil, jobdomain.ErrSessionLocked
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Warn("release rerun lock failed", zap.Error(err))
		}
	}()

	started := time.Now()
	status, runErr := s.run(ctx, job, lockKey, token)
	s.rerunMetrics.ObserveJob(string(status), time.Since(started))

	final, err := s.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("ocr rerun finished",
		zap.String("job_id", jobID.String()),
		zap.String("status", string(final.Status)),
		zap.Int("success_count", final.SuccessCount),
		zap.Int("failure_count", final.FailureCount),
	)
	return final, runErr
}

func (s *Service) run(ctx context.Context, job *jobdomain.Job, lockKey, token string) (jobdomain.JobStatus, error) {
	persistCtx := context.WithoutCancel(ctx)
	running := []jobdomain.JobStatus{jobdomain.JobStatusRunning}
	log := obslogger.WithContext(ctx, s.log).With(zap.String("job_id", job.ID.String()))

	session, err := s.engine.NewSession(ctx)
	if err != nil {
		msg := fmt.Sprintf("open ocr session: %v", err)
		_, ferr := s.repo.Finish(persistCtx, s.db, job.ID, running, jobdomain.JobStatusFailed, &msg, s.clock.Now().UTC())
		return jobdomain.JobStatusFailed, errors.Join(err, ferr)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("close ocr session failed", zap.Error(err))
		}
	}()

	cfg := s.config.Get().Rerun
	progress := jobdomain.ProgressUpdate{
		Current:      job.Current,
		SuccessCount: job.SuccessCount,
		FailureCount: job.FailureCount,
		Failures:     append([]jobdomain.Failure{}, job.Failures...),
	}

	for progress.Current < len(job.RollIDs) {
		if stop, err := s.shouldStop(ctx, job.ID); stop || err != nil {
			if err != nil {
				return jobdomain.JobStatusRunning, err
			}
			_, err := s.repo.Finish(persistCtx, s.db, job.ID, running, jobdomain.JobStatusCancelled, nil, s.clock.Now().UTC())
			return jobdomain.JobStatusCancelled, err
		}

		rawID := job.RollIDs[progress.Current]
		itemStarted := time.Now()
		itemCtx, cancel := context.WithTimeout(ctx, cfg.ItemTimeout)
		roll, itemErr := s.processByRawID(itemCtx, session, rawID)
		cancel()
		s.rerunMetrics.ObserveItem(time.Since(itemStarted), itemErr)

		if itemErr != nil {
			failure := jobdomain.Failure{RollID: rawID, Reason: itemErr.Error(), At: s.clock.Now().UTC()}
			if roll != nil {
				failure.CaptureSequence = roll.CaptureSequence
			}
			progress.FailureCount++
			progress.Failures = append(progress.Failures, failure)
			s.metrics.RecordOCRItem(ctx, s.engine.Name(), "failure")
			log.Warn("ocr rerun item failed",
				zap.String("roll_id", rawID),
				zap.Error(itemErr),
			)
		} else {
			progress.SuccessCount++
			s.metrics.RecordOCRItem(ctx, s.engine.Name(), "success")
		}
		progress.Current++
		progress.At = s.clock.Now().UTC()

		if err := s.repo.SaveProgress(persistCtx, s.db, job.ID, progress); err != nil {
			return jobdomain.JobStatusRunning, err
		}
		if _, err := s.locker.Extend(persistCtx, lockKey, token, cfg.LockTTL); err != nil {
			log.Warn("extend rerun lock failed", zap.Error(err))
		}
	}

	_, err = s.repo.Finish(persistCtx, s.db, job.ID, running, jobdomain.JobStatusCompleted, nil, s.clock.Now().UTC())
	return jobdomain.JobStatusCompleted, err
}

func (s *Service) shouldStop(ctx context.Context, jobID snowflake.ID) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	return s.repo.IsCancelRequested(ctx, s.db, jobID)
}

func (s *Service) processByRawID(ctx context.Context, session ocr.Session, rawID string) (*rolldomain.CountRoll, error) {
	rollID, err := rolldomain.ParseID(rawID)
	if err != nil {
		return nil, err
	}
	roll, err := s.rolls.FindByID(ctx, s.db, rollID)
	if err != nil {
		return nil, err
	}
	if roll == nil {
		return nil, rolldomain.ErrNotFound
	}
	return roll, s.process(ctx, session, roll)
}

// process fetches the full-resolution photo, recognizes it and persists the reclassified ocr_* fields.
// Nothing is written unless recognition succeeded.
func (s *Service) process(ctx context.Context, session ocr.Session, roll *rolldomain.CountRoll) error {
	stored := firstNonEmpty(roll.PhotoOriginalPath, roll.PhotoPath)
	if stored == "" {
		return jobdomain.ErrNoPhoto
	}
	originalPath, err := s.store.OriginalPath(stored)
	if err != nil {
		return err
	}
	image, err := s.store.Get(ctx, originalPath)
	if err != nil {
		return err
	}

	input := image
	if s.config.Get().Rerun.Preprocess {
		if processed, err := imaging.Preprocess(image); err == nil {
			input = processed
		}
	}

	result, err := session.Recognize(ctx, input)
	if err != nil {
		return err
	}
	if result.Engine == "" {
		result.Engine = s.engine.Name()
	}

	update := rolldomain.NewOCRUpdate(result, s.clock.Now())
	rows, err := s.rolls.UpdateOCR(ctx, s.db, roll.ID, update)
	if err != nil {
		return err
	}
	if rows == 0 {
		return rolldomain.ErrNotFound
	}
	return nil
}

// RerunOCR reprocesses a single roll with the same fetch and persist rules as the batch.
func (s *Service) RerunOCR(ctx context.Context, rollID snowflake.ID, actorID string) (*rolldomain.CountRoll, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, jobdomain.ErrInvalidActor
	}
	if rollID <= 0 {
		return nil, rolldomain.ErrInvalidID
	}
	roll, err := s.rolls.FindByID(ctx, s.db, rollID)
	if err != nil {
		return nil, err
	}
	if roll == nil {
		return nil, rolldomain.ErrNotFound
	}
	parent, err := s.sessions.GetSession(ctx, roll.SessionID)
	if err != nil {
		return nil, err
	}
	if !parent.Status.AcceptsReview() {
		return nil, sessiondomain.ErrInvalidState
	}

	session, err := s.engine.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	itemCtx, cancel := context.WithTimeout(ctx, s.config.Get().Rerun.ItemTimeout)
	defer cancel()
	started := time.Now()
	err = s.process(itemCtx, session, roll)
	s.rerunMetrics.ObserveItem(time.Since(started), err)
	if err != nil {
		s.metrics.RecordOCRItem(ctx, s.engine.Name(), "failure")
		return nil, err
	}
	s.metrics.RecordOCRItem(ctx, s.engine.Name(), "success")

	updated, err := s.rolls.FindByID(ctx, s.db, rollID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auditdomain.Entry{
		SessionID:  &updated.SessionID,
		ActorType:  auditdomain.ActorTypeReviewer,
		ActorID:    actorID,
		Action:     "roll.ocr_rerun",
		TargetType: auditdomain.TargetTypeRoll,
		TargetID:   updated.ID.String(),
		Metadata:   map[string]any{"confidence_level": string(updated.ConfidenceLevel())},
	})
	return updated, nil
}

// CancelJob stops a queued job immediately and flags a running one to stop at the next roll boundary.
func (s *Service) CancelJob(ctx context.Context, jobID snowflake.ID, actorID string) (*jobdomain.Job, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, jobdomain.ErrInvalidActor
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	switch job.Status {
	case jobdomain.JobStatusCancelled:
		return job, nil
	case jobdomain.JobStatusCompleted, jobdomain.JobStatusFailed:
		return nil, jobdomain.ErrJobFinished
	case jobdomain.JobStatusQueued:
		rows, err := s.repo.Finish(ctx, s.db, jobID, []jobdomain.JobStatus{jobdomain.JobStatusQueued}, jobdomain.JobStatusCancelled, nil, now)
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			// claimed in the meantime; fall back to the cooperative flag
			if _, err := s.repo.RequestCancel(ctx, s.db, jobID, now); err != nil {
				return nil, err
			}
		}
	case jobdomain.JobStatusRunning:
		if _, err := s.repo.RequestCancel(ctx, s.db, jobID, now); err != nil {
			return nil, err
		}
	default:
		return nil, jobdomain.ErrJobFinished
	}

	s.audit.Record(ctx, auditdomain.Entry{
		SessionID:  &job.SessionID,
		ActorType:  auditdomain.ActorTypeReviewer,
		ActorID:    actorID,
		Action:     "ocr_rerun.cancel",
		TargetType: auditdomain.TargetTypeRerunJob,
		TargetID:   job.ID.String(),
		Metadata:   map[string]any{"current": job.Current, "total": job.Total},
	})
	return s.GetJob(ctx, jobID)
}

func (s *Service) GetJob(ctx context.Context, jobID snowflake.ID) (*jobdomain.Job, error) {
	if jobID <= 0 {
		return nil, jobdomain.ErrInvalidID
	}
	job, err := s.repo.FindByID(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, jobdomain.ErrNotFound
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, sessionID snowflake.ID) ([]jobdomain.Job, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	jobs, err := s.repo.ListBySession(ctx, s.db, sessionID, listJobsLimit)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []jobdomain.Job{}
	}
	return jobs, nil
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return *v
		}
	}
	return ""
}
